package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/hitoshi/trackergate/internal/config"
	"github.com/hitoshi/trackergate/internal/email"
	"github.com/hitoshi/trackergate/internal/fulfillment"
	"github.com/hitoshi/trackergate/internal/handler"
	"github.com/hitoshi/trackergate/internal/logger"
	"github.com/hitoshi/trackergate/internal/metrics"
	"github.com/hitoshi/trackergate/internal/middleware"
	"github.com/hitoshi/trackergate/internal/payment"
	"github.com/hitoshi/trackergate/internal/relay"
	"github.com/hitoshi/trackergate/internal/tracing"
	"github.com/hitoshi/trackergate/internal/tracker"
)

// shutdownTimeout はグレースフルシャットダウンで処理中のリクエストを待つ最大時間。
const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップしてから環境変数（と.env）を読み込み、LOG_LEVELでログレベルを設定し直す。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再初期化
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	root := NewRootCommand(w)
	root.SetArgs(args)
	return root.Execute()
}

// runCommand は設定を読み込み、SIGINT/SIGTERMで終了するコンテキストでサーバーを起動する。
func runCommand(cmd *cobra.Command, w io.Writer, command Command) error {
	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(command)),
		slog.String("port", cfg.Port),
		slog.String("base_url", cfg.BaseURL()),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, "trackergate", cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		// ctxはシグナルで終了済みのため、独立したコンテキストでフラッシュする
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Warn("failed to flush traces", slog.String("error", err.Error()))
		}
	}()

	switch command {
	case CommandProxy:
		return runProxy(ctx, cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// runServe はチェックアウトAPIと静的ページを配信するサーバーを起動する。
func runServe(ctx context.Context, cfg *config.Config) error {
	reg := newRegistry()
	h, cleanup := buildServeHandler(cfg, reg, slog.Default())
	defer cleanup()

	return listenAndServe(ctx, ":"+cfg.Port, h)
}

// runProxy は上流APIへ転送するプロキシサーバーを起動する。
func runProxy(ctx context.Context, cfg *config.Config) error {
	reg := newRegistry()
	h := buildProxyHandler(cfg, reg, slog.Default())

	return listenAndServe(ctx, ":"+cfg.Port, h)
}

// newRegistry はGo/プロセスのメトリクスを含むレジストリを生成する。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// newHTTPClient は外部API呼び出し用のHTTPクライアントを生成する。
// リクエストのトレースコンテキストをtraceparentヘッダーで上流に伝播する。
// タイムアウトは各クライアントが呼び出しごとのコンテキストで設定する。
func newHTTPClient() *http.Client {
	return &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
}

// buildServeHandler は単一サービス構成の全依存関係をワイヤリングしてルーターを返す。
// 返すcleanupはレートリミッターのバックグラウンド処理を停止する。
func buildServeHandler(cfg *config.Config, reg *prometheus.Registry, log *slog.Logger) (http.Handler, func()) {
	collector := metrics.NewCollector(reg)
	httpClient := newHTTPClient()

	// 1. Stripe（秘密鍵がなければnilのまま。サービス側で設定エラーを返す）
	var gateway payment.Gateway
	if cfg.StripeSecretKey != "" {
		gateway = payment.NewStripeGateway(payment.StripeConfig{
			SecretKey:  cfg.StripeSecretKey,
			APIURL:     cfg.StripeAPIURL,
			Timeout:    cfg.StripeTimeout,
			HTTPClient: httpClient,
			Logger:     log,
		})
	} else {
		log.Warn("STRIPE_SECRET_KEY is not set; checkout and verification will fail")
	}

	// 2. Progress TrackerのアカウントAPI（未設定ならメール送信のみ）
	var accounts fulfillment.AccountCreator
	if cfg.TrackerEnabled() {
		accounts = tracker.NewClient(httpClient, log, cfg.TrackerAPIURL, cfg.TrackerAPISecret, cfg.TrackerTimeout)
	} else {
		log.Warn("TRACKER_API_URL or TRACKER_API_SECRET is not set; provisioning will only send credential emails")
	}

	// 3. メール送信
	provider := email.SelectProvider(cfg.EmailProvider, cfg.ResendAPIKey != "", cfg.SendGridAPIKey != "")
	mailer := email.NewSender(provider, httpClient, log, emailAPIKey(cfg, provider), cfg.EmailTimeout)
	if mailer == nil || cfg.EmailFrom == "" {
		log.Warn("email delivery is not configured; provisioning will return 503",
			slog.Bool("email_from_set", cfg.EmailFrom != ""),
			slog.String("provider", provider.String()),
		)
	}

	// 4. サービス
	svc := fulfillment.NewService(gateway, accounts, mailer, collector, log, fulfillment.Settings{
		PriceID:         cfg.StripePriceID,
		BaseURL:         cfg.BaseURL(),
		PublicBaseURL:   cfg.PublicBaseURL(),
		DownloadURL:     cfg.PDFDownloadURL,
		EmailFrom:       cfg.EmailFrom,
		TrackerLoginURL: cfg.TrackerLoginURL,
		TrackerAppURL:   cfg.TrackerAppURL,
	})

	// 5. ルーター
	limiter := middleware.NewRateLimiter(middleware.PerMinuteRateLimiterConfig(cfg.RateLimitProvision))

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            log,
		Metrics:           collector,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		TrustedProxies:    cfg.TrustedProxyPrefixes(),
		RateLimiter:       limiter,
		Service:           svc,
		Static:            handler.NewStaticServer(cfg.StaticDir),
		MetricsHandler:    metrics.Handler(reg),
	})

	return withTracing(router), limiter.Stop
}

// buildProxyHandler はプロキシ構成のルーターを返す。
func buildProxyHandler(cfg *config.Config, reg *prometheus.Registry, log *slog.Logger) http.Handler {
	collector := metrics.NewCollector(reg)

	if cfg.APIBaseURL == "" {
		log.Warn("API_BASE_URL is not set; relayed API calls will return 503")
	}

	router := handler.NewProxyRouter(&handler.ProxyRouterDeps{
		Logger:            log,
		Metrics:           collector,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		TrustedProxies:    cfg.TrustedProxyPrefixes(),
		Relay:             relay.NewClient(newHTTPClient(), log, cfg.APIBaseURL, cfg.ProxyTimeout),
		ConfigJS:          handler.NewConfigJSHandler(cfg.APIBaseURL, cfg.TrackerAppURL),
		Static:            handler.NewStaticServer(cfg.StaticDir),
		MetricsHandler:    metrics.Handler(reg),
	})

	return withTracing(router)
}

// withTracing は受信リクエストのtraceparentを引き継ぐサーバースパンでハンドラーを包む。
func withTracing(h http.Handler) http.Handler {
	return otelhttp.NewHandler(h, "trackergate",
		otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
			return operation + " " + r.Method
		}),
	)
}

// emailAPIKey は選択されたプロバイダーのAPIキーを返す。
func emailAPIKey(cfg *config.Config, p email.Provider) string {
	switch p {
	case email.ProviderResend:
		return cfg.ResendAPIKey
	case email.ProviderSendGrid:
		return cfg.SendGridAPIKey
	default:
		return ""
	}
}

// listenAndServe はaddrで待ち受けを開始し、ctxが終了するまでリクエストを処理する。
func listenAndServe(ctx context.Context, addr string, h http.Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return serve(ctx, ln, h)
}

// serve はlnでHTTPサーバーを起動する。
// ctxが終了するとグレースフルシャットダウンを行い、処理中のリクエストの完了を待つ。
func serve(ctx context.Context, ln net.Listener, h http.Handler) error {
	// アカウント発行は最大3回の外部呼び出しを順に行うため、WriteTimeoutは上流タイムアウトの合計より長くする
	server := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server starting", slog.String("addr", ln.Addr().String()))
		errCh <- server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("HTTP server stopped gracefully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	return checkHealth(fmt.Sprintf("http://localhost:%s/health", port))
}

func checkHealth(url string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}
