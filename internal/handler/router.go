package handler

import (
	"log/slog"
	"net/http"
	"net/netip"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/trackergate/internal/metrics"
	"github.com/hitoshi/trackergate/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector
	CORSAllowedOrigin string
	TrustedProxies    []netip.Prefix
	RateLimiter       *middleware.RateLimiter

	// チェックアウト・アカウント発行
	Service FulfillmentServiceInterface

	// 静的ページと/metrics
	Static         http.Handler
	MetricsHandler http.Handler
}

// ProxyRouterDeps はNewProxyRouterに必要な依存関係をまとめた構造体。
type ProxyRouterDeps struct {
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector
	CORSAllowedOrigin string
	TrustedProxies    []netip.Prefix

	Relay    RelayInterface
	ConfigJS http.Handler

	Static         http.Handler
	MetricsHandler http.Handler
}

// NewRouter は単一サービス構成のルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Logging → Metrics → Recovery → SecurityHeaders
//
// /api 以外のパスは静的ファイルとして配信する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()
	useCommonMiddleware(r, deps.Logger, deps.Metrics, deps.TrustedProxies)
	mountOperational(r, deps.Static, deps.MetricsHandler)

	h := NewCheckoutHandler(deps.Service, deps.Logger)

	r.Route("/api", func(r chi.Router) {
		if deps.CORSAllowedOrigin != "" {
			r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
		}

		r.Get("/create-checkout", h.CreateCheckout)
		r.Get("/verify-session", h.VerifySession)

		// POST /api/create-tracker-user - 外部API呼び出しとメール送信を伴うためレート制限を適用
		if deps.RateLimiter != nil {
			r.With(deps.RateLimiter.Middleware()).Post("/create-tracker-user", h.CreateTrackerUser)
		} else {
			r.Post("/create-tracker-user", h.CreateTrackerUser)
		}
	})

	return r
}

// NewProxyRouter はプロキシ構成のルーティングを構成したchi.Routerを返す。
// 支払い確認とアカウント発行は上流APIへ転送し、config.jsと静的ページを配信する。
func NewProxyRouter(deps *ProxyRouterDeps) http.Handler {
	r := chi.NewRouter()
	useCommonMiddleware(r, deps.Logger, deps.Metrics, deps.TrustedProxies)
	mountOperational(r, deps.Static, deps.MetricsHandler)

	h := NewProxyHandler(deps.Relay, deps.Metrics, deps.Logger)

	if deps.ConfigJS != nil {
		r.Method(http.MethodGet, "/config.js", deps.ConfigJS)
	}

	r.Route("/api", func(r chi.Router) {
		if deps.CORSAllowedOrigin != "" {
			r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
		}

		r.Get("/verify-session", h.VerifySession)
		r.Post("/create-tracker-user", h.CreateTrackerUser)
	})

	return r
}

// useCommonMiddleware は両構成に共通のミドルウェアを適用する。
// Metricsをrecoveryの外側に置き、panicによる500も記録する。
// クライアントIPヘッダーはtrustedProxiesからの接続でのみ反映する。
func useCommonMiddleware(r chi.Router, logger *slog.Logger, collector metrics.MetricsCollector, trustedProxies []netip.Prefix) {
	if collector == nil {
		collector = metrics.Nop{}
	}
	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewRealIPMiddleware(trustedProxies))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewMetricsMiddleware(collector))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
}

// mountOperational は/health、/metrics、静的ファイルのフォールバックを登録する。
// NotFoundは/api以下のサブルーターより先に設定し、サブルーターにも引き継がせる。
func mountOperational(r *chi.Mux, static, metricsHandler http.Handler) {
	if static != nil {
		r.NotFound(static.ServeHTTP)
	}

	r.Get("/health", Health)
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}
}
