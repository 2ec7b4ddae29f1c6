// Package payment はStripe Checkoutとの連携を提供する。
// チェックアウトセッションの作成と取得のみを扱い、決済処理そのものはStripeに委ねる。
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	stripesession "github.com/stripe/stripe-go/v82/checkout/session"
)

// CheckoutSessionIDPlaceholder はStripeが成功URL内で実際のセッションIDに置換するプレースホルダー。
const CheckoutSessionIDPlaceholder = "{CHECKOUT_SESSION_ID}"

// ErrSessionNotFound は指定したチェックアウトセッションが存在しない（または期限切れの）場合のエラー。
var ErrSessionNotFound = errors.New("checkout session not found")

// Session はチェックアウトセッションのうち、このサービスが参照する項目。
type Session struct {
	ID            string
	URL           string
	PaymentStatus string
	// Email は購入者のメールアドレス。customer_details.email、なければcustomer_emailを使う。
	Email string
}

// Paid は支払いが完了しているかを返す。
func (s *Session) Paid() bool {
	return s.PaymentStatus == string(stripe.CheckoutSessionPaymentStatusPaid)
}

// CheckoutParams はチェックアウトセッション作成の入力。
type CheckoutParams struct {
	PriceID        string
	SuccessURL     string
	CancelURL      string
	IdempotencyKey string
}

// Gateway はチェックアウトセッションの作成と取得を行う。
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*Session, error)
	GetSession(ctx context.Context, sessionID string) (*Session, error)
}

// StripeConfig はStripeGatewayの設定。
type StripeConfig struct {
	SecretKey string
	// APIURL はStripe APIのベースURL。空の場合はStripeのデフォルトを使う。
	APIURL     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// StripeGateway はstripe-goを使ったGatewayの実装。
// APIキーはグローバルなstripe.Keyではなくクライアントごとに保持する。
type StripeGateway struct {
	sessions *stripesession.Client
	timeout  time.Duration
}

// NewStripeGateway はStripeGatewayを生成する。
// 自動リトライは無効化する（失敗はハンドラー境界でそのまま利用者に返す）。
func NewStripeGateway(cfg StripeConfig) *StripeGateway {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	backendCfg := &stripe.BackendConfig{
		HTTPClient:        cfg.HTTPClient,
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &slogLeveledLogger{logger: logger},
	}
	if cfg.APIURL != "" {
		backendCfg.URL = stripe.String(strings.TrimRight(cfg.APIURL, "/"))
	}

	return &StripeGateway{
		sessions: &stripesession.Client{
			B:   stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
			Key: cfg.SecretKey,
		},
		timeout: cfg.Timeout,
	}
}

// CreateCheckoutSession は単一商品・数量1・プロモーションコード有効の支払いモードセッションを作成する。
func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*Session, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(p.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:          stripe.String(p.SuccessURL),
		CancelURL:           stripe.String(p.CancelURL),
		AllowPromotionCodes: stripe.Bool(true),
	}
	params.Context = ctx
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}

	s, err := g.sessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("チェックアウトセッションの作成に失敗しました: %w", err)
	}
	if s == nil || s.URL == "" {
		return nil, errors.New("チェックアウトセッションにURLが含まれていません")
	}

	return toSession(s), nil
}

// GetSession はcustomer_detailsを展開してチェックアウトセッションを取得する。
// Stripeがresource_missingを返した場合はErrSessionNotFoundでラップしたエラーを返す。
func (g *StripeGateway) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("customer_details")

	s, err := g.sessions.Get(sessionID, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeResourceMissing {
			return nil, fmt.Errorf("%w: %w", ErrSessionNotFound, err)
		}
		return nil, fmt.Errorf("チェックアウトセッションの取得に失敗しました: %w", err)
	}

	return toSession(s), nil
}

func (g *StripeGateway) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}

func toSession(s *stripe.CheckoutSession) *Session {
	email := s.CustomerEmail
	if s.CustomerDetails != nil && s.CustomerDetails.Email != "" {
		email = s.CustomerDetails.Email
	}
	return &Session{
		ID:            s.ID,
		URL:           s.URL,
		PaymentStatus: string(s.PaymentStatus),
		Email:         email,
	}
}

// ErrorAttrs はStripeのエラーから診断用のログ属性を取り出す。
// Stripeのエラーでない場合はerrorのみを返す。
func ErrorAttrs(err error) []any {
	attrs := []any{slog.String("error", err.Error())}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		attrs = append(attrs,
			slog.String("stripe_code", string(stripeErr.Code)),
			slog.String("stripe_type", string(stripeErr.Type)),
			slog.Int("stripe_status", stripeErr.HTTPStatusCode),
			slog.String("stripe_request_id", stripeErr.RequestID),
		)
	}
	return attrs
}

// slogLeveledLogger はstripe-goのLeveledLoggerInterfaceをslogに橋渡しする。
type slogLeveledLogger struct {
	logger *slog.Logger
}

func (l *slogLeveledLogger) Debugf(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, v...), slog.String("component", "stripe"))
}

func (l *slogLeveledLogger) Infof(format string, v ...interface{}) {
	// stripe-goのInfoはリクエストごとに出るため、Debugに落とす
	l.logger.Debug(fmt.Sprintf(format, v...), slog.String("component", "stripe"))
}

func (l *slogLeveledLogger) Warnf(format string, v ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, v...), slog.String("component", "stripe"))
}

func (l *slogLeveledLogger) Errorf(format string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, v...), slog.String("component", "stripe"))
}
