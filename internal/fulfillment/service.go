// Package fulfillment はチェックアウト開始、支払い確認、Trackerアカウント発行のサービスロジックを提供する。
// 返すエラーはすべて*model.APIErrorで、HTTPステータスへの変換はハンドラー境界で行う。
package fulfillment

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/trackergate/internal/email"
	"github.com/hitoshi/trackergate/internal/metrics"
	"github.com/hitoshi/trackergate/internal/model"
	"github.com/hitoshi/trackergate/internal/payment"
	"github.com/hitoshi/trackergate/internal/tracker"
)

// AccountCreator はTrackerアカウントを作成する。
type AccountCreator interface {
	CreateUser(ctx context.Context, req tracker.CreateUserRequest) (*tracker.CreateUserResult, error)
}

// Settings はサービスが参照する設定値。
type Settings struct {
	// PriceID はチェックアウトの商品価格ID。
	PriceID string
	// BaseURL はチェックアウトの成功・キャンセルURLに使うサイトのベースURL（末尾の/なし）。
	BaseURL string
	// PublicBaseURL は明示的に設定されたサイトの公開URL。ログインリンクの最後のフォールバック。
	PublicBaseURL string
	// DownloadURL は支払い確認後に返すPDFのダウンロードURL。
	DownloadURL string
	// EmailFrom は認証情報メールの差出人。
	EmailFrom string
	// TrackerLoginURL、TrackerAppURL はログインリンクの組み立てに使う。
	TrackerLoginURL string
	TrackerAppURL   string
}

// ProvisionRequest はアカウント発行リクエスト。
type ProvisionRequest struct {
	SessionID string `json:"sessionId"`
	Name      string `json:"name"`
	Email     string `json:"email"`
}

// Verification は支払い確認の結果。
type Verification struct {
	// Email はセッションに記録された購入者のメールアドレス。記録がなければnil。
	Email       *string `json:"email"`
	DownloadURL string  `json:"downloadUrl"`
}

// Service はチェックアウトからアカウント発行までを扱う。
// リクエスト間で共有する可変状態は持たない。
type Service struct {
	payments payment.Gateway
	accounts AccountCreator
	mailer   email.Sender
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
	settings Settings

	newPassword       func() (string, error)
	newIdempotencyKey func() string
}

// NewService はServiceを生成する。
// paymentsがnilの場合はStripe未設定、accountsがnilの場合はアカウント作成APIなし（メール送信のみ）、
// mailerがnilの場合はメール送信未設定として扱う。
func NewService(
	payments payment.Gateway,
	accounts AccountCreator,
	mailer email.Sender,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	settings Settings,
) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if settings.DownloadURL == "" {
		settings.DownloadURL = "/muscleup.pdf"
	}
	return &Service{
		payments:          payments,
		accounts:          accounts,
		mailer:            mailer,
		metrics:           collector,
		logger:            logger,
		settings:          settings,
		newPassword:       GenerateTemporaryPassword,
		newIdempotencyKey: uuid.NewString,
	}
}

// CreateCheckout はチェックアウトセッションを作成し、リダイレクト先のURLを返す。
func (s *Service) CreateCheckout(ctx context.Context) (string, error) {
	if s.payments == nil || s.settings.PriceID == "" {
		s.logger.Error("STRIPE_SECRET_KEYまたはSTRIPE_PRICE_IDが未設定です")
		s.metrics.RecordCheckout("not_configured")
		return "", model.NewCheckoutNotConfiguredError()
	}

	start := time.Now()
	session, err := s.payments.CreateCheckoutSession(ctx, payment.CheckoutParams{
		PriceID:        s.settings.PriceID,
		SuccessURL:     s.settings.BaseURL + "/thank-you.html?session_id=" + payment.CheckoutSessionIDPlaceholder,
		CancelURL:      s.settings.BaseURL + "/index.html#pricing",
		IdempotencyKey: s.newIdempotencyKey(),
	})
	s.metrics.RecordUpstreamLatency(metrics.UpstreamStripe, time.Since(start))
	if err != nil {
		s.logger.Error("チェックアウトセッションの作成に失敗しました", payment.ErrorAttrs(err)...)
		s.metrics.RecordCheckout("failed")
		return "", model.NewCheckoutFailedError().WithCause(err)
	}

	s.metrics.RecordCheckout("created")
	return session.URL, nil
}

// VerifySession はチェックアウトセッションの支払い完了を確認する。
func (s *Service) VerifySession(ctx context.Context, sessionID string) (*Verification, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		s.metrics.RecordVerification("missing_id")
		return nil, model.NewMissingSessionIDError()
	}
	if s.payments == nil {
		s.logger.Error("STRIPE_SECRET_KEYが未設定です")
		s.metrics.RecordVerification("not_configured")
		return nil, model.NewConfigurationError()
	}

	start := time.Now()
	session, err := s.payments.GetSession(ctx, sessionID)
	s.metrics.RecordUpstreamLatency(metrics.UpstreamStripe, time.Since(start))
	if err != nil {
		if errors.Is(err, payment.ErrSessionNotFound) {
			s.logger.Warn("チェックアウトセッションが見つかりません", payment.ErrorAttrs(err)...)
			s.metrics.RecordVerification("not_found")
			return nil, model.NewSessionNotFoundError().WithCause(err)
		}
		s.logger.Error("チェックアウトセッションの取得に失敗しました", payment.ErrorAttrs(err)...)
		s.metrics.RecordVerification("failed")
		return nil, model.NewVerifyFailedError().WithCause(err)
	}

	if !session.Paid() {
		s.metrics.RecordVerification("unpaid")
		return nil, model.NewPaymentIncompleteError()
	}

	v := &Verification{DownloadURL: s.settings.DownloadURL}
	if session.Email != "" {
		addr := session.Email
		v.Email = &addr
	}

	s.metrics.RecordVerification("paid")
	return v, nil
}

// Provision は支払いを再確認し、Trackerアカウントを作成して認証情報メールを送信する。
// 前提条件は入力、Stripe設定、メール設定、セッション、メールアドレス一致の順に判定する。
func (s *Service) Provision(ctx context.Context, req ProvisionRequest) error {
	sessionID := strings.TrimSpace(req.SessionID)
	name := strings.TrimSpace(req.Name)
	addr := strings.TrimSpace(req.Email)
	if sessionID == "" || name == "" || addr == "" {
		s.metrics.RecordProvisioning("invalid_request")
		return model.NewMissingFieldsError()
	}

	if s.payments == nil {
		s.logger.Error("STRIPE_SECRET_KEYが未設定です")
		s.metrics.RecordProvisioning("not_configured")
		return model.NewConfigurationError()
	}
	if s.mailer == nil || s.settings.EmailFrom == "" {
		s.logger.Error("メール送信が設定されていません",
			slog.Bool("email_from_set", s.settings.EmailFrom != ""),
			slog.Bool("provider_set", s.mailer != nil),
		)
		s.metrics.RecordProvisioning("email_not_configured")
		return model.NewEmailNotConfiguredError()
	}

	start := time.Now()
	session, err := s.payments.GetSession(ctx, sessionID)
	s.metrics.RecordUpstreamLatency(metrics.UpstreamStripe, time.Since(start))
	if err != nil {
		s.logger.Error("チェックアウトセッションの確認に失敗しました", payment.ErrorAttrs(err)...)
		s.metrics.RecordProvisioning("invalid_session")
		return model.NewInvalidSessionError().WithCause(err)
	}
	if !session.Paid() {
		s.metrics.RecordProvisioning("payment_incomplete")
		return model.NewPaymentIncompleteError()
	}
	if session.Email != "" && !strings.EqualFold(session.Email, addr) {
		s.metrics.RecordProvisioning("email_mismatch")
		return model.NewEmailMismatchError()
	}

	password, err := s.newPassword()
	if err != nil {
		s.logger.Error("仮パスワードの生成に失敗しました", slog.String("error", err.Error()))
		s.metrics.RecordProvisioning("internal_error")
		return model.NewInternalError().WithCause(err)
	}

	token, apiErr := s.createAccount(ctx, name, addr, password)
	if apiErr != nil {
		s.metrics.RecordProvisioning("tracker_failed")
		return apiErr
	}

	if apiErr := s.sendCredentials(ctx, name, addr, password, s.loginLink(token)); apiErr != nil {
		s.metrics.RecordProvisioning("email_failed")
		return apiErr
	}

	s.logger.Info("Trackerアカウントを発行しました",
		slog.String("session_id", sessionID),
		slog.String("provider", s.mailer.Provider().String()),
		slog.Bool("set_password_token", token != ""),
	)
	s.metrics.RecordProvisioning("provisioned")
	return nil
}

// createAccount はアカウント作成APIを呼び出し、パスワード設定トークン（なければ空文字列）を返す。
// アカウント作成APIが未設定の場合は何もせず空文字列を返す。
func (s *Service) createAccount(ctx context.Context, name, addr, password string) (string, *model.APIError) {
	if s.accounts == nil {
		s.logger.Warn("アカウント作成APIが未設定のため、認証情報メールのみ送信します")
		return "", nil
	}

	start := time.Now()
	res, err := s.accounts.CreateUser(ctx, tracker.CreateUserRequest{
		Email:               strings.ToLower(addr),
		Name:                name,
		TemporaryPassword:   password,
		ForcePasswordChange: true,
	})
	s.metrics.RecordUpstreamLatency(metrics.UpstreamTracker, time.Since(start))
	if err != nil {
		var statusErr *tracker.StatusError
		if errors.As(err, &statusErr) {
			return "", model.NewTrackerRejectedError().WithCause(err)
		}
		return "", model.NewTrackerUnreachableError().WithCause(err)
	}

	return res.SetPasswordToken, nil
}

// sendCredentials は認証情報メールを組み立てて送信する。
func (s *Service) sendCredentials(ctx context.Context, name, addr, password, loginLink string) *model.APIError {
	html, text, err := email.RenderCredentialEmail(email.CredentialEmailData{
		Name:              name,
		Email:             addr,
		TemporaryPassword: password,
		LoginURL:          loginLink,
	})
	if err != nil {
		s.logger.Error("認証情報メールの生成に失敗しました", slog.String("error", err.Error()))
		return model.NewInternalError().WithCause(err)
	}

	provider := s.mailer.Provider().String()
	start := time.Now()
	err = s.mailer.Send(ctx, email.Message{
		From:    s.settings.EmailFrom,
		To:      addr,
		Subject: email.CredentialEmailSubject,
		HTML:    html,
		Text:    text,
	})
	s.metrics.RecordUpstreamLatency(metrics.UpstreamEmail, time.Since(start))
	if err != nil {
		s.metrics.RecordEmail(provider, "failed")
		var providerErr *email.ProviderError
		if errors.As(err, &providerErr) {
			return model.NewEmailFailedError(providerErr.Message).WithCause(err)
		}
		s.logger.Error("メール送信に失敗しました",
			slog.String("provider", provider),
			slog.String("error", err.Error()),
		)
		return model.NewEmailUnreachableError().WithCause(err)
	}

	s.metrics.RecordEmail(provider, "sent")
	return nil
}

// loginLink は認証情報メールに載せるログインリンクを決める。
// トークンがありTrackerのURLが設定されていれば、そのオリジンの/set-passwordへのリンクを返す。
// それ以外はTRACKER_LOGIN_URL、TRACKER_APP_URL、サイトの公開URLの順に使い、すべて未設定なら空文字列を返す。
func (s *Service) loginLink(token string) string {
	if token != "" {
		if origin := originOf(s.trackerBaseURL()); origin != "" {
			return origin + "/set-password?token=" + url.QueryEscape(token)
		}
	}
	if base := s.trackerBaseURL(); base != "" {
		return base
	}
	return s.settings.PublicBaseURL
}

func (s *Service) trackerBaseURL() string {
	if s.settings.TrackerLoginURL != "" {
		return s.settings.TrackerLoginURL
	}
	return s.settings.TrackerAppURL
}

func originOf(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
