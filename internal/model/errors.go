// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"net/http"
)

// Kind はハンドラー境界で扱うエラーの分類を表す。
// HTTPステータスコードへの変換はStatusCodeの1箇所でのみ行う。
type Kind int

const (
	// KindInternal は必須設定の欠如や下流呼び出しの予期しない失敗を表す。
	KindInternal Kind = iota
	// KindBadRequest は呼び出し元の入力不足・不正を表す。
	KindBadRequest
	// KindForbidden は支払い未完了を表す。
	KindForbidden
	// KindNotFound は不明または期限切れのチェックアウトセッションを表す。
	KindNotFound
	// KindServiceUnavailable は設定不足により意図的に無効化された機能を表す。
	KindServiceUnavailable
	// KindBadGateway はプロキシ構成で上流に到達できないことを表す。
	KindBadGateway
	// KindTooManyRequests はクライアントごとのレート制限超過を表す。
	KindTooManyRequests
)

// StatusCode はKindに対応するHTTPステータスコードを返す。
func (k Kind) StatusCode() int {
	switch k {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindServiceUnavailable:
		return http.StatusServiceUnavailable
	case KindBadGateway:
		return http.StatusBadGateway
	case KindTooManyRequests:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// APIError は統一エラーフォーマットを表す。
// Messageはそのまま利用者に返すため、内部の詳細を含めてはならない。
// 原因となった内部エラーはErrに保持し、ログにのみ出力する。
type APIError struct {
	Kind     Kind
	Code     string // エラーコード
	Message  string // 利用者向けメッセージ
	Category string // カテゴリ: validation, payment, email, tracker, system
	Action   string // 利用者向け対処方法
	Err      error
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因となったエラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// StatusCode はHTTPステータスコードを返す。
func (e *APIError) StatusCode() int {
	return e.Kind.StatusCode()
}

// WithCause は原因エラーを付与したコピーを返す。
func (e *APIError) WithCause(err error) *APIError {
	c := *e
	c.Err = err
	return &c
}

// 定義済みエラーコード
const (
	ErrCodeInvalidRequest        = "INVALID_REQUEST"
	ErrCodeMissingFields         = "MISSING_FIELDS"
	ErrCodeMissingSessionID      = "MISSING_SESSION_ID"
	ErrCodeConfiguration         = "CONFIGURATION_ERROR"
	ErrCodeCheckoutNotConfigured = "CHECKOUT_NOT_CONFIGURED"
	ErrCodeCheckoutFailed        = "CHECKOUT_FAILED"
	ErrCodeEmailNotConfigured    = "EMAIL_NOT_CONFIGURED"
	ErrCodeInvalidSession        = "INVALID_SESSION"
	ErrCodeSessionNotFound       = "SESSION_NOT_FOUND"
	ErrCodePaymentIncomplete     = "PAYMENT_INCOMPLETE"
	ErrCodeEmailMismatch         = "EMAIL_MISMATCH"
	ErrCodeVerifyFailed          = "VERIFY_FAILED"
	ErrCodeTrackerFailed         = "TRACKER_FAILED"
	ErrCodeEmailFailed           = "EMAIL_FAILED"
	ErrCodeUpstreamUnavailable   = "UPSTREAM_UNAVAILABLE"
	ErrCodeProxyNotConfigured    = "PROXY_NOT_CONFIGURED"
	ErrCodeRateLimitExceeded     = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal              = "INTERNAL_ERROR"
)

const supportAction = "Please contact support with your email address."

// NewInvalidRequestError はリクエストボディの解析失敗エラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Kind:     KindBadRequest,
		Code:     ErrCodeInvalidRequest,
		Message:  "Invalid request body",
		Category: "validation",
		Action:   "Send a JSON body with sessionId, name, and email.",
	}
}

// NewMissingFieldsError は必須フィールド欠落エラーを生成する。
func NewMissingFieldsError() *APIError {
	return &APIError{
		Kind:     KindBadRequest,
		Code:     ErrCodeMissingFields,
		Message:  "Missing sessionId, name, or email",
		Category: "validation",
		Action:   "Fill in your name and email and try again.",
	}
}

// NewMissingSessionIDError はsession_id欠落エラーを生成する。
func NewMissingSessionIDError() *APIError {
	return &APIError{
		Kind:     KindBadRequest,
		Code:     ErrCodeMissingSessionID,
		Message:  "Missing session_id",
		Category: "validation",
		Action:   "Open the link from your payment confirmation again.",
	}
}

// NewConfigurationError は必須の秘密情報が未設定であることを示すエラーを生成する。
func NewConfigurationError() *APIError {
	return &APIError{
		Kind:     KindInternal,
		Code:     ErrCodeConfiguration,
		Message:  "Server configuration error",
		Category: "system",
		Action:   supportAction,
	}
}

// NewCheckoutNotConfiguredError はチェックアウト設定の不足エラーを生成する。
func NewCheckoutNotConfiguredError() *APIError {
	return &APIError{
		Kind:     KindInternal,
		Code:     ErrCodeCheckoutNotConfigured,
		Message:  "Checkout is not configured. Please try again later.",
		Category: "system",
		Action:   "Please try again later.",
	}
}

// NewCheckoutFailedError はチェックアウトセッション作成失敗エラーを生成する。
func NewCheckoutFailedError() *APIError {
	return &APIError{
		Kind:     KindInternal,
		Code:     ErrCodeCheckoutFailed,
		Message:  "Could not start checkout. Please try again.",
		Category: "payment",
		Action:   "Please try again.",
	}
}

// NewEmailNotConfiguredError はメール送信が設定されていない場合のエラーを生成する。
func NewEmailNotConfiguredError() *APIError {
	return &APIError{
		Kind:     KindServiceUnavailable,
		Code:     ErrCodeEmailNotConfigured,
		Message:  "Login emails are not set up yet. Please contact support with your email and we'll send your Progress Tracker login details.",
		Category: "email",
		Action:   supportAction,
	}
}

// NewInvalidSessionError はセッション取得失敗エラーを生成する。
func NewInvalidSessionError() *APIError {
	return &APIError{
		Kind:     KindBadRequest,
		Code:     ErrCodeInvalidSession,
		Message:  "Invalid session",
		Category: "payment",
		Action:   "Open the link from your payment confirmation again.",
	}
}

// NewSessionNotFoundError は不明または期限切れのセッションエラーを生成する。
func NewSessionNotFoundError() *APIError {
	return &APIError{
		Kind:     KindNotFound,
		Code:     ErrCodeSessionNotFound,
		Message:  "Invalid or expired session",
		Category: "payment",
		Action:   "Open the link from your payment confirmation again.",
	}
}

// NewPaymentIncompleteError は支払い未完了エラーを生成する。
func NewPaymentIncompleteError() *APIError {
	return &APIError{
		Kind:     KindForbidden,
		Code:     ErrCodePaymentIncomplete,
		Message:  "Payment not completed",
		Category: "payment",
		Action:   "Complete the payment before continuing.",
	}
}

// NewEmailMismatchError は入力メールアドレスと決済時のメールアドレスの不一致エラーを生成する。
func NewEmailMismatchError() *APIError {
	return &APIError{
		Kind:     KindBadRequest,
		Code:     ErrCodeEmailMismatch,
		Message:  "Email does not match payment",
		Category: "validation",
		Action:   "Use the email address you paid with.",
	}
}

// NewVerifyFailedError はセッション検証の予期しない失敗エラーを生成する。
func NewVerifyFailedError() *APIError {
	return &APIError{
		Kind:     KindInternal,
		Code:     ErrCodeVerifyFailed,
		Message:  "Could not verify payment",
		Category: "payment",
		Action:   "Please try again in a moment.",
	}
}

// NewTrackerRejectedError はアカウント作成APIがエラーを返した場合のエラーを生成する。
func NewTrackerRejectedError() *APIError {
	return &APIError{
		Kind:     KindInternal,
		Code:     ErrCodeTrackerFailed,
		Message:  "Could not create tracker account. Please contact support.",
		Category: "tracker",
		Action:   supportAction,
	}
}

// NewTrackerUnreachableError はアカウント作成APIへの通信失敗エラーを生成する。
func NewTrackerUnreachableError() *APIError {
	return &APIError{
		Kind:     KindInternal,
		Code:     ErrCodeTrackerFailed,
		Message:  "Could not create tracker account. Please try again or contact support.",
		Category: "tracker",
		Action:   supportAction,
	}
}

// NewEmailFailedError はメール送信失敗エラーを生成する。
// messageが空の場合は汎用メッセージを使用する。
func NewEmailFailedError(message string) *APIError {
	if message == "" {
		message = "Failed to send email. Please contact support."
	}
	return &APIError{
		Kind:     KindInternal,
		Code:     ErrCodeEmailFailed,
		Message:  message,
		Category: "email",
		Action:   supportAction,
	}
}

// NewEmailUnreachableError はメールプロバイダーへの通信失敗エラーを生成する。
func NewEmailUnreachableError() *APIError {
	return &APIError{
		Kind:     KindInternal,
		Code:     ErrCodeEmailFailed,
		Message:  "Failed to send email. Please try again or contact support.",
		Category: "email",
		Action:   supportAction,
	}
}

// NewUpstreamUnavailableError はプロキシ先APIへの通信失敗エラーを生成する。
func NewUpstreamUnavailableError() *APIError {
	return &APIError{
		Kind:     KindBadGateway,
		Code:     ErrCodeUpstreamUnavailable,
		Message:  "Could not reach the fulfillment service. Please try again.",
		Category: "system",
		Action:   "Please try again in a moment.",
	}
}

// NewProxyNotConfiguredError はプロキシ先APIが未設定の場合のエラーを生成する。
func NewProxyNotConfiguredError() *APIError {
	return &APIError{
		Kind:     KindServiceUnavailable,
		Code:     ErrCodeProxyNotConfigured,
		Message:  "The fulfillment service is not configured. Please contact support.",
		Category: "system",
		Action:   supportAction,
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Kind:     KindTooManyRequests,
		Code:     ErrCodeRateLimitExceeded,
		Message:  "Too many requests. Please try again later.",
		Category: "system",
		Action:   "Please wait a minute and try again.",
	}
}

// NewInternalError は分類不能な内部エラーを生成する。
func NewInternalError() *APIError {
	return &APIError{
		Kind:     KindInternal,
		Code:     ErrCodeInternal,
		Message:  "Internal server error",
		Category: "system",
		Action:   "Please try again in a moment.",
	}
}
