package email

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// maxResponseSize はプロバイダーのレスポンスとして読み取る最大バイト数。
const maxResponseSize = 4096

// Sender はトランザクションメールを送信する。
type Sender interface {
	Provider() Provider
	Send(ctx context.Context, msg Message) error
}

// Message は送信するメール。
type Message struct {
	From    string
	To      string
	Subject string
	HTML    string
	Text    string
}

// ProviderError はプロバイダーが2xx以外のステータスを返した場合のエラー。
// Messageは利用者に返してよいプロバイダー由来のメッセージで、空の場合は汎用メッセージを使う。
type ProviderError struct {
	Provider   Provider
	StatusCode int
	Message    string
	Body       string
}

// Error はerrorインターフェースを実装する。
func (e *ProviderError) Error() string {
	return fmt.Sprintf("%sがステータス%dを返しました: %s", e.Provider, e.StatusCode, e.Body)
}

// NewSender は指定したプロバイダーのSenderを生成する。
// ProviderNoneまたは未知のプロバイダーの場合はnilを返す。
func NewSender(p Provider, httpClient *http.Client, logger *slog.Logger, apiKey string, timeout time.Duration) Sender {
	switch p {
	case ProviderResend:
		return NewResendSender(httpClient, logger, apiKey, timeout)
	case ProviderSendGrid:
		return NewSendGridSender(httpClient, logger, apiKey, timeout)
	default:
		return nil
	}
}

// withTimeout はtimeoutが正の場合にのみ期限付きのコンテキストを返す。
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
