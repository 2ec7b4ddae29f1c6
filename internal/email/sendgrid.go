package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"time"
)

const (
	// sendGridEndpoint はSendGrid v3 Mail Send APIのエンドポイント。
	sendGridEndpoint = "https://api.sendgrid.com/v3/mail/send"
	// SenderName はSendGridで送信する際の差出人表示名。
	SenderName = "The Bodyweight Gym"
)

// SendGridSender はSendGrid v3 Mail Send APIでメールを送信する。
type SendGridSender struct {
	httpClient *http.Client
	logger     *slog.Logger
	apiKey     string
	timeout    time.Duration
	endpoint   string // テスト用にエンドポイントを差し替え可能
}

// NewSendGridSender はSendGridSenderを生成する。
func NewSendGridSender(httpClient *http.Client, logger *slog.Logger, apiKey string, timeout time.Duration) *SendGridSender {
	return &SendGridSender{
		httpClient: httpClient,
		logger:     logger,
		apiKey:     apiKey,
		timeout:    timeout,
		endpoint:   sendGridEndpoint,
	}
}

type sendGridAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendGridPersonalization struct {
	To []sendGridAddress `json:"to"`
}

type sendGridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendGridRequest struct {
	Personalizations []sendGridPersonalization `json:"personalizations"`
	From             sendGridAddress           `json:"from"`
	Subject          string                    `json:"subject"`
	Content          []sendGridContent         `json:"content"`
}

// Provider はProviderSendGridを返す。
func (s *SendGridSender) Provider() Provider {
	return ProviderSendGrid
}

// Send はSendGrid APIでメールを送信する。
// SendGridはtext/plainをtext/htmlより先に置く必要がある。
// 2xx以外の応答ではMessageが空の*ProviderErrorを返す。
func (s *SendGridSender) Send(ctx context.Context, msg Message) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	body, err := json.Marshal(sendGridRequest{
		Personalizations: []sendGridPersonalization{
			{To: []sendGridAddress{{Email: msg.To}}},
		},
		From:    sendGridAddress{Email: FromAddress(msg.From), Name: SenderName},
		Subject: msg.Subject,
		Content: []sendGridContent{
			{Type: "text/plain", Value: msg.Text},
			{Type: "text/html", Value: msg.HTML},
		},
	})
	if err != nil {
		return fmt.Errorf("SendGridリクエストのエンコードに失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("SendGrid APIの呼び出しに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.logger.Error("SendGrid APIがエラーを返しました",
			slog.Int("http_status", resp.StatusCode),
			slog.String("body", string(respBody)),
		)
		return &ProviderError{
			Provider:   ProviderSendGrid,
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
		}
	}

	s.logger.Info("SendGridでメールを送信しました",
		slog.String("message_id", resp.Header.Get("X-Message-Id")),
	)

	return nil
}

// FromAddress は"Name <addr>"形式の差出人からアドレス部分を取り出す。
// 解析できない場合は前後の空白を除いた値をそのまま返す。
func FromAddress(from string) string {
	from = strings.TrimSpace(from)
	if addr, err := mail.ParseAddress(from); err == nil {
		return addr.Address
	}
	if start := strings.LastIndex(from, "<"); start >= 0 {
		if end := strings.Index(from[start:], ">"); end > 1 {
			if addr := strings.TrimSpace(from[start+1 : start+end]); addr != "" {
				return addr
			}
		}
	}
	return from
}
