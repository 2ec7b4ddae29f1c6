package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	// resendEndpoint はResendのメール送信APIのエンドポイント。
	resendEndpoint = "https://api.resend.com/emails"
	// resendFallbackMessage はResendのエラー応答からメッセージを取り出せない場合のメッセージ。
	resendFallbackMessage = "Failed to send email."
)

// ResendSender はResend HTTP APIでメールを送信する。
type ResendSender struct {
	httpClient *http.Client
	logger     *slog.Logger
	apiKey     string
	timeout    time.Duration
	endpoint   string // テスト用にエンドポイントを差し替え可能
}

// NewResendSender はResendSenderを生成する。
func NewResendSender(httpClient *http.Client, logger *slog.Logger, apiKey string, timeout time.Duration) *ResendSender {
	return &ResendSender{
		httpClient: httpClient,
		logger:     logger,
		apiKey:     apiKey,
		timeout:    timeout,
		endpoint:   resendEndpoint,
	}
}

type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
	Text    string   `json:"text"`
}

// Provider はProviderResendを返す。
func (s *ResendSender) Provider() Provider {
	return ProviderResend
}

// Send はResend APIでメールを送信する。
// 2xx以外の応答ではプロバイダーのメッセージを持つ*ProviderErrorを返す。
func (s *ResendSender) Send(ctx context.Context, msg Message) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	body, err := json.Marshal(resendRequest{
		From:    msg.From,
		To:      []string{msg.To},
		Subject: msg.Subject,
		HTML:    msg.HTML,
		Text:    msg.Text,
	})
	if err != nil {
		return fmt.Errorf("Resendリクエストのエンコードに失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("Resend APIの呼び出しに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.logger.Error("Resend APIがエラーを返しました",
			slog.Int("http_status", resp.StatusCode),
			slog.String("body", string(respBody)),
		)
		return &ProviderError{
			Provider:   ProviderResend,
			StatusCode: resp.StatusCode,
			Message:    resendErrorMessage(respBody),
			Body:       string(respBody),
		}
	}

	var sent struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(respBody, &sent)
	s.logger.Info("Resendでメールを送信しました", slog.String("message_id", sent.ID))

	return nil
}

// resendErrorMessage はResendのエラー応答から利用者向けメッセージを取り出す。
// message（文字列または配列の先頭）、error、errors[0].messageの順に参照する。
func resendErrorMessage(body []byte) string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return resendFallbackMessage
	}

	if msg := firstString(fields["message"]); msg != "" {
		return msg
	}
	if msg := firstString(fields["error"]); msg != "" {
		return msg
	}

	var errs []struct {
		Message string `json:"message"`
	}
	if raw, ok := fields["errors"]; ok && json.Unmarshal(raw, &errs) == nil && len(errs) > 0 && errs[0].Message != "" {
		return errs[0].Message
	}

	return resendFallbackMessage
}

// firstString はJSON値が文字列ならその値を、文字列の配列なら先頭要素を返す。
// errorがオブジェクトの場合に備えてmessageフィールドも参照する。
func firstString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}

	var list []string
	if json.Unmarshal(raw, &list) == nil && len(list) > 0 {
		return list[0]
	}

	var obj struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		return obj.Message
	}

	return ""
}
