// Package tracker はProgress Trackerのアカウント作成APIとの連携を提供する。
package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// maxResponseSize はレスポンスボディとして読み取る最大バイト数。
const maxResponseSize = 64 << 10

// CreateUserRequest はアカウント作成APIへのリクエストボディ。
type CreateUserRequest struct {
	Email               string `json:"email"`
	Name                string `json:"name"`
	TemporaryPassword   string `json:"temporaryPassword"`
	ForcePasswordChange bool   `json:"forcePasswordChange"`
}

// CreateUserResult はアカウント作成APIの応答のうち利用する項目。
type CreateUserResult struct {
	// SetPasswordToken はパスワード設定用のワンタイムトークン。返されない場合は空文字列。
	SetPasswordToken string
}

// createUserResponse はアカウント作成APIのレスポンス。
// トークンのキー名はcamelCaseとsnake_caseの両方を受け付ける。
type createUserResponse struct {
	SetPasswordToken      string `json:"setPasswordToken"`
	SetPasswordTokenSnake string `json:"set_password_token"`
}

// StatusError はアカウント作成APIが2xx以外のステータスを返した場合のエラー。
type StatusError struct {
	StatusCode int
	Body       string
}

// Error はerrorインターフェースを実装する。
func (e *StatusError) Error() string {
	return fmt.Sprintf("アカウント作成APIがステータス%dを返しました", e.StatusCode)
}

// Client はアカウント作成APIのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	endpoint   string
	secret     string
	timeout    time.Duration
}

// NewClient はClientの新しいインスタンスを生成する。
// timeoutが0以下の場合はhttpClient側のタイムアウトのみが適用される。
func NewClient(httpClient *http.Client, logger *slog.Logger, endpoint, secret string, timeout time.Duration) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		endpoint:   endpoint,
		secret:     secret,
		timeout:    timeout,
	}
}

// CreateUser は新しいTrackerアカウントを作成する。
// 共有シークレットはAuthorization: BearerとX-API-Keyの両方で送る。
// 2xx以外の応答は*StatusErrorを返す。
func (c *Client) CreateUser(ctx context.Context, req CreateUserRequest) (*CreateUserResult, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("リクエストボディのエンコードに失敗しました: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.secret)
	httpReq.Header.Set("X-API-Key", c.secret)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Error("アカウント作成APIの呼び出しに失敗しました",
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("アカウント作成APIの呼び出しに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Error("アカウント作成APIがエラーを返しました",
			slog.Int("http_status", resp.StatusCode),
			slog.String("body", string(respBody)),
		)
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	// 成功時のボディはJSONでなくてもよい（トークンなしとして扱う）
	var decoded createUserResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil && len(bytes.TrimSpace(respBody)) > 0 {
		c.logger.Warn("アカウント作成APIのレスポンスがJSONではありません",
			slog.String("error", err.Error()),
		)
	}

	token := strings.TrimSpace(decoded.SetPasswordToken)
	if token == "" {
		token = strings.TrimSpace(decoded.SetPasswordTokenSnake)
	}

	return &CreateUserResult{SetPasswordToken: token}, nil
}
