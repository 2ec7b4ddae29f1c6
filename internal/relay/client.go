// Package relay はプロキシ構成で、支払い確認とアカウント発行のリクエストを上流APIへ転送する。
package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// maxResponseSize は上流レスポンスとして読み取る最大バイト数。
const maxResponseSize = 1 << 20

// ErrNotConfigured は上流APIのベースURLが未設定であることを示す。
var ErrNotConfigured = errors.New("上流APIのベースURLが設定されていません")

// Request は転送するリクエスト。
type Request struct {
	Method   string
	Path     string
	RawQuery string
	Body     []byte
	// RequestID は上流へX-Request-IDとして引き継ぐ。
	RequestID string
}

// Response は上流APIのレスポンス。ステータスとボディはそのまま呼び出し元へ返す。
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Client は上流APIへリクエストを転送するクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	timeout    time.Duration
}

// NewClient はClientを生成する。baseURLの末尾の/は除去する。
func NewClient(httpClient *http.Client, logger *slog.Logger, baseURL string, timeout time.Duration) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    strings.TrimRight(baseURL, "/"),
		timeout:    timeout,
	}
}

// Configured は転送先が設定されているかを返す。
func (c *Client) Configured() bool {
	return c != nil && c.baseURL != ""
}

// Forward はリクエストを上流APIの同じパスへ転送する。
// 上流が返したステータスは2xx以外でもエラーにせずResponseとして返す。
// エラーを返すのは通信失敗とベースURL未設定の場合のみ。
func (c *Client) Forward(ctx context.Context, req Request) (*Response, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	target := c.baseURL + req.Path
	if req.RawQuery != "" {
		target += "?" + req.RawQuery
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.RequestID != "" {
		httpReq.Header.Set("X-Request-ID", req.RequestID)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Error("上流APIへの転送に失敗しました",
			slog.String("method", req.Method),
			slog.String("path", req.Path),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("上流APIへの転送に失敗しました: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		c.logger.Warn("上流APIがエラーを返しました",
			slog.String("path", req.Path),
			slog.Int("http_status", resp.StatusCode),
		)
	}

	return &Response{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        respBody,
	}, nil
}
