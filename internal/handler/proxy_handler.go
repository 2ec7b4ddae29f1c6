package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/trackergate/internal/fulfillment"
	"github.com/hitoshi/trackergate/internal/metrics"
	"github.com/hitoshi/trackergate/internal/middleware"
	"github.com/hitoshi/trackergate/internal/model"
	"github.com/hitoshi/trackergate/internal/relay"
)

// RelayInterface はプロキシハンドラーが必要とする転送クライアントのインターフェース。
type RelayInterface interface {
	Configured() bool
	Forward(ctx context.Context, req relay.Request) (*relay.Response, error)
}

// ProxyHandler は支払い確認とアカウント発行を別デプロイのAPIへ転送するハンドラー。
// 入力の検証はローカルで行い、不正なリクエストは上流へ送らない。
type ProxyHandler struct {
	relay   RelayInterface
	metrics metrics.MetricsCollector
	logger  *slog.Logger
}

// NewProxyHandler はProxyHandlerを生成する。
func NewProxyHandler(r RelayInterface, collector metrics.MetricsCollector, logger *slog.Logger) *ProxyHandler {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &ProxyHandler{
		relay:   r,
		metrics: collector,
		logger:  logger,
	}
}

// VerifySession はsession_idを検証して上流へ転送する。
// GET /api/verify-session?session_id=xxx
func (h *ProxyHandler) VerifySession(w http.ResponseWriter, r *http.Request) {
	if strings.TrimSpace(r.URL.Query().Get("session_id")) == "" {
		middleware.WriteErrorResponse(w, model.NewMissingSessionIDError())
		return
	}

	h.forward(w, r, relay.Request{
		Method:   http.MethodGet,
		Path:     r.URL.Path,
		RawQuery: r.URL.RawQuery,
	})
}

// CreateTrackerUser は必須フィールドを検証して上流へ転送する。ボディは受け取ったまま送る。
// POST /api/create-tracker-user
func (h *ProxyHandler) CreateTrackerUser(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	if err != nil {
		middleware.WriteErrorResponse(w, model.NewInvalidRequestError())
		return
	}

	var req fulfillment.ProvisionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		middleware.WriteErrorResponse(w, model.NewInvalidRequestError())
		return
	}
	if strings.TrimSpace(req.SessionID) == "" || strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Email) == "" {
		middleware.WriteErrorResponse(w, model.NewMissingFieldsError())
		return
	}

	h.forward(w, r, relay.Request{
		Method: http.MethodPost,
		Path:   r.URL.Path,
		Body:   body,
	})
}

// forward は上流へ転送し、ステータスとボディをそのまま書き戻す。
func (h *ProxyHandler) forward(w http.ResponseWriter, r *http.Request, req relay.Request) {
	if !h.relay.Configured() {
		h.logger.Error("API_BASE_URLが未設定のため転送できません", slog.String("path", req.Path))
		middleware.WriteErrorResponse(w, model.NewProxyNotConfiguredError())
		return
	}

	req.RequestID = middleware.RequestIDFromContext(r.Context())

	start := time.Now()
	resp, err := h.relay.Forward(r.Context(), req)
	h.metrics.RecordUpstreamLatency(metrics.UpstreamRelay, time.Since(start))
	if err != nil {
		if errors.Is(err, relay.ErrNotConfigured) {
			middleware.WriteErrorResponse(w, model.NewProxyNotConfiguredError())
			return
		}
		h.logger.Error("上流APIに到達できません",
			slog.String("path", req.Path),
			slog.String("error", err.Error()),
			slog.String("request_id", req.RequestID),
		)
		middleware.WriteErrorResponse(w, model.NewUpstreamUnavailableError())
		return
	}

	contentType := resp.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(resp.StatusCode)
	w.Write(resp.Body)
}
