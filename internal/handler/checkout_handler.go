// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/trackergate/internal/fulfillment"
	"github.com/hitoshi/trackergate/internal/middleware"
	"github.com/hitoshi/trackergate/internal/model"
)

// maxRequestBodySize はJSONリクエストボディの上限サイズ。
const maxRequestBodySize = 64 << 10

// FulfillmentServiceInterface はチェックアウト関連ハンドラーが必要とするサービスインターフェース。
type FulfillmentServiceInterface interface {
	CreateCheckout(ctx context.Context) (string, error)
	VerifySession(ctx context.Context, sessionID string) (*fulfillment.Verification, error)
	Provision(ctx context.Context, req fulfillment.ProvisionRequest) error
}

// CheckoutHandler はチェックアウト開始、支払い確認、アカウント発行のHTTPハンドラー。
type CheckoutHandler struct {
	service FulfillmentServiceInterface
	logger  *slog.Logger
}

// NewCheckoutHandler はCheckoutHandlerを生成する。
func NewCheckoutHandler(service FulfillmentServiceInterface, logger *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		service: service,
		logger:  logger,
	}
}

// provisionResponse はアカウント発行成功時のレスポンス。
type provisionResponse struct {
	Success bool `json:"success"`
}

// CreateCheckout はStripeのチェックアウトセッションを作成し、決済ページへリダイレクトする。
// ブラウザのリンクから直接開かれるため、エラーはプレーンテキストで返す。
// GET /api/create-checkout
func (h *CheckoutHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	url, err := h.service.CreateCheckout(r.Context())
	if err != nil {
		apiErr := h.toAPIError(r, err)
		http.Error(w, apiErr.Message, apiErr.StatusCode())
		return
	}

	http.Redirect(w, r, url, http.StatusFound)
}

// VerifySession は支払い完了を確認し、購入者のメールアドレスとダウンロードURLを返す。
// GET /api/verify-session?session_id=xxx
func (h *CheckoutHandler) VerifySession(w http.ResponseWriter, r *http.Request) {
	v, err := h.service.VerifySession(r.Context(), r.URL.Query().Get("session_id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, v)
}

// CreateTrackerUser は支払い済みの購入者にTrackerアカウントを発行し、ログイン情報をメールで送る。
// POST /api/create-tracker-user
func (h *CheckoutHandler) CreateTrackerUser(w http.ResponseWriter, r *http.Request) {
	var req fulfillment.ProvisionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize)).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, model.NewInvalidRequestError())
		return
	}

	if err := h.service.Provision(r.Context(), req); err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, provisionResponse{Success: true})
}

// handleServiceError はサービス層のエラーを統一エラーフォーマットで書き込む。
func (h *CheckoutHandler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	middleware.WriteErrorResponse(w, h.toAPIError(r, err))
}

// toAPIError はエラーを*model.APIErrorに変換する。
// 5xxの場合は原因エラーをログに記録する。
func (h *CheckoutHandler) toAPIError(r *http.Request, err error) *model.APIError {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		h.logger.Error("internal server error",
			slog.String("error", err.Error()),
			slog.String("path", r.URL.Path),
			slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
		)
		return model.NewInternalError()
	}

	if apiErr.StatusCode() >= http.StatusInternalServerError && apiErr.Err != nil {
		h.logger.Error("request failed",
			slog.String("code", apiErr.Code),
			slog.String("error", apiErr.Err.Error()),
			slog.String("path", r.URL.Path),
			slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
		)
	}
	return apiErr
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Health はヘルスチェック用のハンドラー。
// GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
