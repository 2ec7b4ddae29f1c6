package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/trackergate/internal/fulfillment"
	"github.com/hitoshi/trackergate/internal/middleware"
	"github.com/hitoshi/trackergate/internal/model"
)

// --- モック定義 ---

// mockFulfillmentService はFulfillmentServiceInterfaceのモック実装。
type mockFulfillmentService struct {
	createCheckoutFn func(ctx context.Context) (string, error)
	verifySessionFn  func(ctx context.Context, sessionID string) (*fulfillment.Verification, error)
	provisionFn      func(ctx context.Context, req fulfillment.ProvisionRequest) error

	provisionCalls int
}

func (m *mockFulfillmentService) CreateCheckout(ctx context.Context) (string, error) {
	if m.createCheckoutFn != nil {
		return m.createCheckoutFn(ctx)
	}
	return "", nil
}

func (m *mockFulfillmentService) VerifySession(ctx context.Context, sessionID string) (*fulfillment.Verification, error) {
	if m.verifySessionFn != nil {
		return m.verifySessionFn(ctx, sessionID)
	}
	return nil, nil
}

func (m *mockFulfillmentService) Provision(ctx context.Context, req fulfillment.ProvisionRequest) error {
	m.provisionCalls++
	if m.provisionFn != nil {
		return m.provisionFn(ctx, req)
	}
	return nil
}

// --- テストヘルパー ---

// newTestLogger はバッファに出力するテスト用ロガーを生成する。
func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// discardLogger はログを捨てるロガーを返す。
func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// parseErrorBody はレスポンスボディから統一エラーフォーマットをパースするヘルパー。
func parseErrorBody(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return body
}

// --- CreateCheckout ---

func TestCheckoutHandler_CreateCheckout_RedirectsToSessionURL(t *testing.T) {
	svc := &mockFulfillmentService{
		createCheckoutFn: func(ctx context.Context) (string, error) {
			return "https://checkout.stripe.com/c/pay/cs_test_1", nil
		},
	}
	h := NewCheckoutHandler(svc, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/create-checkout", nil)
	w := httptest.NewRecorder()

	h.CreateCheckout(w, req)

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusFound)
	}
	if loc := w.Header().Get("Location"); loc != "https://checkout.stripe.com/c/pay/cs_test_1" {
		t.Errorf("Location = %q, want the session URL", loc)
	}
}

func TestCheckoutHandler_CreateCheckout_ErrorsArePlainText(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{
			name:       "not configured",
			err:        model.NewCheckoutNotConfiguredError(),
			wantStatus: http.StatusInternalServerError,
			wantBody:   "Checkout is not configured. Please try again later.",
		},
		{
			name:       "provider failure",
			err:        model.NewCheckoutFailedError().WithCause(errors.New("card_error")),
			wantStatus: http.StatusInternalServerError,
			wantBody:   "Could not start checkout. Please try again.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockFulfillmentService{
				createCheckoutFn: func(ctx context.Context) (string, error) {
					return "", tt.err
				},
			}
			h := NewCheckoutHandler(svc, discardLogger())

			w := httptest.NewRecorder()
			h.CreateCheckout(w, httptest.NewRequest(http.MethodGet, "/api/create-checkout", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if !strings.HasPrefix(w.Header().Get("Content-Type"), "text/plain") {
				t.Errorf("Content-Type = %q, want text/plain", w.Header().Get("Content-Type"))
			}
			if got := strings.TrimSpace(w.Body.String()); got != tt.wantBody {
				t.Errorf("body = %q, want %q", got, tt.wantBody)
			}
		})
	}
}

// --- VerifySession ---

func TestCheckoutHandler_VerifySession_Success(t *testing.T) {
	var gotID string
	svc := &mockFulfillmentService{
		verifySessionFn: func(ctx context.Context, sessionID string) (*fulfillment.Verification, error) {
			gotID = sessionID
			addr := "a@x.com"
			return &fulfillment.Verification{Email: &addr, DownloadURL: "/muscleup.pdf"}, nil
		},
	}
	h := NewCheckoutHandler(svc, discardLogger())

	w := httptest.NewRecorder()
	h.VerifySession(w, httptest.NewRequest(http.MethodGet, "/api/verify-session?session_id=cs_test_1", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotID != "cs_test_1" {
		t.Errorf("session id = %q, want cs_test_1", gotID)
	}
	if got := strings.TrimSpace(w.Body.String()); got != `{"email":"a@x.com","downloadUrl":"/muscleup.pdf"}` {
		t.Errorf("body = %s", got)
	}
}

func TestCheckoutHandler_VerifySession_NullEmail(t *testing.T) {
	svc := &mockFulfillmentService{
		verifySessionFn: func(ctx context.Context, sessionID string) (*fulfillment.Verification, error) {
			return &fulfillment.Verification{DownloadURL: "/muscleup.pdf"}, nil
		},
	}
	h := NewCheckoutHandler(svc, discardLogger())

	w := httptest.NewRecorder()
	h.VerifySession(w, httptest.NewRequest(http.MethodGet, "/api/verify-session?session_id=cs_test_2", nil))

	if got := strings.TrimSpace(w.Body.String()); got != `{"email":null,"downloadUrl":"/muscleup.pdf"}` {
		t.Errorf("body = %s", got)
	}
}

func TestCheckoutHandler_VerifySession_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{"missing id", model.NewMissingSessionIDError(), http.StatusBadRequest, "Missing session_id"},
		{"unpaid", model.NewPaymentIncompleteError(), http.StatusForbidden, "Payment not completed"},
		{"unknown", model.NewSessionNotFoundError(), http.StatusNotFound, "Invalid or expired session"},
		{"config", model.NewConfigurationError(), http.StatusInternalServerError, "Server configuration error"},
		{"non-api error", errors.New("boom"), http.StatusInternalServerError, "Internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockFulfillmentService{
				verifySessionFn: func(ctx context.Context, sessionID string) (*fulfillment.Verification, error) {
					return nil, tt.err
				},
			}
			h := NewCheckoutHandler(svc, discardLogger())

			w := httptest.NewRecorder()
			h.VerifySession(w, httptest.NewRequest(http.MethodGet, "/api/verify-session", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if body := parseErrorBody(t, w); body.Error != tt.wantError {
				t.Errorf("error = %q, want %q", body.Error, tt.wantError)
			}
		})
	}
}

// TestCheckoutHandler_LogsCauseForServerErrors は5xxの原因エラーがログにのみ出力されることを検証する。
func TestCheckoutHandler_LogsCauseForServerErrors(t *testing.T) {
	var buf bytes.Buffer
	svc := &mockFulfillmentService{
		verifySessionFn: func(ctx context.Context, sessionID string) (*fulfillment.Verification, error) {
			return nil, model.NewVerifyFailedError().WithCause(errors.New("stripe: api_connection_error"))
		},
	}
	h := NewCheckoutHandler(svc, newTestLogger(&buf))

	w := httptest.NewRecorder()
	h.VerifySession(w, httptest.NewRequest(http.MethodGet, "/api/verify-session?session_id=cs_x", nil))

	if strings.Contains(w.Body.String(), "api_connection_error") {
		t.Error("response should not contain the internal cause")
	}
	if !strings.Contains(buf.String(), "api_connection_error") {
		t.Errorf("log should contain the internal cause, got: %s", buf.String())
	}
}

// --- CreateTrackerUser ---

func TestCheckoutHandler_CreateTrackerUser_Success(t *testing.T) {
	var got fulfillment.ProvisionRequest
	svc := &mockFulfillmentService{
		provisionFn: func(ctx context.Context, req fulfillment.ProvisionRequest) error {
			got = req
			return nil
		},
	}
	h := NewCheckoutHandler(svc, discardLogger())

	body := `{"sessionId":"cs_test_1","name":"Alex","email":"A@X.com"}`
	req := httptest.NewRequest(http.MethodPost, "/api/create-tracker-user", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	h.CreateTrackerUser(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if strings.TrimSpace(w.Body.String()) != `{"success":true}` {
		t.Errorf("body = %s, want {\"success\":true}", w.Body.String())
	}
	want := fulfillment.ProvisionRequest{SessionID: "cs_test_1", Name: "Alex", Email: "A@X.com"}
	if got != want {
		t.Errorf("provision request = %+v, want %+v", got, want)
	}
}

func TestCheckoutHandler_CreateTrackerUser_InvalidJSON(t *testing.T) {
	svc := &mockFulfillmentService{}
	h := NewCheckoutHandler(svc, discardLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/create-tracker-user", strings.NewReader(`{"sessionId":`))
	w := httptest.NewRecorder()

	h.CreateTrackerUser(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if body := parseErrorBody(t, w); body.Code != model.ErrCodeInvalidRequest {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeInvalidRequest)
	}
	if svc.provisionCalls != 0 {
		t.Error("service should not be called for an invalid body")
	}
}

func TestCheckoutHandler_CreateTrackerUser_ServiceErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        *model.APIError
		wantStatus int
	}{
		{"missing fields", model.NewMissingFieldsError(), http.StatusBadRequest},
		{"email not configured", model.NewEmailNotConfiguredError(), http.StatusServiceUnavailable},
		{"invalid session", model.NewInvalidSessionError(), http.StatusBadRequest},
		{"unpaid", model.NewPaymentIncompleteError(), http.StatusForbidden},
		{"mismatch", model.NewEmailMismatchError(), http.StatusBadRequest},
		{"tracker", model.NewTrackerRejectedError(), http.StatusInternalServerError},
		{"email", model.NewEmailFailedError("Domain not verified"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockFulfillmentService{
				provisionFn: func(ctx context.Context, req fulfillment.ProvisionRequest) error {
					return tt.err
				},
			}
			h := NewCheckoutHandler(svc, discardLogger())

			req := httptest.NewRequest(http.MethodPost, "/api/create-tracker-user",
				strings.NewReader(`{"sessionId":"cs_1","name":"A","email":"a@x.com"}`))
			w := httptest.NewRecorder()

			h.CreateTrackerUser(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			body := parseErrorBody(t, w)
			if body.Error != tt.err.Message {
				t.Errorf("error = %q, want %q", body.Error, tt.err.Message)
			}
			if body.Code != tt.err.Code {
				t.Errorf("code = %q, want %q", body.Code, tt.err.Code)
			}
		})
	}
}

func TestHealth(t *testing.T) {
	w := httptest.NewRecorder()
	Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if strings.TrimSpace(w.Body.String()) != `{"status":"ok"}` {
		t.Errorf("body = %s", w.Body.String())
	}
}
