package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/plancheckout/internal/model"
)

func decodeErrorBody(t *testing.T, w *httptest.ResponseRecorder) ErrorResponseBody {
	t.Helper()
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("レスポンスボディのデコードに失敗: %v", err)
	}
	return body
}

// TestWriteErrorResponse_DomainErrors は定義済みエラーがそのままの内容で書き込まれることを検証する。
func TestWriteErrorResponse_DomainErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		err    *model.APIError
	}{
		{"validation", http.StatusBadRequest, model.NewValidationError("productIdがありません")},
		{"invalid credentials", http.StatusUnauthorized, model.NewInvalidCredentialsError()},
		{"forbidden", http.StatusForbidden, model.NewForbiddenError()},
		{"product not found", http.StatusNotFound, model.NewProductNotFoundError(9)},
		{"duplicate session", http.StatusConflict, model.NewDuplicateSessionError("cs_1")},
		{"provider rejected", http.StatusBadGateway, model.NewProviderRejectedError()},
		{"provider unavailable", http.StatusServiceUnavailable, model.NewProviderUnavailableError()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteErrorResponse(w, tt.status, tt.err)

			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", ct)
			}

			body := decodeErrorBody(t, w)
			want := ErrorResponseBody{
				Code:      tt.err.Code,
				Message:   tt.err.Message,
				Category:  tt.err.Category,
				Action:    tt.err.Action,
				Retryable: tt.err.Retryable,
			}
			if body != want {
				t.Errorf("body = %+v, want %+v", body, want)
			}
		})
	}
}

// TestWriteErrorResponse_RetryableFlag は再試行可否が常に出力されることを検証する。
func TestWriteErrorResponse_RetryableFlag(t *testing.T) {
	w := httptest.NewRecorder()
	WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewWebhookRetryableError())

	var raw map[string]any
	if err := json.NewDecoder(w.Body).Decode(&raw); err != nil {
		t.Fatalf("レスポンスボディのデコードに失敗: %v", err)
	}
	if raw["retryable"] != true {
		t.Errorf("retryable = %v, want true", raw["retryable"])
	}

	w = httptest.NewRecorder()
	WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError())
	raw = nil
	if err := json.NewDecoder(w.Body).Decode(&raw); err != nil {
		t.Fatalf("レスポンスボディのデコードに失敗: %v", err)
	}
	if v, ok := raw["retryable"]; !ok || v != false {
		t.Errorf("retryable = %v (present=%v), want false", v, ok)
	}
}

// TestWriteInternalServerError は内部エラーが詳細を含まない統一フォーマットで返ることを検証する。
func TestWriteInternalServerError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteInternalServerError(w)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	body := decodeErrorBody(t, w)
	if body.Code != model.ErrCodeInternal || body.Category != "system" {
		t.Errorf("body = %+v", body)
	}
	if body.Action == "" {
		t.Error("action が空")
	}
}
