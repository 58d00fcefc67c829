package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newJSONLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func decodeLogEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	line := strings.TrimSpace(buf.String())
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("failed to parse log JSON: %v, raw: %s", err, line)
	}
	return entry
}

func TestLoggingMiddleware_LogsRequestFields(t *testing.T) {
	var buf bytes.Buffer
	handler := NewLoggingMiddleware(newJSONLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/auth/register", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entry := decodeLogEntry(t, &buf)
	if entry["msg"] != "http_request" {
		t.Errorf("msg = %v, want http_request", entry["msg"])
	}
	if entry["method"] != "POST" {
		t.Errorf("method = %v, want POST", entry["method"])
	}
	if entry["path"] != "/auth/register" {
		t.Errorf("path = %v", entry["path"])
	}
	if entry["status"] != float64(http.StatusCreated) {
		t.Errorf("status = %v, want 201", entry["status"])
	}
	if _, ok := entry["duration_ms"]; !ok {
		t.Error("duration_ms がログに含まれていない")
	}
	if _, ok := entry["user_id"]; ok {
		t.Error("未認証リクエストでは user_id を出力しない")
	}
}

func TestLoggingMiddleware_IncludesUserIDFromInnerAuth(t *testing.T) {
	var buf bytes.Buffer
	inner := NewBearerAuthMiddleware(validVerifier())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	handler := NewRequestIDMiddleware()(NewLoggingMiddleware(newJSONLogger(&buf))(inner))

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer valid-token")
	req.Header.Set(RequestIDHeader, "req-1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entry := decodeLogEntry(t, &buf)
	if entry["user_id"] != float64(7) {
		t.Errorf("user_id = %v, want 7", entry["user_id"])
	}
	if entry["request_id"] != "req-1" {
		t.Errorf("request_id = %v, want req-1", entry["request_id"])
	}
	if strings.Contains(buf.String(), "valid-token") {
		t.Error("アクセストークンがログに出力されている")
	}
}

func TestLoggingMiddleware_LevelByStatus(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "INFO"},
		{http.StatusNotFound, "WARN"},
		{http.StatusServiceUnavailable, "ERROR"},
	}

	for _, tt := range tests {
		var buf bytes.Buffer
		handler := NewLoggingMiddleware(newJSONLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))

		entry := decodeLogEntry(t, &buf)
		if entry["level"] != tt.level {
			t.Errorf("status %d: level = %v, want %s", tt.status, entry["level"], tt.level)
		}
	}
}

func TestLoggingMiddleware_BodyWriteCapture(t *testing.T) {
	var buf bytes.Buffer
	handler := NewLoggingMiddleware(newJSONLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	entry := decodeLogEntry(t, &buf)
	if entry["status"] != float64(http.StatusOK) {
		t.Errorf("status = %v, want 200", entry["status"])
	}
	if w.Body.String() != `{"status":"ok"}` {
		t.Errorf("body = %q", w.Body.String())
	}
}
