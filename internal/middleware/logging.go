package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// logInfoContextKey はアクセスログ用の付帯情報を格納するためのキー。
const logInfoContextKey = contextKey("log_info")

// requestLogInfo は内側のミドルウェアがアクセスログに追加する情報。
// 認証ミドルウェアはロギングミドルウェアの内側で動くため、ポインタ経由で受け渡す。
type requestLogInfo struct {
	userID int64
}

// recordUserID はアクセスログにユーザーIDを記録する。ロギングミドルウェア外では何もしない。
func recordUserID(ctx context.Context, userID int64) {
	if info, ok := ctx.Value(logInfoContextKey).(*requestLogInfo); ok {
		info.userID = userID
	}
}

// statusRecorder はhttp.ResponseWriterをラップし、ステータスコードを記録する。
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

// WriteHeader はステータスコードを記録してから委譲する。
func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.written {
		sr.statusCode = code
		sr.written = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

// Write はデータを書き込む。WriteHeaderが未呼び出しの場合は200を記録する。
func (sr *statusRecorder) Write(b []byte) (int, error) {
	if !sr.written {
		sr.statusCode = http.StatusOK
		sr.written = true
	}
	return sr.ResponseWriter.Write(b)
}

// NewLoggingMiddleware はリクエストのJSON構造化ログを出力するミドルウェアを返す。
// ログにはmethod、path、status、duration_ms、request_id、user_id（認証済みの場合）を含む。
// リクエストボディやAuthorizationヘッダーは記録しない。
func NewLoggingMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rec := &statusRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}
			info := &requestLogInfo{}
			ctx := context.WithValue(r.Context(), logInfoContextKey, info)

			next.ServeHTTP(rec, r.WithContext(ctx))

			duration := time.Since(start)
			durationMs := float64(duration.Nanoseconds()) / float64(time.Millisecond)

			args := []any{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.statusCode),
				slog.Float64("duration_ms", durationMs),
			}
			if id := RequestIDFromContext(r.Context()); id != "" {
				args = append(args, slog.String("request_id", id))
			}
			if info.userID > 0 {
				args = append(args, slog.Int64("user_id", info.userID))
			}

			// slogのログレベルをステータスコードに応じて変更
			level := slog.LevelInfo
			if rec.statusCode >= 500 {
				level = slog.LevelError
			} else if rec.statusCode >= 400 {
				level = slog.LevelWarn
			}

			logger.Log(r.Context(), level, "http_request", args...)
		})
	}
}
