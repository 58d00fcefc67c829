package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// RequestIDHeader はリクエストIDを受け渡すHTTPヘッダー名。
const RequestIDHeader = "X-Request-ID"

// maxRequestIDLength を超える受信リクエストIDは採用しない。
const maxRequestIDLength = 64

// NewRequestIDMiddleware はリクエストごとにIDを払い出し、コンテキストとレスポンスヘッダーに設定する。
// 受信したX-Request-IDが妥当な長さであればそれを引き継ぐ。
func NewRequestIDMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if id == "" || len(id) > maxRequestIDLength {
				id = uuid.NewString()
			}

			w.Header().Set(RequestIDHeader, id)
			ctx := context.WithValue(r.Context(), requestIDContextKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestIDFromContext はコンテキストのリクエストIDを返す。未設定の場合は空文字列。
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDContextKey).(string)
	return id
}
