// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/hitoshi/plancheckout/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

const (
	// identityContextKey はリクエストコンテキストに呼び出し元の識別情報を格納するためのキー。
	identityContextKey = contextKey("identity")
	// requestIDContextKey はリクエストコンテキストにリクエストIDを格納するためのキー。
	requestIDContextKey = contextKey("request_id")
)

// ErrNoIdentity はコンテキストに認証済みの識別情報が無いことを表す。
var ErrNoIdentity = errors.New("identity not found in context")

// TokenVerifier はアクセストークンの検証に必要なインターフェース。
// auth.Service が満たす。
type TokenVerifier interface {
	VerifyToken(token string) (*model.Identity, error)
}

// NewBearerAuthMiddleware は Authorization: Bearer ヘッダーのトークンを検証し、
// 呼び出し元の識別情報をリクエストコンテキストに注入するミドルウェアを返す。
// トークンが無い・無効な場合は401を返す。
func NewBearerAuthMiddleware(verifier TokenVerifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			identity, err := verifier.VerifyToken(token)
			if err != nil || identity == nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			recordUserID(r.Context(), identity.UserID)
			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), identity)))
		})
	}
}

// bearerToken はAuthorizationヘッダーからトークン部分を取り出す。スキーム名の大文字小文字は区別しない。
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// IdentityFromContext はリクエストコンテキストから呼び出し元の識別情報を取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func IdentityFromContext(ctx context.Context) (*model.Identity, error) {
	identity, ok := ctx.Value(identityContextKey).(*model.Identity)
	if !ok || identity == nil || identity.UserID <= 0 {
		return nil, ErrNoIdentity
	}
	return identity, nil
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (int64, error) {
	identity, err := IdentityFromContext(ctx)
	if err != nil {
		return 0, err
	}
	return identity.UserID, nil
}

// ContextWithIdentity はコンテキストに識別情報を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithIdentity(ctx context.Context, identity *model.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// ContextWithUserID はコンテキストにユーザーIDのみの識別情報を注入する。
func ContextWithUserID(ctx context.Context, userID int64) context.Context {
	return ContextWithIdentity(ctx, &model.Identity{UserID: userID})
}
