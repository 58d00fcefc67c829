// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/plancheckout/internal/auth"
	"github.com/hitoshi/plancheckout/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Register(ctx context.Context, email, password string) (*auth.Result, error)
	Login(ctx context.Context, email, password string) (*auth.Result, error)
	CurrentUser(ctx context.Context, userID int64) (*model.User, error)
}

// AuthHandler はユーザー登録・ログイン関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface) *AuthHandler {
	return &AuthHandler{service: service}
}

// credentialsRequest は登録・ログインリクエストのボディ。
type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// userResponse はユーザー情報のAPIレスポンス。パスワードハッシュは含めない。
type userResponse struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// authResponse は登録・ログイン成功時のAPIレスポンス。
type authResponse struct {
	AccessToken string       `json:"access_token"`
	User        userResponse `json:"user"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{ID: u.ID, Email: u.Email, CreatedAt: u.CreatedAt}
}

// Register はユーザー登録を処理する。
// POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	result, err := h.service.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, authResponse{
		AccessToken: result.AccessToken,
		User:        toUserResponse(result.User),
	})
}

// Login はログインを処理する。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	result, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, authResponse{
		AccessToken: result.AccessToken,
		User:        toUserResponse(result.User),
	})
}

// Me は現在のログインユーザー情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	user, err := h.service.CurrentUser(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(user))
}
