package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/plancheckout/internal/model"
)

// PurchaseServiceInterface は購入履歴ハンドラーが必要とするサービスインターフェース。
type PurchaseServiceInterface interface {
	ListForUser(ctx context.Context, userID int64) ([]model.PurchaseWithProduct, error)
	Cancel(ctx context.Context, purchaseID, callerID int64) (*model.Purchase, error)
}

// PurchaseDebugServiceInterface はデバッグ用エンドポイントが必要とするサービスインターフェース。
type PurchaseDebugServiceInterface interface {
	CreatePending(ctx context.Context, userID, productID int64, sessionID string) (*model.Purchase, error)
	UpdateStatusBySession(ctx context.Context, sessionID string, to model.PurchaseStatus) (*model.Purchase, error)
	ListAll(ctx context.Context) ([]model.PurchaseWithProduct, error)
}

// PurchaseHandler は購入履歴のHTTPハンドラー。
type PurchaseHandler struct {
	service PurchaseServiceInterface
	debug   PurchaseDebugServiceInterface
}

// NewPurchaseHandler はPurchaseHandlerを生成する。
// debugがnilの場合、デバッグ用エンドポイントはルーティングされない。
func NewPurchaseHandler(service PurchaseServiceInterface, debug PurchaseDebugServiceInterface) *PurchaseHandler {
	return &PurchaseHandler{service: service, debug: debug}
}

// purchaseResponse は購入レコードのAPIレスポンス。
type purchaseResponse struct {
	ID              int64     `json:"id"`
	UserID          int64     `json:"user_id"`
	ProductID       int64     `json:"product_id"`
	StripeSessionID string    `json:"stripe_session_id"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// purchaseWithProductResponse は商品情報付き購入履歴のAPIレスポンス。
type purchaseWithProductResponse struct {
	purchaseResponse
	ProductName string `json:"product_name"`
	Description string `json:"description"`
	Price       int64  `json:"price"`
}

// testPurchaseRequest はテスト購入作成リクエストのボディ。
type testPurchaseRequest struct {
	UserID          int64  `json:"userId"`
	ProductID       int64  `json:"productId"`
	StripeSessionID string `json:"stripeSessionId"`
}

// updateStatusRequest はステータス更新リクエストのボディ。
type updateStatusRequest struct {
	StripeSessionID string `json:"stripeSessionId"`
	Status          string `json:"status"`
}

func toPurchaseResponse(p *model.Purchase) purchaseResponse {
	return purchaseResponse{
		ID:              p.ID,
		UserID:          p.UserID,
		ProductID:       p.ProductID,
		StripeSessionID: p.ExternalSessionID,
		Status:          string(p.Status),
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

func toPurchaseListResponse(purchases []model.PurchaseWithProduct) []purchaseWithProductResponse {
	resp := make([]purchaseWithProductResponse, 0, len(purchases))
	for i := range purchases {
		p := &purchases[i]
		resp = append(resp, purchaseWithProductResponse{
			purchaseResponse: toPurchaseResponse(&p.Purchase),
			ProductName:      p.ProductName,
			Description:      p.ProductDescription,
			Price:            p.Price,
		})
	}
	return resp
}

// MyPurchases はログインユーザーの購入履歴を新しい順に返す。
// GET /purchases/my-purchases
func (h *PurchaseHandler) MyPurchases(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	purchases, err := h.service.ListForUser(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toPurchaseListResponse(purchases))
}

// Cancel はログインユーザー自身の購入を解約する。解約済みの購入に対しては何もせず現在の状態を返す。
// POST /purchases/{id}/cancel
func (h *PurchaseHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	purchaseID, ok := parseIDParam(chi.URLParam(r, "id"))
	if !ok {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("購入履歴IDは正の整数で指定してください"))
		return
	}

	purchase, err := h.service.Cancel(r.Context(), purchaseID, userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toPurchaseResponse(purchase))
}

// TestPurchase は動作確認用にpendingの購入レコードを作成する。
// POST /purchases/test-purchase
func (h *PurchaseHandler) TestPurchase(w http.ResponseWriter, r *http.Request) {
	var req testPurchaseRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.UserID <= 0 || req.ProductID <= 0 {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("userIdとproductIdは正の整数で指定してください"))
		return
	}

	purchase, err := h.debug.CreatePending(r.Context(), req.UserID, req.ProductID, strings.TrimSpace(req.StripeSessionID))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toPurchaseResponse(purchase))
}

// UpdateStatus は決済セッションIDで購入ステータスを更新する。許可されない遷移は409を返す。
// POST /purchases/update-status
func (h *PurchaseHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	purchase, err := h.debug.UpdateStatusBySession(r.Context(), strings.TrimSpace(req.StripeSessionID), model.PurchaseStatus(req.Status))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toPurchaseResponse(purchase))
}

// DebugAll は全ユーザーの購入履歴を返す。
// GET /purchases/debug/all
func (h *PurchaseHandler) DebugAll(w http.ResponseWriter, r *http.Request) {
	purchases, err := h.debug.ListAll(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toPurchaseListResponse(purchases))
}
