package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/plancheckout/internal/model"
	"github.com/hitoshi/plancheckout/internal/payment"
)

// stripeSignatureHeader はStripeが署名を送るヘッダー名。
const stripeSignatureHeader = "Stripe-Signature"

// CheckoutServiceInterface は決済セッション作成に必要なサービスインターフェース。
type CheckoutServiceInterface interface {
	CreateCheckoutSession(ctx context.Context, productID, userID int64, successURL, cancelURL string) (string, error)
}

// WebhookServiceInterface はWebhook受信に必要なサービスインターフェース。
type WebhookServiceInterface interface {
	HandleWebhook(ctx context.Context, signature string, payload []byte) (*payment.WebhookResult, error)
}

// PaymentHandler は決済関連のHTTPハンドラー。
type PaymentHandler struct {
	checkout CheckoutServiceInterface
	webhook  WebhookServiceInterface
}

// NewPaymentHandler はPaymentHandlerを生成する。
func NewPaymentHandler(checkout CheckoutServiceInterface, webhook WebhookServiceInterface) *PaymentHandler {
	return &PaymentHandler{checkout: checkout, webhook: webhook}
}

// createSessionRequest は決済セッション作成リクエストのボディ。
type createSessionRequest struct {
	ProductID  int64  `json:"productId"`
	SuccessURL string `json:"successUrl"`
	CancelURL  string `json:"cancelUrl"`
}

// createSessionResponse は決済セッション作成のAPIレスポンス。
type createSessionResponse struct {
	URL string `json:"url"`
}

// webhookAckResponse はWebhook受理のAPIレスポンス。
type webhookAckResponse struct {
	Received bool   `json:"received"`
	Status   string `json:"status"`
}

// CreateSession は決済セッションを作成し、決済ページのURLを返す。
// 購入レコードはここでは作成せず、決済完了のWebhookで作成する。
// POST /payment/create-session
func (h *PaymentHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req createSessionRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.ProductID <= 0 {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("productIdは正の整数で指定してください"))
		return
	}

	url, err := h.checkout.CreateCheckoutSession(r.Context(), req.ProductID, userID, req.SuccessURL, req.CancelURL)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, createSessionResponse{URL: url})
}

// Webhook はStripeからのWebhookを受信する。
// 署名検証のため、ボディは解析せずバイト列のまま渡す。
// POST /payment/webhook
func (h *PaymentHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			slog.Warn("webhook payload too large", slog.Int64("limit", maxErr.Limit))
		}
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	result, err := h.webhook.HandleWebhook(r.Context(), r.Header.Get(stripeSignatureHeader), payload)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, webhookAckResponse{Received: true, Status: result.Status})
}
