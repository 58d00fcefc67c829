package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/plancheckout/internal/model"
)

// ProductCatalog は商品ハンドラーが必要とするカタログインターフェース。
type ProductCatalog interface {
	List() []model.Product
	Get(id int64) (model.Product, error)
}

// ProductHandler は商品カタログのHTTPハンドラー。
type ProductHandler struct {
	catalog ProductCatalog
}

// NewProductHandler はProductHandlerを生成する。
func NewProductHandler(catalog ProductCatalog) *ProductHandler {
	return &ProductHandler{catalog: catalog}
}

// productResponse は商品情報のAPIレスポンス。
type productResponse struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       int64  `json:"price"`
	PaymentLink string `json:"stripePaymentLink,omitempty"`
}

func toProductResponse(p model.Product) productResponse {
	return productResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Price:       p.Price,
		PaymentLink: p.PaymentLink,
	}
}

// List は商品一覧を返す。
// GET /products
func (h *ProductHandler) List(w http.ResponseWriter, r *http.Request) {
	products := h.catalog.List()
	resp := make([]productResponse, 0, len(products))
	for _, p := range products {
		resp = append(resp, toProductResponse(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get は指定IDの商品を返す。
// GET /products/{id}
func (h *ProductHandler) Get(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "id")
	id, ok := parseIDParam(raw)
	if !ok {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("商品IDは正の整数で指定してください"))
		return
	}

	product, err := h.catalog.Get(id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toProductResponse(product))
}
