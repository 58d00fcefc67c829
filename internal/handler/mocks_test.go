package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/plancheckout/internal/auth"
	"github.com/hitoshi/plancheckout/internal/middleware"
	"github.com/hitoshi/plancheckout/internal/model"
	"github.com/hitoshi/plancheckout/internal/payment"
)

// --- モック定義 ---

// mockAuthService はAuthServiceInterfaceのモック実装。
type mockAuthService struct {
	registerFn    func(ctx context.Context, email, password string) (*auth.Result, error)
	loginFn       func(ctx context.Context, email, password string) (*auth.Result, error)
	currentUserFn func(ctx context.Context, userID int64) (*model.User, error)
}

func (m *mockAuthService) Register(ctx context.Context, email, password string) (*auth.Result, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, email, password)
	}
	return nil, nil
}

func (m *mockAuthService) Login(ctx context.Context, email, password string) (*auth.Result, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, email, password)
	}
	return nil, nil
}

func (m *mockAuthService) CurrentUser(ctx context.Context, userID int64) (*model.User, error) {
	if m.currentUserFn != nil {
		return m.currentUserFn(ctx, userID)
	}
	return nil, nil
}

// mockCatalog はProductCatalogのモック実装。
type mockCatalog struct {
	products []model.Product
}

func (m *mockCatalog) List() []model.Product { return m.products }

func (m *mockCatalog) Get(id int64) (model.Product, error) {
	for _, p := range m.products {
		if p.ID == id {
			return p, nil
		}
	}
	return model.Product{}, model.NewProductNotFoundError(id)
}

// mockCheckoutService はCheckoutServiceInterfaceのモック実装。
type mockCheckoutService struct {
	createFn func(ctx context.Context, productID, userID int64, successURL, cancelURL string) (string, error)
}

func (m *mockCheckoutService) CreateCheckoutSession(ctx context.Context, productID, userID int64, successURL, cancelURL string) (string, error) {
	if m.createFn != nil {
		return m.createFn(ctx, productID, userID, successURL, cancelURL)
	}
	return "", nil
}

// mockWebhookService はWebhookServiceInterfaceのモック実装。
type mockWebhookService struct {
	handleFn func(ctx context.Context, signature string, payload []byte) (*payment.WebhookResult, error)
}

func (m *mockWebhookService) HandleWebhook(ctx context.Context, signature string, payload []byte) (*payment.WebhookResult, error) {
	if m.handleFn != nil {
		return m.handleFn(ctx, signature, payload)
	}
	return &payment.WebhookResult{Status: payment.WebhookIgnored}, nil
}

// mockPurchaseService はPurchaseServiceInterfaceとPurchaseDebugServiceInterfaceのモック実装。
type mockPurchaseService struct {
	listForUserFn   func(ctx context.Context, userID int64) ([]model.PurchaseWithProduct, error)
	cancelFn        func(ctx context.Context, purchaseID, callerID int64) (*model.Purchase, error)
	createPendingFn func(ctx context.Context, userID, productID int64, sessionID string) (*model.Purchase, error)
	updateStatusFn  func(ctx context.Context, sessionID string, to model.PurchaseStatus) (*model.Purchase, error)
	listAllFn       func(ctx context.Context) ([]model.PurchaseWithProduct, error)
}

func (m *mockPurchaseService) ListForUser(ctx context.Context, userID int64) ([]model.PurchaseWithProduct, error) {
	if m.listForUserFn != nil {
		return m.listForUserFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockPurchaseService) Cancel(ctx context.Context, purchaseID, callerID int64) (*model.Purchase, error) {
	if m.cancelFn != nil {
		return m.cancelFn(ctx, purchaseID, callerID)
	}
	return nil, nil
}

func (m *mockPurchaseService) CreatePending(ctx context.Context, userID, productID int64, sessionID string) (*model.Purchase, error) {
	if m.createPendingFn != nil {
		return m.createPendingFn(ctx, userID, productID, sessionID)
	}
	return nil, nil
}

func (m *mockPurchaseService) UpdateStatusBySession(ctx context.Context, sessionID string, to model.PurchaseStatus) (*model.Purchase, error) {
	if m.updateStatusFn != nil {
		return m.updateStatusFn(ctx, sessionID, to)
	}
	return nil, nil
}

func (m *mockPurchaseService) ListAll(ctx context.Context) ([]model.PurchaseWithProduct, error) {
	if m.listAllFn != nil {
		return m.listAllFn(ctx)
	}
	return nil, nil
}

// mockPinger はdatabase.Pingerのモック実装。
type mockPinger struct {
	err error
}

func (m *mockPinger) PingContext(context.Context) error { return m.err }

var (
	_ AuthServiceInterface          = (*mockAuthService)(nil)
	_ ProductCatalog                = (*mockCatalog)(nil)
	_ CheckoutServiceInterface      = (*mockCheckoutService)(nil)
	_ WebhookServiceInterface       = (*mockWebhookService)(nil)
	_ PurchaseServiceInterface      = (*mockPurchaseService)(nil)
	_ PurchaseDebugServiceInterface = (*mockPurchaseService)(nil)
)

// --- テストヘルパー ---

// withUserID はテスト用にリクエストコンテキストにユーザーIDを注入するヘルパー。
func withUserID(r *http.Request, userID int64) *http.Request {
	return r.WithContext(middleware.ContextWithUserID(r.Context(), userID))
}

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// parseAPIErrorResponse はレスポンスボディからAPIErrorレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var result middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}

// assertAPIError はステータスコードとエラーコードを検証するヘルパー。
func assertAPIError(t *testing.T, w *httptest.ResponseRecorder, wantStatus int, wantCode string) {
	t.Helper()
	if w.Code != wantStatus {
		t.Errorf("status = %d, want %d (body: %s)", w.Code, wantStatus, w.Body.String())
	}
	if got := parseAPIErrorResponse(t, w).Code; got != wantCode {
		t.Errorf("code = %q, want %q", got, wantCode)
	}
}
