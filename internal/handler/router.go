package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/plancheckout/internal/database"
	"github.com/hitoshi/plancheckout/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	TokenVerifier     middleware.TokenVerifier
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// ヘルスチェック・メトリクス
	HealthChecker  database.Pinger
	MetricsHandler http.Handler

	// 認証
	AuthService AuthServiceInterface

	// 商品
	Catalog ProductCatalog

	// 決済
	CheckoutService CheckoutServiceInterface
	WebhookService  WebhookServiceInterface

	// 購入履歴
	PurchaseService PurchaseServiceInterface
	// PurchaseDebugService がnilでなければデバッグ用エンドポイントを公開する。
	PurchaseDebugService PurchaseDebugServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → RequestID → Logging → SecurityHeaders → CORS → RateLimit(General)
//
// 認証が必要なルートはさらに BearerAuth を通る。決済セッション作成は専用のレート制限も通る。
// Webhookは署名で認証するため、BearerAuthとレート制限の対象外とする。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeAPIErrorResponse(w, http.StatusNotFound, notFoundError())
	})

	authHandler := NewAuthHandler(deps.AuthService)
	productHandler := NewProductHandler(deps.Catalog)
	paymentHandler := NewPaymentHandler(deps.CheckoutService, deps.WebhookService)
	purchaseHandler := NewPurchaseHandler(deps.PurchaseService, deps.PurchaseDebugService)
	requireAuth := middleware.NewBearerAuthMiddleware(deps.TokenVerifier)

	// --- 運用系（ミドルウェアの認証・レート制限の対象外）---
	if deps.HealthChecker != nil {
		r.Get("/health", NewHealthHandler(deps.HealthChecker).Health)
	}
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// Stripe Webhook（署名検証のみ）
	r.Post("/payment/webhook", paymentHandler.Webhook)

	// --- 認証不要のルート ---
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Post("/auth/register", authHandler.Register)
		r.Post("/auth/login", authHandler.Login)

		r.Get("/products", productHandler.List)
		r.Get("/products/{id}", productHandler.Get)
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: BearerAuth → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(requireAuth)
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/auth/me", authHandler.Me)

		// POST /payment/create-session - 決済セッション作成（専用レート制限を追加）
		r.With(deps.RateLimiter.CheckoutMiddleware()).Post("/payment/create-session", paymentHandler.CreateSession)

		r.Get("/purchases/my-purchases", purchaseHandler.MyPurchases)
		r.Post("/purchases/{id}/cancel", purchaseHandler.Cancel)
	})

	// --- デバッグ用ルート（DEBUG_ROUTES_ENABLED=true の場合のみ）---
	if deps.PurchaseDebugService != nil {
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.GeneralMiddleware())

			r.Post("/purchases/test-purchase", purchaseHandler.TestPurchase)
			r.Post("/purchases/update-status", purchaseHandler.UpdateStatus)
			r.Get("/purchases/debug/all", purchaseHandler.DebugAll)
		})
		logger.Warn("debug purchase routes are enabled")
	}

	return r
}
