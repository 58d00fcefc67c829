package payment

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"time"

	"github.com/hitoshi/plancheckout/internal/model"
)

// メタデータのキー。Webhookで購入者と商品を突き合わせるために使う。
const (
	MetadataProductID = "product_id"
	MetadataUserID    = "user_id"
)

// 決済セッション作成の結果ラベル
const (
	CheckoutOutcomeCreated     = "created"
	CheckoutOutcomeInvalid     = "invalid"
	CheckoutOutcomeRejected    = "rejected"
	CheckoutOutcomeUnavailable = "unavailable"
)

// ProductLookup は商品カタログ。
type ProductLookup interface {
	Get(id int64) (model.Product, error)
}

// CheckoutObserver は決済セッション作成の結果と所要時間を記録する。
type CheckoutObserver interface {
	RecordCheckoutSession(outcome string, duration time.Duration)
}

// CheckoutService は決済セッションの作成を調整する。
// 購入レコードはここでは作らず、決済完了のWebhook受信時に作成される。
type CheckoutService struct {
	products ProductLookup
	gateway  SessionCreator
	observer CheckoutObserver
}

// NewCheckoutService はCheckoutServiceを生成する。observerはnilでもよい。
func NewCheckoutService(products ProductLookup, gateway SessionCreator, observer CheckoutObserver) *CheckoutService {
	return &CheckoutService{products: products, gateway: gateway, observer: observer}
}

// CreateCheckoutSession は商品の決済セッションを作成し、決済ページのURLを返す。
func (s *CheckoutService) CreateCheckoutSession(ctx context.Context, productID, userID int64, successURL, cancelURL string) (string, error) {
	start := time.Now()

	product, err := s.products.Get(productID)
	if err != nil {
		s.record(CheckoutOutcomeInvalid, start)
		return "", err
	}
	if err := validateRedirectURL("successUrl", successURL); err != nil {
		s.record(CheckoutOutcomeInvalid, start)
		return "", err
	}
	if err := validateRedirectURL("cancelUrl", cancelURL); err != nil {
		s.record(CheckoutOutcomeInvalid, start)
		return "", err
	}

	redirectURL, err := s.gateway.CreateCheckoutSession(ctx, CheckoutRequest{
		ProductID:   product.ID,
		UserID:      userID,
		Name:        product.Name,
		Description: product.Description,
		Price:       product.Price,
		SuccessURL:  successURL,
		CancelURL:   cancelURL,
	})
	if err != nil {
		if errors.Is(err, ErrProviderRejected) {
			s.record(CheckoutOutcomeRejected, start)
			slog.Error("checkout session rejected by provider",
				slog.Int64("product_id", productID),
				slog.Int64("user_id", userID),
				slog.String("error", err.Error()),
			)
			return "", model.NewProviderRejectedError()
		}
		s.record(CheckoutOutcomeUnavailable, start)
		slog.Error("payment provider unavailable",
			slog.Int64("product_id", productID),
			slog.Int64("user_id", userID),
			slog.String("error", err.Error()),
		)
		return "", model.NewProviderUnavailableError()
	}

	s.record(CheckoutOutcomeCreated, start)
	slog.Info("checkout session created",
		slog.Int64("product_id", productID),
		slog.Int64("user_id", userID),
	)
	return redirectURL, nil
}

func (s *CheckoutService) record(outcome string, start time.Time) {
	if s.observer != nil {
		s.observer.RecordCheckoutSession(outcome, time.Since(start))
	}
}

// validateRedirectURL はリダイレクト先が絶対URL（http/https）であることを確認する。
func validateRedirectURL(field, raw string) error {
	if raw == "" {
		return model.NewValidationError(field + " は必須です")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return model.NewValidationError(field + " はhttpまたはhttpsの絶対URLで指定してください")
	}
	return nil
}
