// Package payment はStripeを利用した決済セッションの作成とWebhook処理を提供する。
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
)

var (
	// ErrProviderUnavailable は決済プロバイダーに到達できない・タイムアウト・5xx・遮断中を表す。
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	// ErrProviderRejected は決済プロバイダーがリクエストを拒否したことを表す。
	ErrProviderRejected = errors.New("payment provider rejected request")
)

// CheckoutRequest は決済セッション作成に必要な情報。
type CheckoutRequest struct {
	ProductID   int64
	UserID      int64
	Name        string
	Description string
	Price       int64
	SuccessURL  string
	CancelURL   string
}

// SessionCreator は決済セッションを作成し、ホスト型決済ページのURLを返す。
type SessionCreator interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (string, error)
}

// StripeConfig はStripeGatewayの設定。
type StripeConfig struct {
	SecretKey string
	// APIURL はAPIのベースURL。空の場合は本番APIを使う。テストやモックサーバー向け。
	APIURL     string
	Timeout    time.Duration
	HTTPClient *http.Client

	// BreakerFailureThreshold 回連続で到達不能になると遮断する。
	BreakerFailureThreshold uint32
	// BreakerOpenTimeout は遮断状態から半開状態へ移るまでの時間。
	BreakerOpenTimeout time.Duration
}

// StripeGateway はStripe Checkout Sessionを作成する。
// 呼び出しはタイムアウト付きで、サーキットブレーカーを経由する。
type StripeGateway struct {
	sessions *session.Client
	timeout  time.Duration
	breaker  *gobreaker.CircuitBreaker[*stripe.CheckoutSession]
}

// NewStripeGateway はStripeGatewayを生成する。
func NewStripeGateway(cfg StripeConfig) *StripeGateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BreakerFailureThreshold == 0 {
		cfg.BreakerFailureThreshold = 5
	}
	if cfg.BreakerOpenTimeout <= 0 {
		cfg.BreakerOpenTimeout = 30 * time.Second
	}

	backendCfg := &stripe.BackendConfig{
		HTTPClient: cfg.HTTPClient,
		// 失敗した呼び出しは暗黙に再送しない
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     slogStripeLogger{},
	}
	if cfg.APIURL != "" {
		backendCfg.URL = stripe.String(cfg.APIURL)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg)

	threshold := cfg.BreakerFailureThreshold
	breaker := gobreaker.NewCircuitBreaker[*stripe.CheckoutSession](gobreaker.Settings{
		Name:        "stripe-checkout",
		MaxRequests: 1,
		Timeout:     cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// 4xxはプロバイダーの障害ではないため失敗として数えない
		IsSuccessful: func(err error) bool {
			return err == nil || classifyStripeError(err) == ErrProviderRejected
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})

	return &StripeGateway{
		sessions: &session.Client{B: backend, Key: cfg.SecretKey},
		timeout:  cfg.Timeout,
		breaker:  breaker,
	}
}

// CreateCheckoutSession は月額サブスクリプションのCheckout Sessionを作成し、URLを返す。
// 返すエラーは ErrProviderUnavailable か ErrProviderRejected をラップしている。
func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	productData := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
		Name: stripe.String(req.Name),
	}
	if req.Description != "" {
		productData.Description = stripe.String(req.Description)
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:    stripe.String(string(stripe.CurrencyJPY)),
					ProductData: productData,
					UnitAmount:  stripe.Int64(req.Price),
					Recurring: &stripe.CheckoutSessionLineItemPriceDataRecurringParams{
						Interval: stripe.String(string(stripe.PriceRecurringIntervalMonth)),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.Context = ctx
	params.AddMetadata(MetadataProductID, strconv.FormatInt(req.ProductID, 10))
	params.AddMetadata(MetadataUserID, strconv.FormatInt(req.UserID, 10))

	cs, err := g.breaker.Execute(func() (*stripe.CheckoutSession, error) {
		return g.sessions.New(params)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
		return "", fmt.Errorf("%w: %v", classifyStripeError(err), err)
	}
	if cs.URL == "" {
		return "", fmt.Errorf("%w: checkout session %s has no url", ErrProviderRejected, cs.ID)
	}
	return cs.URL, nil
}

// classifyStripeError はStripeのエラーを再試行可能かどうかで分類する。
// 4xx（429を除く）は拒否、それ以外（通信エラー・タイムアウト・5xx）は到達不能とみなす。
func classifyStripeError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		status := stripeErr.HTTPStatusCode
		if status >= 400 && status < 500 && status != http.StatusTooManyRequests {
			return ErrProviderRejected
		}
	}
	return ErrProviderUnavailable
}

// slogStripeLogger はstripe-goのログをslogに流す。
type slogStripeLogger struct{}

func (slogStripeLogger) Debugf(format string, v ...any) {
	slog.Debug(fmt.Sprintf(format, v...), slog.String("component", "stripe"))
}

func (slogStripeLogger) Infof(format string, v ...any) {
	slog.Debug(fmt.Sprintf(format, v...), slog.String("component", "stripe"))
}

func (slogStripeLogger) Warnf(format string, v ...any) {
	slog.Warn(fmt.Sprintf(format, v...), slog.String("component", "stripe"))
}

func (slogStripeLogger) Errorf(format string, v ...any) {
	slog.Error(fmt.Sprintf(format, v...), slog.String("component", "stripe"))
}

var (
	_ SessionCreator                = (*StripeGateway)(nil)
	_ stripe.LeveledLoggerInterface = slogStripeLogger{}
)
