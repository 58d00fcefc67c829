package payment

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/hitoshi/plancheckout/internal/model"
	"github.com/hitoshi/plancheckout/internal/repository"
)

// Webhookの処理結果。レスポンスの status に載る。
const (
	WebhookProcessed = "processed"
	WebhookDuplicate = "duplicate"
	WebhookIgnored   = "ignored"
)

// CompletionRecorder は決済完了を購入台帳に反映する。
type CompletionRecorder interface {
	RecordCompletion(ctx context.Context, userID, productID int64, sessionID string) (*repository.TransitionResult, error)
}

// WebhookObserver はWebhookイベントの処理結果を記録する。
type WebhookObserver interface {
	RecordWebhookEvent(eventType, outcome string)
}

// WebhookResult はWebhookの受理結果。
type WebhookResult struct {
	EventID   string
	EventType string
	Status    string
}

// WebhookService はStripeからのWebhookを検証し、購入台帳へ反映する。
type WebhookService struct {
	secret   string
	recorder CompletionRecorder
	observer WebhookObserver
}

// NewWebhookService はWebhookServiceを生成する。observerはnilでもよい。
func NewWebhookService(secret string, recorder CompletionRecorder, observer WebhookObserver) *WebhookService {
	return &WebhookService{secret: secret, recorder: recorder, observer: observer}
}

// HandleWebhook は署名を検証してイベントを処理する。
// payload は受信したリクエストボディのバイト列そのものでなければならない。
//
// 署名不正は INVALID_SIGNATURE、一時的な保存失敗は WEBHOOK_RETRYABLE を返す。
// 未知のイベントやメタデータ不備、存在しないユーザー・商品、既存の購入と一致しない
// メタデータは受理して ignored とする。
func (s *WebhookService) HandleWebhook(ctx context.Context, signature string, payload []byte) (*WebhookResult, error) {
	if strings.TrimSpace(signature) == "" {
		slog.Warn("webhook rejected: missing signature")
		s.record("unknown", "invalid_signature")
		return nil, model.NewInvalidSignatureError()
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, s.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		slog.Warn("webhook rejected: signature verification failed", slog.String("error", err.Error()))
		s.record("unknown", "invalid_signature")
		return nil, model.NewInvalidSignatureError()
	}

	result := &WebhookResult{EventID: event.ID, EventType: string(event.Type)}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		result.Status, err = s.handleCheckoutCompleted(ctx, &event)
		if err != nil {
			s.record(result.EventType, "retryable_error")
			return nil, err
		}
	default:
		slog.Info("webhook event ignored: unhandled type",
			slog.String("event_id", event.ID),
			slog.String("event_type", result.EventType),
		)
		result.Status = WebhookIgnored
	}

	s.record(result.EventType, result.Status)
	return result, nil
}

func (s *WebhookService) handleCheckoutCompleted(ctx context.Context, event *stripe.Event) (string, error) {
	logger := slog.With(slog.String("event_id", event.ID))

	if event.Data == nil {
		logger.Warn("webhook event ignored: missing data")
		return WebhookIgnored, nil
	}
	var cs stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
		logger.Warn("webhook event ignored: malformed checkout session", slog.String("error", err.Error()))
		return WebhookIgnored, nil
	}
	if cs.ID == "" {
		logger.Warn("webhook event ignored: checkout session without id")
		return WebhookIgnored, nil
	}

	logger = logger.With(slog.String("session_id", cs.ID))

	productID, ok := parseMetadataID(cs.Metadata, MetadataProductID)
	if !ok {
		logger.Warn("webhook event ignored: product_id metadata missing or invalid")
		return WebhookIgnored, nil
	}
	userID, ok := parseMetadataID(cs.Metadata, MetadataUserID)
	if !ok {
		logger.Warn("webhook event ignored: user_id metadata missing or invalid")
		return WebhookIgnored, nil
	}

	res, err := s.recorder.RecordCompletion(ctx, userID, productID, cs.ID)
	if err != nil {
		if errors.Is(err, repository.ErrMetadataMismatch) {
			logger.Error("webhook event ignored: metadata does not match existing purchase",
				slog.Int64("user_id", userID),
				slog.Int64("product_id", productID),
				slog.String("error", err.Error()),
			)
			return WebhookIgnored, nil
		}
		var apiErr *model.APIError
		if errors.Is(err, repository.ErrReferenceNotFound) || errors.As(err, &apiErr) {
			logger.Error("webhook event ignored: purchase cannot be recorded",
				slog.Int64("user_id", userID),
				slog.Int64("product_id", productID),
				slog.String("error", err.Error()),
			)
			return WebhookIgnored, nil
		}
		logger.Error("webhook processing failed; provider will redeliver", slog.String("error", err.Error()))
		return "", model.NewWebhookRetryableError()
	}

	if !res.Changed {
		logger.Info("webhook event already applied",
			slog.Int64("purchase_id", res.Purchase.ID),
			slog.String("status", string(res.Purchase.Status)),
		)
		return WebhookDuplicate, nil
	}
	return WebhookProcessed, nil
}

func (s *WebhookService) record(eventType, outcome string) {
	if s.observer != nil {
		s.observer.RecordWebhookEvent(eventType, outcome)
	}
}

// parseMetadataID はメタデータから正の整数IDを取り出す。
func parseMetadataID(metadata map[string]string, key string) (int64, bool) {
	raw, ok := metadata[key]
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
