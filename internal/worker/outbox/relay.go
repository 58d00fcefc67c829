// Package outbox は購入イベントのoutboxをメッセージブローカーへ中継するワーカーを提供する。
// 送信期限を迎えたメッセージを取得して送信し、失敗したものは指数バックオフで再送する。
package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/plancheckout/internal/events"
	"github.com/hitoshi/plancheckout/internal/model"
	"github.com/hitoshi/plancheckout/internal/repository"
)

// 送信結果のメトリクスラベル
const (
	OutcomePublished = "published"
	OutcomeFailed    = "failed"
)

// Observer は送信結果を記録する。
type Observer interface {
	RecordOutboxMessage(outcome string)
}

// Config はRelayの設定。
type Config struct {
	BatchSize int           // 1サイクルで取得する最大件数（デフォルト: 50）
	Lease     time.Duration // 取得したメッセージを他のワーカーから隠す時間（デフォルト: 1分）
}

// Relay はoutboxメッセージの取得と送信を行う。
// 同じ購入のメッセージは作成順に送信し、先行メッセージが失敗した場合は
// 後続メッセージもそのサイクルでは送信しない。
type Relay struct {
	repo      repository.OutboxRepository
	publisher events.Publisher
	observer  Observer
	logger    *slog.Logger
	batchSize int
	lease     time.Duration
	now       func() time.Time
}

// NewRelay はRelayの新しいインスタンスを生成する。
func NewRelay(
	repo repository.OutboxRepository,
	publisher events.Publisher,
	observer Observer,
	logger *slog.Logger,
	cfg Config,
) *Relay {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Lease <= 0 {
		cfg.Lease = time.Minute
	}
	return &Relay{
		repo:      repo,
		publisher: publisher,
		observer:  observer,
		logger:    logger,
		batchSize: cfg.BatchSize,
		lease:     cfg.Lease,
		now:       time.Now,
	}
}

// Start は指定間隔のティッカーでRelayを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (r *Relay) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("outboxリレーを開始しました",
		slog.Duration("interval", interval),
		slog.Int("batch_size", r.batchSize),
	)

	// 起動直後に1回実行
	r.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outboxリレーを停止しました")
			return
		case <-ticker.C:
			r.runCycle(ctx)
		}
	}
}

func (r *Relay) runCycle(ctx context.Context) {
	if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
		r.logger.Error("outboxリレーサイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// RunOnce は送信期限を迎えたメッセージを1回取得して送信し、送信済みにした件数を返す。
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	start := time.Now()

	messages, err := r.repo.ClaimDue(ctx, r.batchSize, r.lease)
	if err != nil {
		return 0, fmt.Errorf("failed to claim outbox messages: %w", err)
	}
	if len(messages) == 0 {
		return 0, nil
	}

	blocked := make(map[int64]bool)
	sent := make([]string, 0, len(messages))
	failed := 0

	for _, msg := range messages {
		if ctx.Err() != nil {
			break
		}
		if blocked[msg.AggregateID] {
			r.markFailed(ctx, msg, "blocked by an earlier failed message for the same purchase")
			failed++
			continue
		}

		if err := r.publisher.Publish(ctx, msg); err != nil {
			blocked[msg.AggregateID] = true
			r.logger.Warn("outboxメッセージの送信に失敗しました",
				slog.String("message_id", msg.ID),
				slog.Int64("purchase_id", msg.AggregateID),
				slog.Int("attempts", msg.Attempts),
				slog.String("error", err.Error()),
			)
			r.markFailed(ctx, msg, err.Error())
			failed++
			continue
		}
		sent = append(sent, msg.ID)
	}

	if len(sent) > 0 {
		if err := r.repo.MarkSent(ctx, sent); err != nil {
			// リース切れ後に再送される。購読側は message_id で重複を除去する。
			return 0, fmt.Errorf("failed to mark outbox messages sent: %w", err)
		}
		for range sent {
			r.record(OutcomePublished)
		}
	}

	r.logger.Info("outboxリレーサイクルが完了しました",
		slog.Int("claimed", len(messages)),
		slog.Int("sent", len(sent)),
		slog.Int("failed", failed),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return len(sent), nil
}

// markFailed は送信失敗を記録し、試行回数に応じた次回送信時刻を設定する。
func (r *Relay) markFailed(ctx context.Context, msg *model.OutboxMessage, reason string) {
	r.record(OutcomeFailed)

	next := r.now().Add(CalculateBackoff(msg.Attempts))
	if err := r.repo.MarkFailed(ctx, msg.ID, truncateError(reason), next); err != nil {
		r.logger.Error("outboxメッセージの失敗記録に失敗しました",
			slog.String("message_id", msg.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (r *Relay) record(outcome string) {
	if r.observer != nil {
		r.observer.RecordOutboxMessage(outcome)
	}
}
