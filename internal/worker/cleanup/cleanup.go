// Package cleanup は送信済みoutboxメッセージの自動削除ジョブを提供する。
// 保持期間（デフォルト14日）を超過した送信済みメッセージを日次バッチで削除する。
// 未送信のメッセージは保持期間に関係なく削除しない。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// SentMessageDeleter は送信済みメッセージの削除を行うインターフェース。
// repository.OutboxRepository が満たす。
type SentMessageDeleter interface {
	DeleteSentBefore(ctx context.Context, before time.Time) (int64, error)
}

// CleanupJob は保持期間を超過した送信済みoutboxメッセージの自動削除ジョブ。
// 削除対象がなくてもエラーにならない。
type CleanupJob struct {
	repo          SentMessageDeleter
	logger        *slog.Logger
	now           func() time.Time
	RetentionDays int // 送信済みメッセージの保持日数（デフォルト: 14）
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(repo SentMessageDeleter, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		repo:          repo,
		logger:        logger,
		now:           time.Now,
		RetentionDays: 14,
	}
}

// Run は sent_at が RetentionDays 日前より古い送信済みメッセージを削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	before := j.now().AddDate(0, 0, -j.RetentionDays)

	deletedCount, err := j.repo.DeleteSentBefore(ctx, before)
	if err != nil {
		j.logger.Error("outboxクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("outboxクリーンアップの実行に失敗: %w", err)
	}

	j.logger.Info("outboxクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return nil
}

// Start は起動直後に1回、以降は指定間隔でRunを実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if err := j.Run(ctx); err != nil && ctx.Err() == nil {
		j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil && ctx.Err() == nil {
				j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
			}
		}
	}
}
