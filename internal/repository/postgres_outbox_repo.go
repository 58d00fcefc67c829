package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/plancheckout/internal/model"
)

// PostgresOutboxRepo はPostgreSQLを使用したoutboxリポジトリ。
type PostgresOutboxRepo struct {
	db *sql.DB
}

// NewPostgresOutboxRepo はPostgresOutboxRepoを生成する。
func NewPostgresOutboxRepo(db *sql.DB) *PostgresOutboxRepo {
	return &PostgresOutboxRepo{db: db}
}

// insertOutboxMessage は購入の遷移イベントをoutboxに記録する。
// 呼び出し元のトランザクション内で実行すること。
func insertOutboxMessage(ctx context.Context, q Querier, p *model.Purchase, eventType model.PurchaseEventType) error {
	payload, err := json.Marshal(model.PurchaseEvent{
		Type:              eventType,
		PurchaseID:        p.ID,
		UserID:            p.UserID,
		ProductID:         p.ProductID,
		ExternalSessionID: p.ExternalSessionID,
		Status:            p.Status,
		OccurredAt:        p.UpdatedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("購入イベントのシリアライズに失敗しました: %w", err)
	}

	// lib/pqは[]byteをbyteaとして送るため、JSONB列には文字列で渡す。
	_, err = q.ExecContext(ctx,
		`INSERT INTO outbox_messages (id, aggregate_id, event_type, payload)
		 VALUES ($1, $2, $3, $4)`,
		uuid.NewString(), p.ID, eventType, string(payload),
	)
	if err != nil {
		return fmt.Errorf("outboxメッセージの作成に失敗しました: %w", err)
	}
	return nil
}

// ClaimDue は送信期限を迎えたpendingメッセージを取得し、lease分だけ次回送信時刻を先送りする。
// FOR UPDATE SKIP LOCKEDにより、複数ワーカーが同じメッセージを同時に取得することはない。
// 同じ購入に未送信の古いメッセージが残っている間は、新しいメッセージを取得しない。
func (r *PostgresOutboxRepo) ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]*model.OutboxMessage, error) {
	rows, err := r.db.QueryContext(ctx,
		`UPDATE outbox_messages
		 SET attempts = attempts + 1,
		     next_attempt_at = NOW() + make_interval(secs => $2)
		 WHERE id IN (
		     SELECT m.id FROM outbox_messages m
		     WHERE m.status = $3 AND m.next_attempt_at <= NOW()
		       AND NOT EXISTS (
		           SELECT 1 FROM outbox_messages older
		           WHERE older.aggregate_id = m.aggregate_id
		             AND older.status = $3
		             AND older.created_at < m.created_at
		       )
		     ORDER BY m.created_at ASC
		     LIMIT $1
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, aggregate_id, event_type, payload, status, attempts,
		           last_error, next_attempt_at, created_at, sent_at`,
		limit, lease.Seconds(), model.OutboxStatusPending,
	)
	if err != nil {
		return nil, fmt.Errorf("送信対象outboxメッセージの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var messages []*model.OutboxMessage
	for rows.Next() {
		msg := &model.OutboxMessage{}
		var sentAt sql.NullTime
		if err := rows.Scan(
			&msg.ID, &msg.AggregateID, &msg.EventType, &msg.Payload, &msg.Status, &msg.Attempts,
			&msg.LastError, &msg.NextAttemptAt, &msg.CreatedAt, &sentAt,
		); err != nil {
			return nil, fmt.Errorf("outboxメッセージの読み取りに失敗しました: %w", err)
		}
		if sentAt.Valid {
			msg.SentAt = &sentAt.Time
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outboxメッセージの走査に失敗しました: %w", err)
	}

	// RETURNINGの順序は保証されないため作成順に並べ直す。
	slices.SortFunc(messages, func(a, b *model.OutboxMessage) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return messages, nil
}

// MarkSent は指定メッセージを送信済みにする。
func (r *PostgresOutboxRepo) MarkSent(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE outbox_messages
		 SET status = $1, sent_at = NOW(), last_error = ''
		 WHERE id = ANY($2)`,
		model.OutboxStatusSent, pq.Array(ids),
	)
	if err != nil {
		return fmt.Errorf("outboxメッセージの送信済み更新に失敗しました: %w", err)
	}
	return nil
}

// MarkFailed は送信失敗を記録し、次回送信時刻を設定する。
func (r *PostgresOutboxRepo) MarkFailed(ctx context.Context, id string, lastError string, nextAttemptAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE outbox_messages
		 SET last_error = $1, next_attempt_at = $2
		 WHERE id = $3 AND status = $4`,
		lastError, nextAttemptAt, id, model.OutboxStatusPending,
	)
	if err != nil {
		return fmt.Errorf("outboxメッセージの送信失敗の記録に失敗しました: %w", err)
	}
	return nil
}

// DeleteSentBefore は指定時刻より前に送信済みになったメッセージを削除する。
func (r *PostgresOutboxRepo) DeleteSentBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM outbox_messages WHERE status = $1 AND sent_at < $2`,
		model.OutboxStatusSent, before,
	)
	if err != nil {
		return 0, fmt.Errorf("送信済みoutboxメッセージの削除に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ OutboxRepository = (*PostgresOutboxRepo)(nil)
