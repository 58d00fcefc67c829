// Package model はドメインモデルを定義する。
package model

import "time"

// OutboxStatus はoutboxメッセージの送信状態を表す。
type OutboxStatus string

const (
	// OutboxStatusPending は未送信。
	OutboxStatusPending OutboxStatus = "pending"
	// OutboxStatusSent はKafkaへの送信済み。
	OutboxStatusSent OutboxStatus = "sent"
)

// PurchaseEventType は購入状態遷移イベントの種別。
type PurchaseEventType string

const (
	// PurchaseEventCompleted は決済完了による遷移。
	PurchaseEventCompleted PurchaseEventType = "purchase.completed"
	// PurchaseEventCancelled は解約による遷移。
	PurchaseEventCancelled PurchaseEventType = "purchase.cancelled"
)

// OutboxMessage は購入レコードの更新と同一トランザクションで記録される送信待ちイベント。
// ワーカーがKafkaへ中継する。
type OutboxMessage struct {
	ID            string
	AggregateID   int64 // purchase ID
	EventType     PurchaseEventType
	Payload       []byte
	Status        OutboxStatus
	Attempts      int
	LastError     string
	NextAttemptAt time.Time
	CreatedAt     time.Time
	SentAt        *time.Time
}

// PurchaseEvent はoutboxに記録されKafkaへ送信されるイベント本体。
type PurchaseEvent struct {
	Type              PurchaseEventType `json:"type"`
	PurchaseID        int64             `json:"purchase_id"`
	UserID            int64             `json:"user_id"`
	ProductID         int64             `json:"product_id"`
	ExternalSessionID string            `json:"external_session_id"`
	Status            PurchaseStatus    `json:"status"`
	OccurredAt        time.Time         `json:"occurred_at"`
}
