// Package model はドメインモデルを定義する。
package model

import "time"

// PurchaseStatus は購入レコードの状態を表す。
type PurchaseStatus string

const (
	// PurchaseStatusPending は決済完了通知を待っている状態。
	PurchaseStatusPending PurchaseStatus = "pending"
	// PurchaseStatusCompleted は決済完了が確認された状態。
	PurchaseStatusCompleted PurchaseStatus = "completed"
	// PurchaseStatusCancelled はユーザーによって解約された状態。終端状態。
	PurchaseStatusCancelled PurchaseStatus = "cancelled"
)

// transitionSources は遷移先ごとに許可される遷移元の集合。
// cancelled からの遷移、completed から pending への遷移は存在しない。
var transitionSources = map[PurchaseStatus][]PurchaseStatus{
	PurchaseStatusCompleted: {PurchaseStatusPending},
	PurchaseStatusCancelled: {PurchaseStatusPending, PurchaseStatusCompleted},
}

// Valid は既知のステータスかどうかを返す。
func (s PurchaseStatus) Valid() bool {
	switch s {
	case PurchaseStatusPending, PurchaseStatusCompleted, PurchaseStatusCancelled:
		return true
	default:
		return false
	}
}

// AllowedSources は指定ステータスへ遷移可能な遷移元ステータスを返す。
// 遷移先として到達できないステータス（pending）の場合は空スライスを返す。
func AllowedSources(to PurchaseStatus) []PurchaseStatus {
	src := transitionSources[to]
	out := make([]PurchaseStatus, len(src))
	copy(out, src)
	return out
}

// CanTransition は from から to への遷移が許可されているかを返す。
func CanTransition(from, to PurchaseStatus) bool {
	for _, s := range transitionSources[to] {
		if s == from {
			return true
		}
	}
	return false
}

// Purchase はユーザーの購入（サブスクリプション申し込み）を表す。
// ExternalSessionID はStripe Checkout SessionのIDで、Webhookとの突き合わせキーになる。
type Purchase struct {
	ID                int64
	UserID            int64
	ProductID         int64
	ExternalSessionID string
	Status            PurchaseStatus
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// OwnedBy は購入レコードが指定ユーザーの所有かどうかを返す。
func (p *Purchase) OwnedBy(userID int64) bool {
	return p != nil && p.UserID == userID
}

// PurchaseWithProduct は購入レコードと商品情報を結合した表示用モデル。
// productsテーブルとJOINして取得される。
type PurchaseWithProduct struct {
	Purchase
	ProductName        string
	ProductDescription string
	Price              int64
}
