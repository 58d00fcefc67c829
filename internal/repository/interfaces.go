// Package repository はデータ永続化のインターフェースとPostgreSQL実装を提供する。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/plancheckout/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// Create はユーザーを作成し、採番済みのユーザーを返す。
	// メールアドレスが登録済みの場合は ErrDuplicate をラップしたエラーを返す。
	Create(ctx context.Context, email, passwordHash string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.User, error)
}

// ProductRepository は商品データの読み取りインターフェース。
type ProductRepository interface {
	// ListAll は全商品をID昇順で返す。
	ListAll(ctx context.Context) ([]*model.Product, error)

	// FindByID は指定IDの商品を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.Product, error)
}

// PurchaseRepository は購入台帳の永続化インターフェース。
// ステータスの書き込みはすべて単一ステートメントの比較交換で行い、
// 遷移が実際に起きた場合のみ同一トランザクションでoutboxメッセージを記録する。
type PurchaseRepository interface {
	// FindByID は指定IDの購入を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.Purchase, error)

	// FindBySessionID は決済セッションIDで購入を検索する。見つからない場合はnilを返す。
	FindBySessionID(ctx context.Context, sessionID string) (*model.Purchase, error)

	// ListByUserWithProduct はユーザーの購入を商品情報付きで新しい順に返す。
	ListByUserWithProduct(ctx context.Context, userID int64) ([]model.PurchaseWithProduct, error)

	// ListAllWithProduct は全ユーザーの購入を商品情報付きで新しい順に返す。
	ListAllWithProduct(ctx context.Context) ([]model.PurchaseWithProduct, error)

	// CreatePending はpending状態の購入を作成する。
	// セッションIDが重複する場合は ErrDuplicate、ユーザーや商品が存在しない場合は
	// ErrReferenceNotFound をラップしたエラーを返す。
	CreatePending(ctx context.Context, userID, productID int64, sessionID string) (*model.Purchase, error)

	// RecordCompletion は決済完了を記録する。
	// 購入が無ければpendingで作成し、pendingであればcompletedへ遷移させる。
	// 同じセッションIDで何度呼んでも結果は変わらない。
	// 既存の購入とユーザー・商品が一致しない場合は ErrMetadataMismatch をラップしたエラーを返す。
	RecordCompletion(ctx context.Context, userID, productID int64, sessionID string) (*TransitionResult, error)

	// TransitionStatus は購入IDを指定してステータスを遷移させる。
	// 現在のステータスが遷移元として許可されていない場合は何も変更せず Changed=false を返す。
	// 購入が存在しない場合は Purchase=nil を返す。
	TransitionStatus(ctx context.Context, id int64, to model.PurchaseStatus) (*TransitionResult, error)

	// TransitionStatusBySession は決済セッションIDを指定してステータスを遷移させる。
	// 振る舞いは TransitionStatus と同じ。
	TransitionStatusBySession(ctx context.Context, sessionID string, to model.PurchaseStatus) (*TransitionResult, error)
}

// TransitionResult はステータス遷移の結果。
type TransitionResult struct {
	// Purchase は操作後の購入レコード。対象が存在しない場合はnil。
	Purchase *model.Purchase
	// Previous は操作前のステータス。対象が存在しない場合は空文字。
	Previous model.PurchaseStatus
	// Changed は今回の呼び出しでステータスが変化したかどうか。
	Changed bool
}

// OutboxRepository はoutboxメッセージの永続化インターフェース。
type OutboxRepository interface {
	// ClaimDue は送信期限を迎えたpendingメッセージを最大limit件取得し、
	// leaseの間は他のワーカーから見えないよう next_attempt_at を先送りする。
	// 取得したメッセージの attempts は1加算される。
	// 同じ aggregate_id に作成順で先行する未送信メッセージがある場合、後続は取得しない。
	ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]*model.OutboxMessage, error)

	// MarkSent は指定メッセージを送信済みにする。
	MarkSent(ctx context.Context, ids []string) error

	// MarkFailed は送信失敗を記録し、次回送信時刻を設定する。
	MarkFailed(ctx context.Context, id string, lastError string, nextAttemptAt time.Time) error

	// DeleteSentBefore は指定時刻より前に送信済みになったメッセージを削除し、削除件数を返す。
	DeleteSentBefore(ctx context.Context, before time.Time) (int64, error)
}

// Querier は *sql.DB と *sql.Tx の共通操作。
// トランザクション内外で同じクエリ関数を使うために用いる。
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	_ Querier = (*sql.DB)(nil)
	_ Querier = (*sql.Tx)(nil)
)
