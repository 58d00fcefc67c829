package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/plancheckout/internal/model"
)

const purchaseColumns = `id, user_id, product_id, external_session_id, status, created_at, updated_at`

// 遷移対象の検索キー。クエリ組み立てにはこの2つ以外を渡さない。
const (
	keyByID        = "id"
	keyBySessionID = "external_session_id"
)

// PostgresPurchaseRepo はPostgreSQLを使用した購入台帳リポジトリ。
type PostgresPurchaseRepo struct {
	db *sql.DB
}

// NewPostgresPurchaseRepo はPostgresPurchaseRepoを生成する。
func NewPostgresPurchaseRepo(db *sql.DB) *PostgresPurchaseRepo {
	return &PostgresPurchaseRepo{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPurchase(row rowScanner) (*model.Purchase, error) {
	p := &model.Purchase{}
	if err := row.Scan(&p.ID, &p.UserID, &p.ProductID, &p.ExternalSessionID, &p.Status, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return p, nil
}

// FindByID は指定IDの購入を取得する。見つからない場合はnilを返す。
func (r *PostgresPurchaseRepo) FindByID(ctx context.Context, id int64) (*model.Purchase, error) {
	return findPurchase(ctx, r.db, keyByID, id, false)
}

// FindBySessionID は決済セッションIDで購入を検索する。見つからない場合はnilを返す。
func (r *PostgresPurchaseRepo) FindBySessionID(ctx context.Context, sessionID string) (*model.Purchase, error) {
	return findPurchase(ctx, r.db, keyBySessionID, sessionID, false)
}

func findPurchase(ctx context.Context, q Querier, key string, arg any, forUpdate bool) (*model.Purchase, error) {
	query := fmt.Sprintf(`SELECT %s FROM purchases WHERE %s = $1`, purchaseColumns, key)
	if forUpdate {
		query += ` FOR UPDATE`
	}
	p, err := scanPurchase(q.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("購入の取得に失敗しました（%s）: %w", key, err)
	}
	return p, nil
}

// ListByUserWithProduct はユーザーの購入を商品情報付きで新しい順に返す。
func (r *PostgresPurchaseRepo) ListByUserWithProduct(ctx context.Context, userID int64) ([]model.PurchaseWithProduct, error) {
	return r.listWithProduct(ctx, `WHERE p.user_id = $1`, userID)
}

// ListAllWithProduct は全ユーザーの購入を商品情報付きで新しい順に返す。
func (r *PostgresPurchaseRepo) ListAllWithProduct(ctx context.Context) ([]model.PurchaseWithProduct, error) {
	return r.listWithProduct(ctx, ``)
}

func (r *PostgresPurchaseRepo) listWithProduct(ctx context.Context, where string, args ...any) ([]model.PurchaseWithProduct, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT p.id, p.user_id, p.product_id, p.external_session_id, p.status, p.created_at, p.updated_at,
		        pr.name, pr.description, pr.price
		 FROM purchases p
		 INNER JOIN products pr ON pr.id = p.product_id `+where+`
		 ORDER BY p.created_at DESC, p.id DESC`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("購入一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	result := make([]model.PurchaseWithProduct, 0)
	for rows.Next() {
		var pw model.PurchaseWithProduct
		if err := rows.Scan(
			&pw.ID, &pw.UserID, &pw.ProductID, &pw.ExternalSessionID, &pw.Status, &pw.CreatedAt, &pw.UpdatedAt,
			&pw.ProductName, &pw.ProductDescription, &pw.Price,
		); err != nil {
			return nil, fmt.Errorf("購入の読み取りに失敗しました: %w", err)
		}
		result = append(result, pw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("購入一覧の走査に失敗しました: %w", err)
	}
	return result, nil
}

// CreatePending はpending状態の購入を作成する。
func (r *PostgresPurchaseRepo) CreatePending(ctx context.Context, userID, productID int64, sessionID string) (*model.Purchase, error) {
	p, err := scanPurchase(r.db.QueryRowContext(ctx,
		`INSERT INTO purchases (user_id, product_id, external_session_id, status)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+purchaseColumns,
		userID, productID, sessionID, model.PurchaseStatusPending,
	))
	if err != nil {
		return nil, classifyInsertError(err, sessionID)
	}
	return p, nil
}

// RecordCompletion は購入の作成（未作成時）とcompletedへの遷移を1トランザクションで行う。
// 既存の購入とユーザー・商品が異なる場合は ErrMetadataMismatch を返し、何も変更しない。
func (r *PostgresPurchaseRepo) RecordCompletion(ctx context.Context, userID, productID int64, sessionID string) (*TransitionResult, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO purchases (user_id, product_id, external_session_id, status)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (external_session_id) DO NOTHING`,
		userID, productID, sessionID, model.PurchaseStatusPending,
	)
	if err != nil {
		return nil, classifyInsertError(err, sessionID)
	}

	current, err := findPurchase(ctx, tx, keyBySessionID, sessionID, true)
	if err != nil {
		return nil, err
	}
	if err := matchCompletion(current, userID, productID); err != nil {
		return nil, err
	}

	result, err := transition(ctx, tx, keyBySessionID, sessionID, model.PurchaseStatusCompleted)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}
	return result, nil
}

// matchCompletion は既存の購入が通知のユーザー・商品と一致することを確認する。
func matchCompletion(p *model.Purchase, userID, productID int64) error {
	if p == nil || (p.UserID == userID && p.ProductID == productID) {
		return nil
	}
	return fmt.Errorf("session %q (user %d product %d, got user %d product %d): %w",
		p.ExternalSessionID, p.UserID, p.ProductID, userID, productID, ErrMetadataMismatch)
}

// TransitionStatus は購入IDを指定してステータスを遷移させる。
func (r *PostgresPurchaseRepo) TransitionStatus(ctx context.Context, id int64, to model.PurchaseStatus) (*TransitionResult, error) {
	return r.transitionInTx(ctx, keyByID, id, to)
}

// TransitionStatusBySession は決済セッションIDを指定してステータスを遷移させる。
func (r *PostgresPurchaseRepo) TransitionStatusBySession(ctx context.Context, sessionID string, to model.PurchaseStatus) (*TransitionResult, error) {
	return r.transitionInTx(ctx, keyBySessionID, sessionID, to)
}

func (r *PostgresPurchaseRepo) transitionInTx(ctx context.Context, key string, arg any, to model.PurchaseStatus) (*TransitionResult, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	result, err := transition(ctx, tx, key, arg, to)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}
	return result, nil
}

// transition は行ロックで現在のステータスを読み、許可された遷移元にある場合のみ
// 比較交換のUPDATEを実行する。遷移した場合はoutboxメッセージも記録する。
func transition(ctx context.Context, tx *sql.Tx, key string, arg any, to model.PurchaseStatus) (*TransitionResult, error) {
	sources := model.AllowedSources(to)
	if len(sources) == 0 {
		return nil, fmt.Errorf("ステータス %q は遷移先にできません", to)
	}

	current, err := findPurchase(ctx, tx, key, arg, true)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return &TransitionResult{}, nil
	}

	result := &TransitionResult{Purchase: current, Previous: current.Status}
	if !model.CanTransition(current.Status, to) {
		return result, nil
	}

	updated, err := scanPurchase(tx.QueryRowContext(ctx,
		`UPDATE purchases SET status = $1, updated_at = NOW()
		 WHERE id = $2 AND status = ANY($3)
		 RETURNING `+purchaseColumns,
		to, current.ID, pq.Array(statusStrings(sources)),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return result, nil
	}
	if err != nil {
		return nil, fmt.Errorf("購入ステータスの更新に失敗しました: %w", err)
	}

	if err := insertOutboxMessage(ctx, tx, updated, eventTypeFor(to)); err != nil {
		return nil, err
	}

	result.Purchase = updated
	result.Changed = true
	return result, nil
}

func classifyInsertError(err error, sessionID string) error {
	switch {
	case isUniqueViolation(err):
		return fmt.Errorf("session %q: %w", sessionID, ErrDuplicate)
	case isForeignKeyViolation(err):
		return fmt.Errorf("session %q: %w", sessionID, ErrReferenceNotFound)
	default:
		return fmt.Errorf("購入の作成に失敗しました: %w", err)
	}
}

func statusStrings(statuses []model.PurchaseStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func eventTypeFor(to model.PurchaseStatus) model.PurchaseEventType {
	if to == model.PurchaseStatusCancelled {
		return model.PurchaseEventCancelled
	}
	return model.PurchaseEventCompleted
}

// compile-time interface check
var _ PurchaseRepository = (*PostgresPurchaseRepo)(nil)
