package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/plancheckout/internal/model"
)

// PostgresProductRepo はPostgreSQLを使用した商品リポジトリ。
type PostgresProductRepo struct {
	db *sql.DB
}

// NewPostgresProductRepo はPostgresProductRepoを生成する。
func NewPostgresProductRepo(db *sql.DB) *PostgresProductRepo {
	return &PostgresProductRepo{db: db}
}

// ListAll は全商品をID昇順で返す。
func (r *PostgresProductRepo) ListAll(ctx context.Context) ([]*model.Product, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, description, price, payment_link FROM products ORDER BY id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("商品一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var products []*model.Product
	for rows.Next() {
		p := &model.Product{}
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.PaymentLink); err != nil {
			return nil, fmt.Errorf("商品の読み取りに失敗しました: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("商品一覧の走査に失敗しました: %w", err)
	}
	return products, nil
}

// FindByID は指定IDの商品を取得する。見つからない場合はnilを返す。
func (r *PostgresProductRepo) FindByID(ctx context.Context, id int64) (*model.Product, error) {
	p := &model.Product{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, description, price, payment_link FROM products WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.PaymentLink)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("商品の取得に失敗しました: %w", err)
	}
	return p, nil
}

// compile-time interface check
var _ ProductRepository = (*PostgresProductRepo)(nil)
