package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/plancheckout/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// Create はユーザーを作成する。メールアドレス重複時は ErrDuplicate をラップして返す。
func (r *PostgresUserRepo) Create(ctx context.Context, email, passwordHash string) (*model.User, error) {
	user := &model.User{Email: email, PasswordHash: passwordHash}
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO users (email, password_hash) VALUES ($1, $2)
		 RETURNING id, created_at`,
		email, passwordHash,
	).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("email %q: %w", email, ErrDuplicate)
		}
		return nil, fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
	}
	return user, nil
}

// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.findOne(ctx,
		`SELECT id, email, password_hash, created_at FROM users WHERE email = $1`, email)
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id int64) (*model.User, error) {
	return r.findOne(ctx,
		`SELECT id, email, password_hash, created_at FROM users WHERE id = $1`, id)
}

func (r *PostgresUserRepo) findOne(ctx context.Context, query string, arg any) (*model.User, error) {
	user := &model.User{}
	err := r.db.QueryRowContext(ctx, query, arg).
		Scan(&user.ID, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	return user, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
