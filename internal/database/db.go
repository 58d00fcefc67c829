package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// 接続プールの既定値。Webhookの同時着信とワーカーの並行処理を想定した上限。
const (
	defaultMaxOpenConns    = 20
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 30 * time.Minute
)

// Open はPostgreSQLデータベース接続を開き、接続プールを設定する。
// sql.Openは接続を試行しないため、疎通確認にはPingを使用すること。
func Open(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)

	return db, nil
}

// Pinger はPingContextを持つ接続。*sql.DBが満たす。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Ping はタイムアウト付きでデータベースの疎通を確認する。
func Ping(ctx context.Context, db Pinger, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}
