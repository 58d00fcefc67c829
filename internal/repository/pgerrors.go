package repository

import (
	"errors"

	"github.com/lib/pq"
)

// PostgreSQLのSQLSTATE
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

var (
	// ErrDuplicate は一意制約違反を表す。
	ErrDuplicate = errors.New("duplicate key")
	// ErrReferenceNotFound は外部キーの参照先が存在しないことを表す。
	ErrReferenceNotFound = errors.New("referenced row not found")
	// ErrMetadataMismatch は決済完了通知のユーザー・商品が既存の購入と一致しないことを表す。
	ErrMetadataMismatch = errors.New("completion metadata does not match purchase")
)

func pgErrorCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return pgErrorCode(err) == pgUniqueViolation
}

func isForeignKeyViolation(err error) bool {
	return pgErrorCode(err) == pgForeignKeyViolation
}
