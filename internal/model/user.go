// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// PasswordHash はbcryptハッシュで、APIレスポンスやログには決して含めない。
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// Identity は検証済みトークンから取り出した呼び出し元の識別情報。
type Identity struct {
	UserID int64
	Email  string
}
