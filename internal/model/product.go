// Package model はドメインモデルを定義する。
package model

// Product は販売するサブスクリプションプランを表す。
// 起動時にマイグレーションでシードされ、実行中は読み取り専用。
type Product struct {
	ID          int64
	Name        string
	Description string
	Price       int64  // 円（最小通貨単位なし）
	PaymentLink string // Stripe Payment Link（任意）
}
