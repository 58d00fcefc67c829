// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code      string // エラーコード
	Message   string // エラーメッセージ
	Category  string // カテゴリ: auth, validation, catalog, purchase, payment, system
	Action    string // ユーザー向け対処方法
	Retryable bool   // 同じリクエストの再試行で解消する可能性があるか
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidation             = "VALIDATION_ERROR"
	ErrCodeInvalidRequest         = "INVALID_REQUEST"
	ErrCodeUnauthorized           = "UNAUTHORIZED"
	ErrCodeInvalidCredentials     = "INVALID_CREDENTIALS"
	ErrCodeEmailAlreadyRegistered = "EMAIL_ALREADY_REGISTERED"
	ErrCodeProductNotFound        = "PRODUCT_NOT_FOUND"
	ErrCodePurchaseNotFound       = "PURCHASE_NOT_FOUND"
	ErrCodeForbidden              = "FORBIDDEN"
	ErrCodeDuplicateSession       = "DUPLICATE_SESSION"
	ErrCodeInvalidTransition      = "INVALID_TRANSITION"
	ErrCodeInvalidSignature       = "INVALID_SIGNATURE"
	ErrCodeWebhookRetryable       = "WEBHOOK_RETRYABLE"
	ErrCodeProviderUnavailable    = "PAYMENT_PROVIDER_UNAVAILABLE"
	ErrCodeProviderRejected       = "PAYMENT_PROVIDER_REJECTED"
	ErrCodeInternal               = "INTERNAL_ERROR"
)

// NewValidationError は入力値の形式エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("入力内容に誤りがあります: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewInvalidRequestError はリクエストボディの解析失敗エラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewUnauthorizedError は認証トークンが無い・無効な場合のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewInvalidCredentialsError はログイン失敗エラーを生成する。
// メールアドレス未登録とパスワード不一致を区別しない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度ログインしてください。",
	}
}

// NewEmailAlreadyRegisteredError は登録済みメールアドレスでの登録エラーを生成する。
func NewEmailAlreadyRegisteredError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailAlreadyRegistered,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "auth",
		Action:   "ログインするか、別のメールアドレスで登録してください。",
	}
}

// NewProductNotFoundError は商品未検出エラーを生成する。
func NewProductNotFoundError(productID int64) *APIError {
	return &APIError{
		Code:     ErrCodeProductNotFound,
		Message:  fmt.Sprintf("指定された商品が見つかりません: %d", productID),
		Category: "catalog",
		Action:   "商品一覧から商品を選択してください。",
	}
}

// NewPurchaseNotFoundError は購入履歴未検出エラーを生成する。
func NewPurchaseNotFoundError(purchaseID int64) *APIError {
	return &APIError{
		Code:     ErrCodePurchaseNotFound,
		Message:  fmt.Sprintf("指定された購入履歴が見つかりません: %d", purchaseID),
		Category: "purchase",
		Action:   "購入履歴IDを確認してください。",
	}
}

// NewPurchaseSessionNotFoundError は決済セッションIDに対応する購入履歴が無い場合のエラーを生成する。
func NewPurchaseSessionNotFoundError(sessionID string) *APIError {
	return &APIError{
		Code:     ErrCodePurchaseNotFound,
		Message:  fmt.Sprintf("指定されたセッションIDの購入履歴が見つかりません: %s", sessionID),
		Category: "purchase",
		Action:   "セッションIDを確認してください。",
	}
}

// NewForbiddenError は他ユーザーの購入履歴を操作しようとした場合のエラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この購入履歴を操作する権限がありません。",
		Category: "purchase",
		Action:   "ご自身の購入履歴のみ操作できます。",
	}
}

// NewDuplicateSessionError は同一セッションIDの購入が既に存在する場合のエラーを生成する。
func NewDuplicateSessionError(sessionID string) *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateSession,
		Message:  fmt.Sprintf("このセッションIDの購入履歴は既に存在します: %s", sessionID),
		Category: "purchase",
		Action:   "別のセッションIDを指定してください。",
	}
}

// NewInvalidTransitionError は許可されない状態遷移エラーを生成する。
func NewInvalidTransitionError(from, to PurchaseStatus) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidTransition,
		Message:  fmt.Sprintf("購入ステータスを %s から %s に変更することはできません。", from, to),
		Category: "purchase",
		Action:   "現在のステータスを確認してください。",
	}
}

// NewInvalidSignatureError はWebhook署名検証の失敗エラーを生成する。
func NewInvalidSignatureError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSignature,
		Message:  "Webhookの署名が無効です。",
		Category: "payment",
		Action:   "Webhookシークレットの設定を確認してください。",
	}
}

// NewWebhookRetryableError はWebhook処理中の一時的な障害を表すエラーを生成する。
// 決済プロバイダーに再送させるため、呼び出し元は非2xxで応答する。
func NewWebhookRetryableError() *APIError {
	return &APIError{
		Code:      ErrCodeWebhookRetryable,
		Message:   "Webhookの処理中に一時的なエラーが発生しました。",
		Category:  "payment",
		Action:    "再送を待ってください。",
		Retryable: true,
	}
}

// NewProviderUnavailableError は決済プロバイダーへの接続失敗・タイムアウトのエラーを生成する。
func NewProviderUnavailableError() *APIError {
	return &APIError{
		Code:      ErrCodeProviderUnavailable,
		Message:   "決済サービスに接続できませんでした。",
		Category:  "payment",
		Action:    "しばらく待ってから再度お試しください。",
		Retryable: true,
	}
}

// NewProviderRejectedError は決済プロバイダーがリクエストを拒否した場合のエラーを生成する。
func NewProviderRejectedError() *APIError {
	return &APIError{
		Code:     ErrCodeProviderRejected,
		Message:  "決済セッションを作成できませんでした。",
		Category: "payment",
		Action:   "入力内容を確認してください。解決しない場合はお問い合わせください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
