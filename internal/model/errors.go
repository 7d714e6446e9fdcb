// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"strings"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string       // エラーコード
	Message  string       // エラーメッセージ
	Category string       // カテゴリ: auth, validation, design, export, billing, system
	Action   string       // ユーザー向け対処方法
	Fields   []FieldError // バリデーションエラー時のフィールド別詳細
}

// FieldError はフィールド単位のバリデーションエラーを表す。
type FieldError struct {
	Field  string
	Reason string
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized         = "UNAUTHORIZED"
	ErrCodeForbidden            = "FORBIDDEN"
	ErrCodeNotFound             = "NOT_FOUND"
	ErrCodeUserNotFound         = "USER_NOT_FOUND"
	ErrCodeDesignNotFound       = "DESIGN_NOT_FOUND"
	ErrCodeTemplateNotFound     = "TEMPLATE_NOT_FOUND"
	ErrCodeExportNotFound       = "EXPORT_NOT_FOUND"
	ErrCodeSubscriptionNotFound = "SUBSCRIPTION_NOT_FOUND"
	ErrCodeQuotaExceeded        = "QUOTA_EXCEEDED"
	ErrCodePremiumRequired      = "PREMIUM_REQUIRED"
	ErrCodeFormatNotAllowed     = "FORMAT_NOT_ALLOWED"
	ErrCodeDpiExceeded          = "DPI_EXCEEDED"
	ErrCodeValidation           = "VALIDATION_ERROR"
	ErrCodeInvalidRequest       = "INVALID_REQUEST"
	ErrCodeEmailTaken           = "EMAIL_TAKEN"
	ErrCodeInvalidCredentials   = "INVALID_CREDENTIALS"
	ErrCodeOAuthAccount         = "OAUTH_ACCOUNT"
	ErrCodeInvalidSignature     = "INVALID_SIGNATURE"
	ErrCodeExportNotReady       = "EXPORT_NOT_READY"
	ErrCodeBillingNotConfigured = "BILLING_NOT_CONFIGURED"
	ErrCodeRateLimited          = "RATE_LIMITED"
	ErrCodeInternal             = "INTERNAL_ERROR"
)

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この操作を行う権限がありません。",
		Category: "auth",
		Action:   "管理者に問い合わせてください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewDesignNotFoundError はデザイン未検出エラーを生成する。
// 他ユーザーのデザインも存在を明かさずこのエラーで返す。
func NewDesignNotFoundError(designID string) *APIError {
	return &APIError{
		Code:     ErrCodeDesignNotFound,
		Message:  fmt.Sprintf("指定されたデザインが見つかりません: %s", designID),
		Category: "design",
		Action:   "デザインIDを確認してください。",
	}
}

// NewTemplateNotFoundError はテンプレート未検出エラーを生成する。
func NewTemplateNotFoundError(templateID string) *APIError {
	return &APIError{
		Code:     ErrCodeTemplateNotFound,
		Message:  fmt.Sprintf("指定されたテンプレートが見つかりません: %s", templateID),
		Category: "design",
		Action:   "テンプレート一覧から選択し直してください。",
	}
}

// NewExportNotFoundError はエクスポートジョブ未検出エラーを生成する。
func NewExportNotFoundError(jobID string) *APIError {
	return &APIError{
		Code:     ErrCodeExportNotFound,
		Message:  fmt.Sprintf("指定されたエクスポートジョブが見つかりません: %s", jobID),
		Category: "export",
		Action:   "ジョブIDを確認してください。",
	}
}

// NewSubscriptionNotFoundError は有効なサブスクリプションがない場合のエラーを生成する。
func NewSubscriptionNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeSubscriptionNotFound,
		Message:  "有効なサブスクリプションが見つかりません。",
		Category: "billing",
		Action:   "料金プランページから購読を開始してください。",
	}
}

// NewQuotaExceededError は月間デザイン作成上限エラーを生成する。
func NewQuotaExceededError(limit int) *APIError {
	return &APIError{
		Code:     ErrCodeQuotaExceeded,
		Message:  fmt.Sprintf("今月のデザイン作成数が上限（%d件）に達しました。", limit),
		Category: "design",
		Action:   "Proプランにアップグレードすると無制限にデザインを作成できます。",
	}
}

// NewPremiumRequiredError はプレミアムテンプレート利用制限エラーを生成する。
func NewPremiumRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodePremiumRequired,
		Message:  "このテンプレートはプレミアム会員専用です。",
		Category: "design",
		Action:   "Proプランにアップグレードするとプレミアムテンプレートを利用できます。",
	}
}

// NewFormatNotAllowedError は現在のプランで利用できない出力形式のエラーを生成する。
func NewFormatNotAllowedError(format ExportFormat) *APIError {
	return &APIError{
		Code:     ErrCodeFormatNotAllowed,
		Message:  fmt.Sprintf("%s形式は現在のプランでは利用できません。", format),
		Category: "export",
		Action:   "アップグレードするとすべての出力形式を利用できます。",
	}
}

// NewDpiExceededError は解像度上限エラーを生成する。
func NewDpiExceededError(maxDPI int) *APIError {
	return &APIError{
		Code:     ErrCodeDpiExceeded,
		Message:  fmt.Sprintf("現在のプランの最大解像度は%d DPIです。", maxDPI),
		Category: "export",
		Action:   "アップグレードすると高解像度で出力できます。",
	}
}

// NewValidationError はフィールド別詳細付きのバリデーションエラーを生成する。
func NewValidationError(fields ...FieldError) *APIError {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Field
	}
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("入力内容に誤りがあります: %s", strings.Join(names, ", ")),
		Category: "validation",
		Action:   "入力内容を確認してください。",
		Fields:   fields,
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

// NewEmailTakenError はメールアドレス重複エラーを生成する。
func NewEmailTakenError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailTaken,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "auth",
		Action:   "ログインするか、別のメールアドレスを使用してください。",
	}
}

// NewInvalidCredentialsError は認証情報不一致エラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認してください。",
	}
}

// NewOAuthAccountError は外部IdPアカウントでパスワード操作を行った場合のエラーを生成する。
func NewOAuthAccountError() *APIError {
	return &APIError{
		Code:     ErrCodeOAuthAccount,
		Message:  "外部アカウントでログインしているためパスワードを変更できません。",
		Category: "auth",
		Action:   "連携しているアカウント側でパスワードを管理してください。",
	}
}

// NewInvalidSignatureError はWebhook署名検証失敗エラーを生成する。
func NewInvalidSignatureError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSignature,
		Message:  "Webhook署名の検証に失敗しました。",
		Category: "billing",
		Action:   "署名シークレットの設定を確認してください。",
	}
}

// NewExportNotReadyError は出力ファイルがまだ生成されていない場合のエラーを生成する。
func NewExportNotReadyError() *APIError {
	return &APIError{
		Code:     ErrCodeExportNotReady,
		Message:  "出力ファイルはまだ生成されていません。",
		Category: "export",
		Action:   "ステータスがcompletedになってから再度お試しください。",
	}
}

// NewBillingNotConfiguredError は課金設定が未構成の場合のエラーを生成する。
func NewBillingNotConfiguredError() *APIError {
	return &APIError{
		Code:     ErrCodeBillingNotConfigured,
		Message:  "このプランは現在購入できません。",
		Category: "billing",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewRateLimitedError はリクエスト頻度超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "Retry-Afterヘッダーの秒数だけ待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。
// 詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
