// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeMissingAuthCode      = "MISSING_AUTH_CODE"
	ErrCodeProviderToken        = "PROVIDER_TOKEN_FAILED"
	ErrCodeProviderUserInfo     = "PROVIDER_USERINFO_FAILED"
	ErrCodeProviderEmailMissing = "PROVIDER_EMAIL_MISSING"
	ErrCodeInvalidEmail         = "INVALID_EMAIL"
	ErrCodeStoreUnavailable     = "STORE_UNAVAILABLE"
	ErrCodeInternal             = "INTERNAL_ERROR"
)

// NewMissingAuthCodeError は認可コード未指定エラーを生成する。
func NewMissingAuthCodeError() *APIError {
	return &APIError{
		Code:     ErrCodeMissingAuthCode,
		Message:  "No authorization code provided",
		Category: "auth",
		Action:   "ログインをやり直してください。",
	}
}

// NewProviderTokenError はトークン交換失敗エラーを生成する。
// detailにはIdPが返したエラー本文をそのまま含める。
func NewProviderTokenError(detail string) *APIError {
	return &APIError{
		Code:     ErrCodeProviderToken,
		Message:  fmt.Sprintf("Failed to get token: %s", detail),
		Category: "auth",
		Action:   "ログインをやり直してください。",
	}
}

// NewProviderUserInfoError はユーザー情報取得失敗エラーを生成する。
func NewProviderUserInfoError(detail string) *APIError {
	return &APIError{
		Code:     ErrCodeProviderUserInfo,
		Message:  fmt.Sprintf("Failed to get user info: %s", detail),
		Category: "auth",
		Action:   "ログインをやり直してください。",
	}
}

// NewProviderEmailMissingError はIdPがメールアドレスを返さなかった場合のエラーを生成する。
func NewProviderEmailMissingError() *APIError {
	return &APIError{
		Code:     ErrCodeProviderEmailMissing,
		Message:  "Email not provided by Google",
		Category: "auth",
		Action:   "メールアドレスの提供を許可してログインしてください。",
	}
}

// NewInvalidEmailError はメールアドレス形式が不正な場合のエラーを生成する。
func NewInvalidEmailError(email string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidEmail,
		Message:  fmt.Sprintf("無効なメールアドレスです: %s", email),
		Category: "validation",
		Action:   "別のアカウントでログインしてください。",
	}
}

// NewStoreUnavailableError はユーザーストアに接続できない場合のエラーを生成する。
func NewStoreUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeStoreUnavailable,
		Message:  "ユーザーストアに接続できません。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログにのみ記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
