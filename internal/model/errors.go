// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// 認証失敗（AuthFailure）を表すエラー。
// 呼び出し元には区別せず、単一の汎用メッセージとして返す。
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrNoPasswordSet      = errors.New("no password set for account")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// インフラ・セッション関連のエラー。
var (
	// ErrConflict は一意制約違反（email、各IdPのID）を表す。
	ErrConflict = errors.New("unique constraint violation")
	// ErrUnauthenticated はセッションが存在しない、署名不正、または期限切れであることを表す。
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrStoreUnavailable はストアへのアクセスに失敗したことを表す。
	ErrStoreUnavailable = errors.New("store unavailable")
)

// IsAuthFailure はローカル認証の失敗（ユーザー不在・パスワード未設定・不一致）かを判定する。
func IsAuthFailure(err error) bool {
	return errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrNoPasswordSet) ||
		errors.Is(err, ErrInvalidCredentials)
}

// APIError は呼び出し元に返す統一エラーフォーマットを表す。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, workout, system
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeEmailTaken      = "EMAIL_TAKEN"
	ErrCodeUnauthenticated = "UNAUTHENTICATED"
	ErrCodeInvalidLogin    = "INVALID_CREDENTIALS"
	ErrCodeForbidden       = "FORBIDDEN"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeRateLimited     = "RATE_LIMITED"
	ErrCodeCSRFFailed      = "CSRF_FAILED"
	ErrCodeInternal        = "INTERNAL_ERROR"
)

// NewValidationError は入力検証エラーを生成する。
func NewValidationError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  message,
		Category: "validation",
	}
}

// NewEmailTakenError は登録済みメールアドレスでの再登録エラーを生成する。
func NewEmailTakenError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailTaken,
		Message:  "User already exists. Please login.",
		Category: "auth",
	}
}

// NewInvalidLoginError はローカル認証失敗のエラーを生成する。
// アカウント列挙を防ぐため、失敗理由に関わらず同一のメッセージを返す。
func NewInvalidLoginError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidLogin,
		Message:  "Invalid email or password",
		Category: "auth",
	}
}

// NewUnauthenticatedError は未認証エラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "Please log in to access this resource",
		Category: "auth",
	}
}

// NewForbiddenError は所有者以外によるアクセスのエラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "Unauthorized",
		Category: "auth",
	}
}

// NewNotFoundError はリソース未検出エラーを生成する。
func NewNotFoundError(kind string) *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("%s not found", kind),
		Category: "workout",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "Server error",
		Category: "system",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "Too many requests. Please try again later.",
		Category: "system",
	}
}

// NewCSRFFailedError はCSRFトークン検証失敗のエラーを生成する。
func NewCSRFFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFFailed,
		Message:  "CSRF token validation failed",
		Category: "auth",
	}
}
