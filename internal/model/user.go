package model

import (
	"fmt"
	"time"
)

// Provider は外部IdPの識別子。
type Provider string

const (
	ProviderGoogle   Provider = "google"
	ProviderFacebook Provider = "facebook"
	ProviderGitHub   Provider = "github"
)

// Providers はサポートする外部IdPの一覧を返す。
func Providers() []Provider {
	return []Provider{ProviderGoogle, ProviderFacebook, ProviderGitHub}
}

// ParseProvider は文字列を Provider に変換する。未知の値はエラーを返す。
func ParseProvider(s string) (Provider, error) {
	switch Provider(s) {
	case ProviderGoogle, ProviderFacebook, ProviderGitHub:
		return Provider(s), nil
	default:
		return "", fmt.Errorf("unsupported provider: %q", s)
	}
}

// Strategy は認証方式を表す。ローカル認証または各IdP。
type Strategy string

// StrategyLocal はメールアドレス+パスワードによる認証。
const StrategyLocal Strategy = "local"

// StrategyFor は Provider に対応する認証方式を返す。
func StrategyFor(p Provider) Strategy {
	return Strategy(p)
}

// User はサービス利用ユーザーを表す。
// 任意項目は空文字列を「未設定」として扱い、DBにはNULLで保存する。
type User struct {
	ID           string
	Email        string
	PasswordHash string
	GoogleID     string
	FacebookID   string
	GitHubID     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ProviderID は指定IdPの外部IDを返す。未設定の場合は空文字列。
func (u *User) ProviderID(p Provider) string {
	switch p {
	case ProviderGoogle:
		return u.GoogleID
	case ProviderFacebook:
		return u.FacebookID
	case ProviderGitHub:
		return u.GitHubID
	default:
		return ""
	}
}

// SetProviderID は指定IdPの外部IDを設定する。
func (u *User) SetProviderID(p Provider, externalID string) error {
	switch p {
	case ProviderGoogle:
		u.GoogleID = externalID
	case ProviderFacebook:
		u.FacebookID = externalID
	case ProviderGitHub:
		u.GitHubID = externalID
	default:
		return fmt.Errorf("unsupported provider: %q", p)
	}
	return nil
}

// HasPassword はローカル認証用のパスワードが設定されているかを返す。
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	Strategy  Strategy
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired は指定時刻の時点でセッションが期限切れかどうかを返す。
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Principal は認証済みリクエストに紐づく主体。
// セッションミドルウェアが1リクエストにつき1回解決し、コンテキスト経由でハンドラーに渡す。
type Principal struct {
	SessionID string
	Strategy  Strategy
	User      *User
}

// UserID は主体のユーザーIDを返す。
func (p *Principal) UserID() string {
	if p == nil || p.User == nil {
		return ""
	}
	return p.User.ID
}
