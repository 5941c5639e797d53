package auth

import (
	"context"
	"fmt"
	"net/url"

	"github.com/beatmiles/beatmiles/internal/model"
)

const (
	defaultGoogleAuthURL     = "https://accounts.google.com/o/oauth2/auth"
	defaultGoogleTokenURL    = "https://oauth2.googleapis.com/token"
	defaultGoogleUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"
)

// GoogleOAuthProvider はGoogle OAuth 2.0による認証を提供する。
type GoogleOAuthProvider struct {
	config OAuthConfig
}

// NewGoogleOAuthProvider はGoogleOAuthProviderを生成する。
func NewGoogleOAuthProvider(config OAuthConfig) *GoogleOAuthProvider {
	return &GoogleOAuthProvider{
		config: config.withDefaults(defaultGoogleAuthURL, defaultGoogleTokenURL, defaultGoogleUserInfoURL),
	}
}

// Name はプロバイダー識別子を返す。
func (p *GoogleOAuthProvider) Name() model.Provider {
	return model.ProviderGoogle
}

// LoginURL はGoogle OAuthの認証URLを生成する。
// スコープにはprofile, emailを含む。
func (p *GoogleOAuthProvider) LoginURL(state string) string {
	return p.config.authCodeURL(state, "openid profile email", url.Values{"prompt": {"select_account"}})
}

// googleUserInfo はGoogleのユーザー情報エンドポイントのレスポンス。
type googleUserInfo struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
}

// ExchangeCode は認可コードをアクセストークンに交換し、ユーザー情報を取得する。
func (p *GoogleOAuthProvider) ExchangeCode(ctx context.Context, code string) (*ExternalProfile, error) {
	accessToken, err := p.config.exchangeToken(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}

	var info googleUserInfo
	if err := p.config.getJSON(ctx, p.config.UserInfoURL, accessToken, &info); err != nil {
		return nil, fmt.Errorf("failed to fetch user info: %w", err)
	}
	if info.Sub == "" {
		return nil, fmt.Errorf("empty sub in user info response")
	}

	profile := &ExternalProfile{
		Provider:   model.ProviderGoogle,
		ExternalID: info.Sub,
		Name:       info.Name,
	}
	// 未検証のメールアドレスは採用しない
	if info.EmailVerified {
		profile.Email = info.Email
	}
	return profile, nil
}

// compile-time interface check
var _ OAuthProvider = (*GoogleOAuthProvider)(nil)
