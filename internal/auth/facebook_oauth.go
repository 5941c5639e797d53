package auth

import (
	"context"
	"fmt"

	"github.com/beatmiles/beatmiles/internal/model"
)

const (
	defaultFacebookAuthURL     = "https://www.facebook.com/v19.0/dialog/oauth"
	defaultFacebookTokenURL    = "https://graph.facebook.com/v19.0/oauth/access_token"
	defaultFacebookUserInfoURL = "https://graph.facebook.com/v19.0/me?fields=id,name,email"
)

// FacebookOAuthProvider はFacebook Loginによる認証を提供する。
type FacebookOAuthProvider struct {
	config OAuthConfig
}

// NewFacebookOAuthProvider はFacebookOAuthProviderを生成する。
func NewFacebookOAuthProvider(config OAuthConfig) *FacebookOAuthProvider {
	return &FacebookOAuthProvider{
		config: config.withDefaults(defaultFacebookAuthURL, defaultFacebookTokenURL, defaultFacebookUserInfoURL),
	}
}

// Name はプロバイダー識別子を返す。
func (p *FacebookOAuthProvider) Name() model.Provider {
	return model.ProviderFacebook
}

// LoginURL はFacebookの同意画面URLを生成する。
func (p *FacebookOAuthProvider) LoginURL(state string) string {
	return p.config.authCodeURL(state, "email", nil)
}

// facebookUser はGraph APIの /me レスポンス。emailはユーザーが許可しない場合に欠落する。
type facebookUser struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// ExchangeCode は認可コードをアクセストークンに交換し、ユーザー情報を取得する。
func (p *FacebookOAuthProvider) ExchangeCode(ctx context.Context, code string) (*ExternalProfile, error) {
	accessToken, err := p.config.exchangeToken(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}

	var me facebookUser
	if err := p.config.getJSON(ctx, p.config.UserInfoURL, accessToken, &me); err != nil {
		return nil, fmt.Errorf("failed to fetch user info: %w", err)
	}
	if me.ID == "" {
		return nil, fmt.Errorf("empty id in user info response")
	}

	return &ExternalProfile{
		Provider:   model.ProviderFacebook,
		ExternalID: me.ID,
		Email:      me.Email,
		Name:       me.Name,
	}, nil
}

// compile-time interface check
var _ OAuthProvider = (*FacebookOAuthProvider)(nil)
