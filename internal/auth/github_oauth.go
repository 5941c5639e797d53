package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/beatmiles/beatmiles/internal/model"
)

const (
	defaultGitHubAuthURL     = "https://github.com/login/oauth/authorize"
	defaultGitHubTokenURL    = "https://github.com/login/oauth/access_token"
	defaultGitHubUserInfoURL = "https://api.github.com/user"
)

// GitHubOAuthProvider はGitHub OAuth Appによる認証を提供する。
type GitHubOAuthProvider struct {
	config    OAuthConfig
	emailsURL string
}

// NewGitHubOAuthProvider はGitHubOAuthProviderを生成する。
// メール一覧エンドポイントはユーザー情報URLに "/emails" を付けたもの。
func NewGitHubOAuthProvider(config OAuthConfig) *GitHubOAuthProvider {
	config = config.withDefaults(defaultGitHubAuthURL, defaultGitHubTokenURL, defaultGitHubUserInfoURL)
	return &GitHubOAuthProvider{
		config:    config,
		emailsURL: strings.TrimSuffix(config.UserInfoURL, "/") + "/emails",
	}
}

// Name はプロバイダー識別子を返す。
func (p *GitHubOAuthProvider) Name() model.Provider {
	return model.ProviderGitHub
}

// LoginURL はGitHubの認可URLを生成する。非公開メールの取得のため user:email を要求する。
func (p *GitHubOAuthProvider) LoginURL(state string) string {
	return p.config.authCodeURL(state, "read:user user:email", nil)
}

// githubUser は /user のレスポンス。idは数値で返る。
type githubUser struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// ExchangeCode は認可コードをアクセストークンに交換し、ユーザー情報を取得する。
// 公開メールが未設定の場合は /user/emails から検証済みアドレスを補完する。
func (p *GitHubOAuthProvider) ExchangeCode(ctx context.Context, code string) (*ExternalProfile, error) {
	accessToken, err := p.config.exchangeToken(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}

	var user githubUser
	if err := p.config.getJSON(ctx, p.config.UserInfoURL, accessToken, &user); err != nil {
		return nil, fmt.Errorf("failed to fetch user info: %w", err)
	}
	if user.ID == 0 {
		return nil, fmt.Errorf("empty id in user info response")
	}

	email := user.Email
	if email == "" {
		email, err = p.primaryEmail(ctx, accessToken)
		if err != nil {
			// メールアドレスは任意項目のため、取得できなくてもログインは継続する
			slog.Warn("github email lookup failed",
				slog.Int64("github_id", user.ID),
				slog.String("error", err.Error()),
			)
			email = ""
		}
	}

	name := user.Name
	if name == "" {
		name = user.Login
	}

	return &ExternalProfile{
		Provider:   model.ProviderGitHub,
		ExternalID: strconv.FormatInt(user.ID, 10),
		Email:      email,
		Name:       name,
	}, nil
}

// primaryEmail は検証済みのプライマリメール、なければ最初の検証済みメールを返す。
func (p *GitHubOAuthProvider) primaryEmail(ctx context.Context, accessToken string) (string, error) {
	var emails []githubEmail
	if err := p.config.getJSON(ctx, p.emailsURL, accessToken, &emails); err != nil {
		return "", err
	}
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email, nil
		}
	}
	for _, e := range emails {
		if e.Verified {
			return e.Email, nil
		}
	}
	return "", nil
}

// compile-time interface check
var _ OAuthProvider = (*GitHubOAuthProvider)(nil)
