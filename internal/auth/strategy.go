package auth

import (
	"context"
	"fmt"

	"github.com/beatmiles/beatmiles/internal/model"
)

// AttemptState は1回の認証試行の状態。
// Pending → Verifying → Authenticated / Rejected と一方向に遷移する。
type AttemptState int

const (
	StatePending AttemptState = iota
	StateVerifying
	StateAuthenticated
	StateRejected
)

func (s AttemptState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateVerifying:
		return "verifying"
	case StateAuthenticated:
		return "authenticated"
	case StateRejected:
		return "rejected"
	default:
		return fmt.Sprintf("AttemptState(%d)", int(s))
	}
}

// Credentials は認証方式に渡す入力。ローカル認証はEmail/Password、OAuthはCodeを使う。
type Credentials struct {
	Email    string
	Password string
	Code     string
}

// AuthStrategy は認証方式のインターフェース。
// 成功時はユーザーを返し、失敗時はエラーを返す。
type AuthStrategy interface {
	Name() model.Strategy
	Authenticate(ctx context.Context, creds Credentials) (*model.User, error)
}

// Outcome は認証試行の結果。
// Message は呼び出し元に返す文言で、Err はログ・メトリクス用の原因。
type Outcome struct {
	State       AttemptState
	Strategy    model.Strategy
	User        *model.User
	Session     *model.Session
	CookieValue string
	Message     string
	Err         error
}

// Authenticated は認証に成功したかを返す。
func (o Outcome) Authenticated() bool {
	return o.State == StateAuthenticated
}

// LocalStrategy はメールアドレスとパスワードによる認証方式。
type LocalStrategy struct {
	verifier *CredentialVerifier
}

// NewLocalStrategy はLocalStrategyを生成する。
func NewLocalStrategy(verifier *CredentialVerifier) *LocalStrategy {
	return &LocalStrategy{verifier: verifier}
}

// Name は認証方式名を返す。
func (s *LocalStrategy) Name() model.Strategy {
	return model.StrategyLocal
}

// Authenticate は資格情報を検証する。
func (s *LocalStrategy) Authenticate(ctx context.Context, creds Credentials) (*model.User, error) {
	if creds.Email == "" || creds.Password == "" {
		return nil, model.ErrInvalidCredentials
	}
	return s.verifier.Verify(ctx, creds.Email, creds.Password)
}

// OAuthStrategy は外部IdPによる認証方式。プロバイダーごとに1つ生成する。
type OAuthStrategy struct {
	provider OAuthProvider
	resolver *IdentityResolver
}

// NewOAuthStrategy はOAuthStrategyを生成する。
func NewOAuthStrategy(provider OAuthProvider, resolver *IdentityResolver) *OAuthStrategy {
	return &OAuthStrategy{provider: provider, resolver: resolver}
}

// Name は認証方式名を返す。
func (s *OAuthStrategy) Name() model.Strategy {
	return model.StrategyFor(s.provider.Name())
}

// Provider はプロバイダー識別子を返す。
func (s *OAuthStrategy) Provider() model.Provider {
	return s.provider.Name()
}

// LoginURL は同意画面へのURLを返す。
func (s *OAuthStrategy) LoginURL(state string) string {
	return s.provider.LoginURL(state)
}

// Authenticate は認可コードを交換し、プロフィールをローカルユーザーに解決する。
func (s *OAuthStrategy) Authenticate(ctx context.Context, creds Credentials) (*model.User, error) {
	if creds.Code == "" {
		return nil, fmt.Errorf("missing authorization code")
	}
	profile, err := s.provider.ExchangeCode(ctx, creds.Code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}
	return s.resolver.Resolve(ctx, *profile)
}

var (
	_ AuthStrategy = (*LocalStrategy)(nil)
	_ AuthStrategy = (*OAuthStrategy)(nil)
)

// APIError は拒否理由を呼び出し元向けのエラーに変換する。認証成功時はnilを返す。
func (o Outcome) APIError() *model.APIError {
	switch {
	case o.Authenticated():
		return nil
	case o.Message == msgServerError:
		return model.NewInternalError()
	case o.Message == msgInvalidLogin:
		return model.NewInvalidLoginError()
	default:
		return &model.APIError{
			Code:     model.ErrCodeUnauthenticated,
			Message:  o.Message,
			Category: "auth",
		}
	}
}
