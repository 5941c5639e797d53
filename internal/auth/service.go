// Package auth はローカル認証・OAuth認証フロー、セッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"sort"
	"time"

	"github.com/beatmiles/beatmiles/internal/metrics"
	"github.com/beatmiles/beatmiles/internal/model"
	"github.com/beatmiles/beatmiles/internal/repository"
)

const (
	// MinPasswordLength は登録時のパスワード最小長。
	MinPasswordLength = 6
	// MaxEmailLength はusers.emailカラム（VARCHAR(320)）に収まる最大長。
	MaxEmailLength = 320
	// maxPasswordBytes はbcryptが扱える最大長。
	maxPasswordBytes = 72
)

// 呼び出し元に返す認証失敗メッセージ。
const (
	msgInvalidLogin    = "Invalid email or password"
	msgAuthFailed      = "Authentication failed"
	msgUnsupportedAuth = "unsupported authentication method"
	msgServerError     = "Server error"
	msgLoginSuccessful = "Login successful"
)

// ErrProviderNotConfigured は未設定のOAuthプロバイダーが指定されたことを表す。
var ErrProviderNotConfigured = errors.New("oauth provider not configured")

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge time.Duration // セッション有効期間
	Metrics       metrics.MetricsCollector
}

// Service は認証に関するビジネスロジックを提供する（Session Authenticator）。
type Service struct {
	users      repository.UserRepository
	sessions   repository.SessionRepository
	hasher     *PasswordHasher
	cookies    *CookieSigner
	states     *StateSigner
	strategies map[model.Strategy]AuthStrategy
	metrics    metrics.MetricsCollector
	ttl        time.Duration
	now        func() time.Time
}

// NewService はServiceを生成する。
// 利用可能な認証方式は strategies で明示的に登録する。
func NewService(
	users repository.UserRepository,
	sessions repository.SessionRepository,
	hasher *PasswordHasher,
	cookies *CookieSigner,
	states *StateSigner,
	config ServiceConfig,
	strategies ...AuthStrategy,
) *Service {
	m := config.Metrics
	if m == nil {
		m = metrics.Nop{}
	}
	ttl := config.SessionMaxAge
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	byName := make(map[model.Strategy]AuthStrategy, len(strategies))
	for _, s := range strategies {
		byName[s.Name()] = s
	}

	return &Service{
		users:      users,
		sessions:   sessions,
		hasher:     hasher,
		cookies:    cookies,
		states:     states,
		strategies: byName,
		metrics:    m,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Authenticate は指定の認証方式で資格情報を検証し、成功時にセッションを発行する。
// 失敗はOutcome.State == StateRejected で表し、エラーとしては返さない。
func (s *Service) Authenticate(ctx context.Context, name model.Strategy, creds Credentials) Outcome {
	out := Outcome{State: StatePending, Strategy: name}

	strategy, ok := s.strategies[name]
	if !ok {
		return s.reject(out, msgUnsupportedAuth, fmt.Errorf("unsupported strategy %q", name))
	}

	out.State = StateVerifying
	user, err := strategy.Authenticate(ctx, creds)
	switch {
	case err != nil && model.IsAuthFailure(err):
		return s.reject(out, msgInvalidLogin, err)
	case err != nil && name == model.StrategyLocal:
		return s.reject(out, msgServerError, err)
	case err != nil:
		return s.reject(out, msgAuthFailed, err)
	case user == nil:
		return s.reject(out, msgServerError, errors.New("strategy returned no user"))
	}

	session, err := s.createSession(ctx, user.ID, name)
	if err != nil {
		return s.reject(out, msgServerError, err)
	}

	s.metrics.RecordAuthAttempt(string(name), StateAuthenticated.String())
	s.metrics.RecordSessionCreated(string(name))
	slog.Info("user authenticated",
		slog.String("user_id", user.ID),
		slog.String("strategy", string(name)),
	)

	return Outcome{
		State:       StateAuthenticated,
		Strategy:    name,
		User:        user,
		Session:     session,
		CookieValue: s.cookies.Sign(session.ID),
		Message:     msgLoginSuccessful,
	}
}

func (s *Service) reject(out Outcome, message string, cause error) Outcome {
	out.State = StateRejected
	out.Message = message
	out.Err = cause

	s.metrics.RecordAuthAttempt(string(out.Strategy), StateRejected.String())
	slog.Warn("login rejected",
		slog.String("strategy", string(out.Strategy)),
		slog.String("reason", cause.Error()),
	)
	return out
}

// Register はローカル認証用のユーザーを登録する。
// 入力不備は VALIDATION_ERROR、登録済みのメールアドレスは EMAIL_TAKEN の *model.APIError を返す。
func (s *Service) Register(ctx context.Context, email, password string) (*model.User, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, model.NewValidationError("Please enter all fields")
	}
	if len(email) > MaxEmailLength {
		return nil, model.NewValidationError(fmt.Sprintf("Email must be at most %d characters", MaxEmailLength))
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return nil, model.NewValidationError("Please enter a valid email address")
	}
	if len(password) < MinPasswordLength {
		return nil, model.NewValidationError(fmt.Sprintf("Password must be at least %d characters", MinPasswordLength))
	}
	if len(password) > maxPasswordBytes {
		return nil, model.NewValidationError(fmt.Sprintf("Password must be at most %d bytes", maxPasswordBytes))
	}

	existing, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if existing != nil {
		return nil, model.NewEmailTakenError()
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	user := &model.User{Email: email, PasswordHash: hash}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, model.ErrConflict) {
			return nil, model.NewEmailTakenError()
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.metrics.RecordUserCreated(string(model.StrategyLocal))
	slog.Info("user registered", slog.String("user_id", user.ID))
	return user, nil
}

// Logout はCookieが指すセッションを破棄する。
// Cookieが空・署名不正・既に存在しない場合も成功として扱う。
func (s *Service) Logout(ctx context.Context, cookieValue string) error {
	sessionID, ok := s.cookies.Verify(cookieValue)
	if !ok {
		return nil
	}

	if err := s.sessions.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out")
	return nil
}

// ResolveSession はCookieからセッションと主体を解決する。
// 未ログイン・署名不正・期限切れ・ユーザー不在は model.ErrUnauthenticated を返す。
func (s *Service) ResolveSession(ctx context.Context, cookieValue string) (*model.Principal, error) {
	sessionID, ok := s.cookies.Verify(cookieValue)
	if !ok {
		return nil, model.ErrUnauthenticated
	}

	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil || session.Expired(s.now()) {
		return nil, model.ErrUnauthenticated
	}

	user, err := s.users.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.ErrUnauthenticated
	}

	return &model.Principal{
		SessionID: session.ID,
		Strategy:  session.Strategy,
		User:      user,
	}, nil
}

// Providers は登録済みのOAuthプロバイダーを名前順で返す。
func (s *Service) Providers() []model.Provider {
	var providers []model.Provider
	for _, strategy := range s.strategies {
		if o, ok := strategy.(*OAuthStrategy); ok {
			providers = append(providers, o.Provider())
		}
	}
	sort.Slice(providers, func(i, j int) bool { return providers[i] < providers[j] })
	return providers
}

func (s *Service) oauthStrategy(provider model.Provider) (*OAuthStrategy, error) {
	o, ok := s.strategies[model.StrategyFor(provider)].(*OAuthStrategy)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotConfigured, provider)
	}
	return o, nil
}

// LoginURL は指定プロバイダーの同意画面URLを返す。
func (s *Service) LoginURL(provider model.Provider, state string) (string, error) {
	o, err := s.oauthStrategy(provider)
	if err != nil {
		return "", err
	}
	return o.LoginURL(state), nil
}

// BeginOAuth は署名付きstateを発行し、同意画面URLとCookie保存用のnonceを返す。
func (s *Service) BeginOAuth(provider model.Provider) (redirectURL, nonce string, err error) {
	if _, err := s.oauthStrategy(provider); err != nil {
		return "", "", err
	}
	state, nonce, err := s.states.Issue(provider)
	if err != nil {
		return "", "", err
	}
	redirectURL, err = s.LoginURL(provider, state)
	if err != nil {
		return "", "", err
	}
	return redirectURL, nonce, nil
}

// CompleteOAuth はstateを検証した上でOAuthコールバックを認証する。
func (s *Service) CompleteOAuth(ctx context.Context, provider model.Provider, code, state, nonce string) Outcome {
	name := model.StrategyFor(provider)
	if err := s.states.Verify(state, provider, nonce); err != nil {
		return s.reject(Outcome{State: StateVerifying, Strategy: name}, msgAuthFailed, err)
	}
	return s.Authenticate(ctx, name, Credentials{Code: code})
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string, strategy model.Strategy) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		Strategy:  strategy,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
