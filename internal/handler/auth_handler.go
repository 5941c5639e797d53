// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/beatmiles/beatmiles/internal/auth"
	"github.com/beatmiles/beatmiles/internal/middleware"
	"github.com/beatmiles/beatmiles/internal/model"
)

// oauthNonceCookie はOAuth stateに埋め込んだnonceを保持するCookieの名前。
const oauthNonceCookie = "oauth_nonce"

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Register(ctx context.Context, email, password string) (*model.User, error)
	Authenticate(ctx context.Context, name model.Strategy, creds auth.Credentials) auth.Outcome
	Logout(ctx context.Context, cookieValue string) error
	ResolveSession(ctx context.Context, cookieValue string) (*model.Principal, error)
	BeginOAuth(provider model.Provider) (redirectURL, nonce string, err error)
	CompleteOAuth(ctx context.Context, provider model.Provider, code, state, nonce string) auth.Outcome
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain    string
	CookieSecure    bool
	SessionMaxAge   int    // セッションCookieの有効期間（秒）
	SuccessRedirect string // OAuthログイン成功時のリダイレクト先
	FailureRedirect string // OAuthログイン失敗時のリダイレクト先
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

// credentialsRequest はローカル認証・登録リクエストのボディ。
type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// userResponse はユーザー情報のAPIレスポンス。パスワードハッシュは含めない。
type userResponse struct {
	ID         string `json:"id"`
	Email      string `json:"email,omitempty"`
	GoogleID   string `json:"googleId,omitempty"`
	FacebookID string `json:"facebookId,omitempty"`
	GitHubID   string `json:"githubId,omitempty"`
	CreatedAt  string `json:"createdAt"`
	UpdatedAt  string `json:"updatedAt"`
}

// checkResponse は認証状態確認のレスポンス。
type checkResponse struct {
	Authenticated bool          `json:"authenticated"`
	User          *userResponse `json:"user,omitempty"`
}

// Register はローカル認証用のユーザーを登録する。
// POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if _, err := h.service.Register(r.Context(), req.Email, req.Password); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, messageResponse{Success: true, Message: "Registration successful"})
}

// Login はメールアドレスとパスワードで認証し、セッションCookieを発行する。
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("Please enter all fields"))
		return
	}

	out := h.service.Authenticate(r.Context(), model.StrategyLocal, auth.Credentials{
		Email:    req.Email,
		Password: req.Password,
	})
	if apiErr := out.APIError(); apiErr != nil {
		middleware.WriteErrorResponse(w, middleware.StatusForAPIError(apiErr), apiErr)
		return
	}

	h.startSession(w, r, out)
	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: out.Message})
}

// Logout はセッションを破棄する。セッションがなくても成功を返す。
// POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(middleware.SessionCookieName); err == nil && cookie.Value != "" {
		if err := h.service.Logout(r.Context(), cookie.Value); err != nil {
			slog.Error("failed to logout", slog.String("error", err.Error()))
			// ログアウト失敗してもCookieはクリアする
		}
	}

	h.clearCookie(w, middleware.SessionCookieName)
	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "Logged out successfully"})
}

// Check は現在の認証状態を返す。
// GET /api/auth/check
func (h *AuthHandler) Check(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err != nil || cookie.Value == "" {
		writeJSON(w, http.StatusOK, checkResponse{Authenticated: false})
		return
	}

	principal, err := h.service.ResolveSession(r.Context(), cookie.Value)
	if err != nil {
		if errors.Is(err, model.ErrUnauthenticated) {
			writeJSON(w, http.StatusOK, checkResponse{Authenticated: false})
			return
		}
		handleServiceError(w, err)
		return
	}

	user := toUserResponse(principal.User)
	writeJSON(w, http.StatusOK, checkResponse{Authenticated: true, User: &user})
}

// BeginOAuth は外部IdPの同意画面へリダイレクトする。
// GET /api/auth/{provider}
func (h *AuthHandler) BeginOAuth(w http.ResponseWriter, r *http.Request) {
	provider, err := model.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewNotFoundError("Provider"))
		return
	}

	redirectURL, nonce, err := h.service.BeginOAuth(provider)
	if err != nil {
		if errors.Is(err, auth.ErrProviderNotConfigured) {
			middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewNotFoundError("Provider"))
			return
		}
		handleServiceError(w, err)
		return
	}

	// nonceをCookieに保存（stateと突き合わせてCSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthNonceCookie,
		Value:    nonce,
		Path:     "/",
		MaxAge:   600, // 10分
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, redirectURL, http.StatusTemporaryRedirect)
}

// OAuthCallback は外部IdPからのコールバックを処理する。
// GET /api/auth/{provider}/callback?code=xxx&state=yyy
func (h *AuthHandler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	provider, err := model.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewNotFoundError("Provider"))
		return
	}

	// nonceは1回限り
	var nonce string
	if c, err := r.Cookie(oauthNonceCookie); err == nil {
		nonce = c.Value
	}
	h.clearCookie(w, oauthNonceCookie)

	q := r.URL.Query()
	if idpErr := q.Get("error"); idpErr != "" || q.Get("code") == "" {
		slog.Warn("oauth callback without code",
			slog.String("provider", string(provider)),
			slog.String("idp_error", idpErr),
		)
		http.Redirect(w, r, h.config.FailureRedirect, http.StatusTemporaryRedirect)
		return
	}

	out := h.service.CompleteOAuth(r.Context(), provider, q.Get("code"), q.Get("state"), nonce)
	if !out.Authenticated() {
		http.Redirect(w, r, h.config.FailureRedirect, http.StatusTemporaryRedirect)
		return
	}

	h.startSession(w, r, out)
	http.Redirect(w, r, h.config.SuccessRedirect, http.StatusTemporaryRedirect)
}

// startSession はリクエストが持っていた既存セッションを破棄してから新しいセッションCookieを設定する。
func (h *AuthHandler) startSession(w http.ResponseWriter, r *http.Request, out auth.Outcome) {
	if old, err := r.Cookie(middleware.SessionCookieName); err == nil && old.Value != "" && old.Value != out.CookieValue {
		if err := h.service.Logout(r.Context(), old.Value); err != nil {
			slog.Warn("failed to discard previous session", slog.String("error", err.Error()))
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    out.CookieValue,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearCookie は指定Cookieを削除する。
func (h *AuthHandler) clearCookie(w http.ResponseWriter, name string) {
	domain := ""
	if name == middleware.SessionCookieName {
		domain = h.config.CookieDomain
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:         u.ID,
		Email:      u.Email,
		GoogleID:   u.GoogleID,
		FacebookID: u.FacebookID,
		GitHubID:   u.GitHubID,
		CreatedAt:  u.CreatedAt.UTC().Format(timeLayout),
		UpdatedAt:  u.UpdatedAt.UTC().Format(timeLayout),
	}
}
