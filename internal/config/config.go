// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/beatmiles/beatmiles/internal/model"
)

// MinSessionSecretLength はSESSION_SECRETの最小バイト数。
const MinSessionSecretLength = 16

// OAuthClient は外部IdPのクライアント設定。
// ClientIDとClientSecretの両方が設定されている場合のみ有効になる。
type OAuthClient struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	RedirectURL  string `env:"REDIRECT_URL"`
}

// Enabled はIdPが設定済みかを返す。
func (c OAuthClient) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL       string        `env:"DATABASE_URL,required,notEmpty"`
	DBMaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	DBConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"5m"`

	// Session
	SessionSecret          string        `env:"SESSION_SECRET,required,notEmpty"`
	SessionMaxAge          int           `env:"SESSION_MAX_AGE" envDefault:"86400"`
	SessionCleanupInterval time.Duration `env:"SESSION_CLEANUP_INTERVAL" envDefault:"1h"`
	BcryptCost             int           `env:"BCRYPT_COST" envDefault:"10"`

	// OAuth
	Google   OAuthClient `envPrefix:"GOOGLE_"`
	Facebook OAuthClient `envPrefix:"FACEBOOK_"`
	GitHub   OAuthClient `envPrefix:"GITHUB_"`

	AuthSuccessRedirect string `env:"AUTH_SUCCESS_REDIRECT"`
	AuthFailureRedirect string `env:"AUTH_FAILURE_REDIRECT"`

	// Rate Limit（req/min）
	RateLimitGeneral int `env:"RATE_LIMIT_GENERAL" envDefault:"120"`
	RateLimitAuth    int `env:"RATE_LIMIT_AUTH" envDefault:"10"`

	// Server
	ServerPort string     `env:"SERVER_PORT" envDefault:"8080"`
	BaseURL    string     `env:"BASE_URL,required,notEmpty"`
	LogLevel   slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`

	// TrustedProxies はX-Forwarded-Forを信頼する接続元（CIDRまたはIP、カンマ区切り）。
	// 空の場合はプロキシヘッダーを使わない。
	TrustedProxies       []string       `env:"TRUSTED_PROXIES"`
	TrustedProxyPrefixes []netip.Prefix `env:"-"`

	// WorkerMetricsPort はworkerがメトリクスを公開するポート。"0" の場合は公開しない。
	WorkerMetricsPort string `env:"WORKER_METRICS_PORT" envDefault:"9091"`

	// Cookie
	CookieSecure bool   `env:"-"`
	CookieDomain string `env:"COOKIE_DOMAIN"`

	// CORS / CSRF
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN" envDefault:"http://localhost:3000"`
	CSRFEnabled       bool   `env:"CSRF_ENABLED" envDefault:"true"`
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込む（既に設定済みの環境変数は上書きしない）。
// 必須環境変数が未設定、または値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	prefixes, err := parseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}
	cfg.TrustedProxyPrefixes = prefixes
	return cfg, nil
}

// WorkerMetricsEnabled はworkerが /metrics を公開するかを返す。
func (c *Config) WorkerMetricsEnabled() bool {
	return c.WorkerMetricsPort != "" && c.WorkerMetricsPort != "0"
}

// parseTrustedProxies はTRUSTED_PROXIESの各要素をプレフィックスに変換する。
// 単一IPはそのアドレスのみを含むプレフィックスとして扱う。
func parseTrustedProxies(values []string) ([]netip.Prefix, error) {
	var prefixes []netip.Prefix
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if p, err := netip.ParsePrefix(v); err == nil {
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(v)
		if err != nil {
			return nil, fmt.Errorf("TRUSTED_PROXIES contains an invalid address: %q", v)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// applyDefaults はBASE_URLから導出する値を補完する。
func (c *Config) applyDefaults() {
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	c.CookieSecure = strings.HasPrefix(c.BaseURL, "https://")

	for _, p := range model.Providers() {
		client := c.OAuthClient(p)
		if client.RedirectURL == "" {
			client.RedirectURL = fmt.Sprintf("%s/api/auth/%s/callback", c.BaseURL, p)
		}
	}
	if c.AuthSuccessRedirect == "" {
		c.AuthSuccessRedirect = c.BaseURL + "/index.html"
	}
	if c.AuthFailureRedirect == "" {
		c.AuthFailureRedirect = c.BaseURL + "/login.html"
	}
}

func (c *Config) validate() error {
	if len(c.SessionSecret) < MinSessionSecretLength {
		return fmt.Errorf("SESSION_SECRET must be at least %d bytes", MinSessionSecretLength)
	}
	if c.SessionMaxAge <= 0 {
		return fmt.Errorf("SESSION_MAX_AGE must be positive: %d", c.SessionMaxAge)
	}
	if c.SessionCleanupInterval <= 0 {
		return fmt.Errorf("SESSION_CLEANUP_INTERVAL must be positive: %s", c.SessionCleanupInterval)
	}
	if c.RateLimitGeneral <= 0 || c.RateLimitAuth <= 0 {
		return fmt.Errorf("rate limits must be positive: general=%d auth=%d", c.RateLimitGeneral, c.RateLimitAuth)
	}

	var partial []string
	for _, p := range model.Providers() {
		client := c.OAuthClient(p)
		if (client.ClientID == "") != (client.ClientSecret == "") {
			partial = append(partial, strings.ToUpper(string(p)))
		}
	}
	if len(partial) > 0 {
		return fmt.Errorf("oauth client id and secret must be set together: %v", partial)
	}
	return nil
}

// OAuthClient は指定IdPのクライアント設定へのポインタを返す。
func (c *Config) OAuthClient(p model.Provider) *OAuthClient {
	switch p {
	case model.ProviderGoogle:
		return &c.Google
	case model.ProviderFacebook:
		return &c.Facebook
	case model.ProviderGitHub:
		return &c.GitHub
	default:
		return nil
	}
}

// SessionTTL はセッションの有効期間を返す。
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionMaxAge) * time.Second
}
