package handler

import (
	"log/slog"
	"net/http"
	"net/netip"

	"github.com/go-chi/chi/v5"

	"github.com/beatmiles/beatmiles/internal/metrics"
	"github.com/beatmiles/beatmiles/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector
	MetricsHandler    http.Handler
	SessionResolver   middleware.SessionResolver
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	TrustedProxies    []netip.Prefix // 空の場合はプロキシヘッダーを使わない
	CSRFEnabled       bool
	CSRFConfig        middleware.CSRFConfig

	// ヘルスチェック
	HealthChecker HealthChecker

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// ワークアウト
	WorkoutService WorkoutServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	TrustedRealIP → Recovery → Logging → Metrics → SecurityHeaders → CORS
//	  /api/auth/csrf-token
//	  それ以外: + CSRF
//	    /api/auth/login, /api/auth/register: + RateLimit(Auth)
//	    /api/workouts: + Session → RateLimit(General)
//
// /health と /metrics はAPIのミドルウェアチェーンの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.Nop{}
	}

	r := chi.NewRouter()
	r.Use(middleware.NewTrustedRealIPMiddleware(deps.TrustedProxies))
	r.Use(middleware.NewRecoveryMiddleware(logger))

	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	workoutHandler := NewWorkoutHandler(deps.WorkoutService)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewLoggingMiddleware(logger))
		r.Use(middleware.NewMetricsMiddleware(collector))
		r.Use(middleware.NewSecurityHeadersMiddleware())
		r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

		// トークン発行エンドポイントはCSRF検証の外に置く
		if deps.CSRFEnabled {
			r.Get("/auth/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)
		}

		r.Group(func(r chi.Router) {
			if deps.CSRFEnabled {
				r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
			}

			// --- 認証不要のルート ---
			r.Route("/auth", func(r chi.Router) {
				r.With(deps.RateLimiter.AuthMiddleware()).Post("/register", authHandler.Register)
				r.With(deps.RateLimiter.AuthMiddleware()).Post("/login", authHandler.Login)
				r.Post("/logout", authHandler.Logout)
				r.Get("/check", authHandler.Check)

				// OAuthフロー
				r.Get("/{provider}", authHandler.BeginOAuth)
				r.Get("/{provider}/callback", authHandler.OAuthCallback)
			})

			// --- 認証が必要なルート ---
			// ミドルウェアスタック: Session → RateLimit(General)
			r.Route("/workouts", func(r chi.Router) {
				r.Use(middleware.NewSessionMiddleware(deps.SessionResolver))
				r.Use(deps.RateLimiter.GeneralMiddleware())

				r.Get("/", workoutHandler.List)
				r.Post("/", workoutHandler.Create)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", workoutHandler.Get)
					r.Put("/", workoutHandler.Update)
					r.Delete("/", workoutHandler.Delete)
				})
			})
		})
	})

	return r
}
