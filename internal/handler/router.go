package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/authskeleton/internal/metrics"
	"github.com/hitoshi/authskeleton/internal/middleware"
	"github.com/hitoshi/authskeleton/internal/repository"
	"github.com/prometheus/client_golang/prometheus"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// セッション解決（トークン → ユーザー）
	Resolver middleware.UserResolver

	// 運用
	Health   repository.HealthChecker
	Metrics  metrics.MetricsCollector
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger

	Pages *Pages
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Metrics → Session → Logging
//
// セッションは全ルートで解決され、匿名でも拒否はしない。
// 保護が必要なルートだけRequireUserで囲む。
func NewRouter(deps *RouterDeps) http.Handler {
	mc := deps.Metrics
	if mc == nil {
		mc = metrics.Nop{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewMetricsMiddleware(mc))
	r.Use(middleware.NewSessionMiddleware(deps.Resolver))
	r.Use(middleware.NewLoggingMiddleware(logger))

	authHandler := NewAuthHandler(deps.AuthService, deps.Pages, deps.AuthConfig)

	// --- 認証フロー ---
	r.Route("/auth", func(r chi.Router) {
		// GET /auth と /auth/ はどちらもOAuthコールバック
		r.Get("/", authHandler.Callback)
		r.Get("/login", authHandler.LoginPage)
		r.Get("/google", authHandler.GoogleLogin)
		r.Get("/logout", authHandler.Logout)
	})

	// --- ページ ---
	r.Get("/", deps.Pages.Home)
	r.With(middleware.RequireUser(loginPath)).Get(dashboardPath, deps.Pages.Dashboard)

	// --- 運用 ---
	if deps.Health != nil {
		r.Get("/health", NewHealthHandler(deps.Health).Health)
	}
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	return r
}
