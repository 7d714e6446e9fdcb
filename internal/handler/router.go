package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/designstudio/internal/metrics"
	"github.com/hitoshi/designstudio/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionFinder     middleware.SessionFinder
	UserFinder        middleware.UserFinder
	AdminEmails       []string
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// 運用
	DB              Pinger
	MetricsGatherer prometheus.Gatherer

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// ドメイン
	TemplateService  TemplateServiceInterface
	DesignService    DesignServiceInterface
	ExportService    ExportServiceInterface
	UserService      UserServiceInterface
	BillingService   BillingServiceInterface
	AnalyticsService AnalyticsServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging → CORS
//	  → (認証が必要なルート) Session → CSRF → RateLimit(General)
//
// 認証ルート（/auth/*）とWebhookはセッション・CSRFチェーンの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// panicで書かれた500もアクセスログに残すため、リカバリーはロギングの内側に置く
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewCORSMiddleware(middleware.ParseAllowedOrigins(deps.CORSAllowedOrigin)...))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	templateHandler := NewTemplateHandler(deps.TemplateService)
	designHandler := NewDesignHandler(deps.DesignService)
	exportHandler := NewExportHandler(deps.ExportService)
	userHandler := NewUserHandler(deps.UserService)
	billingHandler := NewBillingHandler(deps.BillingService)
	analyticsHandler := NewAnalyticsHandler(deps.AnalyticsService)

	// --- 認証不要のルート ---

	r.Get("/healthz", NewHealthHandler(deps.DB))
	if deps.MetricsGatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.MetricsGatherer))
	}
	r.Get("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.CredentialsLogin)
		r.Get("/google/login", authHandler.Login)
		r.Get("/google/callback", authHandler.Callback)
		r.Post("/logout", authHandler.Logout)
	})

	// 署名で認証するためセッション・CSRFは適用しない
	r.Post("/webhooks/stripe", billingHandler.Webhook)

	// --- 認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/api/me", authHandler.Me)

		// テンプレート
		r.Route("/api/templates", func(r chi.Router) {
			r.Get("/", templateHandler.ListTemplates)
			r.Post("/", templateHandler.CreateTemplate)
			r.Get("/{id}", templateHandler.GetTemplate)
		})

		// デザイン
		r.Route("/api/designs", func(r chi.Router) {
			r.Get("/", designHandler.ListDesigns)
			r.Post("/", designHandler.CreateDesign)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", designHandler.GetDesign)
				r.Patch("/", designHandler.UpdateDesign)
				r.Delete("/", designHandler.DeleteDesign)
			})
		})

		// エクスポート（要求にはエクスポート専用レート制限を追加）
		r.With(deps.RateLimiter.ExportMiddleware()).Post("/api/export", exportHandler.RequestExport)
		r.Get("/api/export/{jobId}", exportHandler.GetExportStatus)
		r.Get("/api/export/{jobId}/download", exportHandler.Download)
		r.Get("/api/exports", exportHandler.ListExports)

		// ユーザー
		r.Route("/api/user", func(r chi.Router) {
			r.Get("/profile", userHandler.GetProfile)
			r.Patch("/profile", userHandler.UpdateProfile)
			r.Put("/password", userHandler.ChangePassword)
			r.Get("/stats", userHandler.GetStats)
			r.Delete("/", userHandler.DeleteAccount)
		})

		// サブスクリプション
		r.Get("/api/subscription/entitlements", billingHandler.GetEntitlements)
		r.Post("/api/subscriptions/checkout", billingHandler.CreateCheckout)
		r.Post("/api/subscriptions/cancel", billingHandler.CancelSubscription)

		// 管理者
		r.With(middleware.NewAdminMiddleware(deps.UserFinder, deps.AdminEmails)).
			Get("/api/admin/analytics", analyticsHandler.Overview)
	})

	return r
}
