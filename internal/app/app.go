package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/designstudio/internal/analytics"
	"github.com/hitoshi/designstudio/internal/auth"
	"github.com/hitoshi/designstudio/internal/billing"
	"github.com/hitoshi/designstudio/internal/config"
	"github.com/hitoshi/designstudio/internal/database"
	"github.com/hitoshi/designstudio/internal/design"
	"github.com/hitoshi/designstudio/internal/export"
	"github.com/hitoshi/designstudio/internal/handler"
	"github.com/hitoshi/designstudio/internal/logger"
	"github.com/hitoshi/designstudio/internal/metrics"
	"github.com/hitoshi/designstudio/internal/middleware"
	"github.com/hitoshi/designstudio/internal/queue"
	"github.com/hitoshi/designstudio/internal/render"
	"github.com/hitoshi/designstudio/internal/repository"
	"github.com/hitoshi/designstudio/internal/security"
	"github.com/hitoshi/designstudio/internal/storage"
	"github.com/hitoshi/designstudio/internal/template"
	"github.com/hitoshi/designstudio/internal/user"
	"github.com/hitoshi/designstudio/internal/worker/cleanup"
	workerrender "github.com/hitoshi/designstudio/internal/worker/render"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	inv, err := ParseCommand(args)
	if err != nil {
		return err
	}
	cmd := inv.Command

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.Bool("oauth_enabled", cfg.OAuthEnabled()),
		slog.Bool("billing_enabled", cfg.BillingEnabled()),
		slog.Bool("storage_enabled", cfg.StorageEnabled()),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg, inv)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := connectDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	ctx := context.Background()

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	identRepo := repository.NewPostgresIdentityRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	templateRepo := repository.NewPostgresTemplateRepo(db)
	designRepo := repository.NewPostgresDesignRepo(db)
	outputRepo := repository.NewPostgresOutputRepo(db)
	subRepo := repository.NewPostgresSubscriptionRepo(db)
	statsRepo := repository.NewPostgresStatsRepo(db)

	// 3. メトリクスとセキュリティ
	reg := newRegistry()
	collector := metrics.NewCollector(reg)
	sanitizer := security.NewContentSanitizer()

	// 4. 任意の外部サービス（未設定の場合はnilインターフェースのまま渡す）
	var oauthProvider auth.OAuthProvider
	if cfg.OAuthEnabled() {
		oauthProvider = auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
		})
	}

	var presigner export.Presigner
	if cfg.StorageEnabled() {
		store, err := storage.Open(ctx, storageOptions(cfg))
		if err != nil {
			return fmt.Errorf("failed to open storage: %w", err)
		}
		presigner = store
	}

	var notifier queue.Notifier
	if cfg.RedisURL != "" {
		client, err := queue.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer client.Close()
		notifier = queue.NewRedisNotifier(client, queue.DefaultKey)
	}

	var stripeClient billing.StripeClient
	if cfg.BillingEnabled() {
		stripeClient = billing.NewStripeClient(cfg.StripeSecretKey)
	}

	// 5. ドメインサービスの初期化
	authService := auth.NewService(
		oauthProvider, userRepo, identRepo, sessionRepo,
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
	)
	templateService := template.NewService(templateRepo, sanitizer)
	designService := design.NewService(userRepo, templateRepo, designRepo, outputRepo, sanitizer, collector)
	exportService := export.NewService(userRepo, designRepo, templateRepo, outputRepo, notifier, presigner, collector)
	userService := user.NewService(userRepo, sessionRepo, statsRepo, 0)
	billingService := billing.NewService(userRepo, subRepo, stripeClient, billing.Config{
		WebhookSecret:   cfg.StripeWebhookSecret,
		ProPriceID:      cfg.StripeProPriceID,
		BusinessPriceID: cfg.StripeBusinessPriceID,
		BaseURL:         cfg.BaseURL,
	}, collector)
	analyticsService := analytics.NewService(statsRepo)

	// 6. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitExport),
	)
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		SessionFinder:     sessionRepo,
		UserFinder:        userRepo,
		AdminEmails:       cfg.AdminEmails,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure:   cfg.CookieSecure,
			CookieDomain:   cfg.CookieDomain,
			TrustedOrigins: middleware.ParseAllowedOrigins(cfg.CORSAllowedOrigin),
		},
		RateLimiter: rateLimiter,
		Logger:      slog.Default(),

		DB:              db,
		MetricsGatherer: reg,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:       cfg.BaseURL,
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		TemplateService:  templateService,
		DesignService:    designService,
		ExportService:    exportService,
		UserService:      userService,
		BillingService:   billingService,
		AnalyticsService: analyticsService,
	}

	router := handler.NewRouter(deps)

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、レンダリングスケジューラとクリーンアップジョブを起動する。
// /metrics と /healthz のみを公開する小さなHTTPサーバーも併せて起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	if !cfg.StorageEnabled() {
		return fmt.Errorf("worker requires S3_BUCKET to be set")
	}

	// 1. DB接続
	db, err := connectDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	templateRepo := repository.NewPostgresTemplateRepo(db)
	designRepo := repository.NewPostgresDesignRepo(db)
	outputRepo := repository.NewPostgresOutputRepo(db)

	// 3. 保存先と起床通知
	store, err := storage.Open(ctx, storageOptions(cfg))
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}

	var waiter queue.Waiter
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = queue.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer redisClient.Close()
		waiter = queue.NewRedisNotifier(redisClient, queue.DefaultKey)
	}

	// 4. レンダラーの初期化（テンプレート内の画像URLはSSRF検証付きで取得する）
	ssrfGuard := security.NewSSRFGuard()
	assetFetcher := security.NewAssetFetcher(ssrfGuard, cfg.AssetFetchTimeout, cfg.AssetMaxSize)
	renderer := render.NewRenderer(assetFetcher)

	reg := newRegistry()
	collector := metrics.NewCollector(reg)

	// 5. プロセッサとスケジューラ
	processor := workerrender.NewProcessor(
		userRepo, designRepo, templateRepo, outputRepo,
		renderer, store, collector, slog.Default(),
		workerrender.ProcessorConfig{
			MaxAttempts: cfg.RenderMaxAttempts,
			JobTimeout:  cfg.RenderTimeout,
		},
	)
	scheduler := workerrender.NewScheduler(
		outputRepo, processor, waiter, slog.Default(), cfg.RenderMaxConcurrent,
	)

	// 6. クリーンアップジョブの初期化
	cleanupJob := cleanup.NewCleanupJob(db, slog.Default())
	cleanupJob.RenderTimeout = cfg.RenderTimeout
	cleanupJob.BillingEventRetentionDays = cfg.BillingEventRetentionDays

	// 7. 運用エンドポイント
	mux := metrics.SetupMetricsRoute(reg)
	mux.Handle("/healthz", handler.NewHealthHandler(db))
	opsServer := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("worker ops server error", slog.String("error", err.Error()))
		}
	}()

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("render_interval", cfg.RenderInterval),
		slog.Int("max_concurrent", cfg.RenderMaxConcurrent),
		slog.Bool("redis_wakeup", waiter != nil),
	)

	go cleanupJob.Start(ctx, cfg.CleanupInterval)

	// レンダリングスケジューラをメインgoroutineで実行（ブロッキング）
	scheduler.Start(ctx, cfg.RenderInterval)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("worker ops server shutdown failed", slog.String("error", err.Error()))
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はmigrateサブコマンドを実行する。既定では未適用のマイグレーションをすべて適用する。
func runMigrate(cfg *config.Config, inv Invocation) error {
	log := slog.With(
		slog.String("action", string(inv.MigrateAction)),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	switch inv.MigrateAction {
	case MigrateStatus:
		status, err := database.CurrentMigrationStatus(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("migration status failed: %w", err)
		}
		log.Info("migration status",
			slog.Uint64("version", uint64(status.Version)),
			slog.Bool("dirty", status.Dirty),
		)
		return nil
	case MigrateDown:
		log.Warn("rolling back database migrations", slog.Int("steps", inv.MigrateSteps))
		if err := database.RollbackMigrations(cfg.DatabaseURL, inv.MigrateSteps); err != nil {
			return fmt.Errorf("migration rollback failed: %w", err)
		}
	default:
		log.Info("running database migrations")
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	log.Info("database migrations completed successfully")
	return nil
}

// connectDatabase はDBの起動待ちを含めて接続する。
func connectDatabase(cfg *config.Config) (*sql.DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.DBConnectTimeout)
	defer cancel()

	return database.Connect(ctx, cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /healthz エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/healthz", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// newRegistry はプロセス単位のメトリクスレジストリを生成する。
// Goランタイムとプロセスのメトリクスを含む。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func storageOptions(cfg *config.Config) storage.Options {
	return storage.Options{
		Bucket:          cfg.S3Bucket,
		Region:          cfg.S3Region,
		Endpoint:        cfg.S3Endpoint,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
		PublicBaseURL:   cfg.S3PublicBaseURL,
		PresignTTL:      cfg.S3PresignTTL,
	}
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
