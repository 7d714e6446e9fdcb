package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL       string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBConnectTimeout  time.Duration

	// OAuth（未設定の場合はGoogleログインを無効化する）
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Session
	SessionSecret string
	SessionMaxAge int

	// Stripe
	StripeSecretKey       string
	StripeWebhookSecret   string
	StripeProPriceID      string
	StripeBusinessPriceID string

	// Storage
	S3Bucket          string
	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3PublicBaseURL   string
	S3PresignTTL      time.Duration

	// Redis（任意。ワーカーの早期起床にのみ使う）
	RedisURL string

	// Render worker
	RenderInterval      time.Duration
	RenderMaxConcurrent int
	RenderTimeout       time.Duration
	RenderMaxAttempts   int
	AssetFetchTimeout   time.Duration
	AssetMaxSize        int64

	// Maintenance
	CleanupInterval           time.Duration
	BillingEventRetentionDays int

	// Rate Limit（1分あたり）
	RateLimitGeneral int
	RateLimitExport  int

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string

	// Admin
	AdminEmails []string

	// Logging
	LogLevel string
}

// OAuthEnabled はGoogleログインの設定が揃っているかを返す。
func (c *Config) OAuthEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != "" && c.GoogleRedirectURL != ""
}

// BillingEnabled は決済サービスのAPIキーが設定されているかを返す。
func (c *Config) BillingEnabled() bool {
	return c.StripeSecretKey != ""
}

// StorageEnabled は成果物の保存先バケットが設定されているかを返す。
func (c *Config) StorageEnabled() bool {
	return c.S3Bucket != ""
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	if cfg.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 20)
	cfg.DBMaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 5)
	cfg.DBConnMaxLifetime = getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute)
	cfg.DBConnectTimeout = getEnvDuration("DB_CONNECT_TIMEOUT", 30*time.Second)
	cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	cfg.GoogleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	cfg.GoogleRedirectURL = os.Getenv("GOOGLE_REDIRECT_URL")
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 604800)

	cfg.StripeSecretKey = os.Getenv("STRIPE_SECRET_KEY")
	cfg.StripeWebhookSecret = os.Getenv("STRIPE_WEBHOOK_SECRET")
	cfg.StripeProPriceID = os.Getenv("STRIPE_PRO_PRICE_ID")
	cfg.StripeBusinessPriceID = os.Getenv("STRIPE_BUSINESS_PRICE_ID")

	cfg.S3Bucket = os.Getenv("S3_BUCKET")
	cfg.S3Region = getEnvString("S3_REGION", "us-east-1")
	cfg.S3Endpoint = os.Getenv("S3_ENDPOINT")
	cfg.S3AccessKeyID = os.Getenv("S3_ACCESS_KEY_ID")
	cfg.S3SecretAccessKey = os.Getenv("S3_SECRET_ACCESS_KEY")
	cfg.S3PublicBaseURL = os.Getenv("S3_PUBLIC_BASE_URL")
	cfg.S3PresignTTL = getEnvDuration("S3_PRESIGN_TTL", 15*time.Minute)

	cfg.RedisURL = os.Getenv("REDIS_URL")

	cfg.RenderInterval = getEnvDuration("RENDER_INTERVAL", 5*time.Second)
	cfg.RenderMaxConcurrent = getEnvInt("RENDER_MAX_CONCURRENT", 4)
	cfg.RenderTimeout = getEnvDuration("RENDER_TIMEOUT", 5*time.Minute)
	cfg.RenderMaxAttempts = getEnvInt("RENDER_MAX_ATTEMPTS", 3)
	cfg.AssetFetchTimeout = getEnvDuration("ASSET_FETCH_TIMEOUT", 10*time.Second)
	cfg.AssetMaxSize = getEnvInt64("ASSET_MAX_SIZE", 10485760)

	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", time.Hour)
	cfg.BillingEventRetentionDays = getEnvInt("BILLING_EVENT_RETENTION_DAYS", 90)

	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitExport = getEnvInt("RATE_LIMIT_EXPORT", 20)

	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.AdminEmails = getEnvList("ADMIN_EMAILS")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// getEnvList はカンマ区切りの値を空要素を除いて返す。
func getEnvList(key string) []string {
	var out []string
	for _, s := range strings.Split(os.Getenv(key), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
