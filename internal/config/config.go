package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Auth
	JWTSecret    string
	TokenTTL     time.Duration
	SeedTestUser bool

	// Stripe
	StripeSecretKey     string
	StripeWebhookSecret string
	StripeTimeout       time.Duration
	StripeAPIURL        string

	// Rate Limit (req/min)
	RateLimitGeneral  int
	RateLimitCheckout int

	// Kafka
	KafkaBrokers []string
	KafkaTopic   string

	// Outbox
	OutboxPollInterval  time.Duration
	OutboxBatchSize     int
	OutboxRetentionDays int

	// Worker
	WorkerMetricsPort string

	// Logging
	LogLevel string

	// Server
	ServerPort         string
	DebugRoutesEnabled bool

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込む。既に設定済みの環境変数は上書きしない。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	// .env が無い環境（コンテナなど）では何もしない
	_ = godotenv.Load()

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	cfg.StripeSecretKey = os.Getenv("STRIPE_SECRET_KEY")
	if cfg.StripeSecretKey == "" {
		missing = append(missing, "STRIPE_SECRET_KEY")
	}

	cfg.StripeWebhookSecret = os.Getenv("STRIPE_WEBHOOK_SECRET")
	if cfg.StripeWebhookSecret == "" {
		missing = append(missing, "STRIPE_WEBHOOK_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.TokenTTL = getEnvDuration("TOKEN_TTL", 24*time.Hour)
	cfg.SeedTestUser = getEnvBool("SEED_TEST_USER", false)
	cfg.StripeTimeout = getEnvDuration("STRIPE_TIMEOUT", 10*time.Second)
	cfg.StripeAPIURL = getEnvString("STRIPE_API_URL", "")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitCheckout = getEnvInt("RATE_LIMIT_CHECKOUT", 10)
	cfg.KafkaBrokers = getEnvList("KAFKA_BROKERS")
	cfg.KafkaTopic = getEnvString("KAFKA_TOPIC", "purchase-events")
	cfg.OutboxPollInterval = getEnvDuration("OUTBOX_POLL_INTERVAL", 5*time.Second)
	cfg.OutboxBatchSize = getEnvInt("OUTBOX_BATCH_SIZE", 50)
	cfg.OutboxRetentionDays = getEnvInt("OUTBOX_RETENTION_DAYS", 14)
	cfg.WorkerMetricsPort = getEnvString("WORKER_METRICS_PORT", "9090")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.DebugRoutesEnabled = getEnvBool("DEBUG_ROUTES_ENABLED", false)
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:5173")

	return cfg, nil
}

// KafkaEnabled はKafkaへのイベント送信が設定されているかを返す。
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
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
	if err != nil || i <= 0 {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

// getEnvList はカンマ区切りの値を空要素を除いて返す。
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}
