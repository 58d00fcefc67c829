package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/plancheckout/internal/auth"
	"github.com/hitoshi/plancheckout/internal/catalog"
	"github.com/hitoshi/plancheckout/internal/config"
	"github.com/hitoshi/plancheckout/internal/database"
	"github.com/hitoshi/plancheckout/internal/events"
	"github.com/hitoshi/plancheckout/internal/handler"
	"github.com/hitoshi/plancheckout/internal/logger"
	"github.com/hitoshi/plancheckout/internal/metrics"
	"github.com/hitoshi/plancheckout/internal/middleware"
	"github.com/hitoshi/plancheckout/internal/payment"
	"github.com/hitoshi/plancheckout/internal/purchase"
	"github.com/hitoshi/plancheckout/internal/repository"
	"github.com/hitoshi/plancheckout/internal/worker/cleanup"
	"github.com/hitoshi/plancheckout/internal/worker/outbox"
)

const (
	dbConnectTimeout = 5 * time.Second
	shutdownTimeout  = 30 * time.Second
	cleanupInterval  = 24 * time.Hour
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, "info")

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再設定する
	logger.SetupDefault(w, cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		return err
	}

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
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := database.Ping(context.Background(), db, dbConnectTimeout); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// newRegistry はGoランタイムとプロセスのメトリクスを含むレジストリを生成する。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx := context.Background()

	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	productRepo := repository.NewPostgresProductRepo(db)
	purchaseRepo := repository.NewPostgresPurchaseRepo(db)

	// 3. メトリクス
	registry := newRegistry()
	collector := metrics.NewCollector(registry)

	// 4. ドメインサービスの初期化
	cat, err := catalog.Load(ctx, productRepo)
	if err != nil {
		return err
	}

	authService := auth.NewService(userRepo, auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL))
	if cfg.SeedTestUser {
		if err := authService.SeedTestUser(ctx); err != nil {
			return err
		}
	}

	purchaseService := purchase.NewService(purchaseRepo, cat, collector)

	gateway := payment.NewStripeGateway(payment.StripeConfig{
		SecretKey: cfg.StripeSecretKey,
		APIURL:    cfg.StripeAPIURL,
		Timeout:   cfg.StripeTimeout,
	})
	checkoutService := payment.NewCheckoutService(cat, gateway, collector)
	webhookService := payment.NewWebhookService(cfg.StripeWebhookSecret, purchaseService, collector)

	// 5. ルーターの構築
	// configのレート制限はreq/min単位
	rateLimiter := middleware.NewRateLimiter(
		middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral, cfg.RateLimitCheckout),
	)
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		TokenVerifier:     authService,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),

		HealthChecker:  db,
		MetricsHandler: metrics.Handler(registry),

		AuthService:     authService,
		Catalog:         cat,
		CheckoutService: checkoutService,
		WebhookService:  webhookService,
		PurchaseService: purchaseService,
	}
	if cfg.DebugRoutesEnabled {
		deps.PurchaseDebugService = purchaseService
	}

	router := handler.NewRouter(deps)

	// 6. HTTPサーバーの起動
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

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serverErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// newPublisher はKafkaが設定されていればKafkaPublisherを、なければLogPublisherを返す。
func newPublisher(cfg *config.Config) events.Publisher {
	if !cfg.KafkaEnabled() {
		slog.Warn("KAFKA_BROKERS is not set; purchase events are logged only")
		return events.LogPublisher{}
	}
	return events.NewKafkaPublisher(events.KafkaConfig{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.KafkaTopic,
	})
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、outboxリレーとクリーンアップジョブを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	// 2. リポジトリ・送信先の初期化
	outboxRepo := repository.NewPostgresOutboxRepo(db)
	publisher := newPublisher(cfg)
	defer func() {
		if err := publisher.Close(); err != nil {
			slog.Error("failed to close publisher", slog.String("error", err.Error()))
		}
	}()

	// 3. メトリクス
	registry := newRegistry()
	collector := metrics.NewCollector(registry)
	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           metrics.SetupMetricsRoute(registry),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// 4. ジョブの初期化
	relay := outbox.NewRelay(outboxRepo, publisher, collector, slog.Default(), outbox.Config{
		BatchSize: cfg.OutboxBatchSize,
	})
	cleanupJob := cleanup.NewCleanupJob(outboxRepo, slog.Default())
	cleanupJob.RetentionDays = cfg.OutboxRetentionDays

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("poll_interval", cfg.OutboxPollInterval),
		slog.Int("batch_size", cfg.OutboxBatchSize),
		slog.Bool("kafka_enabled", cfg.KafkaEnabled()),
	)

	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server listen error", slog.String("error", err.Error()))
		}
	}()

	// クリーンアップジョブを日次でバックグラウンド実行
	go cleanupJob.Start(ctx, cleanupInterval)

	// outboxリレーをメインgoroutineで実行（ブロッキング）
	relay.Start(ctx, cfg.OutboxPollInterval)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("metrics server shutdown failed", slog.String("error", err.Error()))
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	return checkHealth(fmt.Sprintf("http://localhost:%s/health", port))
}

func checkHealth(endpoint string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
