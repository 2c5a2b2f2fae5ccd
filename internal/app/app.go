package app

import (
	"context"
	"database/sql"
	"errors"
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
	"go.opentelemetry.io/otel"

	"github.com/hitoshi/openintel/internal/audit"
	"github.com/hitoshi/openintel/internal/cache"
	"github.com/hitoshi/openintel/internal/config"
	"github.com/hitoshi/openintel/internal/database"
	"github.com/hitoshi/openintel/internal/fanout"
	"github.com/hitoshi/openintel/internal/handler"
	"github.com/hitoshi/openintel/internal/logger"
	"github.com/hitoshi/openintel/internal/metrics"
	"github.com/hitoshi/openintel/internal/pipeline"
	"github.com/hitoshi/openintel/internal/provider"
	"github.com/hitoshi/openintel/internal/ratelimit"
	"github.com/hitoshi/openintel/internal/telemetry"
	"github.com/hitoshi/openintel/internal/worker/cleanup"
)

const (
	serviceName = "openintel"

	dbPingTimeout      = 5 * time.Second
	shutdownTimeout    = 30 * time.Second
	cleanupInterval    = 24 * time.Hour
	janitorInterval    = time.Minute
	limiterGCInterval  = 5 * time.Minute
	redisPingTimeout   = 2 * time.Second
	healthcheckTimeout = 5 * time.Second
)

// ErrDatabaseRequired はDATABASE_URLが必須のコマンドで未設定だったことを示す。
var ErrDatabaseRequired = errors.New("DATABASE_URL is required")

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、LOG_LEVELに従ってJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再初期化
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

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
		slog.Bool("database", cfg.HasDatabase()),
		slog.Bool("redis", cfg.RedisURL != ""),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// 全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行い、未完了のレポート生成と監査ログ書き込みを待つ。
func runServe(ctx context.Context, cfg *config.Config) error {
	log := slog.Default()

	// 1. トレース
	shutdownTracer, err := telemetry.Setup(ctx, serviceName, cfg.OTLPEndpoint, log)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracer(sctx); err != nil {
			log.Error("tracer shutdown failed", slog.String("error", err.Error()))
		}
	}()

	// 2. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	// 3. 監査ログの永続化先（DATABASE_URL未設定時は無効）
	var (
		repo    audit.Repository = audit.NopRepo{}
		checker handler.HealthChecker
	)
	if cfg.HasDatabase() {
		db, err := openDatabase(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		repo = audit.NewPostgresRepo(db)
		checker = db
	} else {
		log.Warn("DATABASE_URL is not set: audit log persistence disabled")
	}

	// 4. レポートキャッシュ（REDIS_URL設定時は第2層としてRedisを使用）
	cacheOpts := []cache.Option{cache.WithLogger(log), cache.WithMetrics(collector)}
	if cfg.RedisURL != "" {
		redisClient, err := cache.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer redisClient.Close()

		backend := cache.NewRedisBackend(redisClient)
		pctx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		if err := backend.Ping(pctx); err != nil {
			log.Warn("redis unreachable: falling back to in-memory cache on misses", slog.String("error", err.Error()))
		}
		cancel()
		cacheOpts = append(cacheOpts, cache.WithBackend(backend))
	}
	reportCache := cache.New(cache.Config{
		TTL:             cfg.CacheTTL,
		Capacity:        cfg.CacheCapacity,
		JanitorInterval: janitorInterval,
	}, cacheOpts...)
	reportCache.Start()
	defer reportCache.Stop()

	// 5. レート制限
	limiter := ratelimit.New(ratelimit.Config{
		Window:          cfg.RateLimitWindow,
		MaxRequests:     cfg.RateLimitMax,
		CleanupInterval: limiterGCInterval,
	})
	limiter.Start()
	defer limiter.Stop()

	// 6. プロバイダーとファンアウト
	adapters, err := provider.All(providerConfig(cfg), provider.Deps{
		Logger:  log,
		Metrics: collector,
	})
	if err != nil {
		return fmt.Errorf("failed to build providers: %w", err)
	}
	coordinator := fanout.NewCoordinator(adapters,
		fanout.WithDefaultTimeout(cfg.ProviderTimeout),
		fanout.WithLogger(log),
		fanout.WithMetrics(collector),
		fanout.WithTracer(otel.Tracer("github.com/hitoshi/openintel/internal/fanout")),
	)

	// 7. 監査ログとパイプライン
	recorder := audit.NewRecorder(repo, cfg.AuditTimeout, log, collector)
	history := audit.NewHistory(repo, cfg.HistoryLimit, log)

	p := pipeline.New(limiter, reportCache, coordinator,
		pipeline.WithAuditor(recorder),
		pipeline.WithCacheTTL(cfg.CacheTTL),
		pipeline.WithLogger(log),
		pipeline.WithMetrics(collector),
	)

	// 8. ルーターとHTTPサーバー
	router := handler.NewRouter(&handler.RouterDeps{
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		Logger:            log,
		SearchService:     p,
		History:           history,
		HealthChecker:     checker,
		Gatherer:          reg,
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("API server starting",
			slog.String("addr", server.Addr),
			slog.Int("providers", len(adapters)),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down API server...")

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(sctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	// 呼び出し元が切断した生成処理も監査記録まで終えてから記録の書き込みを待つ
	p.Wait()
	recorder.Wait()

	log.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 保持期間を超過した監査ログを日次で削除する。ctxがキャンセルされるまでブロックする。
func runWorker(ctx context.Context, cfg *config.Config) error {
	if !cfg.HasDatabase() {
		return fmt.Errorf("worker: %w", ErrDatabaseRequired)
	}

	db, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	job := cleanup.NewCleanupJob(audit.NewPostgresRepo(db), cfg.AuditRetentionDays, slog.Default())
	job.Start(ctx, cleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用し、適用後のスキーマバージョンを記録する。
func runMigrate(cfg *config.Config) error {
	if !cfg.HasDatabase() {
		return fmt.Errorf("migrate: %w", ErrDatabaseRequired)
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.MigrateUp(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("schema_version", uint64(version)),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: healthcheckTimeout}

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

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := database.Open(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.Ping(ctx, db, dbPingTimeout); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")
	return db, nil
}

// providerConfig はアプリケーション設定からアダプター構成を組み立てる。
func providerConfig(cfg *config.Config) provider.Config {
	return provider.Config{
		HIBPKey:           cfg.HIBPAPIKey,
		EmailRepKey:       cfg.EmailRepAPIKey,
		HunterKey:         cfg.HunterAPIKey,
		NumverifyKey:      cfg.NumverifyAPIKey,
		AbstractPhoneKey:  cfg.AbstractPhoneAPIKey,
		SocialSearcherKey: cfg.SocialSearcherAPIKey,
		NewsAPIKey:        cfg.NewsAPIKey,
		Timeout:           cfg.ProviderTimeout,
		ProbeTimeout:      cfg.ProbeTimeout,
		AvatarTimeout:     cfg.AvatarTimeout,
		ReputationTimeout: cfg.ReputationTimeout,
	}
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
