package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/asnwatch/trust-engine/internal/api"
	"github.com/asnwatch/trust-engine/internal/cache"
	"github.com/asnwatch/trust-engine/internal/config"
	"github.com/asnwatch/trust-engine/internal/db"
	"github.com/asnwatch/trust-engine/internal/enrich"
	"github.com/asnwatch/trust-engine/internal/events"
	"github.com/asnwatch/trust-engine/internal/intel"
	"github.com/asnwatch/trust-engine/internal/kafka"
	"github.com/asnwatch/trust-engine/internal/maintenance"
	"github.com/asnwatch/trust-engine/internal/metrics"
	"github.com/asnwatch/trust-engine/internal/monitor"
	"github.com/asnwatch/trust-engine/internal/registry"
	"github.com/asnwatch/trust-engine/internal/ris"
	"github.com/asnwatch/trust-engine/internal/scoring"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe()
	case "migrate":
		runMigrate()
	case "maintenance":
		runMaintenance()
	case "score":
		runScore()
	case "--help", "-h", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: trust-engine <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve         Start the ingestion pipeline, scoring worker and API")
	fmt.Println("  migrate       Run registry and event-store migrations")
	fmt.Println("  maintenance   Drop event-store partitions past retention")
	fmt.Println("  score <asn>   Score one ASN and exit")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --config <path>   Path to configuration YAML file")
	fmt.Println("  --log-level <lvl> Override log level (debug, info, warn, error)")
}

func parseFlags(args []string) (configPath string, logLevel string) {
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			if i+1 < len(args) {
				configPath = args[i+1]
				i++
			}
		case "--log-level":
			if i+1 < len(args) {
				logLevel = args[i+1]
				i++
			}
		}
	}
	return
}

func loadConfig(args []string) (*config.Config, *zap.Logger) {
	// A local .env is a convenience for compose-style deployments; absence
	// is not an error.
	_ = godotenv.Load()

	configPath, logLevelOverride := parseFlags(args)

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if logLevelOverride != "" {
		cfg.Service.LogLevel = logLevelOverride
	}

	logger := initLogger(cfg.Service.LogLevel)
	return cfg, logger
}

func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zap.DebugLevel
	case "warn":
		zapLevel = zap.WarnLevel
	case "error":
		zapLevel = zap.ErrorLevel
	default:
		zapLevel = zap.InfoLevel
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(zapLevel)
	zapCfg.EncoderConfig.TimeKey = "ts"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zapCfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

// stores bundles the two persistent backends every subcommand needs.
type stores struct {
	pool   *pgxpool.Pool
	reg    *registry.Store
	events *events.Store
}

func connectStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*stores, func()) {
	pool, err := db.NewPool(ctx, cfg.Postgres.DSN(), cfg.Postgres.MaxConns, cfg.Postgres.MinConns)
	if err != nil {
		logger.Fatal("failed to connect to registry store", zap.Error(err))
	}

	eventStore, err := events.Connect(ctx, cfg.ClickHouse.Addr, cfg.ClickHouse.Database,
		cfg.ClickHouse.User, cfg.ClickHouse.Password, logger.Named("events"))
	if err != nil {
		pool.Close()
		logger.Fatal("failed to connect to event store", zap.Error(err))
	}

	s := &stores{
		pool:   pool,
		reg:    registry.NewStore(pool, logger.Named("registry")),
		events: eventStore,
	}
	return s, func() {
		eventStore.Close()
		pool.Close()
	}
}

func runServe() {
	cfg, logger := loadConfig(os.Args[2:])
	defer logger.Sync()

	metrics.Register()

	logger.Info("starting trust-engine",
		zap.String("instance_id", cfg.Service.InstanceID),
		zap.String("http_listen", cfg.Service.HTTPListen),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, closeStores := connectStores(ctx, cfg, logger)
	defer closeStores()

	if err := st.events.EnsureSchema(ctx); err != nil {
		logger.Fatal("failed to ensure event-store schema", zap.Error(err))
	}

	scoreCache := cache.New(cfg.Redis.Addr, time.Duration(cfg.API.CacheTTLSeconds)*time.Second, logger.Named("cache"))
	defer scoreCache.Close()
	if err := scoreCache.Ping(ctx); err != nil {
		logger.Warn("cache unreachable at startup, degrading to misses", zap.Error(err))
	}

	producer, err := kafka.NewJobProducer(cfg.Kafka.Brokers, cfg.Kafka.JobTopic,
		cfg.Kafka.ClientID+"-producer", logger.Named("kafka.producer"))
	if err != nil {
		logger.Fatal("failed to create job producer", zap.Error(err))
	}
	defer producer.Close()

	enricher := enrich.NewClient(cfg.Enrich.RIPEstatBaseURL, cfg.Enrich.PeeringDBBaseURL,
		time.Duration(cfg.Enrich.TimeoutSeconds)*time.Second, logger.Named("enrich"))

	engine := scoring.NewEngine(st.reg, st.events, enricher, scoreCache, logger.Named("scoring"))

	consumer, err := kafka.NewJobConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.JobTopic,
		cfg.Kafka.ClientID+"-worker", engine.ScoreJob, logger.Named("kafka.consumer"))
	if err != nil {
		logger.Fatal("failed to create job consumer", zap.Error(err))
	}
	defer consumer.Close()

	var wg sync.WaitGroup

	// --- BGP stream ---
	streamConsumer := ris.NewConsumer(cfg.Stream, st.events, logger.Named("stream"))
	wg.Add(1)
	go func() { defer wg.Done(); streamConsumer.Run(ctx) }()

	// --- Threat correlation ---
	fetcher := intel.NewFetcher(cfg.Intel.NetworkListURL, cfg.Intel.IPListURL, cfg.Intel.URLListURL,
		time.Duration(cfg.Intel.FetchTimeoutSeconds)*time.Second, logger.Named("intel.fetch"))
	correlator := intel.NewCorrelator(fetcher, st.events, st.events, producer,
		time.Duration(cfg.Intel.IntervalHours)*time.Hour, logger.Named("intel"))
	wg.Add(1)
	go func() { defer wg.Done(); correlator.Run(ctx) }()

	// --- Route-leak guard ---
	guard := monitor.NewLeakGuard(st.events, st.events, producer,
		time.Duration(cfg.Guard.IntervalSeconds)*time.Second, cfg.Guard.MaxPrefixLen, logger.Named("leak_guard"))
	wg.Add(1)
	go func() { defer wg.Done(); guard.Run(ctx) }()

	// --- Active-ASN scanner ---
	scanner := monitor.NewScanner(st.events, producer,
		time.Duration(cfg.Scanner.IntervalSeconds)*time.Second, cfg.Scanner.MinEvents, cfg.Scanner.MaxPerCycle,
		logger.Named("scanner"))
	wg.Add(1)
	go func() { defer wg.Done(); scanner.Run(ctx) }()

	// --- Scoring worker ---
	wg.Add(1)
	go func() { defer wg.Done(); consumer.Run(ctx) }()

	// --- API ---
	apiServer := api.NewServer(cfg.Service.HTTPListen, st.reg, st.events, scoreCache, consumer,
		cfg.API.SecretKey, time.Duration(cfg.API.CacheTTLSeconds)*time.Second, logger.Named("api"))
	if err := apiServer.Start(); err != nil {
		logger.Fatal("failed to start API server", zap.Error(err))
	}

	logger.Info("all tasks and API server started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	shutdownTimeout := time.Duration(cfg.Service.ShutdownTimeoutSeconds) * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("API server shutdown error", zap.Error(err))
	}

	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("all tasks stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timeout reached, some goroutines may not have finished")
	}

	logger.Info("trust-engine stopped")
}

func runMigrate() {
	cfg, logger := loadConfig(os.Args[2:])
	defer logger.Sync()

	logger.Info("running migrations",
		zap.String("dsn", redactDSN(cfg.Postgres.DSN())),
		zap.String("clickhouse", cfg.ClickHouse.Addr),
	)

	ctx := context.Background()
	st, closeStores := connectStores(ctx, cfg, logger)
	defer closeStores()

	if err := db.RunMigrations(ctx, st.pool, logger); err != nil {
		logger.Fatal("registry migration failed", zap.Error(err))
	}
	if err := st.events.EnsureSchema(ctx); err != nil {
		logger.Fatal("event-store schema setup failed", zap.Error(err))
	}

	logger.Info("migrations complete")
}

func runMaintenance() {
	cfg, logger := loadConfig(os.Args[2:])
	defer logger.Sync()

	logger.Info("running event-store retention",
		zap.Int("retention_days", cfg.Retention.Days),
		zap.String("timezone", cfg.Retention.Timezone),
	)

	ctx := context.Background()
	conn, err := events.Connect(ctx, cfg.ClickHouse.Addr, cfg.ClickHouse.Database,
		cfg.ClickHouse.User, cfg.ClickHouse.Password, logger.Named("events"))
	if err != nil {
		logger.Fatal("failed to connect to event store", zap.Error(err))
	}
	defer conn.Close()

	rm := maintenance.NewRetentionManager(conn.Conn(), cfg.Retention.Days, cfg.Retention.Timezone, logger)
	if err := rm.Run(ctx); err != nil {
		logger.Fatal("retention run failed", zap.Error(err))
	}

	logger.Info("retention run complete")
}

func runScore() {
	args := os.Args[2:]
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: trust-engine score <asn> [options]")
		os.Exit(1)
	}
	asn, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || asn < 0 {
		fmt.Fprintf(os.Stderr, "invalid asn: %s\n", args[0])
		os.Exit(1)
	}

	cfg, logger := loadConfig(args[1:])
	defer logger.Sync()

	ctx := context.Background()
	st, closeStores := connectStores(ctx, cfg, logger)
	defer closeStores()

	scoreCache := cache.New(cfg.Redis.Addr, time.Duration(cfg.API.CacheTTLSeconds)*time.Second, logger.Named("cache"))
	defer scoreCache.Close()

	enricher := enrich.NewClient(cfg.Enrich.RIPEstatBaseURL, cfg.Enrich.PeeringDBBaseURL,
		time.Duration(cfg.Enrich.TimeoutSeconds)*time.Second, logger.Named("enrich"))

	engine := scoring.NewEngine(st.reg, st.events, enricher, scoreCache, logger.Named("scoring"))
	score, err := engine.Score(ctx, asn)
	if err != nil {
		logger.Fatal("scoring failed", zap.Int64("asn", asn), zap.Error(err))
	}

	fmt.Printf("AS%d scored %d\n", asn, score)
}

func redactDSN(dsn string) string {
	re := regexp.MustCompile(`password\s*=\s*\S+`)
	return re.ReplaceAllString(dsn, "password=***")
}
