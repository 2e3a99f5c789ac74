// swarmflow is the swarm coordination service.
//
// Usage:
//
//	swarmflow serve                       # start the service
//	swarmflow serve --config config.yaml  # with a config file
//	swarmflow migrate up                  # apply database migrations
//	swarmflow migrate status              # show migration status
//	swarmflow version                     # show version information
//	swarmflow health                      # probe a running instance
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/swarmflow/config"
	"github.com/BaSui01/swarmflow/internal/cache"
	"github.com/BaSui01/swarmflow/internal/database"
	"github.com/BaSui01/swarmflow/internal/metrics"
	"github.com/BaSui01/swarmflow/internal/server"
	"github.com/BaSui01/swarmflow/internal/telemetry"
	"github.com/BaSui01/swarmflow/store"
	"github.com/BaSui01/swarmflow/swarm"
	"github.com/BaSui01/swarmflow/swarm/collaboration"
	"github.com/BaSui01/swarmflow/swarm/consensus"
	"github.com/BaSui01/swarmflow/swarm/directory"
	"github.com/BaSui01/swarmflow/swarm/event"
	"github.com/BaSui01/swarmflow/swarm/handoff"
)

// Version information, injected at build time.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "migrate":
		runMigrate(os.Args[2:])
	case "version":
		printVersion()
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("starting swarmflow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	db, err := database.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	pool, err := database.NewPoolManager(db, database.DefaultPoolConfig(), logger)
	if err != nil {
		logger.Fatal("failed to configure connection pool", zap.Error(err))
	}

	// Production deployments run `swarmflow migrate up` against postgres
	// or mysql; the embedded sqlite path self-migrates for convenience.
	if cfg.Database.Driver == "sqlite" {
		if err := store.AutoMigrate(db); err != nil {
			logger.Fatal("schema migration failed", zap.Error(err))
		}
	}

	st := store.NewGorm(db)
	collector := metrics.NewCollector("swarmflow", nil, logger)

	var snapshotCache *cache.Cache
	publishers := event.Multi{}
	bus := event.NewBus(64, logger)
	publishers = append(publishers, bus)

	if cfg.Redis.Enabled {
		snapshotCache, err = cache.New(cache.Config{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			DefaultTTL:   cfg.Redis.DefaultTTL,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		}, logger)
		if err != nil {
			logger.Warn("redis unavailable, snapshot cache disabled", zap.Error(err))
		} else {
			redisClient := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			publishers = append(publishers, event.NewRedisPublisher(redisClient, cfg.Redis.EventChannel, logger))
		}
	}

	dir := directory.New(directory.Config{
		Store:       st,
		Cache:       snapshotCache,
		Metrics:     collector,
		Events:      publishers,
		SnapshotTTL: cfg.Swarm.SnapshotTTL,
		Logger:      logger,
	})
	handoffs := handoff.NewManager(handoff.Config{
		Store:     st,
		Directory: dir,
		Events:    publishers,
		Metrics:   collector,
		Expiry:    cfg.Swarm.HandoffExpiry,
		Logger:    logger,
	})
	collabs := collaboration.NewManager(collaboration.Config{
		Store:     st,
		Directory: dir,
		Events:    publishers,
		Metrics:   collector,
		Logger:    logger,
	})
	votes := consensus.NewManager(consensus.Config{
		Store:     st,
		Directory: dir,
		Events:    publishers,
		Metrics:   collector,
		Logger:    logger,
	})
	// Generator and Notifier are injected by the embedding transport
	// layer; without them ExecuteWithDistribution is unavailable and
	// Broadcast is a no-op delivery.
	orch := swarm.NewOrchestrator(swarm.OrchestratorConfig{
		Store:          st,
		Directory:      dir,
		Handoffs:       handoffs,
		Collaborations: collabs,
		Consensus:      votes,
		Events:         publishers,
		Metrics:        collector,
		Swarm:          cfg.Swarm,
		Logger:         logger,
	})

	orch.Start()

	checks := map[string]server.HealthCheck{
		"database": pool.Ping,
	}
	if snapshotCache != nil {
		checks["cache"] = snapshotCache.Ping
	}
	handler := server.NewHandler(prometheus.DefaultGatherer, checks, logger)
	srv := server.NewManager(handler, server.Config{
		Addr:            cfg.Server.Addr,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, logger)

	if err := srv.Start(); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}
	srv.WaitForShutdown()

	orch.Stop()
	bus.Close()
	if otelProviders != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := otelProviders.Shutdown(ctx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
		cancel()
	}
	if err := pool.Close(); err != nil {
		logger.Warn("database close failed", zap.Error(err))
	}

	logger.Info("swarmflow stopped")
}

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:9090", "Server address")
	fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: status %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("OK")
}

func printVersion() {
	fmt.Printf("swarmflow %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`swarmflow - swarm coordination service

Usage:
  swarmflow <command> [options]

Commands:
  serve     Start the coordination service
  migrate   Database migration commands
  version   Show version information
  health    Check service health
  help      Show this help message

Options for 'serve':
  --config <path>   Path to configuration file (YAML)

Migration subcommands:
  migrate up        Apply all pending migrations
  migrate down      Rollback the last migration
  migrate status    Show migration status
  migrate version   Show current migration version
  migrate goto <v>  Migrate to a specific version
  migrate force <v> Force set migration version
  migrate reset     Rollback all migrations

Examples:
  swarmflow serve
  swarmflow serve --config /etc/swarmflow/config.yaml
  swarmflow migrate up
  swarmflow migrate status
  swarmflow health --addr http://localhost:9090
  swarmflow version`)
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputPaths := cfg.OutputPaths
	if len(outputPaths) == 0 {
		outputPaths = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         cfg.Format,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
