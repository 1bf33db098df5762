package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aestiv/flowd/internal/application/orchestrator"
	"github.com/aestiv/flowd/internal/application/workers"
	"github.com/aestiv/flowd/internal/capability"
	"github.com/aestiv/flowd/internal/capability/builtin"
	"github.com/aestiv/flowd/internal/config"
	"github.com/aestiv/flowd/internal/ports"
	eventsmemory "github.com/aestiv/flowd/pkg/adapters/events/memory"
	eventsredis "github.com/aestiv/flowd/pkg/adapters/events/redis"
	graphsfile "github.com/aestiv/flowd/pkg/adapters/graphs/file"
	"github.com/aestiv/flowd/pkg/adapters/metrics/prometheus"
	storagememory "github.com/aestiv/flowd/pkg/adapters/storage/memory"
	storageredis "github.com/aestiv/flowd/pkg/adapters/storage/redis"
	"github.com/aestiv/flowd/pkg/api/http"
	"github.com/aestiv/flowd/pkg/api/websocket"
)

var (
	// Version is set by build flags
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting flowd",
		zap.String("version", Version),
		zap.String("build_time", BuildTime))

	// Redis is only dialed when a backend asks for it; the default
	// deployment is fully in-process.
	var redisClient *goredis.Client
	if cfg.NeedsRedis() {
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   cfg.Redis.MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})

		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Fatal("failed to connect to Redis", zap.Error(err))
		}
		logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))
	}

	metricsCollector := prometheus.NewCollector()

	// Initialize adapters
	var hub ports.EventHub
	switch cfg.Events.Backend {
	case config.BackendRedis:
		hub = eventsredis.NewHub(redisClient,
			cfg.Events.BacklogSize, cfg.Events.SubscriberQueueSize,
			metricsCollector, logger)
	default:
		hub = eventsmemory.NewHub(
			cfg.Events.BacklogSize, cfg.Events.SubscriberQueueSize,
			metricsCollector, logger)
	}

	var store ports.ExecutionStore
	switch cfg.Store.Backend {
	case config.BackendRedis:
		store = storageredis.NewStore(redisClient, cfg.Store.TTL, logger)
	default:
		store = storagememory.NewStore()
	}

	graphStore, err := graphsfile.NewStore(cfg.Graphs.Dir, logger)
	if err != nil {
		logger.Fatal("failed to open graph store", zap.Error(err))
	}

	// Register the built-in capability catalog
	registry := capability.NewRegistry()
	builtin.Register(registry)
	logger.Info("capabilities registered", zap.Strings("names", registry.Names()))

	// Initialize application components
	workerPool := workers.NewPool(
		cfg.Workers.PoolSize,
		cfg.Workers.QueueSize,
		metricsCollector,
		logger,
		cfg.Workers.HealthCheckInterval,
	)

	orchestratorMgr := orchestrator.NewManager(
		hub,
		store,
		metricsCollector,
		registry,
		orchestrator.NewValidator(),
		workerPool,
		logger,
		cfg.Timeouts.NodeExecution,
	)

	if err := workerPool.Start(); err != nil {
		logger.Fatal("failed to start worker pool", zap.Error(err))
	}

	// Initialize API server
	wsHandler := websocket.NewHandler(hub, logger)

	httpServer := http.NewServer(&http.Config{
		Port:         cfg.HTTPPort,
		Orchestrator: orchestratorMgr,
		Registry:     registry,
		Graphs:       graphStore,
		WS:           wsHandler,
		Logger:       logger,
	})

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	logger.Info("flowd started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.String("events_backend", cfg.Events.Backend),
		zap.String("store_backend", cfg.Store.Backend),
		zap.Int("worker_pool_size", cfg.Workers.PoolSize))

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")

	// Graceful shutdown: stop accepting work first, then drain the pool,
	// then close the fan-out and connections.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.Shutdown)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := orchestratorMgr.Shutdown(shutdownCtx); err != nil {
		logger.Error("orchestrator shutdown error", zap.Error(err))
	}

	if err := workerPool.Shutdown(shutdownCtx); err != nil {
		logger.Error("worker pool shutdown error", zap.Error(err))
	}

	if err := hub.Close(); err != nil {
		logger.Error("event hub close error", zap.Error(err))
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error("Redis close error", zap.Error(err))
		}
	}

	logger.Info("flowd shut down complete")
}

// initLogger initializes the logger based on log level
func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	return logger
}
