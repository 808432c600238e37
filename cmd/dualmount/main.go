// Package main provides the entry point for the dualmount node.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/juju/clock"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/corebank/dualmount/internal/config"
	"github.com/corebank/dualmount/internal/handler"
	"github.com/corebank/dualmount/internal/health"
	"github.com/corebank/dualmount/internal/metrics"
	"github.com/corebank/dualmount/internal/model"
	"github.com/corebank/dualmount/internal/server"
	"github.com/corebank/dualmount/internal/service"
	"github.com/corebank/dualmount/internal/stats"
	"github.com/corebank/dualmount/internal/store"
	"github.com/corebank/dualmount/internal/util/workerpool"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	path := *configPath
	if path == "" {
		path = os.Getenv("DUALMOUNT_CONFIG")
	}
	if path == "" {
		path = "config.yaml"
	}

	cfg, err := config.Load(path)
	if err != nil {
		fallback, _ := zap.NewProduction()
		fallback.Fatal("failed to load configuration", zap.Error(err))
	}

	logger := initLogger(cfg.Logging.Level, cfg.Logging.Format)
	defer logger.Sync()

	logger.Info("starting dualmount node",
		zap.String("node_id", cfg.Node.ID),
		zap.String("account", cfg.Node.Account),
		zap.Int("server_port", cfg.Server.Port),
		zap.String("write_policy", cfg.Write.Policy),
	)

	// Storage targets
	var stores []store.TargetStore
	for _, target := range cfg.TargetList() {
		fsTarget, err := store.NewFSTarget(target, logger)
		if err != nil {
			logger.Fatal("failed to open storage target",
				zap.String("target", target.ID),
				zap.String("root", target.RootPath),
				zap.Error(err))
		}
		stores = append(stores, fsTarget)
		logger.Info("storage target ready",
			zap.String("target", target.ID),
			zap.String("role", string(target.Role)),
			zap.String("root", target.RootPath))
	}

	// Metrics
	var m *metrics.Metrics
	var metricsServer *metrics.MetricsServer
	if cfg.Metrics.Enabled {
		m = metrics.NewMetrics()
		metricsServer = metrics.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, logger)
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.Error("metrics server error", zap.Error(err))
			}
		}()
		logger.Info("metrics server started",
			zap.Int("port", cfg.Metrics.Port),
			zap.String("path", cfg.Metrics.Path))
	}

	// Health monitor: one synchronous sweep so the first requests route on
	// real verdicts, then the background loop takes over.
	monitor := health.NewMonitor(stores, health.Config{
		ProbeTimeout:  cfg.Health.ProbeTimeout,
		ProbeInterval: cfg.Health.ProbeInterval,
		TTL:           cfg.Health.TTL,
	}, clock.WallClock, m, logger)
	monitor.ProbeAll(context.Background())
	monitor.Start(context.Background())

	targetIDs := make([]string, 0, len(stores))
	for _, st := range stores {
		targetIDs = append(targetIDs, st.Target().ID)
	}
	statsAgg := stats.NewStats(targetIDs)

	pool := workerpool.New(&workerpool.Config{Name: "dualmount-writes", Logger: logger})

	// Policy string was validated at load.
	defaultPolicy, _ := model.ParsePolicy(cfg.Write.Policy)

	coordinator := service.NewCoordinatorService(stores, monitor, statsAgg, m, pool, clock.WallClock, service.CoordinatorOptions{
		DefaultPolicy:  defaultPolicy,
		AttemptTimeout: cfg.Write.AttemptTimeout,
		MaxRetries:     cfg.Write.MaxRetries,
		RetryBaseDelay: cfg.Write.RetryBaseDelay,
		RetryMaxDelay:  cfg.Write.RetryMaxDelay,
		OverallTimeout: cfg.Write.OverallTimeout,
	}, logger)

	router := service.NewRoutingService(stores, monitor, statsAgg, m, service.RoutingOptions{
		AttemptTimeout: cfg.Write.AttemptTimeout,
	}, logger)

	// Scenario reads go through the peer when one is configured, so the
	// poll crosses the same boundary the consumers do.
	var reader service.ContentReader = router
	if cfg.Validation.PeerURL != "" {
		reader = service.NewPeerReader(cfg.Validation.PeerURL, cfg.Validation.AttemptTimeout, logger)
		logger.Info("validation reads routed through peer",
			zap.String("peer_url", cfg.Validation.PeerURL))
	}

	validator := service.NewValidationService(coordinator, reader, statsAgg, m, clock.WallClock, service.ValidationOptions{
		PollInterval:   cfg.Validation.PollInterval,
		MaxWait:        cfg.Validation.MaxWait,
		AttemptTimeout: cfg.Validation.AttemptTimeout,
		Concurrency:    cfg.Validation.Concurrency,
	}, logger)

	backfill, err := service.NewBackfillService(stores, clock.WallClock, service.BackfillOptions{
		AttemptTimeout: cfg.Write.AttemptTimeout,
	}, logger)
	if err != nil {
		logger.Fatal("failed to build backfill service", zap.Error(err))
	}

	scenarios, err := cfg.ScenarioSuite()
	if err != nil {
		logger.Fatal("failed to load validation scenarios", zap.Error(err))
	}
	logger.Info("validation scenarios loaded", zap.Int("count", len(scenarios)))

	handlers := handler.NewHandlers(handler.Deps{
		Coordinator: coordinator,
		Router:      router,
		Validator:   validator,
		Backfill:    backfill,
		Monitor:     monitor,
		Stats:       statsAgg,
		Scenarios:   scenarios,
		NodeID:      cfg.Node.ID,
		Account:     cfg.Node.Account,
		Logger:      logger,
	})

	httpServer := server.NewServer(cfg, handlers, m, logger)
	httpServer.SetupRoutes()

	errChan := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			errChan <- err
		}
	}()
	logger.Info("HTTP server started", zap.Int("port", cfg.Server.Port))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errChan:
		logger.Error("server error", zap.Error(err))
	}

	logger.Info("initiating graceful shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("failed to shutdown HTTP server", zap.Error(err))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			logger.Error("failed to shutdown metrics server", zap.Error(err))
		}
	}
	monitor.Stop()
	if err := pool.Stop(5 * time.Second); err != nil {
		logger.Error("worker pool drain timed out", zap.Error(err))
	}

	logger.Info("dualmount node shutdown complete")
}

// initLogger builds the zap logger from the configured level and format.
func initLogger(logLevel, logFormat string) *zap.Logger {
	var level zapcore.Level
	switch logLevel {
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

	var cfg zap.Config
	if logFormat == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}

	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		// Fallback to basic logger
		logger, _ = zap.NewProduction()
	}

	return logger
}
