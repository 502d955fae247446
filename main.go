package main

import (
	"context"
	"errors"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"copyRiskBot/config"
	"copyRiskBot/internal/adapters/binanceclient"
	"copyRiskBot/internal/adapters/bridge"
	"copyRiskBot/internal/adapters/logger"
	"copyRiskBot/internal/adapters/sqlite"
	"copyRiskBot/internal/app"
	"copyRiskBot/internal/monitor"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	defer func() { _ = appLogger.Sync() }()
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err) // Also log to stderr
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing database repository")
		}
	}()
	appLogger.Info(context.Background(), "Database repository initialized")

	// 4. Initialize Venue Client (Binance Adapter)
	venue, err := binanceclient.New(binanceclient.Config{
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
		UseTestnet: cfg.IsTestnet,
		Leverage:   cfg.Leverage,
		Logger:     appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize Binance client")
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}
	appLogger.Info(context.Background(), "Binance client initialized", map[string]interface{}{"testnet": cfg.IsTestnet})

	// 5. Initialize Bridge Listener (Master Event Source)
	listener, err := bridge.New(bridge.Config{
		Addr:   cfg.BridgeAddr,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize bridge listener")
		log.Fatalf("FATAL: Failed to initialize bridge listener: %v", err)
	}
	appLogger.Info(context.Background(), "Bridge listener initialized", map[string]interface{}{"addr": cfg.BridgeAddr})

	// 6. Initialize Metrics
	registry := prometheus.NewRegistry()
	metrics := monitor.NewMetrics(registry)

	// 7. Initialize Application Service
	service, err := app.New(app.Deps{
		Config:  cfg,
		Logger:  appLogger,
		Venue:   venue,
		Repo:    repo,
		Events:  listener,
		Metrics: metrics,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize copy risk service")
		log.Fatalf("FATAL: Failed to initialize copy risk service: %v", err)
	}
	appLogger.Info(context.Background(), "Copy risk service initialized")

	// 8. Initialize Monitor Server (health, status, metrics)
	monitorSrv, err := monitor.NewServer(monitor.Config{
		Addr:     cfg.MonitorAddr,
		Logger:   appLogger,
		Status:   service.Snapshot,
		Gatherer: registry,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize monitor server")
		log.Fatalf("FATAL: Failed to initialize monitor server: %v", err)
	}

	// 9. Run until a shutdown signal arrives.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return service.Start(ctx) })
	group.Go(func() error { return monitorSrv.Run(ctx) })

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		appLogger.Error(context.Background(), err, "Service exited with error")
		log.Fatalf("FATAL: Service exited with error: %v", err)
	}
	appLogger.Info(context.Background(), "Application finished gracefully.")
}
