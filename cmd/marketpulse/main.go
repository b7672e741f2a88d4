package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"marketpulse/internal/alerting"
	"marketpulse/internal/api"
	"marketpulse/internal/cache"
	"marketpulse/internal/config"
	"marketpulse/internal/logger"
	"marketpulse/internal/monitoring"
	"marketpulse/internal/quality"
	"marketpulse/internal/scheduler"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configFile := flag.String("config", "configs/config.yaml", "Configuration file path")
	flag.Parse()

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found")
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger := logger.NewLogger(cfg.Logging)
	appLogger.Info("starting marketpulse",
		"version", cfg.App.Version,
		"env", cfg.App.Env)

	metrics := monitoring.NewMetrics()

	store, err := cache.New(&cache.Config{
		Enabled:  cfg.Cache.Enabled,
		Addr:     cfg.Cache.Addr,
		Password: cfg.Cache.Password,
		DB:       cfg.Cache.DB,
		PoolSize: cfg.Cache.PoolSize,
		MaxSize:  cfg.Cache.MaxSize,
	})
	if err != nil {
		appLogger.Warn("redis unavailable, falling back to in-memory cache", "error", err.Error())
		store = cache.NewMemoryStore(cfg.Cache.MaxSize)
	}
	defer store.Close()

	alertManager := alerting.NewManager(cfg.Alerts, appLogger, metrics)
	alertManager.Start()
	defer alertManager.Stop()

	monitor := quality.NewMonitor(cfg.Quality, appLogger, alertManager, metrics)

	sched := scheduler.New(cfg.Scheduler, appLogger, monitor, store, metrics)
	if err := sched.Start(); err != nil {
		appLogger.Error("failed to start scheduler", "error", err.Error())
		os.Exit(1)
	}
	defer sched.Stop()

	server := api.NewServer(cfg, appLogger, sched, monitor, store, metrics)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		appLogger.Info("received signal, shutting down", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			appLogger.Error("api server failed", "error", err.Error())
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		appLogger.Warn("api server shutdown error", "error", err.Error())
	}

	appLogger.Info("marketpulse stopped")
}
