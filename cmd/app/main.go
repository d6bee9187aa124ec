package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fulfillment-sync/internal/cache"
	"fulfillment-sync/internal/config"
	"fulfillment-sync/internal/httpserver"
	"fulfillment-sync/internal/logging"
	"fulfillment-sync/internal/metrics"
	"fulfillment-sync/internal/provider"
	"fulfillment-sync/internal/provider/cartpanda"
	"fulfillment-sync/internal/provider/european"
	"fulfillment-sync/internal/provider/fhb"
	"fulfillment-sync/internal/repo"
	"fulfillment-sync/internal/scheduler"
	"fulfillment-sync/internal/syncer"
	"fulfillment-sync/migrations"

	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting fulfillment-sync", "env", cfg.AppEnv, "database_driver", cfg.DatabaseDriver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricRegistry := metrics.Registry(cfg.MetricsNamespace)

	repository, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init repository: %w", err)
	}
	defer repository.Close()

	if err := repository.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrated")

	var (
		tokens provider.TokenCache
		locker scheduler.Locker
	)
	if cfg.RedisAddr != "" {
		redisClient := cache.New(cache.Config{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			UseTLS:    cfg.RedisTLS,
			KeyPrefix: "fulfillment-sync:",
		}, logger)
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("failed closing redis", "error", err)
			}
		}()
		if err := redisClient.Ping(ctx); err != nil {
			logger.Warn("redis ping failed", "error", err)
		}
		tokens = cache.NewTokenCache(redisClient)
		locker = cache.NewAccountLocker(redisClient, cfg.Sync.AccountLockTTL)
	} else {
		logger.Info("redis not configured; using in-memory token cache and process-local account guard")
	}

	registry := provider.NewRegistry(provider.Deps{
		Logger:  logger,
		Metrics: metricRegistry,
		Tokens:  tokens,
		HTTP: provider.HTTPConfig{
			Timeout:           cfg.Provider.HTTPTimeout,
			RequestsPerSecond: cfg.Provider.RequestsPerSecond,
			Burst:             cfg.Provider.Burst,
		},
		BaseURLs: map[provider.Key]string{
			provider.FHB:       cfg.Provider.FHBBaseURL,
			provider.European:  cfg.Provider.EuropeanBaseURL,
			provider.CartPanda: cfg.Provider.CartPandaBaseURL,
		},
	})
	registry.Register(provider.FHB, fhb.New)
	registry.Register(provider.European, european.New)
	registry.Register(provider.CartPanda, cartpanda.New)
	logger.Info("providers registered", "providers", registry.Keys())

	orchestrator := syncer.NewOrchestrator(repository, registry, syncer.Config{
		Plan: syncer.PlanConfig{
			WindowDays:             cfg.Sync.WindowDays,
			InitialMinLookbackDays: cfg.Sync.InitialMinLookbackDays,
			InitialMaxLookbackDays: cfg.Sync.InitialMaxLookbackDays,
			DeepLookbackDays:       cfg.Sync.DeepLookbackDays,
			FastLookbackDays:       cfg.Sync.FastLookbackDays,
		},
		PageCeiling:       cfg.Sync.PageCeiling,
		ReconcileBatch:    cfg.Sync.ReconcileBatch,
		ReconcileLookback: time.Duration(cfg.Sync.ReconcileLookbackDays) * 24 * time.Hour,
	}, logger, metricRegistry)

	deps := httpserver.Dependencies{Store: repository, Adapters: registry}
	schedDone := make(chan struct{})
	if cfg.Sync.Enabled {
		sched := scheduler.New(scheduler.Config{
			TickInterval: cfg.Sync.TickInterval,
			Workers:      cfg.Sync.Workers,
			RunTimeout:   cfg.Sync.RunTimeout,
			Policy: scheduler.Policy{
				DeepHours:            cfg.Sync.DeepHours,
				FastInterval:         cfg.Sync.FastInterval,
				InitialRetryInterval: cfg.Sync.InitialRetryInterval,
			},
		}, repository, orchestrator, locker, logger, metricRegistry)
		deps.Scheduler = sched
		go func() {
			defer close(schedDone)
			if err := sched.Run(ctx); err != nil {
				logger.Error("scheduler stopped", "error", err)
			}
		}()
	} else {
		close(schedDone)
		logger.Warn("sync scheduler disabled")
	}

	httpSrv := httpserver.New(cfg.HTTPListenAddr, logger, metricRegistry, deps, cfg.PublicBasePath)

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Start(); err != nil {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		serveErr = fmt.Errorf("http server error: %w", err)
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	<-schedDone

	return serveErr
}

func openRepository(ctx context.Context, cfg config.Config, logger *slog.Logger) (repo.Repository, error) {
	switch cfg.DatabaseDriver {
	case config.DriverSQLite:
		return repo.NewSQLite(ctx, cfg.SQLitePath, logger)
	default:
		return repo.New(ctx, cfg.DatabaseURL, cfg.DatabaseSchema, logger)
	}
}
