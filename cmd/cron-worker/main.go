package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/merchcoin-backend/internal/catalog"
	"github.com/angelmondragon/merchcoin-backend/internal/cron"
	"github.com/angelmondragon/merchcoin-backend/internal/ledger"
	"github.com/angelmondragon/merchcoin-backend/internal/orders"
	"github.com/angelmondragon/merchcoin-backend/internal/tenancy"
	"github.com/angelmondragon/merchcoin-backend/internal/webhooks"
	"github.com/angelmondragon/merchcoin-backend/pkg/config"
	"github.com/angelmondragon/merchcoin-backend/pkg/db"
	"github.com/angelmondragon/merchcoin-backend/pkg/logger"
	"github.com/angelmondragon/merchcoin-backend/pkg/metrics"
	"github.com/angelmondragon/merchcoin-backend/pkg/migrate"
	"github.com/angelmondragon/merchcoin-backend/pkg/redis"
)

const lockKeyFormat = "cron-worker:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       cfg.App.LogLevel,
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	guard, err := tenancy.NewGuard(dbClient)
	if err != nil {
		logg.Error(context.Background(), "failed to create tenancy guard", err)
		os.Exit(1)
	}

	webhookRepo := webhooks.NewRepository(dbClient.DB())
	webhookMetrics := metrics.NewWebhookMetrics(prometheus.DefaultRegisterer)
	notifier, err := webhooks.NewNotifier(webhooks.NotifierParams{
		Tenancy:    guard,
		Repository: webhookRepo,
		Metrics:    webhookMetrics,
		Logger:     logg,
		Config:     cfg.Webhooks,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook notifier", err)
		os.Exit(1)
	}
	scheduler, err := webhooks.NewRetryScheduler(webhooks.RetrySchedulerParams{
		Tenancy:    guard,
		Repository: webhookRepo,
		Metrics:    webhookMetrics,
		Logger:     logg,
		Config:     cfg.Webhooks,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook retry scheduler", err)
		os.Exit(1)
	}

	ledgerMetrics := metrics.NewLedgerMetrics(prometheus.DefaultRegisterer)
	ledgerService, err := ledger.NewService(ledger.ServiceParams{
		Tenancy:       guard,
		Repository:    ledger.NewRepository(dbClient.DB()),
		Publisher:     notifier,
		Metrics:       ledgerMetrics,
		Logger:        logg,
		MaxDistribute: cfg.Ledger.MaxDistributeRecipients,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}
	ordersService, err := orders.NewService(orders.ServiceParams{
		Tenancy:    guard,
		Repository: orders.NewRepository(dbClient.DB()),
		Catalog:    catalog.NewRepository(dbClient.DB()),
		Ledger:     ledgerService,
		Publisher:  notifier,
		Metrics:    ledgerMetrics,
		Logger:     logg,
		Settlement: cfg.Settlement,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	retryJob, err := cron.NewWebhookRetryJob(cron.WebhookRetryJobParams{Logger: logg, Scheduler: scheduler})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook retry job", err)
		os.Exit(1)
	}
	reconcileJob, err := cron.NewSettlementReconcileJob(cron.SettlementReconcileJobParams{Logger: logg, Reconciler: ordersService})
	if err != nil {
		logg.Error(context.Background(), "failed to create settlement reconcile job", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(lockKey(cfg.App.Env)), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	registry, err := cron.NewRegistry(retryJob, reconcileJob)
	if err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:     logg,
		Registry:   registry,
		Lock:       lock,
		Metrics:    metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval:   cfg.Cron.Interval,
		JobTimeout: cfg.Cron.JobTimeout,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Webhooks.DrainTimeout)
	defer cancel()
	if err := notifier.Shutdown(drainCtx); err != nil {
		logg.Error(ctx, "webhook notifier did not drain", err)
	}
	logg.Info(ctx, "cron worker shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
