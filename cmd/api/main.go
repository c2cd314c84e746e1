package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/merchcoin-backend/api/routes"
	"github.com/angelmondragon/merchcoin-backend/internal/apikeys"
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
	"github.com/angelmondragon/merchcoin-backend/pkg/pubsub"
	"github.com/angelmondragon/merchcoin-backend/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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
	sinks := []webhooks.Sink{}
	if cfg.Chat.Enabled {
		sinks = append(sinks, webhooks.NewChatSink(guard, webhookRepo, cfg.Chat.SendTimeout))
	}
	if cfg.PubSub.Enabled() {
		pubsubClient, err := pubsub.NewClient(context.Background(), cfg.PubSub, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to create pubsub client", err)
			os.Exit(1)
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing pubsub client", err)
			}
		}()
		sinks = append(sinks, webhooks.NewPubSubSink(pubsubClient))
	}

	notifier, err := webhooks.NewNotifier(webhooks.NotifierParams{
		Tenancy:    guard,
		Repository: webhookRepo,
		Sinks:      sinks,
		Metrics:    metrics.NewWebhookMetrics(prometheus.DefaultRegisterer),
		Logger:     logg,
		Config:     cfg.Webhooks,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook notifier", err)
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

	catalogRepo := catalog.NewRepository(dbClient.DB())
	catalogService, err := catalog.NewService(guard, catalogRepo)
	if err != nil {
		logg.Error(context.Background(), "failed to create catalog service", err)
		os.Exit(1)
	}

	ordersService, err := orders.NewService(orders.ServiceParams{
		Tenancy:    guard,
		Repository: orders.NewRepository(dbClient.DB()),
		Catalog:    catalogRepo,
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

	hasher, err := apikeys.NewHasher(cfg.APIKeys.Pepper)
	if err != nil {
		logg.Error(context.Background(), "failed to create api key hasher", err)
		os.Exit(1)
	}
	credentialService, err := apikeys.NewService(apikeys.ServiceParams{
		Tenancy:    guard,
		Repository: apikeys.NewRepository(dbClient.DB()),
		Hasher:     hasher,
		Logger:     logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create api key service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	limiter, err := buildLimiter(ctx, cfg, logg, redisClient)
	if err != nil {
		logg.Error(context.Background(), "failed to create rate limiter", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			limiter,
			credentialService,
			ledgerService,
			ordersService,
			catalogService,
			credentialService,
			webhooks.NewEndpointService(guard, webhookRepo),
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
	}

	logg.Info(ctx, "api server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error(ctx, "api server shutdown failed", err)
	}

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), cfg.Webhooks.DrainTimeout)
	defer cancelDrain()
	if err := notifier.Shutdown(drainCtx); err != nil {
		logg.Error(ctx, "webhook notifier did not drain", err)
	}
}

// buildLimiter returns the shared redis limiter, or an in-process limiter
// whose expired windows are swept on the cron cadence.
func buildLimiter(ctx context.Context, cfg *config.Config, logg *logger.Logger, redisClient *redis.Client) (apikeys.Limiter, error) {
	if cfg.APIKeys.UsesRedisLimiter() {
		limiter, err := apikeys.NewRedisLimiter(redisClient, cfg.APIKeys.RateLimitMax, cfg.APIKeys.RateLimitWindow, time.Now)
		if err != nil {
			return nil, err
		}
		return limiter, nil
	}

	limiter, err := apikeys.NewMemoryLimiter(cfg.APIKeys.RateLimitMax, cfg.APIKeys.RateLimitWindow, time.Now)
	if err != nil {
		return nil, err
	}
	sweepJob, err := cron.NewRateLimitSweepJob(logg, limiter)
	if err != nil {
		return nil, err
	}
	registry, err := cron.NewRegistry(sweepJob)
	if err != nil {
		return nil, err
	}
	sweeper, err := cron.NewService(cron.ServiceParams{
		Logger:     logg,
		Registry:   registry,
		Lock:       &cron.LocalLock{},
		Metrics:    metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval:   cfg.APIKeys.SweepInterval,
		JobTimeout: cfg.Cron.JobTimeout,
	})
	if err != nil {
		return nil, err
	}
	go func() {
		if err := sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logg.Error(ctx, "rate limit sweeper stopped", err)
		}
	}()
	return limiter, nil
}
