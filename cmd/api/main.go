package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/gadgetswap-backend/api/controllers"
	"github.com/angelmondragon/gadgetswap-backend/api/routes"
	checkoutsvc "github.com/angelmondragon/gadgetswap-backend/internal/checkout"
	"github.com/angelmondragon/gadgetswap-backend/internal/cron"
	"github.com/angelmondragon/gadgetswap-backend/internal/fulfillment"
	"github.com/angelmondragon/gadgetswap-backend/internal/listings"
	"github.com/angelmondragon/gadgetswap-backend/internal/orders"
	paymentwebhook "github.com/angelmondragon/gadgetswap-backend/internal/webhooks/payment"
	"github.com/angelmondragon/gadgetswap-backend/pkg/config"
	"github.com/angelmondragon/gadgetswap-backend/pkg/db"
	"github.com/angelmondragon/gadgetswap-backend/pkg/idempotency"
	"github.com/angelmondragon/gadgetswap-backend/pkg/logger"
	"github.com/angelmondragon/gadgetswap-backend/pkg/metrics"
	"github.com/angelmondragon/gadgetswap-backend/pkg/migrate"
	"github.com/angelmondragon/gadgetswap-backend/pkg/outbox"
	"github.com/angelmondragon/gadgetswap-backend/pkg/redis"
	pkgstripe "github.com/angelmondragon/gadgetswap-backend/pkg/stripe"
)

const (
	webhookGuardScope = "payment-webhook"
	shutdownTimeout   = 15 * time.Second
)

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
		Level:       logger.ParseLevel(cfg.App.LogLevel),
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

	readiness := map[string]controllers.Pinger{"database": dbClient.Ping}
	params := routes.Params{
		Config:    cfg,
		Logger:    logg,
		Readiness: readiness,
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient, err = redis.New(context.Background(), cfg.Redis, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap redis", err)
			os.Exit(1)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing redis", err)
			}
		}()
		readiness["redis"] = redisClient.Ping
		params.RateLimiter = redisClient
	}

	var (
		store     idempotency.Store
		boltStore *idempotency.BoltStore
	)
	switch {
	case cfg.Idempotency.UsesBolt():
		boltStore, err = idempotency.OpenBolt(cfg.Idempotency.BoltPath)
		if err != nil {
			logg.Error(context.Background(), "failed to open idempotency store", err)
			os.Exit(1)
		}
		defer func() {
			if err := boltStore.Close(); err != nil {
				logg.Error(context.Background(), "error closing idempotency store", err)
			}
		}()
		readiness["idempotency"] = boltStore.Ping
		store = boltStore
	case redisClient != nil:
		store = redisClient
	default:
		logg.Error(context.Background(), "idempotency store unavailable", fmt.Errorf("%s=redis requires a redis endpoint", config.EnvIdempotencyBackend))
		os.Exit(1)
	}
	params.IdempotencyStore = store

	stripeClient, err := pkgstripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap stripe", err)
		os.Exit(1)
	}

	registry := prometheus.DefaultRegisterer
	params.HTTPMetrics = metrics.NewHTTPMetrics(registry)
	params.MetricsHandler = promhttp.Handler()

	ledger, err := listings.NewService(listings.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(context.Background(), "failed to create listing ledger", err)
		os.Exit(1)
	}
	events := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	orderRepo := orders.NewRepository(dbClient.DB())

	orderSvc, err := orders.NewService(orderRepo, dbClient, ledger, events, logg, orders.Options{
		EagerReservation: cfg.Orders.EagerReservation(),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}
	params.Orders = orderSvc

	fulfillSvc, err := fulfillment.NewService(orderRepo, dbClient, ledger, events, logg, metrics.NewFulfillmentMetrics(registry))
	if err != nil {
		logg.Error(context.Background(), "failed to create fulfillment service", err)
		os.Exit(1)
	}

	checkoutService, err := checkoutsvc.NewService(orderSvc, fulfillSvc, stripeClient, cfg.App.FrontendURL, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout service", err)
		os.Exit(1)
	}
	params.Checkout = checkoutService

	guard, err := idempotency.NewGuard(store, cfg.Idempotency.WebhookTTL, webhookGuardScope)
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook guard", err)
		os.Exit(1)
	}
	webhookService, err := paymentwebhook.NewService(paymentwebhook.ServiceParams{
		Verifier:    paymentwebhook.NewStripeVerifier(stripeClient),
		Guard:       guard,
		Fulfillment: fulfillSvc,
		Logger:      logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payment webhook service", err)
		os.Exit(1)
	}
	params.Webhooks = webhookService

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":              cfg.App.Env,
		"port":             cfg.App.Port,
		"stripe_env":       stripeClient.Environment(),
		"reservation_mode": cfg.Orders.ReservationMode,
	})

	// The bolt file is locked by this process, so its expiry sweep runs here
	// rather than in the cron worker.
	if boltStore != nil {
		purgeJob, err := cron.NewIdempotencyPurgeJob(cron.IdempotencyPurgeJobParams{
			Logger:  logg,
			Store:   boltStore,
			Metrics: metrics.NewCronJobMetrics(registry),
		})
		if err != nil {
			logg.Error(ctx, "failed to create idempotency purge job", err)
			os.Exit(1)
		}
		sweeper, err := cron.NewService(cron.ServiceParams{
			Logger:   logg,
			Registry: cron.NewRegistry(purgeJob),
			Lock:     &cron.LocalLock{},
			Interval: cfg.Cron.Interval,
		})
		if err != nil {
			logg.Error(ctx, "failed to create idempotency sweeper", err)
			os.Exit(1)
		}
		go func() {
			if err := sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logg.Error(ctx, "idempotency sweeper stopped", err)
			}
		}()
	}

	server := &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           routes.NewRouter(params),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(shutdownCtx, "api server shutdown failed", err)
		}
		logg.Info(shutdownCtx, "api server shut down gracefully")
	}
}
