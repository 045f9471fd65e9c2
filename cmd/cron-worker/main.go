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

	"github.com/angelmondragon/gadgetswap-backend/internal/cron"
	"github.com/angelmondragon/gadgetswap-backend/internal/listings"
	"github.com/angelmondragon/gadgetswap-backend/internal/orders"
	"github.com/angelmondragon/gadgetswap-backend/pkg/config"
	"github.com/angelmondragon/gadgetswap-backend/pkg/db"
	"github.com/angelmondragon/gadgetswap-backend/pkg/logger"
	"github.com/angelmondragon/gadgetswap-backend/pkg/metrics"
	"github.com/angelmondragon/gadgetswap-backend/pkg/migrate"
	"github.com/angelmondragon/gadgetswap-backend/pkg/outbox"
	"github.com/angelmondragon/gadgetswap-backend/pkg/redis"
)

const serviceName = "cron-worker"

func main() {
	bootLog := logger.New(logger.Options{ServiceName: serviceName})
	if err := godotenv.Load(); err != nil {
		bootLog.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		bootLog.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = serviceName

	logg := logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"interval":    cfg.Cron.Interval.String(),
		"cart_ttl":    cfg.Orders.CartTTL.String(),
	})

	if err := run(ctx, cfg, logg); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "cron worker shutting down gracefully")
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	defer closeWithLog(ctx, logg, "database", dbClient.Close)

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	lock, closeLock, err := newLock(ctx, cfg, logg)
	if err != nil {
		return err
	}
	defer closeLock()

	jobMetrics := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	jobs, err := buildJobs(cfg, logg, dbClient, jobMetrics)
	if err != nil {
		return err
	}
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(jobs...),
		Lock:     lock,
		Metrics:  jobMetrics,
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		return err
	}

	logg.Info(ctx, "starting cron worker")
	return service.Run(ctx)
}

// newLock shares the cycle lock through redis when it is configured. Without
// redis the lock only excludes overlapping cycles inside this process.
func newLock(ctx context.Context, cfg *config.Config, logg *logger.Logger) (cron.Lock, func(), error) {
	if !cfg.Redis.Enabled() {
		logg.Warn(ctx, "redis not configured; cron lock is process-local, run a single replica")
		return &cron.LocalLock{}, func() {}, nil
	}
	client, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return nil, nil, fmt.Errorf("bootstrap redis: %w", err)
	}
	closeFn := func() { closeWithLog(ctx, logg, "redis", client.Close) }

	env := cfg.App.Env
	if env == "" {
		env = "local"
	}
	lock, err := cron.NewRedisLock(client, client.LockKey(serviceName+":"+env), cfg.Cron.LockTTL)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return lock, closeFn, nil
}

func buildJobs(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, m *metrics.CronJobMetrics) ([]cron.Job, error) {
	ledger, err := listings.NewService(listings.NewRepository(dbClient.DB()))
	if err != nil {
		return nil, err
	}
	outboxRepo := outbox.NewRepository(dbClient.DB())
	orderSvc, err := orders.NewService(orders.NewRepository(dbClient.DB()), dbClient, ledger, outbox.NewService(outboxRepo, logg), logg, orders.Options{
		EagerReservation: cfg.Orders.EagerReservation(),
	})
	if err != nil {
		return nil, err
	}

	cartExpiry, err := cron.NewCartExpiryJob(cron.CartExpiryJobParams{
		Logger:    logg,
		Orders:    orderSvc,
		TTL:       cfg.Orders.CartTTL,
		BatchSize: cfg.Orders.SweepBatchSize,
		Metrics:   m,
	})
	if err != nil {
		return nil, fmt.Errorf("cart expiry job: %w", err)
	}
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		Repository: outboxRepo,
		Retention:  cfg.Outbox.Retention,
		Metrics:    m,
	})
	if err != nil {
		return nil, fmt.Errorf("outbox retention job: %w", err)
	}
	return []cron.Job{cartExpiry, retention}, nil
}

func closeWithLog(ctx context.Context, logg *logger.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logg.Error(ctx, "error closing "+name, err)
	}
}
