package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/gadgetswap-backend/pkg/broker"
	"github.com/angelmondragon/gadgetswap-backend/pkg/config"
	"github.com/angelmondragon/gadgetswap-backend/pkg/db"
	"github.com/angelmondragon/gadgetswap-backend/pkg/logger"
	"github.com/angelmondragon/gadgetswap-backend/pkg/metrics"
	"github.com/angelmondragon/gadgetswap-backend/pkg/migrate"
	"github.com/angelmondragon/gadgetswap-backend/pkg/outbox"
	"github.com/angelmondragon/gadgetswap-backend/pkg/outbox/registry"
)

const serviceName = "outbox-publisher"

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
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "serviceKind": cfg.Service.Kind})

	if err := run(ctx, cfg, logg); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "outbox publisher stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "outbox publisher shutting down gracefully")
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

	publisher, err := broker.New(ctx, cfg, logg)
	if err != nil {
		return fmt.Errorf("bootstrap broker: %w", err)
	}
	defer closeWithLog(ctx, logg, "broker", publisher.Close)

	events, err := registry.NewEventRegistry(topicFor(cfg))
	if err != nil {
		return err
	}
	service, err := NewService(ServiceParams{
		Config:     cfg,
		Logger:     logg,
		DB:         dbClient,
		Publisher:  publisher,
		Repository: outbox.NewRepository(dbClient.DB()),
		Registry:   events,
		Metrics:    metrics.NewOutboxMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		return err
	}

	logg.Info(logg.WithField(ctx, "sink", publisher.Name()), "starting outbox publisher")
	return service.Run(ctx)
}

func closeWithLog(ctx context.Context, logg *logger.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logg.Error(ctx, "error closing "+name, err)
	}
}

// topicFor picks the Pub/Sub orders topic when that sink is active. Kafka and
// RabbitMQ share the generic outbox topic as topic name or routing prefix.
func topicFor(cfg *config.Config) string {
	if strings.EqualFold(cfg.Outbox.Sink, config.OutboxSinkPubSub) && cfg.PubSub.OrdersTopic != "" {
		return cfg.PubSub.OrdersTopic
	}
	return cfg.Outbox.Topic
}
