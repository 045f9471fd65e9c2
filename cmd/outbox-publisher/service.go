package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/gadgetswap-backend/pkg/broker"
	"github.com/angelmondragon/gadgetswap-backend/pkg/config"
	"github.com/angelmondragon/gadgetswap-backend/pkg/db/models"
	"github.com/angelmondragon/gadgetswap-backend/pkg/logger"
	"github.com/angelmondragon/gadgetswap-backend/pkg/metrics"
	"github.com/angelmondragon/gadgetswap-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollInterval   = 500 * time.Millisecond
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10
	maxBackoff            = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
)

type pinger interface {
	Ping(context.Context) error
}

type outboxRepository interface {
	FetchUnpublished(ctx context.Context, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublished(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, err error) error
	MarkDead(ctx context.Context, id uuid.UUID, maxAttempts int, err error) error
}

type resolver interface {
	Resolve(models.OutboxEvent) (*registry.Resolved, error)
}

type ServiceParams struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         pinger
	Publisher  broker.Publisher
	Repository outboxRepository
	Registry   resolver
	Metrics    *metrics.OutboxMetrics
}

// Service ships pending outbox rows to the broker. A row is marked only after
// the broker acknowledges it, so consumers see each event at least once and
// must dedupe on the envelope event id.
type Service struct {
	logg        *logger.Logger
	db          pinger
	repo        outboxRepository
	publisher   broker.Publisher
	registry    resolver
	metrics     *metrics.OutboxMetrics
	batchSize   int
	maxAttempts int
	backoff     backoff
}

func NewService(p ServiceParams) (*Service, error) {
	switch {
	case p.Config == nil:
		return nil, errors.New("config is required")
	case p.Logger == nil:
		return nil, errors.New("logger is required")
	case p.DB == nil:
		return nil, errors.New("database client is required")
	case p.Publisher == nil:
		return nil, errors.New("broker publisher is required")
	case p.Repository == nil:
		return nil, errors.New("outbox repository is required")
	case p.Registry == nil:
		return nil, errors.New("event registry is required")
	}

	cfg := p.Config.Outbox
	poll := time.Duration(cfg.PollIntervalMS) * time.Millisecond
	if poll <= 0 {
		poll = defaultPollInterval
	}
	return &Service{
		logg:        p.Logger,
		db:          p.DB,
		repo:        p.Repository,
		publisher:   p.Publisher,
		registry:    p.Registry,
		metrics:     p.Metrics,
		batchSize:   positiveOr(cfg.BatchSize, defaultBatchSize),
		maxAttempts: positiveOr(cfg.MaxAttempts, defaultMaxAttempts),
		backoff:     backoff{base: poll, max: maxBackoff},
	}, nil
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

// Run polls until ctx is canceled. A full batch is followed immediately by the
// next one; an empty batch waits one poll interval; a failing batch backs off.
func (s *Service) Run(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if err := s.publisher.Ping(ctx); err != nil {
		return fmt.Errorf("%s ping failed: %w", s.publisher.Name(), err)
	}

	for {
		handled, err := s.processBatch(ctx)
		var wait time.Duration
		switch {
		case ctx.Err() != nil:
			s.logg.Info(ctx, "outbox publisher context canceled")
			return ctx.Err()
		case err != nil:
			s.logg.Error(ctx, "outbox publisher batch error", err)
			wait = s.backoff.fail()
		case handled:
			s.backoff.reset()
			continue
		default:
			wait = s.backoff.reset()
		}

		timer := time.NewTimer(wait + rand.N(jitterWindow))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

type outcome int

const (
	published outcome = iota
	retry
	parked
)

// processBatch delivers one batch and reports whether it contained any rows.
func (s *Service) processBatch(ctx context.Context) (bool, error) {
	rows, err := s.repo.FetchUnpublished(ctx, s.batchSize, s.maxAttempts)
	if err != nil {
		return false, fmt.Errorf("fetch unpublished: %w", err)
	}
	for _, row := range rows {
		result, cause := s.deliver(ctx, row)
		if err := s.settle(ctx, row, result, cause); err != nil {
			return true, err
		}
	}
	return len(rows) > 0, nil
}

func (s *Service) deliver(ctx context.Context, row models.OutboxEvent) (outcome, error) {
	resolved, err := s.registry.Resolve(row)
	if err != nil {
		return parked, err
	}
	msg := broker.Message{
		ID:    resolved.Envelope.EventID,
		Topic: resolved.Topic,
		Key:   row.AggregateID.String(),
		Type:  string(row.EventType),
		Body:  row.Payload,
		Attributes: map[string]string{
			"aggregate_type": string(row.AggregateType),
			"aggregate_id":   row.AggregateID.String(),
			"created_at":     row.CreatedAt.Format(time.RFC3339Nano),
		},
	}
	if msg.ID == "" {
		msg.ID = row.ID.String()
	}

	pubCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()
	switch err := s.publisher.Publish(pubCtx, msg); {
	case err == nil:
		return published, nil
	case registry.IsPermanent(err):
		return parked, err
	case row.AttemptCount+1 >= s.maxAttempts:
		return parked, fmt.Errorf("max publish attempts reached: %w", err)
	default:
		return retry, err
	}
}

func (s *Service) settle(ctx context.Context, row models.OutboxEvent, result outcome, cause error) error {
	sink, eventType := s.publisher.Name(), string(row.EventType)
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"outbox_id":     row.ID.String(),
		"event_type":    eventType,
		"aggregate_id":  row.AggregateID.String(),
		"sink":          sink,
		"attempt_count": row.AttemptCount,
	})

	var err error
	switch result {
	case published:
		if err = s.repo.MarkPublished(ctx, row.ID); err == nil {
			s.metrics.IncPublished(sink, eventType)
			s.logg.Info(logCtx, "outbox event published")
		}
	case retry:
		s.metrics.IncFailed(sink, eventType)
		s.logg.Warn(s.logg.WithField(logCtx, "error", cause.Error()), "outbox publish failed")
		err = s.repo.MarkFailed(ctx, row.ID, cause)
	case parked:
		s.metrics.IncDead(sink, eventType)
		s.logg.Warn(s.logg.WithField(logCtx, "error", cause.Error()), "outbox event will not be retried")
		err = s.repo.MarkDead(ctx, row.ID, s.maxAttempts, cause)
	}
	if err != nil {
		return fmt.Errorf("settle outbox row %s: %w", row.ID, err)
	}
	return nil
}

// backoff doubles the wait after each failed batch up to max.
type backoff struct {
	base, max, cur time.Duration
}

func (b *backoff) fail() time.Duration {
	if b.cur < b.base {
		b.cur = b.base
	}
	b.cur = min(b.cur*2, b.max)
	return b.cur
}

func (b *backoff) reset() time.Duration {
	b.cur = b.base
	return b.base
}
