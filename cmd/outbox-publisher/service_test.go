package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/angelmondragon/gadgetswap-backend/pkg/broker"
	"github.com/angelmondragon/gadgetswap-backend/pkg/config"
	"github.com/angelmondragon/gadgetswap-backend/pkg/db/models"
	"github.com/angelmondragon/gadgetswap-backend/pkg/enums"
	"github.com/angelmondragon/gadgetswap-backend/pkg/logger"
	"github.com/angelmondragon/gadgetswap-backend/pkg/metrics"
	"github.com/angelmondragon/gadgetswap-backend/pkg/outbox"
	"github.com/angelmondragon/gadgetswap-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/gadgetswap-backend/pkg/outbox/registry"
)

func TestServiceProcessBatchMarksFailuresAndSuccesses(t *testing.T) {
	repo := &fakeRepo{events: []models.OutboxEvent{
		testEvent(t, "first", 0),
		testEvent(t, "second", 0),
	}}
	pub := &fakePublisher{errs: []error{errors.New("broker unavailable"), nil}}
	service := newTestService(t, repo, pub, realRegistry(t), nil, nil)

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if !processed {
		t.Fatalf("expected batch to report processed")
	}
	if got := len(repo.failed); got != 1 {
		t.Fatalf("unexpected number of failed rows: %d", got)
	}
	if got := len(repo.published); got != 1 {
		t.Fatalf("unexpected number of published rows: %d", got)
	}
	if repo.failed[0] != repo.events[0].ID {
		t.Fatalf("failed row recorded wrong ID")
	}
	if repo.published[0] != repo.events[1].ID {
		t.Fatalf("published row recorded wrong ID")
	}
}

func TestServicePublishesKeyedByAggregate(t *testing.T) {
	event := testEvent(t, "keyed", 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	pub := &fakePublisher{}
	service := newTestService(t, repo, pub, realRegistry(t), nil, nil)

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if len(pub.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(pub.sent))
	}
	msg := pub.sent[0]
	if msg.Topic != "orders-topic" {
		t.Fatalf("unexpected topic %q", msg.Topic)
	}
	if msg.Key != event.AggregateID.String() {
		t.Fatalf("message key must be the aggregate id, got %q", msg.Key)
	}
	if msg.ID != "keyed" {
		t.Fatalf("message id must come from the envelope, got %q", msg.ID)
	}
	if msg.Type != string(enums.EventOrderFulfilled) {
		t.Fatalf("unexpected type %q", msg.Type)
	}
	if msg.Attributes["aggregate_type"] != string(enums.AggregateOrder) {
		t.Fatalf("missing aggregate_type attribute")
	}
}

func TestServiceParksUnresolvableRows(t *testing.T) {
	event := testEvent(t, "bad", 0)
	event.EventType = "listing_relisted"
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	pub := &fakePublisher{}
	reg := prometheus.NewRegistry()
	m := metrics.NewOutboxMetrics(reg)
	service := newTestService(t, repo, pub, realRegistry(t), nil, m)

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if !processed {
		t.Fatalf("expected batch to report processed")
	}
	if len(repo.dead) != 1 || repo.dead[0] != event.ID {
		t.Fatalf("expected row parked, got %v", repo.dead)
	}
	if len(pub.sent) != 0 {
		t.Fatalf("unresolvable row must not be published")
	}
	if got := testutil.CollectAndCount(reg, "gadgetswap_outbox_dead_total"); got != 1 {
		t.Fatalf("expected one dead series, got %d", got)
	}
}

func TestServiceParksRowsAtMaxAttempts(t *testing.T) {
	event := testEvent(t, "max-attempts", 1)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	pub := &fakePublisher{errs: []error{errors.New("transient")}}
	service := newTestService(t, repo, pub, realRegistry(t), &config.OutboxConfig{
		BatchSize:      1,
		PollIntervalMS: 100,
		MaxAttempts:    2,
	}, nil)

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if len(repo.dead) != 1 {
		t.Fatalf("expected row parked after max attempts, got %d", len(repo.dead))
	}
	if len(repo.failed) != 0 {
		t.Fatalf("terminal row must not be marked failed")
	}
}

func TestServiceNonRetryablePublishErrorParksRow(t *testing.T) {
	event := testEvent(t, "nonretryable", 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	pub := &fakePublisher{errs: []error{registry.Permanent(errors.New("message too large"))}}
	service := newTestService(t, repo, pub, realRegistry(t), nil, nil)

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if len(repo.dead) != 1 {
		t.Fatalf("expected row parked, got %d", len(repo.dead))
	}
}

func TestServiceEmptyBatchIsIdle(t *testing.T) {
	service := newTestService(t, &fakeRepo{}, &fakePublisher{}, realRegistry(t), nil, nil)
	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if processed {
		t.Fatalf("empty batch must not report processed")
	}
}

func TestBackoffDoublesAndResets(t *testing.T) {
	b := backoff{base: time.Second, max: 5 * time.Second}
	for _, want := range []time.Duration{2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second} {
		if got := b.fail(); got != want {
			t.Fatalf("expected %s got %s", want, got)
		}
	}
	if got := b.reset(); got != time.Second {
		t.Fatalf("reset must return the base interval, got %s", got)
	}
	if got := b.fail(); got != 2*time.Second {
		t.Fatalf("expected backoff to restart from base, got %s", got)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	service := newTestService(t, &fakeRepo{}, &fakePublisher{}, realRegistry(t), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- service.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func newTestService(t *testing.T, repo outboxRepository, pub broker.Publisher, res resolver, outboxCfgOverride *config.OutboxConfig, m *metrics.OutboxMetrics) *Service {
	outboxCfg := config.OutboxConfig{
		BatchSize:      2,
		PollIntervalMS: 100,
		MaxAttempts:    5,
	}
	if outboxCfgOverride != nil {
		outboxCfg = *outboxCfgOverride
	}
	cfg := &config.Config{
		Outbox: outboxCfg,
	}
	logg := logger.New(logger.Options{
		ServiceName: "outbox-publisher-test",
		Output:      io.Discard,
	})
	service, err := NewService(ServiceParams{
		Config:     cfg,
		Logger:     logg,
		DB:         &fakeDB{},
		Publisher:  pub,
		Repository: repo,
		Registry:   res,
		Metrics:    m,
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service
}

func realRegistry(t *testing.T) *registry.EventRegistry {
	t.Helper()
	reg, err := registry.NewEventRegistry("orders-topic")
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	return reg
}

func testEvent(tb testing.TB, eventID string, attempts int) models.OutboxEvent {
	tb.Helper()
	orderID := uuid.New()
	data, err := json.Marshal(payloads.OrderFulfilledEvent{OrderID: orderID, BuyerID: "buyer-a"})
	if err != nil {
		tb.Fatalf("marshal payload: %v", err)
	}
	env := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID,
		OccurredAt: time.Now(),
		Data:       data,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		tb.Fatalf("marshal envelope: %v", err)
	}
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventOrderFulfilled,
		AggregateType: enums.AggregateOrder,
		AggregateID:   orderID,
		Payload:       payload,
		AttemptCount:  attempts,
	}
}

type fakeRepo struct {
	events    []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
	dead      []uuid.UUID
}

func (f *fakeRepo) FetchUnpublished(ctx context.Context, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	return f.events, nil
}

func (f *fakeRepo) MarkPublished(ctx context.Context, id uuid.UUID) error {
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRepo) MarkFailed(ctx context.Context, id uuid.UUID, err error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeRepo) MarkDead(ctx context.Context, id uuid.UUID, maxAttempts int, err error) error {
	f.dead = append(f.dead, id)
	return nil
}

type fakeDB struct{}

func (f *fakeDB) Ping(context.Context) error {
	return nil
}

type fakePublisher struct {
	errs []error
	sent []broker.Message
}

func (f *fakePublisher) Name() string { return "fake" }

func (f *fakePublisher) Publish(_ context.Context, msg broker.Message) error {
	var err error
	if len(f.errs) > 0 {
		err = f.errs[0]
		f.errs = f.errs[1:]
	}
	if err == nil {
		f.sent = append(f.sent, msg)
	}
	return err
}

func (f *fakePublisher) Ping(context.Context) error { return nil }

func (f *fakePublisher) Close() error { return nil }
