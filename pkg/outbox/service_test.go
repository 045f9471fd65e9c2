package outbox_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/gadgetswap-backend/pkg/db/dbtest"
	"github.com/angelmondragon/gadgetswap-backend/pkg/db/models"
	"github.com/angelmondragon/gadgetswap-backend/pkg/enums"
	"github.com/angelmondragon/gadgetswap-backend/pkg/logger"
	"github.com/angelmondragon/gadgetswap-backend/pkg/outbox"
)

func TestEmitWritesEnvelopeInsideTransaction(t *testing.T) {
	client := dbtest.Open(t)
	repo := outbox.NewRepository(client.DB())
	svc := outbox.NewService(repo, logger.Nop())
	orderID := uuid.New()

	err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCanceled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Actor:         &outbox.ActorRef{UserID: "buyer-1", Role: "buyer"},
			Data:          map[string]string{"reason": "changed mind"},
		})
	})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}

	rows, err := repo.FetchUnpublished(context.Background(), 10, 5)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one row, got %d", len(rows))
	}
	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(rows[0].Payload, &envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelope.Version != 1 || envelope.Actor == nil || envelope.Actor.UserID != "buyer-1" {
		t.Fatalf("unexpected envelope %+v", envelope)
	}
}

func TestEmitRollsBackWithTransaction(t *testing.T) {
	client := dbtest.Open(t)
	repo := outbox.NewRepository(client.DB())
	svc := outbox.NewService(repo, nil)

	_ = client.WithTx(context.Background(), func(tx *gorm.DB) error {
		if err := svc.Emit(context.Background(), tx, outbox.DomainEvent{
			EventType:     enums.EventOrderFulfilled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   uuid.New(),
			Data:          struct{}{},
		}); err != nil {
			t.Fatalf("emit: %v", err)
		}
		return errors.New("abort")
	})

	rows, err := repo.FetchUnpublished(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("rolled back event must not persist, got %d rows", len(rows))
	}
}

func TestEmitIfNotExistsDeduplicates(t *testing.T) {
	client := dbtest.Open(t)
	repo := outbox.NewRepository(client.DB())
	svc := outbox.NewService(repo, nil)
	event := outbox.DomainEvent{
		EventType:     enums.EventFulfillmentConflict,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Data:          map[string]string{"reason": "listing sold"},
	}

	for i := 0; i < 2; i++ {
		if err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
			return svc.EmitIfNotExists(context.Background(), tx, event)
		}); err != nil {
			t.Fatalf("emit %d: %v", i, err)
		}
	}

	rows, _ := repo.FetchUnpublished(context.Background(), 10, 0)
	if len(rows) != 1 {
		t.Fatalf("expected a single conflict row, got %d", len(rows))
	}
}

func TestRepositoryPublishLifecycle(t *testing.T) {
	ctx := context.Background()
	client := dbtest.Open(t)
	repo := outbox.NewRepository(client.DB())

	row := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventOrderExpired,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{"version":1,"data":{}}`),
	}
	if err := repo.Insert(client.DB(), row); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := repo.MarkFailed(ctx, row.ID, errors.New("broker down")); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	rows, _ := repo.FetchUnpublished(ctx, 10, 1)
	if len(rows) != 0 {
		t.Fatalf("row past max attempts must not be fetched, got %d", len(rows))
	}
	rows, _ = repo.FetchUnpublished(ctx, 10, 5)
	if len(rows) != 1 || rows[0].AttemptCount != 1 || rows[0].LastError == nil {
		t.Fatalf("unexpected retry state %+v", rows)
	}

	if err := repo.MarkPublished(ctx, row.ID); err != nil {
		t.Fatalf("mark published: %v", err)
	}
	rows, _ = repo.FetchUnpublished(ctx, 10, 5)
	if len(rows) != 0 {
		t.Fatalf("published row must not be fetched")
	}

	removed, err := repo.DeletePublishedBefore(ctx, time.Now().Add(time.Hour))
	if err != nil || removed != 1 {
		t.Fatalf("expected retention sweep to remove one row, removed=%d err=%v", removed, err)
	}
}
