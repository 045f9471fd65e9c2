// Package registry decodes outbox rows into the typed order events the
// publisher is allowed to ship.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/gadgetswap-backend/pkg/db/models"
	"github.com/angelmondragon/gadgetswap-backend/pkg/enums"
	"github.com/angelmondragon/gadgetswap-backend/pkg/outbox"
	"github.com/angelmondragon/gadgetswap-backend/pkg/outbox/payloads"
)

type decodeFunc func(json.RawMessage) (any, error)

func decodeAs[T any]() decodeFunc {
	return func(raw json.RawMessage) (any, error) {
		out := new(T)
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, err
		}
		return out, nil
	}
}

type route struct {
	aggregate enums.OutboxAggregateType
	decode    decodeFunc
}

// Resolved is a row that passed validation and is ready to publish.
type Resolved struct {
	Topic    string
	Envelope outbox.PayloadEnvelope
	Payload  any
}

// EventRegistry knows every event type the marketplace emits.
type EventRegistry struct {
	topic  string
	routes map[enums.OutboxEventType]route
}

// NewEventRegistry routes all order events to topic.
func NewEventRegistry(topic string) (*EventRegistry, error) {
	if topic == "" {
		return nil, errors.New("orders topic is required")
	}
	return &EventRegistry{
		topic: topic,
		routes: map[enums.OutboxEventType]route{
			enums.EventOrderFulfilled:      {enums.AggregateOrder, decodeAs[payloads.OrderFulfilledEvent]()},
			enums.EventOrderCanceled:       {enums.AggregateOrder, decodeAs[payloads.OrderCanceledEvent]()},
			enums.EventOrderExpired:        {enums.AggregateOrder, decodeAs[payloads.OrderExpiredEvent]()},
			enums.EventOrderPurged:         {enums.AggregateOrder, decodeAs[payloads.OrderPurgedEvent]()},
			enums.EventFulfillmentConflict: {enums.AggregateOrder, decodeAs[payloads.FulfillmentConflictEvent]()},
		},
	}, nil
}

// Resolve checks the row against its registered shape. Every failure is
// permanent: retrying the same bytes cannot succeed.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*Resolved, error) {
	rt, ok := r.routes[event.EventType]
	switch {
	case !ok:
		return nil, Permanent(fmt.Errorf("unsupported event type %s", event.EventType))
	case rt.aggregate != event.AggregateType:
		return nil, Permanent(fmt.Errorf("%s belongs to %s aggregates, row says %s", event.EventType, rt.aggregate, event.AggregateType))
	case event.AggregateID == uuid.Nil:
		return nil, Permanent(errors.New("missing aggregate_id"))
	}

	var env outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &env); err != nil {
		return nil, Permanent(fmt.Errorf("decode envelope: %w", err))
	}
	if data := bytes.TrimSpace(env.Data); len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, Permanent(fmt.Errorf("%s has no data", event.EventType))
	}
	payload, err := rt.decode(env.Data)
	if err != nil {
		return nil, Permanent(fmt.Errorf("decode %s data: %w", event.EventType, err))
	}
	return &Resolved{Topic: r.topic, Envelope: env, Payload: payload}, nil
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err so the publisher parks the row instead of retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err, or anything it wraps, came from Permanent.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}
