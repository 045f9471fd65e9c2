// Package idempotency records processed keys so retried work runs at most once.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Store is the key/value surface shared by the redis client and the bolt store.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	IdempotencyKey(scope, id string) string
	Del(ctx context.Context, keys ...string) error
}

// DefaultInFlightTTL bounds how long a claim survives a worker that died
// before completing it.
const DefaultInFlightTTL = 2 * time.Minute

const (
	valuePending = "pending"
	valueDone    = "done"
)

// Claim is the state of an id after a claim attempt.
type Claim int

const (
	// ClaimAcquired means the caller owns the id and must Complete or Release it.
	ClaimAcquired Claim = iota
	// ClaimInFlight means another worker holds the id and has not finished.
	ClaimInFlight
	// ClaimDone means the id was already processed.
	ClaimDone
)

// Guard tracks ids within one scope. An id is claimed for a short in-flight
// window and only marked done for the full TTL once the work committed, so a
// crash mid-way never turns a redelivery into a silent duplicate.
type Guard struct {
	store    Store
	ttl      time.Duration
	inFlight time.Duration
	scope    string
}

func NewGuard(store Store, ttl time.Duration, scope string) (*Guard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	if scope == "" {
		return nil, errors.New("scope is required")
	}
	return &Guard{store: store, ttl: ttl, inFlight: DefaultInFlightTTL, scope: scope}, nil
}

// WithInFlightTTL overrides how long an unfinished claim blocks redelivery.
func (g *Guard) WithInFlightTTL(d time.Duration) *Guard {
	if d > 0 {
		g.inFlight = d
	}
	return g
}

// Claim tries to take ownership of id.
func (g *Guard) Claim(ctx context.Context, id string) (Claim, error) {
	if id == "" {
		return ClaimInFlight, errors.New("id is required")
	}
	key := g.store.IdempotencyKey(g.scope, id)
	set, err := g.store.SetNX(ctx, key, valuePending, g.inFlight)
	if err != nil {
		return ClaimInFlight, fmt.Errorf("claim idempotency key: %w", err)
	}
	if set {
		return ClaimAcquired, nil
	}
	// A lookup failure or a record that expired in between reads as in flight;
	// the caller asks for redelivery either way.
	if value, err := g.store.Get(ctx, key); err == nil && value == valueDone {
		return ClaimDone, nil
	}
	return ClaimInFlight, nil
}

// Complete marks a claimed id as processed for the full TTL.
func (g *Guard) Complete(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("id is required")
	}
	key := g.store.IdempotencyKey(g.scope, id)
	if err := g.store.Del(ctx, key); err != nil {
		return fmt.Errorf("clear idempotency claim: %w", err)
	}
	if _, err := g.store.SetNX(ctx, key, valueDone, g.ttl); err != nil {
		return fmt.Errorf("mark idempotency key: %w", err)
	}
	return nil
}

// Release drops a claim so a later retry is processed again.
func (g *Guard) Release(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("id is required")
	}
	return g.store.Del(ctx, g.store.IdempotencyKey(g.scope, id))
}
