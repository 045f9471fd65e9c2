package idempotency

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestBolt(t *testing.T) *BoltStore {
	t.Helper()
	store, err := OpenBolt(filepath.Join(t.TempDir(), "idem", "test.db"))
	if err != nil {
		t.Fatalf("OpenBolt: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestBoltStoreSetNXAndGet(t *testing.T) {
	ctx := context.Background()
	store := openTestBolt(t)
	key := store.IdempotencyKey("webhook", "evt_1")
	if key != "gs:idempotency:webhook:evt_1" {
		t.Fatalf("unexpected key %q", key)
	}

	set, err := store.SetNX(ctx, key, "first", time.Hour)
	if err != nil || !set {
		t.Fatalf("expected first SetNX to win, set=%v err=%v", set, err)
	}
	set, err = store.SetNX(ctx, key, "second", time.Hour)
	if err != nil || set {
		t.Fatalf("expected second SetNX to lose, set=%v err=%v", set, err)
	}
	value, err := store.Get(ctx, key)
	if err != nil || value != "first" {
		t.Fatalf("expected first value, got %q err=%v", value, err)
	}

	if err := store.Del(ctx, key); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if value, _ := store.Get(ctx, key); value != "" {
		t.Fatalf("expected empty value after delete, got %q", value)
	}
}

func TestBoltStoreExpiry(t *testing.T) {
	ctx := context.Background()
	store := openTestBolt(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	if _, err := store.SetNX(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("SetNX: %v", err)
	}
	now = now.Add(2 * time.Minute)

	if value, _ := store.Get(ctx, "k"); value != "" {
		t.Fatalf("expired record should read as empty, got %q", value)
	}
	set, err := store.SetNX(ctx, "k", "v2", time.Minute)
	if err != nil || !set {
		t.Fatalf("expired record should be replaceable, set=%v err=%v", set, err)
	}

	now = now.Add(2 * time.Minute)
	removed, err := store.Purge()
	if err != nil || removed != 1 {
		t.Fatalf("expected one purged record, removed=%d err=%v", removed, err)
	}
}
