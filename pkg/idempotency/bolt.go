package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/boltdb/bolt"
)

const (
	boltBucket    = "idempotency"
	boltNamespace = "gs"
	boltPrefix    = "idempotency"
)

type boltRecord struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

func (r boltRecord) expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

// BoltStore keeps idempotency records in an embedded bolt file for
// single-node deployments without redis.
type BoltStore struct {
	db  *bolt.DB
	now func() time.Time
}

// OpenBolt opens (or creates) the bolt file at path.
func OpenBolt(path string) (*BoltStore, error) {
	if path == "" {
		return nil, fmt.Errorf("bolt path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create bolt dir: %w", err)
		}
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(boltBucket))
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create bolt bucket: %w", err)
	}
	return &BoltStore{db: db, now: time.Now}, nil
}

// Get returns the stored value, or an empty string when the key is absent or expired.
func (s *BoltStore) Get(_ context.Context, key string) (string, error) {
	var value string
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(boltBucket)).Get([]byte(key))
		if raw == nil {
			return nil
		}
		var rec boltRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return err
		}
		if !rec.expired(s.now()) {
			value = rec.Value
		}
		return nil
	})
	return value, err
}

// SetNX writes value only when no live record exists for key.
func (s *BoltStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	set := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(boltBucket))
		now := s.now()
		if raw := bucket.Get([]byte(key)); raw != nil {
			var existing boltRecord
			if err := json.Unmarshal(raw, &existing); err == nil && !existing.expired(now) {
				return nil
			}
		}
		rec := boltRecord{Value: fmt.Sprint(value)}
		if ttl > 0 {
			rec.ExpiresAt = now.Add(ttl)
		}
		payload, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		set = true
		return bucket.Put([]byte(key), payload)
	})
	if err != nil {
		return false, err
	}
	return set, nil
}

// Del removes the provided keys.
func (s *BoltStore) Del(_ context.Context, keys ...string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(boltBucket))
		for _, key := range keys {
			if err := bucket.Delete([]byte(key)); err != nil {
				return err
			}
		}
		return nil
	})
}

// IdempotencyKey mirrors the redis key layout so both stores are interchangeable.
func (s *BoltStore) IdempotencyKey(scope, id string) string {
	parts := []string{boltNamespace, boltPrefix}
	for _, part := range []string{scope, id} {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	return strings.Join(parts, ":")
}

// Purge drops expired records and returns how many were removed.
func (s *BoltStore) Purge() (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(boltBucket))
		now := s.now()
		var stale [][]byte
		if err := bucket.ForEach(func(k, v []byte) error {
			var rec boltRecord
			if err := json.Unmarshal(v, &rec); err != nil || rec.expired(now) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	return removed, err
}

// Ping reports whether the bolt file is still open.
func (s *BoltStore) Ping(context.Context) error {
	return s.db.View(func(*bolt.Tx) error { return nil })
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
