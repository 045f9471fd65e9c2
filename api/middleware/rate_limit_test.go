package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/angelmondragon/gadgetswap-backend/pkg/auth"
)

type fakeCounter struct {
	counts map[string]int64
	err    error
}

func (f *fakeCounter) FixedWindowAllow(_ context.Context, scope string, limit int64, _ time.Duration) (bool, int64, error) {
	if f.err != nil {
		return false, 0, f.err
	}
	if f.counts == nil {
		f.counts = map[string]int64{}
	}
	f.counts[scope]++
	return f.counts[scope] <= limit, f.counts[scope], nil
}

func TestRateLimitBlocksAfterLimit(t *testing.T) {
	store := &fakeCounter{}
	policy := NewRateLimitPolicy("checkout", time.Minute, 2)
	handler := RateLimit(policy, store, nil)(okHandler(nil))

	codes := []int{}
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/payments/checkout-session", nil)
		req = req.WithContext(WithIdentity(req.Context(), auth.Identity{ID: "buyer-a"}))
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		codes = append(codes, resp.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status sequence %v", codes)
	}
	if _, ok := store.counts["checkout:user:buyer-a"]; !ok {
		t.Fatalf("expected per-user key, got %v", store.counts)
	}
}

func TestRateLimitKeysAnonymousByIP(t *testing.T) {
	store := &fakeCounter{}
	handler := RateLimit(NewRateLimitPolicy("webhook", time.Minute, 5), store, nil)(okHandler(nil))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if _, ok := store.counts["webhook:ip:203.0.113.7"]; !ok {
		t.Fatalf("expected ip key, got %v", store.counts)
	}
}

func TestRateLimitFailsOpen(t *testing.T) {
	store := &fakeCounter{err: errors.New("redis down")}
	handler := RateLimit(NewRateLimitPolicy("checkout", time.Minute, 1), store, nil)(okHandler(nil))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("store failure must not block, got %d", resp.Code)
	}
}
