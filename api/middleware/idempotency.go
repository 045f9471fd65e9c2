package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/angelmondragon/gadgetswap-backend/api/responses"
	pkgerrors "github.com/angelmondragon/gadgetswap-backend/pkg/errors"
	"github.com/angelmondragon/gadgetswap-backend/pkg/idempotency"
	"github.com/angelmondragon/gadgetswap-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/gadgetswap-backend/pkg/redis"
)

const (
	// CartIdempotencyTTL covers retries of cart edits.
	CartIdempotencyTTL = 24 * time.Hour
	// PaymentIdempotencyTTL covers routes that start payment or end an order.
	PaymentIdempotencyTTL = 7 * 24 * time.Hour

	idempotencyHeader    = "Idempotency-Key"
	replayedHeader       = "Idempotent-Replayed"
	maxIdempotencyKeyLen = 255
	maxIdempotentBody    = 1 << 20
	inFlightTTL          = time.Minute
	inFlightSuffix       = ":inflight"
)

// storedResponse is what a finished request leaves behind for replay.
type storedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"contentType,omitempty"`
	Body        []byte `json:"body,omitempty"`
	RequestHash string `json:"requestHash"`
}

// Idempotency makes a mutating route safe to retry. A request carrying an
// Idempotency-Key runs once per caller and path; repeats get the stored
// response back with Idempotent-Replayed: true. A repeat that arrives while
// the first is still running, or that reuses the key with a different body,
// is a 409. Server errors are not stored so the caller can retry them.
// Requests without the header run normally, and a nil store disables it.
func Idempotency(store idempotency.Store, ttl time.Duration, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if store == nil || ttl <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			clientKey := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			if clientKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(clientKey) > maxIdempotencyKeyLen {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key too long"))
				return
			}

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxIdempotentBody))
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			requestHash := hashRequest(r, body)
			resultKey := store.IdempotencyKey(UserIDFromContext(ctx)+"|"+r.Method+"|"+r.URL.Path, clientKey)
			ctx = logg.WithField(ctx, "idempotency_key", clientKey)

			if replayed, err := replay(ctx, store, w, resultKey, requestHash); err != nil || replayed {
				if err != nil {
					responses.WriteError(ctx, logg, w, err)
				}
				return
			}

			claimed, err := store.SetNX(ctx, resultKey+inFlightSuffix, requestHash, inFlightTTL)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim idempotency key"))
				return
			}
			if !claimed {
				w.Header().Set("Retry-After", "1")
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "a request with this Idempotency-Key is still in progress"))
				return
			}
			defer func() {
				if err := store.Del(context.WithoutCancel(ctx), resultKey+inFlightSuffix); err != nil && logg != nil {
					logg.Error(ctx, "release idempotency claim", err)
				}
			}()

			// The first request may have finished between the lookup and the claim.
			if replayed, err := replay(ctx, store, w, resultKey, requestHash); err != nil || replayed {
				if err != nil {
					responses.WriteError(ctx, logg, w, err)
				}
				return
			}

			capture := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(capture, r.WithContext(ctx))
			if capture.statusCode() >= http.StatusInternalServerError {
				return
			}
			payload, err := json.Marshal(storedResponse{
				Status:      capture.statusCode(),
				ContentType: capture.Header().Get("Content-Type"),
				Body:        capture.body.Bytes(),
				RequestHash: requestHash,
			})
			if err == nil {
				_, err = store.SetNX(context.WithoutCancel(ctx), resultKey, string(payload), ttl)
			}
			if err != nil && logg != nil {
				logg.Error(ctx, "persist idempotent response", err)
			}
		})
	}
}

// replay writes the stored response for key, if any. It reports whether the
// request has been answered.
func replay(ctx context.Context, store idempotency.Store, w http.ResponseWriter, key, requestHash string) (bool, error) {
	raw, err := store.Get(ctx, key)
	if err != nil && !errors.Is(err, pkgredis.Nil) {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency key")
	}
	if raw == "" {
		return false, nil
	}
	var stored storedResponse
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode stored response")
	}
	if stored.RequestHash != requestHash {
		return false, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body")
	}
	if stored.ContentType != "" {
		w.Header().Set("Content-Type", stored.ContentType)
	}
	w.Header().Set(replayedHeader, "true")
	w.WriteHeader(stored.Status)
	_, _ = w.Write(stored.Body)
	return true, nil
}

func hashRequest(r *http.Request, body []byte) string {
	h := sha256.New()
	h.Write([]byte(r.Method + " " + r.URL.Path + "\n"))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (c *responseCapture) WriteHeader(code int) {
	if c.status == 0 {
		c.status = code
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *responseCapture) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

func (c *responseCapture) statusCode() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}
