package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/gadgetswap-backend/pkg/db/models"
	"github.com/angelmondragon/gadgetswap-backend/pkg/logger"
	"github.com/angelmondragon/gadgetswap-backend/pkg/metrics"
)

const (
	cartExpiryJobName      = "cart-expiry"
	defaultCartExpiryBatch = 100
	// maxCartExpiryBatches bounds one run so a huge backlog drains over
	// several cycles instead of holding the lock indefinitely.
	maxCartExpiryBatches = 50
)

type cartExpirer interface {
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
	Expire(ctx context.Context, orderID uuid.UUID, cutoff time.Time) (bool, error)
}

// CartExpiryJobParams configure the abandoned cart sweep.
type CartExpiryJobParams struct {
	Logger    *logger.Logger
	Orders    cartExpirer
	TTL       time.Duration
	BatchSize int
	Metrics   *metrics.CronJobMetrics
}

// NewCartExpiryJob cancels CURRENT orders untouched for longer than TTL and
// returns their listings to the ledger. A zero TTL disables the job.
func NewCartExpiryJob(params CartExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders service required")
	}
	if params.TTL <= 0 {
		return nil, nil
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultCartExpiryBatch
	}
	return &cartExpiryJob{
		logg:    params.Logger,
		orders:  params.Orders,
		ttl:     params.TTL,
		batch:   batch,
		metrics: params.Metrics,
		now:     time.Now,
	}, nil
}

type cartExpiryJob struct {
	logg    *logger.Logger
	orders  cartExpirer
	ttl     time.Duration
	batch   int
	metrics *metrics.CronJobMetrics
	now     func() time.Time
}

func (j *cartExpiryJob) Name() string { return cartExpiryJobName }

func (j *cartExpiryJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.ttl)
	var (
		expired int
		errs    error
	)
	for i := 0; i < maxCartExpiryBatches; i++ {
		stale, err := j.orders.ListStale(ctx, cutoff, j.batch)
		if err != nil {
			return multierr.Append(errs, fmt.Errorf("list stale carts: %w", err))
		}
		progressed := 0
		for _, order := range stale {
			ok, err := j.orders.Expire(ctx, order.ID, cutoff)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("expire order %s: %w", order.ID, err))
				continue
			}
			if ok {
				expired++
				progressed++
			}
		}
		// Stop when the backlog is drained or nothing in this page could be expired,
		// otherwise the same failing rows would be fetched again.
		if len(stale) < j.batch || progressed == 0 {
			break
		}
	}

	j.metrics.AddAffected(cartExpiryJobName, expired)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":  cutoff,
		"expired": expired,
	})
	if errs != nil {
		logCtx = j.logg.WithField(logCtx, "failures", len(multierr.Errors(errs)))
	}
	j.logg.Info(logCtx, "cart expiry sweep complete")
	return errs
}
