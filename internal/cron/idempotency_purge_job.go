package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/gadgetswap-backend/pkg/logger"
	"github.com/angelmondragon/gadgetswap-backend/pkg/metrics"
)

const idempotencyPurgeJobName = "idempotency-purge"

type expiredKeyPurger interface {
	Purge() (int, error)
}

// IdempotencyPurgeJobParams configure the sweep of expired keys in the
// embedded idempotency store. Redis expires keys itself and needs no job.
type IdempotencyPurgeJobParams struct {
	Logger  *logger.Logger
	Store   expiredKeyPurger
	Metrics *metrics.CronJobMetrics
}

func NewIdempotencyPurgeJob(params IdempotencyPurgeJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Store == nil {
		return nil, fmt.Errorf("idempotency store required")
	}
	return &idempotencyPurgeJob{logg: params.Logger, store: params.Store, metrics: params.Metrics}, nil
}

type idempotencyPurgeJob struct {
	logg    *logger.Logger
	store   expiredKeyPurger
	metrics *metrics.CronJobMetrics
}

func (j *idempotencyPurgeJob) Name() string { return idempotencyPurgeJobName }

func (j *idempotencyPurgeJob) Run(ctx context.Context) error {
	removed, err := j.store.Purge()
	if err != nil {
		return fmt.Errorf("purge expired idempotency keys: %w", err)
	}
	j.metrics.AddAffected(idempotencyPurgeJobName, removed)
	j.logg.Info(j.logg.WithField(ctx, "removed", removed), "idempotency purge complete")
	return nil
}
