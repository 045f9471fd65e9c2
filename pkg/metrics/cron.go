// Package metrics holds the Prometheus collectors each process registers.
// Every recorder is nil-safe and a nil Registerer yields a no-op recorder.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gadgetswap"

func counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
}

func histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
		Buckets:   prometheus.DefBuckets,
	}, labels)
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}

// CronJobMetrics covers the cron-worker and the api's in-process sweeper.
type CronJobMetrics struct {
	duration *prometheus.HistogramVec
	success  *prometheus.CounterVec
	failure  *prometheus.CounterVec
	affected *prometheus.CounterVec
}

func NewCronJobMetrics(reg prometheus.Registerer) *CronJobMetrics {
	if reg == nil {
		return nil
	}
	m := &CronJobMetrics{
		duration: histogramVec("job_duration_seconds", "Duration of cron jobs in seconds.", "job"),
		success:  counterVec("job_success_total", "Successful cron job executions.", "job"),
		failure:  counterVec("job_failure_total", "Failed cron job executions.", "job"),
		affected: counterVec("job_affected_rows_total", "Rows changed by cron jobs (expired carts, pruned events).", "job"),
	}
	reg.MustRegister(m.duration, m.success, m.failure, m.affected)
	return m
}

func (c *CronJobMetrics) ObserveDuration(job string, d time.Duration) {
	if c != nil {
		c.duration.WithLabelValues(normalizeLabel(job)).Observe(d.Seconds())
	}
}

func (c *CronJobMetrics) IncSuccess(job string) {
	if c != nil {
		c.success.WithLabelValues(normalizeLabel(job)).Inc()
	}
}

func (c *CronJobMetrics) IncFailure(job string) {
	if c != nil {
		c.failure.WithLabelValues(normalizeLabel(job)).Inc()
	}
}

// AddAffected counts rows a job changed. Zero is not recorded.
func (c *CronJobMetrics) AddAffected(job string, n int) {
	if c != nil && n > 0 {
		c.affected.WithLabelValues(normalizeLabel(job)).Add(float64(n))
	}
}
