package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Fulfillment outcomes.
const (
	OutcomeFulfilled        = "fulfilled"
	OutcomeAlreadyFulfilled = "already_fulfilled"
	OutcomeConflict         = "conflict"
	OutcomeNotFound         = "not_found"
	OutcomeError            = "error"
)

// FulfillmentMetrics counts reconciler outcomes per trigger source.
type FulfillmentMetrics struct {
	outcomes *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewFulfillmentMetrics(reg prometheus.Registerer) *FulfillmentMetrics {
	if reg == nil {
		return nil
	}
	outcomes := counterVec("fulfillment_outcomes_total", "Fulfillment attempts by trigger source and outcome.", "source", "outcome")
	duration := histogramVec("fulfillment_duration_seconds", "Time spent in the fulfillment transaction.", "source")
	reg.MustRegister(outcomes, duration)
	return &FulfillmentMetrics{outcomes: outcomes, duration: duration}
}

// Observe records one attempt.
func (m *FulfillmentMetrics) Observe(source, outcome string, elapsed time.Duration) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(source), normalizeLabel(outcome)).Inc()
	m.duration.WithLabelValues(normalizeLabel(source)).Observe(elapsed.Seconds())
}
