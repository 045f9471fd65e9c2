package metrics

import "github.com/prometheus/client_golang/prometheus"

// OutboxMetrics tracks delivery of outbox rows to the broker.
type OutboxMetrics struct {
	published *prometheus.CounterVec
	failed    *prometheus.CounterVec
	dead      *prometheus.CounterVec
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return nil
	}
	labels := []string{"sink", "event_type"}
	published := counterVec("outbox_published_total", "Outbox events delivered to the broker.", labels...)
	failed := counterVec("outbox_failed_total", "Outbox delivery attempts that failed and will be retried.", labels...)
	dead := counterVec("outbox_dead_total", "Outbox events abandoned after exhausting attempts or failing validation.", labels...)
	reg.MustRegister(published, failed, dead)
	return &OutboxMetrics{published: published, failed: failed, dead: dead}
}

func (m *OutboxMetrics) IncPublished(sink, eventType string) {
	if m == nil || m.published == nil {
		return
	}
	m.published.WithLabelValues(normalizeLabel(sink), normalizeLabel(eventType)).Inc()
}

func (m *OutboxMetrics) IncFailed(sink, eventType string) {
	if m == nil || m.failed == nil {
		return
	}
	m.failed.WithLabelValues(normalizeLabel(sink), normalizeLabel(eventType)).Inc()
}

func (m *OutboxMetrics) IncDead(sink, eventType string) {
	if m == nil || m.dead == nil {
		return
	}
	m.dead.WithLabelValues(normalizeLabel(sink), normalizeLabel(eventType)).Inc()
}
