package publisher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for audit publishing.
type Metrics struct {
	Emitted         *prometheus.CounterVec
	Sampled         prometheus.Counter
	Dropped         *prometheus.CounterVec
	PersistFailures prometheus.Counter
	BreakerOpen     prometheus.Gauge
}

// NewMetrics registers audit metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Emitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "didvault_audit_events_emitted_total",
			Help: "Audit events persisted, by category",
		}, []string{"category"}),
		Sampled: factory.NewCounter(prometheus.CounterOpts{
			Name: "didvault_audit_events_sampled_total",
			Help: "Operations audit events skipped by sampling",
		}),
		Dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "didvault_audit_events_dropped_total",
			Help: "Audit events dropped, by reason",
		}, []string{"reason"}),
		PersistFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "didvault_audit_persist_failures_total",
			Help: "Audit store append failures",
		}),
		BreakerOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "didvault_audit_circuit_open",
			Help: "1 while the audit store circuit breaker is open",
		}),
	}
}

func (m *Metrics) emitted(category string) {
	if m != nil {
		m.Emitted.WithLabelValues(category).Inc()
	}
}

func (m *Metrics) sampled() {
	if m != nil {
		m.Sampled.Inc()
	}
}

func (m *Metrics) dropped(reason string) {
	if m != nil {
		m.Dropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) persistFailed() {
	if m != nil {
		m.PersistFailures.Inc()
	}
}

func (m *Metrics) breaker(open bool) {
	if m == nil {
		return
	}
	if open {
		m.BreakerOpen.Set(1)
	} else {
		m.BreakerOpen.Set(0)
	}
}
