// Package metrics holds the Prometheus collectors for wallet, registry and
// credential operations.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"didvault/internal/wallet"
	dErrors "didvault/pkg/domain-errors"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	SessionTransitions *prometheus.CounterVec
	ProviderCalls      *prometheus.HistogramVec
	RegistryCalls      *prometheus.HistogramVec
	Issuances          *prometheus.HistogramVec
	Verifications      *prometheus.HistogramVec
	HTTPRequests       *prometheus.HistogramVec
	RateLimitDecisions *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "didvault_session_transitions_total",
			Help: "Wallet session state transitions",
		}, []string{"from", "to"}),
		ProviderCalls: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "didvault_provider_call_duration_seconds",
			Help:    "Wallet provider call latency by method and outcome",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"method", "outcome"}),
		RegistryCalls: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "didvault_registry_call_duration_seconds",
			Help:    "Anchor registry call latency by operation and outcome",
			Buckets: prometheus.DefBuckets,
		}, []string{"op", "outcome"}),
		Issuances: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "didvault_credential_issuance_duration_seconds",
			Help:    "Credential issuance latency by outcome",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"outcome"}),
		Verifications: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "didvault_credential_verification_duration_seconds",
			Help:    "Credential verification latency by result",
			Buckets: prometheus.DefBuckets,
		}, []string{"result"}),
		HTTPRequests: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "didvault_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		RateLimitDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "didvault_ratelimit_decisions_total",
			Help: "Rate limit decisions by endpoint class",
		}, []string{"class", "decision"}),
	}
}

func (m *Metrics) ObserveTransition(from, to wallet.State) {
	m.SessionTransitions.WithLabelValues(from.String(), to.String()).Inc()
}

func (m *Metrics) ObserveProviderCall(method string, d time.Duration, err error) {
	m.ProviderCalls.WithLabelValues(method, outcome(err)).Observe(d.Seconds())
}

func (m *Metrics) ObserveRegistryCall(op string, d time.Duration, err error) {
	m.RegistryCalls.WithLabelValues(op, outcome(err)).Observe(d.Seconds())
}

func (m *Metrics) ObserveIssuance(result string, d time.Duration) {
	m.Issuances.WithLabelValues(result).Observe(d.Seconds())
}

func (m *Metrics) ObserveVerification(result string, d time.Duration) {
	m.Verifications.WithLabelValues(result).Observe(d.Seconds())
}

func (m *Metrics) ObserveHTTPRequest(method, route string, status int, d time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, statusClass(status)).Observe(d.Seconds())
}

func (m *Metrics) ObserveRateLimit(class string, allowed bool) {
	decision := "allowed"
	if !allowed {
		decision = "limited"
	}
	m.RateLimitDecisions.WithLabelValues(class, decision).Inc()
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if code, ok := wallet.ProviderCode(err); ok {
		return "provider_" + strconv.Itoa(code)
	}
	switch {
	case dErrors.CodeOf(err) != dErrors.CodeInternal:
		return string(dErrors.CodeOf(err))
	default:
		return "error"
	}
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
