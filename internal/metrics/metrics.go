package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the process's prometheus collectors. All observation
// methods are nil-safe so services can run without a registry wired.
type Metrics struct {
	registry *prometheus.Registry

	withdrawalsProcessed *prometheus.CounterVec
	rateLimitHits        prometheus.Counter
	suspiciousFlags      prometheus.Counter
	auditEvents          prometheus.Counter
	httpRequests         *prometheus.CounterVec
	httpDuration         *prometheus.HistogramVec
}

// New creates a registry with process collectors plus the withdrawal
// pipeline's own counters
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		withdrawalsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "withdrawals_processed_total",
			Help: "Withdrawal attempts by terminal outcome",
		}, []string{"outcome"}),
		rateLimitHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rate_limit_hits_total",
			Help: "Withdrawals denied by the rate limiter",
		}),
		suspiciousFlags: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "suspicious_activity_flags_total",
			Help: "Suspicious-activity flags raised",
		}),
		auditEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audit_events_appended_total",
			Help: "Events persisted to the audit ledger",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, path, and status",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
	registry.MustRegister(
		m.withdrawalsProcessed,
		m.rateLimitHits,
		m.suspiciousFlags,
		m.auditEvents,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Handler serves the registry in prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveWithdrawal counts one terminal withdrawal outcome, labeled
// "success" or the result's error code
func (m *Metrics) ObserveWithdrawal(outcome string) {
	if m == nil {
		return
	}
	m.withdrawalsProcessed.WithLabelValues(outcome).Inc()
}

// ObserveRateLimitHit counts one rate-limit denial
func (m *Metrics) ObserveRateLimitHit() {
	if m == nil {
		return
	}
	m.rateLimitHits.Inc()
}

// ObserveSuspiciousFlag counts one raised flag
func (m *Metrics) ObserveSuspiciousFlag() {
	if m == nil {
		return
	}
	m.suspiciousFlags.Inc()
}

// ObserveAuditEvent counts one persisted ledger event
func (m *Metrics) ObserveAuditEvent() {
	if m == nil {
		return
	}
	m.auditEvents.Inc()
}

// ObserveHTTPRequest records one served request
func (m *Metrics) ObserveHTTPRequest(method, path, status string, seconds float64) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, path, status).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(seconds)
}
