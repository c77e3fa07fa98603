// Package monitoring records operational metrics and the usage journal.
//
// DESIGN: Every gateway operation reports through Metrics. Counters and
// histograms are Prometheus collectors registered against an explicit
// Registerer so tests can use isolated registries. The /metrics endpoint
// exposes the default registry for pull-based scraping.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all gateway collectors.
type Metrics struct {
	startedAt time.Time

	// RequestsTotal counts completed operations labelled by operation,
	// transport and outcome ("success", "error", "cached", "rejected").
	RequestsTotal *prometheus.CounterVec

	// RequestDuration observes end-to-end operation latency in seconds.
	RequestDuration *prometheus.HistogramVec

	// CacheHits / CacheMisses count result-cache lookups per operation.
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec

	// CreditsConsumed accumulates committed credits.
	CreditsConsumed prometheus.Counter

	// CreditWindowUsed / CreditWindowLimit expose the current billing window.
	CreditWindowUsed  prometheus.Gauge
	CreditWindowLimit prometheus.Gauge

	// QuotaRejections counts operations rejected at reserve time.
	QuotaRejections prometheus.Counter

	// SoftLimitWarnings counts soft-threshold crossings (once per window).
	SoftLimitWarnings prometheus.Counter

	// CircuitState tracks per-transport breaker state:
	// 0 = closed, 1 = open, 2 = half_open.
	CircuitState *prometheus.GaugeVec

	// PoolInUse / PoolIdle expose pool utilization per transport.
	PoolInUse *prometheus.GaugeVec
	PoolIdle  *prometheus.GaugeVec

	// PoolExhausted counts lease timeouts per transport.
	PoolExhausted *prometheus.CounterVec

	// RetriesTotal counts retry attempts (not first attempts).
	RetriesTotal *prometheus.CounterVec

	// WorkloadFallbacks counts unknown workload types routed to the default
	// warehouse.
	WorkloadFallbacks prometheus.Counter

	// TokenRotationWarnings counts near-expiry rotation warnings.
	TokenRotationWarnings prometheus.Counter
}

// NewMetrics registers all collectors against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		startedAt: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_requests_total",
				Help: "Total operations processed by the gateway.",
			},
			[]string{"operation", "transport", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_request_duration_seconds",
				Help:    "End-to-end operation duration in seconds.",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"operation", "transport"},
		),
		CacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_cache_hits_total",
				Help: "Result cache hits per operation.",
			},
			[]string{"operation"},
		),
		CacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_cache_misses_total",
				Help: "Result cache misses per operation.",
			},
			[]string{"operation"},
		),
		CreditsConsumed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_credits_consumed_total",
				Help: "Credits committed against the backend billing window.",
			},
		),
		CreditWindowUsed: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gateway_credit_window_used",
				Help: "Credits consumed in the current billing window.",
			},
		),
		CreditWindowLimit: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gateway_credit_window_limit",
				Help: "Hard credit limit for the current billing window.",
			},
		),
		QuotaRejections: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_quota_rejections_total",
				Help: "Operations rejected because the credit quota was exhausted.",
			},
		),
		SoftLimitWarnings: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_credit_soft_warnings_total",
				Help: "Soft-threshold crossings of the credit window.",
			},
		),
		CircuitState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gateway_circuit_breaker_state",
				Help: "Circuit breaker state per transport (0=closed 1=open 2=half_open).",
			},
			[]string{"transport"},
		),
		PoolInUse: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gateway_pool_in_use_connections",
				Help: "Leased connections per transport pool.",
			},
			[]string{"transport"},
		),
		PoolIdle: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gateway_pool_idle_connections",
				Help: "Idle connections per transport pool.",
			},
			[]string{"transport"},
		),
		PoolExhausted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_pool_exhausted_total",
				Help: "Lease attempts that timed out waiting for a connection.",
			},
			[]string{"transport"},
		),
		RetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_retries_total",
				Help: "Retry attempts per operation and transport.",
			},
			[]string{"operation", "transport"},
		),
		WorkloadFallbacks: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_workload_fallbacks_total",
				Help: "Requests with an unknown workload type routed to the default warehouse.",
			},
		),
		TokenRotationWarnings: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_token_rotation_warnings_total",
				Help: "Access tokens flagged as nearing expiry.",
			},
		),
	}
}

// RecordRequest records a completed operation.
func (m *Metrics) RecordRequest(op, transport, status string, d time.Duration) {
	m.RequestsTotal.WithLabelValues(op, transport, status).Inc()
	if transport != "" {
		m.RequestDuration.WithLabelValues(op, transport).Observe(d.Seconds())
	}
}

// RecordCacheHit records a result-cache hit.
func (m *Metrics) RecordCacheHit(op string) { m.CacheHits.WithLabelValues(op).Inc() }

// RecordCacheMiss records a result-cache miss.
func (m *Metrics) RecordCacheMiss(op string) { m.CacheMisses.WithLabelValues(op).Inc() }

// RecordCommit records committed credits and the new window consumption.
func (m *Metrics) RecordCommit(credits, windowUsed float64) {
	if credits > 0 {
		m.CreditsConsumed.Add(credits)
	}
	m.CreditWindowUsed.Set(windowUsed)
}

// StartedAt returns when the collector was created.
func (m *Metrics) StartedAt() time.Time { return m.startedAt }
