// Package metrics registers the Prometheus collectors for the pgai
// services and serves them over promhttp. Each binary creates one Metrics
// value and threads it to the components that record into it.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector used across the platform. Components only
// touch the fields relevant to them; unused collectors simply stay at zero.
type Metrics struct {
	registry *prometheus.Registry

	// Gateway.
	RequestsTotal        *prometheus.CounterVec
	RequestDuration      *prometheus.HistogramVec
	RateLimitRejections  *prometheus.CounterVec
	BreakerState         *prometheus.GaugeVec
	BreakerTransitions   *prometheus.CounterVec
	SuspiciousRequests   *prometheus.CounterVec

	// Connection service.
	PoolsActive       prometheus.Gauge
	PoolsPerUser      *prometheus.GaugeVec
	PoolEvictions     prometheus.Counter
	ConnectionTests   *prometheus.CounterVec
	TestDuration      *prometheus.HistogramVec

	// Schema service.
	CacheHits          prometheus.Counter
	CacheMisses        prometheus.Counter
	CacheEvictions     prometheus.Counter
	DiscoveryDuration  *prometheus.HistogramVec
	SchemaChanges      *prometheus.CounterVec
	StreamClients      prometheus.Gauge
}

// New builds a Metrics value with its own registry, pre-registered with the
// standard Go runtime and process collectors.
func New(service string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	constLabels := prometheus.Labels{"service": service}

	m := &Metrics{
		registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "pgai_requests_total",
			Help:        "HTTP requests handled, by upstream, method, and status class.",
			ConstLabels: constLabels,
		}, []string{"upstream", "method", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "pgai_request_duration_seconds",
			Help:        "HTTP request latency.",
			ConstLabels: constLabels,
			Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"upstream", "method"}),

		RateLimitRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "pgai_ratelimit_rejections_total",
			Help:        "Requests rejected by a rate limiter, by profile.",
			ConstLabels: constLabels,
		}, []string{"profile"}),

		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "pgai_breaker_state",
			Help:        "Circuit breaker state per upstream: 0 closed, 1 open, 2 half-open.",
			ConstLabels: constLabels,
		}, []string{"upstream"}),

		BreakerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "pgai_breaker_transitions_total",
			Help:        "Circuit breaker state transitions, by upstream and new state.",
			ConstLabels: constLabels,
		}, []string{"upstream", "to"}),

		SuspiciousRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "pgai_suspicious_requests_total",
			Help:        "Requests matching a suspicious pattern, by category.",
			ConstLabels: constLabels,
		}, []string{"category"}),

		PoolsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "pgai_pools_active",
			Help:        "Currently open datasource pools.",
			ConstLabels: constLabels,
		}),

		PoolsPerUser: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "pgai_pools_per_user",
			Help:        "Open datasource pools per owner.",
			ConstLabels: constLabels,
		}, []string{"owner"}),

		PoolEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "pgai_pool_evictions_total",
			Help:        "Pools closed by the idle sweeper.",
			ConstLabels: constLabels,
		}),

		ConnectionTests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "pgai_connection_tests_total",
			Help:        "Connection tests run, by dialect and outcome.",
			ConstLabels: constLabels,
		}, []string{"dialect", "outcome"}),

		TestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "pgai_connection_test_duration_seconds",
			Help:        "Connection test latency, by dialect.",
			ConstLabels: constLabels,
			Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"dialect"}),

		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "pgai_schema_cache_hits_total",
			Help:        "Schema cache hits.",
			ConstLabels: constLabels,
		}),

		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "pgai_schema_cache_misses_total",
			Help:        "Schema cache misses.",
			ConstLabels: constLabels,
		}),

		CacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "pgai_schema_cache_evictions_total",
			Help:        "Schema cache entries evicted by TTL or capacity pressure.",
			ConstLabels: constLabels,
		}),

		DiscoveryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "pgai_schema_discovery_duration_seconds",
			Help:        "Full schema discovery latency, by dialect.",
			ConstLabels: constLabels,
			Buckets:     []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"dialect"}),

		SchemaChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "pgai_schema_changes_total",
			Help:        "Schema changes detected, by impact.",
			ConstLabels: constLabels,
		}, []string{"impact"}),

		StreamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "pgai_stream_clients",
			Help:        "Connected websocket clients.",
			ConstLabels: constLabels,
		}),
	}

	reg.MustRegister(
		m.RequestsTotal, m.RequestDuration, m.RateLimitRejections,
		m.BreakerState, m.BreakerTransitions, m.SuspiciousRequests,
		m.PoolsActive, m.PoolsPerUser, m.PoolEvictions,
		m.ConnectionTests, m.TestDuration,
		m.CacheHits, m.CacheMisses, m.CacheEvictions,
		m.DiscoveryDuration, m.SchemaChanges, m.StreamClients,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveBreaker records a breaker state change.
func (m *Metrics) ObserveBreaker(upstream string, state int, transitioned bool, to string) {
	m.BreakerState.WithLabelValues(upstream).Set(float64(state))
	if transitioned {
		m.BreakerTransitions.WithLabelValues(upstream, to).Inc()
	}
}
