// Package metrics exposes the gateway's Prometheus instrumentation.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/draiv/vehicle-gateway/pkg/breaker"
)

// Metrics holds the gateway's collectors on a private registry so tests can run
// multiple instances without duplicate-registration panics.
type Metrics struct {
	registry *prometheus.Registry

	cacheHits          *prometheus.CounterVec
	cacheMisses        *prometheus.CounterVec
	backendCalls       *prometheus.CounterVec
	breakerState       *prometheus.GaugeVec
	breakerTransitions *prometheus.CounterVec
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_cache_hits_total",
			Help: "Read requests served from the response cache.",
		}, []string{"class"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_cache_misses_total",
			Help: "Cacheable read requests that missed the response cache.",
		}, []string{"class"}),
		backendCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_backend_calls_total",
			Help: "Backend call outcomes by operation class.",
		}, []string{"class", "outcome"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_breaker_state",
			Help: "Current circuit breaker state (0 closed, 1 open, 2 half-open, 3 quota-paused).",
		}, []string{"key"}),
		breakerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_breaker_transitions_total",
			Help: "Circuit breaker state transitions.",
		}, []string{"key", "state"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_http_requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.cacheHits, m.cacheMisses, m.backendCalls,
		m.breakerState, m.breakerTransitions,
		m.httpRequests, m.httpDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) CacheHit(class string) {
	m.cacheHits.WithLabelValues(class).Inc()
}

func (m *Metrics) CacheMiss(class string) {
	m.cacheMisses.WithLabelValues(class).Inc()
}

func (m *Metrics) BackendCall(class, outcome string) {
	m.backendCalls.WithLabelValues(class, outcome).Inc()
}

// BreakerTransition is wired as the breaker set's observer.
func (m *Metrics) BreakerTransition(key string, state breaker.State) {
	m.breakerState.WithLabelValues(key).Set(float64(state))
	m.breakerTransitions.WithLabelValues(key, state.String()).Inc()
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
