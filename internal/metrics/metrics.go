package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "keyplane"

// Validation outcomes.
const (
	ValidationCacheHit = "cache_hit"
	ValidationValid    = "valid"
	ValidationInvalid  = "invalid"
	ValidationError    = "error"
)

// Metrics owns a private registry so tests can build as many as they like.
// All methods are safe on a nil receiver.
type Metrics struct {
	registry    *prometheus.Registry
	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	validations *prometheus.CounterVec
	rateLimit   *prometheus.CounterVec
	breaker     *prometheus.CounterVec
	lastUsed    *prometheus.CounterVec

	collector *Collector
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "apikey_validations_total",
			Help:      "API key validations by outcome.",
		}, []string{"outcome"}),
		rateLimit: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_decisions_total",
			Help:      "Rate limit decisions by scope and outcome.",
		}, []string{"scope", "outcome"}),
		breaker: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuitbreaker_transitions_total",
			Help:      "Circuit breaker state transitions.",
		}, []string{"name", "from", "to"}),
		lastUsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "apikey_last_used_updates_total",
			Help:      "Background last-used timestamp writes by result.",
		}, []string{"result"}),
		collector: NewCollector(1000),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests,
		m.duration,
		m.validations,
		m.rateLimit,
		m.breaker,
		m.lastUsed,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(method, route).Observe(d.Seconds())
	m.collector.Record(d, status)
}

func (m *Metrics) Validation(outcome string) {
	if m == nil {
		return
	}
	m.validations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RateLimit(scope string, allowed bool) {
	if m == nil {
		return
	}
	outcome := "allowed"
	if !allowed {
		outcome = "rejected"
	}
	m.rateLimit.WithLabelValues(scope, outcome).Inc()
}

func (m *Metrics) BreakerTransition(name, from, to string) {
	if m == nil {
		return
	}
	m.breaker.WithLabelValues(name, from, to).Inc()
}

func (m *Metrics) LastUsedUpdate(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.lastUsed.WithLabelValues(result).Inc()
}

// Stats summarises recent request latencies for the admin API.
func (m *Metrics) Stats() Stats {
	if m == nil {
		return Stats{StatusCounts: map[int]uint64{}}
	}
	return m.collector.GetStats()
}
