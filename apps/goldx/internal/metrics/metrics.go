// Package metrics holds the exchange's Prometheus collectors on a private
// registry and implements the metrics hooks of the other packages.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "goldx"

type Metrics struct {
	registry       *prometheus.Registry
	quotes         *prometheus.CounterVec
	settlements    *prometheus.CounterVec
	reconciliation prometheus.Counter
	fallbacks      *prometheus.CounterVec
	sourceErrors   *prometheus.CounterVec
	published      *prometheus.CounterVec
	requests       *prometheus.CounterVec
	durations      *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		quotes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quotes_issued_total",
			Help:      "Quotes issued, by action.",
		}, []string{"action"}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Exchange transactions reaching a terminal state, by action and outcome.",
		}, []string{"action", "outcome"}),
		reconciliation: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliation_cases_total",
			Help:      "Reconciliation cases opened from the event stream.",
		}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_fallback_total",
			Help:      "Times the oracle served its fallback price, by asset.",
		}, []string{"asset"}),
		sourceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_source_errors_total",
			Help:      "Failed price source requests, by source.",
		}, []string{"source"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Outbox events published to Kafka, by result.",
		}, []string{"result"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served.",
		}, []string{"route", "method", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.quotes, m.settlements, m.reconciliation, m.fallbacks,
		m.sourceErrors, m.published, m.requests, m.durations,
	)
	return m
}

func (m *Metrics) QuoteIssued(action string) {
	m.quotes.WithLabelValues(action).Inc()
}

func (m *Metrics) Settlement(action, outcome string) {
	m.settlements.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) ReconciliationCaseOpened() {
	m.reconciliation.Inc()
}

func (m *Metrics) OracleFallback(asset string) {
	m.fallbacks.WithLabelValues(asset).Inc()
}

func (m *Metrics) OracleSourceError(source string) {
	m.sourceErrors.WithLabelValues(source).Inc()
}

func (m *Metrics) EventPublished(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	m.published.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveRequest(route, method string, status int, elapsed time.Duration) {
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.durations.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
