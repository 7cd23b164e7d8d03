// Package metrics defines the Prometheus metric collectors used across the
// pipeline and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the pipeline.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	IngestRequestsTotal  *prometheus.CounterVec
	IngestLatency        *prometheus.HistogramVec
	IngestResultsCount   prometheus.Histogram
	SourceFetchesTotal   *prometheus.CounterVec
	SourceFetchLatency   *prometheus.HistogramVec
	CacheHitsTotal       *prometheus.CounterVec
	CacheMissesTotal     prometheus.Counter
	DedupDroppedTotal    *prometheus.CounterVec
	CircuitBreakerState  *prometheus.GaugeVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		IngestRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_requests_total",
				Help: "Total ingest requests by outcome (hit, miss, partial, error).",
			},
			[]string{"outcome"},
		),
		IngestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_latency_seconds",
				Help:    "End-to-end ingest latency in seconds.",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"cache_status"},
		),
		IngestResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ingest_results_count",
				Help:    "Number of results returned per ingest request.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
			},
		),
		SourceFetchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "source_fetches_total",
				Help: "Adapter fetches by source and status (success, timeout, rejected, upstream_error).",
			},
			[]string{"source", "status"},
		),
		SourceFetchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "source_fetch_latency_seconds",
				Help:    "Per-adapter fetch latency in seconds.",
				Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"source"},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Cache hits by tier (memory, redis).",
			},
			[]string{"tier"},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total cache misses across both tiers.",
			},
		),
		DedupDroppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dedup_dropped_total",
				Help: "Results dropped by deduplication, by match kind (exact, near).",
			},
			[]string{"kind"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	prometheus.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.IngestRequestsTotal,
		m.IngestLatency,
		m.IngestResultsCount,
		m.SourceFetchesTotal,
		m.SourceFetchLatency,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DedupDroppedTotal,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
