// Package metrics defines the Prometheus metric collectors used across the
// ingestion pipeline and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the ingestion daemon.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	ArticlesFetchedTotal *prometheus.CounterVec
	FetchErrorsTotal     *prometheus.CounterVec
	MergesTotal          *prometheus.CounterVec
	CollisionsTotal      prometheus.Counter
	MalformedTotal       prometheus.Counter
	ArticlesExpiredTotal prometheus.Counter
	EventsPublishedTotal *prometheus.CounterVec
	RunsTotal            *prometheus.CounterVec
	RunDuration          prometheus.Histogram
	QuotaSkipsTotal      *prometheus.CounterVec
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
		ArticlesFetchedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "articles_fetched_total",
				Help: "Raw articles fetched per news source.",
			},
			[]string{"source"},
		),
		FetchErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetch_errors_total",
				Help: "Fetch task failures by source and reason.",
			},
			[]string{"source", "reason"},
		),
		MergesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "article_merges_total",
				Help: "Canonical store merge operations by outcome (created, updated).",
			},
			[]string{"outcome"},
		),
		CollisionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dedup_collisions_total",
				Help: "Cross-source dedup collisions detected.",
			},
		),
		MalformedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "malformed_headlines_total",
				Help: "Raw articles dropped because the headline normalized to empty.",
			},
		),
		ArticlesExpiredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "articles_expired_total",
				Help: "Canonical articles removed by the retention sweep.",
			},
		),
		EventsPublishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "events_published_total",
				Help: "Events published to Kafka by topic role.",
			},
			[]string{"topic"},
		),
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingestion_runs_total",
				Help: "Completed ingestion runs by terminal state.",
			},
			[]string{"state"},
		),
		RunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ingestion_run_duration_seconds",
				Help:    "End-to-end ingestion run duration in seconds.",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
		),
		QuotaSkipsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quota_skips_total",
				Help: "Fetch tasks skipped pre-emptively because the source quota was exhausted.",
			},
			[]string{"source"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state per source (0=closed, 1=open, 2=half-open).",
			},
			[]string{"source"},
		),
	}

	prometheus.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.ArticlesFetchedTotal,
		m.FetchErrorsTotal,
		m.MergesTotal,
		m.CollisionsTotal,
		m.MalformedTotal,
		m.ArticlesExpiredTotal,
		m.EventsPublishedTotal,
		m.RunsTotal,
		m.RunDuration,
		m.QuotaSkipsTotal,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
