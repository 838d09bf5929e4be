// Package metrics provides Prometheus metrics for the mediation service
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. Each instance owns its registry.
type Metrics struct {
	registry *prometheus.Registry

	// Request metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Load metrics
	AdLoadsTotal    *prometheus.CounterVec
	AdLoadDuration  *prometheus.HistogramVec
	NetworkLatency  *prometheus.HistogramVec
	SizeMatchTotal  *prometheus.CounterVec
	PlacementLocked *prometheus.CounterVec

	// Show and event metrics
	AdsShownTotal   *prometheus.CounterVec
	EventsForwarded *prometheus.CounterVec
	EventsDropped   *prometheus.CounterVec

	// Native metrics
	ImageDownloads *prometheus.CounterVec

	// Circuit breaker metrics
	CircuitState *prometheus.GaugeVec

	// System metrics
	RateLimitRejected prometheus.Counter
	AuthFailures      prometheus.Counter
	OversizeRejected  *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them on a fresh registry
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "mediation"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),

		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Number of HTTP requests currently being served",
			},
		),

		AdLoadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ad_loads_total",
				Help:      "Total number of ad loads by outcome",
			},
			[]string{"network", "format", "status"},
		),
		AdLoadDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ad_load_duration_seconds",
				Help:      "End-to-end ad load duration in seconds",
				Buckets:   []float64{.01, .025, .05, .1, .25, .5, .75, 1, 1.5, 2, 3, 5},
			},
			[]string{"network", "format"},
		),
		NetworkLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "network_latency_seconds",
				Help:      "Ad network response latency in seconds",
				Buckets:   []float64{.01, .025, .05, .1, .2, .3, .5, .75, 1, 2},
			},
			[]string{"network"},
		),
		SizeMatchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "size_match_total",
				Help:      "Banner size matching outcomes",
			},
			[]string{"network", "result"},
		),
		PlacementLocked: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "placement_locked_total",
				Help:      "Loads rejected because the placement already holds a live ad",
			},
			[]string{"network"},
		),

		AdsShownTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ads_shown_total",
				Help:      "Total number of ads handed out for display",
			},
			[]string{"network", "format"},
		),
		EventsForwarded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_forwarded_total",
				Help:      "Host events forwarded from network callbacks",
			},
			[]string{"network", "event"},
		),
		EventsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_dropped_total",
				Help:      "Network callbacks with no host event",
			},
			[]string{"network"},
		),

		ImageDownloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "image_downloads_total",
				Help:      "Native image download batches by outcome",
			},
			[]string{"network", "status"},
		),

		CircuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "network_circuit_state",
				Help:      "Circuit breaker state per network (0=closed, 1=open, 2=half-open)",
			},
			[]string{"network"},
		),

		RateLimitRejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_rejected_total",
				Help:      "Requests rejected by the rate limiter",
			},
		),
		AuthFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_failures_total",
				Help:      "Requests rejected for a missing or invalid API key",
			},
		),

		OversizeRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "oversize_rejected_total",
				Help:      "Requests rejected for an oversized URL or body",
			},
			[]string{"route", "reason"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.AdLoadsTotal,
		m.AdLoadDuration,
		m.NetworkLatency,
		m.SizeMatchTotal,
		m.PlacementLocked,
		m.AdsShownTotal,
		m.EventsForwarded,
		m.EventsDropped,
		m.ImageDownloads,
		m.CircuitState,
		m.RateLimitRejected,
		m.AuthFailures,
		m.OversizeRejected,
	)

	return m
}

// Registry returns the registry the metrics are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler for this registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware returns HTTP middleware that records request metrics. It must
// wrap the ServeMux directly so the matched pattern is visible afterwards.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.RequestsInFlight.Inc()
		defer m.RequestsInFlight.Dec()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(wrapped.statusCode)

		// Label by route pattern so ad IDs in paths do not create new series
		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}

		m.RequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		m.RequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// RecordAdLoad records the outcome of a load. status is "filled", "no_fill", "error" or an error code.
func (m *Metrics) RecordAdLoad(network, format, status string, duration time.Duration) {
	m.AdLoadsTotal.WithLabelValues(network, format, status).Inc()
	m.AdLoadDuration.WithLabelValues(network, format).Observe(duration.Seconds())
}

// RecordNetworkLatency records how long a network took to answer
func (m *Metrics) RecordNetworkLatency(network string, latency time.Duration) {
	m.NetworkLatency.WithLabelValues(network).Observe(latency.Seconds())
}

// RecordSizeMatch records whether a banner request found a supported size
func (m *Metrics) RecordSizeMatch(network string, matched bool) {
	result := "matched"
	if !matched {
		result = "mismatch"
	}
	m.SizeMatchTotal.WithLabelValues(network, result).Inc()
}

// RecordPlacementLocked records a load rejected by an exclusive placement
func (m *Metrics) RecordPlacementLocked(network string) {
	m.PlacementLocked.WithLabelValues(network).Inc()
}

// RecordAdShown records an ad handed out for display
func (m *Metrics) RecordAdShown(network, format string) {
	m.AdsShownTotal.WithLabelValues(network, format).Inc()
}

// RecordEvent records a forwarded host event
func (m *Metrics) RecordEvent(network, event string) {
	m.EventsForwarded.WithLabelValues(network, event).Inc()
}

// RecordEventDropped records a network callback that maps to no host event
func (m *Metrics) RecordEventDropped(network string) {
	m.EventsDropped.WithLabelValues(network).Inc()
}

// RecordImageDownload records a native image batch outcome
func (m *Metrics) RecordImageDownload(network string, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.ImageDownloads.WithLabelValues(network, status).Inc()
}

// SetCircuitState sets the circuit breaker state metric of a network
func (m *Metrics) SetCircuitState(network, state string) {
	var value float64
	switch state {
	case "closed":
		value = 0
	case "open":
		value = 1
	case "half-open":
		value = 2
	}
	m.CircuitState.WithLabelValues(network).Set(value)
}

// IncRateLimitRejected increments the rate limit rejected counter
// Implements middleware.RateLimitMetrics interface
func (m *Metrics) IncRateLimitRejected() {
	m.RateLimitRejected.Inc()
}

// RecordOversizeRejected counts a request refused by the size limiter.
// Implements middleware.SizeLimitMetrics interface
func (m *Metrics) RecordOversizeRejected(route, reason string) {
	m.OversizeRejected.WithLabelValues(route, reason).Inc()
}

// IncAuthFailures increments the auth failures counter
func (m *Metrics) IncAuthFailures() {
	m.AuthFailures.Inc()
}
