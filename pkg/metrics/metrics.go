// Package metrics provides Prometheus metrics for the pricing service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SourceLookupsTotal counts adapter lookups by outcome (price, miss, error, skipped).
	SourceLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "source_lookups_total",
			Help: "Total number of pricing source lookups by outcome",
		},
		[]string{"source", "outcome"},
	)

	// SourceLookupDuration is a histogram of adapter lookup latency.
	SourceLookupDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "source_lookup_duration_seconds",
			Help:    "Duration of pricing source lookups",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 4, 8, 16},
		},
		[]string{"source"},
	)

	// RetryAttemptsTotal counts failed attempts inside the retry helper.
	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_failed_attempts_total",
			Help: "Total number of failed attempts seen by the retry helper",
		},
		[]string{"operation"},
	)

	// PriceAggregationDuration is a histogram of full aggregation duration.
	PriceAggregationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "price_aggregation_duration_seconds",
			Help:    "Duration of price aggregation operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"category"},
	)

	// AggregatedConfidence is a histogram of aggregated confidence scores.
	AggregatedConfidence = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aggregated_confidence",
			Help:    "Confidence of fresh aggregated prices (0-100)",
			Buckets: []float64{0, 20, 40, 60, 80, 90, 100},
		},
	)

	// CacheResultsTotal counts cache lookups by result (hit, miss, stale, error).
	CacheResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_results_total",
			Help: "Total number of price cache lookups by result",
		},
		[]string{"result"},
	)

	// RefreshItemsTotal counts bulk refresh items by status.
	RefreshItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refresh_items_total",
			Help: "Total number of items processed by bulk refresh",
		},
		[]string{"status"},
	)

	// HTTPRequestsTotal is a counter of total HTTP requests.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"endpoint", "status"},
	)

	// HTTPRequestDuration is a histogram of HTTP request latencies.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint"},
	)
)

// Init registers all collectors with the default Prometheus registry.
func Init() {
	prometheus.MustRegister(
		SourceLookupsTotal,
		SourceLookupDuration,
		RetryAttemptsTotal,
		PriceAggregationDuration,
		AggregatedConfidence,
		CacheResultsTotal,
		RefreshItemsTotal,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	)
}

// ServeHTTP serves Prometheus metrics on the specified address and path.
func ServeHTTP(addr, path string) error {
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return server.ListenAndServe()
}

// RecordSourceLookup records one adapter lookup.
func RecordSourceLookup(source, outcome string, duration time.Duration) {
	SourceLookupsTotal.WithLabelValues(source, outcome).Inc()
	if outcome != "skipped" {
		SourceLookupDuration.WithLabelValues(source).Observe(duration.Seconds())
	}
}

// RecordRetryFailure records a failed attempt of a retried operation.
func RecordRetryFailure(operation string) {
	RetryAttemptsTotal.WithLabelValues(operation).Inc()
}

// RecordAggregation records a completed fan-out aggregation.
func RecordAggregation(category string, confidence int, duration time.Duration) {
	PriceAggregationDuration.WithLabelValues(category).Observe(duration.Seconds())
	AggregatedConfidence.Observe(float64(confidence))
}

// RecordCacheResult records a cache lookup result.
func RecordCacheResult(result string) {
	CacheResultsTotal.WithLabelValues(result).Inc()
}

// RecordRefreshItem records the outcome of one bulk refresh item.
func RecordRefreshItem(status string) {
	RefreshItemsTotal.WithLabelValues(status).Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}
