// Package observability registers the process Prometheus metrics.
package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	providerQueryDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_query_duration_seconds",
			Help:    "Duration of provider calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"collection", "outcome"},
	)

	pageCacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "page_cache_results_total",
			Help: "Page cache lookups by outcome.",
		},
		[]string{"outcome"},
	)

	renderedResponses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rendered_responses_total",
			Help: "Responses rendered by representation format.",
		},
		[]string{"format"},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)
)

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveProviderQuery(collection, outcome string, durationSeconds float64) {
	providerQueryDurationSeconds.WithLabelValues(collection, outcome).Observe(durationSeconds)
}

func IncPageCache(outcome string) {
	pageCacheResults.WithLabelValues(outcome).Inc()
}

func IncRendered(format string) {
	if format == "" {
		format = "json"
	}
	renderedResponses.WithLabelValues(format).Inc()
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
