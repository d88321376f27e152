// Package metrics provides the Prometheus HTTP handler for edgecache.
// Every collector registers itself with the default registry via promauto.
// Domain metrics are defined in their respective packages (store, ratelimit, cache)
// to maintain modularity and avoid circular dependencies; request-level metrics
// for the middleware pipeline live here.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for requests passing through the middleware pipeline.
const (
	OutcomeBypass   = "bypass"
	OutcomeRejected = "rejected"
	OutcomeHit      = "hit"
	OutcomeMiss     = "miss"
	OutcomeUncached = "uncached"
	OutcomeMutation = "mutation"
)

var (
	// RequestsTotal counts requests by method, outcome and status code
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgecache_http_requests_total",
			Help: "Total number of requests handled by the middleware pipeline",
		},
		[]string{"method", "outcome", "status_code"},
	)

	// RequestDuration observes request latency by outcome
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "edgecache_http_request_duration_seconds",
			Help:    "Request latency through the middleware pipeline",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)
)

// ObserveRequest records one completed request.
func ObserveRequest(method, outcome string, statusCode int, duration time.Duration) {
	RequestsTotal.WithLabelValues(method, outcome, strconv.Itoa(statusCode)).Inc()
	RequestDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// Handler exposes the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Store Metrics (pkg/store):
//   - edgecache_store_operations_total{driver, operation, result} (Counter)
//   - edgecache_store_healthy (Gauge): 1 when the last liveness probe succeeded
//
// Rate Limit Metrics (pkg/ratelimit):
//   - edgecache_ratelimit_decisions_total{result} (Counter): allowed, limited, degraded, exempt
//   - edgecache_ratelimit_window_requests (Histogram): window size at check time
//
// Cache Metrics (pkg/cache):
//   - edgecache_cache_hits_total (Counter)
//   - edgecache_cache_misses_total (Counter)
//   - edgecache_cache_stored_bytes_total (Counter)
//   - edgecache_cache_errors_total{operation} (Counter)
//   - edgecache_cache_invalidated_keys_total (Counter)
//
// Request Metrics (pkg/metrics, recorded by pkg/middleware):
//   - edgecache_http_requests_total{method, outcome, status_code} (Counter)
//   - edgecache_http_request_duration_seconds{outcome} (Histogram)
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(edgecache_cache_hits_total[5m])) /
//   (sum(rate(edgecache_cache_hits_total[5m])) + sum(rate(edgecache_cache_misses_total[5m])))
//
//   # Rejection Rate
//   sum(rate(edgecache_ratelimit_decisions_total{result="limited"}[5m]))
//
//   # Store Degradation
//   edgecache_store_healthy == 0
//
//   # P95 Latency of cache hits
//   histogram_quantile(0.95, rate(edgecache_http_request_duration_seconds_bucket{outcome="hit"}[5m]))
