package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "edgecache_cache_hits_total",
			Help: "Total number of response cache hits",
		},
	)

	// CacheMisses tracks cache misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "edgecache_cache_misses_total",
			Help: "Total number of response cache misses",
		},
	)

	// StoredBytes tracks bytes written to the store
	StoredBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "edgecache_cache_stored_bytes_total",
			Help: "Total number of serialized bytes written to the response cache",
		},
	)

	// CacheErrors tracks degraded cache operations
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgecache_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "lookup", "decode", "store", "invalidate"
	)

	// InvalidatedKeys tracks keys removed by invalidation
	InvalidatedKeys = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "edgecache_cache_invalidated_keys_total",
			Help: "Total number of cache keys removed by invalidation",
		},
	)
)
