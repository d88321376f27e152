package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StoreOperations tracks store calls by driver, operation and result.
	StoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgecache_store_operations_total",
			Help: "Total number of key-value store operations",
		},
		[]string{"driver", "operation", "result"}, // result: "ok", "not_found", "unavailable"
	)

	storeHealthy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "edgecache_store_healthy",
		Help: "Whether the last liveness probe of the key-value store succeeded",
	})
)

func observe(driver, op string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case err == ErrNotFound:
		result = "not_found"
	default:
		result = "unavailable"
	}
	StoreOperations.WithLabelValues(driver, op, result).Inc()
}
