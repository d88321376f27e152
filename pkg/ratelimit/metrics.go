package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultAllowed  = "allowed"
	resultLimited  = "limited"
	resultDegraded = "degraded"
	resultExempt   = "exempt"
)

// Prometheus metrics for rate limit decisions.
var (
	decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edgecache_ratelimit_decisions_total",
		Help: "Total number of rate limit decisions by result",
	}, []string{"result"})

	windowCount = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "edgecache_ratelimit_window_requests",
		Help:    "Number of requests in the sliding window at check time",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
	})
)
