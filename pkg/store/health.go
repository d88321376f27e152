package store

import (
	"context"
	"sync/atomic"
	"time"
)

// healthGate memoizes liveness probes so that gating every call costs at most one
// round trip per interval. Failed operations mark the store down immediately.
type healthGate struct {
	interval  time.Duration
	probe     func(ctx context.Context) error
	checkedAt atomic.Int64
	healthy   atomic.Bool
}

func newHealthGate(interval time.Duration, probe func(ctx context.Context) error) *healthGate {
	return &healthGate{interval: interval, probe: probe}
}

func (h *healthGate) check(ctx context.Context) bool {
	now := time.Now().UnixNano()
	if last := h.checkedAt.Load(); last != 0 && now-last < int64(h.interval) {
		return h.healthy.Load()
	}

	ok := h.probe(ctx) == nil
	h.healthy.Store(ok)
	h.checkedAt.Store(time.Now().UnixNano())
	if ok {
		storeHealthy.Set(1)
	} else {
		storeHealthy.Set(0)
	}
	return ok
}

func (h *healthGate) markDown() {
	h.healthy.Store(false)
	h.checkedAt.Store(time.Now().UnixNano())
	storeHealthy.Set(0)
}
