package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/edgecache/pkg/store"
)

// KeyPrefix namespaces every window key in the store.
const KeyPrefix = "rate_limit"

// WindowKey returns the store key of the window for (route, caller).
// Routes are hashed so arbitrary paths map to fixed-size keys.
func WindowKey(routeKey, callerKey string) string {
	return fmt.Sprintf("%s:%016x:%s", KeyPrefix, xxhash.Sum64String(routeKey), callerKey)
}

// Limiter decides whether a (caller, route) pair is over quota.
type Limiter struct {
	store  store.Store
	policy atomic.Pointer[compiledPolicy]
	logger zerolog.Logger
}

// NewLimiter creates a limiter over s with the given policy.
func NewLimiter(s store.Store, policy Policy, logger zerolog.Logger) (*Limiter, error) {
	if s == nil {
		return nil, fmt.Errorf("ratelimit: store cannot be nil")
	}
	compiled, err := compilePolicy(policy)
	if err != nil {
		return nil, err
	}
	l := &Limiter{store: s, logger: logger}
	l.policy.Store(compiled)
	return l, nil
}

// UpdatePolicy swaps the active policy. In-flight checks finish with the old one.
func (l *Limiter) UpdatePolicy(policy Policy) error {
	compiled, err := compilePolicy(policy)
	if err != nil {
		return err
	}
	l.policy.Store(compiled)
	l.logger.Info().
		Int64("default_limit", compiled.defaultLimit).
		Dur("window", compiled.window).
		Int("routes", len(compiled.routes)).
		Msg("Rate limit policy updated")
	return nil
}

// LimitFor returns the limit that applies to routeKey.
func (l *Limiter) LimitFor(routeKey string) int64 {
	return l.policy.Load().limitFor(routeKey)
}

// Window returns the active window length.
func (l *Limiter) Window() time.Duration {
	return l.policy.Load().window
}

// IsExempt reports whether clientIP bypasses rate limiting.
func (l *Limiter) IsExempt(clientIP string) bool {
	return l.policy.Load().isExempt(clientIP)
}

// Exempt returns the full-quota decision reported to exempt clients.
// Nothing is recorded in the store.
func (l *Limiter) Exempt(routeKey string, now time.Time) Decision {
	p := l.policy.Load()
	d := fullQuota(p.limitFor(routeKey), now, p.window)
	d.Exempt = true
	decisionsTotal.WithLabelValues(resultExempt).Inc()
	return d
}

// CheckAndRecord records a request by callerKey on routeKey at now and reports
// whether it pushed the window over the limit.
//
// Pruning, recording, counting and the expiry refresh go out as one pipeline.
// Concurrent checks for the same key can interleave between pipelines, so the
// limit is best effort under contention. A store failure never surfaces: the
// request is admitted with full quota and the decision marked Degraded.
func (l *Limiter) CheckAndRecord(ctx context.Context, callerKey, routeKey string, now time.Time) Decision {
	p := l.policy.Load()
	limit := p.limitFor(routeKey)
	key := WindowKey(routeKey, callerKey)

	if !l.store.Ping(ctx) {
		return l.degraded(limit, now, p.window, key, store.ErrUnavailable)
	}

	nowMicros := float64(now.UnixMicro())
	windowStart := float64(now.Add(-p.window).UnixMicro())

	pipe := l.store.Pipeline()
	pipe.ZRemRangeByScore(key, 0, windowStart-1)
	pipe.ZAdd(key, nowMicros, member(now))
	pipe.ZCard(key)
	pipe.Expire(key, p.window)

	results, err := pipe.Exec(ctx)
	if err != nil {
		return l.degraded(limit, now, p.window, key, err)
	}
	if len(results) != 4 {
		return l.degraded(limit, now, p.window, key, fmt.Errorf("pipeline returned %d results, want 4", len(results)))
	}

	count := results[2]
	d := newDecision(limit, count, now, p.window)
	windowCount.Observe(float64(count))

	if d.Limited {
		decisionsTotal.WithLabelValues(resultLimited).Inc()
		l.logger.Info().
			Str("caller", callerKey).
			Str("route", routeKey).
			Int64("count", count).
			Int64("limit", limit).
			Msg("Rate limit exceeded - rejecting request")
		return d
	}

	decisionsTotal.WithLabelValues(resultAllowed).Inc()
	return d
}

func (l *Limiter) degraded(limit int64, now time.Time, window time.Duration, key string, err error) Decision {
	decisionsTotal.WithLabelValues(resultDegraded).Inc()
	l.logger.Warn().
		Err(err).
		Str("key", key).
		Msg("Rate limiter degraded - store unavailable, admitting request")

	d := fullQuota(limit, now, window)
	d.Degraded = true
	return d
}

// member is unique per request so simultaneous requests are all counted.
func member(now time.Time) string {
	return strconv.FormatInt(now.UnixNano(), 10) + "-" + uuid.NewString()
}
