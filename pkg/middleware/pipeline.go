// Package middleware places the rate limiter, the response cache and cache
// invalidation in front of an http.Handler.
//
// Every request moves through the same stages in a fixed order:
//
//	RATE_CHECK -> REJECTED
//	           -> CACHE_CHECK -> HIT  -> RESPOND
//	                          -> MISS -> EXECUTE -> MAYBE_CACHE -> RESPOND
//	           -> EXECUTE -> INVALIDATE (mutations, 2xx only) -> RESPOND
//
// Excluded paths skip every stage. Store failures never fail a request: the
// limiter admits and the cache behaves as empty.
package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/edgecache/pkg/cache"
	"github.com/Sternrassler/edgecache/pkg/identity"
	"github.com/Sternrassler/edgecache/pkg/invalidation"
	"github.com/Sternrassler/edgecache/pkg/metrics"
	"github.com/Sternrassler/edgecache/pkg/ratelimit"
)

// RejectionBody is the JSON body of a 429 response.
type RejectionBody struct {
	Detail string `json:"detail"`
	Type   string `json:"type"`
}

var rejection = RejectionBody{Detail: "Too many requests", Type: "rate_limit_exceeded"}

// Pipeline is the admission, cache and invalidation middleware.
type Pipeline struct {
	limiter *ratelimit.Limiter
	cache   *cache.Manager
	rules   atomic.Pointer[compiledRules]
	logger  zerolog.Logger
	now     func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock overrides the time source used for rate limit checks.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New creates a pipeline. A nil limiter disables rate limiting and a nil cache
// manager disables caching and invalidation.
func New(limiter *ratelimit.Limiter, cacheManager *cache.Manager, rules Rules, logger zerolog.Logger, opts ...Option) (*Pipeline, error) {
	compiled, err := compileRules(rules)
	if err != nil {
		return nil, err
	}
	p := &Pipeline{
		limiter: limiter,
		cache:   cacheManager,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.rules.Store(compiled)
	return p, nil
}

// UpdateRules swaps the active rules. Requests in flight keep the old ones.
func (p *Pipeline) UpdateRules(rules Rules) error {
	compiled, err := compileRules(rules)
	if err != nil {
		return err
	}
	p.rules.Store(compiled)
	p.logger.Info().
		Strs("excluded_paths", compiled.excluded).
		Strs("cache_paths", compiled.cachePaths).
		Msg("Middleware rules updated")
	return nil
}

// Handler wraps next with the pipeline.
func (p *Pipeline) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		tw := newTrackingWriter(w)
		outcome := p.serve(tw, r, next)
		metrics.ObserveRequest(r.Method, outcome, tw.Status(), time.Since(start))
	})
}

func (p *Pipeline) serve(w *trackingWriter, r *http.Request, next http.Handler) string {
	rules := p.rules.Load()
	path := r.URL.Path

	if rules.isExcluded(path) {
		next.ServeHTTP(w, r)
		return metrics.OutcomeBypass
	}

	if !p.admit(w, r, rules) {
		return metrics.OutcomeRejected
	}

	if p.cache == nil || !rules.isCached(path) {
		next.ServeHTTP(w, r)
		return metrics.OutcomeUncached
	}

	if r.Method == http.MethodGet {
		return p.serveCached(w, r, rules, next)
	}
	if op := invalidation.OperationForMethod(r.Method); op != invalidation.OpNone {
		p.serveMutation(w, r, rules, op, next)
		return metrics.OutcomeMutation
	}

	next.ServeHTTP(w, r)
	return metrics.OutcomeUncached
}

// admit runs the rate check. It returns false after writing a 429.
func (p *Pipeline) admit(w *trackingWriter, r *http.Request, rules *compiledRules) bool {
	if p.limiter == nil {
		return true
	}

	now := p.now()
	route := r.URL.Path

	var d ratelimit.Decision
	if p.limiter.IsExempt(identity.ClientOrigin(r, rules.trustForwardedFor)) {
		d = p.limiter.Exempt(route, now)
	} else {
		d = p.limiter.CheckAndRecord(r.Context(), identity.CallerKey(r, rules.trustForwardedFor), route, now)
	}

	if d.Limited {
		d.WriteHeaders(w.Header(), now)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		if err := json.NewEncoder(w).Encode(rejection); err != nil {
			p.logger.Debug().Err(err).Msg("Failed to write rejection body")
		}
		return false
	}

	w.stamp(func(h http.Header) { d.WriteHeaders(h, now) })
	return true
}

func (p *Pipeline) cacheKey(r *http.Request, rules *compiledRules) (cache.Key, bool) {
	res, ok := invalidation.ParseResource(r.URL.Path, rules.apiPrefix)
	key := cache.Key{
		Caller: identity.UserID(r.Context()),
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
	}
	if ok {
		key.Scope = res.Scope()
	}
	return key, ok && res.ID != ""
}

func (p *Pipeline) serveCached(w *trackingWriter, r *http.Request, rules *compiledRules, next http.Handler) string {
	key, detail := p.cacheKey(r, rules)

	entry, err := p.cache.Lookup(r.Context(), key)
	if err == nil {
		if err := cache.WriteEntry(w, entry); err != nil {
			p.logger.Debug().Err(err).Msg("Failed to replay cached response")
		}
		return metrics.OutcomeHit
	}

	w.stamp(func(h http.Header) { h.Set(cache.HeaderCache, cache.StatusMiss) })

	rec := newResponseRecorder(w, rules.maxBodyBytes)
	next.ServeHTTP(rec, r)

	status := rec.StatusCode()
	if rec.Complete() && status >= 200 && status < 300 {
		entry := cache.NewEntry(status, rec.Header(), rec.Body())
		if err := p.cache.Store(r.Context(), key, entry, rules.ttlFor(r.URL.Path, detail)); err != nil {
			p.logger.Debug().Err(err).Str("path", r.URL.Path).Msg("Response not cached")
		}
	}

	rec.flush()
	return metrics.OutcomeMiss
}

func (p *Pipeline) serveMutation(w *trackingWriter, r *http.Request, rules *compiledRules, op invalidation.Operation, next http.Handler) {
	rec := newResponseRecorder(w, rules.maxBodyBytes)
	next.ServeHTTP(rec, r)

	status := rec.StatusCode()
	if status >= 200 && status < 300 {
		p.invalidate(r, rules, op)
	}
	rec.flush()
}

func (p *Pipeline) invalidate(r *http.Request, rules *compiledRules, op invalidation.Operation) {
	res, ok := invalidation.ParseResource(r.URL.Path, rules.apiPrefix)
	if !ok {
		return
	}

	for _, pattern := range invalidation.AffectedPatterns(res.Family, res.ID, op) {
		deleted, err := p.cache.Invalidate(r.Context(), pattern)
		if err != nil {
			if errors.Is(err, cache.ErrInvalidPattern) {
				p.logger.Warn().Err(err).Str("path", r.URL.Path).Msg("Skipping invalidation")
				continue
			}
			p.logger.Warn().Err(fmt.Errorf("invalidate %s: %w", pattern, err)).Msg("Invalidation failed")
			continue
		}
		p.logger.Debug().
			Str("method", r.Method).
			Str("pattern", pattern).
			Int64("deleted", deleted).
			Msg("Invalidated after mutation")
	}
}
