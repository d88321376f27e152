// Package ratelimit implements a sliding-window request limiter per (caller, route)
// on top of a shared key-value store. Each check prunes the caller's window, records
// the current request and counts what is left in a single pipelined round trip.
//
// The limiter fails open: when the store is unreachable, requests are admitted with
// full quota reported and the decision is flagged as degraded.
package ratelimit

import (
	"net/http"
	"strconv"
	"time"
)

// Quota response headers.
const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// Decision is the outcome of one rate limit check.
type Decision struct {
	// Limited is true when the request that was just recorded pushed the window
	// over the limit. The triggering request itself is the one rejected.
	Limited bool `json:"limited"`

	// Limit is the configured maximum number of requests per window.
	Limit int64 `json:"limit"`

	// Remaining is max(0, Limit-Count).
	Remaining int64 `json:"remaining"`

	// Count is the number of requests in the window, including this one.
	// Zero for degraded and exempt decisions.
	Count int64 `json:"count"`

	// Reset is the unix time (seconds) at which the window has fully rolled over.
	Reset int64 `json:"reset"`

	// Degraded is true when the store could not be consulted and the request
	// was admitted without being counted.
	Degraded bool `json:"degraded"`

	// Exempt is true when the client is exempt from rate limiting.
	Exempt bool `json:"exempt"`
}

// RetryAfter returns how long a rejected caller should wait, relative to now.
// Returns 0 if the reset time has already passed.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	wait := time.Unix(d.Reset, 0).Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}

// WriteHeaders sets the quota headers on h. A rejected decision also gets Retry-After.
func (d Decision) WriteHeaders(h http.Header, now time.Time) {
	h.Set(HeaderLimit, strconv.FormatInt(d.Limit, 10))
	h.Set(HeaderRemaining, strconv.FormatInt(d.Remaining, 10))
	h.Set(HeaderReset, strconv.FormatInt(d.Reset, 10))
	if d.Limited {
		seconds := int64((d.RetryAfter(now) + time.Second - 1) / time.Second)
		h.Set(HeaderRetryAfter, strconv.FormatInt(seconds, 10))
	}
}

func newDecision(limit, count int64, now time.Time, window time.Duration) Decision {
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Limited:   count > limit,
		Limit:     limit,
		Remaining: remaining,
		Count:     count,
		Reset:     now.Add(window).Unix(),
	}
}

// fullQuota is reported whenever a request is admitted without being counted.
func fullQuota(limit int64, now time.Time, window time.Duration) Decision {
	return Decision{
		Limit:     limit,
		Remaining: limit,
		Reset:     now.Add(window).Unix(),
	}
}
