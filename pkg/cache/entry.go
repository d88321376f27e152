package cache

import (
	"net/http"
	"time"
)

// Entry represents a cached response.
type Entry struct {
	// Body is the response body, replayed byte for byte
	Body []byte `json:"body"`

	// StatusCode is the HTTP status code of the cached response
	StatusCode int `json:"status_code"`

	// ContentType is the Content-Type of the cached response
	ContentType string `json:"content_type,omitempty"`

	// Headers are the replayable response headers
	Headers http.Header `json:"headers,omitempty"`

	// CachedAt is when we cached this response
	CachedAt time.Time `json:"cached_at"`
}

// Cacheable reports whether the entry may be stored. Only 2xx responses are.
func (e *Entry) Cacheable() bool {
	return e != nil && e.StatusCode >= 200 && e.StatusCode < 300
}

// Age returns how long ago the entry was cached.
// Returns 0 if CachedAt is unset or in the future.
func (e *Entry) Age(now time.Time) time.Duration {
	if e.CachedAt.IsZero() {
		return 0
	}
	age := now.Sub(e.CachedAt)
	if age < 0 {
		return 0
	}
	return age
}
