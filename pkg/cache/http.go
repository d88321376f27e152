package cache

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Cache status header and its values.
const (
	HeaderCache = "X-Cache"
	StatusHit   = "HIT"
	StatusMiss  = "MISS"
)

// Headers that describe the connection or a single exchange and must not be
// replayed from cache.
var unreplayableHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
	"Content-Length":      true,
	"Date":                true,
	"Set-Cookie":          true,
	"Retry-After":         true,
	HeaderCache:           true,
}

// NewEntry builds a cache entry from a captured response.
// Only replayable headers are kept; the body is copied.
func NewEntry(statusCode int, header http.Header, body []byte) *Entry {
	return &Entry{
		Body:        append([]byte(nil), body...),
		StatusCode:  statusCode,
		ContentType: header.Get("Content-Type"),
		Headers:     replayableHeaders(header),
		CachedAt:    time.Now().UTC(),
	}
}

func replayableHeaders(header http.Header) http.Header {
	out := make(http.Header, len(header))
	for name, values := range header {
		canonical := http.CanonicalHeaderKey(name)
		if unreplayableHeaders[canonical] || strings.HasPrefix(canonical, "X-Ratelimit-") {
			continue
		}
		out[canonical] = append([]string(nil), values...)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// WriteEntry replays entry to w, marked as a cache hit.
func WriteEntry(w http.ResponseWriter, entry *Entry) error {
	h := w.Header()
	for name, values := range entry.Headers {
		h[name] = append([]string(nil), values...)
	}
	if entry.ContentType != "" {
		h.Set("Content-Type", entry.ContentType)
	}
	h.Set("Content-Length", strconv.Itoa(len(entry.Body)))
	h.Set(HeaderCache, StatusHit)

	w.WriteHeader(entry.StatusCode)
	_, err := w.Write(entry.Body)
	return err
}
