package middleware

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Defaults for Rules fields left empty.
var (
	DefaultExcludedPaths = []string{"/health", "/docs", "/metrics", "/openapi.json", "/api/v1/auth"}
	DefaultCachePaths    = []string{"/api/v1/posts", "/api/v1/tags"}
)

const (
	DefaultAPIPrefix    = "/api/v1"
	DefaultListTTL      = 5 * time.Minute
	DefaultDetailTTL    = 10 * time.Minute
	DefaultMaxBodyBytes = 1 << 20
)

// Rules decide which requests each stage applies to. They can be replaced at
// runtime with Pipeline.UpdateRules.
type Rules struct {
	// APIPrefix is stripped before deriving the resource family from a path.
	APIPrefix string

	// ExcludedPaths are path prefixes that bypass rate limiting and caching.
	// Prefixes match whole path segments.
	ExcludedPaths []string

	// CachePaths are path prefixes whose GET responses are cached and whose
	// mutations invalidate the cache.
	CachePaths []string

	// ListTTL and DetailTTL apply to collection and single-resource responses.
	ListTTL   time.Duration
	DetailTTL time.Duration

	// RouteTTLs overrides the TTL per path prefix. The longest prefix wins.
	RouteTTLs map[string]time.Duration

	// MaxBodyBytes caps buffered response bodies. Larger responses are streamed
	// to the client and not cached.
	MaxBodyBytes int64

	// TrustForwardedFor uses X-Forwarded-For to identify anonymous callers.
	TrustForwardedFor bool
}

// DefaultRules returns the rules for the blog API layout.
func DefaultRules() Rules {
	return Rules{
		APIPrefix:     DefaultAPIPrefix,
		ExcludedPaths: append([]string(nil), DefaultExcludedPaths...),
		CachePaths:    append([]string(nil), DefaultCachePaths...),
		ListTTL:       DefaultListTTL,
		DetailTTL:     DefaultDetailTTL,
		MaxBodyBytes:  DefaultMaxBodyBytes,
	}
}

// Validate reports whether the rules can be applied.
func (r Rules) Validate() error {
	_, err := compileRules(r)
	return err
}

type routeTTL struct {
	prefix string
	ttl    time.Duration
}

type compiledRules struct {
	apiPrefix         string
	excluded          []string
	cachePaths        []string
	listTTL           time.Duration
	detailTTL         time.Duration
	routeTTLs         []routeTTL // longest prefix first
	maxBodyBytes      int64
	trustForwardedFor bool
}

func compileRules(r Rules) (*compiledRules, error) {
	c := &compiledRules{
		apiPrefix:         r.APIPrefix,
		excluded:          cleanPrefixes(r.ExcludedPaths),
		cachePaths:        cleanPrefixes(r.CachePaths),
		listTTL:           r.ListTTL,
		detailTTL:         r.DetailTTL,
		maxBodyBytes:      r.MaxBodyBytes,
		trustForwardedFor: r.TrustForwardedFor,
	}
	if c.listTTL <= 0 {
		c.listTTL = DefaultListTTL
	}
	if c.detailTTL <= 0 {
		c.detailTTL = DefaultDetailTTL
	}
	if c.maxBodyBytes <= 0 {
		c.maxBodyBytes = DefaultMaxBodyBytes
	}

	for prefix, ttl := range r.RouteTTLs {
		if prefix == "" {
			return nil, fmt.Errorf("middleware: empty route ttl prefix")
		}
		if ttl <= 0 {
			return nil, fmt.Errorf("middleware: route %q: ttl must be positive (got %s)", prefix, ttl)
		}
		c.routeTTLs = append(c.routeTTLs, routeTTL{prefix: prefix, ttl: ttl})
	}
	sort.Slice(c.routeTTLs, func(i, j int) bool {
		if len(c.routeTTLs[i].prefix) != len(c.routeTTLs[j].prefix) {
			return len(c.routeTTLs[i].prefix) > len(c.routeTTLs[j].prefix)
		}
		return c.routeTTLs[i].prefix < c.routeTTLs[j].prefix
	})
	return c, nil
}

func cleanPrefixes(prefixes []string) []string {
	out := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// underPrefix matches prefix on path segment boundaries: "/docs" covers
// "/docs" and "/docs/x" but not "/docsearch". A prefix ending in "/" matches
// anything below it.
func underPrefix(path, prefix string) bool {
	if strings.HasSuffix(prefix, "/") {
		return strings.HasPrefix(path, prefix)
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

func hasAnyPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if underPrefix(path, p) {
			return true
		}
	}
	return false
}

func (c *compiledRules) isExcluded(path string) bool {
	return hasAnyPrefix(path, c.excluded)
}

func (c *compiledRules) isCached(path string) bool {
	return hasAnyPrefix(path, c.cachePaths)
}

func (c *compiledRules) ttlFor(path string, detail bool) time.Duration {
	for _, r := range c.routeTTLs {
		if underPrefix(path, r.prefix) {
			return r.ttl
		}
	}
	if detail {
		return c.detailTTL
	}
	return c.listTTL
}
