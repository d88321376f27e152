package ratelimit

import (
	"fmt"
	"net/netip"
	"sort"
	"strings"
	"time"

	"github.com/Sternrassler/edgecache/pkg/identity"
)

// Defaults applied when a Policy leaves a field unset.
const (
	DefaultLimit  = 100
	DefaultWindow = 60 * time.Second
)

// Policy configures limits per route.
type Policy struct {
	// DefaultLimit applies to routes without a more specific entry.
	DefaultLimit int64

	// Window is the sliding window length.
	Window time.Duration

	// Routes maps path prefixes to limits. The longest matching prefix wins.
	Routes map[string]int64

	// ExemptIPs lists client addresses (or CIDR ranges) that bypass counting.
	ExemptIPs []string
}

// Validate reports whether the policy can be applied.
func (p Policy) Validate() error {
	_, err := compilePolicy(p)
	return err
}

// compiledPolicy is a validated Policy ready for lookups.
type compiledPolicy struct {
	defaultLimit int64
	window       time.Duration
	routes       []routeLimit // longest prefix first
	exempt       []netip.Prefix
}

type routeLimit struct {
	prefix string
	limit  int64
}

func compilePolicy(p Policy) (*compiledPolicy, error) {
	c := &compiledPolicy{
		defaultLimit: p.DefaultLimit,
		window:       p.Window,
	}
	if c.defaultLimit <= 0 {
		c.defaultLimit = DefaultLimit
	}
	if c.window <= 0 {
		c.window = DefaultWindow
	}
	if c.window < time.Second {
		return nil, fmt.Errorf("ratelimit: window must be at least 1s (got %s)", p.Window)
	}

	for prefix, limit := range p.Routes {
		if prefix == "" {
			return nil, fmt.Errorf("ratelimit: empty route prefix")
		}
		if limit <= 0 {
			return nil, fmt.Errorf("ratelimit: route %q: limit must be positive (got %d)", prefix, limit)
		}
		c.routes = append(c.routes, routeLimit{prefix: prefix, limit: limit})
	}
	sortRoutes(c.routes)

	for _, raw := range p.ExemptIPs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		prefix, err := identity.ParsePrefix(raw)
		if err != nil {
			return nil, fmt.Errorf("ratelimit: exempt ip %q: %w", raw, err)
		}
		c.exempt = append(c.exempt, prefix)
	}
	return c, nil
}

func sortRoutes(routes []routeLimit) {
	sort.Slice(routes, func(i, j int) bool {
		if len(routes[i].prefix) != len(routes[j].prefix) {
			return len(routes[i].prefix) > len(routes[j].prefix)
		}
		return routes[i].prefix < routes[j].prefix
	})
}

// limitFor returns the limit of the longest matching route prefix.
func (c *compiledPolicy) limitFor(route string) int64 {
	for _, r := range c.routes {
		if underPrefix(route, r.prefix) {
			return r.limit
		}
	}
	return c.defaultLimit
}

// underPrefix matches prefix on path segment boundaries, so "/api/v1/posts"
// does not cover "/api/v1/postscript".
func underPrefix(route, prefix string) bool {
	if strings.HasSuffix(prefix, "/") {
		return strings.HasPrefix(route, prefix)
	}
	return route == prefix || strings.HasPrefix(route, prefix+"/")
}

func (c *compiledPolicy) isExempt(clientIP string) bool {
	if len(c.exempt) == 0 || clientIP == "" {
		return false
	}
	addr, err := netip.ParseAddr(clientIP)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range c.exempt {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}
