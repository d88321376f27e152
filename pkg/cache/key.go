package cache

import (
	"net/url"
	"sort"
	"strings"
)

// AnonymousCaller is used in keys for unauthenticated requests.
const AnonymousCaller = "anon"

// callerPrefix marks authenticated callers in keys, so no user id can collide
// with AnonymousCaller.
const callerPrefix = "u."

// DefaultScope is used when a request does not map to a resource family.
const DefaultScope = "default"

// Key identifies a cached response.
type Key struct {
	// Scope is the invalidation scope, "{family}:list" or "{family}:detail:{id}".
	Scope string

	// Caller is the authenticated user id, empty for anonymous requests.
	Caller string

	// Path is the request path.
	Path string

	// Query holds the request query parameters.
	Query url.Values
}

// String generates a deterministic key string, without the namespace.
// Format: scope:caller:path:query
//
// Example:
//
//	posts:list:anon:/api/v1/posts:limit=10&skip=0
//	posts:detail:42:u.7:/api/v1/posts/42:
func (k Key) String() string {
	scope := k.Scope
	if scope == "" {
		scope = DefaultScope
	}
	caller := AnonymousCaller
	if k.Caller != "" {
		caller = callerPrefix + k.Caller
	}
	return strings.Join([]string{scope, caller, k.Path, NormalizeQuery(k.Query)}, ":")
}

// NormalizeQuery encodes query parameters sorted by key, and multi-valued
// parameters sorted by value, so reordered queries produce the same string.
func NormalizeQuery(q url.Values) string {
	if len(q) == 0 {
		return ""
	}

	keys := make([]string, 0, len(q))
	for key := range q {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, key := range keys {
		values := append([]string(nil), q[key]...)
		sort.Strings(values)
		if len(values) == 0 {
			values = []string{""}
		}
		escapedKey := url.QueryEscape(key)
		for _, v := range values {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(escapedKey)
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}
