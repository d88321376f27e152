// Package identity carries the authenticated caller through a request and
// derives the caller key used for rate limiting.
//
// Verifying credentials is not done here: an upstream gateway or auth layer
// authenticates the request and an Authenticator only reads its verdict.
package identity

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// DefaultHeader is the header TrustedHeader reads when none is configured.
const DefaultHeader = "X-User-ID"

// Caller is an authenticated principal.
type Caller struct {
	UserID string
}

type contextKey struct{}

// WithCaller returns a context carrying c.
func WithCaller(ctx context.Context, c *Caller) context.Context {
	return context.WithValue(ctx, contextKey{}, c)
}

// FromContext returns the caller stored in ctx, or nil for anonymous requests.
func FromContext(ctx context.Context) *Caller {
	c, _ := ctx.Value(contextKey{}).(*Caller)
	if c == nil || c.UserID == "" {
		return nil
	}
	return c
}

// UserID returns the authenticated user id in ctx, or "" for anonymous requests.
func UserID(ctx context.Context) string {
	if c := FromContext(ctx); c != nil {
		return c.UserID
	}
	return ""
}

// Authenticator resolves the caller of a request. Nil means anonymous.
type Authenticator interface {
	Authenticate(r *http.Request) *Caller
}

// TrustedHeader reads the user id from a header set by a trusted gateway.
// Values that could not be a user id (separators, glob characters, whitespace)
// are treated as anonymous so they never reach a store key.
//
// With Proxies set, the header is honored only on connections from those
// ranges. From anywhere else it is removed from the request, so it is neither
// trusted here nor forwarded upstream. Without Proxies every peer is trusted
// and the proxy must only be reachable through the authenticating gateway.
type TrustedHeader struct {
	Header  string
	Proxies []netip.Prefix
}

// Authenticate implements Authenticator.
func (t TrustedHeader) Authenticate(r *http.Request) *Caller {
	header := t.Header
	if header == "" {
		header = DefaultHeader
	}
	if !t.fromProxy(r) {
		r.Header.Del(header)
		return nil
	}
	id := strings.TrimSpace(r.Header.Get(header))
	if id == "" || len(id) > 128 || !validUserID(id) {
		return nil
	}
	return &Caller{UserID: id}
}

func (t TrustedHeader) fromProxy(r *http.Request) bool {
	if len(t.Proxies) == 0 {
		return true
	}
	addr, err := netip.ParseAddr(remoteHost(r.RemoteAddr))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range t.Proxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ParsePrefix parses an address or CIDR range. A bare address becomes a
// single-host prefix.
func ParsePrefix(raw string) (netip.Prefix, error) {
	raw = strings.TrimSpace(raw)
	if strings.Contains(raw, "/") {
		p, err := netip.ParsePrefix(raw)
		if err != nil {
			return netip.Prefix{}, err
		}
		return p.Masked(), nil
	}
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return netip.Prefix{}, err
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// ParsePrefixes parses a list with ParsePrefix, skipping blank entries.
func ParsePrefixes(raw []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(raw))
	for _, r := range raw {
		if strings.TrimSpace(r) == "" {
			continue
		}
		p, err := ParsePrefix(r)
		if err != nil {
			return nil, fmt.Errorf("identity: %q: %w", r, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func validUserID(id string) bool {
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-' || c == '_' || c == '.' || c == '@':
		default:
			return false
		}
	}
	return true
}

// Middleware authenticates each request with auth and stores the caller in
// the request context.
func Middleware(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if c := auth.Authenticate(r); c != nil {
				r = r.WithContext(WithCaller(r.Context(), c))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientOrigin returns the client address of r. With trustForwardedFor the
// left-most valid X-Forwarded-For entry wins over the socket address.
func ClientOrigin(r *http.Request, trustForwardedFor bool) string {
	if trustForwardedFor {
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			for _, part := range strings.Split(forwarded, ",") {
				if addr, ok := parseForwardedEntry(strings.TrimSpace(part)); ok {
					return addr.Unmap().String()
				}
			}
		}
	}
	return remoteHost(r.RemoteAddr)
}

// CallerKey identifies the caller for rate limiting: the user id when
// authenticated, the client origin otherwise.
func CallerKey(r *http.Request, trustForwardedFor bool) string {
	if id := UserID(r.Context()); id != "" {
		return "user:" + id
	}
	return "ip:" + ClientOrigin(r, trustForwardedFor)
}

func parseForwardedEntry(value string) (netip.Addr, bool) {
	if value == "" {
		return netip.Addr{}, false
	}
	if addr, err := netip.ParseAddr(value); err == nil {
		return addr, true
	}
	if addrPort, err := netip.ParseAddrPort(value); err == nil {
		return addrPort.Addr(), true
	}
	return netip.Addr{}, false
}

func remoteHost(addr string) string {
	if addr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if parsed, err := netip.ParseAddr(host); err == nil {
		return parsed.Unmap().String()
	}
	return host
}
