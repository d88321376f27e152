package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromContext(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))
	assert.Empty(t, UserID(context.Background()))

	ctx := WithCaller(context.Background(), &Caller{UserID: "42"})
	require.NotNil(t, FromContext(ctx))
	assert.Equal(t, "42", UserID(ctx))

	assert.Nil(t, FromContext(WithCaller(context.Background(), &Caller{})), "empty id is anonymous")
	assert.Nil(t, FromContext(WithCaller(context.Background(), nil)))
}

func TestTrustedHeader(t *testing.T) {
	tests := []struct {
		name   string
		header string
		value  string
		want   *Caller
	}{
		{"default header", "", "42", &Caller{UserID: "42"}},
		{"custom header", "X-Auth-User", "alice@example.com", &Caller{UserID: "alice@example.com"}},
		{"trimmed", "", "  7 ", &Caller{UserID: "7"}},
		{"missing", "", "", nil},
		{"separator", "", "1:2", nil},
		{"glob", "", "user*", nil},
		{"space", "", "a b", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			name := tt.header
			if name == "" {
				name = DefaultHeader
			}
			if tt.value != "" {
				r.Header.Set(name, tt.value)
			}
			assert.Equal(t, tt.want, TrustedHeader{Header: tt.header}.Authenticate(r))
		})
	}
}

func TestTrustedHeader_Proxies(t *testing.T) {
	proxies, err := ParsePrefixes([]string{"10.0.0.0/8", " ", "::1"})
	require.NoError(t, err)
	auth := TrustedHeader{Proxies: proxies}

	tests := []struct {
		name   string
		remote string
		want   *Caller
	}{
		{"gateway range", "10.1.2.3:4000", &Caller{UserID: "42"}},
		{"ipv6 loopback", "[::1]:4000", &Caller{UserID: "42"}},
		{"mapped ipv4", "[::ffff:10.0.0.9]:4000", &Caller{UserID: "42"}},
		{"direct client", "203.0.113.5:4000", nil},
		{"garbage address", "nowhere", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			r.Header.Set(DefaultHeader, "42")

			assert.Equal(t, tt.want, auth.Authenticate(r))
			if tt.want == nil {
				assert.Empty(t, r.Header.Get(DefaultHeader), "untrusted header is stripped")
			} else {
				assert.Equal(t, "42", r.Header.Get(DefaultHeader))
			}
		})
	}
}

func TestParsePrefixes(t *testing.T) {
	got, err := ParsePrefixes([]string{"192.0.2.1", "10.9.8.7/8"})
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.1/32", got[0].String())
	assert.Equal(t, "10.0.0.0/8", got[1].String())

	_, err = ParsePrefixes([]string{"not-an-ip"})
	assert.Error(t, err)
	_, err = ParsePrefixes([]string{"10.0.0.0/99"})
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	var seen string
	handler := Middleware(TrustedHeader{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserID(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(DefaultHeader, "9")
	handler.ServeHTTP(httptest.NewRecorder(), r)
	assert.Equal(t, "9", seen)

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Empty(t, seen)
}

func TestClientOrigin(t *testing.T) {
	tests := []struct {
		name      string
		remote    string
		forwarded string
		trust     bool
		want      string
	}{
		{"socket address", "10.0.0.1:5555", "", false, "10.0.0.1"},
		{"forwarded ignored when untrusted", "10.0.0.1:5555", "203.0.113.9", false, "10.0.0.1"},
		{"forwarded trusted", "10.0.0.1:5555", "203.0.113.9, 10.0.0.1", true, "203.0.113.9"},
		{"forwarded with port", "10.0.0.1:5555", "203.0.113.9:443", true, "203.0.113.9"},
		{"invalid forwarded entries skipped", "10.0.0.1:5555", "unknown, 198.51.100.2", true, "198.51.100.2"},
		{"all forwarded invalid", "10.0.0.1:5555", "garbage", true, "10.0.0.1"},
		{"ipv6", "[2001:db8::1]:443", "", false, "2001:db8::1"},
		{"mapped ipv4", "[::ffff:192.0.2.1]:80", "", false, "192.0.2.1"},
		{"no port", "192.0.2.7", "", false, "192.0.2.7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			if tt.forwarded != "" {
				r.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			assert.Equal(t, tt.want, ClientOrigin(r, tt.trust))
		})
	}
}

func TestCallerKey(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.1:1234"
	assert.Equal(t, "ip:192.0.2.1", CallerKey(r, false))

	r = r.WithContext(WithCaller(r.Context(), &Caller{UserID: "5"}))
	assert.Equal(t, "user:5", CallerKey(r, false))
}
