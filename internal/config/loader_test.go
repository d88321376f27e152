package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoader(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T) []string
		wantErr bool
		assert  func(t *testing.T, cfg Config)
	}{
		{
			name:  "returns defaults when no overrides",
			setup: func(t *testing.T) []string { return nil },
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, 8080, cfg.Server.Listen.Port)
				require.Equal(t, "redis", cfg.Store.Driver)
				require.Equal(t, time.Second, cfg.Store.OperationTimeout)
				require.Equal(t, int64(100), cfg.RateLimit.DefaultLimit)
				require.Equal(t, 60, cfg.RateLimit.WindowSeconds)
				require.Equal(t, 300, cfg.Cache.ListTTLSeconds)
				require.Equal(t, 600, cfg.Cache.DetailTTLSeconds)
				require.Equal(t, "api_cache", cfg.Cache.Namespace)
				require.Contains(t, cfg.Server.ExcludedPaths, "/health")
				require.Equal(t, []string{"/api/v1/posts", "/api/v1/tags"}, cfg.Cache.Paths)
			},
		},
		{
			name: "merges yaml overrides",
			setup: func(t *testing.T) []string {
				return []string{writeFile(t, "edgecache.yaml", `
server:
  listen:
    port: 9090
  upstream: http://blog:8000
store:
  operationTimeout: 250ms
rateLimit:
  defaultLimit: 5
  routes:
    /api/v1/auth: 10
cache:
  routeTTLSeconds:
    /api/v1/tags: 3600
`)}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, 9090, cfg.Server.Listen.Port)
				require.Equal(t, "http://blog:8000", cfg.Server.Upstream)
				require.Equal(t, 250*time.Millisecond, cfg.Store.OperationTimeout)
				require.Equal(t, int64(5), cfg.RateLimit.DefaultLimit)
				require.Equal(t, int64(10), cfg.RateLimit.Routes["/api/v1/auth"])
				require.Equal(t, time.Hour, cfg.Rules().RouteTTLs["/api/v1/tags"])
			},
		},
		{
			name: "reads json files",
			setup: func(t *testing.T) []string {
				return []string{writeFile(t, "edgecache.json", `{"cache":{"namespace":"blog"}}`)}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, "blog", cfg.Cache.Namespace)
			},
		},
		{
			name: "reads toml files",
			setup: func(t *testing.T) []string {
				return []string{writeFile(t, "edgecache.toml", "[store]\ndriver = \"valkey\"\n")}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, "valkey", cfg.Store.Driver)
			},
		},
		{
			name: "prefers env overrides",
			setup: func(t *testing.T) []string {
				t.Setenv("EDGECACHE_SERVER__LISTEN__PORT", "9091")
				t.Setenv("EDGECACHE_RATELIMIT__DEFAULTLIMIT", "7")
				t.Setenv("EDGECACHE_CACHE__PATHS", "/api/v1/posts, /api/v1/users")
				return []string{writeFile(t, "edgecache.yaml", "server:\n  listen:\n    port: 9090\nrateLimit:\n  defaultLimit: 5\n")}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, 9091, cfg.Server.Listen.Port)
				require.Equal(t, int64(7), cfg.RateLimit.DefaultLimit)
				require.Equal(t, []string{"/api/v1/posts", "/api/v1/users"}, cfg.Cache.Paths)
			},
		},
		{
			name: "fails on missing file",
			setup: func(t *testing.T) []string {
				return []string{filepath.Join(t.TempDir(), "missing.yaml")}
			},
			wantErr: true,
		},
		{
			name: "fails on unsupported extension",
			setup: func(t *testing.T) []string {
				return []string{writeFile(t, "edgecache.ini", "port=1")}
			},
			wantErr: true,
		},
		{
			name: "fails validation",
			setup: func(t *testing.T) []string {
				return []string{writeFile(t, "edgecache.yaml", "rateLimit:\n  windowSeconds: 0\n")}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			files := tt.setup(t)
			cfg, err := NewLoader(DefaultEnvPrefix, files...).Load(context.Background())
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.assert(t, cfg)
		})
	}
}

func TestLoaderHonorsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	path := writeFile(t, "edgecache.yaml", "server:\n  listen:\n    port: 9090\n")
	_, err := NewLoader(DefaultEnvPrefix, path).Load(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestLoaderFilesSkipsEmpty(t *testing.T) {
	require.Equal(t, []string{"a.yaml"}, NewLoader("", "", "a.yaml").Files())
}
