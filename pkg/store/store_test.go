package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startMiniredis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	server, err := miniredis.Run()
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skip("miniredis unavailable in sandbox")
		}
		require.NoError(t, err)
	}
	t.Cleanup(server.Close)
	return server
}

// forEachDriver runs fn against a fresh miniredis once per driver.
func forEachDriver(t *testing.T, fn func(t *testing.T, server *miniredis.Miniredis, s Store)) {
	for _, driver := range []string{DriverRedis, DriverValkey} {
		t.Run(driver, func(t *testing.T) {
			server := startMiniredis(t)
			s, err := New(Config{Driver: driver, Address: server.Addr()}, zerolog.Nop())
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			fn(t, server, s)
		})
	}
}

func TestStore_GetSetDelete(t *testing.T) {
	forEachDriver(t, func(t *testing.T, server *miniredis.Miniredis, s Store) {
		ctx := context.Background()

		_, err := s.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, s.SetWithTTL(ctx, "k1", []byte("v1"), time.Minute))
		got, err := s.Get(ctx, "k1")
		require.NoError(t, err)
		assert.Equal(t, "v1", string(got))
		assert.InDelta(t, time.Minute.Seconds(), server.TTL("k1").Seconds(), 1)

		deleted, err := s.Delete(ctx, "k1", "missing")
		require.NoError(t, err)
		assert.Equal(t, int64(1), deleted)

		deleted, err = s.Delete(ctx)
		require.NoError(t, err)
		assert.Zero(t, deleted)
	})
}

func TestStore_SetWithTTLExpires(t *testing.T) {
	forEachDriver(t, func(t *testing.T, server *miniredis.Miniredis, s Store) {
		ctx := context.Background()
		require.NoError(t, s.SetWithTTL(ctx, "short", []byte("x"), 500*time.Millisecond))

		server.FastForward(time.Second)

		_, err := s.Get(ctx, "short")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_SetWithTTLRejectsNonPositive(t *testing.T) {
	forEachDriver(t, func(t *testing.T, _ *miniredis.Miniredis, s Store) {
		err := s.SetWithTTL(context.Background(), "k", []byte("v"), 0)
		require.Error(t, err)
		assert.False(t, IsUnavailable(err))
	})
}

func TestStore_KeysMatching(t *testing.T) {
	forEachDriver(t, func(t *testing.T, server *miniredis.Miniredis, s Store) {
		ctx := context.Background()
		for _, key := range []string{
			"api_cache:posts:list:anon:/posts:",
			"api_cache:posts:detail:42:anon:/posts/42:",
			"api_cache:posts:detail:420:anon:/posts/420:",
			"api_cache:users:list:anon:/users:",
			"other:key",
		} {
			require.NoError(t, server.Set(key, "1"))
		}

		keys, err := s.KeysMatching(ctx, "api_cache:posts:*")
		require.NoError(t, err)
		sort.Strings(keys)
		assert.Equal(t, []string{
			"api_cache:posts:detail:420:anon:/posts/420:",
			"api_cache:posts:detail:42:anon:/posts/42:",
			"api_cache:posts:list:anon:/posts:",
		}, keys)

		keys, err = s.KeysMatching(ctx, "api_cache:posts:detail:42:*")
		require.NoError(t, err)
		assert.Equal(t, []string{"api_cache:posts:detail:42:anon:/posts/42:"}, keys)

		keys, err = s.KeysMatching(ctx, "nothing:*")
		require.NoError(t, err)
		assert.Empty(t, keys)
	})
}

func TestStore_Pipeline(t *testing.T) {
	forEachDriver(t, func(t *testing.T, server *miniredis.Miniredis, s Store) {
		ctx := context.Background()
		key := "rate_limit:test:user:1"

		for i, score := range []float64{100, 200, 300} {
			p := s.Pipeline()
			p.ZAdd(key, score, "m"+string(rune('a'+i)))
			_, err := p.Exec(ctx)
			require.NoError(t, err)
		}

		p := s.Pipeline()
		p.ZRemRangeByScore(key, 0, 150)
		p.ZAdd(key, 400, "md")
		p.ZCard(key)
		p.Expire(key, 60*time.Second)
		results, err := p.Exec(ctx)
		require.NoError(t, err)
		require.Len(t, results, 4)

		assert.Equal(t, int64(1), results[0], "one member pruned")
		assert.Equal(t, int64(1), results[1], "one member added")
		assert.Equal(t, int64(3), results[2], "cardinality after prune and add")
		assert.Equal(t, int64(1), results[3], "expiry set")
		assert.Equal(t, 60*time.Second, server.TTL(key))

		members, err := server.ZMembers(key)
		require.NoError(t, err)
		assert.Equal(t, []string{"mb", "mc", "md"}, members)
	})
}

func TestStore_EmptyPipeline(t *testing.T) {
	forEachDriver(t, func(t *testing.T, _ *miniredis.Miniredis, s Store) {
		results, err := s.Pipeline().Exec(context.Background())
		require.NoError(t, err)
		assert.Empty(t, results)
	})
}

func TestStore_UnavailableAfterServerStops(t *testing.T) {
	forEachDriver(t, func(t *testing.T, server *miniredis.Miniredis, s Store) {
		ctx := context.Background()
		require.True(t, s.Ping(ctx))

		server.Close()

		_, err := s.Get(ctx, "k")
		require.Error(t, err)
		assert.True(t, IsUnavailable(err))

		var unavailableErr *UnavailableError
		require.True(t, errors.As(err, &unavailableErr))
		assert.Equal(t, "get", unavailableErr.Op)

		p := s.Pipeline()
		p.ZCard("k")
		_, err = p.Exec(ctx)
		assert.ErrorIs(t, err, ErrUnavailable)

		_, err = s.KeysMatching(ctx, "*")
		assert.ErrorIs(t, err, ErrUnavailable)

		assert.False(t, s.Ping(ctx))
	})
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "missing address", cfg: Config{Driver: DriverRedis}, wantErr: "address required"},
		{name: "unknown driver", cfg: Config{Driver: "memcached", Address: "localhost:1"}, wantErr: "unsupported driver"},
		{
			name:    "missing ca file",
			cfg:     Config{Driver: DriverRedis, Address: "localhost:1", TLS: TLSConfig{Enabled: true, CAFile: "/nonexistent/ca.pem"}},
			wantErr: "read ca file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.cfg, zerolog.Nop())
			require.Error(t, err)
			assert.Nil(t, s)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_WithDefaultsClampsTimeouts(t *testing.T) {
	cfg := Config{
		Address:          "localhost:6379",
		ConnectTimeout:   5 * time.Second,
		OperationTimeout: 30 * time.Second,
		HealthInterval:   -1,
	}.withDefaults()

	assert.Equal(t, DriverRedis, cfg.Driver)
	assert.Equal(t, MaxConnectTimeout, cfg.ConnectTimeout)
	assert.Equal(t, MaxOperationTimeout, cfg.OperationTimeout)
	assert.Zero(t, cfg.HealthInterval)
	assert.Equal(t, int64(100), cfg.ScanCount)

	kept := Config{OperationTimeout: 250 * time.Millisecond}.withDefaults()
	assert.Equal(t, 250*time.Millisecond, kept.OperationTimeout)
}

func TestOffline(t *testing.T) {
	ctx := context.Background()
	var s Store = NewOffline()

	assert.False(t, s.Ping(ctx))

	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, s.SetWithTTL(ctx, "k", nil, time.Second), ErrUnavailable)

	_, err = s.Delete(ctx, "k")
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = s.KeysMatching(ctx, "*")
	assert.ErrorIs(t, err, ErrUnavailable)

	p := s.Pipeline()
	p.ZAdd("k", 1, "m")
	_, err = p.Exec(ctx)
	assert.ErrorIs(t, err, ErrUnavailable)

	assert.NoError(t, s.Close())
}
