package testutil

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/edgecache/pkg/store"
)

// NewMiniredisStore starts an in-memory Redis and returns a store connected to it.
// Both are closed when the test ends. The health probe is not memoized so tests
// observe a stopped server immediately.
func NewMiniredisStore(tb testing.TB) (*miniredis.Miniredis, *store.RedisStore) {
	tb.Helper()

	server, err := miniredis.Run()
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			tb.Skip("miniredis unavailable in sandbox")
		}
		tb.Fatalf("miniredis: %v", err)
	}
	tb.Cleanup(server.Close)

	s, err := store.NewRedis(store.Config{
		Driver:         store.DriverRedis,
		Address:        server.Addr(),
		HealthInterval: 0,
	}, zerolog.Nop())
	if err != nil {
		tb.Fatalf("store: %v", err)
	}
	tb.Cleanup(func() { _ = s.Close() })

	return server, s
}

// SwitchableStore wraps a store and can simulate an outage on demand.
type SwitchableStore struct {
	store.Store
	down atomic.Bool
}

// NewSwitchableStore wraps s. The store starts healthy.
func NewSwitchableStore(s store.Store) *SwitchableStore {
	return &SwitchableStore{Store: s}
}

// SetDown toggles the simulated outage.
func (s *SwitchableStore) SetDown(down bool) {
	s.down.Store(down)
}

func (s *SwitchableStore) outage(op string) error {
	return &store.UnavailableError{Op: op, Err: context.DeadlineExceeded}
}

func (s *SwitchableStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s.down.Load() {
		return nil, s.outage("get")
	}
	return s.Store.Get(ctx, key)
}

func (s *SwitchableStore) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if s.down.Load() {
		return s.outage("set")
	}
	return s.Store.SetWithTTL(ctx, key, value, ttl)
}

func (s *SwitchableStore) Delete(ctx context.Context, keys ...string) (int64, error) {
	if s.down.Load() {
		return 0, s.outage("delete")
	}
	return s.Store.Delete(ctx, keys...)
}

func (s *SwitchableStore) KeysMatching(ctx context.Context, pattern string) ([]string, error) {
	if s.down.Load() {
		return nil, s.outage("scan")
	}
	return s.Store.KeysMatching(ctx, pattern)
}

func (s *SwitchableStore) Pipeline() store.Pipeline {
	if s.down.Load() {
		return store.NewOffline().Pipeline()
	}
	return s.Store.Pipeline()
}

func (s *SwitchableStore) Ping(ctx context.Context) bool {
	if s.down.Load() {
		return false
	}
	return s.Store.Ping(ctx)
}
