// Package store adapts a network key-value store (Redis or Valkey) to the small
// capability surface the rate limiter and response cache need: plain values with
// expiry, pattern scans, batched sorted-set operations and a liveness probe.
//
// Every failure talking to the store is reported as an *UnavailableError so the
// callers can degrade (fail open, treat as cache miss) instead of failing requests.
package store

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Supported drivers.
const (
	DriverRedis  = "redis"
	DriverValkey = "valkey"
)

// Timeout ceilings. A dead store must never stall the request path for longer.
const (
	MaxConnectTimeout   = 1 * time.Second
	MaxOperationTimeout = 1 * time.Second
)

// Store is the key-value capability used by the rate limiter and response cache.
type Store interface {
	// Get returns the value stored at key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// SetWithTTL stores value at key, expiring after ttl.
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes keys and returns how many existed.
	Delete(ctx context.Context, keys ...string) (int64, error)

	// KeysMatching returns every key matching the glob pattern.
	KeysMatching(ctx context.Context, pattern string) ([]string, error)

	// Pipeline starts a batch that is submitted in a single round trip.
	Pipeline() Pipeline

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) bool

	// Close releases the underlying connections.
	Close() error
}

// Pipeline queues sorted-set commands and submits them together on Exec.
// Submission is all-or-nothing from the client's point of view, but the store
// does not execute the batch atomically.
type Pipeline interface {
	ZRemRangeByScore(key string, min, max float64)
	ZAdd(key string, score float64, member string)
	ZCard(key string)
	Expire(key string, ttl time.Duration)

	// Exec submits the queued commands and returns their integer replies in order.
	Exec(ctx context.Context) ([]int64, error)
}

// TLSConfig enables TLS towards the store.
type TLSConfig struct {
	Enabled bool
	CAFile  string
}

// Config holds store connection settings.
type Config struct {
	// Driver selects the client implementation ("redis" or "valkey").
	Driver string

	Address  string
	Username string
	Password string
	DB       int
	TLS      TLSConfig

	// ConnectTimeout bounds dialing a new connection.
	ConnectTimeout time.Duration

	// OperationTimeout bounds every individual store call.
	OperationTimeout time.Duration

	// HealthInterval is how long a liveness probe result is reused.
	HealthInterval time.Duration

	// ScanCount is the COUNT hint for SCAN iterations.
	ScanCount int64
}

// DefaultConfig returns settings for a local Redis.
func DefaultConfig() Config {
	return Config{
		Driver:           DriverRedis,
		Address:          "localhost:6379",
		ConnectTimeout:   1 * time.Second,
		OperationTimeout: 1 * time.Second,
		HealthInterval:   1 * time.Second,
		ScanCount:        100,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Driver == "" {
		c.Driver = def.Driver
	}
	if c.ConnectTimeout <= 0 || c.ConnectTimeout > MaxConnectTimeout {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.OperationTimeout <= 0 || c.OperationTimeout > MaxOperationTimeout {
		c.OperationTimeout = def.OperationTimeout
	}
	if c.HealthInterval < 0 {
		c.HealthInterval = 0
	}
	if c.ScanCount <= 0 {
		c.ScanCount = def.ScanCount
	}
	return c
}

// New constructs the store selected by cfg.Driver.
func New(cfg Config, logger zerolog.Logger) (Store, error) {
	cfg = cfg.withDefaults()
	if cfg.Address == "" {
		return nil, fmt.Errorf("store: address required")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case DriverRedis:
		s, err := NewRedis(cfg, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverValkey:
		s, err := NewValkey(cfg, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", cfg.Driver)
	}
}

func buildTLSConfig(cfg TLSConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if cfg.CAFile != "" {
		caData, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("store: read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caData) {
			return nil, fmt.Errorf("store: ca file %s contains no certificates", cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}
	return tlsConfig, nil
}

// withTimeout derives the per-call context.
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, timeout)
}
