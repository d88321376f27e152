package store

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	valkey "github.com/valkey-io/valkey-go"
)

// ValkeyStore implements Store on top of valkey-go.
type ValkeyStore struct {
	client valkey.Client
	cfg    Config
	health *healthGate
	logger zerolog.Logger
}

// NewValkey creates a Valkey-backed store. Unlike go-redis, valkey-go dials on
// construction, so an unreachable server is reported here.
func NewValkey(cfg Config, logger zerolog.Logger) (*ValkeyStore, error) {
	cfg = cfg.withDefaults()
	if cfg.Address == "" {
		return nil, errors.New("store: valkey address required")
	}

	tlsConfig, err := buildTLSConfig(cfg.TLS)
	if err != nil {
		return nil, err
	}

	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:       []string{cfg.Address},
		Username:          cfg.Username,
		Password:          cfg.Password,
		SelectDB:          cfg.DB,
		TLSConfig:         tlsConfig,
		Dialer:            net.Dialer{Timeout: cfg.ConnectTimeout},
		ConnWriteTimeout:  cfg.OperationTimeout,
		AlwaysRESP2:       true,
		ForceSingleClient: true,
		DisableCache:      true,
		DisableRetry:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("store: valkey client: %w", err)
	}

	s := &ValkeyStore{
		client: client,
		cfg:    cfg,
		logger: logger.With().Str("driver", DriverValkey).Logger(),
	}
	s.health = newHealthGate(cfg.HealthInterval, func(ctx context.Context) error {
		ctx, cancel := withTimeout(ctx, cfg.OperationTimeout)
		defer cancel()
		return client.Do(ctx, client.B().Ping().Build()).Error()
	})
	return s, nil
}

// Get returns the value stored at key.
func (s *ValkeyStore) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := withTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	resp := s.client.Do(ctx, s.client.B().Get().Key(key).Build())
	if err := resp.Error(); err != nil {
		if errors.Is(err, valkey.Nil) {
			observe(DriverValkey, "get", ErrNotFound)
			return nil, ErrNotFound
		}
		return nil, s.fail("get", err)
	}
	data, err := resp.AsBytes()
	if err != nil {
		return nil, s.fail("get", err)
	}
	observe(DriverValkey, "get", nil)
	return data, nil
}

// SetWithTTL stores value at key with millisecond expiry.
func (s *ValkeyStore) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("store: ttl must be positive (got %s)", ttl)
	}
	ctx, cancel := withTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	cmd := s.client.B().Set().Key(key).Value(string(value)).Px(ttl).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return s.fail("set", err)
	}
	observe(DriverValkey, "set", nil)
	return nil
}

// Delete removes keys in a single DEL.
func (s *ValkeyStore) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	ctx, cancel := withTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	deleted, err := s.client.Do(ctx, s.client.B().Del().Key(keys...).Build()).AsInt64()
	if err != nil {
		return 0, s.fail("delete", err)
	}
	observe(DriverValkey, "delete", nil)
	return deleted, nil
}

// KeysMatching walks the keyspace with SCAN MATCH.
func (s *ValkeyStore) KeysMatching(ctx context.Context, pattern string) ([]string, error) {
	ctx, cancel := withTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	seen := make(map[string]struct{})
	keys := []string{}
	var cursor uint64
	for {
		cmd := s.client.B().Scan().Cursor(cursor).Match(pattern).Count(s.cfg.ScanCount).Build()
		entry, err := s.client.Do(ctx, cmd).AsScanEntry()
		if err != nil {
			return nil, s.fail("scan", err)
		}
		for _, key := range entry.Elements {
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
		cursor = entry.Cursor
		if cursor == 0 {
			break
		}
	}
	observe(DriverValkey, "scan", nil)
	return keys, nil
}

// Pipeline starts a batched sorted-set pipeline submitted with DoMulti.
func (s *ValkeyStore) Pipeline() Pipeline {
	return &valkeyPipeline{store: s}
}

// Ping runs the memoized liveness probe.
func (s *ValkeyStore) Ping(ctx context.Context) bool {
	return s.health.check(ctx)
}

// Close closes the client.
func (s *ValkeyStore) Close() error {
	s.client.Close()
	return nil
}

func (s *ValkeyStore) fail(op string, err error) error {
	observe(DriverValkey, op, err)
	s.health.markDown()
	s.logger.Debug().Err(err).Str("operation", op).Msg("Store operation failed")
	return unavailable(op, err)
}

type valkeyPipeline struct {
	store *ValkeyStore
	cmds  valkey.Commands
}

func (p *valkeyPipeline) ZRemRangeByScore(key string, min, max float64) {
	b := p.store.client.B()
	p.cmds = append(p.cmds, b.Zremrangebyscore().Key(key).Min(formatScore(min)).Max(formatScore(max)).Build())
}

func (p *valkeyPipeline) ZAdd(key string, score float64, member string) {
	b := p.store.client.B()
	p.cmds = append(p.cmds, b.Zadd().Key(key).ScoreMember().ScoreMember(score, member).Build())
}

func (p *valkeyPipeline) ZCard(key string) {
	b := p.store.client.B()
	p.cmds = append(p.cmds, b.Zcard().Key(key).Build())
}

func (p *valkeyPipeline) Expire(key string, ttl time.Duration) {
	b := p.store.client.B()
	seconds := int64(ttl / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	p.cmds = append(p.cmds, b.Expire().Key(key).Seconds(seconds).Build())
}

func (p *valkeyPipeline) Exec(ctx context.Context) ([]int64, error) {
	if len(p.cmds) == 0 {
		return nil, nil
	}
	ctx, cancel := withTimeout(ctx, p.store.cfg.OperationTimeout)
	defer cancel()

	replies := p.store.client.DoMulti(ctx, p.cmds...)
	results := make([]int64, len(replies))
	for i, reply := range replies {
		n, err := reply.AsInt64()
		if err != nil {
			return nil, p.store.fail("pipeline", err)
		}
		results[i] = n
	}
	observe(DriverValkey, "pipeline", nil)
	return results, nil
}
