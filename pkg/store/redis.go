package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisStore implements Store on top of go-redis.
type RedisStore struct {
	client *redis.Client
	cfg    Config
	health *healthGate
	logger zerolog.Logger
}

// NewRedis creates a Redis-backed store. It does not dial eagerly: an unreachable
// Redis at startup only shows up as a failing liveness probe.
func NewRedis(cfg Config, logger zerolog.Logger) (*RedisStore, error) {
	cfg = cfg.withDefaults()
	if cfg.Address == "" {
		return nil, fmt.Errorf("store: redis address required")
	}

	tlsConfig, err := buildTLSConfig(cfg.TLS)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		TLSConfig:    tlsConfig,
		DialTimeout:  cfg.ConnectTimeout,
		ReadTimeout:  cfg.OperationTimeout,
		WriteTimeout: cfg.OperationTimeout,
		MaxRetries:   -1, // failed calls are resolved by the caller, never retried
	})

	return NewRedisFromClient(client, cfg, logger), nil
}

// NewRedisFromClient wraps an existing go-redis client.
func NewRedisFromClient(client *redis.Client, cfg Config, logger zerolog.Logger) *RedisStore {
	if client == nil {
		panic("redis client cannot be nil")
	}
	cfg = cfg.withDefaults()
	s := &RedisStore{
		client: client,
		cfg:    cfg,
		logger: logger.With().Str("driver", DriverRedis).Logger(),
	}
	s.health = newHealthGate(cfg.HealthInterval, func(ctx context.Context) error {
		ctx, cancel := withTimeout(ctx, cfg.OperationTimeout)
		defer cancel()
		return client.Ping(ctx).Err()
	})
	return s
}

// Get returns the value stored at key.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := withTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			observe(DriverRedis, "get", ErrNotFound)
			return nil, ErrNotFound
		}
		return nil, s.fail("get", err)
	}
	observe(DriverRedis, "get", nil)
	return data, nil
}

// SetWithTTL stores value at key with expiry.
func (s *RedisStore) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("store: ttl must be positive (got %s)", ttl)
	}
	ctx, cancel := withTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return s.fail("set", err)
	}
	observe(DriverRedis, "set", nil)
	return nil
}

// Delete removes keys in a single DEL.
func (s *RedisStore) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	ctx, cancel := withTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	deleted, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, s.fail("delete", err)
	}
	observe(DriverRedis, "delete", nil)
	return deleted, nil
}

// KeysMatching walks the keyspace with SCAN MATCH.
func (s *RedisStore) KeysMatching(ctx context.Context, pattern string) ([]string, error) {
	ctx, cancel := withTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	seen := make(map[string]struct{})
	keys := []string{}
	var cursor uint64
	for {
		batch, next, err := s.client.Scan(ctx, cursor, pattern, s.cfg.ScanCount).Result()
		if err != nil {
			return nil, s.fail("scan", err)
		}
		for _, key := range batch {
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	observe(DriverRedis, "scan", nil)
	return keys, nil
}

// Pipeline starts a batched sorted-set pipeline.
func (s *RedisStore) Pipeline() Pipeline {
	return &redisPipeline{store: s}
}

// Ping runs the memoized liveness probe.
func (s *RedisStore) Ping(ctx context.Context) bool {
	return s.health.check(ctx)
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) fail(op string, err error) error {
	observe(DriverRedis, op, err)
	s.health.markDown()
	s.logger.Debug().Err(err).Str("operation", op).Msg("Store operation failed")
	return unavailable(op, err)
}

type redisPipeline struct {
	store *RedisStore
	ops   []func(ctx context.Context, pipe redis.Pipeliner)
}

func (p *redisPipeline) ZRemRangeByScore(key string, min, max float64) {
	p.ops = append(p.ops, func(ctx context.Context, pipe redis.Pipeliner) {
		pipe.ZRemRangeByScore(ctx, key, formatScore(min), formatScore(max))
	})
}

func (p *redisPipeline) ZAdd(key string, score float64, member string) {
	p.ops = append(p.ops, func(ctx context.Context, pipe redis.Pipeliner) {
		pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: member})
	})
}

func (p *redisPipeline) ZCard(key string) {
	p.ops = append(p.ops, func(ctx context.Context, pipe redis.Pipeliner) {
		pipe.ZCard(ctx, key)
	})
}

func (p *redisPipeline) Expire(key string, ttl time.Duration) {
	p.ops = append(p.ops, func(ctx context.Context, pipe redis.Pipeliner) {
		pipe.Expire(ctx, key, ttl)
	})
}

func (p *redisPipeline) Exec(ctx context.Context) ([]int64, error) {
	if len(p.ops) == 0 {
		return nil, nil
	}
	ctx, cancel := withTimeout(ctx, p.store.cfg.OperationTimeout)
	defer cancel()

	cmds, err := p.store.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, op := range p.ops {
			op(ctx, pipe)
		}
		return nil
	})
	if err != nil {
		return nil, p.store.fail("pipeline", err)
	}

	results := make([]int64, len(cmds))
	for i, cmd := range cmds {
		switch c := cmd.(type) {
		case *redis.IntCmd:
			results[i] = c.Val()
		case *redis.BoolCmd:
			if c.Val() {
				results[i] = 1
			}
		}
	}
	observe(DriverRedis, "pipeline", nil)
	return results, nil
}

func formatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', -1, 64)
}
