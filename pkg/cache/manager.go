package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/edgecache/pkg/store"
)

// DefaultNamespace prefixes every cache key.
const DefaultNamespace = "api_cache"

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")

	// ErrNotCacheable indicates the response must not be stored (non-2xx or no TTL)
	ErrNotCacheable = errors.New("response not cacheable")

	// ErrInvalidPattern indicates a malformed invalidation pattern
	ErrInvalidPattern = errors.New("invalid cache pattern")
)

// Config configures a Manager.
type Config struct {
	// Namespace prefixes all keys. Defaults to DefaultNamespace.
	Namespace string
}

// Manager handles response caching on top of the key-value store.
type Manager struct {
	store     store.Store
	namespace string
	logger    zerolog.Logger
}

// NewManager creates a new cache manager.
func NewManager(s store.Store, cfg Config, logger zerolog.Logger) *Manager {
	if s == nil {
		panic("store cannot be nil")
	}
	namespace := strings.Trim(cfg.Namespace, ":")
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Manager{
		store:     s,
		namespace: namespace,
		logger:    logger,
	}
}

// Namespace returns the key namespace.
func (m *Manager) Namespace() string {
	return m.namespace
}

// StoreKey returns the full store key for key.
func (m *Manager) StoreKey(key Key) string {
	return m.namespace + ":" + key.String()
}

// Lookup retrieves a cache entry.
// Returns ErrCacheMiss if the key doesn't exist, the entry cannot be decoded or
// the store is unavailable.
func (m *Manager) Lookup(ctx context.Context, key Key) (*Entry, error) {
	cacheKey := m.StoreKey(key)

	if !m.store.Ping(ctx) {
		return nil, m.degradedMiss("lookup", cacheKey, store.ErrUnavailable)
	}

	data, err := m.store.Get(ctx, cacheKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			CacheMisses.Inc()
			m.logger.Debug().Str("key", cacheKey).Msg("Cache miss")
			return nil, ErrCacheMiss
		}
		return nil, m.degradedMiss("lookup", cacheKey, err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, m.degradedMiss("decode", cacheKey, fmt.Errorf("%w: %v", ErrInvalidEntry, err))
	}
	if entry.StatusCode == 0 {
		return nil, m.degradedMiss("decode", cacheKey, fmt.Errorf("%w: missing status code", ErrInvalidEntry))
	}

	CacheHits.Inc()
	m.logger.Debug().Str("key", cacheKey).Msg("Cache hit")
	return &entry, nil
}

func (m *Manager) degradedMiss(op, cacheKey string, err error) error {
	CacheMisses.Inc()
	CacheErrors.WithLabelValues(op).Inc()
	m.logger.Warn().Err(err).Str("key", cacheKey).Msg("Cache lookup degraded to miss")
	return ErrCacheMiss
}

// Store saves entry under key for ttl.
// Returns ErrNotCacheable for non-2xx entries or a non-positive ttl. Store and
// serialization failures are logged and swallowed: the response is simply not cached.
func (m *Manager) Store(ctx context.Context, key Key, entry *Entry, ttl time.Duration) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}
	if !entry.Cacheable() {
		return fmt.Errorf("%w: status %d", ErrNotCacheable, entry.StatusCode)
	}
	if ttl <= 0 {
		return fmt.Errorf("%w: ttl %s", ErrNotCacheable, ttl)
	}

	cacheKey := m.StoreKey(key)
	if !m.store.Ping(ctx) {
		m.storeFailed(cacheKey, store.ErrUnavailable)
		return nil
	}

	if entry.CachedAt.IsZero() {
		entry.CachedAt = time.Now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		m.storeFailed(cacheKey, fmt.Errorf("marshal cache entry: %w", err))
		return nil
	}

	if err := m.store.SetWithTTL(ctx, cacheKey, data, ttl); err != nil {
		m.storeFailed(cacheKey, err)
		return nil
	}

	StoredBytes.Add(float64(len(data)))
	m.logger.Debug().Str("key", cacheKey).Dur("ttl", ttl).Int("bytes", len(data)).Msg("Cached response")
	return nil
}

func (m *Manager) storeFailed(cacheKey string, err error) {
	CacheErrors.WithLabelValues("store").Inc()
	m.logger.Warn().Err(err).Str("key", cacheKey).Msg("Failed to cache response")
}

// Invalidate deletes every key matching pattern under the namespace and returns
// how many were removed. A pattern without a trailing '*' matches the exact key
// and everything below it ("posts:detail:42" also covers "posts:detail:42:*").
//
// Returns ErrInvalidPattern for a malformed glob. Store failures are logged and
// reported as zero deletions.
func (m *Manager) Invalidate(ctx context.Context, pattern string) (int64, error) {
	patterns, err := m.resolvePattern(pattern)
	if err != nil {
		return 0, err
	}

	if !m.store.Ping(ctx) {
		m.invalidateFailed(pattern, store.ErrUnavailable)
		return 0, nil
	}

	deleted, err := m.deleteMatching(ctx, patterns)
	if err != nil {
		m.invalidateFailed(pattern, err)
		return 0, nil
	}

	if deleted > 0 {
		InvalidatedKeys.Add(float64(deleted))
		m.logger.Info().Str("pattern", pattern).Int64("deleted", deleted).Msg("Invalidated cache entries")
	}
	return deleted, nil
}

func (m *Manager) invalidateFailed(pattern string, err error) {
	CacheErrors.WithLabelValues("invalidate").Inc()
	m.logger.Warn().Err(err).Str("pattern", pattern).Msg("Cache invalidation skipped")
}

func (m *Manager) resolvePattern(pattern string) ([]string, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil, fmt.Errorf("%w: empty pattern", ErrInvalidPattern)
	}
	if err := validateGlob(pattern); err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidPattern, pattern, err)
	}

	full := m.namespace + ":" + pattern
	if strings.HasSuffix(pattern, "*") {
		return []string{full}, nil
	}
	return []string{full, full + ":*"}, nil
}

func (m *Manager) deleteMatching(ctx context.Context, patterns []string) (int64, error) {
	seen := make(map[string]struct{})
	var keys []string
	for _, p := range patterns {
		matched, err := m.store.KeysMatching(ctx, p)
		if err != nil {
			return 0, err
		}
		for _, k := range matched {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return 0, nil
	}
	return m.store.Delete(ctx, keys...)
}

// Stats summarizes the cache contents.
type Stats struct {
	Namespace string         `json:"namespace"`
	TotalKeys int            `json:"total_keys"`
	Families  map[string]int `json:"families"`
}

// Stats counts cached entries per resource family.
// Unlike the request path, Stats reports an unavailable store as an error.
func (m *Manager) Stats(ctx context.Context) (*Stats, error) {
	if !m.store.Ping(ctx) {
		return nil, fmt.Errorf("cache stats: %w", store.ErrUnavailable)
	}

	keys, err := m.store.KeysMatching(ctx, m.namespace+":*")
	if err != nil {
		return nil, fmt.Errorf("cache stats: %w", err)
	}

	stats := &Stats{
		Namespace: m.namespace,
		TotalKeys: len(keys),
		Families:  make(map[string]int),
	}
	prefix := m.namespace + ":"
	for _, k := range keys {
		family, _, _ := strings.Cut(strings.TrimPrefix(k, prefix), ":")
		stats.Families[family]++
	}
	return stats, nil
}

// FamilyNames returns the family names in s, sorted.
func (s *Stats) FamilyNames() []string {
	names := make([]string, 0, len(s.Families))
	for name := range s.Families {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clear removes entries matching pattern, or everything under the namespace when
// pattern is empty. Unlike Invalidate, an unavailable store is reported.
func (m *Manager) Clear(ctx context.Context, pattern string) (int64, error) {
	if pattern == "" {
		pattern = "*"
	}
	patterns, err := m.resolvePattern(pattern)
	if err != nil {
		return 0, err
	}
	if !m.store.Ping(ctx) {
		return 0, fmt.Errorf("cache clear: %w", store.ErrUnavailable)
	}

	deleted, err := m.deleteMatching(ctx, patterns)
	if err != nil {
		return 0, fmt.Errorf("cache clear: %w", err)
	}
	InvalidatedKeys.Add(float64(deleted))
	m.logger.Info().Str("pattern", pattern).Int64("deleted", deleted).Msg("Cache cleared")
	return deleted, nil
}

// validateGlob checks the store's glob syntax: '*', '?', '[...]' classes and
// backslash escapes.
func validateGlob(pattern string) error {
	for i := 0; i < len(pattern); i++ {
		switch pattern[i] {
		case '\\':
			if i+1 >= len(pattern) {
				return errors.New("trailing backslash")
			}
			i++
		case '[':
			j := i + 1
			if j < len(pattern) && pattern[j] == '^' {
				j++
			}
			closed := false
			for ; j < len(pattern); j++ {
				if pattern[j] == '\\' {
					j++
					continue
				}
				if pattern[j] == ']' {
					closed = true
					break
				}
			}
			if !closed {
				return errors.New("unterminated character class")
			}
			i = j
		}
	}
	return nil
}
