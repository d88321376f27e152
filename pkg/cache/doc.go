// Package cache provides a shared response cache on top of the key-value store.
//
// The cache manager stores and replays successful HTTP responses with the following
// properties:
//
// - Deterministic keys: reordered query parameters map to the same key
// - Per-caller isolation: authenticated callers never see each other's entries
// - Byte-identical replay of the body written at store time
// - Only 2xx responses are ever stored
// - Pattern invalidation scoped to a resource family or a single resource
// - Transparent degradation: an unreachable store behaves like an empty cache
//
// # Basic Usage
//
//	s, err := store.New(store.DefaultConfig(), logger)
//	manager := cache.NewManager(s, cache.Config{}, logger)
//
//	key := cache.Key{
//		Scope:  "posts:detail:42",
//		Caller: "7",
//		Path:   "/api/v1/posts/42",
//		Query:  url.Values{"fields": []string{"title"}},
//	}
//
//	entry, err := manager.Lookup(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// compute the response, then
//		_ = manager.Store(ctx, key, cache.NewEntry(200, header, body), 10*time.Minute)
//	}
//
// # Key Layout
//
//	{namespace}:{scope}:{u.<caller>|anon}:{path}:{normalized query}
//
// where scope is "{family}:list" or "{family}:detail:{id}". Invalidate resolves
// patterns such as "posts:list:*" or "posts:detail:42" under the namespace. A
// pattern without a trailing wildcard also covers every key below it, so
// "posts:detail:42" removes all cached variants of post 42 and nothing else.
//
// # Metrics
//
//   - edgecache_cache_hits_total - Cache hits
//   - edgecache_cache_misses_total - Cache misses (absent, undecodable or store down)
//   - edgecache_cache_stored_bytes_total - Bytes written to the store
//   - edgecache_cache_errors_total{operation} - Degraded cache operations
//   - edgecache_cache_invalidated_keys_total - Keys removed by invalidation
//
// # Concurrency
//
// Population is not synchronized. Two concurrent misses for the same key both
// compute the response and both store it; the last writer wins.
package cache
