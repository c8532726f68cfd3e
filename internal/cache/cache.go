// Package cache implements the tier coordination engine: named caches that
// compose an in-process tier, a shared Redis tier, and a caller-supplied
// loader under a distributed single-flight lock, with best-effort
// cross-process invalidation over pub/sub.
package cache

import "context"

// Loader fetches a value from the source of truth on a cache miss. Returning
// (nil, nil) records a confirmed absence: the null sentinel is cached so the
// loader is not re-invoked until the sentinel expires.
type Loader func(ctx context.Context) (interface{}, error)

// Cache is the uniform contract every cache implementation satisfies,
// whether tiered, remote-only, or local-only.
type Cache interface {
	// Name returns the cache name.
	Name() string

	// Get probes the cache. A nil wrapper means the key is absent; a wrapper
	// around nil means a confirmed absence is cached.
	Get(ctx context.Context, key string) (*ValueWrapper, error)

	// GetWithLoader reads through to the loader on a miss. Concurrent calls
	// for the same key are coalesced in-process and across processes.
	GetWithLoader(ctx context.Context, key string, loader Loader) (interface{}, error)

	// Put writes a value through every tier. A nil value stores the null
	// sentinel.
	Put(ctx context.Context, key string, value interface{}) error

	// PutIfAbsent stores the value only when the key has no live entry,
	// returning a wrapper of the existing value otherwise.
	PutIfAbsent(ctx context.Context, key string, value interface{}) (*ValueWrapper, error)

	// Evict removes the key from every tier.
	Evict(ctx context.Context, key string) error

	// EvictIfPresent evicts and reports whether the key existed in any tier.
	EvictIfPresent(ctx context.Context, key string) (bool, error)

	// Clear empties the cache according to its clear mode.
	Clear(ctx context.Context) error

	// Invalidate clears the cache and reports success.
	Invalidate(ctx context.Context) (bool, error)

	// EvictLocal drops a key from the local tier only. Invoked by the
	// message listener; never publishes.
	EvictLocal(key string)

	// ClearLocal empties the local tier only. Invoked by the message
	// listener; never publishes.
	ClearLocal()
}

var (
	_ Cache = (*TieredCache)(nil)
	_ Cache = (*RemoteOnlyCache)(nil)
	_ Cache = (*LocalCache)(nil)

	_ Manager = (*TieredCacheManager)(nil)
	_ Manager = (*RemoteCacheManager)(nil)
	_ Manager = (*LocalCacheManager)(nil)
)
