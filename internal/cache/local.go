package cache

import (
	"context"
	"sync"

	"tiered-cache/internal/common/errors"
	"tiered-cache/internal/localstore"
)

// LocalCache is the in-process-only rendition of the Cache contract: no
// Redis, no invalidation messages. Useful for single-instance deployments
// and tests.
type LocalCache struct {
	name  string
	store *localstore.Store
}

// NewLocalCache builds a local-only cache with the given bound and write TTL.
func NewLocalCache(name string, strategy Strategy) *LocalCache {
	return &LocalCache{
		name:  name,
		store: localstore.New(strategy.LocalMaxSize, strategy.LocalTTL),
	}
}

func (c *LocalCache) Name() string {
	return c.name
}

func (c *LocalCache) Get(_ context.Context, key string) (*ValueWrapper, error) {
	token, found := c.store.Get(key)
	if !found {
		return nil, nil
	}
	return wrapToken(token), nil
}

func (c *LocalCache) GetWithLoader(ctx context.Context, key string, loader Loader) (interface{}, error) {
	token, err := c.store.Compute(key, func() (interface{}, error) {
		result, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		return tokenFor(result), nil
	})
	if err != nil {
		return nil, errors.ValueRetrievalError(key, err)
	}
	return unwrapNull(token), nil
}

func (c *LocalCache) Put(_ context.Context, key string, value interface{}) error {
	c.store.Set(key, tokenFor(value))
	return nil
}

// PutIfAbsent is get-then-set: callers needing a hard compare-and-set use
// the tiered cache, where L2 arbitrates.
func (c *LocalCache) PutIfAbsent(_ context.Context, key string, value interface{}) (*ValueWrapper, error) {
	if existing, found := c.store.Get(key); found {
		return wrapToken(existing), nil
	}
	c.store.Set(key, tokenFor(value))
	return nil, nil
}

func (c *LocalCache) Evict(_ context.Context, key string) error {
	c.store.Delete(key)
	return nil
}

func (c *LocalCache) EvictIfPresent(_ context.Context, key string) (bool, error) {
	_, found := c.store.Get(key)
	if !found {
		return false, nil
	}
	c.store.Delete(key)
	return true, nil
}

func (c *LocalCache) Clear(_ context.Context) error {
	c.store.Clear()
	return nil
}

func (c *LocalCache) Invalidate(ctx context.Context) (bool, error) {
	return true, c.Clear(ctx)
}

func (c *LocalCache) EvictLocal(key string) {
	c.store.Delete(key)
}

func (c *LocalCache) ClearLocal() {
	c.store.Clear()
}

// LocalStats returns the store counters.
func (c *LocalCache) LocalStats() localstore.Stats {
	return c.store.Stats()
}

// LocalCacheManager hands out local-only caches. Always dynamic.
type LocalCacheManager struct {
	props  *Properties
	mu     sync.RWMutex
	caches map[string]*LocalCache
}

// NewLocalCacheManager builds the local-only manager.
func NewLocalCacheManager(props *Properties) *LocalCacheManager {
	return &LocalCacheManager{
		props:  props,
		caches: make(map[string]*LocalCache),
	}
}

func (m *LocalCacheManager) GetCache(name string) Cache {
	m.mu.RLock()
	cache := m.caches[name]
	m.mu.RUnlock()
	if cache != nil {
		return cache
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cache := m.caches[name]; cache != nil {
		return cache
	}
	cache = NewLocalCache(name, m.props.EffectiveStrategy(name))
	m.caches[name] = cache
	return cache
}

func (m *LocalCacheManager) CacheNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.caches))
	for name := range m.caches {
		names = append(names, name)
	}
	return names
}
