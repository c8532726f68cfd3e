package cache

import (
	"context"
	"sync"
	"time"

	"tiered-cache/internal/common/errors"
	"tiered-cache/internal/common/logging"
	"tiered-cache/internal/redis"
)

// RemoteOnlyCache is the Redis-only rendition of the Cache contract: every
// read and write goes straight to L2. There is no local tier, so no
// invalidation messages are published and the local-only operations are
// no-ops. Loader calls still run under the distributed lock.
type RemoteOnlyCache struct {
	name     string
	remote   *RemoteCache
	client   *redis.Client
	props    *Properties
	strategy Strategy
	logger   logging.Logger
}

// NewRemoteOnlyCache builds a remote-only cache for one name.
func NewRemoteOnlyCache(name string, client *redis.Client, props *Properties, codec Codec) *RemoteOnlyCache {
	return &RemoteOnlyCache{
		name:     name,
		remote:   NewRemoteCache(name, client, codec),
		client:   client,
		props:    props,
		strategy: props.EffectiveStrategy(name),
		logger:   logging.GetGlobalLogger().WithFields(logging.Field{Key: "cache", Value: name}),
	}
}

func (c *RemoteOnlyCache) Name() string {
	return c.name
}

func (c *RemoteOnlyCache) Get(ctx context.Context, key string) (*ValueWrapper, error) {
	token, found, err := c.remote.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return wrapToken(token), nil
}

func (c *RemoteOnlyCache) GetWithLoader(ctx context.Context, key string, loader Loader) (interface{}, error) {
	token, found, err := c.remote.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if found {
		return unwrapNull(token), nil
	}

	lockKey := c.props.CachePrefix + lockPrefix + c.name + ":" + key
	lock := c.client.NewLock(lockKey)
	acquired, err := lock.TryLock(ctx, c.props.Remote.LockWaitTime)
	if err != nil {
		return nil, errors.ValueRetrievalError(key, err)
	}

	if !acquired {
		token, found, err := c.remote.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if found {
			return unwrapNull(token), nil
		}
		if c.strategy.FallbackStrategy == FallbackThrow {
			return nil, errors.LockAcquireError("too many concurrent requests, please try again later")
		}
		return c.loadAndStore(ctx, key, loader)
	}
	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lock.Unlock(unlockCtx); err != nil {
			c.logger.Warn("Failed to release lock", logging.Field{Key: "key", Value: key}, logging.Field{Key: "error", Value: err.Error()})
		}
	}()

	token, found, err = c.remote.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if found {
		return unwrapNull(token), nil
	}
	return c.loadAndStore(ctx, key, loader)
}

func (c *RemoteOnlyCache) loadAndStore(ctx context.Context, key string, loader Loader) (interface{}, error) {
	result, err := loader(ctx)
	if err != nil {
		return nil, errors.ValueRetrievalError(key, err)
	}
	token := tokenFor(result)
	if err := c.remote.Put(ctx, key, token, c.remoteTTL(token)); err != nil {
		return nil, err
	}
	return unwrapNull(token), nil
}

func (c *RemoteOnlyCache) Put(ctx context.Context, key string, value interface{}) error {
	token := tokenFor(value)
	return c.remote.Put(ctx, key, token, c.remoteTTL(token))
}

func (c *RemoteOnlyCache) PutIfAbsent(ctx context.Context, key string, value interface{}) (*ValueWrapper, error) {
	token := tokenFor(value)
	existing, found, err := c.remote.PutIfAbsent(ctx, key, token, c.remoteTTL(token))
	if err != nil {
		return nil, err
	}
	if found {
		return wrapToken(existing), nil
	}
	return nil, nil
}

func (c *RemoteOnlyCache) Evict(ctx context.Context, key string) error {
	return c.remote.Evict(ctx, key)
}

func (c *RemoteOnlyCache) EvictIfPresent(ctx context.Context, key string) (bool, error) {
	_, found, err := c.remote.Get(ctx, key)
	if err != nil || !found {
		return false, err
	}
	if err := c.remote.Evict(ctx, key); err != nil {
		return false, err
	}
	return true, nil
}

func (c *RemoteOnlyCache) Clear(ctx context.Context) error {
	return c.remote.Clear(ctx)
}

func (c *RemoteOnlyCache) Invalidate(ctx context.Context) (bool, error) {
	if err := c.Clear(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// EvictLocal is a no-op: there is no local tier.
func (c *RemoteOnlyCache) EvictLocal(string) {}

// ClearLocal is a no-op: there is no local tier.
func (c *RemoteOnlyCache) ClearLocal() {}

func (c *RemoteOnlyCache) remoteTTL(token interface{}) time.Duration {
	if isNullToken(token) {
		return c.props.Remote.NullValueTTL
	}
	return RandomizeTTL(c.strategy.RemoteTTL, c.props.Remote.TTLRandomFactor)
}

// RemoteCacheManager hands out remote-only caches. Always dynamic.
type RemoteCacheManager struct {
	client *redis.Client
	props  *Properties
	codec  Codec
	mu     sync.RWMutex
	caches map[string]*RemoteOnlyCache
}

// NewRemoteCacheManager builds the remote-only manager.
func NewRemoteCacheManager(client *redis.Client, props *Properties, codec Codec) *RemoteCacheManager {
	if codec == nil {
		codec = JSONCodec{}
	}
	return &RemoteCacheManager{
		client: client,
		props:  props,
		codec:  codec,
		caches: make(map[string]*RemoteOnlyCache),
	}
}

func (m *RemoteCacheManager) GetCache(name string) Cache {
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
	cache = NewRemoteOnlyCache(name, m.client, m.props, m.codec)
	m.caches[name] = cache
	return cache
}

func (m *RemoteCacheManager) CacheNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.caches))
	for name := range m.caches {
		names = append(names, name)
	}
	return names
}
