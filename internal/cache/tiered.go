package cache

import (
	"context"
	"encoding/json"
	"time"

	"tiered-cache/internal/common/errors"
	"tiered-cache/internal/common/logging"
	"tiered-cache/internal/localstore"
	"tiered-cache/internal/redis"
)

const lockPrefix = "lock:"

// TieredCache composes the in-process tier (L1) and the shared Redis tier
// (L2) for one cache name. Reads fall through L1 → L2 → loader; writes go to
// L2 first so a failure there never leaves L1 ahead of L2, then to L1, then
// peers are told to drop their stale L1 entries.
type TieredCache struct {
	name      string
	local     *localstore.Store
	remote    *RemoteCache
	publisher *MessagePublisher
	client    *redis.Client
	props     *Properties
	strategy  Strategy
	logger    logging.Logger
}

// NewTieredCache builds one named cache from its resolved strategy.
func NewTieredCache(name string, local *localstore.Store, remote *RemoteCache,
	publisher *MessagePublisher, client *redis.Client, props *Properties) *TieredCache {

	strategy := props.EffectiveStrategy(name)
	logger := logging.GetGlobalLogger().WithFields(logging.Field{Key: "cache", Value: name})
	logger.Info("Creating tiered cache",
		logging.Field{Key: "fallback", Value: string(strategy.FallbackStrategy)},
		logging.Field{Key: "clear_mode", Value: string(strategy.ClearMode)},
		logging.Field{Key: "local_ttl", Value: strategy.LocalTTL},
		logging.Field{Key: "remote_ttl", Value: strategy.RemoteTTL},
		logging.Field{Key: "null_value_ttl", Value: props.Remote.NullValueTTL})

	return &TieredCache{
		name:      name,
		local:     local,
		remote:    remote,
		publisher: publisher,
		client:    client,
		props:     props,
		strategy:  strategy,
		logger:    logger,
	}
}

// Name returns the cache name.
func (c *TieredCache) Name() string {
	return c.name
}

// Strategy returns the resolved policy for this cache.
func (c *TieredCache) Strategy() Strategy {
	return c.strategy
}

// Get probes L1 then L2. An L2 hit back-fills L1 with the raw stored token,
// sentinel included, so the absence stays cached locally too.
func (c *TieredCache) Get(ctx context.Context, key string) (*ValueWrapper, error) {
	if token, found := c.local.Get(key); found {
		c.logger.Debug("L1 hit", logging.Field{Key: "key", Value: key})
		return wrapToken(token), nil
	}

	token, found, err := c.remote.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if found {
		c.logger.Debug("L2 hit", logging.Field{Key: "key", Value: key})
		c.local.Set(key, token)
		return wrapToken(token), nil
	}

	c.logger.Debug("Cache miss", logging.Field{Key: "key", Value: key})
	return nil, nil
}

// GetInto reads the cached value for key and decodes it into dest, which
// must be a pointer. It returns false when the key is absent and true with
// dest untouched when the cached entry is the null sentinel. A value that
// cannot be decoded into dest surfaces as a type mismatch error.
func (c *TieredCache) GetInto(ctx context.Context, key string, dest interface{}) (bool, error) {
	wrapper, err := c.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if wrapper == nil {
		return false, nil
	}
	value := wrapper.Get()
	if value == nil {
		return true, nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return true, errors.TypeMismatchError(key, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return true, errors.TypeMismatchError(key, err)
	}
	return true, nil
}

// GetWithLoader reads through to the loader. In-process callers coalesce on
// the L1 compute primitive; across processes at most one holder of the
// distributed lock runs the loader.
func (c *TieredCache) GetWithLoader(ctx context.Context, key string, loader Loader) (interface{}, error) {
	token, err := c.local.Compute(key, func() (interface{}, error) {
		t, found, err := c.remote.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if found {
			c.logger.Debug("L2 hit", logging.Field{Key: "key", Value: key})
			return t, nil
		}
		c.logger.Debug("L1/L2 miss, loading value", logging.Field{Key: "key", Value: key})
		return c.loadWithLock(ctx, key, loader)
	})
	if err != nil {
		if errors.IsLockAcquire(err) || errors.IsValueRetrieval(err) {
			return nil, err
		}
		return nil, errors.ValueRetrievalError(key, err)
	}
	return unwrapNull(token), nil
}

// loadWithLock runs the loader under the distributed per-key lock and
// returns the stored token (the loaded value, or the sentinel for nil).
func (c *TieredCache) loadWithLock(ctx context.Context, key string, loader Loader) (interface{}, error) {
	lockKey := c.props.CachePrefix + lockPrefix + c.name + ":" + key
	lock := c.client.NewLock(lockKey)

	acquired, err := lock.TryLock(ctx, c.props.Remote.LockWaitTime)
	if err != nil {
		return nil, errors.ValueRetrievalError(key, err)
	}
	if !acquired {
		return c.handleLockFailure(ctx, key, loader)
	}
	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lock.Unlock(unlockCtx); err != nil {
			c.logger.Warn("Failed to release lock", logging.Field{Key: "key", Value: key}, logging.Field{Key: "error", Value: err.Error()})
		}
	}()

	// another worker may have filled L2 while we waited for the lock
	token, found, err := c.remote.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if found {
		c.logger.Debug("L2 hit after lock acquired", logging.Field{Key: "key", Value: key})
		return token, nil
	}

	c.logger.Debug("Loading value", logging.Field{Key: "key", Value: key})
	result, err := loader(ctx)
	if err != nil {
		return nil, errors.ValueRetrievalError(key, err)
	}
	token = tokenFor(result)
	if err := c.putRemote(ctx, key, token); err != nil {
		return nil, err
	}
	return token, nil
}

// handleLockFailure is the lock-timeout path: one last L2 read, then either
// surface the pressure or fall back to the loader.
func (c *TieredCache) handleLockFailure(ctx context.Context, key string, loader Loader) (interface{}, error) {
	token, found, err := c.remote.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if found {
		return token, nil
	}

	if c.strategy.FallbackStrategy == FallbackThrow {
		c.logger.Warn("Lock acquisition failed, throwing", logging.Field{Key: "key", Value: key})
		return nil, errors.LockAcquireError("too many concurrent requests, please try again later")
	}

	c.logger.Warn("Lock acquisition failed, falling back to data source", logging.Field{Key: "key", Value: key})
	result, err := loader(ctx)
	if err != nil {
		return nil, errors.ValueRetrievalError(key, err)
	}
	// Unguarded write: concurrent fallback loaders may overwrite each other.
	// Last writer wins; peers still benefit from whichever result lands.
	token = tokenFor(result)
	if err := c.putRemote(ctx, key, token); err != nil {
		return nil, err
	}
	return token, nil
}

// Put writes through both tiers and tells peers to drop the key. Peers
// re-fetch from L2 on demand, so an EVICT broadcast is enough.
func (c *TieredCache) Put(ctx context.Context, key string, value interface{}) error {
	token := tokenFor(value)
	c.logger.Debug("Writing to cache",
		logging.Field{Key: "key", Value: key},
		logging.Field{Key: "is_null", Value: isNullToken(token)})

	if err := c.putRemote(ctx, key, token); err != nil {
		return err
	}
	c.local.Set(key, token)
	c.publisher.PublishEvict(c.name, key)
	return nil
}

// PutIfAbsent stores the value only when L2 has no live entry for the key.
// L2 is the authority; L1 is back-filled last-writer-wins either way, which
// is deliberately weaker than the L2 compare-and-set.
func (c *TieredCache) PutIfAbsent(ctx context.Context, key string, value interface{}) (*ValueWrapper, error) {
	token := tokenFor(value)
	existing, found, err := c.remote.PutIfAbsent(ctx, key, token, c.remoteTTL(token))
	if err != nil {
		return nil, err
	}
	if found {
		c.logger.Debug("putIfAbsent: L2 already present", logging.Field{Key: "key", Value: key})
		c.local.Set(key, existing)
		return wrapToken(existing), nil
	}

	c.logger.Debug("putIfAbsent: written",
		logging.Field{Key: "key", Value: key},
		logging.Field{Key: "is_null", Value: isNullToken(token)})
	c.local.Set(key, token)
	c.publisher.PublishEvict(c.name, key)
	return nil, nil
}

// Evict removes the key from L2 first so a concurrent reader on this process
// cannot repopulate L1 from a stale L2 entry between the two steps.
func (c *TieredCache) Evict(ctx context.Context, key string) error {
	c.logger.Debug("Evicting cache entry", logging.Field{Key: "key", Value: key})
	if err := c.remote.Evict(ctx, key); err != nil {
		return err
	}
	c.local.Delete(key)
	c.publisher.PublishEvict(c.name, key)
	return nil
}

// EvictIfPresent evicts and reports whether either tier held the key.
func (c *TieredCache) EvictIfPresent(ctx context.Context, key string) (bool, error) {
	_, foundLocal := c.local.Get(key)
	var foundRemote bool
	if !foundLocal {
		var err error
		_, foundRemote, err = c.remote.Get(ctx, key)
		if err != nil {
			return false, err
		}
	}
	if !foundLocal && !foundRemote {
		return false, nil
	}
	if err := c.Evict(ctx, key); err != nil {
		return false, err
	}
	return true, nil
}

// Clear empties the cache. SAFE leaves L2 to expire by TTL so clearing under
// load cannot stampede the data source; FULL removes the whole L2 hash.
func (c *TieredCache) Clear(ctx context.Context) error {
	c.logger.Debug("Clearing cache", logging.Field{Key: "mode", Value: string(c.strategy.ClearMode)})
	if c.strategy.ClearMode == ClearFull {
		if err := c.remote.Clear(ctx); err != nil {
			return err
		}
	}
	c.local.Clear()
	c.publisher.PublishClear(c.name)
	return nil
}

// Invalidate clears the cache and reports success.
func (c *TieredCache) Invalidate(ctx context.Context) (bool, error) {
	if err := c.Clear(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// EvictLocal drops a key from L1 only. Used by the message listener.
func (c *TieredCache) EvictLocal(key string) {
	c.logger.Debug("Received evict notification for local cache", logging.Field{Key: "key", Value: key})
	c.local.Delete(key)
}

// ClearLocal empties L1 only. Used by the message listener.
func (c *TieredCache) ClearLocal() {
	c.logger.Debug("Received clear notification for local cache")
	c.local.Clear()
}

// LocalStats returns the L1 counters for this cache.
func (c *TieredCache) LocalStats() localstore.Stats {
	return c.local.Stats()
}

func (c *TieredCache) putRemote(ctx context.Context, key string, token interface{}) error {
	ttl := c.remoteTTL(token)
	c.logger.Debug("Writing to L2",
		logging.Field{Key: "key", Value: key},
		logging.Field{Key: "is_null", Value: isNullToken(token)},
		logging.Field{Key: "ttl", Value: ttl})
	return c.remote.Put(ctx, key, token, ttl)
}

// remoteTTL picks the L2 TTL for a token: the fixed null TTL for sentinels,
// the randomized cache TTL otherwise.
func (c *TieredCache) remoteTTL(token interface{}) time.Duration {
	if isNullToken(token) {
		return c.props.Remote.NullValueTTL
	}
	return RandomizeTTL(c.strategy.RemoteTTL, c.props.Remote.TTLRandomFactor)
}
