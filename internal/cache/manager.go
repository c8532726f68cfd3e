package cache

import (
	"sync"

	"tiered-cache/internal/common/logging"
	"tiered-cache/internal/localstore"
	"tiered-cache/internal/redis"
)

// Manager hands out caches by name.
type Manager interface {
	// GetCache returns the cache for name, or nil when the manager is static
	// and the name is unknown.
	GetCache(name string) Cache
	// CacheNames returns the names of the live caches.
	CacheNames() []string
}

// TieredCacheManager is the registry of tiered caches. With a predefined
// name list it is static: every cache is created eagerly and unknown names
// return nil. Without one it is dynamic: caches are created lazily on first
// use and concurrent callers observe the same instance.
type TieredCacheManager struct {
	client    *redis.Client
	publisher *MessagePublisher
	props     *Properties
	codec     Codec
	logger    logging.Logger

	mu         sync.RWMutex
	caches     map[string]*TieredCache
	predefined []string
	dynamic    bool
}

// NewTieredCacheManager builds the registry. A nil codec defaults to JSON.
func NewTieredCacheManager(client *redis.Client, publisher *MessagePublisher,
	props *Properties, codec Codec) *TieredCacheManager {

	if codec == nil {
		codec = JSONCodec{}
	}
	m := &TieredCacheManager{
		client:    client,
		publisher: publisher,
		props:     props,
		codec:     codec,
		logger:    logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "cache_manager"}),
		caches:    make(map[string]*TieredCache),
	}

	if len(props.CacheNames) > 0 {
		m.predefined = append([]string(nil), props.CacheNames...)
		for _, name := range m.predefined {
			m.caches[name] = m.createTieredCache(name)
		}
		m.logger.Info("Tiered cache manager initialized with predefined caches",
			logging.Field{Key: "caches", Value: m.predefined})
	} else {
		m.dynamic = true
		m.logger.Info("Tiered cache manager initialized, caches are created dynamically")
	}
	return m
}

// GetCache returns the cache for name, creating it in dynamic mode.
func (m *TieredCacheManager) GetCache(name string) Cache {
	if cache := m.lookupOrCreate(name); cache != nil {
		return cache
	}
	return nil
}

// GetTieredCache returns the concrete tiered cache for name, or nil when it
// has not been created. It never creates: the message listener must not
// materialize caches for names it has only heard about.
func (m *TieredCacheManager) GetTieredCache(name string) *TieredCache {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.caches[name]
}

// AllTieredCaches returns every live tiered cache, for diagnostics.
func (m *TieredCacheManager) AllTieredCaches() []*TieredCache {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := make([]*TieredCache, 0, len(m.caches))
	for _, cache := range m.caches {
		all = append(all, cache)
	}
	return all
}

// CacheNames returns the predefined names in static mode, the live set in
// dynamic mode.
func (m *TieredCacheManager) CacheNames() []string {
	if !m.dynamic {
		return append([]string(nil), m.predefined...)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.caches))
	for name := range m.caches {
		names = append(names, name)
	}
	return names
}

func (m *TieredCacheManager) lookupOrCreate(name string) *TieredCache {
	m.mu.RLock()
	cache := m.caches[name]
	m.mu.RUnlock()
	if cache != nil {
		return cache
	}
	if !m.dynamic {
		m.logger.Warn("Cache does not exist and dynamic creation is disabled",
			logging.Field{Key: "cache", Value: name})
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cache := m.caches[name]; cache != nil {
		return cache
	}
	cache = m.createTieredCache(name)
	m.caches[name] = cache
	return cache
}

func (m *TieredCacheManager) createTieredCache(name string) *TieredCache {
	strategy := m.props.EffectiveStrategy(name)
	local := localstore.New(strategy.LocalMaxSize, strategy.LocalTTL)
	remote := NewRemoteCache(name, m.client, m.codec)
	return NewTieredCache(name, local, remote, m.publisher, m.client, m.props)
}
