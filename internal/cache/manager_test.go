package cache

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTieredCacheManager_StaticMode(t *testing.T) {
	env := setupTestEnv(t, func(props *Properties) {
		props.CacheNames = []string{"user_info", "sys_config"}
	})

	t.Run("predefined caches exist", func(t *testing.T) {
		assert.NotNil(t, env.manager.GetCache("user_info"))
		assert.NotNil(t, env.manager.GetCache("sys_config"))
		assert.ElementsMatch(t, []string{"user_info", "sys_config"}, env.manager.CacheNames())
	})

	t.Run("unknown names are not created", func(t *testing.T) {
		assert.Nil(t, env.manager.GetCache("surprise"))
		assert.Nil(t, env.manager.GetTieredCache("surprise"))
	})
}

func TestTieredCacheManager_DynamicMode(t *testing.T) {
	env := setupTestEnv(t, nil)

	t.Run("creates on first use", func(t *testing.T) {
		assert.Empty(t, env.manager.CacheNames())

		cache := env.manager.GetCache("user_info")
		require.NotNil(t, cache)
		assert.Equal(t, "user_info", cache.Name())
		assert.ElementsMatch(t, []string{"user_info"}, env.manager.CacheNames())
	})

	t.Run("concurrent callers observe one instance", func(t *testing.T) {
		const workers = 32
		var wg sync.WaitGroup
		instances := make([]Cache, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				instances[i] = env.manager.GetCache("shared")
			}(i)
		}
		wg.Wait()

		for i := 1; i < workers; i++ {
			assert.Same(t, instances[0], instances[i])
		}
	})

	t.Run("lookup without create", func(t *testing.T) {
		assert.Nil(t, env.manager.GetTieredCache("never_used"))

		// GetCache materializes, GetTieredCache then sees it
		require.NotNil(t, env.manager.GetCache("never_used"))
		assert.NotNil(t, env.manager.GetTieredCache("never_used"))
	})
}

func TestTieredCacheManager_AllTieredCaches(t *testing.T) {
	env := setupTestEnv(t, func(props *Properties) {
		props.CacheNames = []string{"a", "b"}
	})

	all := env.manager.AllTieredCaches()
	assert.Len(t, all, 2)
}

func TestLocalCacheManager(t *testing.T) {
	ctx := context.Background()
	manager := NewLocalCacheManager(DefaultProperties())

	cache := manager.GetCache("user_info")
	require.NotNil(t, cache)
	assert.Same(t, cache, manager.GetCache("user_info"))

	require.NoError(t, cache.Put(ctx, "k", "v"))
	wrapper, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", wrapper.Get())

	t.Run("nil value reads as present-with-nil", func(t *testing.T) {
		require.NoError(t, cache.Put(ctx, "gone", nil))
		wrapper, err := cache.Get(ctx, "gone")
		require.NoError(t, err)
		require.NotNil(t, wrapper)
		assert.Nil(t, wrapper.Get())
	})

	t.Run("loader runs once", func(t *testing.T) {
		calls := 0
		loader := func(ctx context.Context) (interface{}, error) {
			calls++
			return "loaded", nil
		}
		value, err := cache.GetWithLoader(ctx, "lazy", loader)
		require.NoError(t, err)
		assert.Equal(t, "loaded", value)

		_, err = cache.GetWithLoader(ctx, "lazy", loader)
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("putIfAbsent keeps the first value", func(t *testing.T) {
		existing, err := cache.PutIfAbsent(ctx, "pia", "first")
		require.NoError(t, err)
		assert.Nil(t, existing)

		existing, err = cache.PutIfAbsent(ctx, "pia", "second")
		require.NoError(t, err)
		require.NotNil(t, existing)
		assert.Equal(t, "first", existing.Get())
	})

	assert.ElementsMatch(t, []string{"user_info"}, manager.CacheNames())
}

func TestRemoteCacheManager(t *testing.T) {
	env := setupTestEnv(t, nil)
	ctx := context.Background()

	manager := NewRemoteCacheManager(env.client, DefaultProperties(), nil)
	cache := manager.GetCache("user_info")
	require.NotNil(t, cache)
	assert.Same(t, cache, manager.GetCache("user_info"))

	require.NoError(t, cache.Put(ctx, "k", "v"))
	assert.Equal(t, `"v"`, env.mr.HGet("user_info", "k"))

	wrapper, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", wrapper.Get())

	t.Run("loader fills L2", func(t *testing.T) {
		calls := 0
		value, err := cache.GetWithLoader(ctx, "lazy", func(ctx context.Context) (interface{}, error) {
			calls++
			return "loaded", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "loaded", value)
		assert.Equal(t, 1, calls)
		assert.Equal(t, `"loaded"`, env.mr.HGet("user_info", "lazy"))
	})

	t.Run("evict and clear", func(t *testing.T) {
		existed, err := cache.EvictIfPresent(ctx, "k")
		require.NoError(t, err)
		assert.True(t, existed)

		require.NoError(t, cache.Clear(ctx))
		assert.False(t, env.mr.Exists("user_info"))
	})
}
