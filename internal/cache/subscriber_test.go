package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func publishRaw(t *testing.T, env *testEnv, message CacheMessage) {
	t.Helper()
	data, err := json.Marshal(message)
	require.NoError(t, err)
	require.NoError(t, env.client.Publish(context.Background(), InvalidateTopic, string(data)))
}

func startListener(t *testing.T, env *testEnv) *MessageListener {
	t.Helper()
	listener := NewMessageListener(env.client, env.manager)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, listener.Start(ctx))
	t.Cleanup(func() { listener.Stop() })
	return listener
}

func TestMessageListener_EvictFromPeer(t *testing.T) {
	env := setupTestEnv(t, nil)
	ctx := context.Background()
	cache := env.manager.GetCache("user_info").(*TieredCache)

	require.NoError(t, cache.Put(ctx, "user_7", "ada"))
	_, found := cache.local.Get("user_7")
	require.True(t, found)

	startListener(t, env)

	publishRaw(t, env, CacheMessage{
		InstanceID: "peer-host:99",
		Type:       MessageEvict,
		CacheName:  "user_info",
		Key:        "user_7",
	})

	assert.Eventually(t, func() bool {
		_, found := cache.local.Get("user_7")
		return !found
	}, 2*time.Second, 10*time.Millisecond, "peer EVICT should drop the local entry")

	// only L1 is touched: L2 still holds the value
	assert.Equal(t, `"ada"`, env.mr.HGet("user_info", "user_7"))
}

func TestMessageListener_ClearFromPeer(t *testing.T) {
	env := setupTestEnv(t, nil)
	ctx := context.Background()
	cache := env.manager.GetCache("sys_config").(*TieredCache)

	require.NoError(t, cache.Put(ctx, "a", "1"))
	require.NoError(t, cache.Put(ctx, "b", "2"))

	startListener(t, env)

	publishRaw(t, env, CacheMessage{
		InstanceID: "peer-host:99",
		Type:       MessageClear,
		CacheName:  "sys_config",
	})

	assert.Eventually(t, func() bool {
		return cache.local.Len() == 0
	}, 2*time.Second, 10*time.Millisecond, "peer CLEAR should empty the local tier")

	assert.Equal(t, `"1"`, env.mr.HGet("sys_config", "a"))
}

func TestMessageListener_IgnoresOwnMessages(t *testing.T) {
	env := setupTestEnv(t, nil)
	ctx := context.Background()
	cache := env.manager.GetCache("user_info").(*TieredCache)

	require.NoError(t, cache.Put(ctx, "user_7", "ada"))

	startListener(t, env)

	publishRaw(t, env, CacheMessage{
		InstanceID: CurrentInstanceID(),
		Type:       MessageEvict,
		CacheName:  "user_info",
		Key:        "user_7",
	})

	// self-echo suppression: the entry must survive
	time.Sleep(150 * time.Millisecond)
	_, found := cache.local.Get("user_7")
	assert.True(t, found)
}

func TestMessageListener_SurvivesBadMessages(t *testing.T) {
	env := setupTestEnv(t, nil)
	ctx := context.Background()
	cache := env.manager.GetCache("user_info").(*TieredCache)

	require.NoError(t, cache.Put(ctx, "user_7", "ada"))

	startListener(t, env)

	// malformed payload, unknown cache, unknown type: all logged and skipped
	require.NoError(t, env.client.Publish(ctx, InvalidateTopic, "{not json"))
	publishRaw(t, env, CacheMessage{InstanceID: "peer:1", Type: MessageEvict, CacheName: "no_such_cache", Key: "k"})
	publishRaw(t, env, CacheMessage{InstanceID: "peer:1", Type: MessageType("UPDATE"), CacheName: "user_info", Key: "user_7"})

	// a valid message afterwards still gets through
	publishRaw(t, env, CacheMessage{InstanceID: "peer:1", Type: MessageEvict, CacheName: "user_info", Key: "user_7"})

	assert.Eventually(t, func() bool {
		_, found := cache.local.Get("user_7")
		return !found
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTieredCache_PutNotifiesPeers(t *testing.T) {
	env := setupTestEnv(t, nil)
	ctx := context.Background()
	cache := env.manager.GetCache("user_info")

	pubsub := env.client.Subscribe(ctx, InvalidateTopic)
	_, err := pubsub.Receive(ctx)
	require.NoError(t, err)
	defer pubsub.Close()

	require.NoError(t, cache.Put(ctx, "user_7", "ada"))

	select {
	case m := <-pubsub.Channel():
		var message CacheMessage
		require.NoError(t, json.Unmarshal([]byte(m.Payload), &message))
		assert.Equal(t, MessageEvict, message.Type)
		assert.Equal(t, "user_info", message.CacheName)
		assert.Equal(t, "user_7", message.Key)
		assert.Equal(t, CurrentInstanceID(), message.InstanceID)
	case <-time.After(2 * time.Second):
		t.Fatal("no invalidation message published for Put")
	}
}
