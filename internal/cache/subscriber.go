package cache

import (
	"context"
	"encoding/json"

	goredis "github.com/go-redis/redis/v8"

	"tiered-cache/internal/common/errors"
	"tiered-cache/internal/common/logging"
	"tiered-cache/internal/redis"
)

// MessageListener consumes invalidation messages and applies them to the
// local tier of the addressed cache. Messages from this process are skipped;
// a bad message never stops the loop.
type MessageListener struct {
	client  *redis.Client
	manager *TieredCacheManager
	logger  logging.Logger
	pubsub  *goredis.PubSub
}

// NewMessageListener creates a listener bound to the given manager.
func NewMessageListener(client *redis.Client, manager *TieredCacheManager) *MessageListener {
	return &MessageListener{
		client:  client,
		manager: manager,
		logger:  logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "cache_listener"}),
	}
}

// Start subscribes to the invalidation topic and consumes messages until the
// context is cancelled or Stop is called.
func (l *MessageListener) Start(ctx context.Context) error {
	pubsub := l.client.Subscribe(ctx, InvalidateTopic)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return errors.ConnectionError("failed to subscribe to invalidation topic", err)
	}
	l.pubsub = pubsub

	go l.consume(ctx, pubsub.Channel())

	l.logger.Info("Cache message listener started",
		logging.Field{Key: "topic", Value: InvalidateTopic},
		logging.Field{Key: "instance_id", Value: CurrentInstanceID()})
	return nil
}

// Stop closes the subscription, ending the consume loop.
func (l *MessageListener) Stop() error {
	if l.pubsub == nil {
		return nil
	}
	return l.pubsub.Close()
}

func (l *MessageListener) consume(ctx context.Context, messages <-chan *goredis.Message) {
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("Cache message listener stopped", logging.Field{Key: "reason", Value: ctx.Err()})
			return
		case m, ok := <-messages:
			if !ok {
				l.logger.Info("Cache message channel closed")
				return
			}
			l.handle(m.Payload)
		}
	}
}

func (l *MessageListener) handle(payload string) {
	var message CacheMessage
	if err := json.Unmarshal([]byte(payload), &message); err != nil {
		l.logger.Warn("Discarding malformed cache message", logging.Field{Key: "error", Value: err.Error()})
		return
	}

	if message.FromCurrentInstance() {
		l.logger.Debug("Ignoring message from current instance",
			logging.Field{Key: "instance_id", Value: message.InstanceID})
		return
	}

	l.logger.Debug("Received cache message",
		logging.Field{Key: "type", Value: string(message.Type)},
		logging.Field{Key: "cache", Value: message.CacheName},
		logging.Field{Key: "key", Value: message.Key},
		logging.Field{Key: "from", Value: message.InstanceID})

	cache := l.manager.GetTieredCache(message.CacheName)
	if cache == nil {
		l.logger.Warn("Cache does not exist", logging.Field{Key: "cache", Value: message.CacheName})
		return
	}

	switch message.Type {
	case MessageEvict:
		cache.EvictLocal(message.Key)
	case MessageClear:
		cache.ClearLocal()
	default:
		l.logger.Warn("Unknown message type", logging.Field{Key: "type", Value: string(message.Type)})
	}
}
