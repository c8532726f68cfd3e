package cache

import (
	"context"
	"time"

	"tiered-cache/internal/common/logging"
	"tiered-cache/internal/redis"
)

const publishTimeout = 5 * time.Second

// MessagePublisher broadcasts invalidation messages to peer processes.
// Publication is fire-and-forget: the caller has already updated its own
// tiers, so a failed publish only extends peer staleness up to their local
// TTL. Failures are logged and swallowed.
type MessagePublisher struct {
	client *redis.Client
	logger logging.Logger
}

// NewMessagePublisher creates a publisher over the shared Redis connection.
func NewMessagePublisher(client *redis.Client) *MessagePublisher {
	return &MessagePublisher{
		client: client,
		logger: logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "cache_publisher"}),
	}
}

// PublishEvict notifies peers to drop one key from their local tier.
func (p *MessagePublisher) PublishEvict(cacheName, key string) {
	p.publish(NewEvictMessage(cacheName, key))
}

// PublishClear notifies peers to empty a cache's local tier.
func (p *MessagePublisher) PublishClear(cacheName string) {
	p.publish(NewClearMessage(cacheName))
}

func (p *MessagePublisher) publish(message CacheMessage) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()

		if err := p.client.Publish(ctx, InvalidateTopic, message); err != nil {
			p.logger.Warn("Failed to publish cache message",
				logging.Field{Key: "type", Value: string(message.Type)},
				logging.Field{Key: "cache", Value: message.CacheName},
				logging.Field{Key: "key", Value: message.Key},
				logging.Field{Key: "error", Value: err.Error()})
			return
		}
		p.logger.Debug("Published cache message",
			logging.Field{Key: "type", Value: string(message.Type)},
			logging.Field{Key: "cache", Value: message.CacheName},
			logging.Field{Key: "key", Value: message.Key})
	}()
}
