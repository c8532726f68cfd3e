// Package redis wraps the shared Redis connection used by the tiered cache.
// It provides hash storage with per-entry TTL, a self-renewing distributed
// lock, and the pub/sub channel that carries invalidation messages.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"tiered-cache/internal/common/errors"
	"tiered-cache/internal/common/logging"
)

type Client struct {
	rdb    *redis.Client
	config *Config
	logger logging.Logger

	unlinkOnce      sync.Once
	unlinkSupported bool
}

type Config struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, errors.ConfigError("redis config is required")
	}

	if config.Address == "" {
		config.Address = "localhost:6379"
	}
	if config.PoolSize == 0 {
		config.PoolSize = 10
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     config.Address,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, errors.ConnectionError("failed to connect to Redis", err)
	}

	return &Client{
		rdb:    rdb,
		config: config,
		logger: logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "redis"}),
	}, nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.rdb.Ping(ctx).Err()
}

// Hash storage with per-entry TTL.
//
// Each cache is one hash; field expirations live in a companion sorted set
// keyed <hash>:ttl whose scores are absolute expiry timestamps in
// milliseconds. The scripts reap expired fields lazily so readers never
// observe a value past its TTL. Timestamps come from the client so the
// behavior does not depend on server time support inside scripts.

const ttlIndexSuffix = ":ttl"

func ttlIndexKey(hash string) string {
	return hash + ttlIndexSuffix
}

var hashGetScript = redis.NewScript(`
local exp = redis.call('ZSCORE', KEYS[2], ARGV[1])
if exp and tonumber(exp) <= tonumber(ARGV[2]) then
	redis.call('HDEL', KEYS[1], ARGV[1])
	redis.call('ZREM', KEYS[2], ARGV[1])
	return false
end
return redis.call('HGET', KEYS[1], ARGV[1])
`)

var hashPutScript = redis.NewScript(`
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
return 1
`)

var hashPutIfAbsentScript = redis.NewScript(`
local exp = redis.call('ZSCORE', KEYS[2], ARGV[1])
if exp and tonumber(exp) <= tonumber(ARGV[3]) then
	redis.call('HDEL', KEYS[1], ARGV[1])
	redis.call('ZREM', KEYS[2], ARGV[1])
end
local existing = redis.call('HGET', KEYS[1], ARGV[1])
if existing then
	return existing
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
redis.call('ZADD', KEYS[2], ARGV[4], ARGV[1])
return false
`)

// HashGet reads a single hash field, expiring it first if its TTL has passed.
func (c *Client) HashGet(ctx context.Context, hash, field string) (string, bool, error) {
	now := time.Now().UnixMilli()
	result, err := hashGetScript.Run(ctx, c.rdb, []string{hash, ttlIndexKey(hash)}, field, now).Text()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.InternalError("failed to read hash field", err).WithContext("hash", hash)
	}
	return result, true, nil
}

// HashPut writes a hash field with its own TTL.
func (c *Client) HashPut(ctx context.Context, hash, field, value string, ttl time.Duration) error {
	expireAt := time.Now().Add(ttl).UnixMilli()
	err := hashPutScript.Run(ctx, c.rdb, []string{hash, ttlIndexKey(hash)}, field, value, expireAt).Err()
	if err != nil {
		return errors.InternalError("failed to write hash field", err).WithContext("hash", hash)
	}
	return nil
}

// HashPutIfAbsent atomically writes a hash field only when no live value is
// present. It returns the existing value when the write was declined.
func (c *Client) HashPutIfAbsent(ctx context.Context, hash, field, value string, ttl time.Duration) (string, bool, error) {
	now := time.Now()
	result, err := hashPutIfAbsentScript.Run(ctx, c.rdb,
		[]string{hash, ttlIndexKey(hash)},
		field, value, now.UnixMilli(), now.Add(ttl).UnixMilli()).Text()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.InternalError("failed to write hash field", err).WithContext("hash", hash)
	}
	return result, true, nil
}

// HashDelete removes a single hash field and its TTL record.
func (c *Client) HashDelete(ctx context.Context, hash, field string) error {
	pipe := c.rdb.TxPipeline()
	pipe.HDel(ctx, hash, field)
	pipe.ZRem(ctx, ttlIndexKey(hash), field)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.InternalError("failed to delete hash field", err).WithContext("hash", hash)
	}
	return nil
}

// DeleteHash removes the whole hash and its TTL index, preferring the
// asynchronous UNLINK when the server supports it.
func (c *Client) DeleteHash(ctx context.Context, hash string) error {
	keys := []string{hash, ttlIndexKey(hash)}
	var err error
	if c.SupportsUnlink(ctx) {
		err = c.rdb.Unlink(ctx, keys...).Err()
		c.logger.Debug("Hash removed (UNLINK)", logging.Field{Key: "hash", Value: hash})
	} else {
		err = c.rdb.Del(ctx, keys...).Err()
		c.logger.Debug("Hash removed (DEL)", logging.Field{Key: "hash", Value: hash})
	}
	if err != nil {
		return errors.InternalError("failed to delete hash", err).WithContext("hash", hash)
	}
	return nil
}

// SupportsUnlink reports whether the server understands UNLINK (Redis >= 4).
// Detection runs once per client; any probe failure leaves the flag false so
// clears fall back to DEL.
func (c *Client) SupportsUnlink(ctx context.Context) bool {
	c.unlinkOnce.Do(func() {
		c.unlinkSupported = c.detectUnlinkSupport(ctx)
	})
	return c.unlinkSupported
}

func (c *Client) detectUnlinkSupport(ctx context.Context) bool {
	info, err := c.rdb.Eval(ctx, "return redis.call('INFO', 'server')", []string{}).Text()
	if err != nil {
		c.logger.Warn("Redis version detection failed, defaulting to DEL",
			logging.Field{Key: "error", Value: err.Error()})
		return false
	}
	major := parseRedisMajorVersion(info)
	supports := major >= 4
	c.logger.Info("Redis version detection done",
		logging.Field{Key: "major_version", Value: major},
		logging.Field{Key: "supports_unlink", Value: supports})
	return supports
}

func parseRedisMajorVersion(serverInfo string) int {
	for _, line := range strings.Split(serverInfo, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "redis_version:") {
			continue
		}
		version := strings.TrimSpace(strings.TrimPrefix(line, "redis_version:"))
		if dot := strings.IndexByte(version, '.'); dot > 0 {
			version = version[:dot]
		}
		major, err := strconv.Atoi(version)
		if err != nil {
			return 0
		}
		return major
	}
	return 0
}

// Pub/Sub for cross-instance cache invalidation.

// Publish sends a message to the given channel. String and []byte payloads
// are sent as-is; any other payload is marshaled as JSON.
func (c *Client) Publish(ctx context.Context, channel string, message interface{}) error {
	var data []byte
	var err error

	switch v := message.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		data, err = json.Marshal(v)
		if err != nil {
			return errors.InternalError("failed to marshal message", err)
		}
	}

	if err := c.rdb.Publish(ctx, channel, data).Err(); err != nil {
		return errors.ConnectionError(fmt.Sprintf("failed to publish to %s", channel), err)
	}
	return nil
}

// Subscribe opens a subscription on the given channels.
func (c *Client) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	return c.rdb.Subscribe(ctx, channels...)
}
