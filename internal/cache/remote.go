package cache

import (
	"context"
	"time"

	"tiered-cache/internal/common/errors"
	"tiered-cache/internal/common/logging"
	"tiered-cache/internal/redis"
)

// RemoteCache is the typed adapter over one Redis hash: the hash is named
// after the cache, fields are stringified keys, values are codec-serialized
// or the literal null sentinel. Read errors surface to the caller; the read
// path never turns a broken connection into a miss.
type RemoteCache struct {
	name   string
	client *redis.Client
	codec  Codec
	logger logging.Logger
}

// NewRemoteCache creates the adapter for one cache name.
func NewRemoteCache(name string, client *redis.Client, codec Codec) *RemoteCache {
	if codec == nil {
		codec = JSONCodec{}
	}
	return &RemoteCache{
		name:   name,
		client: client,
		codec:  codec,
		logger: logging.GetGlobalLogger().WithFields(logging.Field{Key: "cache", Value: name}),
	}
}

// Get reads the stored token for key. The null sentinel passes through as a
// token so callers can distinguish confirmed absence from a miss.
func (r *RemoteCache) Get(ctx context.Context, key string) (interface{}, bool, error) {
	raw, found, err := r.client.HashGet(ctx, r.name, key)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	if raw == NullValue {
		return NullValue, true, nil
	}
	value, err := r.codec.Decode([]byte(raw))
	if err != nil {
		return nil, false, errors.InternalError("failed to decode cached value", err).WithContext("key", key)
	}
	return value, true, nil
}

// Put writes a token with the given TTL.
func (r *RemoteCache) Put(ctx context.Context, key string, token interface{}, ttl time.Duration) error {
	raw, err := r.encode(token)
	if err != nil {
		return err
	}
	return r.client.HashPut(ctx, r.name, key, raw, ttl)
}

// PutIfAbsent atomically writes a token only when no live value exists,
// returning the existing token otherwise.
func (r *RemoteCache) PutIfAbsent(ctx context.Context, key string, token interface{}, ttl time.Duration) (interface{}, bool, error) {
	raw, err := r.encode(token)
	if err != nil {
		return nil, false, err
	}
	existingRaw, found, err := r.client.HashPutIfAbsent(ctx, r.name, key, raw, ttl)
	if err != nil || !found {
		return nil, false, err
	}
	if existingRaw == NullValue {
		return NullValue, true, nil
	}
	existing, err := r.codec.Decode([]byte(existingRaw))
	if err != nil {
		return nil, false, errors.InternalError("failed to decode cached value", err).WithContext("key", key)
	}
	return existing, true, nil
}

// Evict removes a single key.
func (r *RemoteCache) Evict(ctx context.Context, key string) error {
	return r.client.HashDelete(ctx, r.name, key)
}

// Clear removes the whole hash for this cache.
func (r *RemoteCache) Clear(ctx context.Context) error {
	r.logger.Info("Clearing remote cache")
	return r.client.DeleteHash(ctx, r.name)
}

func (r *RemoteCache) encode(token interface{}) (string, error) {
	if isNullToken(token) {
		return NullValue, nil
	}
	data, err := r.codec.Encode(token)
	if err != nil {
		return "", errors.InternalError("failed to encode value", err)
	}
	return string(data), nil
}
