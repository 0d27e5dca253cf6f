package kvstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "storefront:state:"

// Redis backs the store with a shared redis instance so multiple gateway
// replicas observe the same marker and pin state.
type Redis struct {
	client *redis.Client
}

// NewRedis wraps an existing redis client.
func NewRedis(client *redis.Client) (*Redis, error) {
	if client == nil {
		return nil, fmt.Errorf("kvstore: redis client is required")
	}
	return &Redis{client: client}, nil
}

// Get returns the stored value or ErrKeyNotFound.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kvstore: redis get failed: %w", err)
	}
	return data, nil
}

// Set stores the value under key with no expiry; marker staleness is a
// domain rule enforced by the sweep, not a cache TTL.
func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, redisKeyPrefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("kvstore: redis set failed: %w", err)
	}
	return nil
}

// Delete removes the key; deleting an absent key is not an error.
func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("kvstore: redis del failed: %w", err)
	}
	return nil
}
