package usecase

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// Cache is the key/value store attempts are cached in. Get returns redis.Nil on a miss.
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
}

// RedisCache stores entries in Redis under a fixed key namespace.
type RedisCache struct {
	client    *redis.Client
	namespace string
}

// NewRedisCache wraps client; every key is prefixed with "face-compare:".
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, namespace: "face-compare:"}
}

func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.client.Set(ctx, c.namespace+key, value, expiration).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	return c.client.Get(ctx, c.namespace+key).Result()
}

func attemptCacheKey(attemptID string) string {
	return "comparison:" + attemptID
}
