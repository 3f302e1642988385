package source

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"moviestream/internal/domain"
)

const redisCachePrefix = "moviestream:resolve:"

// RedisCache stores resolved sources in Redis with JSON serialization.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (r *RedisCache) Get(ctx context.Context, key string) (domain.ResolvedSource, bool, error) {
	data, err := r.client.Get(ctx, redisCachePrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.ResolvedSource{}, false, nil
		}
		return domain.ResolvedSource{}, false, err
	}
	var value domain.ResolvedSource
	if err := json.Unmarshal(data, &value); err != nil {
		return domain.ResolvedSource{}, false, err
	}
	return value, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, value domain.ResolvedSource, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, redisCachePrefix+key, data, ttl).Err()
}

func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
