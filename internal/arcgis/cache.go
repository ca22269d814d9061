package arcgis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores raw query responses.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, data []byte)
}

// RedisCache keeps pages in redis with a fixed TTL.
type RedisCache struct {
	rc  *redis.Client
	ttl time.Duration
}

// OpenRedis connects to addr. An empty addr disables caching and returns nil.
func OpenRedis(addr, pass string, db int) *redis.Client {
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{Addr: addr, Password: pass, DB: db})
}

// NewRedisCache wraps rc. A zero ttl defaults to one hour.
func NewRedisCache(rc *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisCache{rc: rc, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	b, err := c.rc.Get(ctx, key).Bytes()
	if err != nil || len(b) == 0 {
		return nil, false
	}
	return b, true
}

func (c *RedisCache) Set(ctx context.Context, key string, data []byte) {
	_ = c.rc.Set(ctx, key, data, c.ttl).Err()
}
