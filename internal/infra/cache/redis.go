package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"tg-feed-digest/internal/domain"
	"tg-feed-digest/internal/infra/metrics"
)

// RedisCache реализует domain.Cache через Redis.
type RedisCache struct {
	client *redis.Client
}

var _ domain.Cache = (*RedisCache)(nil)

// NewRedis создаёт кэш.
func NewRedis(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Get возвращает значение. Отсутствие ключа — domain.ErrNotFound.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	value, err := c.client.Get(ctx, key).Bytes()
	metrics.ObserveNetworkRequest("redis", "get", key, start, err)
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	return value, err
}

// Set задаёт значение с TTL.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	err := c.client.Set(ctx, key, value, ttl).Err()
	metrics.ObserveNetworkRequest("redis", "set", key, start, err)
	return err
}

// IncrWindow увеличивает счётчик фиксированного окна. TTL ставится только
// при создании ключа, поэтому окно не продлевается повторными вызовами.
func (c *RedisCache) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	start := time.Now()
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	_, err := pipe.Exec(ctx)
	metrics.ObserveNetworkRequest("redis", "incr_window", key, start, err)
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
