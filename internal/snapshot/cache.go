package snapshot

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/example/ledgersync/internal/book"
)

// Cache is a read-through cache for monthly checkpoints. Checkpoints are
// immutable, so cached copies only ever go stale through explicit
// invalidation during administrative regeneration.
type Cache interface {
	Get(ctx context.Context, month time.Time) (*book.MonthlySnapshot, bool, error)
	Set(ctx context.Context, snap *book.MonthlySnapshot, ttl time.Duration) error
	Invalidate(ctx context.Context, month time.Time) error
}

// NoopCache disables caching.
type NoopCache struct{}

func (NoopCache) Get(_ context.Context, _ time.Time) (*book.MonthlySnapshot, bool, error) {
	return nil, false, nil
}

func (NoopCache) Set(_ context.Context, _ *book.MonthlySnapshot, _ time.Duration) error {
	return nil
}

func (NoopCache) Invalidate(_ context.Context, _ time.Time) error {
	return nil
}

// RedisCache caches checkpoints in redis, shared by processes on the
// same device.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects a cache to the redis instance at addr.
func NewRedisCache(addr, password string, db int) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisCache{client: client}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func cacheKey(month time.Time) string {
	return "snapshot:" + book.MonthStart(month).Format("2006-01")
}

func (c *RedisCache) Get(ctx context.Context, month time.Time) (*book.MonthlySnapshot, bool, error) {
	val, err := c.client.Get(ctx, cacheKey(month)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var snap book.MonthlySnapshot
	if err := json.Unmarshal([]byte(val), &snap); err != nil {
		return nil, false, err
	}
	return &snap, true, nil
}

func (c *RedisCache) Set(ctx context.Context, snap *book.MonthlySnapshot, ttl time.Duration) error {
	if snap == nil {
		return nil
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, cacheKey(snap.Month), payload, ttl).Err()
}

func (c *RedisCache) Invalidate(ctx context.Context, month time.Time) error {
	return c.client.Del(ctx, cacheKey(month)).Err()
}
