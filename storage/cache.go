package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"bashbook/domain"
)

// Cache wraps a Store with a Redis-backed copy of the list for reads.
type Cache struct {
	base  Store
	redis *redis.Client
	ttl   time.Duration
	key   string
}

// NewCache creates a caching Store wrapper using the provided Redis client and TTL.
func NewCache(base Store, client *redis.Client, list string, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{
		base:  base,
		redis: client,
		ttl:   ttl,
		key:   guestsCacheKey(list),
	}
}

func (c *Cache) Load(ctx context.Context) ([]domain.Guest, error) {
	if guests, ok := c.loadFromCache(ctx); ok {
		return guests, nil
	}

	guests, err := c.base.Load(ctx)
	if err != nil {
		return nil, err
	}

	c.store(ctx, guests)
	return guests, nil
}

func (c *Cache) Replace(ctx context.Context, guests []domain.Guest) error {
	// evicted on both sides of the write; a Load racing the write may cache
	// the old list until the second eviction
	c.evict(ctx)
	if err := c.base.Replace(ctx, guests); err != nil {
		return err
	}
	c.evict(ctx)
	return nil
}

func (c *Cache) Delete(ctx context.Context, id string) (int, error) {
	c.evict(ctx)
	n, err := c.base.Delete(ctx, id)
	if err != nil {
		return 0, err
	}
	c.evict(ctx)
	return n, nil
}

func (c *Cache) loadFromCache(ctx context.Context) ([]domain.Guest, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, c.key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, c.key).Err()
		}
		return nil, false
	}
	var guests []domain.Guest
	if err := sonic.Unmarshal(data, &guests); err != nil {
		_ = c.redis.Del(ctx, c.key).Err()
		return nil, false
	}
	if guests == nil {
		guests = []domain.Guest{}
	}
	return guests, true
}

func (c *Cache) store(ctx context.Context, guests []domain.Guest) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(domain.Clone(guests))
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, c.key, data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Del(ctx, c.key).Err()
}

func guestsCacheKey(list string) string {
	return "guests:" + list
}
