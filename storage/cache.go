package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"ditto-api/domain"
)

// Cache wraps a Store with Redis-backed caching for snapshot reads. Writes
// pass through and evict; change signals from other sessions evict before
// they are forwarded, so a subscriber re-reading after a signal never gets
// the pre-signal snapshot back from the cache.
type Cache struct {
	base  Store
	redis *redis.Client
	key   string
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base Store, client *redis.Client, owner string, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base store is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{
		base:  base,
		redis: client,
		key:   "snap:" + owner,
		ttl:   ttl,
	}
}

func (c *Cache) Snapshot(ctx context.Context) (Snapshot, error) {
	if snap, ok := c.loadFromCache(ctx); ok {
		return snap, nil
	}

	snap, err := c.base.Snapshot(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	c.store(ctx, snap)
	return snap, nil
}

func (c *Cache) Apply(ctx context.Context, batch domain.Batch) error {
	if err := c.base.Apply(ctx, batch); err != nil {
		return err
	}

	c.evict(ctx)
	return nil
}

func (c *Cache) Subscribe() (<-chan struct{}, func()) {
	base, cancel := c.base.Subscribe()
	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		for range base {
			c.evict(context.Background())
			select {
			case out <- struct{}{}:
			default:
			}
		}
	}()
	return out, cancel
}

func (c *Cache) loadFromCache(ctx context.Context) (Snapshot, bool) {
	if c.redis == nil {
		return Snapshot{}, false
	}
	data, err := c.redis.Get(ctx, c.key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing store without failing.
			_ = c.redis.Del(ctx, c.key).Err()
		}
		return Snapshot{}, false
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		_ = c.redis.Del(ctx, c.key).Err()
		return Snapshot{}, false
	}
	return snap, true
}

func (c *Cache) store(ctx context.Context, snap Snapshot) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, c.key, data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, c.key).Result()
}
