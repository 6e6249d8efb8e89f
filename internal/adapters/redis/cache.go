package redisad

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"handyhub/internal/adapters/observability"
)

func NewClient(addr, pass string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr, Password: pass, DB: db})
}

// Cache stores JSON values. Misses and a nil receiver both report (false, nil).
type Cache struct{ c *redis.Client }

func New(c *redis.Client) *Cache { return &Cache{c: c} }

func (r *Cache) Get(ctx context.Context, key string, dst any) (bool, error) {
	if r == nil {
		return false, nil
	}
	v, err := r.c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		observability.ObserveCache("redis", "miss")
		return false, nil
	}
	if err != nil {
		observability.ObserveCache("redis", "error")
		return false, err
	}
	if err := json.Unmarshal(v, dst); err != nil {
		// a value we can't decode is as good as absent
		observability.ObserveCache("redis", "miss")
		return false, nil
	}
	observability.ObserveCache("redis", "hit")
	return true, nil
}

func (r *Cache) Set(ctx context.Context, key string, v any, ttlSec int) error {
	if r == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	observability.ObserveCache("redis", "set")
	return r.c.Set(ctx, key, b, time.Duration(ttlSec)*time.Second).Err()
}

// SetNX claims key for v. A nil receiver always succeeds, so callers without
// a cache proceed unguarded.
func (r *Cache) SetNX(ctx context.Context, key string, v any, ttlSec int) (bool, error) {
	if r == nil {
		return true, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return false, fmt.Errorf("encode %s: %w", key, err)
	}
	ok, err := r.c.SetNX(ctx, key, b, time.Duration(ttlSec)*time.Second).Result()
	if err != nil {
		observability.ObserveCache("redis", "error")
		return false, err
	}
	if ok {
		observability.ObserveCache("redis", "set")
	}
	return ok, nil
}

func (r *Cache) Del(ctx context.Context, key string) error {
	if r == nil {
		return nil
	}
	observability.ObserveCache("redis", "del")
	return r.c.Del(ctx, key).Err()
}
