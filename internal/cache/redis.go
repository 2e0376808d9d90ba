package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/raakeshmj/keyplane/internal/circuitbreaker"
	"github.com/raakeshmj/keyplane/internal/db"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisCache stores validations as JSON under apikey:<hash> with a TTL.
type RedisCache struct {
	client  redis.Cmdable
	breaker *circuitbreaker.CircuitBreaker
	log     *zap.Logger
}

func NewRedisCache(client redis.Cmdable, breaker *circuitbreaker.CircuitBreaker, log *zap.Logger) *RedisCache {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisCache{client: client, breaker: breaker, log: log.Named("cache")}
}

func (c *RedisCache) Get(ctx context.Context, keyHash string) (*db.ValidatedAPIKey, bool, error) {
	var raw []byte
	err := c.breaker.Execute(ctx, func() error {
		b, err := c.client.Get(ctx, cacheKey(keyHash)).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		raw = b
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}
	if raw == nil {
		return nil, false, nil
	}

	var v db.ValidatedAPIKey
	if err := json.Unmarshal(raw, &v); err != nil {
		// Unreadable entries are dropped and treated as a miss.
		c.log.Warn("discarding undecodable cache entry", zap.Error(err))
		_ = c.Invalidate(ctx, keyHash)
		return nil, false, nil
	}
	return &v, true, nil
}

func (c *RedisCache) Put(ctx context.Context, keyHash string, v *db.ValidatedAPIKey, ttl time.Duration) error {
	if v == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	err = c.breaker.Execute(ctx, func() error {
		return c.client.Set(ctx, cacheKey(keyHash), raw, ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context, keyHash string) error {
	err := c.breaker.Execute(ctx, func() error {
		return c.client.Del(ctx, cacheKey(keyHash)).Err()
	})
	if err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	return nil
}

var _ ValidationCache = (*RedisCache)(nil)
