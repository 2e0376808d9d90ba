package cache

import (
	"context"
	"sync"
	"time"

	"github.com/raakeshmj/keyplane/internal/clock"
	"github.com/raakeshmj/keyplane/internal/db"
)

type Item struct {
	Value      db.ValidatedAPIKey
	Expiration time.Time
}

// MemoryCache is a process-local ValidationCache with lazy expiration.
type MemoryCache struct {
	items map[string]Item
	clock clock.Clock
	mu    sync.RWMutex
}

func NewMemoryCache(clk clock.Clock) *MemoryCache {
	if clk == nil {
		clk = clock.Real()
	}
	return &MemoryCache{
		items: make(map[string]Item),
		clock: clk,
	}
}

func (c *MemoryCache) Put(ctx context.Context, keyHash string, v *db.ValidatedAPIKey, ttl time.Duration) error {
	if v == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[cacheKey(keyHash)] = Item{
		Value:      *v,
		Expiration: c.clock.Now().Add(ttl),
	}
	return nil
}

func (c *MemoryCache) Get(ctx context.Context, keyHash string) (*db.ValidatedAPIKey, bool, error) {
	key := cacheKey(keyHash)

	c.mu.RLock()
	item, found := c.items[key]
	c.mu.RUnlock()
	if !found {
		return nil, false, nil
	}

	if !c.clock.Now().Before(item.Expiration) {
		c.mu.Lock()
		if cur, ok := c.items[key]; ok && cur.Expiration.Equal(item.Expiration) {
			delete(c.items, key)
		}
		c.mu.Unlock()
		return nil, false, nil
	}

	v := item.Value
	return &v, true, nil
}

func (c *MemoryCache) Invalidate(ctx context.Context, keyHash string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, cacheKey(keyHash))
	return nil
}

func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

var _ ValidationCache = (*MemoryCache)(nil)
