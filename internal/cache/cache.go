// Package cache stores successful API key validations keyed by key hash.
package cache

import (
	"context"
	"time"

	"github.com/raakeshmj/keyplane/internal/db"
)

const (
	DefaultTTL = 300 * time.Second
	KeyPrefix  = "apikey:"
)

// ValidationCache holds only results of successful validations. Get reports
// a miss for absent or expired entries and for undecodable values.
type ValidationCache interface {
	Get(ctx context.Context, keyHash string) (*db.ValidatedAPIKey, bool, error)
	Put(ctx context.Context, keyHash string, v *db.ValidatedAPIKey, ttl time.Duration) error
	Invalidate(ctx context.Context, keyHash string) error
}

func cacheKey(keyHash string) string {
	return KeyPrefix + keyHash
}
