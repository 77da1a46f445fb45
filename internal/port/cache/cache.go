// Package cache defines the port interface for caching.
package cache

import (
	"context"
	"time"
)

// Cache is the port interface for key-value caching.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// BoardSlugKey is the cache key of a board's slug. Board ids are globally
// unique, so the key needs no tenant prefix.
func BoardSlugKey(boardID string) string {
	return "board-slug." + boardID
}
