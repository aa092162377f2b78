// Package cache stores short-lived values such as augmentation results and
// per-user quota counters.
package cache

import (
	"context"
	"time"
)

// Cache is a string key/value store with expiry.
type Cache interface {
	// Get returns the value and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Incr increments a counter. The ttl applies when the counter is created.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}
