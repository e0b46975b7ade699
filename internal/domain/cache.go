package domain

import (
	"context"
	"time"
)

// PriceCache stores the latest observed spot price per asset. The external
// feed process writes it; the quote engine and keeper read it.
type PriceCache interface {
	SetPrice(ctx context.Context, asset string, price float64, ts time.Time) error
	// GetPrice returns ErrNotFound when no price has been published.
	GetPrice(ctx context.Context, asset string) (float64, time.Time, error)
}

// RateLimiter enforces a sliding-window request budget per key.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed mutual exclusion, used to keep settlement
// retries for the same fill from running concurrently across processes.
// Acquire returns ErrLockHeld when another holder owns the lock.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// SignalBus publishes exchange events (orders, fills, settlements) to
// downstream consumers.
type SignalBus interface {
	Publish(ctx context.Context, stream string, payload []byte) error
}

// BlobWriter uploads an object to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data []byte, contentType string) error
}
