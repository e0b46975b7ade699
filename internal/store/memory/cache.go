package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/degenlabs/degen-exchange/internal/domain"
)

// PriceCache is an in-memory domain.PriceCache.
type PriceCache struct {
	mu     sync.RWMutex
	prices map[string]pricePoint
}

type pricePoint struct {
	price float64
	ts    time.Time
}

var _ domain.PriceCache = (*PriceCache)(nil)

func NewPriceCache() *PriceCache {
	return &PriceCache{prices: make(map[string]pricePoint)}
}

func (c *PriceCache) SetPrice(_ context.Context, asset string, price float64, ts time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[asset] = pricePoint{price: price, ts: ts}
	return nil
}

func (c *PriceCache) GetPrice(_ context.Context, asset string) (float64, time.Time, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.prices[asset]
	if !ok {
		return 0, time.Time{}, fmt.Errorf("memory: price for %s: %w", asset, domain.ErrNotFound)
	}
	return p.price, p.ts, nil
}

// LockManager is an in-process domain.LockManager.
type LockManager struct {
	mu    sync.Mutex
	locks map[string]time.Time // key -> expiry
}

var _ domain.LockManager = (*LockManager)(nil)

func NewLockManager() *LockManager {
	return &LockManager{locks: make(map[string]time.Time)}
}

func (m *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if expiry, ok := m.locks[key]; ok && time.Now().Before(expiry) {
		return nil, fmt.Errorf("memory: lock %s: %w", key, domain.ErrLockHeld)
	}
	m.locks[key] = time.Now().Add(ttl)
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.locks, key)
	}, nil
}

// RateLimiter is an in-memory sliding-window domain.RateLimiter.
type RateLimiter struct {
	mu   sync.Mutex
	hits map[string][]time.Time
}

var _ domain.RateLimiter = (*RateLimiter)(nil)

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{hits: make(map[string][]time.Time)}
}

func (r *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	cutoff := now.Add(-window)
	kept := r.hits[key][:0]
	for _, t := range r.hits[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= limit {
		r.hits[key] = kept
		return false, nil
	}
	r.hits[key] = append(kept, now)
	return true, nil
}

// SignalBus is an in-memory domain.SignalBus that retains published events
// for inspection in tests.
type SignalBus struct {
	mu     sync.Mutex
	events map[string][][]byte
}

var _ domain.SignalBus = (*SignalBus)(nil)

func NewSignalBus() *SignalBus {
	return &SignalBus{events: make(map[string][][]byte)}
}

func (b *SignalBus) Publish(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[stream] = append(b.events[stream], payload)
	return nil
}

// Events returns everything published to the stream.
func (b *SignalBus) Events(stream string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]byte, len(b.events[stream]))
	copy(out, b.events[stream])
	return out
}
