// Package feed exposes spot prices to the quote engine and keeper. The
// actual ingestion runs in a separate process that writes the shared price
// cache; this package only reads it.
package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/degenlabs/degen-exchange/internal/domain"
)

// Source yields the latest spot price for an asset.
type Source interface {
	Price(ctx context.Context, asset string) (float64, time.Time, error)
}

// CacheSource reads prices from the shared cache, rejecting entries older
// than maxAge as stale.
type CacheSource struct {
	cache  domain.PriceCache
	maxAge time.Duration
}

var _ Source = (*CacheSource)(nil)

// NewCacheSource creates a CacheSource. maxAge <= 0 disables staleness
// checks.
func NewCacheSource(cache domain.PriceCache, maxAge time.Duration) *CacheSource {
	return &CacheSource{cache: cache, maxAge: maxAge}
}

func (s *CacheSource) Price(ctx context.Context, asset string) (float64, time.Time, error) {
	price, ts, err := s.cache.GetPrice(ctx, asset)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("feed: %s: %w", asset, domain.ErrFeedUnavailable)
	}
	if s.maxAge > 0 && time.Since(ts) > s.maxAge {
		return 0, time.Time{}, fmt.Errorf("feed: %s price is %s old: %w", asset, time.Since(ts).Round(time.Second), domain.ErrFeedUnavailable)
	}
	return price, ts, nil
}

// StaticSource serves fixed prices, for simulation and tests.
type StaticSource struct {
	mu     sync.RWMutex
	prices map[string]float64
}

var _ Source = (*StaticSource)(nil)

func NewStaticSource() *StaticSource {
	return &StaticSource{prices: make(map[string]float64)}
}

// Set fixes the price for an asset.
func (s *StaticSource) Set(asset string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[asset] = price
}

func (s *StaticSource) Price(_ context.Context, asset string) (float64, time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	price, ok := s.prices[asset]
	if !ok {
		return 0, time.Time{}, fmt.Errorf("feed: %s: %w", asset, domain.ErrFeedUnavailable)
	}
	return price, time.Now().UTC(), nil
}
