package maker

import (
	"context"
	"time"
)

// Scheduler delivers requote ticks. The interval implementation drives
// production; tests drive ticks by hand for determinism.
type Scheduler interface {
	// Ticks returns a channel that fires once per requote cycle. The channel
	// closes when ctx ends.
	Ticks(ctx context.Context) <-chan time.Time
}

// IntervalScheduler ticks on a fixed wall-clock interval.
type IntervalScheduler struct {
	Interval time.Duration
}

var _ Scheduler = (*IntervalScheduler)(nil)

func (s IntervalScheduler) Ticks(ctx context.Context) <-chan time.Time {
	out := make(chan time.Time)
	go func() {
		defer close(out)
		ticker := time.NewTicker(s.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				select {
				case out <- t:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// ManualScheduler exposes a Tick method for deterministic tests.
type ManualScheduler struct {
	ch chan time.Time
}

var _ Scheduler = (*ManualScheduler)(nil)

func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{ch: make(chan time.Time)}
}

func (s *ManualScheduler) Ticks(ctx context.Context) <-chan time.Time {
	out := make(chan time.Time)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-s.ch:
				select {
				case out <- t:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Tick delivers one tick, blocking until the maker picks it up.
func (s *ManualScheduler) Tick(t time.Time) {
	s.ch <- t
}
