// Package engine implements the in-memory matching core: four
// price-time-priority order books per market (YES/NO x bid/ask), serialized
// per market so unrelated markets match concurrently.
package engine

import (
	"github.com/degenlabs/degen-exchange/internal/domain"
)

// Prices sit on a $0.01 grid in [$0.01, $0.99], so each book is a fixed
// ladder of 99 levels indexed by integer cents. FIFO within a level is the
// arrival order of the slice.
const numCents = 100

// book is one side of one outcome's ladder.
type book struct {
	side       domain.Side
	levels     [numCents][]*domain.Order
	totalUnits int64
}

func newBook(side domain.Side) *book {
	return &book{side: side}
}

func centOf(priceTicks int64) int {
	return int(priceTicks / domain.TickSize)
}

// add appends the order to its price level.
func (b *book) add(o *domain.Order) {
	c := centOf(o.PriceTicks)
	b.levels[c] = append(b.levels[c], o)
	b.totalUnits += o.Remaining()
}

// remove deletes the order from its price level, preserving FIFO order of the
// remaining entries.
func (b *book) remove(o *domain.Order) bool {
	c := centOf(o.PriceTicks)
	for i, resting := range b.levels[c] {
		if resting.ID == o.ID {
			b.levels[c] = append(b.levels[c][:i], b.levels[c][i+1:]...)
			b.totalUnits -= resting.Remaining()
			return true
		}
	}
	return false
}

// reduce records units consumed from a resting order by a fill.
func (b *book) reduce(units int64) {
	b.totalUnits -= units
}

// bestCent returns the best-priced non-empty level, or -1 when the book is
// empty. Bids are best-high, asks best-low.
func (b *book) bestCent() int {
	if b.side == domain.SideBid {
		for c := numCents - 1; c >= 1; c-- {
			if len(b.levels[c]) > 0 {
				return c
			}
		}
		return -1
	}
	for c := 1; c < numCents; c++ {
		if len(b.levels[c]) > 0 {
			return c
		}
	}
	return -1
}

// crosses reports whether a resting level at cent c is crossable by an
// incoming order limited to limitCent. A limitCent of 0 on the ask walk (or
// 99+ on the bid walk) is handled by the caller passing the widest bound.
func (b *book) crosses(c, limitCent int) bool {
	if b.side == domain.SideAsk {
		return c <= limitCent // resting asks at or below the incoming bid
	}
	return c >= limitCent // resting bids at or above the incoming ask
}

// walk iterates resting orders from the best price inward while the level
// crosses limitCent, calling fn for each order. fn returns false to stop.
// Orders fully consumed by fn must be pruned by the caller via remove.
func (b *book) walk(limitCent int, fn func(o *domain.Order) bool) {
	if b.side == domain.SideAsk {
		for c := 1; c < numCents; c++ {
			if !b.crosses(c, limitCent) {
				return
			}
			if !b.walkLevel(c, fn) {
				return
			}
		}
		return
	}
	for c := numCents - 1; c >= 1; c-- {
		if !b.crosses(c, limitCent) {
			return
		}
		if !b.walkLevel(c, fn) {
			return
		}
	}
}

func (b *book) walkLevel(c int, fn func(o *domain.Order) bool) bool {
	// fn may remove the order it was handed, shifting the level in place, so
	// the index only advances past entries that survived the callback.
	for i := 0; i < len(b.levels[c]); {
		o := b.levels[c][i]
		if o.Remaining() == 0 {
			i++
			continue
		}
		if !fn(o) {
			return false
		}
		if i < len(b.levels[c]) && b.levels[c][i] == o {
			i++
		}
	}
	return true
}

// availableUnits sums the resting size crossable at limitCent, excluding
// orders owned by excludeUser. Used for fill-or-kill feasibility.
func (b *book) availableUnits(limitCent int, excludeUser string) int64 {
	var total int64
	b.walk(limitCent, func(o *domain.Order) bool {
		if o.UserID != excludeUser {
			total += o.Remaining()
		}
		return true
	})
	return total
}

// hasUserOrder reports whether the user owns any resting order crossable at
// limitCent. Used for synchronous self-trade prevention.
func (b *book) hasUserOrder(limitCent int, userID string) bool {
	found := false
	b.walk(limitCent, func(o *domain.Order) bool {
		if o.UserID == userID {
			found = true
			return false
		}
		return true
	})
	return found
}

// DepthLevel is one aggregated price level of a book snapshot.
type DepthLevel struct {
	PriceTicks int64
	SizeUnits  int64
	Orders     int
}

// depth aggregates the book into per-level totals, best price first.
func (b *book) depth() []DepthLevel {
	var out []DepthLevel
	appendLevel := func(c int) {
		if len(b.levels[c]) == 0 {
			return
		}
		lvl := DepthLevel{PriceTicks: int64(c) * domain.TickSize}
		for _, o := range b.levels[c] {
			lvl.SizeUnits += o.Remaining()
			lvl.Orders++
		}
		out = append(out, lvl)
	}
	if b.side == domain.SideBid {
		for c := numCents - 1; c >= 1; c-- {
			appendLevel(c)
		}
	} else {
		for c := 1; c < numCents; c++ {
			appendLevel(c)
		}
	}
	return out
}
