// Package maker is the automated quote engine: it derives a fair value for
// each market from the spot feed and keeps a two-sided ladder of limit
// orders around it, refreshed by cancel-then-replace on every tick.
package maker

import (
	"math"
	"time"

	"github.com/degenlabs/degen-exchange/internal/domain"
)

// Fair-value model bounds. The model is a linear moneyness ramp damped as
// expiry approaches resolution certainty, clamped away from the price rails.
const (
	fairValueFloor = 0.05
	fairValueCeil  = 0.95

	moneynessGain = 5.0
	timeFloor     = 0.1
	timeHorizon   = time.Hour
)

// FairValue estimates the YES probability from the spot price, the strike,
// and time to expiry, rounded to the $0.01 grid.
func FairValue(spot, strike float64, timeToExpiry time.Duration) float64 {
	if strike <= 0 {
		return 0.50
	}
	moneyness := (spot - strike) / strike
	timeFactor := math.Max(timeFloor, 1-timeToExpiry.Seconds()/timeHorizon.Seconds())
	fv := 0.50 + moneyness*moneynessGain*timeFactor
	fv = math.Max(fairValueFloor, math.Min(fairValueCeil, fv))
	return math.Round(fv*100) / 100
}

// Quote is one side of one ladder level.
type Quote struct {
	Outcome    domain.Outcome
	Side       domain.Side
	PriceTicks int64
	SizeUnits  int64
}

// LadderParams shape the quote ladder.
type LadderParams struct {
	SpreadTicks int64 // full bid-ask spread at level 0
	Levels      int   // ladder depth per side
	StepTicks   int64 // extra offset per level
	SizeUnits   int64 // size per quote
}

// BuildLadder produces the full quote set for both outcomes around the YES
// fair value. The NO ladder mirrors the YES one at complementary prices.
// Levels that would leave the valid price range are dropped.
func BuildLadder(yesFairTicks int64, p LadderParams) []Quote {
	half := p.SpreadTicks / 2
	noFairTicks := domain.PriceScale - yesFairTicks

	var quotes []Quote
	appendQuote := func(outcome domain.Outcome, side domain.Side, ticks int64) {
		ticks = snapToGrid(ticks)
		if ticks < domain.MinPriceTicks || ticks > domain.MaxPriceTicks {
			return
		}
		quotes = append(quotes, Quote{
			Outcome:    outcome,
			Side:       side,
			PriceTicks: ticks,
			SizeUnits:  p.SizeUnits,
		})
	}

	for i := 0; i < p.Levels; i++ {
		offset := half + int64(i)*p.StepTicks
		appendQuote(domain.OutcomeYes, domain.SideBid, yesFairTicks-offset)
		appendQuote(domain.OutcomeYes, domain.SideAsk, yesFairTicks+offset)
		appendQuote(domain.OutcomeNo, domain.SideBid, noFairTicks-offset)
		appendQuote(domain.OutcomeNo, domain.SideAsk, noFairTicks+offset)
	}
	return quotes
}

func snapToGrid(ticks int64) int64 {
	return ticks / domain.TickSize * domain.TickSize
}

// FairTicks converts a float fair value to fixed-point ticks on the grid.
func FairTicks(fv float64) int64 {
	return snapToGrid(int64(math.Round(fv * domain.PriceScale)))
}
