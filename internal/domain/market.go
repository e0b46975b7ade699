package domain

import "time"

// MarketStatus is the lifecycle state of a market. Transitions are monotonic:
// open -> closed -> resolved -> settled, never regressing.
type MarketStatus string

const (
	MarketStatusOpen     MarketStatus = "open"
	MarketStatusClosed   MarketStatus = "closed"
	MarketStatusResolved MarketStatus = "resolved"
	MarketStatusSettled  MarketStatus = "settled"
)

var marketStatusRank = map[MarketStatus]int{
	MarketStatusOpen:     0,
	MarketStatusClosed:   1,
	MarketStatusResolved: 2,
	MarketStatusSettled:  3,
}

// CanTransitionTo reports whether moving from s to next is a forward step.
func (s MarketStatus) CanTransitionTo(next MarketStatus) bool {
	return marketStatusRank[next] > marketStatusRank[s]
}

// MarketOutcome is the resolved result of a market.
type MarketOutcome string

const (
	MarketOutcomePending MarketOutcome = "pending"
	MarketOutcomeYes     MarketOutcome = "yes"
	MarketOutcomeNo      MarketOutcome = "no"
)

// TradingCloseBuffer is how long before expiry trading stops, mirroring the
// on-chain program's close buffer.
const TradingCloseBuffer = 30 * time.Second

// Market represents one binary price market (asset above/below strike at
// expiry). Created by an external market-creation process; mutated by matching
// (published prices, counters), the keeper (status), and settlement (settled).
type Market struct {
	ID            string
	Address       string // base58 on-chain market account (PDA)
	Asset         string // BTC, ETH, SOL
	Timeframe     string // 5m, 15m, 1h, 4h, 24h
	StrikePrice   float64
	FinalPrice    float64
	ExpiryAt      time.Time
	Status        MarketStatus
	Outcome       MarketOutcome
	YesPriceTicks int64 // last published YES fair price
	NoPriceTicks  int64
	VolumeMicros  int64 // total traded notional, micro-USDC
	TradeCount    int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ResolvedAt    *time.Time
	SettledAt     *time.Time
}

// TradingOpen reports whether orders may still be matched at now.
func (m Market) TradingOpen(now time.Time) bool {
	return m.Status == MarketStatusOpen && now.Before(m.ExpiryAt.Add(-TradingCloseBuffer))
}
