package domain

import "time"

// PositionStatus tracks whether a position is live or paid out.
type PositionStatus string

const (
	PositionStatusOpen    PositionStatus = "open"
	PositionStatusSettled PositionStatus = "settled"
)

// Position is the per (user, market) share and cost-basis ledger entry.
// Created lazily on first fill, mutated by every fill touching the pair, and
// finalized exactly once at market settlement.
//
// Share quantities are stored in 1e6 units and truncated (never rounded up)
// so the ledger never credits more than the settlement backend can represent.
type Position struct {
	ID       string
	UserID   string
	MarketID string

	YesShares int64 // units, 1e6 = 1 contract
	NoShares  int64

	YesCostMicro int64 // micro-USDC paid for the YES holding
	NoCostMicro  int64

	YesAvgEntryTicks int64 // weighted average entry price, 1e6 fixed-point
	NoAvgEntryTicks  int64

	RealizedPnLMicro int64 // signed, accumulates on sells

	Status      PositionStatus
	PayoutMicro int64

	CreatedAt time.Time
	UpdatedAt time.Time
	SettledAt *time.Time
}

// Shares returns the holding for the given outcome in units.
func (p Position) Shares(o Outcome) int64 {
	if o == OutcomeYes {
		return p.YesShares
	}
	return p.NoShares
}

// AvgEntryTicks returns the average entry price for the given outcome.
func (p Position) AvgEntryTicks(o Outcome) int64 {
	if o == OutcomeYes {
		return p.YesAvgEntryTicks
	}
	return p.NoAvgEntryTicks
}

// TotalCostMicro is the combined cost basis of both legs.
func (p Position) TotalCostMicro() int64 {
	return p.YesCostMicro + p.NoCostMicro
}
