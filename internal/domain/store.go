package domain

import (
	"context"
	"time"
)

// ListOpts carries pagination and time-range filters for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketStore persists markets.
type MarketStore interface {
	Create(ctx context.Context, m Market) error
	GetByID(ctx context.Context, id string) (Market, error)
	ListByStatus(ctx context.Context, status MarketStatus) ([]Market, error)
	// UpdateStatus applies a forward-only status transition; it returns
	// ErrAlreadyExists when the market is already at or past the target.
	UpdateStatus(ctx context.Context, id string, status MarketStatus) error
	// UpdatePrices publishes the latest YES/NO fair prices and bumps the
	// volume/trade counters by the given deltas.
	UpdatePrices(ctx context.Context, id string, yesTicks, noTicks int64, volumeDeltaMicro int64, tradeDelta int64) error
	SetResolution(ctx context.Context, id string, outcome MarketOutcome, finalPrice float64) error
}

// OrderStore persists orders.
type OrderStore interface {
	Create(ctx context.Context, o Order) error
	GetByID(ctx context.Context, id string) (Order, error)
	// Update rewrites the mutable fields (filled size, status, timestamps,
	// cancel reason) of an existing order.
	Update(ctx context.Context, o Order) error
	ListOpenByMarket(ctx context.Context, marketID string) ([]Order, error)
	ListByUser(ctx context.Context, userID string, opts ListOpts) ([]Order, error)
	ListBefore(ctx context.Context, before time.Time) ([]Order, error)
}

// FillStore persists fills.
type FillStore interface {
	Create(ctx context.Context, f Fill) error
	GetByID(ctx context.Context, id string) (Fill, error)
	// UpdateSettlement attaches the settlement result. The transition away
	// from pending happens at most once; a second call returns
	// ErrAlreadyExists.
	UpdateSettlement(ctx context.Context, id string, status FillStatus, txSignature, failureCode string) error
	ListByMarket(ctx context.Context, marketID string, opts ListOpts) ([]Fill, error)
	ListPending(ctx context.Context, limit int) ([]Fill, error)
	ListBefore(ctx context.Context, before time.Time) ([]Fill, error)
}

// PositionStore persists positions.
type PositionStore interface {
	// Upsert inserts or replaces the position for (position.UserID,
	// position.MarketID).
	Upsert(ctx context.Context, p Position) error
	GetByID(ctx context.Context, id string) (Position, error)
	Get(ctx context.Context, userID, marketID string) (Position, error)
	ListByMarket(ctx context.Context, marketID string) ([]Position, error)
	ListByUser(ctx context.Context, userID string) ([]Position, error)
}

// AuditStore records structured audit events for every state-changing action.
type AuditStore interface {
	Log(ctx context.Context, event string, details map[string]any) error
}

// AllowanceChecker is the pre-trade credit check backed by the on-chain
// delegation program. Every BID must pass before it is accepted.
type AllowanceChecker interface {
	CheckAllowance(ctx context.Context, userID string, requiredMicro int64) (AllowanceResult, error)
}

// AllowanceResult is the outcome of a delegation check.
type AllowanceResult struct {
	Approved bool
	Reason   string
}
