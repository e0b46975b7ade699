package domain

import "time"

// Fixed-point scales shared with the on-chain program. Prices and sizes are
// carried as int64 micro-units end to end; float64 is display-only.
const (
	PriceScale = 1_000_000 // 500_000 ticks = $0.50
	SizeScale  = 1_000_000 // 1_000_000 units = 1 contract
	TickSize   = 10_000    // $0.01 price grid

	MinPriceTicks = 10_000  // $0.01
	MaxPriceTicks = 990_000 // $0.99

	MinOrderUnits = 1_000           // 0.001 contracts
	MaxOrderUnits = 100_000_000_000 // 100,000 contracts
)

// Side indicates whether an order buys or sells contracts.
type Side string

const (
	SideBid Side = "bid"
	SideAsk Side = "ask"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBid {
		return SideAsk
	}
	return SideBid
}

// Outcome is the YES or NO leg of a binary market.
type Outcome string

const (
	OutcomeYes Outcome = "yes"
	OutcomeNo  Outcome = "no"
)

// Opposite returns the complementary outcome.
func (o Outcome) Opposite() Outcome {
	if o == OutcomeYes {
		return OutcomeNo
	}
	return OutcomeYes
}

// OrderType is the time-in-force policy.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
	OrderTypeIOC    OrderType = "ioc"
	OrderTypeFOK    OrderType = "fok"
)

// OrderStatus tracks the order lifecycle. Filled and cancelled are terminal.
type OrderStatus string

const (
	OrderStatusOpen      OrderStatus = "open"
	OrderStatusPartial   OrderStatus = "partial"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Terminal reports whether the status can no longer change.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled
}

// Order represents a signed trading order. Orders are never deleted, only
// terminalized; FilledUnits is mutated exclusively by the matching engine.
type Order struct {
	ID            string
	ClientOrderID uint64 // per-user dedup / replay-protection key
	MarketID      string
	UserID        string
	Side          Side
	Outcome       Outcome
	Type          OrderType
	PriceTicks    int64 // fixed-point: price * 1e6
	SizeUnits     int64 // fixed-point: size  * 1e6
	FilledUnits   int64
	Status        OrderStatus
	Signature     string // base64 ed25519 detached signature
	SignedMessage string // base64 of the canonical 81-byte order message
	ExpiryTS      int64  // unix seconds; 0 = no expiry
	MakerBot      bool   // true when placed by the quote engine
	CancelReason  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	FilledAt      *time.Time
	CancelledAt   *time.Time
}

// Price returns the float64 display price from fixed-point ticks.
func (o Order) Price() float64 { return float64(o.PriceTicks) / PriceScale }

// Size returns the float64 display size from fixed-point units.
func (o Order) Size() float64 { return float64(o.SizeUnits) / SizeScale }

// Remaining returns the unfilled size in units. Never negative.
func (o Order) Remaining() int64 {
	if r := o.SizeUnits - o.FilledUnits; r > 0 {
		return r
	}
	return 0
}

// SubmitResult is returned to callers after order submission.
type SubmitResult struct {
	OrderID     string
	Status      OrderStatus
	FillsCount  int
	FilledUnits int64
	AvgPrice    float64 // volume-weighted, 0 when nothing filled
	SpentMicros int64   // market-by-dollar: budget consumed (micro-USDC)
}

// CancelResult is returned after a successful cancellation.
type CancelResult struct {
	OrderID string
	Status  OrderStatus
}
