package domain

import "time"

// FillStatus is the settlement state of a fill. Pending fills transition
// at most once, to confirmed or failed.
type FillStatus string

const (
	FillStatusPending   FillStatus = "pending"
	FillStatusConfirmed FillStatus = "confirmed"
	FillStatusFailed    FillStatus = "failed"
)

// Fill is the immutable record of one match between a resting (maker) order
// and an incoming (taker) order. It references both orders by id only; the
// orders themselves may be mutated concurrently elsewhere. After creation the
// only permitted mutation is attaching the settlement signature and status.
type Fill struct {
	ID           string
	MarketID     string
	MakerOrderID string
	TakerOrderID string
	MakerUserID  string
	TakerUserID  string

	// Taker leg. Execution happens at the maker's resting price.
	TakerSide          Side
	TakerOutcome       Outcome
	PriceTicks         int64 // maker price, fixed-point 1e6
	TakerNotionalMicro int64 // price * size, micro-USDC
	TakerFeeMicro      int64

	// Maker leg: the complementary outcome at the complementary price
	// (an opening trade mints a YES/NO pair).
	MakerOutcome       Outcome
	MakerPriceTicks    int64
	MakerNotionalMicro int64
	MakerFeeMicro      int64

	SizeUnits int64 // matched size, fixed-point 1e6

	Status      FillStatus
	TxSignature string // settlement transaction signature
	FailureCode string // set when Status == failed
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Price returns the float64 display execution price.
func (f Fill) Price() float64 { return float64(f.PriceTicks) / PriceScale }

// Size returns the float64 display matched size.
func (f Fill) Size() float64 { return float64(f.SizeUnits) / SizeScale }
