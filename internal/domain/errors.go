package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrRateLimited     = errors.New("rate limited")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrInvalidOrder    = errors.New("invalid order parameters")
	ErrDuplicateOrder  = errors.New("duplicate client order id")
	ErrMarketClosed    = errors.New("market is not open for trading")
	ErrSelfTrade       = errors.New("order would self-trade")
	ErrOrderTerminal   = errors.New("order already in a terminal state")
	ErrPositionSettled = errors.New("position already settled")
	ErrSigningFailed   = errors.New("signing failed")
	ErrLockHeld        = errors.New("lock already held")
	ErrFeedUnavailable = errors.New("price feed unavailable")
	ErrAllowanceDenied = errors.New("insufficient allowance")
)

// RejectCode identifies why an order submission or cancellation was refused.
// Codes are stable strings surfaced to API callers and written to the audit
// trail, so they must never be renamed.
type RejectCode string

const (
	RejectInvalidRequest        RejectCode = "INVALID_REQUEST"
	RejectDuplicateOrder        RejectCode = "DUPLICATE_ORDER"
	RejectMarketClosed          RejectCode = "MARKET_CLOSED"
	RejectSelfTradePrevented    RejectCode = "SELF_TRADE_PREVENTED"
	RejectInsufficientAllowance RejectCode = "INSUFFICIENT_ALLOWANCE"
	RejectOrderNotFound         RejectCode = "ORDER_NOT_FOUND"
	RejectUnauthorized          RejectCode = "UNAUTHORIZED"
	RejectOrderAlreadyFilled    RejectCode = "ORDER_ALREADY_FILLED"
	RejectOrderAlreadyCancelled RejectCode = "ORDER_ALREADY_CANCELLED"
	RejectFillOrKill            RejectCode = "FOK_INSUFFICIENT_LIQUIDITY"
)

// Reject is a business-rule rejection. It wraps one of the sentinel errors
// above and carries the stable code plus a human-readable detail.
type Reject struct {
	Code   RejectCode
	Detail string
	Err    error
}

func (r *Reject) Error() string {
	if r.Detail == "" {
		return string(r.Code)
	}
	return string(r.Code) + ": " + r.Detail
}

func (r *Reject) Unwrap() error { return r.Err }

// NewReject builds a Reject with the given code, wrapped sentinel, and detail.
func NewReject(code RejectCode, err error, detail string) *Reject {
	return &Reject{Code: code, Detail: detail, Err: err}
}

// RejectCodeOf extracts the RejectCode from err, or "" if err is not a Reject.
func RejectCodeOf(err error) RejectCode {
	var r *Reject
	if errors.As(err, &r) {
		return r.Code
	}
	return ""
}
