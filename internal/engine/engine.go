package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/degenlabs/degen-exchange/internal/domain"
)

// Config holds the matching parameters shared by every market.
type Config struct {
	MakerFeeBps int64
	TakerFeeBps int64
}

// Engine owns the order books for every registered market. All operations
// against a single market are serialized by that market's mutex; unrelated
// markets match concurrently.
type Engine struct {
	mu      sync.RWMutex
	markets map[string]*marketState

	cfg    Config
	logger *slog.Logger
}

// New creates an Engine with no registered markets.
func New(cfg Config, logger *slog.Logger) *Engine {
	return &Engine{
		markets: make(map[string]*marketState),
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "matching_engine")),
	}
}

type bookKey struct {
	outcome domain.Outcome
	side    domain.Side
}

// marketState is the per-market mutual-exclusion domain: the four books plus
// every order the market has ever seen. Orders are terminalized, never
// forgotten, so duplicate client ids and cancel races stay detectable.
type marketState struct {
	mu       sync.Mutex
	marketID string
	status   domain.MarketStatus

	books     map[bookKey]*book
	orders    map[string]*domain.Order // by order id, resting and terminal
	clientIDs map[string]string        // userID + "#" + clientOrderID -> order id
}

func newMarketState(m domain.Market) *marketState {
	books := map[bookKey]*book{
		{domain.OutcomeYes, domain.SideBid}: newBook(domain.SideBid),
		{domain.OutcomeYes, domain.SideAsk}: newBook(domain.SideAsk),
		{domain.OutcomeNo, domain.SideBid}:  newBook(domain.SideBid),
		{domain.OutcomeNo, domain.SideAsk}:  newBook(domain.SideAsk),
	}
	return &marketState{
		marketID:  m.ID,
		status:    m.Status,
		books:     books,
		orders:    make(map[string]*domain.Order),
		clientIDs: make(map[string]string),
	}
}

func clientKey(userID string, clientOrderID uint64) string {
	return fmt.Sprintf("%s#%d", userID, clientOrderID)
}

// Result is the outcome of a submission: the final state of the incoming
// order, the fills produced, and every maker order whose state changed.
type Result struct {
	Order  domain.Order
	Fills  []domain.Fill
	Makers []domain.Order
}

// FilledUnits sums the matched size across fills.
func (r Result) FilledUnits() int64 {
	var total int64
	for _, f := range r.Fills {
		total += f.SizeUnits
	}
	return total
}

// AvgPriceTicks is the volume-weighted average execution price, 0 if unfilled.
func (r Result) AvgPriceTicks() int64 {
	var units, notional int64
	for _, f := range r.Fills {
		units += f.SizeUnits
		notional += f.PriceTicks * f.SizeUnits / domain.SizeScale
	}
	if units == 0 {
		return 0
	}
	return notional * domain.SizeScale / units
}

// RegisterMarket makes a market's books available for matching. Re-registering
// an existing market only refreshes its status.
func (e *Engine) RegisterMarket(m domain.Market) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ms, ok := e.markets[m.ID]; ok {
		ms.mu.Lock()
		ms.status = m.Status
		ms.mu.Unlock()
		return
	}
	e.markets[m.ID] = newMarketState(m)
}

func (e *Engine) market(marketID string) (*marketState, error) {
	e.mu.RLock()
	ms, ok := e.markets[marketID]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("engine: market %s: %w", marketID, domain.ErrNotFound)
	}
	return ms, nil
}

// SubmitLimit validates and matches an incoming order, resting any remainder
// when the order type allows it. The returned Result reflects every mutation;
// persistence is the caller's concern.
func (e *Engine) SubmitLimit(o domain.Order) (Result, error) {
	ms, err := e.market(o.MarketID)
	if err != nil {
		return Result{}, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if err := validateOrder(o); err != nil {
		return Result{}, err
	}
	if _, dup := ms.clientIDs[clientKey(o.UserID, o.ClientOrderID)]; dup {
		return Result{}, domain.NewReject(domain.RejectDuplicateOrder, domain.ErrDuplicateOrder,
			fmt.Sprintf("client order id %d already used", o.ClientOrderID))
	}
	if ms.status != domain.MarketStatusOpen {
		return Result{}, domain.NewReject(domain.RejectMarketClosed, domain.ErrMarketClosed, "market "+o.MarketID)
	}

	opposite := ms.books[bookKey{o.Outcome, o.Side.Opposite()}]
	limitCent := centOf(o.PriceTicks)

	// Self-trades are rejected outright, never skipped over.
	if opposite.hasUserOrder(limitCent, o.UserID) {
		return Result{}, domain.NewReject(domain.RejectSelfTradePrevented, domain.ErrSelfTrade,
			"resting order on the opposite side would self-match")
	}

	if o.Type == domain.OrderTypeFOK {
		// All-or-nothing against currently available liquidity.
		if opposite.availableUnits(limitCent, o.UserID) < o.SizeUnits {
			now := time.Now().UTC()
			o.Status = domain.OrderStatusCancelled
			o.CancelReason = string(domain.RejectFillOrKill)
			o.CancelledAt = &now
			o.UpdatedAt = now
			ms.rememberOrder(&o)
			return Result{Order: o}, nil
		}
	}

	res := ms.match(&o, opposite, limitCent, e.cfg)

	switch {
	case o.Remaining() == 0:
		terminalizeFilled(&o)
	case o.Type == domain.OrderTypeLimit:
		// Status tracks filled vs size, so a partially matched rester is
		// partial from the moment it hits the book.
		if o.FilledUnits > 0 {
			o.Status = domain.OrderStatusPartial
		} else {
			o.Status = domain.OrderStatusOpen
		}
		ms.books[bookKey{o.Outcome, o.Side}].add(&o)
		o.UpdatedAt = time.Now().UTC()
	default:
		// Market/IOC remainders never rest.
		cancelRemainder(&o, "unfilled remainder")
	}

	ms.rememberOrder(&o)
	res.Order = o

	e.logger.Debug("engine: limit processed",
		slog.String("order_id", o.ID),
		slog.String("market", o.MarketID),
		slog.Int("fills", len(res.Fills)),
		slog.String("status", string(o.Status)),
	)
	return res, nil
}

// DollarResult is the outcome of a market buy by dollar budget.
type DollarResult struct {
	Result
	ContractsUnits int64
	SpentMicro     int64
	UnspentMicro   int64
}

// SubmitMarketByDollar walks the ask book for the outcome, converting the
// remaining dollar budget into contracts at each level's price until the
// budget or the book is exhausted or the level exceeds maxPriceTicks. The
// order is fully immediate-or-cancel by construction: no remainder rests.
func (e *Engine) SubmitMarketByDollar(o domain.Order, budgetMicro, maxPriceTicks int64) (DollarResult, error) {
	ms, err := e.market(o.MarketID)
	if err != nil {
		return DollarResult{}, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if budgetMicro <= 0 || maxPriceTicks < domain.MinPriceTicks {
		return DollarResult{}, domain.NewReject(domain.RejectInvalidRequest, domain.ErrInvalidOrder,
			"budget must be positive and max price at least $0.01")
	}
	if _, dup := ms.clientIDs[clientKey(o.UserID, o.ClientOrderID)]; dup {
		return DollarResult{}, domain.NewReject(domain.RejectDuplicateOrder, domain.ErrDuplicateOrder,
			fmt.Sprintf("client order id %d already used", o.ClientOrderID))
	}
	if ms.status != domain.MarketStatusOpen {
		return DollarResult{}, domain.NewReject(domain.RejectMarketClosed, domain.ErrMarketClosed, "market "+o.MarketID)
	}

	o.Side = domain.SideBid
	o.Type = domain.OrderTypeMarket
	// The order arrives carrying the budget, not a contract size; its size
	// grows with each fill.
	o.SizeUnits = 0
	o.FilledUnits = 0
	asks := ms.books[bookKey{o.Outcome, domain.SideAsk}]
	limitCent := centOf(maxPriceTicks)

	if asks.hasUserOrder(limitCent, o.UserID) {
		return DollarResult{}, domain.NewReject(domain.RejectSelfTradePrevented, domain.ErrSelfTrade,
			"resting ask would self-match")
	}

	dr := DollarResult{}
	remaining := budgetMicro

	asks.walk(limitCent, func(maker *domain.Order) bool {
		if remaining <= 0 {
			return false
		}
		// Truncate, never round up: the settlement backend cannot credit
		// sub-micro share fractions.
		affordable := remaining * domain.SizeScale / maker.PriceTicks
		if affordable <= 0 {
			return false
		}
		take := min64(affordable, maker.Remaining())
		cost := maker.PriceTicks * take / domain.SizeScale

		fill := buildFill(&o, maker, take, e.cfg)
		dr.Fills = append(dr.Fills, fill)
		applyFillToMaker(ms, asks, maker, take, &dr.Result)

		o.FilledUnits += take
		o.SizeUnits += take // market-by-dollar orders grow to their fill
		dr.ContractsUnits += take
		dr.SpentMicro += cost
		remaining -= cost
		return true
	})
	dr.UnspentMicro = remaining

	if dr.ContractsUnits > 0 {
		terminalizeFilled(&o)
	} else {
		cancelRemainder(&o, "no crossable liquidity")
	}
	ms.rememberOrder(&o)
	dr.Order = o
	return dr, nil
}

// SellResult is the outcome of a market sell.
type SellResult struct {
	Result
	SoldUnits   int64
	UnsoldUnits int64
}

// SubmitSell walks the bid book for the outcome, selling up to the order size
// at prices at or above minPriceTicks. Unsold remainder is dropped, never
// rested.
func (e *Engine) SubmitSell(o domain.Order, minPriceTicks int64) (SellResult, error) {
	ms, err := e.market(o.MarketID)
	if err != nil {
		return SellResult{}, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if o.SizeUnits < domain.MinOrderUnits || minPriceTicks < domain.MinPriceTicks || minPriceTicks > domain.MaxPriceTicks {
		return SellResult{}, domain.NewReject(domain.RejectInvalidRequest, domain.ErrInvalidOrder,
			"size and min price out of range")
	}
	if _, dup := ms.clientIDs[clientKey(o.UserID, o.ClientOrderID)]; dup {
		return SellResult{}, domain.NewReject(domain.RejectDuplicateOrder, domain.ErrDuplicateOrder,
			fmt.Sprintf("client order id %d already used", o.ClientOrderID))
	}
	if ms.status != domain.MarketStatusOpen {
		return SellResult{}, domain.NewReject(domain.RejectMarketClosed, domain.ErrMarketClosed, "market "+o.MarketID)
	}

	o.Side = domain.SideAsk
	o.Type = domain.OrderTypeMarket
	bids := ms.books[bookKey{o.Outcome, domain.SideBid}]
	limitCent := centOf(minPriceTicks)

	if bids.hasUserOrder(limitCent, o.UserID) {
		return SellResult{}, domain.NewReject(domain.RejectSelfTradePrevented, domain.ErrSelfTrade,
			"resting bid would self-match")
	}

	sr := SellResult{}
	bids.walk(limitCent, func(maker *domain.Order) bool {
		if o.Remaining() == 0 {
			return false
		}
		take := min64(o.Remaining(), maker.Remaining())

		fill := buildFill(&o, maker, take, e.cfg)
		sr.Fills = append(sr.Fills, fill)
		applyFillToMaker(ms, bids, maker, take, &sr.Result)

		o.FilledUnits += take
		sr.SoldUnits += take
		return true
	})
	sr.UnsoldUnits = o.Remaining()

	if o.Remaining() == 0 {
		terminalizeFilled(&o)
	} else {
		cancelRemainder(&o, "unfilled remainder")
	}
	ms.rememberOrder(&o)
	sr.Order = o
	return sr, nil
}

// Cancel removes a resting order. It is idempotent against terminal orders in
// the sense that the failure mode is a specific, stable rejection.
func (e *Engine) Cancel(marketID, orderID, requesterUserID string) (domain.Order, error) {
	ms, err := e.market(marketID)
	if err != nil {
		return domain.Order{}, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	o, ok := ms.orders[orderID]
	if !ok {
		return domain.Order{}, domain.NewReject(domain.RejectOrderNotFound, domain.ErrNotFound, "order "+orderID)
	}
	if o.UserID != requesterUserID {
		return domain.Order{}, domain.NewReject(domain.RejectUnauthorized, domain.ErrUnauthorized, "order "+orderID)
	}
	switch o.Status {
	case domain.OrderStatusFilled:
		return domain.Order{}, domain.NewReject(domain.RejectOrderAlreadyFilled, domain.ErrOrderTerminal, "order "+orderID)
	case domain.OrderStatusCancelled:
		return domain.Order{}, domain.NewReject(domain.RejectOrderAlreadyCancelled, domain.ErrOrderTerminal, "order "+orderID)
	}

	ms.books[bookKey{o.Outcome, o.Side}].remove(o)
	cancelRemainder(o, "cancelled by user")
	return *o, nil
}

// CancelAllForMarket bulk-cancels every open and partial order in the market.
// The market mutex makes the sweep atomic: no order can match against the
// book while the cancellation is in progress.
func (e *Engine) CancelAllForMarket(marketID string) ([]domain.Order, error) {
	ms, err := e.market(marketID)
	if err != nil {
		return nil, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.cancelAllLocked("market cancelled"), nil
}

// CloseMarket marks the market closed and cancels the whole book in one
// atomic step.
func (e *Engine) CloseMarket(marketID string) ([]domain.Order, error) {
	ms, err := e.market(marketID)
	if err != nil {
		return nil, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.status = domain.MarketStatusClosed
	return ms.cancelAllLocked("market closed"), nil
}

// Order returns the engine's view of an order.
func (e *Engine) Order(marketID, orderID string) (domain.Order, error) {
	ms, err := e.market(marketID)
	if err != nil {
		return domain.Order{}, err
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	o, ok := ms.orders[orderID]
	if !ok {
		return domain.Order{}, fmt.Errorf("engine: order %s: %w", orderID, domain.ErrNotFound)
	}
	return *o, nil
}

// Depth returns the aggregated ladder for one outcome/side.
func (e *Engine) Depth(marketID string, outcome domain.Outcome, side domain.Side) ([]DepthLevel, error) {
	ms, err := e.market(marketID)
	if err != nil {
		return nil, err
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.books[bookKey{outcome, side}].depth(), nil
}

// --------------------------------------------------------------------------
// Internals
// --------------------------------------------------------------------------

func validateOrder(o domain.Order) error {
	if o.PriceTicks < domain.MinPriceTicks || o.PriceTicks > domain.MaxPriceTicks {
		return domain.NewReject(domain.RejectInvalidRequest, domain.ErrInvalidOrder,
			fmt.Sprintf("price %.2f outside [0.01, 0.99]", o.Price()))
	}
	if o.PriceTicks%domain.TickSize != 0 {
		return domain.NewReject(domain.RejectInvalidRequest, domain.ErrInvalidOrder,
			"price not on $0.01 grid")
	}
	if o.SizeUnits < domain.MinOrderUnits || o.SizeUnits > domain.MaxOrderUnits {
		return domain.NewReject(domain.RejectInvalidRequest, domain.ErrInvalidOrder,
			fmt.Sprintf("size %.6f outside [0.001, 100000]", o.Size()))
	}
	switch o.Side {
	case domain.SideBid, domain.SideAsk:
	default:
		return domain.NewReject(domain.RejectInvalidRequest, domain.ErrInvalidOrder, "bad side")
	}
	switch o.Outcome {
	case domain.OutcomeYes, domain.OutcomeNo:
	default:
		return domain.NewReject(domain.RejectInvalidRequest, domain.ErrInvalidOrder, "bad outcome")
	}
	return nil
}

// match runs the price-time-priority loop for a priced incoming order.
func (ms *marketState) match(o *domain.Order, opposite *book, limitCent int, cfg Config) Result {
	var res Result
	opposite.walk(limitCent, func(maker *domain.Order) bool {
		if o.Remaining() == 0 {
			return false
		}
		take := min64(o.Remaining(), maker.Remaining())

		fill := buildFill(o, maker, take, cfg)
		res.Fills = append(res.Fills, fill)
		applyFillToMaker(ms, opposite, maker, take, &res)

		o.FilledUnits += take
		return true
	})
	return res
}

// buildFill creates the immutable match record. Execution always happens at
// the resting (maker) order's price; the maker leg is booked on the
// complementary outcome at the complementary price.
func buildFill(taker, maker *domain.Order, take int64, cfg Config) domain.Fill {
	now := time.Now().UTC()
	price := maker.PriceTicks
	takerNotional := price * take / domain.SizeScale
	makerPrice := domain.PriceScale - price
	makerNotional := makerPrice * take / domain.SizeScale

	return domain.Fill{
		ID:           uuid.New().String(),
		MarketID:     taker.MarketID,
		MakerOrderID: maker.ID,
		TakerOrderID: taker.ID,
		MakerUserID:  maker.UserID,
		TakerUserID:  taker.UserID,

		TakerSide:          taker.Side,
		TakerOutcome:       taker.Outcome,
		PriceTicks:         price,
		TakerNotionalMicro: takerNotional,
		TakerFeeMicro:      takerNotional * cfg.TakerFeeBps / 10_000,

		MakerOutcome:       taker.Outcome.Opposite(),
		MakerPriceTicks:    makerPrice,
		MakerNotionalMicro: makerNotional,
		MakerFeeMicro:      makerNotional * cfg.MakerFeeBps / 10_000,

		SizeUnits: take,
		Status:    domain.FillStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// applyFillToMaker reduces the maker's remaining size, updates its status,
// and prunes it from the book when fully consumed.
func applyFillToMaker(ms *marketState, b *book, maker *domain.Order, take int64, res *Result) {
	maker.FilledUnits += take
	b.reduce(take)
	if maker.Remaining() == 0 {
		b.remove(maker)
		terminalizeFilled(maker)
	} else {
		maker.Status = domain.OrderStatusPartial
		maker.UpdatedAt = time.Now().UTC()
	}
	res.Makers = append(res.Makers, *maker)
}

func terminalizeFilled(o *domain.Order) {
	now := time.Now().UTC()
	o.Status = domain.OrderStatusFilled
	o.FilledAt = &now
	o.UpdatedAt = now
}

func cancelRemainder(o *domain.Order, reason string) {
	now := time.Now().UTC()
	o.Status = domain.OrderStatusCancelled
	o.CancelReason = reason
	o.CancelledAt = &now
	o.UpdatedAt = now
}

func (ms *marketState) rememberOrder(o *domain.Order) {
	ms.orders[o.ID] = o
	ms.clientIDs[clientKey(o.UserID, o.ClientOrderID)] = o.ID
}

func (ms *marketState) cancelAllLocked(reason string) []domain.Order {
	var cancelled []domain.Order
	for _, o := range ms.orders {
		if o.Status.Terminal() {
			continue
		}
		ms.books[bookKey{o.Outcome, o.Side}].remove(o)
		cancelRemainder(o, reason)
		cancelled = append(cancelled, *o)
	}
	return cancelled
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
