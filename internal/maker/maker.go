package maker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/degenlabs/degen-exchange/internal/crypto"
	"github.com/degenlabs/degen-exchange/internal/domain"
	"github.com/degenlabs/degen-exchange/internal/feed"
)

// Exchange is the order surface the maker quotes through.
type Exchange interface {
	SubmitLimit(ctx context.Context, o domain.Order) (domain.Order, error)
	Cancel(ctx context.Context, marketID, orderID, userID string) (domain.Order, error)
}

// Config shapes the quoting behavior.
type Config struct {
	Ladder LadderParams
	// SkewTicksPerContract leans quotes away from accumulated inventory.
	SkewTicksPerContract int64
	MaxSkewTicks         int64
}

// Maker keeps two-sided quotes on every open market.
type Maker struct {
	exchange  Exchange
	source    feed.Source
	markets   domain.MarketStore
	positions domain.PositionStore
	signer    *crypto.Signer
	cfg       Config
	logger    *slog.Logger

	clientSeq atomic.Uint64

	mu      sync.Mutex
	quotes  map[string][]string // marketID -> live order ids
	stopped map[string]bool
	lastAt  time.Time
}

// New creates a Maker quoting as the signer's address.
func New(
	exchange Exchange,
	source feed.Source,
	markets domain.MarketStore,
	positions domain.PositionStore,
	signer *crypto.Signer,
	cfg Config,
	logger *slog.Logger,
) *Maker {
	return &Maker{
		exchange:  exchange,
		source:    source,
		markets:   markets,
		positions: positions,
		signer:    signer,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "maker")),
		quotes:    make(map[string][]string),
		stopped:   make(map[string]bool),
	}
}

// UserID is the maker's trading identity.
func (m *Maker) UserID() string { return m.signer.Address() }

// Run requotes on every scheduler tick until ctx ends.
func (m *Maker) Run(ctx context.Context, sched Scheduler) error {
	m.logger.InfoContext(ctx, "maker started", slog.String("user_id", m.UserID()))
	for now := range sched.Ticks(ctx) {
		if err := m.RequoteAll(ctx, now); err != nil {
			m.logger.ErrorContext(ctx, "requote cycle", slog.String("error", err.Error()))
		}
	}
	return ctx.Err()
}

// RequoteAll refreshes quotes on every open market still inside its trading
// window.
func (m *Maker) RequoteAll(ctx context.Context, now time.Time) error {
	markets, err := m.markets.ListByStatus(ctx, domain.MarketStatusOpen)
	if err != nil {
		return fmt.Errorf("maker: list markets: %w", err)
	}
	for _, mkt := range markets {
		if !mkt.TradingOpen(now) || m.isStopped(mkt.ID) {
			m.pullQuotes(ctx, mkt.ID)
			continue
		}
		if err := m.Requote(ctx, mkt, now); err != nil {
			m.logger.WarnContext(ctx, "requote market",
				slog.String("market_id", mkt.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	m.mu.Lock()
	m.lastAt = now
	m.mu.Unlock()
	return nil
}

// Requote replaces this market's quote ladder around the current fair value.
// When the feed is stale or missing the strike stands in for the spot, which
// collapses the fair value to even money.
func (m *Maker) Requote(ctx context.Context, mkt domain.Market, now time.Time) error {
	spot, _, err := m.source.Price(ctx, mkt.Asset)
	if err != nil {
		m.logger.WarnContext(ctx, "feed unavailable, quoting off the strike",
			slog.String("market_id", mkt.ID),
			slog.String("error", err.Error()),
		)
		spot = mkt.StrikePrice
	}

	fv := FairValue(spot, mkt.StrikePrice, mkt.ExpiryAt.Sub(now))
	fairTicks := FairTicks(fv) + m.inventorySkew(ctx, mkt.ID)
	quotes := BuildLadder(fairTicks, m.cfg.Ladder)

	m.pullQuotes(ctx, mkt.ID)

	var placed []string
	for _, q := range quotes {
		o, err := m.buildOrder(mkt, q, now)
		if err != nil {
			return err
		}
		final, err := m.exchange.SubmitLimit(ctx, o)
		if err != nil {
			m.logger.DebugContext(ctx, "quote rejected",
				slog.String("market_id", mkt.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !final.Status.Terminal() {
			placed = append(placed, final.ID)
		}
	}

	m.mu.Lock()
	m.quotes[mkt.ID] = placed
	m.mu.Unlock()
	return nil
}

func (m *Maker) buildOrder(mkt domain.Market, q Quote, now time.Time) (domain.Order, error) {
	clientID := m.clientSeq.Add(1)
	expiry := mkt.ExpiryAt.Unix()

	sig, msg, err := m.signer.SignOrder(crypto.OrderMessage{
		MarketAddress: mkt.Address,
		Side:          q.Side,
		Outcome:       q.Outcome,
		PriceTicks:    q.PriceTicks,
		SizeUnits:     q.SizeUnits,
		ExpiryTS:      expiry,
		ClientOrderID: clientID,
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("maker: sign quote: %w", err)
	}

	return domain.Order{
		ID:            uuid.New().String(),
		ClientOrderID: clientID,
		MarketID:      mkt.ID,
		UserID:        m.UserID(),
		Side:          q.Side,
		Outcome:       q.Outcome,
		Type:          domain.OrderTypeLimit,
		PriceTicks:    q.PriceTicks,
		SizeUnits:     q.SizeUnits,
		Status:        domain.OrderStatusOpen,
		Signature:     sig,
		SignedMessage: msg,
		ExpiryTS:      expiry,
		MakerBot:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// pullQuotes cancels every live quote on the market. Orders that were filled
// or cancelled in the meantime are skipped silently.
func (m *Maker) pullQuotes(ctx context.Context, marketID string) {
	m.mu.Lock()
	ids := m.quotes[marketID]
	delete(m.quotes, marketID)
	m.mu.Unlock()

	for _, id := range ids {
		if _, err := m.exchange.Cancel(ctx, marketID, id, m.UserID()); err != nil {
			if domain.RejectCodeOf(err) == "" {
				m.logger.WarnContext(ctx, "pull quote",
					slog.String("order_id", id),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// inventorySkew shifts the fair value against the maker's net YES exposure
// so fills mean-revert the book position.
func (m *Maker) inventorySkew(ctx context.Context, marketID string) int64 {
	if m.positions == nil || m.cfg.SkewTicksPerContract == 0 {
		return 0
	}
	pos, err := m.positions.Get(ctx, m.UserID(), marketID)
	if err != nil {
		return 0
	}
	netContracts := (pos.YesShares - pos.NoShares) / domain.SizeScale
	skew := -netContracts * m.cfg.SkewTicksPerContract
	if skew > m.cfg.MaxSkewTicks {
		skew = m.cfg.MaxSkewTicks
	}
	if skew < -m.cfg.MaxSkewTicks {
		skew = -m.cfg.MaxSkewTicks
	}
	return skew
}

// Stop pulls quotes from the market and keeps it out of future cycles until
// Start is called.
func (m *Maker) Stop(ctx context.Context, marketID string) {
	m.mu.Lock()
	m.stopped[marketID] = true
	m.mu.Unlock()
	m.pullQuotes(ctx, marketID)
}

// Start re-enables quoting on a stopped market from the next cycle.
func (m *Maker) Start(marketID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stopped, marketID)
}

func (m *Maker) isStopped(marketID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped[marketID]
}

// Status summarizes the maker's live quoting state.
type Status struct {
	UserID      string
	LiveQuotes  map[string]int // marketID -> quote count
	LastRequote time.Time
}

// Status reports the current quoting state.
func (m *Maker) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	live := make(map[string]int, len(m.quotes))
	for id, q := range m.quotes {
		live[id] = len(q)
	}
	return Status{UserID: m.UserID(), LiveQuotes: live, LastRequote: m.lastAt}
}
