package service

import (
	"context"
	"crypto/ed25519"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/degenlabs/degen-exchange/internal/crypto"
	"github.com/degenlabs/degen-exchange/internal/domain"
	"github.com/degenlabs/degen-exchange/internal/engine"
	"github.com/degenlabs/degen-exchange/internal/store/memory"
)

type fixture struct {
	svc     *OrderService
	engine  *engine.Engine
	markets *memory.MarketStore
	orders  *memory.OrderStore
	fills   *memory.FillStore
	bus     *memory.SignalBus
	audit   *memory.AuditStore
	market  domain.Market
	now     time.Time
}

type denyAllowance struct{ reason string }

func (d denyAllowance) CheckAllowance(context.Context, string, int64) (domain.AllowanceResult, error) {
	return domain.AllowanceResult{Approved: false, Reason: d.reason}, nil
}

func newFixture(t *testing.T, allowance domain.AllowanceChecker) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	now := time.Now().UTC().Truncate(time.Second)

	eng := engine.New(engine.Config{TakerFeeBps: 100, MakerFeeBps: 50}, logger)
	markets := memory.NewMarketStore()
	orders := memory.NewOrderStore()
	fills := memory.NewFillStore()
	positions := memory.NewPositionStore()
	bus := memory.NewSignalBus()
	audit := memory.NewAuditStore()

	mkt := domain.Market{
		ID:          "mkt-1",
		Address:     base58.Encode(make([]byte, 32)),
		Asset:       "BTC",
		Timeframe:   "1h",
		StrikePrice: 100,
		ExpiryAt:    now.Add(time.Hour),
		Status:      domain.MarketStatusOpen,
	}
	require.NoError(t, markets.Create(context.Background(), mkt))
	eng.RegisterMarket(mkt)

	svc := NewOrderService(eng, markets, orders, fills, positions, allowance,
		memory.NewRateLimiter(), bus, audit, nil,
		Limits{SubmitPerWindow: 100, Window: time.Minute}, logger)
	svc.now = func() time.Time { return now }

	return &fixture{svc: svc, engine: eng, markets: markets, orders: orders,
		fills: fills, bus: bus, audit: audit, market: mkt, now: now}
}

type user struct {
	signer *crypto.Signer
	seq    uint64
}

func newUser(t *testing.T) *user {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	s, err := crypto.NewSigner(base58.Encode(priv))
	require.NoError(t, err)
	return &user{signer: s}
}

// signedOrder builds an order whose signature covers exactly its fields.
func (u *user) signedOrder(t *testing.T, fx *fixture, side domain.Side, outcome domain.Outcome, priceTicks, sizeUnits int64) domain.Order {
	t.Helper()
	u.seq++
	expiry := fx.market.ExpiryAt.Unix()
	sig, msg, err := u.signer.SignOrder(crypto.OrderMessage{
		MarketAddress: fx.market.Address,
		Side:          side,
		Outcome:       outcome,
		PriceTicks:    priceTicks,
		SizeUnits:     sizeUnits,
		ExpiryTS:      expiry,
		ClientOrderID: u.seq,
	})
	require.NoError(t, err)
	return domain.Order{
		ClientOrderID: u.seq,
		MarketID:      fx.market.ID,
		UserID:        u.signer.Address(),
		Side:          side,
		Outcome:       outcome,
		Type:          domain.OrderTypeLimit,
		PriceTicks:    priceTicks,
		SizeUnits:     sizeUnits,
		Signature:     sig,
		SignedMessage: msg,
		ExpiryTS:      expiry,
	}
}

func TestSubmitLimit_PersistsOrderAndFills(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	bob := newUser(t)
	alice := newUser(t)

	// Bob rests an ask, Alice lifts it.
	_, err := fx.svc.SubmitLimit(ctx, bob.signedOrder(t, fx, domain.SideAsk, domain.OutcomeYes, 400_000, 5_000_000))
	require.NoError(t, err)

	res, err := fx.svc.SubmitLimit(ctx, alice.signedOrder(t, fx, domain.SideBid, domain.OutcomeYes, 400_000, 5_000_000))
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, res.Status)
	assert.Equal(t, 1, res.FillsCount)
	assert.Equal(t, int64(5_000_000), res.FilledUnits)
	assert.InDelta(t, 0.40, res.AvgPrice, 1e-9)

	// Order, maker, and fill all persisted.
	stored, err := fx.orders.GetByID(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, stored.Status)

	fills, err := fx.fills.ListByMarket(ctx, fx.market.ID, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, domain.FillStatusPending, fills[0].Status)
	assert.Equal(t, int64(20_000), fills[0].TakerFeeMicro, "100bps of $2.00")

	// Market prices and counters published.
	mkt, err := fx.markets.GetByID(ctx, fx.market.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(400_000), mkt.YesPriceTicks)
	assert.Equal(t, int64(600_000), mkt.NoPriceTicks)
	assert.Equal(t, int64(2_000_000), mkt.VolumeMicros)
	assert.Equal(t, int64(1), mkt.TradeCount)

	assert.Len(t, fx.bus.Events("orders.accepted"), 2)
	assert.Len(t, fx.bus.Events("fills.pending"), 1)
	assert.NotEmpty(t, fx.audit.Events())
}

func TestSubmitLimit_RejectsBadSignature(t *testing.T) {
	fx := newFixture(t, nil)
	alice := newUser(t)

	o := alice.signedOrder(t, fx, domain.SideBid, domain.OutcomeYes, 400_000, 5_000_000)
	o.Signature = o.SignedMessage // valid base64, wrong bytes
	_, err := fx.svc.SubmitLimit(context.Background(), o)
	assert.Equal(t, domain.RejectUnauthorized, domain.RejectCodeOf(err))
}

func TestSubmitLimit_RejectsTamperedFields(t *testing.T) {
	fx := newFixture(t, nil)
	alice := newUser(t)

	// Signed for 5 contracts, submitted for 50.
	o := alice.signedOrder(t, fx, domain.SideBid, domain.OutcomeYes, 400_000, 5_000_000)
	o.SizeUnits = 50_000_000
	_, err := fx.svc.SubmitLimit(context.Background(), o)
	assert.Equal(t, domain.RejectUnauthorized, domain.RejectCodeOf(err))
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestSubmitLimit_RejectsAllowanceDenied(t *testing.T) {
	fx := newFixture(t, denyAllowance{reason: "delegation too small"})
	alice := newUser(t)

	_, err := fx.svc.SubmitLimit(context.Background(),
		alice.signedOrder(t, fx, domain.SideBid, domain.OutcomeYes, 400_000, 5_000_000))
	assert.Equal(t, domain.RejectInsufficientAllowance, domain.RejectCodeOf(err))

	// Asks need no allowance.
	_, err = fx.svc.SubmitLimit(context.Background(),
		alice.signedOrder(t, fx, domain.SideAsk, domain.OutcomeYes, 400_000, 5_000_000))
	assert.NoError(t, err)
}

func TestSubmitLimit_RejectsInsideTradingBuffer(t *testing.T) {
	fx := newFixture(t, nil)
	alice := newUser(t)

	// Move the clock to 10s before expiry, inside the 30s buffer.
	fx.svc.now = func() time.Time { return fx.market.ExpiryAt.Add(-10 * time.Second) }
	o := alice.signedOrder(t, fx, domain.SideBid, domain.OutcomeYes, 400_000, 5_000_000)
	_, err := fx.svc.SubmitLimit(context.Background(), o)
	assert.Equal(t, domain.RejectMarketClosed, domain.RejectCodeOf(err))
}

func TestSubmitLimit_RateLimited(t *testing.T) {
	fx := newFixture(t, nil)
	fx.svc.limits = Limits{SubmitPerWindow: 1, Window: time.Minute}
	alice := newUser(t)

	_, err := fx.svc.SubmitLimit(context.Background(),
		alice.signedOrder(t, fx, domain.SideBid, domain.OutcomeYes, 400_000, 5_000_000))
	require.NoError(t, err)

	_, err = fx.svc.SubmitLimit(context.Background(),
		alice.signedOrder(t, fx, domain.SideBid, domain.OutcomeYes, 410_000, 5_000_000))
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestSubmitMarketBuy(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	bob := newUser(t)
	alice := newUser(t)

	_, err := fx.svc.SubmitLimit(ctx, bob.signedOrder(t, fx, domain.SideAsk, domain.OutcomeYes, 500_000, 100_000_000))
	require.NoError(t, err)

	// $50 at up to $0.60: signed with price=max, size=budget.
	o := alice.signedOrder(t, fx, domain.SideBid, domain.OutcomeYes, 600_000, 50_000_000)
	o.Type = domain.OrderTypeMarket
	res, err := fx.svc.SubmitMarketBuy(ctx, o, 50_000_000, 600_000)
	require.NoError(t, err)
	assert.Equal(t, int64(100_000_000), res.FilledUnits, "the full $50 buys 100 contracts at $0.50")
	assert.Equal(t, int64(50_000_000), res.SpentMicros)
	assert.InDelta(t, 0.50, res.AvgPrice, 1e-9)
}

func TestCancel_PersistsAndAudits(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	alice := newUser(t)

	res, err := fx.svc.SubmitLimit(ctx, alice.signedOrder(t, fx, domain.SideBid, domain.OutcomeYes, 400_000, 5_000_000))
	require.NoError(t, err)

	cres, err := fx.svc.Cancel(ctx, fx.market.ID, res.OrderID, alice.signer.Address())
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, cres.Status)

	stored, err := fx.orders.GetByID(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, stored.Status)
	assert.Len(t, fx.bus.Events("orders.cancelled"), 1)
}

func TestCancel_WrongUserRejected(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	alice := newUser(t)
	mallory := newUser(t)

	res, err := fx.svc.SubmitLimit(ctx, alice.signedOrder(t, fx, domain.SideBid, domain.OutcomeYes, 400_000, 5_000_000))
	require.NoError(t, err)

	_, err = fx.svc.Cancel(ctx, fx.market.ID, res.OrderID, mallory.signer.Address())
	assert.Equal(t, domain.RejectUnauthorized, domain.RejectCodeOf(err))
}
