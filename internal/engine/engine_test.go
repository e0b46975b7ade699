package engine

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/degenlabs/degen-exchange/internal/domain"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	e := New(Config{MakerFeeBps: 0, TakerFeeBps: 0}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	e.RegisterMarket(domain.Market{ID: "mkt-1", Status: domain.MarketStatusOpen})
	return e
}

var nextClientID uint64

func newOrder(user string, side domain.Side, outcome domain.Outcome, price, size float64) domain.Order {
	nextClientID++
	return domain.Order{
		ID:            uuid.New().String(),
		ClientOrderID: nextClientID,
		MarketID:      "mkt-1",
		UserID:        user,
		Side:          side,
		Outcome:       outcome,
		Type:          domain.OrderTypeLimit,
		PriceTicks:    int64(price * domain.PriceScale),
		SizeUnits:     int64(size * domain.SizeScale),
		Status:        domain.OrderStatusOpen,
		CreatedAt:     time.Now().UTC(),
	}
}

func TestSubmitLimit_RestsWhenNoCross(t *testing.T) {
	e := testEngine(t)

	res, err := e.SubmitLimit(newOrder("alice", domain.SideBid, domain.OutcomeYes, 0.40, 10))
	require.NoError(t, err)
	assert.Empty(t, res.Fills)
	assert.Equal(t, domain.OrderStatusOpen, res.Order.Status)

	depth, err := e.Depth("mkt-1", domain.OutcomeYes, domain.SideBid)
	require.NoError(t, err)
	require.Len(t, depth, 1)
	assert.Equal(t, int64(400_000), depth[0].PriceTicks)
	assert.Equal(t, int64(10_000_000), depth[0].SizeUnits)
}

func TestSubmitLimit_PartialFillAtMakerPrice(t *testing.T) {
	e := testEngine(t)

	// Resting YES asks: 6 @ $0.38, then 10 @ $0.41.
	_, err := e.SubmitLimit(newOrder("bob", domain.SideAsk, domain.OutcomeYes, 0.38, 6))
	require.NoError(t, err)
	_, err = e.SubmitLimit(newOrder("carol", domain.SideAsk, domain.OutcomeYes, 0.41, 10))
	require.NoError(t, err)

	// Incoming YES bid 10 @ $0.40 crosses only the $0.38 level.
	res, err := e.SubmitLimit(newOrder("alice", domain.SideBid, domain.OutcomeYes, 0.40, 10))
	require.NoError(t, err)

	require.Len(t, res.Fills, 1)
	f := res.Fills[0]
	assert.Equal(t, int64(380_000), f.PriceTicks, "execution at maker price")
	assert.Equal(t, int64(6_000_000), f.SizeUnits)
	assert.Equal(t, "bob", f.MakerUserID)
	assert.Equal(t, "alice", f.TakerUserID)

	assert.Equal(t, domain.OrderStatusPartial, res.Order.Status)
	assert.Equal(t, int64(6_000_000), res.Order.FilledUnits)

	// The remainder rests at $0.40.
	depth, err := e.Depth("mkt-1", domain.OutcomeYes, domain.SideBid)
	require.NoError(t, err)
	require.Len(t, depth, 1)
	assert.Equal(t, int64(400_000), depth[0].PriceTicks)
	assert.Equal(t, int64(4_000_000), depth[0].SizeUnits)

	// The maker leg books the complementary outcome at $0.62.
	assert.Equal(t, domain.OutcomeNo, f.MakerOutcome)
	assert.Equal(t, int64(620_000), f.MakerPriceTicks)
}

func TestSubmitLimit_FilledPlusRemainingEqualsSize(t *testing.T) {
	e := testEngine(t)

	_, err := e.SubmitLimit(newOrder("bob", domain.SideAsk, domain.OutcomeYes, 0.38, 6))
	require.NoError(t, err)

	res, err := e.SubmitLimit(newOrder("alice", domain.SideBid, domain.OutcomeYes, 0.40, 10))
	require.NoError(t, err)
	assert.Equal(t, res.Order.SizeUnits, res.Order.FilledUnits+res.Order.Remaining())

	for _, m := range res.Makers {
		assert.Equal(t, m.SizeUnits, m.FilledUnits+m.Remaining())
	}
}

func TestSubmitLimit_PriceTimePriority(t *testing.T) {
	e := testEngine(t)

	first := newOrder("bob", domain.SideAsk, domain.OutcomeYes, 0.40, 5)
	second := newOrder("carol", domain.SideAsk, domain.OutcomeYes, 0.40, 5)
	_, err := e.SubmitLimit(first)
	require.NoError(t, err)
	_, err = e.SubmitLimit(second)
	require.NoError(t, err)

	res, err := e.SubmitLimit(newOrder("alice", domain.SideBid, domain.OutcomeYes, 0.40, 5))
	require.NoError(t, err)
	require.Len(t, res.Fills, 1)
	assert.Equal(t, first.ID, res.Fills[0].MakerOrderID, "earlier order at same price fills first")
}

func TestSubmitLimit_DrainsFullLevelInFIFOOrder(t *testing.T) {
	e := testEngine(t)

	// Three resting asks at the same level; consuming one maker must not
	// shift its FIFO successor out of the walk.
	a1 := newOrder("bob", domain.SideAsk, domain.OutcomeYes, 0.40, 5)
	a2 := newOrder("carol", domain.SideAsk, domain.OutcomeYes, 0.40, 5)
	a3 := newOrder("dave", domain.SideAsk, domain.OutcomeYes, 0.40, 5)
	for _, o := range []domain.Order{a1, a2, a3} {
		_, err := e.SubmitLimit(o)
		require.NoError(t, err)
	}

	res, err := e.SubmitLimit(newOrder("alice", domain.SideBid, domain.OutcomeYes, 0.40, 15))
	require.NoError(t, err)

	require.Len(t, res.Fills, 3)
	assert.Equal(t, a1.ID, res.Fills[0].MakerOrderID)
	assert.Equal(t, a2.ID, res.Fills[1].MakerOrderID)
	assert.Equal(t, a3.ID, res.Fills[2].MakerOrderID)
	assert.Equal(t, int64(15_000_000), res.FilledUnits())
	assert.Equal(t, domain.OrderStatusFilled, res.Order.Status)

	askDepth, err := e.Depth("mkt-1", domain.OutcomeYes, domain.SideAsk)
	require.NoError(t, err)
	assert.Empty(t, askDepth, "level fully consumed")
	bidDepth, err := e.Depth("mkt-1", domain.OutcomeYes, domain.SideBid)
	require.NoError(t, err)
	assert.Empty(t, bidDepth, "nothing rests when liquidity covered the order")
}

func TestSubmitLimit_PartialDrainLeavesTailResting(t *testing.T) {
	e := testEngine(t)

	a1 := newOrder("bob", domain.SideAsk, domain.OutcomeYes, 0.40, 5)
	a2 := newOrder("carol", domain.SideAsk, domain.OutcomeYes, 0.40, 5)
	a3 := newOrder("dave", domain.SideAsk, domain.OutcomeYes, 0.40, 5)
	for _, o := range []domain.Order{a1, a2, a3} {
		_, err := e.SubmitLimit(o)
		require.NoError(t, err)
	}

	res, err := e.SubmitLimit(newOrder("alice", domain.SideBid, domain.OutcomeYes, 0.40, 12))
	require.NoError(t, err)

	require.Len(t, res.Fills, 3)
	assert.Equal(t, int64(2_000_000), res.Fills[2].SizeUnits, "dave fills the last 2")
	assert.Equal(t, domain.OrderStatusFilled, res.Order.Status)

	depth, err := e.Depth("mkt-1", domain.OutcomeYes, domain.SideAsk)
	require.NoError(t, err)
	require.Len(t, depth, 1)
	assert.Equal(t, int64(3_000_000), depth[0].SizeUnits, "dave's remainder stays on the ask")
}

func TestSubmitLimit_Rejections(t *testing.T) {
	e := testEngine(t)

	t.Run("price off grid", func(t *testing.T) {
		o := newOrder("alice", domain.SideBid, domain.OutcomeYes, 0.40, 10)
		o.PriceTicks = 405_500
		_, err := e.SubmitLimit(o)
		assert.Equal(t, domain.RejectInvalidRequest, domain.RejectCodeOf(err))
	})

	t.Run("price out of range", func(t *testing.T) {
		o := newOrder("alice", domain.SideBid, domain.OutcomeYes, 0.40, 10)
		o.PriceTicks = domain.PriceScale // $1.00
		_, err := e.SubmitLimit(o)
		assert.Equal(t, domain.RejectInvalidRequest, domain.RejectCodeOf(err))
	})

	t.Run("size too small", func(t *testing.T) {
		o := newOrder("alice", domain.SideBid, domain.OutcomeYes, 0.40, 10)
		o.SizeUnits = domain.MinOrderUnits - 1
		_, err := e.SubmitLimit(o)
		assert.Equal(t, domain.RejectInvalidRequest, domain.RejectCodeOf(err))
	})

	t.Run("duplicate client order id", func(t *testing.T) {
		o := newOrder("alice", domain.SideBid, domain.OutcomeYes, 0.40, 10)
		_, err := e.SubmitLimit(o)
		require.NoError(t, err)
		o.ID = uuid.New().String()
		_, err = e.SubmitLimit(o)
		assert.Equal(t, domain.RejectDuplicateOrder, domain.RejectCodeOf(err))
		assert.ErrorIs(t, err, domain.ErrDuplicateOrder)
	})

	t.Run("unknown market", func(t *testing.T) {
		o := newOrder("alice", domain.SideBid, domain.OutcomeYes, 0.40, 10)
		o.MarketID = "nope"
		_, err := e.SubmitLimit(o)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestSubmitLimit_MarketClosed(t *testing.T) {
	e := testEngine(t)
	_, err := e.CloseMarket("mkt-1")
	require.NoError(t, err)

	_, err = e.SubmitLimit(newOrder("alice", domain.SideBid, domain.OutcomeYes, 0.40, 10))
	assert.Equal(t, domain.RejectMarketClosed, domain.RejectCodeOf(err))
	assert.ErrorIs(t, err, domain.ErrMarketClosed)
}

func TestSubmitLimit_SelfTradeRejected(t *testing.T) {
	e := testEngine(t)

	_, err := e.SubmitLimit(newOrder("alice", domain.SideAsk, domain.OutcomeYes, 0.40, 10))
	require.NoError(t, err)

	// Alice's own bid would cross her resting ask: reject the whole order,
	// do not skip over it.
	_, err = e.SubmitLimit(newOrder("alice", domain.SideBid, domain.OutcomeYes, 0.45, 5))
	assert.Equal(t, domain.RejectSelfTradePrevented, domain.RejectCodeOf(err))
	assert.ErrorIs(t, err, domain.ErrSelfTrade)

	// A non-crossing order from the same user is fine.
	_, err = e.SubmitLimit(newOrder("alice", domain.SideBid, domain.OutcomeYes, 0.35, 5))
	assert.NoError(t, err)
}

func TestSubmitLimit_IOCDropsRemainder(t *testing.T) {
	e := testEngine(t)

	_, err := e.SubmitLimit(newOrder("bob", domain.SideAsk, domain.OutcomeYes, 0.40, 4))
	require.NoError(t, err)

	o := newOrder("alice", domain.SideBid, domain.OutcomeYes, 0.40, 10)
	o.Type = domain.OrderTypeIOC
	res, err := e.SubmitLimit(o)
	require.NoError(t, err)

	assert.Equal(t, int64(4_000_000), res.FilledUnits())
	assert.Equal(t, domain.OrderStatusCancelled, res.Order.Status)

	depth, err := e.Depth("mkt-1", domain.OutcomeYes, domain.SideBid)
	require.NoError(t, err)
	assert.Empty(t, depth, "IOC remainder never rests")
}

func TestSubmitLimit_FOK(t *testing.T) {
	e := testEngine(t)

	_, err := e.SubmitLimit(newOrder("bob", domain.SideAsk, domain.OutcomeYes, 0.40, 4))
	require.NoError(t, err)

	t.Run("kills when liquidity short", func(t *testing.T) {
		o := newOrder("alice", domain.SideBid, domain.OutcomeYes, 0.40, 10)
		o.Type = domain.OrderTypeFOK
		res, err := e.SubmitLimit(o)
		require.NoError(t, err)
		assert.Empty(t, res.Fills)
		assert.Equal(t, domain.OrderStatusCancelled, res.Order.Status)

		// Bob's ask is untouched.
		depth, derr := e.Depth("mkt-1", domain.OutcomeYes, domain.SideAsk)
		require.NoError(t, derr)
		require.Len(t, depth, 1)
		assert.Equal(t, int64(4_000_000), depth[0].SizeUnits)
	})

	t.Run("fills fully when liquidity suffices", func(t *testing.T) {
		o := newOrder("alice", domain.SideBid, domain.OutcomeYes, 0.40, 4)
		o.Type = domain.OrderTypeFOK
		res, err := e.SubmitLimit(o)
		require.NoError(t, err)
		assert.Equal(t, int64(4_000_000), res.FilledUnits())
		assert.Equal(t, domain.OrderStatusFilled, res.Order.Status)
	})
}

func TestSubmitMarketByDollar(t *testing.T) {
	e := testEngine(t)

	// Asks: 100 @ $0.50, 100 @ $0.70.
	_, err := e.SubmitLimit(newOrder("bob", domain.SideAsk, domain.OutcomeYes, 0.50, 100))
	require.NoError(t, err)
	_, err = e.SubmitLimit(newOrder("carol", domain.SideAsk, domain.OutcomeYes, 0.70, 100))
	require.NoError(t, err)

	// $50 budget, max price $0.60: only the $0.50 level is eligible and the
	// budget buys exactly 100 contracts.
	o := newOrder("alice", domain.SideBid, domain.OutcomeYes, 0, 0)
	o.PriceTicks, o.SizeUnits = 0, 0
	res, err := e.SubmitMarketByDollar(o, 50_000_000, 600_000)
	require.NoError(t, err)

	assert.Equal(t, int64(100_000_000), res.ContractsUnits)
	assert.Equal(t, int64(50_000_000), res.SpentMicro)
	assert.Equal(t, int64(0), res.UnspentMicro)
	require.Len(t, res.Fills, 1)
	assert.Equal(t, int64(500_000), res.Fills[0].PriceTicks)
}

func TestSubmitMarketByDollar_WalksLevelsAndReturnsUnspent(t *testing.T) {
	e := testEngine(t)

	_, err := e.SubmitLimit(newOrder("bob", domain.SideAsk, domain.OutcomeYes, 0.50, 10))
	require.NoError(t, err)
	_, err = e.SubmitLimit(newOrder("carol", domain.SideAsk, domain.OutcomeYes, 0.70, 5))
	require.NoError(t, err)

	// $10 budget: $5 buys the full 10 @ $0.50, the remaining $5 buys
	// 7.142857 @ $0.70 (truncated at micro precision).
	o := newOrder("alice", domain.SideBid, domain.OutcomeYes, 0, 0)
	o.PriceTicks, o.SizeUnits = 0, 0
	res, err := e.SubmitMarketByDollar(o, 10_000_000, 990_000)
	require.NoError(t, err)

	require.Len(t, res.Fills, 2)
	assert.Equal(t, int64(10_000_000), res.Fills[0].SizeUnits)
	assert.Equal(t, int64(5_000_000), res.Fills[1].SizeUnits, "capped by carol's size")
	assert.Equal(t, int64(15_000_000), res.ContractsUnits)
	assert.Equal(t, int64(8_500_000), res.SpentMicro)
	assert.Equal(t, int64(1_500_000), res.UnspentMicro)
}

func TestSubmitMarketByDollar_NoLiquidity(t *testing.T) {
	e := testEngine(t)

	o := newOrder("alice", domain.SideBid, domain.OutcomeYes, 0, 0)
	o.PriceTicks, o.SizeUnits = 0, 0
	res, err := e.SubmitMarketByDollar(o, 10_000_000, 990_000)
	require.NoError(t, err)
	assert.Empty(t, res.Fills)
	assert.Equal(t, int64(10_000_000), res.UnspentMicro)
	assert.Equal(t, domain.OrderStatusCancelled, res.Order.Status)
}

func TestSubmitSell(t *testing.T) {
	e := testEngine(t)

	_, err := e.SubmitLimit(newOrder("bob", domain.SideBid, domain.OutcomeYes, 0.60, 5))
	require.NoError(t, err)
	_, err = e.SubmitLimit(newOrder("carol", domain.SideBid, domain.OutcomeYes, 0.40, 20))
	require.NoError(t, err)

	// Sell 10 with a $0.50 floor: only bob's $0.60 bid qualifies.
	o := newOrder("alice", domain.SideAsk, domain.OutcomeYes, 0, 10)
	o.PriceTicks = 0
	res, err := e.SubmitSell(o, 500_000)
	require.NoError(t, err)

	assert.Equal(t, int64(5_000_000), res.SoldUnits)
	assert.Equal(t, int64(5_000_000), res.UnsoldUnits)
	require.Len(t, res.Fills, 1)
	assert.Equal(t, int64(600_000), res.Fills[0].PriceTicks)
	assert.Equal(t, domain.OrderStatusCancelled, res.Order.Status, "unsold remainder is dropped")
}

func TestCancel(t *testing.T) {
	e := testEngine(t)

	o := newOrder("alice", domain.SideBid, domain.OutcomeYes, 0.40, 10)
	_, err := e.SubmitLimit(o)
	require.NoError(t, err)

	t.Run("wrong user", func(t *testing.T) {
		_, err := e.Cancel("mkt-1", o.ID, "mallory")
		assert.Equal(t, domain.RejectUnauthorized, domain.RejectCodeOf(err))
	})

	t.Run("unknown order", func(t *testing.T) {
		_, err := e.Cancel("mkt-1", "nope", "alice")
		assert.Equal(t, domain.RejectOrderNotFound, domain.RejectCodeOf(err))
	})

	t.Run("success removes from book", func(t *testing.T) {
		cancelled, err := e.Cancel("mkt-1", o.ID, "alice")
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status)

		depth, derr := e.Depth("mkt-1", domain.OutcomeYes, domain.SideBid)
		require.NoError(t, derr)
		assert.Empty(t, depth)
	})

	t.Run("second cancel rejected", func(t *testing.T) {
		_, err := e.Cancel("mkt-1", o.ID, "alice")
		assert.Equal(t, domain.RejectOrderAlreadyCancelled, domain.RejectCodeOf(err))
	})
}

func TestCancel_FilledOrder(t *testing.T) {
	e := testEngine(t)

	maker := newOrder("bob", domain.SideAsk, domain.OutcomeYes, 0.40, 5)
	_, err := e.SubmitLimit(maker)
	require.NoError(t, err)
	_, err = e.SubmitLimit(newOrder("alice", domain.SideBid, domain.OutcomeYes, 0.40, 5))
	require.NoError(t, err)

	_, err = e.Cancel("mkt-1", maker.ID, "bob")
	assert.Equal(t, domain.RejectOrderAlreadyFilled, domain.RejectCodeOf(err))
	assert.ErrorIs(t, err, domain.ErrOrderTerminal)
}

func TestCloseMarket_CancelsBookAtomically(t *testing.T) {
	e := testEngine(t)

	_, err := e.SubmitLimit(newOrder("alice", domain.SideBid, domain.OutcomeYes, 0.40, 10))
	require.NoError(t, err)
	_, err = e.SubmitLimit(newOrder("bob", domain.SideAsk, domain.OutcomeNo, 0.55, 5))
	require.NoError(t, err)

	cancelled, err := e.CloseMarket("mkt-1")
	require.NoError(t, err)
	assert.Len(t, cancelled, 2)
	for _, o := range cancelled {
		assert.Equal(t, domain.OrderStatusCancelled, o.Status)
	}

	_, err = e.SubmitLimit(newOrder("carol", domain.SideBid, domain.OutcomeYes, 0.40, 10))
	assert.Equal(t, domain.RejectMarketClosed, domain.RejectCodeOf(err))
}

func TestCancelAllForMarket(t *testing.T) {
	e := testEngine(t)

	_, err := e.SubmitLimit(newOrder("alice", domain.SideBid, domain.OutcomeYes, 0.40, 10))
	require.NoError(t, err)

	cancelled, err := e.CancelAllForMarket("mkt-1")
	require.NoError(t, err)
	assert.Len(t, cancelled, 1)

	// Market stays open for new orders.
	_, err = e.SubmitLimit(newOrder("bob", domain.SideBid, domain.OutcomeYes, 0.40, 10))
	assert.NoError(t, err)
}

func TestOutcomeBooksAreIndependent(t *testing.T) {
	e := testEngine(t)

	_, err := e.SubmitLimit(newOrder("bob", domain.SideAsk, domain.OutcomeNo, 0.40, 10))
	require.NoError(t, err)

	// A YES bid at the same price must not match the NO ask.
	res, err := e.SubmitLimit(newOrder("alice", domain.SideBid, domain.OutcomeYes, 0.40, 10))
	require.NoError(t, err)
	assert.Empty(t, res.Fills)
	assert.Equal(t, domain.OrderStatusOpen, res.Order.Status)
}
