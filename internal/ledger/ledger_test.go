package ledger

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/degenlabs/degen-exchange/internal/domain"
	"github.com/degenlabs/degen-exchange/internal/store/memory"
)

func testLedger(t *testing.T) (*Ledger, domain.PositionStore) {
	t.Helper()
	store := memory.NewPositionStore()
	return New(store, slog.New(slog.NewTextHandler(io.Discard, nil))), store
}

func fill(takerSide domain.Side, outcome domain.Outcome, price, size float64, taker, maker string) domain.Fill {
	priceTicks := int64(price * domain.PriceScale)
	sizeUnits := int64(size * domain.SizeScale)
	return domain.Fill{
		ID:                 uuid.New().String(),
		MarketID:           "mkt-1",
		TakerUserID:        taker,
		MakerUserID:        maker,
		TakerSide:          takerSide,
		TakerOutcome:       outcome,
		PriceTicks:         priceTicks,
		SizeUnits:          sizeUnits,
		TakerNotionalMicro: priceTicks * sizeUnits / domain.SizeScale,
		MakerOutcome:       outcome.Opposite(),
		MakerPriceTicks:    domain.PriceScale - priceTicks,
		MakerNotionalMicro: (domain.PriceScale - priceTicks) * sizeUnits / domain.SizeScale,
		Status:             domain.FillStatusConfirmed,
		CreatedAt:          time.Now().UTC(),
	}
}

func TestApplyFill_OpeningMintsPair(t *testing.T) {
	l, store := testLedger(t)
	ctx := context.Background()

	// Alice buys 10 YES @ $0.40 from Bob, who holds nothing: Bob's sale
	// opens 10 NO @ $0.60.
	require.NoError(t, l.ApplyFill(ctx, fill(domain.SideBid, domain.OutcomeYes, 0.40, 10, "alice", "bob")))

	alice, err := store.Get(ctx, "alice", "mkt-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10_000_000), alice.YesShares)
	assert.Equal(t, int64(4_000_000), alice.YesCostMicro)
	assert.Equal(t, int64(400_000), alice.YesAvgEntryTicks)
	assert.Zero(t, alice.NoShares)

	bob, err := store.Get(ctx, "bob", "mkt-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10_000_000), bob.NoShares)
	assert.Equal(t, int64(6_000_000), bob.NoCostMicro)
	assert.Equal(t, int64(600_000), bob.NoAvgEntryTicks)
	assert.Zero(t, bob.YesShares)
}

func TestApplyFill_WeightedAverageEntry(t *testing.T) {
	l, store := testLedger(t)
	ctx := context.Background()

	require.NoError(t, l.ApplyFill(ctx, fill(domain.SideBid, domain.OutcomeYes, 0.40, 10, "alice", "bob")))
	require.NoError(t, l.ApplyFill(ctx, fill(domain.SideBid, domain.OutcomeYes, 0.60, 10, "alice", "carol")))

	alice, err := store.Get(ctx, "alice", "mkt-1")
	require.NoError(t, err)
	assert.Equal(t, int64(20_000_000), alice.YesShares)
	assert.Equal(t, int64(10_000_000), alice.YesCostMicro)
	assert.Equal(t, int64(500_000), alice.YesAvgEntryTicks, "(0.40*10 + 0.60*10) / 20 = 0.50")
}

func TestApplyFill_SellAtAverageCost(t *testing.T) {
	l, store := testLedger(t)
	ctx := context.Background()

	// Build: 20 YES at avg $0.50.
	require.NoError(t, l.ApplyFill(ctx, fill(domain.SideBid, domain.OutcomeYes, 0.40, 10, "alice", "bob")))
	require.NoError(t, l.ApplyFill(ctx, fill(domain.SideBid, domain.OutcomeYes, 0.60, 10, "alice", "carol")))

	// Alice sells 5 YES @ $0.70: PnL = (0.70 - 0.50) * 5 = $1.00.
	require.NoError(t, l.ApplyFill(ctx, fill(domain.SideAsk, domain.OutcomeYes, 0.70, 5, "alice", "dave")))

	alice, err := store.Get(ctx, "alice", "mkt-1")
	require.NoError(t, err)
	assert.Equal(t, int64(15_000_000), alice.YesShares)
	assert.Equal(t, int64(7_500_000), alice.YesCostMicro, "cost released at average, not trade, price")
	assert.Equal(t, int64(500_000), alice.YesAvgEntryTicks, "average entry unchanged by a sell")
	assert.Equal(t, int64(1_000_000), alice.RealizedPnLMicro)
}

func TestApplyFill_SellWithoutHoldingOpensOpposite(t *testing.T) {
	l, store := testLedger(t)
	ctx := context.Background()

	// Alice sells 10 YES @ $0.40 holding none: she opens 10 NO @ $0.60.
	require.NoError(t, l.ApplyFill(ctx, fill(domain.SideAsk, domain.OutcomeYes, 0.40, 10, "alice", "bob")))

	alice, err := store.Get(ctx, "alice", "mkt-1")
	require.NoError(t, err)
	assert.Zero(t, alice.YesShares)
	assert.Equal(t, int64(10_000_000), alice.NoShares)
	assert.Equal(t, int64(600_000), alice.NoAvgEntryTicks)
	assert.Zero(t, alice.RealizedPnLMicro)
}

func TestApplyFill_FullExitResetsBasis(t *testing.T) {
	l, store := testLedger(t)
	ctx := context.Background()

	require.NoError(t, l.ApplyFill(ctx, fill(domain.SideBid, domain.OutcomeYes, 0.40, 10, "alice", "bob")))
	require.NoError(t, l.ApplyFill(ctx, fill(domain.SideAsk, domain.OutcomeYes, 0.55, 10, "alice", "carol")))

	alice, err := store.Get(ctx, "alice", "mkt-1")
	require.NoError(t, err)
	assert.Zero(t, alice.YesShares)
	assert.Zero(t, alice.YesCostMicro)
	assert.Zero(t, alice.YesAvgEntryTicks)
	assert.Equal(t, int64(1_500_000), alice.RealizedPnLMicro, "(0.55 - 0.40) * 10")
}

func TestSettle(t *testing.T) {
	l, store := testLedger(t)
	ctx := context.Background()

	require.NoError(t, l.ApplyFill(ctx, fill(domain.SideBid, domain.OutcomeYes, 0.40, 10, "alice", "bob")))

	t.Run("winner paid a dollar per share", func(t *testing.T) {
		pos, err := l.Settle(ctx, "alice", "mkt-1", domain.MarketOutcomeYes)
		require.NoError(t, err)
		assert.Equal(t, domain.PositionStatusSettled, pos.Status)
		assert.Equal(t, int64(10_000_000), pos.PayoutMicro)
		assert.Equal(t, int64(6_000_000), pos.RealizedPnLMicro, "$10.00 payout - $4.00 cost")
		require.NotNil(t, pos.SettledAt)
	})

	t.Run("loser paid nothing", func(t *testing.T) {
		pos, err := l.Settle(ctx, "bob", "mkt-1", domain.MarketOutcomeYes)
		require.NoError(t, err)
		assert.Zero(t, pos.PayoutMicro)
		assert.Equal(t, int64(-6_000_000), pos.RealizedPnLMicro, "bob's 10 NO @ $0.60 expire worthless")
	})

	t.Run("second settle rejected", func(t *testing.T) {
		_, err := l.Settle(ctx, "alice", "mkt-1", domain.MarketOutcomeYes)
		assert.ErrorIs(t, err, domain.ErrPositionSettled)
	})

	t.Run("fills after settle rejected", func(t *testing.T) {
		err := l.ApplyFill(ctx, fill(domain.SideBid, domain.OutcomeYes, 0.40, 1, "alice", "carol"))
		assert.ErrorIs(t, err, domain.ErrPositionSettled)
	})

	t.Run("pending outcome rejected", func(t *testing.T) {
		pos := domain.Position{ID: uuid.New().String(), UserID: "eve", MarketID: "mkt-1", Status: domain.PositionStatusOpen}
		require.NoError(t, store.Upsert(ctx, pos))
		_, err := l.Settle(ctx, "eve", "mkt-1", domain.MarketOutcomePending)
		assert.Error(t, err)
	})
}
