package s3blob

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/degenlabs/degen-exchange/internal/domain"
	"github.com/degenlabs/degen-exchange/internal/store/memory"
)

type fakeWriter struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{objects: map[string][]byte{}, types: map[string]string{}}
}

func (w *fakeWriter) Put(_ context.Context, path string, data []byte, contentType string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.objects[path] = data
	w.types[path] = contentType
	return nil
}

func TestArchiveMarket(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	orders := memory.NewOrderStore()
	fills := memory.NewFillStore()
	positions := memory.NewPositionStore()
	audit := memory.NewAuditStore()
	writer := newFakeWriter()

	require.NoError(t, orders.Create(ctx, domain.Order{
		ID: "ord-1", MarketID: "mkt-1", UserID: "alice",
		Side: domain.SideBid, Outcome: domain.OutcomeYes,
		Status: domain.OrderStatusFilled, CreatedAt: now.Add(-time.Hour),
	}))
	require.NoError(t, orders.Create(ctx, domain.Order{
		ID: "ord-2", MarketID: "other", UserID: "bob",
		Side: domain.SideAsk, Outcome: domain.OutcomeNo,
		Status: domain.OrderStatusOpen, CreatedAt: now.Add(-time.Hour),
	}))
	require.NoError(t, fills.Create(ctx, domain.Fill{
		ID: "fill-1", MarketID: "mkt-1", TakerUserID: "alice", MakerUserID: "bob",
		TakerSide: domain.SideBid, TakerOutcome: domain.OutcomeYes,
		Status: domain.FillStatusConfirmed, CreatedAt: now.Add(-time.Hour),
	}))
	require.NoError(t, positions.Upsert(ctx, domain.Position{
		ID: "pos-1", UserID: "alice", MarketID: "mkt-1",
		YesShares: 1_000_000, Status: domain.PositionStatusSettled,
		CreatedAt: now.Add(-time.Hour),
	}))

	arch := NewArchiver(writer, orders, fills, positions, audit)
	err := arch.ArchiveMarket(ctx, domain.Market{
		ID: "mkt-1", Address: "addr-1", Asset: "SOL",
		Status: domain.MarketStatusSettled, Outcome: domain.MarketOutcomeYes,
	})
	require.NoError(t, err)

	assert.Contains(t, writer.objects, "markets/mkt-1/market.json")
	assert.Contains(t, writer.objects, "markets/mkt-1/orders.jsonl")
	assert.Contains(t, writer.objects, "markets/mkt-1/fills.jsonl")
	assert.Contains(t, writer.objects, "markets/mkt-1/positions.jsonl")
	assert.Equal(t, "application/x-ndjson", writer.types["markets/mkt-1/fills.jsonl"])

	t.Run("orders from other markets are excluded", func(t *testing.T) {
		body := string(writer.objects["markets/mkt-1/orders.jsonl"])
		assert.Contains(t, body, "ord-1")
		assert.NotContains(t, body, "ord-2")
		assert.Equal(t, 1, strings.Count(body, "\n"))
	})

	t.Run("records the archival in the audit log", func(t *testing.T) {
		events := audit.Events()
		require.Len(t, events, 1)
		assert.Equal(t, "archive.market", events[0].Event)
		assert.Equal(t, 1, events[0].Details["orders"])
	})
}

func TestArchiveMarketEmpty(t *testing.T) {
	writer := newFakeWriter()
	arch := NewArchiver(writer, memory.NewOrderStore(), memory.NewFillStore(),
		memory.NewPositionStore(), nil)

	err := arch.ArchiveMarket(context.Background(), domain.Market{ID: "mkt-empty"})
	require.NoError(t, err)

	// Only the market record itself is written when there is no activity.
	assert.Len(t, writer.objects, 1)
	assert.Contains(t, writer.objects, "markets/mkt-empty/market.json")
}
