package settlement

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/degenlabs/degen-exchange/internal/domain"
	"github.com/degenlabs/degen-exchange/internal/ledger"
	"github.com/degenlabs/degen-exchange/internal/store/memory"
)

// scriptedBackend returns the queued errors in order, then succeeds.
type scriptedBackend struct {
	errs     []error
	attempts int
}

func (b *scriptedBackend) ExecuteMatch(context.Context, domain.Fill) (string, error) {
	b.attempts++
	if len(b.errs) > 0 {
		err := b.errs[0]
		b.errs = b.errs[1:]
		if err != nil {
			return "", err
		}
	}
	return "sig-" + string(rune('0'+b.attempts)), nil
}

func (b *scriptedBackend) ExecuteClose(context.Context, string) (string, error) { return "sig", nil }
func (b *scriptedBackend) SettlePosition(context.Context, string, string, domain.MarketOutcome) (string, error) {
	return "sig", nil
}
func (b *scriptedBackend) Ready(context.Context) bool { return true }

type fixture struct {
	proc   *Processor
	fills  *memory.FillStore
	orders *memory.OrderStore
	posns  *memory.PositionStore
	bus    *memory.SignalBus
}

func newFixture(t *testing.T, backend Backend) fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fills := memory.NewFillStore()
	orders := memory.NewOrderStore()
	posns := memory.NewPositionStore()
	bus := memory.NewSignalBus()
	led := ledger.New(posns, logger)

	proc := New(backend, fills, orders, led, memory.NewLockManager(), nil, bus, nil, logger)
	proc.sleep = func(context.Context, time.Duration) error { return nil }
	return fixture{proc: proc, fills: fills, orders: orders, posns: posns, bus: bus}
}

func pendingFill(t *testing.T, fills *memory.FillStore) domain.Fill {
	t.Helper()
	f := domain.Fill{
		ID:                 uuid.New().String(),
		MarketID:           "mkt-1",
		MakerOrderID:       uuid.New().String(),
		TakerOrderID:       uuid.New().String(),
		MakerUserID:        "bob",
		TakerUserID:        "alice",
		TakerSide:          domain.SideBid,
		TakerOutcome:       domain.OutcomeYes,
		PriceTicks:         400_000,
		SizeUnits:          10_000_000,
		TakerNotionalMicro: 4_000_000,
		MakerOutcome:       domain.OutcomeNo,
		MakerPriceTicks:    600_000,
		MakerNotionalMicro: 6_000_000,
		Status:             domain.FillStatusPending,
		CreatedAt:          time.Now().UTC(),
	}
	require.NoError(t, fills.Create(context.Background(), f))
	return f
}

func TestProcessFill_Success(t *testing.T) {
	backend := &scriptedBackend{}
	fx := newFixture(t, backend)
	f := pendingFill(t, fx.fills)

	require.NoError(t, fx.proc.ProcessFill(context.Background(), f.ID))

	got, err := fx.fills.GetByID(context.Background(), f.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.FillStatusConfirmed, got.Status)
	assert.NotEmpty(t, got.TxSignature)
	assert.Equal(t, 1, backend.attempts)

	// Ledger applied both legs.
	alice, err := fx.posns.Get(context.Background(), "alice", "mkt-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10_000_000), alice.YesShares)
	bob, err := fx.posns.Get(context.Background(), "bob", "mkt-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10_000_000), bob.NoShares)

	assert.Len(t, fx.bus.Events("fills.confirmed"), 1)
}

func TestProcessFill_RetriesTransientThenSucceeds(t *testing.T) {
	backend := &scriptedBackend{errs: []error{
		errors.New("blockhash not found"),
		errors.New("timeout awaiting confirmation"),
	}}
	fx := newFixture(t, backend)
	f := pendingFill(t, fx.fills)

	require.NoError(t, fx.proc.ProcessFill(context.Background(), f.ID))
	assert.Equal(t, 3, backend.attempts)

	got, err := fx.fills.GetByID(context.Background(), f.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.FillStatusConfirmed, got.Status)
}

func TestProcessFill_BackoffDoublesBetweenAttempts(t *testing.T) {
	backend := &scriptedBackend{errs: []error{
		errors.New("timeout"),
		errors.New("timeout"),
	}}
	fx := newFixture(t, backend)
	var slept []time.Duration
	fx.proc.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	f := pendingFill(t, fx.fills)

	require.NoError(t, fx.proc.ProcessFill(context.Background(), f.ID))
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, slept,
		"one sleep between each pair of attempts, doubling from 500ms")
}

func TestProcessFill_ExhaustsRetries(t *testing.T) {
	backend := &scriptedBackend{errs: []error{
		errors.New("timeout"),
		errors.New("timeout"),
		errors.New("timeout"),
	}}
	fx := newFixture(t, backend)
	f := pendingFill(t, fx.fills)

	require.NoError(t, fx.proc.ProcessFill(context.Background(), f.ID))
	assert.Equal(t, 3, backend.attempts, "exactly three attempts, never more")

	got, err := fx.fills.GetByID(context.Background(), f.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.FillStatusFailed, got.Status)
	assert.Equal(t, string(FailureMaxRetries), got.FailureCode)
	assert.Len(t, fx.bus.Events("fills.failed"), 1)
}

func TestProcessFill_PermanentFailureStopsImmediately(t *testing.T) {
	backend := &scriptedBackend{errs: []error{
		errors.New("Error: Insufficient balance for transaction"),
	}}
	fx := newFixture(t, backend)
	f := pendingFill(t, fx.fills)

	require.NoError(t, fx.proc.ProcessFill(context.Background(), f.ID))
	assert.Equal(t, 1, backend.attempts, "permanent errors are not retried")

	got, err := fx.fills.GetByID(context.Background(), f.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.FillStatusFailed, got.Status)
	assert.Equal(t, string(FailureInsufficientFunds), got.FailureCode)

	// No ledger mutation on failure.
	_, err = fx.posns.Get(context.Background(), "alice", "mkt-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestProcessFill_AlreadySettledCountsAsSuccess(t *testing.T) {
	backend := &scriptedBackend{errs: []error{
		errors.New("custom program error: position already settled"),
	}}
	fx := newFixture(t, backend)
	f := pendingFill(t, fx.fills)

	require.NoError(t, fx.proc.ProcessFill(context.Background(), f.ID))
	got, err := fx.fills.GetByID(context.Background(), f.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.FillStatusConfirmed, got.Status)
}

func TestProcessFill_IdempotentOnConfirmed(t *testing.T) {
	backend := &scriptedBackend{}
	fx := newFixture(t, backend)
	f := pendingFill(t, fx.fills)

	require.NoError(t, fx.proc.ProcessFill(context.Background(), f.ID))
	require.NoError(t, fx.proc.ProcessFill(context.Background(), f.ID))
	assert.Equal(t, 1, backend.attempts, "confirmed fills are not re-executed")

	// Ledger applied exactly once.
	alice, err := fx.posns.Get(context.Background(), "alice", "mkt-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10_000_000), alice.YesShares)
}

// unreadyBackend reports not-ready; any execution attempt is a test failure.
type unreadyBackend struct {
	scriptedBackend
}

func (b *unreadyBackend) Ready(context.Context) bool { return false }

func TestRun_DefersWhenBackendNotReady(t *testing.T) {
	backend := &unreadyBackend{}
	fx := newFixture(t, backend)
	f := pendingFill(t, fx.fills)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := fx.proc.Run(ctx, 5*time.Millisecond, 10)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Equal(t, 0, backend.attempts, "no execution against an unready backend")
	got, gerr := fx.fills.GetByID(context.Background(), f.ID)
	require.NoError(t, gerr)
	assert.Equal(t, domain.FillStatusPending, got.Status, "fill left for a later drain")
}

func TestClassify(t *testing.T) {
	cases := []struct {
		msg  string
		want FailureCode
	}{
		{"Insufficient Balance", FailureInsufficientFunds},
		{"position limit exceeded for user", FailurePositionLimit},
		{"market closed", FailureMarketClosed},
		{"INVALID SIGNATURE supplied", FailureInvalidSignature},
		{"self-trade rejected", FailureSelfTrade},
		{"account not found: 5Gx...", FailureAccountNotFound},
		{"blockhash not found", ""},
		{"connection refused", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, classify(errors.New(tc.msg)), tc.msg)
	}
	assert.Equal(t, FailureCode(""), classify(nil))
}
