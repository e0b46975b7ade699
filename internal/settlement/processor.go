// Package settlement drives fills, market closes, and position payouts
// through the on-chain settlement backend, with bounded retries and
// per-fill single-flight across processes.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/degenlabs/degen-exchange/internal/domain"
	"github.com/degenlabs/degen-exchange/internal/ledger"
)

// Backend executes settlement transactions. Implementations are the live
// relayer and the deterministic simulator.
type Backend interface {
	// ExecuteMatch submits the match transaction for a fill and returns the
	// transaction signature.
	ExecuteMatch(ctx context.Context, f domain.Fill) (string, error)
	// ExecuteClose closes the market on chain.
	ExecuteClose(ctx context.Context, marketAddress string) (string, error)
	// SettlePosition pays out one position for the resolved outcome.
	SettlePosition(ctx context.Context, marketAddress, userID string, winner domain.MarketOutcome) (string, error)
	// Ready reports whether the backend can accept work.
	Ready(ctx context.Context) bool
}

// Notifier delivers operational alerts. Matches the notify package surface;
// kv is alternating key/value pairs attached as structured fields.
type Notifier interface {
	Alert(ctx context.Context, title, message string, kv ...string) error
}

// OrderCanceller cancels the taker order when its fill permanently fails.
type OrderCanceller interface {
	Cancel(marketID, orderID, requesterUserID string) (domain.Order, error)
}

const (
	maxAttempts = 3
	lockTTL     = 30 * time.Second
)

// backoffs[n-1] is slept after failed attempt n; the schedule doubles from
// 500ms and only the first maxAttempts-1 entries ever fire.
var backoffs = [...]time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second}

// Processor settles fills: it executes the match on the backend, records the
// outcome on the fill, applies confirmed fills to the ledger, and unwinds the
// taker order on permanent failure.
type Processor struct {
	backend Backend
	fills   domain.FillStore
	orders  domain.OrderStore
	ledger  *ledger.Ledger
	locks   domain.LockManager
	engine  OrderCanceller
	bus     domain.SignalBus
	notify  Notifier
	logger  *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Processor. engine, bus, and notify may be nil when the caller
// does not need order unwinding, event publication, or alerts.
func New(
	backend Backend,
	fills domain.FillStore,
	orders domain.OrderStore,
	led *ledger.Ledger,
	locks domain.LockManager,
	engine OrderCanceller,
	bus domain.SignalBus,
	notify Notifier,
	logger *slog.Logger,
) *Processor {
	return &Processor{
		backend: backend,
		fills:   fills,
		orders:  orders,
		ledger:  led,
		locks:   locks,
		engine:  engine,
		bus:     bus,
		notify:  notify,
		logger:  logger.With(slog.String("component", "settlement")),
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ProcessFill settles one fill end to end. It is safe to call concurrently
// and repeatedly for the same fill: the lock manager serializes attempts and
// the fill store's at-most-once settlement transition absorbs duplicates.
func (p *Processor) ProcessFill(ctx context.Context, fillID string) error {
	release, err := p.locks.Acquire(ctx, "settle:fill:"+fillID, lockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			p.logger.DebugContext(ctx, "fill settlement already in flight", slog.String("fill_id", fillID))
			return nil
		}
		return fmt.Errorf("settlement: acquire lock: %w", err)
	}
	defer release()

	f, err := p.fills.GetByID(ctx, fillID)
	if err != nil {
		return fmt.Errorf("settlement: load fill: %w", err)
	}
	if f.Status != domain.FillStatusPending {
		return nil
	}

	sig, code, execErr := p.executeWithRetry(ctx, f)
	switch {
	case execErr == nil:
		return p.confirm(ctx, f, sig)
	case code != "":
		return p.fail(ctx, f, code, execErr)
	default:
		return execErr // context cancelled mid-retry
	}
}

// executeWithRetry runs up to maxAttempts backend calls. It returns the
// transaction signature on success, or the failure code when the error is
// permanent or retries are exhausted.
func (p *Processor) executeWithRetry(ctx context.Context, f domain.Fill) (string, FailureCode, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		sig, err := p.backend.ExecuteMatch(ctx, f)
		if err == nil {
			return sig, "", nil
		}
		if isAlreadySettled(err) {
			// A previous attempt landed; treat as success with no new
			// signature to record.
			return sig, "", nil
		}
		if code := classify(err); code != "" {
			return "", code, err
		}

		lastErr = err
		p.logger.WarnContext(ctx, "settlement attempt failed",
			slog.String("fill_id", f.ID),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		if attempt < maxAttempts {
			if serr := p.sleep(ctx, backoffs[attempt-1]); serr != nil {
				return "", "", serr
			}
		}
	}
	return "", FailureMaxRetries, fmt.Errorf("settlement: %d attempts exhausted: %w", maxAttempts, lastErr)
}

func (p *Processor) confirm(ctx context.Context, f domain.Fill, txSig string) error {
	if err := p.fills.UpdateSettlement(ctx, f.ID, domain.FillStatusConfirmed, txSig, ""); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return nil // another process won the race
		}
		return fmt.Errorf("settlement: confirm fill %s: %w", f.ID, err)
	}
	if err := p.ledger.ApplyFill(ctx, f); err != nil {
		// The fill is confirmed on chain; a ledger error here is an
		// inconsistency that needs operator attention, not a retry.
		p.alert(ctx, "ledger update failed",
			fmt.Sprintf("fill confirmed on chain but ledger update failed: %v", err),
			"fill_id", f.ID, "market_id", f.MarketID, "tx", txSig)
		return err
	}
	p.publish(ctx, "fills.confirmed", f.ID)
	p.logger.InfoContext(ctx, "fill settled",
		slog.String("fill_id", f.ID),
		slog.String("tx", txSig),
	)
	return nil
}

func (p *Processor) fail(ctx context.Context, f domain.Fill, code FailureCode, cause error) error {
	if err := p.fills.UpdateSettlement(ctx, f.ID, domain.FillStatusFailed, "", string(code)); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return nil
		}
		return fmt.Errorf("settlement: fail fill %s: %w", f.ID, err)
	}

	p.logger.ErrorContext(ctx, "fill settlement failed permanently",
		slog.String("fill_id", f.ID),
		slog.String("code", string(code)),
		slog.String("error", cause.Error()),
	)

	// The taker's order produced a fill that can never settle; pull any
	// resting remainder so it stops matching.
	if p.engine != nil {
		if _, err := p.engine.Cancel(f.MarketID, f.TakerOrderID, f.TakerUserID); err != nil {
			var reject *domain.Reject
			if !errors.As(err, &reject) {
				p.logger.WarnContext(ctx, "taker cancel after failed settlement",
					slog.String("order_id", f.TakerOrderID),
					slog.String("error", err.Error()),
				)
			}
		} else if o, gerr := p.orders.GetByID(ctx, f.TakerOrderID); gerr == nil {
			o.Status = domain.OrderStatusCancelled
			o.CancelReason = "settlement failed: " + string(code)
			if uerr := p.orders.Update(ctx, o); uerr != nil {
				p.logger.WarnContext(ctx, "persist taker cancel", slog.String("error", uerr.Error()))
			}
		}
	}

	p.publish(ctx, "fills.failed", f.ID)
	p.alert(ctx, "settlement failure", cause.Error(),
		"fill_id", f.ID, "market_id", f.MarketID, "code", string(code))
	return nil
}

// Run drains pending fills on an interval until the context ends. Fills
// created by the order flow are also settled inline; this loop is the
// backstop for crashes between match and settlement.
func (p *Processor) Run(ctx context.Context, interval time.Duration, batch int) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.logger.InfoContext(ctx, "settlement loop started", slog.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !p.backend.Ready(ctx) {
				// Deferring costs nothing; attempting would burn the retry
				// budget on a backend that cannot accept work.
				p.logger.WarnContext(ctx, "settlement backend not ready, deferring pending fills")
				continue
			}
			pending, err := p.fills.ListPending(ctx, batch)
			if err != nil {
				p.logger.ErrorContext(ctx, "list pending fills", slog.String("error", err.Error()))
				continue
			}
			for _, f := range pending {
				if err := p.ProcessFill(ctx, f.ID); err != nil && !errors.Is(err, context.Canceled) {
					p.logger.ErrorContext(ctx, "process fill",
						slog.String("fill_id", f.ID),
						slog.String("error", err.Error()),
					)
				}
			}
		}
	}
}

func (p *Processor) publish(ctx context.Context, stream, fillID string) {
	if p.bus == nil {
		return
	}
	if err := p.bus.Publish(ctx, stream, []byte(fillID)); err != nil {
		p.logger.WarnContext(ctx, "publish settlement event",
			slog.String("stream", stream),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Processor) alert(ctx context.Context, title, message string, kv ...string) {
	if p.notify == nil {
		return
	}
	if err := p.notify.Alert(ctx, title, message, kv...); err != nil {
		p.logger.WarnContext(ctx, "send alert", slog.String("error", err.Error()))
	}
}
