// Package keeper drives the market lifecycle: it closes trading at the
// expiry buffer, resolves markets against the final spot price, pays out
// every position, and archives the settled market's records.
package keeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/degenlabs/degen-exchange/internal/domain"
	"github.com/degenlabs/degen-exchange/internal/feed"
	"github.com/degenlabs/degen-exchange/internal/ledger"
	"github.com/degenlabs/degen-exchange/internal/settlement"
)

// MarketEngine is the matching surface the keeper shuts down.
type MarketEngine interface {
	CloseMarket(marketID string) ([]domain.Order, error)
	RegisterMarket(m domain.Market)
}

// Archiver persists a settled market's records to cold storage.
type Archiver interface {
	ArchiveMarket(ctx context.Context, m domain.Market) error
}

// Notifier delivers lifecycle notifications. Matches the notify package
// surface; kv is alternating key/value pairs attached as structured fields.
type Notifier interface {
	Info(ctx context.Context, title, message string, kv ...string) error
}

// Keeper runs the lifecycle sweep.
type Keeper struct {
	markets   domain.MarketStore
	orders    domain.OrderStore
	positions domain.PositionStore
	engine    MarketEngine
	backend   settlement.Backend
	ledger    *ledger.Ledger
	source    feed.Source
	locks     domain.LockManager
	archiver  Archiver
	notify    Notifier
	logger    *slog.Logger

	settleWorkers int
}

// New creates a Keeper. archiver and notify may be nil.
func New(
	markets domain.MarketStore,
	orders domain.OrderStore,
	positions domain.PositionStore,
	engine MarketEngine,
	backend settlement.Backend,
	led *ledger.Ledger,
	source feed.Source,
	locks domain.LockManager,
	archiver Archiver,
	notify Notifier,
	logger *slog.Logger,
) *Keeper {
	return &Keeper{
		markets:       markets,
		orders:        orders,
		positions:     positions,
		engine:        engine,
		backend:       backend,
		ledger:        led,
		source:        source,
		locks:         locks,
		archiver:      archiver,
		notify:        notify,
		logger:        logger.With(slog.String("component", "keeper")),
		settleWorkers: 4,
	}
}

// Run sweeps the lifecycle on an interval until ctx ends.
func (k *Keeper) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	k.logger.InfoContext(ctx, "keeper started", slog.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			k.Sweep(ctx, time.Now().UTC())
		}
	}
}

// Sweep advances every market that is due for its next lifecycle step.
// Each step is guarded by a distributed lock so concurrent keepers never
// double-drive a market.
func (k *Keeper) Sweep(ctx context.Context, now time.Time) {
	k.sweepStatus(ctx, domain.MarketStatusOpen, func(ctx context.Context, m domain.Market) error {
		if now.Before(m.ExpiryAt.Add(-domain.TradingCloseBuffer)) {
			return nil
		}
		return k.closeMarket(ctx, m)
	})
	k.sweepStatus(ctx, domain.MarketStatusClosed, func(ctx context.Context, m domain.Market) error {
		if now.Before(m.ExpiryAt) {
			return nil
		}
		return k.resolveMarket(ctx, m)
	})
	k.sweepStatus(ctx, domain.MarketStatusResolved, k.settleMarket)
}

func (k *Keeper) sweepStatus(ctx context.Context, status domain.MarketStatus, step func(context.Context, domain.Market) error) {
	markets, err := k.markets.ListByStatus(ctx, status)
	if err != nil {
		k.logger.ErrorContext(ctx, "list markets", slog.String("status", string(status)), slog.String("error", err.Error()))
		return
	}
	for _, m := range markets {
		release, err := k.locks.Acquire(ctx, "keeper:"+m.ID, time.Minute)
		if err != nil {
			if !errors.Is(err, domain.ErrLockHeld) {
				k.logger.WarnContext(ctx, "acquire keeper lock", slog.String("market_id", m.ID), slog.String("error", err.Error()))
			}
			continue
		}
		if err := step(ctx, m); err != nil {
			k.logger.ErrorContext(ctx, "lifecycle step failed",
				slog.String("market_id", m.ID),
				slog.String("status", string(status)),
				slog.String("error", err.Error()),
			)
		}
		release()
	}
}

// closeMarket stops matching, cancels the book, and closes the market on
// chain.
func (k *Keeper) closeMarket(ctx context.Context, m domain.Market) error {
	cancelled, err := k.engine.CloseMarket(m.ID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("keeper: close engine market: %w", err)
	}
	for _, o := range cancelled {
		if uerr := k.orders.Update(ctx, o); uerr != nil {
			k.logger.WarnContext(ctx, "persist cancelled order", slog.String("order_id", o.ID), slog.String("error", uerr.Error()))
		}
	}

	if _, err := k.backend.ExecuteClose(ctx, m.Address); err != nil {
		return fmt.Errorf("keeper: close on chain: %w", err)
	}
	if err := k.markets.UpdateStatus(ctx, m.ID, domain.MarketStatusClosed); err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
		return fmt.Errorf("keeper: persist close: %w", err)
	}

	k.logger.InfoContext(ctx, "market closed",
		slog.String("market_id", m.ID),
		slog.Int("orders_cancelled", len(cancelled)),
	)
	return nil
}

// resolveMarket fixes the final price and the winning outcome. Resolution
// needs a live feed; a stale feed leaves the market closed until the next
// sweep.
func (k *Keeper) resolveMarket(ctx context.Context, m domain.Market) error {
	finalPrice, _, err := k.source.Price(ctx, m.Asset)
	if err != nil {
		return fmt.Errorf("keeper: resolve %s: %w", m.ID, err)
	}

	outcome := domain.MarketOutcomeNo
	if finalPrice > m.StrikePrice {
		outcome = domain.MarketOutcomeYes
	}

	if err := k.markets.SetResolution(ctx, m.ID, outcome, finalPrice); err != nil {
		return fmt.Errorf("keeper: set resolution: %w", err)
	}
	if err := k.markets.UpdateStatus(ctx, m.ID, domain.MarketStatusResolved); err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
		return fmt.Errorf("keeper: persist resolution: %w", err)
	}

	k.logger.InfoContext(ctx, "market resolved",
		slog.String("market_id", m.ID),
		slog.String("outcome", string(outcome)),
		slog.Float64("final_price", finalPrice),
		slog.Float64("strike", m.StrikePrice),
	)
	return nil
}

// settleMarket pays out every position, marks the market settled, and
// archives its records. Individual payout failures leave the market resolved
// so the next sweep retries only the unsettled remainder.
func (k *Keeper) settleMarket(ctx context.Context, m domain.Market) error {
	positions, err := k.positions.ListByMarket(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("keeper: list positions: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(k.settleWorkers)
	for _, pos := range positions {
		if pos.Status == domain.PositionStatusSettled {
			continue
		}
		pos := pos
		g.Go(func() error {
			if _, err := k.backend.SettlePosition(gctx, m.Address, pos.UserID, m.Outcome); err != nil {
				if !isAlreadySettled(err) {
					return fmt.Errorf("settle %s on chain: %w", pos.UserID, err)
				}
			}
			if _, err := k.ledger.Settle(gctx, pos.UserID, m.ID, m.Outcome); err != nil {
				if !errors.Is(err, domain.ErrPositionSettled) {
					return fmt.Errorf("settle %s ledger: %w", pos.UserID, err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("keeper: settle market %s: %w", m.ID, err)
	}

	if err := k.markets.UpdateStatus(ctx, m.ID, domain.MarketStatusSettled); err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
		return fmt.Errorf("keeper: persist settle: %w", err)
	}

	if k.archiver != nil {
		if err := k.archiver.ArchiveMarket(ctx, m); err != nil {
			// Settlement already happened; archival retries are manual.
			k.logger.ErrorContext(ctx, "archive settled market",
				slog.String("market_id", m.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	if k.notify != nil {
		msg := fmt.Sprintf("%s %s settled %s at %.2f, %d positions paid",
			m.Asset, m.Timeframe, m.Outcome, m.FinalPrice, len(positions))
		if err := k.notify.Info(ctx, "market settled", msg,
			"market_id", m.ID, "outcome", string(m.Outcome)); err != nil {
			k.logger.WarnContext(ctx, "settle notification", slog.String("error", err.Error()))
		}
	}

	k.logger.InfoContext(ctx, "market settled",
		slog.String("market_id", m.ID),
		slog.Int("positions", len(positions)),
	)
	return nil
}

func isAlreadySettled(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "already settled")
}
