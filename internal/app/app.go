// Package app wires the exchange together (stores, caches, engine, services,
// maker, keeper, settlement) and manages the process lifecycle.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/degenlabs/degen-exchange/internal/config"
	"github.com/degenlabs/degen-exchange/internal/domain"
	"github.com/degenlabs/degen-exchange/internal/engine"
	"github.com/degenlabs/degen-exchange/internal/keeper"
	"github.com/degenlabs/degen-exchange/internal/ledger"
	"github.com/degenlabs/degen-exchange/internal/maker"
	"github.com/degenlabs/degen-exchange/internal/service"
	"github.com/degenlabs/degen-exchange/internal/settlement"
)

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()

	// Populated by Run; exposed for embedding the exchange in other processes.
	Orders *service.OrderService
	Query  *service.QueryService
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, restores engine state from the stores, starts
// the background loops, and blocks until the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting exchange",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	eng := engine.New(engine.Config{
		MakerFeeBps: a.cfg.Engine.MakerFeeBps,
		TakerFeeBps: a.cfg.Engine.TakerFeeBps,
	}, a.logger)
	led := ledger.New(deps.Positions, a.logger)

	processor := settlement.New(
		deps.Backend, deps.Fills, deps.Orders, led,
		deps.Locks, eng, deps.Bus, deps.Notifier, a.logger,
	)

	a.Orders = service.NewOrderService(
		eng, deps.Markets, deps.Orders, deps.Fills, deps.Positions,
		deps.Allowance, deps.Limiter, deps.Bus, deps.Audit, processor,
		service.Limits{
			SubmitPerWindow: a.cfg.Limits.SubmitPerWindow,
			Window:          a.cfg.Limits.Window.Duration,
		},
		a.logger,
	)
	a.Query = service.NewQueryService(eng, deps.Markets, deps.Orders, deps.Fills, deps.Positions, a.logger)

	if err := a.recoverBooks(ctx, eng, deps); err != nil {
		return fmt.Errorf("app: recover books: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return processor.Run(ctx, a.cfg.Settlement.ScanInterval.Duration, a.cfg.Settlement.BatchSize)
	})

	if a.cfg.Keeper.Enabled {
		k := keeper.New(
			deps.Markets, deps.Orders, deps.Positions, eng, deps.Backend,
			led, deps.Source, deps.Locks, deps.Archiver, deps.Notifier, a.logger,
		)
		g.Go(func() error {
			return k.Run(ctx, a.cfg.Keeper.SweepInterval.Duration)
		})
	}

	if a.cfg.Maker.Enabled {
		m := maker.New(
			service.NewMakerAdapter(a.Orders), deps.Source, deps.Markets,
			deps.Positions, deps.Signer,
			maker.Config{
				Ladder: maker.LadderParams{
					SpreadTicks: a.cfg.Maker.SpreadTicks,
					Levels:      a.cfg.Maker.Levels,
					StepTicks:   a.cfg.Maker.StepTicks,
					SizeUnits:   a.cfg.Maker.SizeUnits,
				},
				SkewTicksPerContract: a.cfg.Maker.SkewTicksPerContract,
				MaxSkewTicks:         a.cfg.Maker.MaxSkewTicks,
			},
			a.logger,
		)
		g.Go(func() error {
			return m.Run(ctx, maker.IntervalScheduler{Interval: a.cfg.Maker.RequoteInterval.Duration})
		})
	}

	return g.Wait()
}

// recoverBooks reloads unexpired markets and their resting orders into the
// matching engine after a restart. Replayed orders were resting together
// before shutdown, so replaying them in creation order rebuilds the same
// non-crossing books without producing fills.
func (a *App) recoverBooks(ctx context.Context, eng *engine.Engine, deps *Dependencies) error {
	for _, status := range []domain.MarketStatus{domain.MarketStatusOpen, domain.MarketStatusClosed} {
		markets, err := deps.Markets.ListByStatus(ctx, status)
		if err != nil {
			return err
		}
		for _, m := range markets {
			eng.RegisterMarket(m)
			if m.Status != domain.MarketStatusOpen {
				continue
			}
			orders, err := deps.Orders.ListOpenByMarket(ctx, m.ID)
			if err != nil {
				return err
			}
			for _, o := range orders {
				if _, err := eng.SubmitLimit(o); err != nil {
					a.logger.WarnContext(ctx, "drop unrecoverable order",
						slog.String("order_id", o.ID),
						slog.String("market_id", m.ID),
						slog.String("error", err.Error()),
					)
				}
			}
			a.logger.InfoContext(ctx, "market recovered",
				slog.String("market_id", m.ID),
				slog.Int("orders", len(orders)),
			)
		}
	}
	return nil
}

// Close tears down all resources in reverse registration order. Safe to call
// multiple times.
func (a *App) Close() {
	a.logger.Info("shutting down exchange")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
