// Package ledger maintains per-user per-market positions: share holdings,
// weighted-average cost basis, realized PnL, and the one-way settlement
// payout. All arithmetic is int64 fixed-point with floor truncation.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/degenlabs/degen-exchange/internal/domain"
)

// Ledger applies confirmed fills and settlement payouts to positions.
type Ledger struct {
	positions domain.PositionStore
	logger    *slog.Logger
}

// New creates a Ledger backed by the given position store.
func New(positions domain.PositionStore, logger *slog.Logger) *Ledger {
	return &Ledger{
		positions: positions,
		logger:    logger.With(slog.String("component", "ledger")),
	}
}

// trade is one leg of a fill from a single user's perspective.
type trade struct {
	userID        string
	side          domain.Side
	outcome       domain.Outcome
	priceTicks    int64
	sizeUnits     int64
	notionalMicro int64
}

// ApplyFill updates both counterparties' positions for a confirmed fill.
// Each leg is the user's own order: a bid buys its outcome, an ask either
// closes an existing holding or, when the user holds nothing to sell, opens
// the complementary outcome at the complementary price (a match between two
// openers mints a full YES/NO pair).
func (l *Ledger) ApplyFill(ctx context.Context, f domain.Fill) error {
	legs := []trade{
		{
			userID:        f.TakerUserID,
			side:          f.TakerSide,
			outcome:       f.TakerOutcome,
			priceTicks:    f.PriceTicks,
			sizeUnits:     f.SizeUnits,
			notionalMicro: f.TakerNotionalMicro,
		},
		{
			userID:        f.MakerUserID,
			side:          f.TakerSide.Opposite(),
			outcome:       f.TakerOutcome,
			priceTicks:    f.PriceTicks,
			sizeUnits:     f.SizeUnits,
			notionalMicro: f.TakerNotionalMicro,
		},
	}

	for _, leg := range legs {
		if err := l.applyLeg(ctx, f.MarketID, leg); err != nil {
			return fmt.Errorf("ledger: fill %s: %w", f.ID, err)
		}
	}
	return nil
}

func (l *Ledger) applyLeg(ctx context.Context, marketID string, t trade) error {
	pos, err := l.loadOrCreate(ctx, t.userID, marketID)
	if err != nil {
		return err
	}
	if pos.Status == domain.PositionStatusSettled {
		return fmt.Errorf("user %s market %s: %w", t.userID, marketID, domain.ErrPositionSettled)
	}

	held := pos.Shares(t.outcome)
	if t.side == domain.SideAsk && held >= t.sizeUnits {
		l.applySell(&pos, t)
	} else if t.side == domain.SideAsk {
		// Selling an outcome without holding it is economically identical
		// to buying the opposite outcome at the complementary price.
		l.applyBuy(&pos, trade{
			userID:        t.userID,
			side:          domain.SideBid,
			outcome:       t.outcome.Opposite(),
			priceTicks:    domain.PriceScale - t.priceTicks,
			sizeUnits:     t.sizeUnits,
			notionalMicro: (domain.PriceScale - t.priceTicks) * t.sizeUnits / domain.SizeScale,
		})
	} else {
		l.applyBuy(&pos, t)
	}

	pos.UpdatedAt = time.Now().UTC()
	if err := l.positions.Upsert(ctx, pos); err != nil {
		return fmt.Errorf("upsert position: %w", err)
	}
	return nil
}

// applyBuy adds shares at the trade price, re-deriving the weighted-average
// entry from the accumulated cost basis.
func (l *Ledger) applyBuy(pos *domain.Position, t trade) {
	switch t.outcome {
	case domain.OutcomeYes:
		pos.YesShares += t.sizeUnits
		pos.YesCostMicro += t.notionalMicro
		pos.YesAvgEntryTicks = avgEntry(pos.YesCostMicro, pos.YesShares)
	case domain.OutcomeNo:
		pos.NoShares += t.sizeUnits
		pos.NoCostMicro += t.notionalMicro
		pos.NoAvgEntryTicks = avgEntry(pos.NoCostMicro, pos.NoShares)
	}
}

// applySell removes shares at average cost, booking the difference between
// proceeds and released cost as realized PnL. The average entry price is
// unchanged by a sell.
func (l *Ledger) applySell(pos *domain.Position, t trade) {
	switch t.outcome {
	case domain.OutcomeYes:
		released := pos.YesAvgEntryTicks * t.sizeUnits / domain.SizeScale
		pos.YesShares -= t.sizeUnits
		pos.YesCostMicro -= released
		if pos.YesShares == 0 {
			pos.YesCostMicro = 0
			pos.YesAvgEntryTicks = 0
		}
		pos.RealizedPnLMicro += t.notionalMicro - released
	case domain.OutcomeNo:
		released := pos.NoAvgEntryTicks * t.sizeUnits / domain.SizeScale
		pos.NoShares -= t.sizeUnits
		pos.NoCostMicro -= released
		if pos.NoShares == 0 {
			pos.NoCostMicro = 0
			pos.NoAvgEntryTicks = 0
		}
		pos.RealizedPnLMicro += t.notionalMicro - released
	}
}

func avgEntry(costMicro, shares int64) int64 {
	if shares == 0 {
		return 0
	}
	return costMicro * domain.SizeScale / shares
}

// Settle pays out a position exactly once for the resolved market outcome:
// $1.00 per winning share, nothing for the losing side. A second settle of
// the same position returns ErrPositionSettled.
func (l *Ledger) Settle(ctx context.Context, userID, marketID string, winner domain.MarketOutcome) (domain.Position, error) {
	pos, err := l.positions.Get(ctx, userID, marketID)
	if err != nil {
		return domain.Position{}, fmt.Errorf("ledger: settle: %w", err)
	}
	if pos.Status == domain.PositionStatusSettled {
		return domain.Position{}, fmt.Errorf("ledger: user %s market %s: %w", userID, marketID, domain.ErrPositionSettled)
	}

	var winningShares int64
	switch winner {
	case domain.MarketOutcomeYes:
		winningShares = pos.YesShares
	case domain.MarketOutcomeNo:
		winningShares = pos.NoShares
	default:
		return domain.Position{}, fmt.Errorf("ledger: settle with unresolved outcome %q", winner)
	}

	now := time.Now().UTC()
	pos.PayoutMicro = winningShares // 1e6 units * $1.00 = same micro amount
	pos.RealizedPnLMicro += pos.PayoutMicro - pos.TotalCostMicro()
	pos.Status = domain.PositionStatusSettled
	pos.SettledAt = &now
	pos.UpdatedAt = now

	if err := l.positions.Upsert(ctx, pos); err != nil {
		return domain.Position{}, fmt.Errorf("ledger: settle upsert: %w", err)
	}

	l.logger.InfoContext(ctx, "position settled",
		slog.String("user_id", userID),
		slog.String("market_id", marketID),
		slog.Int64("payout_micro", pos.PayoutMicro),
	)
	return pos, nil
}

func (l *Ledger) loadOrCreate(ctx context.Context, userID, marketID string) (domain.Position, error) {
	pos, err := l.positions.Get(ctx, userID, marketID)
	if err == nil {
		return pos, nil
	}
	if !isNotFound(err) {
		return domain.Position{}, fmt.Errorf("load position: %w", err)
	}
	now := time.Now().UTC()
	return domain.Position{
		ID:        uuid.New().String(),
		UserID:    userID,
		MarketID:  marketID,
		Status:    domain.PositionStatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
