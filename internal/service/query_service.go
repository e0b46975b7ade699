package service

import (
	"context"
	"log/slog"

	"github.com/degenlabs/degen-exchange/internal/domain"
	"github.com/degenlabs/degen-exchange/internal/engine"
)

// QueryService is the read path: markets, books, orders, fills, positions.
type QueryService struct {
	engine    *engine.Engine
	markets   domain.MarketStore
	orders    domain.OrderStore
	fills     domain.FillStore
	positions domain.PositionStore
	logger    *slog.Logger
}

func NewQueryService(
	eng *engine.Engine,
	markets domain.MarketStore,
	orders domain.OrderStore,
	fills domain.FillStore,
	positions domain.PositionStore,
	logger *slog.Logger,
) *QueryService {
	return &QueryService{
		engine:    eng,
		markets:   markets,
		orders:    orders,
		fills:     fills,
		positions: positions,
		logger:    logger.With(slog.String("component", "query_service")),
	}
}

func (s *QueryService) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	return s.markets.GetByID(ctx, id)
}

func (s *QueryService) ListMarkets(ctx context.Context, status domain.MarketStatus) ([]domain.Market, error) {
	return s.markets.ListByStatus(ctx, status)
}

// Depth returns the live aggregated book for one outcome and side.
func (s *QueryService) Depth(_ context.Context, marketID string, outcome domain.Outcome, side domain.Side) ([]engine.DepthLevel, error) {
	return s.engine.Depth(marketID, outcome, side)
}

func (s *QueryService) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	return s.orders.GetByID(ctx, id)
}

// ListUserOrders returns the user's orders, newest filters via opts.
func (s *QueryService) ListUserOrders(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Order, error) {
	return s.orders.ListByUser(ctx, userID, opts)
}

func (s *QueryService) ListMarketFills(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Fill, error) {
	return s.fills.ListByMarket(ctx, marketID, opts)
}

func (s *QueryService) GetPosition(ctx context.Context, userID, marketID string) (domain.Position, error) {
	return s.positions.Get(ctx, userID, marketID)
}

func (s *QueryService) ListUserPositions(ctx context.Context, userID string) ([]domain.Position, error) {
	return s.positions.ListByUser(ctx, userID)
}

// UnrealizedPnL marks a position against the market's last published prices.
func (s *QueryService) UnrealizedPnL(ctx context.Context, userID, marketID string) (int64, error) {
	pos, err := s.positions.Get(ctx, userID, marketID)
	if err != nil {
		return 0, err
	}
	mkt, err := s.markets.GetByID(ctx, marketID)
	if err != nil {
		return 0, err
	}
	yesValue := mkt.YesPriceTicks * pos.YesShares / domain.SizeScale
	noValue := mkt.NoPriceTicks * pos.NoShares / domain.SizeScale
	return yesValue + noValue - pos.TotalCostMicro(), nil
}
