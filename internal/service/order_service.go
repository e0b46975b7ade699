// Package service orchestrates order flow: admission checks, signature
// verification, matching, persistence, event publication, and settlement
// hand-off.
package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/degenlabs/degen-exchange/internal/crypto"
	"github.com/degenlabs/degen-exchange/internal/domain"
	"github.com/degenlabs/degen-exchange/internal/engine"
)

// Settler settles fills produced by matching.
type Settler interface {
	ProcessFill(ctx context.Context, fillID string) error
}

// PositionLimitUnits caps a single (user, market) holding per outcome,
// mirroring the on-chain program's limit of 500,000 contracts.
const PositionLimitUnits = 500_000 * domain.SizeScale

// Limits configures per-user admission throttling.
type Limits struct {
	SubmitPerWindow int
	Window          time.Duration
}

// OrderService is the write path of the exchange.
type OrderService struct {
	engine    *engine.Engine
	markets   domain.MarketStore
	orders    domain.OrderStore
	fills     domain.FillStore
	positions domain.PositionStore
	allowance domain.AllowanceChecker
	limiter   domain.RateLimiter
	bus       domain.SignalBus
	audit     domain.AuditStore
	settler   Settler
	limits    Limits
	logger    *slog.Logger

	now func() time.Time
}

// NewOrderService wires the order write path. bus, audit, limiter, and
// settler may be nil in reduced setups.
func NewOrderService(
	eng *engine.Engine,
	markets domain.MarketStore,
	orders domain.OrderStore,
	fills domain.FillStore,
	positions domain.PositionStore,
	allowance domain.AllowanceChecker,
	limiter domain.RateLimiter,
	bus domain.SignalBus,
	audit domain.AuditStore,
	settler Settler,
	limits Limits,
	logger *slog.Logger,
) *OrderService {
	return &OrderService{
		engine:    eng,
		markets:   markets,
		orders:    orders,
		fills:     fills,
		positions: positions,
		allowance: allowance,
		limiter:   limiter,
		bus:       bus,
		audit:     audit,
		settler:   settler,
		limits:    limits,
		logger:    logger.With(slog.String("component", "order_service")),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SubmitLimit admits, matches, and persists a signed limit (or IOC/FOK)
// order.
func (s *OrderService) SubmitLimit(ctx context.Context, o domain.Order) (domain.SubmitResult, error) {
	mkt, err := s.admit(ctx, &o)
	if err != nil {
		return domain.SubmitResult{}, err
	}

	if o.Side == domain.SideBid {
		required := o.PriceTicks * o.SizeUnits / domain.SizeScale
		if err := s.checkAllowance(ctx, o.UserID, o.MarketID, o.SizeUnits, required); err != nil {
			return domain.SubmitResult{}, err
		}
	}

	res, err := s.engine.SubmitLimit(o)
	if err != nil {
		s.auditLog(ctx, "order.rejected", map[string]any{
			"order_id": o.ID, "user_id": o.UserID, "code": string(domain.RejectCodeOf(err)),
		})
		return domain.SubmitResult{}, err
	}

	s.persistMatch(ctx, mkt, res)
	return domain.SubmitResult{
		OrderID:     res.Order.ID,
		Status:      res.Order.Status,
		FillsCount:  len(res.Fills),
		FilledUnits: res.FilledUnits(),
		AvgPrice:    float64(res.AvgPriceTicks()) / domain.PriceScale,
	}, nil
}

// SubmitMarketBuy spends budgetMicro on contracts up to maxPriceTicks. The
// signed message carries maxPriceTicks in the price field and budgetMicro in
// the size field, and the order must be built the same way.
func (s *OrderService) SubmitMarketBuy(ctx context.Context, o domain.Order, budgetMicro, maxPriceTicks int64) (domain.SubmitResult, error) {
	o.Side = domain.SideBid
	mkt, err := s.admit(ctx, &o)
	if err != nil {
		return domain.SubmitResult{}, err
	}
	if err := s.checkAllowance(ctx, o.UserID, o.MarketID, 0, budgetMicro); err != nil {
		return domain.SubmitResult{}, err
	}

	res, err := s.engine.SubmitMarketByDollar(o, budgetMicro, maxPriceTicks)
	if err != nil {
		s.auditLog(ctx, "order.rejected", map[string]any{
			"order_id": o.ID, "user_id": o.UserID, "code": string(domain.RejectCodeOf(err)),
		})
		return domain.SubmitResult{}, err
	}

	s.persistMatch(ctx, mkt, res.Result)
	return domain.SubmitResult{
		OrderID:     res.Order.ID,
		Status:      res.Order.Status,
		FillsCount:  len(res.Fills),
		FilledUnits: res.ContractsUnits,
		AvgPrice:    float64(res.AvgPriceTicks()) / domain.PriceScale,
		SpentMicros: res.SpentMicro,
	}, nil
}

// SubmitMarketSell sells up to the order size at or above minPriceTicks,
// which the signed message carries in its price field.
func (s *OrderService) SubmitMarketSell(ctx context.Context, o domain.Order, minPriceTicks int64) (domain.SubmitResult, error) {
	o.Side = domain.SideAsk
	mkt, err := s.admit(ctx, &o)
	if err != nil {
		return domain.SubmitResult{}, err
	}

	res, err := s.engine.SubmitSell(o, minPriceTicks)
	if err != nil {
		s.auditLog(ctx, "order.rejected", map[string]any{
			"order_id": o.ID, "user_id": o.UserID, "code": string(domain.RejectCodeOf(err)),
		})
		return domain.SubmitResult{}, err
	}

	s.persistMatch(ctx, mkt, res.Result)
	return domain.SubmitResult{
		OrderID:     res.Order.ID,
		Status:      res.Order.Status,
		FillsCount:  len(res.Fills),
		FilledUnits: res.SoldUnits,
		AvgPrice:    float64(res.AvgPriceTicks()) / domain.PriceScale,
	}, nil
}

// Cancel removes the caller's resting order.
func (s *OrderService) Cancel(ctx context.Context, marketID, orderID, userID string) (domain.CancelResult, error) {
	if err := s.rateLimit(ctx, userID); err != nil {
		return domain.CancelResult{}, err
	}

	o, err := s.engine.Cancel(marketID, orderID, userID)
	if err != nil {
		return domain.CancelResult{}, err
	}
	if uerr := s.orders.Update(ctx, o); uerr != nil {
		s.logger.ErrorContext(ctx, "persist cancel", slog.String("order_id", orderID), slog.String("error", uerr.Error()))
	}
	s.auditLog(ctx, "order.cancelled", map[string]any{"order_id": orderID, "user_id": userID})
	s.publish(ctx, "orders.cancelled", orderID)
	return domain.CancelResult{OrderID: orderID, Status: o.Status}, nil
}

// admit runs the checks shared by every submission: throttle, market trading
// window, and signature over the exact order fields.
func (s *OrderService) admit(ctx context.Context, o *domain.Order) (domain.Market, error) {
	if err := s.rateLimit(ctx, o.UserID); err != nil {
		return domain.Market{}, err
	}

	mkt, err := s.markets.GetByID(ctx, o.MarketID)
	if err != nil {
		return domain.Market{}, fmt.Errorf("service: load market: %w", err)
	}
	now := s.now()
	if !mkt.TradingOpen(now) {
		return domain.Market{}, domain.NewReject(domain.RejectMarketClosed, domain.ErrMarketClosed,
			"market "+o.MarketID+" is outside its trading window")
	}
	if o.ExpiryTS != 0 && time.Unix(o.ExpiryTS, 0).Before(now) {
		return domain.Market{}, domain.NewReject(domain.RejectInvalidRequest, domain.ErrInvalidOrder,
			"order expired before submission")
	}
	if err := s.verifySignature(mkt, *o); err != nil {
		return domain.Market{}, err
	}
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	o.Status = domain.OrderStatusOpen
	o.FilledUnits = 0
	o.CreatedAt = now
	o.UpdatedAt = now
	return mkt, nil
}

// verifySignature checks the detached signature and that the signed message
// matches the submitted order field for field. The user id is the base58
// signing key.
func (s *OrderService) verifySignature(mkt domain.Market, o domain.Order) error {
	if err := crypto.VerifyOrder(o.UserID, o.SignedMessage, o.Signature); err != nil {
		return domain.NewReject(domain.RejectUnauthorized, domain.ErrUnauthorized, "signature verification failed")
	}
	raw, err := base64.StdEncoding.DecodeString(o.SignedMessage)
	if err != nil {
		return domain.NewReject(domain.RejectUnauthorized, domain.ErrUnauthorized, "malformed signed message")
	}
	msg, err := crypto.Decode(raw)
	if err != nil {
		return domain.NewReject(domain.RejectUnauthorized, domain.ErrUnauthorized, "malformed signed message")
	}
	if msg.MarketAddress != mkt.Address ||
		msg.Side != o.Side ||
		msg.Outcome != o.Outcome ||
		msg.PriceTicks != o.PriceTicks ||
		msg.SizeUnits != o.SizeUnits ||
		msg.ExpiryTS != o.ExpiryTS ||
		msg.ClientOrderID != o.ClientOrderID {
		return domain.NewReject(domain.RejectUnauthorized, domain.ErrUnauthorized,
			"signed message does not match order fields")
	}
	return nil
}

// checkAllowance combines the on-chain delegation check with the position
// limit.
func (s *OrderService) checkAllowance(ctx context.Context, userID, marketID string, addUnits, requiredMicro int64) error {
	if s.positions != nil && addUnits > 0 {
		pos, err := s.positions.Get(ctx, userID, marketID)
		if err == nil && pos.YesShares+pos.NoShares+addUnits > PositionLimitUnits {
			return domain.NewReject(domain.RejectInsufficientAllowance, domain.ErrAllowanceDenied,
				"position limit exceeded")
		}
	}
	if s.allowance == nil {
		return nil
	}
	res, err := s.allowance.CheckAllowance(ctx, userID, requiredMicro)
	if err != nil {
		return fmt.Errorf("service: allowance check: %w", err)
	}
	if !res.Approved {
		return domain.NewReject(domain.RejectInsufficientAllowance, domain.ErrAllowanceDenied, res.Reason)
	}
	return nil
}

func (s *OrderService) rateLimit(ctx context.Context, userID string) error {
	if s.limiter == nil || s.limits.SubmitPerWindow <= 0 {
		return nil
	}
	ok, err := s.limiter.Allow(ctx, "orders:"+userID, s.limits.SubmitPerWindow, s.limits.Window)
	if err != nil {
		// An unavailable limiter must not take the exchange down with it.
		s.logger.WarnContext(ctx, "rate limiter unavailable", slog.String("error", err.Error()))
		return nil
	}
	if !ok {
		return fmt.Errorf("service: user %s: %w", userID, domain.ErrRateLimited)
	}
	return nil
}

// persistMatch writes the match outcome: the incoming order, every touched
// maker, every fill, and the market's published prices and counters. Fills
// are handed to the settler asynchronously.
func (s *OrderService) persistMatch(ctx context.Context, mkt domain.Market, res engine.Result) {
	if err := s.orders.Create(ctx, res.Order); err != nil {
		s.logger.ErrorContext(ctx, "persist order", slog.String("order_id", res.Order.ID), slog.String("error", err.Error()))
	}
	for _, m := range res.Makers {
		if err := s.orders.Update(ctx, m); err != nil {
			s.logger.ErrorContext(ctx, "persist maker update", slog.String("order_id", m.ID), slog.String("error", err.Error()))
		}
	}

	var volumeDelta int64
	for _, f := range res.Fills {
		if err := s.fills.Create(ctx, f); err != nil {
			s.logger.ErrorContext(ctx, "persist fill", slog.String("fill_id", f.ID), slog.String("error", err.Error()))
			continue
		}
		volumeDelta += f.TakerNotionalMicro
		s.publish(ctx, "fills.pending", f.ID)
	}

	if len(res.Fills) > 0 {
		last := res.Fills[len(res.Fills)-1]
		yesTicks, noTicks := lastTradedPrices(last)
		if err := s.markets.UpdatePrices(ctx, mkt.ID, yesTicks, noTicks, volumeDelta, int64(len(res.Fills))); err != nil {
			s.logger.ErrorContext(ctx, "publish market prices", slog.String("market_id", mkt.ID), slog.String("error", err.Error()))
		}
	}

	s.auditLog(ctx, "order.accepted", map[string]any{
		"order_id": res.Order.ID,
		"user_id":  res.Order.UserID,
		"status":   string(res.Order.Status),
		"fills":    len(res.Fills),
	})
	s.publish(ctx, "orders.accepted", res.Order.ID)

	if s.settler != nil {
		for _, f := range res.Fills {
			fillID := f.ID
			// Settlement has its own retry budget; order submission does
			// not wait on it.
			go func() {
				sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
				defer cancel()
				if err := s.settler.ProcessFill(sctx, fillID); err != nil && !errors.Is(err, context.Canceled) {
					s.logger.ErrorContext(sctx, "settle fill", slog.String("fill_id", fillID), slog.String("error", err.Error()))
				}
			}()
		}
	}
}

// lastTradedPrices maps a fill to the published YES/NO prices.
func lastTradedPrices(f domain.Fill) (yesTicks, noTicks int64) {
	if f.TakerOutcome == domain.OutcomeYes {
		return f.PriceTicks, domain.PriceScale - f.PriceTicks
	}
	return domain.PriceScale - f.PriceTicks, f.PriceTicks
}

func (s *OrderService) auditLog(ctx context.Context, event string, details map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, details); err != nil {
		s.logger.WarnContext(ctx, "audit log", slog.String("event", event), slog.String("error", err.Error()))
	}
}

func (s *OrderService) publish(ctx context.Context, stream, id string) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, stream, []byte(id)); err != nil {
		s.logger.WarnContext(ctx, "publish event", slog.String("stream", stream), slog.String("error", err.Error()))
	}
}
