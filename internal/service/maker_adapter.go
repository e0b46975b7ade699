package service

import (
	"context"

	"github.com/degenlabs/degen-exchange/internal/domain"
)

// MakerAdapter exposes the order service through the narrow surface the
// quote engine uses, so maker orders take the same admission path as user
// orders.
type MakerAdapter struct {
	svc *OrderService
}

func NewMakerAdapter(svc *OrderService) *MakerAdapter {
	return &MakerAdapter{svc: svc}
}

func (a *MakerAdapter) SubmitLimit(ctx context.Context, o domain.Order) (domain.Order, error) {
	res, err := a.svc.SubmitLimit(ctx, o)
	if err != nil {
		return domain.Order{}, err
	}
	o.ID = res.OrderID
	o.Status = res.Status
	o.FilledUnits = res.FilledUnits
	return o, nil
}

func (a *MakerAdapter) Cancel(ctx context.Context, marketID, orderID, userID string) (domain.Order, error) {
	res, err := a.svc.Cancel(ctx, marketID, orderID, userID)
	if err != nil {
		return domain.Order{}, err
	}
	return domain.Order{ID: res.OrderID, Status: res.Status}, nil
}
