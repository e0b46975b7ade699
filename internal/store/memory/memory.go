// Package memory provides in-process implementations of the persistence
// interfaces. Simulation mode and tests run against these instead of
// Postgres.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/degenlabs/degen-exchange/internal/domain"
)

// MarketStore is an in-memory domain.MarketStore.
type MarketStore struct {
	mu      sync.RWMutex
	markets map[string]domain.Market
}

var _ domain.MarketStore = (*MarketStore)(nil)

func NewMarketStore() *MarketStore {
	return &MarketStore{markets: make(map[string]domain.Market)}
}

func (s *MarketStore) Create(_ context.Context, m domain.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.markets[m.ID]; ok {
		return fmt.Errorf("memory: market %s: %w", m.ID, domain.ErrAlreadyExists)
	}
	s.markets[m.ID] = m
	return nil
}

func (s *MarketStore) GetByID(_ context.Context, id string) (domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markets[id]
	if !ok {
		return domain.Market{}, fmt.Errorf("memory: market %s: %w", id, domain.ErrNotFound)
	}
	return m, nil
}

func (s *MarketStore) ListByStatus(_ context.Context, status domain.MarketStatus) ([]domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Market
	for _, m := range s.markets {
		if m.Status == status {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiryAt.Before(out[j].ExpiryAt) })
	return out, nil
}

func (s *MarketStore) UpdateStatus(_ context.Context, id string, status domain.MarketStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[id]
	if !ok {
		return fmt.Errorf("memory: market %s: %w", id, domain.ErrNotFound)
	}
	if !m.Status.CanTransitionTo(status) {
		return fmt.Errorf("memory: market %s already %s: %w", id, m.Status, domain.ErrAlreadyExists)
	}
	now := time.Now().UTC()
	m.Status = status
	m.UpdatedAt = now
	switch status {
	case domain.MarketStatusResolved:
		m.ResolvedAt = &now
	case domain.MarketStatusSettled:
		m.SettledAt = &now
	}
	s.markets[id] = m
	return nil
}

func (s *MarketStore) UpdatePrices(_ context.Context, id string, yesTicks, noTicks, volumeDeltaMicro, tradeDelta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[id]
	if !ok {
		return fmt.Errorf("memory: market %s: %w", id, domain.ErrNotFound)
	}
	m.YesPriceTicks = yesTicks
	m.NoPriceTicks = noTicks
	m.VolumeMicros += volumeDeltaMicro
	m.TradeCount += tradeDelta
	m.UpdatedAt = time.Now().UTC()
	s.markets[id] = m
	return nil
}

func (s *MarketStore) SetResolution(_ context.Context, id string, outcome domain.MarketOutcome, finalPrice float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[id]
	if !ok {
		return fmt.Errorf("memory: market %s: %w", id, domain.ErrNotFound)
	}
	m.Outcome = outcome
	m.FinalPrice = finalPrice
	m.UpdatedAt = time.Now().UTC()
	s.markets[id] = m
	return nil
}

// OrderStore is an in-memory domain.OrderStore.
type OrderStore struct {
	mu     sync.RWMutex
	orders map[string]domain.Order
	seq    []string // creation order, for stable listings
}

var _ domain.OrderStore = (*OrderStore)(nil)

func NewOrderStore() *OrderStore {
	return &OrderStore{orders: make(map[string]domain.Order)}
}

func (s *OrderStore) Create(_ context.Context, o domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; ok {
		return fmt.Errorf("memory: order %s: %w", o.ID, domain.ErrAlreadyExists)
	}
	s.orders[o.ID] = o
	s.seq = append(s.seq, o.ID)
	return nil
}

func (s *OrderStore) GetByID(_ context.Context, id string) (domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return domain.Order{}, fmt.Errorf("memory: order %s: %w", id, domain.ErrNotFound)
	}
	return o, nil
}

func (s *OrderStore) Update(_ context.Context, o domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; !ok {
		return fmt.Errorf("memory: order %s: %w", o.ID, domain.ErrNotFound)
	}
	s.orders[o.ID] = o
	return nil
}

func (s *OrderStore) ListOpenByMarket(_ context.Context, marketID string) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Order
	for _, id := range s.seq {
		o := s.orders[id]
		if o.MarketID == marketID && !o.Status.Terminal() {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *OrderStore) ListByUser(_ context.Context, userID string, opts domain.ListOpts) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Order
	for _, id := range s.seq {
		o := s.orders[id]
		if o.UserID != userID {
			continue
		}
		if opts.Since != nil && o.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && !o.CreatedAt.Before(*opts.Until) {
			continue
		}
		out = append(out, o)
	}
	return paginate(out, opts), nil
}

func (s *OrderStore) ListBefore(_ context.Context, before time.Time) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Order
	for _, id := range s.seq {
		if o := s.orders[id]; o.CreatedAt.Before(before) {
			out = append(out, o)
		}
	}
	return out, nil
}

// FillStore is an in-memory domain.FillStore.
type FillStore struct {
	mu    sync.RWMutex
	fills map[string]domain.Fill
	seq   []string
}

var _ domain.FillStore = (*FillStore)(nil)

func NewFillStore() *FillStore {
	return &FillStore{fills: make(map[string]domain.Fill)}
}

func (s *FillStore) Create(_ context.Context, f domain.Fill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.fills[f.ID]; ok {
		return fmt.Errorf("memory: fill %s: %w", f.ID, domain.ErrAlreadyExists)
	}
	s.fills[f.ID] = f
	s.seq = append(s.seq, f.ID)
	return nil
}

func (s *FillStore) GetByID(_ context.Context, id string) (domain.Fill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.fills[id]
	if !ok {
		return domain.Fill{}, fmt.Errorf("memory: fill %s: %w", id, domain.ErrNotFound)
	}
	return f, nil
}

func (s *FillStore) UpdateSettlement(_ context.Context, id string, status domain.FillStatus, txSignature, failureCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.fills[id]
	if !ok {
		return fmt.Errorf("memory: fill %s: %w", id, domain.ErrNotFound)
	}
	if f.Status != domain.FillStatusPending {
		return fmt.Errorf("memory: fill %s already %s: %w", id, f.Status, domain.ErrAlreadyExists)
	}
	f.Status = status
	f.TxSignature = txSignature
	f.FailureCode = failureCode
	f.UpdatedAt = time.Now().UTC()
	s.fills[id] = f
	return nil
}

func (s *FillStore) ListByMarket(_ context.Context, marketID string, opts domain.ListOpts) ([]domain.Fill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Fill
	for _, id := range s.seq {
		f := s.fills[id]
		if f.MarketID != marketID {
			continue
		}
		if opts.Since != nil && f.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && !f.CreatedAt.Before(*opts.Until) {
			continue
		}
		out = append(out, f)
	}
	return paginate(out, opts), nil
}

func (s *FillStore) ListPending(_ context.Context, limit int) ([]domain.Fill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Fill
	for _, id := range s.seq {
		if f := s.fills[id]; f.Status == domain.FillStatusPending {
			out = append(out, f)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *FillStore) ListBefore(_ context.Context, before time.Time) ([]domain.Fill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Fill
	for _, id := range s.seq {
		if f := s.fills[id]; f.CreatedAt.Before(before) {
			out = append(out, f)
		}
	}
	return out, nil
}

// PositionStore is an in-memory domain.PositionStore.
type PositionStore struct {
	mu        sync.RWMutex
	positions map[string]domain.Position // keyed userID + "/" + marketID
	byID      map[string]string
}

var _ domain.PositionStore = (*PositionStore)(nil)

func NewPositionStore() *PositionStore {
	return &PositionStore{
		positions: make(map[string]domain.Position),
		byID:      make(map[string]string),
	}
}

func positionKey(userID, marketID string) string {
	return userID + "/" + marketID
}

func (s *PositionStore) Upsert(_ context.Context, p domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := positionKey(p.UserID, p.MarketID)
	s.positions[key] = p
	s.byID[p.ID] = key
	return nil
}

func (s *PositionStore) GetByID(_ context.Context, id string) (domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.byID[id]
	if !ok {
		return domain.Position{}, fmt.Errorf("memory: position %s: %w", id, domain.ErrNotFound)
	}
	return s.positions[key], nil
}

func (s *PositionStore) Get(_ context.Context, userID, marketID string) (domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[positionKey(userID, marketID)]
	if !ok {
		return domain.Position{}, fmt.Errorf("memory: position %s/%s: %w", userID, marketID, domain.ErrNotFound)
	}
	return p, nil
}

func (s *PositionStore) ListByMarket(_ context.Context, marketID string) ([]domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Position
	for _, p := range s.positions {
		if p.MarketID == marketID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *PositionStore) ListByUser(_ context.Context, userID string) ([]domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Position
	for _, p := range s.positions {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MarketID < out[j].MarketID })
	return out, nil
}

// AuditStore records audit events in memory.
type AuditStore struct {
	mu     sync.Mutex
	events []AuditEvent
}

var _ domain.AuditStore = (*AuditStore)(nil)

// AuditEvent is one recorded audit entry.
type AuditEvent struct {
	At      time.Time
	Event   string
	Details map[string]any
}

func NewAuditStore() *AuditStore { return &AuditStore{} }

func (s *AuditStore) Log(_ context.Context, event string, details map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, AuditEvent{At: time.Now().UTC(), Event: event, Details: details})
	return nil
}

// Events returns a copy of everything logged so far.
func (s *AuditStore) Events() []AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AuditEvent, len(s.events))
	copy(out, s.events)
	return out
}

func paginate[T any](in []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(in) {
			return nil
		}
		in = in[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(in) {
		in = in[:opts.Limit]
	}
	return in
}
