package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/degenlabs/degen-exchange/internal/domain"
)

// OrderStore implements domain.OrderStore.
type OrderStore struct {
	pool *pgxpool.Pool
}

var _ domain.OrderStore = (*OrderStore)(nil)

func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

const orderCols = `id, client_order_id, market_id, user_id, side, outcome,
	order_type, price_ticks, size_units, filled_units, status, signature,
	signed_message, expiry_ts, maker_bot, cancel_reason,
	created_at, updated_at, filled_at, cancelled_at`

func scanOrder(scanner interface{ Scan(dest ...any) error }) (domain.Order, error) {
	var o domain.Order
	var side, outcome, orderType, status string
	var clientOrderID int64
	err := scanner.Scan(
		&o.ID, &clientOrderID, &o.MarketID, &o.UserID, &side, &outcome,
		&orderType, &o.PriceTicks, &o.SizeUnits, &o.FilledUnits, &status,
		&o.Signature, &o.SignedMessage, &o.ExpiryTS, &o.MakerBot, &o.CancelReason,
		&o.CreatedAt, &o.UpdatedAt, &o.FilledAt, &o.CancelledAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	o.ClientOrderID = uint64(clientOrderID)
	o.Side = domain.Side(side)
	o.Outcome = domain.Outcome(outcome)
	o.Type = domain.OrderType(orderType)
	o.Status = domain.OrderStatus(status)
	return o, nil
}

func (s *OrderStore) Create(ctx context.Context, o domain.Order) error {
	const query = `
		INSERT INTO orders (
			id, client_order_id, market_id, user_id, side, outcome,
			order_type, price_ticks, size_units, filled_units, status,
			signature, signed_message, expiry_ts, maker_bot, cancel_reason,
			created_at, updated_at, filled_at, cancelled_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17, NOW(), $18, $19
		)`
	_, err := s.pool.Exec(ctx, query,
		o.ID, int64(o.ClientOrderID), o.MarketID, o.UserID,
		string(o.Side), string(o.Outcome), string(o.Type),
		o.PriceTicks, o.SizeUnits, o.FilledUnits, string(o.Status),
		o.Signature, o.SignedMessage, o.ExpiryTS, o.MakerBot, o.CancelReason,
		o.CreatedAt, o.FilledAt, o.CancelledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create order %s: %w", o.ID, err)
	}
	return nil
}

func (s *OrderStore) GetByID(ctx context.Context, id string) (domain.Order, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, fmt.Errorf("postgres: order %s: %w", id, domain.ErrNotFound)
		}
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	return o, nil
}

// Update rewrites the mutable fields of an order.
func (s *OrderStore) Update(ctx context.Context, o domain.Order) error {
	const query = `
		UPDATE orders SET
			filled_units = $1,
			status = $2,
			cancel_reason = $3,
			updated_at = NOW(),
			filled_at = $4,
			cancelled_at = $5
		WHERE id = $6`
	tag, err := s.pool.Exec(ctx, query,
		o.FilledUnits, string(o.Status), o.CancelReason,
		o.FilledAt, o.CancelledAt, o.ID,
	)
	if err != nil {
		return fmt.Errorf("postgres: update order %s: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: order %s: %w", o.ID, domain.ErrNotFound)
	}
	return nil
}

func (s *OrderStore) ListOpenByMarket(ctx context.Context, marketID string) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderCols+` FROM orders
		 WHERE market_id = $1 AND status IN ('open', 'partial')
		 ORDER BY created_at`,
		marketID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open orders %s: %w", marketID, err)
	}
	return collectOrders(rows)
}

func (s *OrderStore) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Order, error) {
	query := `SELECT ` + orderCols + ` FROM orders WHERE user_id = $1`
	args := []any{userID}
	idx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", idx)
		args = append(args, *opts.Since)
		idx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at < $%d", idx)
		args = append(args, *opts.Until)
		idx++
	}
	query += " ORDER BY created_at DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", idx)
		args = append(args, opts.Limit)
		idx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", idx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders for %s: %w", userID, err)
	}
	return collectOrders(rows)
}

func (s *OrderStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderCols+` FROM orders WHERE created_at < $1 ORDER BY created_at`,
		before,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders before %s: %w", before, err)
	}
	return collectOrders(rows)
}

func collectOrders(rows pgx.Rows) ([]domain.Order, error) {
	defer rows.Close()
	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan order: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: orders rows: %w", err)
	}
	return out, nil
}
