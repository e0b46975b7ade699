package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/degenlabs/degen-exchange/internal/domain"
)

// PositionStore implements domain.PositionStore.
type PositionStore struct {
	pool *pgxpool.Pool
}

var _ domain.PositionStore = (*PositionStore)(nil)

func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionCols = `id, user_id, market_id, yes_shares, no_shares,
	yes_cost_micro, no_cost_micro, yes_avg_entry_ticks, no_avg_entry_ticks,
	realized_pnl_micro, status, payout_micro, created_at, updated_at, settled_at`

func scanPosition(scanner interface{ Scan(dest ...any) error }) (domain.Position, error) {
	var p domain.Position
	var status string
	err := scanner.Scan(
		&p.ID, &p.UserID, &p.MarketID, &p.YesShares, &p.NoShares,
		&p.YesCostMicro, &p.NoCostMicro, &p.YesAvgEntryTicks, &p.NoAvgEntryTicks,
		&p.RealizedPnLMicro, &status, &p.PayoutMicro, &p.CreatedAt, &p.UpdatedAt, &p.SettledAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Status = domain.PositionStatus(status)
	return p, nil
}

func (s *PositionStore) Upsert(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, user_id, market_id, yes_shares, no_shares,
			yes_cost_micro, no_cost_micro, yes_avg_entry_ticks, no_avg_entry_ticks,
			realized_pnl_micro, status, payout_micro, created_at, updated_at, settled_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW(), $14
		)
		ON CONFLICT (user_id, market_id) DO UPDATE SET
			yes_shares          = EXCLUDED.yes_shares,
			no_shares           = EXCLUDED.no_shares,
			yes_cost_micro      = EXCLUDED.yes_cost_micro,
			no_cost_micro       = EXCLUDED.no_cost_micro,
			yes_avg_entry_ticks = EXCLUDED.yes_avg_entry_ticks,
			no_avg_entry_ticks  = EXCLUDED.no_avg_entry_ticks,
			realized_pnl_micro  = EXCLUDED.realized_pnl_micro,
			status              = EXCLUDED.status,
			payout_micro        = EXCLUDED.payout_micro,
			updated_at          = NOW(),
			settled_at          = EXCLUDED.settled_at`
	_, err := s.pool.Exec(ctx, query,
		p.ID, p.UserID, p.MarketID, p.YesShares, p.NoShares,
		p.YesCostMicro, p.NoCostMicro, p.YesAvgEntryTicks, p.NoAvgEntryTicks,
		p.RealizedPnLMicro, string(p.Status), p.PayoutMicro, p.CreatedAt, p.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s/%s: %w", p.UserID, p.MarketID, err)
	}
	return nil
}

func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+positionCols+` FROM positions WHERE id = $1`, id)
	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, fmt.Errorf("postgres: position %s: %w", id, domain.ErrNotFound)
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

func (s *PositionStore) Get(ctx context.Context, userID, marketID string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionCols+` FROM positions WHERE user_id = $1 AND market_id = $2`,
		userID, marketID,
	)
	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, fmt.Errorf("postgres: position %s/%s: %w", userID, marketID, domain.ErrNotFound)
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s/%s: %w", userID, marketID, err)
	}
	return p, nil
}

func (s *PositionStore) ListByMarket(ctx context.Context, marketID string) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionCols+` FROM positions WHERE market_id = $1 ORDER BY created_at`,
		marketID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions %s: %w", marketID, err)
	}
	return collectPositions(rows)
}

func (s *PositionStore) ListByUser(ctx context.Context, userID string) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionCols+` FROM positions WHERE user_id = $1 ORDER BY created_at`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions for %s: %w", userID, err)
	}
	return collectPositions(rows)
}

func collectPositions(rows pgx.Rows) ([]domain.Position, error) {
	defer rows.Close()
	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: positions rows: %w", err)
	}
	return out, nil
}
