package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/degenlabs/degen-exchange/internal/domain"
)

// MarketStore implements domain.MarketStore.
type MarketStore struct {
	pool *pgxpool.Pool
}

var _ domain.MarketStore = (*MarketStore)(nil)

func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketCols = `id, address, asset, timeframe, strike_price, final_price,
	expiry_at, status, outcome, yes_price_ticks, no_price_ticks,
	volume_micros, trade_count, created_at, updated_at, resolved_at, settled_at`

func scanMarket(scanner interface{ Scan(dest ...any) error }) (domain.Market, error) {
	var m domain.Market
	var status, outcome string
	err := scanner.Scan(
		&m.ID, &m.Address, &m.Asset, &m.Timeframe, &m.StrikePrice, &m.FinalPrice,
		&m.ExpiryAt, &status, &outcome, &m.YesPriceTicks, &m.NoPriceTicks,
		&m.VolumeMicros, &m.TradeCount, &m.CreatedAt, &m.UpdatedAt, &m.ResolvedAt, &m.SettledAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.Status = domain.MarketStatus(status)
	m.Outcome = domain.MarketOutcome(outcome)
	return m, nil
}

func (s *MarketStore) Create(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (
			id, address, asset, timeframe, strike_price, expiry_at,
			status, outcome, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())`
	_, err := s.pool.Exec(ctx, query,
		m.ID, m.Address, m.Asset, m.Timeframe, m.StrikePrice, m.ExpiryAt,
		string(m.Status), string(m.Outcome),
	)
	if err != nil {
		return fmt.Errorf("postgres: create market %s: %w", m.ID, err)
	}
	return nil
}

func (s *MarketStore) GetByID(ctx context.Context, id string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+marketCols+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, fmt.Errorf("postgres: market %s: %w", id, domain.ErrNotFound)
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

func (s *MarketStore) ListByStatus(ctx context.Context, status domain.MarketStatus) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketCols+` FROM markets WHERE status = $1 ORDER BY expiry_at`,
		string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets by status: %w", err)
	}
	defer rows.Close()

	var out []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	return out, nil
}

// UpdateStatus applies a forward-only transition; the rank comparison is
// done in SQL so concurrent keepers cannot regress a market.
func (s *MarketStore) UpdateStatus(ctx context.Context, id string, status domain.MarketStatus) error {
	const query = `
		UPDATE markets SET
			status = $1,
			updated_at = NOW(),
			resolved_at = CASE WHEN $1 = 'resolved' THEN NOW() ELSE resolved_at END,
			settled_at  = CASE WHEN $1 = 'settled'  THEN NOW() ELSE settled_at  END
		WHERE id = $2
		  AND array_position(ARRAY['open','closed','resolved','settled'], status)
		    < array_position(ARRAY['open','closed','resolved','settled'], $1)`
	tag, err := s.pool.Exec(ctx, query, string(status), id)
	if err != nil {
		return fmt.Errorf("postgres: update market status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing market from a non-forward transition.
		var exists bool
		if qerr := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM markets WHERE id = $1)`, id,
		).Scan(&exists); qerr != nil {
			return fmt.Errorf("postgres: check market %s: %w", id, qerr)
		}
		if !exists {
			return fmt.Errorf("postgres: market %s: %w", id, domain.ErrNotFound)
		}
		return fmt.Errorf("postgres: market %s already at or past %s: %w", id, status, domain.ErrAlreadyExists)
	}
	return nil
}

func (s *MarketStore) UpdatePrices(ctx context.Context, id string, yesTicks, noTicks, volumeDeltaMicro, tradeDelta int64) error {
	const query = `
		UPDATE markets SET
			yes_price_ticks = $1,
			no_price_ticks = $2,
			volume_micros = volume_micros + $3,
			trade_count = trade_count + $4,
			updated_at = NOW()
		WHERE id = $5`
	tag, err := s.pool.Exec(ctx, query, yesTicks, noTicks, volumeDeltaMicro, tradeDelta, id)
	if err != nil {
		return fmt.Errorf("postgres: update market prices %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: market %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *MarketStore) SetResolution(ctx context.Context, id string, outcome domain.MarketOutcome, finalPrice float64) error {
	const query = `
		UPDATE markets SET outcome = $1, final_price = $2, updated_at = NOW()
		WHERE id = $3`
	tag, err := s.pool.Exec(ctx, query, string(outcome), finalPrice, id)
	if err != nil {
		return fmt.Errorf("postgres: set market resolution %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: market %s: %w", id, domain.ErrNotFound)
	}
	return nil
}
