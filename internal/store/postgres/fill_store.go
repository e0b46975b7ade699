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

// FillStore implements domain.FillStore.
type FillStore struct {
	pool *pgxpool.Pool
}

var _ domain.FillStore = (*FillStore)(nil)

func NewFillStore(pool *pgxpool.Pool) *FillStore {
	return &FillStore{pool: pool}
}

const fillCols = `id, market_id, maker_order_id, taker_order_id,
	maker_user_id, taker_user_id, taker_side, taker_outcome, price_ticks,
	taker_notional_micro, taker_fee_micro, maker_outcome, maker_price_ticks,
	maker_notional_micro, maker_fee_micro, size_units, status, tx_signature,
	failure_code, created_at, updated_at`

func scanFill(scanner interface{ Scan(dest ...any) error }) (domain.Fill, error) {
	var f domain.Fill
	var takerSide, takerOutcome, makerOutcome, status string
	err := scanner.Scan(
		&f.ID, &f.MarketID, &f.MakerOrderID, &f.TakerOrderID,
		&f.MakerUserID, &f.TakerUserID, &takerSide, &takerOutcome, &f.PriceTicks,
		&f.TakerNotionalMicro, &f.TakerFeeMicro, &makerOutcome, &f.MakerPriceTicks,
		&f.MakerNotionalMicro, &f.MakerFeeMicro, &f.SizeUnits, &status, &f.TxSignature,
		&f.FailureCode, &f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		return domain.Fill{}, err
	}
	f.TakerSide = domain.Side(takerSide)
	f.TakerOutcome = domain.Outcome(takerOutcome)
	f.MakerOutcome = domain.Outcome(makerOutcome)
	f.Status = domain.FillStatus(status)
	return f, nil
}

func (s *FillStore) Create(ctx context.Context, f domain.Fill) error {
	const query = `
		INSERT INTO fills (
			id, market_id, maker_order_id, taker_order_id,
			maker_user_id, taker_user_id, taker_side, taker_outcome, price_ticks,
			taker_notional_micro, taker_fee_micro, maker_outcome, maker_price_ticks,
			maker_notional_micro, maker_fee_micro, size_units, status, tx_signature,
			failure_code, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17, $18, $19, $20, NOW()
		)`
	_, err := s.pool.Exec(ctx, query,
		f.ID, f.MarketID, f.MakerOrderID, f.TakerOrderID,
		f.MakerUserID, f.TakerUserID, string(f.TakerSide), string(f.TakerOutcome), f.PriceTicks,
		f.TakerNotionalMicro, f.TakerFeeMicro, string(f.MakerOutcome), f.MakerPriceTicks,
		f.MakerNotionalMicro, f.MakerFeeMicro, f.SizeUnits, string(f.Status), f.TxSignature,
		f.FailureCode, f.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create fill %s: %w", f.ID, err)
	}
	return nil
}

func (s *FillStore) GetByID(ctx context.Context, id string) (domain.Fill, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+fillCols+` FROM fills WHERE id = $1`, id)
	f, err := scanFill(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Fill{}, fmt.Errorf("postgres: fill %s: %w", id, domain.ErrNotFound)
		}
		return domain.Fill{}, fmt.Errorf("postgres: get fill %s: %w", id, err)
	}
	return f, nil
}

// UpdateSettlement moves the fill out of pending exactly once; a second call
// finds no pending row and reports ErrAlreadyExists.
func (s *FillStore) UpdateSettlement(ctx context.Context, id string, status domain.FillStatus, txSignature, failureCode string) error {
	const query = `
		UPDATE fills SET status = $1, tx_signature = $2, failure_code = $3, updated_at = NOW()
		WHERE id = $4 AND status = 'pending'`
	tag, err := s.pool.Exec(ctx, query, string(status), txSignature, failureCode, id)
	if err != nil {
		return fmt.Errorf("postgres: update fill settlement %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if qerr := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM fills WHERE id = $1)`, id,
		).Scan(&exists); qerr != nil {
			return fmt.Errorf("postgres: check fill %s: %w", id, qerr)
		}
		if !exists {
			return fmt.Errorf("postgres: fill %s: %w", id, domain.ErrNotFound)
		}
		return fmt.Errorf("postgres: fill %s already settled: %w", id, domain.ErrAlreadyExists)
	}
	return nil
}

func (s *FillStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Fill, error) {
	query := `SELECT ` + fillCols + ` FROM fills WHERE market_id = $1`
	args := []any{marketID}
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
	query += " ORDER BY created_at"
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
		return nil, fmt.Errorf("postgres: list fills %s: %w", marketID, err)
	}
	return collectFills(rows)
}

func (s *FillStore) ListPending(ctx context.Context, limit int) ([]domain.Fill, error) {
	query := `SELECT ` + fillCols + ` FROM fills WHERE status = 'pending' ORDER BY created_at`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending fills: %w", err)
	}
	return collectFills(rows)
}

func (s *FillStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Fill, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+fillCols+` FROM fills WHERE created_at < $1 ORDER BY created_at`,
		before,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills before %s: %w", before, err)
	}
	return collectFills(rows)
}

func collectFills(rows pgx.Rows) ([]domain.Fill, error) {
	defer rows.Close()
	var out []domain.Fill
	for rows.Next() {
		f, err := scanFill(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan fill: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: fills rows: %w", err)
	}
	return out, nil
}
