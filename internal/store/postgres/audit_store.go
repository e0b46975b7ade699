package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/degenlabs/degen-exchange/internal/domain"
)

// AuditStore implements domain.AuditStore on the audit_log table.
type AuditStore struct {
	pool *pgxpool.Pool
}

var _ domain.AuditStore = (*AuditStore)(nil)

func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

func (s *AuditStore) Log(ctx context.Context, event string, details map[string]any) error {
	var detail []byte
	if len(details) > 0 {
		var err error
		detail, err = json.Marshal(details)
		if err != nil {
			return fmt.Errorf("postgres: marshal audit detail: %w", err)
		}
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO audit_log (event, detail) VALUES ($1, $2)`,
		event, detail,
	); err != nil {
		return fmt.Errorf("postgres: audit log %s: %w", event, err)
	}
	return nil
}
