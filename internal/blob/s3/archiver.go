package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/degenlabs/degen-exchange/internal/domain"
)

// Narrow store interfaces required by the archiver. The archiver only needs
// the query methods it actually calls, not the full domain store interfaces.

// OrderArchiveStore provides read access to orders for archival purposes.
type OrderArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Order, error)
}

// FillArchiveStore provides read access to fills for archival purposes.
type FillArchiveStore interface {
	ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Fill, error)
}

// PositionArchiveStore provides read access to positions for archival purposes.
type PositionArchiveStore interface {
	ListByMarket(ctx context.Context, marketID string) ([]domain.Position, error)
}

// Archiver serializes a settled market's records to JSONL and uploads them to
// blob storage under markets/{id}/. Deletion of the archived records from the
// primary store is intentionally not performed here; that is a separate,
// explicit step executed after the archive has been verified.
type Archiver struct {
	writer    domain.BlobWriter
	orders    OrderArchiveStore
	fills     FillArchiveStore
	positions PositionArchiveStore
	audit     domain.AuditStore
}

// NewArchiver creates an Archiver over the given writer and stores.
func NewArchiver(
	writer domain.BlobWriter,
	orders OrderArchiveStore,
	fills FillArchiveStore,
	positions PositionArchiveStore,
	audit domain.AuditStore,
) *Archiver {
	return &Archiver{
		writer:    writer,
		orders:    orders,
		fills:     fills,
		positions: positions,
		audit:     audit,
	}
}

// ArchiveMarket uploads the market record plus its orders, fills, and
// positions:
//
//	markets/{id}/market.json
//	markets/{id}/orders.jsonl
//	markets/{id}/fills.jsonl
//	markets/{id}/positions.jsonl
func (a *Archiver) ArchiveMarket(ctx context.Context, m domain.Market) error {
	marketJSON, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("s3blob: marshal market %s: %w", m.ID, err)
	}
	if err := a.writer.Put(ctx, archivePath(m.ID, "market.json"), marketJSON, "application/json"); err != nil {
		return fmt.Errorf("s3blob: archive market %s: %w", m.ID, err)
	}

	// Orders are archived from a time-ranged scan filtered to this market;
	// the market is settled, so every order precedes now.
	allOrders, err := a.orders.ListBefore(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("s3blob: archive orders query %s: %w", m.ID, err)
	}
	var orders []domain.Order
	for _, o := range allOrders {
		if o.MarketID == m.ID {
			orders = append(orders, o)
		}
	}
	if err := putJSONL(ctx, a.writer, archivePath(m.ID, "orders.jsonl"), orders); err != nil {
		return err
	}

	fills, err := a.fills.ListByMarket(ctx, m.ID, domain.ListOpts{})
	if err != nil {
		return fmt.Errorf("s3blob: archive fills query %s: %w", m.ID, err)
	}
	if err := putJSONL(ctx, a.writer, archivePath(m.ID, "fills.jsonl"), fills); err != nil {
		return err
	}

	positions, err := a.positions.ListByMarket(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("s3blob: archive positions query %s: %w", m.ID, err)
	}
	if err := putJSONL(ctx, a.writer, archivePath(m.ID, "positions.jsonl"), positions); err != nil {
		return err
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.market", map[string]any{
			"market_id": m.ID,
			"orders":    len(orders),
			"fills":     len(fills),
			"positions": len(positions),
		}); err != nil {
			return fmt.Errorf("s3blob: archive audit log %s: %w", m.ID, err)
		}
	}
	return nil
}

func putJSONL[T any](ctx context.Context, w domain.BlobWriter, path string, records []T) error {
	if len(records) == 0 {
		return nil
	}
	buf, err := marshalJSONL(records)
	if err != nil {
		return fmt.Errorf("s3blob: marshal %s: %w", path, err)
	}
	if err := w.Put(ctx, path, buf, "application/x-ndjson"); err != nil {
		return fmt.Errorf("s3blob: upload %s: %w", path, err)
	}
	return nil
}

func archivePath(marketID, file string) string {
	return fmt.Sprintf("markets/%s/%s", marketID, file)
}

// marshalJSONL serialises records as newline-delimited JSON, one compact line
// per element.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
