package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tradecore/tradecore/internal/domain"
)

// ---------------------------------------------------------------------------
// ArchiveImpl
// ---------------------------------------------------------------------------

// ArchiveImpl implements domain.Archiver by querying the domain stores for
// old records, serializing them to JSONL, and uploading the result to S3.
//
// Deletion of the archived records from the primary store is intentionally
// NOT performed here -- that is a separate, explicit step to be executed
// after the archive has been verified.
type ArchiveImpl struct {
	writer     domain.BlobWriter
	trades     domain.TradeStore
	orders     domain.OrderStore
	footprints domain.FootprintStore
	events     domain.EventStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(
	writer domain.BlobWriter,
	trades domain.TradeStore,
	orders domain.OrderStore,
	footprints domain.FootprintStore,
	events domain.EventStore,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:     writer,
		trades:     trades,
		orders:     orders,
		footprints: footprints,
		events:     events,
	}
}

// ArchiveTrades queries all trades before the cutoff, serializes them to
// JSONL, and uploads the file to S3 at archive/trades/YYYY-MM.jsonl. The
// archival event is recorded in the event log and the count of archived
// records is returned.
func (a *ArchiveImpl) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	trades, err := a.trades.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(trades)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}

	path := archivePath("trades", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive trades upload: %w", err)
	}

	count := int64(len(trades))

	if err := a.events.Log(ctx, "archive.trades", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive trades event log: %w", err)
	}

	return count, nil
}

// ArchiveOrders queries all orders before the cutoff, serializes them to
// JSONL, and uploads the file to S3 at archive/orders/YYYY-MM.jsonl. The
// archival event is recorded in the event log and the count of archived
// records is returned.
func (a *ArchiveImpl) ArchiveOrders(ctx context.Context, before time.Time) (int64, error) {
	orders, err := a.orders.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive orders query: %w", err)
	}
	if len(orders) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(orders)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive orders marshal: %w", err)
	}

	path := archivePath("orders", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive orders upload: %w", err)
	}

	count := int64(len(orders))

	if err := a.events.Log(ctx, "archive.orders", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive orders event log: %w", err)
	}

	return count, nil
}

// ArchiveFootprints queries all footprint candles before the cutoff,
// serializes them to JSONL, and uploads the file to S3 at
// archive/footprints/YYYY-MM.jsonl. The archival event is recorded in the
// event log and the count of archived records is returned.
func (a *ArchiveImpl) ArchiveFootprints(ctx context.Context, before time.Time) (int64, error) {
	candles, err := a.footprints.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive footprints query: %w", err)
	}
	if len(candles) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(candles)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive footprints marshal: %w", err)
	}

	path := archivePath("footprints", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive footprints upload: %w", err)
	}

	count := int64(len(candles))

	if err := a.events.Log(ctx, "archive.footprints", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive footprints event log: %w", err)
	}

	return count, nil
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/trades/2025-01.jsonl
//	archive/orders/2025-01.jsonl
//	archive/footprints/2025-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
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
