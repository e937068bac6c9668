package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradecore/tradecore/internal/domain"
)

// FootprintStore implements domain.FootprintStore using PostgreSQL's
// footprints_futures table.
type FootprintStore struct {
	pool    *pgxpool.Pool
	symbols domain.SymbolCache
}

// NewFootprintStore creates a new FootprintStore backed by the given
// connection pool and symbol cache.
func NewFootprintStore(pool *pgxpool.Pool, symbols domain.SymbolCache) *FootprintStore {
	return &FootprintStore{pool: pool, symbols: symbols}
}

const footprintSelectCols = `symbol_id, exchange, interval_type, start_time, end_time,
	open, high, low, close, total_volume, total_delta, poc, value_area_high, value_area_low, buckets`

func scanFootprintRow(scanner interface{ Scan(dest ...any) error }) (domain.FootprintCandle, error) {
	var c domain.FootprintCandle
	var symbolID int64
	var exchange, intervalType string
	var bucketsJSON []byte

	if err := scanner.Scan(
		&symbolID, &exchange, &intervalType, &c.Start, &c.End,
		&c.Open, &c.High, &c.Low, &c.Close, &c.TotalVolume, &c.TotalDelta,
		&c.POC, &c.ValueAreaHigh, &c.ValueAreaLow, &bucketsJSON,
	); err != nil {
		return domain.FootprintCandle{}, err
	}

	c.SymbolID = symbolID
	c.Exchange = exchange
	c.Interval = parseIntervalType(intervalType)
	if err := json.Unmarshal(bucketsJSON, &c.Buckets); err != nil {
		return domain.FootprintCandle{}, fmt.Errorf("unmarshal buckets: %w", err)
	}
	return c, nil
}

func intervalTypeString(d time.Duration) string {
	return d.String()
}

func parseIntervalType(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

// Upsert persists a FootprintCandle, keyed by (symbol_id, exchange,
// interval_type, start_time). A later upsert for the same key overwrites
// the row. OrderFlowAggregator emits each bar once; a trade arriving after
// its bar was finalized is discarded, not re-upserted.
func (s *FootprintStore) Upsert(ctx context.Context, candle domain.FootprintCandle) error {
	ref, err := s.symbols.Lookup(ctx, candle.Exchange, candle.Symbol)
	if err != nil {
		return fmt.Errorf("postgres: resolve symbol for footprint %s/%s: %w", candle.Exchange, candle.Symbol, err)
	}

	buckets, err := json.Marshal(candle.Buckets)
	if err != nil {
		return fmt.Errorf("postgres: marshal buckets: %w", err)
	}

	const query = `
		INSERT INTO footprints_futures (
			symbol_id, exchange, interval_type, start_time, end_time,
			open, high, low, close, total_volume, total_delta, poc, value_area_high, value_area_low, buckets
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (symbol_id, exchange, interval_type, start_time) DO UPDATE SET
			end_time = EXCLUDED.end_time,
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			total_volume = EXCLUDED.total_volume,
			total_delta = EXCLUDED.total_delta,
			poc = EXCLUDED.poc,
			value_area_high = EXCLUDED.value_area_high,
			value_area_low = EXCLUDED.value_area_low,
			buckets = EXCLUDED.buckets`

	err = withRetry(ctx, func() error {
		_, err := s.pool.Exec(ctx, query,
			ref.ID, candle.Exchange, intervalTypeString(candle.Interval), candle.Start, candle.End,
			candle.Open, candle.High, candle.Low, candle.Close,
			candle.TotalVolume, candle.TotalDelta, candle.POC, candle.ValueAreaHigh, candle.ValueAreaLow, buckets,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("postgres: upsert footprint %s/%s: %w", candle.Exchange, candle.Symbol, err)
	}
	return nil
}

// ListBefore returns all footprint candles with start_time strictly before
// the given instant (for archival).
func (s *FootprintStore) ListBefore(ctx context.Context, before time.Time) ([]domain.FootprintCandle, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+footprintSelectCols+` FROM footprints_futures WHERE start_time < $1 ORDER BY start_time ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list footprints before: %w", err)
	}
	defer rows.Close()

	var out []domain.FootprintCandle
	for rows.Next() {
		c, err := scanFootprintRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan footprint: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetLatest returns the most recent footprint candle for (symbolID,
// exchange, interval).
func (s *FootprintStore) GetLatest(ctx context.Context, symbolID int64, exchange string, interval time.Duration) (domain.FootprintCandle, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+footprintSelectCols+` FROM footprints_futures
		 WHERE symbol_id = $1 AND exchange = $2 AND interval_type = $3
		 ORDER BY start_time DESC LIMIT 1`,
		symbolID, exchange, intervalTypeString(interval))

	c, err := scanFootprintRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.FootprintCandle{}, domain.ErrNotFound
		}
		return domain.FootprintCandle{}, fmt.Errorf("postgres: get latest footprint: %w", err)
	}
	return c, nil
}

// Compile-time interface check.
var _ domain.FootprintStore = (*FootprintStore)(nil)
