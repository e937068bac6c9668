package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradecore/tradecore/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL's trades_futures
// table.
type TradeStore struct {
	pool    *pgxpool.Pool
	symbols domain.SymbolCache
}

// NewTradeStore creates a new TradeStore backed by the given connection
// pool and symbol cache (used to resolve TradeEvent.Symbol to a row id).
func NewTradeStore(pool *pgxpool.Pool, symbols domain.SymbolCache) *TradeStore {
	return &TradeStore{pool: pool, symbols: symbols}
}

const tradeSelectCols = `symbol_id, exchange, time, trade_id, price, quantity, aggressor, is_maker`

// UpsertBatch inserts a batch of trades using a pgx.Batch, skipping
// duplicates on (time, symbol_id, exchange, trade_id) via
// ON CONFLICT DO NOTHING so replaying the same stream segment twice leaves
// row counts unchanged.
func (s *TradeStore) UpsertBatch(ctx context.Context, trades []domain.TradeEvent) error {
	if len(trades) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO trades_futures (
			time, symbol_id, exchange, trade_id, price, quantity, aggressor, is_maker
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (time, symbol_id, exchange, trade_id) DO NOTHING`

	for _, t := range trades {
		ref, err := s.symbols.Lookup(ctx, t.Symbol.Exchange, t.Symbol.Symbol)
		if err != nil {
			return fmt.Errorf("postgres: resolve symbol for trade %s/%s: %w", t.Symbol.Exchange, t.Symbol.Symbol, err)
		}
		batch.Queue(query,
			t.Timestamp, ref.ID, t.Symbol.Exchange, t.TradeID,
			t.Price, t.Quantity, string(t.Aggressor), t.IsMaker,
		)
	}

	err := withRetry(ctx, func() error {
		br := s.pool.SendBatch(ctx, batch)
		defer br.Close()
		for i := range trades {
			if _, err := br.Exec(); err != nil {
				return fmt.Errorf("upsert trade batch item %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("postgres: upsert trade batch: %w", err)
	}
	return nil
}

func scanTradeRow(scanner interface{ Scan(dest ...any) error }) (domain.TradeEvent, error) {
	var t domain.TradeEvent
	var symbolID int64
	var exchange, aggressor string
	if err := scanner.Scan(&symbolID, &exchange, &t.Timestamp, &t.TradeID, &t.Price, &t.Quantity, &aggressor, &t.IsMaker); err != nil {
		return domain.TradeEvent{}, err
	}
	t.Aggressor = domain.AggressorSide(aggressor)
	t.Symbol = domain.SymbolRef{ID: symbolID, Exchange: exchange}
	return t, nil
}

// ListBefore returns all trades with time strictly before the given instant
// (for archival).
func (s *TradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.TradeEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trades_futures WHERE time < $1 ORDER BY time ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before: %w", err)
	}
	defer rows.Close()

	var out []domain.TradeEvent
	for rows.Next() {
		t, err := scanTradeRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListByExchangeSymbol returns trades for a single (exchange, symbol) with
// pagination and optional time filtering.
func (s *TradeStore) ListByExchangeSymbol(ctx context.Context, exchange, symbol string, opts domain.ListOpts) ([]domain.TradeEvent, error) {
	ref, err := s.symbols.Lookup(ctx, exchange, symbol)
	if err != nil {
		return nil, fmt.Errorf("postgres: resolve symbol %s/%s: %w", exchange, symbol, err)
	}

	query := `SELECT ` + tradeSelectCols + ` FROM trades_futures WHERE exchange = $1 AND symbol_id = $2`
	args := []any{exchange, ref.ID}
	argIdx := 3

	if opts.Since != nil {
		query += fmt.Sprintf(" AND time >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND time <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY time DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades by exchange/symbol: %w", err)
	}
	defer rows.Close()

	var out []domain.TradeEvent
	for rows.Next() {
		t, err := scanTradeRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Compile-time interface check.
var _ domain.TradeStore = (*TradeStore)(nil)
