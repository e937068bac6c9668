package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradecore/tradecore/internal/domain"
)

// TickerStore implements domain.TickerStore using PostgreSQL's
// mini_tickers_futures table.
type TickerStore struct {
	pool    *pgxpool.Pool
	symbols domain.SymbolCache
}

// NewTickerStore creates a new TickerStore backed by the given connection
// pool and symbol cache.
func NewTickerStore(pool *pgxpool.Pool, symbols domain.SymbolCache) *TickerStore {
	return &TickerStore{pool: pool, symbols: symbols}
}

// Upsert persists a ticker snapshot, keyed by (time, symbol_id, exchange).
func (s *TickerStore) Upsert(ctx context.Context, snap domain.TickerSnapshot) error {
	ref, err := s.symbols.Lookup(ctx, snap.Symbol.Exchange, snap.Symbol.Symbol)
	if err != nil {
		return fmt.Errorf("postgres: resolve symbol for ticker %s/%s: %w", snap.Symbol.Exchange, snap.Symbol.Symbol, err)
	}

	const query = `
		INSERT INTO mini_tickers_futures (
			time, symbol_id, exchange, open, high, low, last, base_volume, quote_volume, best_bid, best_ask
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (time, symbol_id, exchange) DO NOTHING`

	err = withRetry(ctx, func() error {
		_, err := s.pool.Exec(ctx, query,
			snap.Timestamp, ref.ID, snap.Symbol.Exchange,
			snap.Open, snap.High, snap.Low, snap.Last,
			snap.BaseVolume, snap.QuoteVolume, snap.BestBid, snap.BestAsk,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("postgres: upsert ticker %s/%s: %w", snap.Symbol.Exchange, snap.Symbol.Symbol, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.TickerStore = (*TickerStore)(nil)
