package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradecore/tradecore/internal/domain"
)

// OrderBookStore implements domain.OrderBookStore using PostgreSQL's
// order_books_futures table.
type OrderBookStore struct {
	pool    *pgxpool.Pool
	symbols domain.SymbolCache
}

// NewOrderBookStore creates a new OrderBookStore backed by the given
// connection pool and symbol cache.
func NewOrderBookStore(pool *pgxpool.Pool, symbols domain.SymbolCache) *OrderBookStore {
	return &OrderBookStore{pool: pool, symbols: symbols}
}

// Upsert persists a full order book snapshot, keyed by (time, symbol_id,
// exchange). A replayed snapshot at the same timestamp is a no-op.
func (s *OrderBookStore) Upsert(ctx context.Context, snap domain.OrderBookSnapshot) error {
	ref, err := s.symbols.Lookup(ctx, snap.Symbol.Exchange, snap.Symbol.Symbol)
	if err != nil {
		return fmt.Errorf("postgres: resolve symbol for order book %s/%s: %w", snap.Symbol.Exchange, snap.Symbol.Symbol, err)
	}

	bids, err := json.Marshal(snap.Bids)
	if err != nil {
		return fmt.Errorf("postgres: marshal bids: %w", err)
	}
	asks, err := json.Marshal(snap.Asks)
	if err != nil {
		return fmt.Errorf("postgres: marshal asks: %w", err)
	}

	const query = `
		INSERT INTO order_books_futures (time, symbol_id, exchange, bids, asks, sequence)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (time, symbol_id, exchange) DO NOTHING`

	err = withRetry(ctx, func() error {
		_, err := s.pool.Exec(ctx, query, snap.Timestamp, ref.ID, snap.Symbol.Exchange, bids, asks, snap.Sequence)
		return err
	})
	if err != nil {
		return fmt.Errorf("postgres: upsert order book %s/%s: %w", snap.Symbol.Exchange, snap.Symbol.Symbol, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.OrderBookStore = (*OrderBookStore)(nil)
