package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradecore/tradecore/internal/domain"
)

// TransactionStore implements domain.TransactionStore using PostgreSQL's
// bot_transactions table.
type TransactionStore struct {
	pool *pgxpool.Pool
}

// NewTransactionStore creates a new TransactionStore backed by the given
// connection pool.
func NewTransactionStore(pool *pgxpool.Pool) *TransactionStore {
	return &TransactionStore{pool: pool}
}

const insertFillQuery = `
	INSERT INTO bot_transactions (
		placed_order_id, owner_id, exchange, symbol_id, side, price, quantity, fee, fee_currency, transaction_time
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

// InsertFill records a single fill against a PlacedOrder.
func (s *TransactionStore) InsertFill(ctx context.Context, fill domain.Fill) error {
	err := withRetry(ctx, func() error {
		_, err := s.pool.Exec(ctx, insertFillQuery,
			fill.PlacedOrderID, fill.OwnerID, fill.Exchange, fill.SymbolID, string(fill.Side),
			fill.Price, fill.Quantity, fill.Fee, fill.FeeCurrency, fill.TransactionTime,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("postgres: insert fill for order %s: %w", fill.PlacedOrderID, err)
	}
	return nil
}

// InsertFills records multiple fills in a single batch, used when an
// ExchangeAdapter.CreateOrder call returns several partial fills at once.
func (s *TransactionStore) InsertFills(ctx context.Context, fills []domain.Fill) error {
	if len(fills) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, f := range fills {
		batch.Queue(insertFillQuery,
			f.PlacedOrderID, f.OwnerID, f.Exchange, f.SymbolID, string(f.Side),
			f.Price, f.Quantity, f.Fee, f.FeeCurrency, f.TransactionTime,
		)
	}

	err := withRetry(ctx, func() error {
		br := s.pool.SendBatch(ctx, batch)
		defer br.Close()
		for i := range fills {
			if _, err := br.Exec(); err != nil {
				return fmt.Errorf("insert fill batch item %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("postgres: insert fill batch: %w", err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.TransactionStore = (*TransactionStore)(nil)
