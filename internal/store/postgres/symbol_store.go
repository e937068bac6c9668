package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradecore/tradecore/internal/domain"
)

// SymbolStore implements domain.SymbolStore using PostgreSQL.
type SymbolStore struct {
	pool *pgxpool.Pool
}

// NewSymbolStore creates a new SymbolStore backed by the given connection pool.
func NewSymbolStore(pool *pgxpool.Pool) *SymbolStore {
	return &SymbolStore{pool: pool}
}

const symbolSelectCols = `id, exchange, symbol, quote_asset, tick_size, created_at, updated_at`

func scanSymbolFromRow(scanner interface{ Scan(dest ...any) error }) (domain.SymbolRef, error) {
	var s domain.SymbolRef
	err := scanner.Scan(&s.ID, &s.Exchange, &s.Symbol, &s.QuoteAsset, &s.TickSize, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

// Upsert inserts or updates symbol registration data, keyed by
// (exchange, symbol). TickSize is the only field that can legitimately
// change on re-registration.
func (s *SymbolStore) Upsert(ctx context.Context, ref domain.SymbolRef) (domain.SymbolRef, error) {
	const query = `
		INSERT INTO symbols (exchange, symbol, quote_asset, tick_size, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (exchange, symbol) DO UPDATE SET
			quote_asset = EXCLUDED.quote_asset,
			tick_size = EXCLUDED.tick_size,
			updated_at = NOW()
		RETURNING ` + symbolSelectCols

	var out domain.SymbolRef
	err := withRetry(ctx, func() error {
		row := s.pool.QueryRow(ctx, query, ref.Exchange, ref.Symbol, ref.QuoteAsset, ref.TickSize)
		var scanErr error
		out, scanErr = scanSymbolFromRow(row)
		return scanErr
	})
	if err != nil {
		return domain.SymbolRef{}, fmt.Errorf("postgres: upsert symbol %s/%s: %w", ref.Exchange, ref.Symbol, err)
	}
	return out, nil
}

// GetByExchangeSymbol looks up a SymbolRef by (exchange, symbol).
func (s *SymbolStore) GetByExchangeSymbol(ctx context.Context, exchange, symbol string) (domain.SymbolRef, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+symbolSelectCols+` FROM symbols WHERE exchange = $1 AND symbol = $2`,
		exchange, symbol)
	out, err := scanSymbolFromRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.SymbolRef{}, domain.ErrNotFound
		}
		return domain.SymbolRef{}, fmt.Errorf("postgres: get symbol %s/%s: %w", exchange, symbol, err)
	}
	return out, nil
}

// GetByID looks up a SymbolRef by its numeric id.
func (s *SymbolStore) GetByID(ctx context.Context, id int64) (domain.SymbolRef, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+symbolSelectCols+` FROM symbols WHERE id = $1`, id)
	out, err := scanSymbolFromRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.SymbolRef{}, domain.ErrNotFound
		}
		return domain.SymbolRef{}, fmt.Errorf("postgres: get symbol by id %d: %w", id, err)
	}
	return out, nil
}

// List returns every registered symbol.
func (s *SymbolStore) List(ctx context.Context) ([]domain.SymbolRef, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+symbolSelectCols+` FROM symbols ORDER BY exchange, symbol`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list symbols: %w", err)
	}
	defer rows.Close()

	var out []domain.SymbolRef
	for rows.Next() {
		s, err := scanSymbolFromRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan symbol: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Compile-time interface check.
var _ domain.SymbolStore = (*SymbolStore)(nil)
