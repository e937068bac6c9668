package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradecore/tradecore/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL's bot_orders
// table.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

const orderSelectCols = `id, strategy_id, owner_id, client_order_id, exchange_order_id, exchange,
	symbol_id, symbol, side, type, price, requested_qty, filled_qty, avg_fill_price, fees,
	leverage, margin_type, status, created_at, updated_at`

func scanOrderRow(scanner interface{ Scan(dest ...any) error }) (domain.PlacedOrder, error) {
	var o domain.PlacedOrder
	var side, orderType, status string
	err := scanner.Scan(
		&o.ID, &o.StrategyID, &o.OwnerID, &o.ClientOrderID, &o.ExchangeOrderID, &o.Exchange,
		&o.SymbolID, &o.Symbol, &side, &orderType, &o.Price, &o.RequestedQty, &o.FilledQty, &o.AvgFillPrice, &o.Fees,
		&o.Leverage, &o.MarginType, &status, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return domain.PlacedOrder{}, err
	}
	o.Side = domain.OrderSide(side)
	o.Type = domain.OrderType(orderType)
	o.Status = domain.OrderStatus(status)
	return o, nil
}

// Create inserts a new PlacedOrder row. ClientOrderID has a unique
// constraint; a duplicate insert surfaces as domain.ErrDuplicate so the
// executor's dedup layer can treat it as "already placed" rather than a
// hard failure.
func (s *OrderStore) Create(ctx context.Context, order domain.PlacedOrder) error {
	const query = `
		INSERT INTO bot_orders (
			id, strategy_id, owner_id, client_order_id, exchange_order_id, exchange,
			symbol_id, symbol, side, type, price, requested_qty, filled_qty, avg_fill_price, fees,
			leverage, margin_type, status, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, NOW(), NOW()
		)`

	err := withRetry(ctx, func() error {
		_, err := s.pool.Exec(ctx, query,
			order.ID, order.StrategyID, order.OwnerID, order.ClientOrderID, order.ExchangeOrderID, order.Exchange,
			order.SymbolID, order.Symbol, string(order.Side), string(order.Type), order.Price, order.RequestedQty,
			order.FilledQty, order.AvgFillPrice, order.Fees, order.Leverage, order.MarginType, string(order.Status),
		)
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicate
		}
		return fmt.Errorf("postgres: create order %s: %w", order.ID, err)
	}
	return nil
}

// UpdateStatus updates the fill progress and status of an existing order.
func (s *OrderStore) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus, filledQty, avgFillPrice float64) error {
	var rowsAffected int64
	err := withRetry(ctx, func() error {
		tag, err := s.pool.Exec(ctx,
			`UPDATE bot_orders SET status = $1, filled_qty = $2, avg_fill_price = $3, updated_at = NOW() WHERE id = $4`,
			string(status), filledQty, avgFillPrice, id)
		if err != nil {
			return err
		}
		rowsAffected = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return fmt.Errorf("postgres: update order status %s: %w", id, err)
	}
	if rowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByClientOrderID looks up an order by its idempotency key.
func (s *OrderStore) GetByClientOrderID(ctx context.Context, clientOrderID string) (domain.PlacedOrder, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+orderSelectCols+` FROM bot_orders WHERE client_order_id = $1`, clientOrderID)
	o, err := scanOrderRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.PlacedOrder{}, domain.ErrNotFound
		}
		return domain.PlacedOrder{}, fmt.Errorf("postgres: get order by client id %s: %w", clientOrderID, err)
	}
	return o, nil
}

// GetByExchangeOrderID looks up an order by the exchange-assigned id.
func (s *OrderStore) GetByExchangeOrderID(ctx context.Context, exchange, exchangeOrderID string) (domain.PlacedOrder, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderSelectCols+` FROM bot_orders WHERE exchange = $1 AND exchange_order_id = $2`,
		exchange, exchangeOrderID)
	o, err := scanOrderRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.PlacedOrder{}, domain.ErrNotFound
		}
		return domain.PlacedOrder{}, fmt.Errorf("postgres: get order by exchange id %s/%s: %w", exchange, exchangeOrderID, err)
	}
	return o, nil
}

// ListBefore returns all orders created strictly before the given instant
// (for archival).
func (s *OrderStore) ListBefore(ctx context.Context, before time.Time) ([]domain.PlacedOrder, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderSelectCols+` FROM bot_orders WHERE created_at < $1 ORDER BY created_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders before: %w", err)
	}
	defer rows.Close()

	var out []domain.PlacedOrder
	for rows.Next() {
		o, err := scanOrderRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// OpenExposureUSD sums requested notional (price * remaining unfilled qty)
// across an owner's still-open orders. It satisfies service.ExposureSource
// structurally so the risk chain's ExposureCapPolicy can be backed directly
// by this store without a separate wrapper type.
func (s *OrderStore) OpenExposureUSD(ctx context.Context, ownerID string) (float64, error) {
	var total float64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(price * (requested_qty - filled_qty)), 0)
		 FROM bot_orders WHERE owner_id = $1 AND status = $2`,
		ownerID, string(domain.OrderStatusOpen)).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("postgres: open exposure for %s: %w", ownerID, err)
	}
	return total, nil
}

// Compile-time interface check.
var _ domain.OrderStore = (*OrderStore)(nil)
