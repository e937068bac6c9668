package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// SymbolStore persists SymbolRef registration data. Registration is
// effectively immutable aside from tick-size adjustments.
type SymbolStore interface {
	Upsert(ctx context.Context, ref SymbolRef) (SymbolRef, error)
	GetByExchangeSymbol(ctx context.Context, exchange, symbol string) (SymbolRef, error)
	GetByID(ctx context.Context, id int64) (SymbolRef, error)
	List(ctx context.Context) ([]SymbolRef, error)
}

// OrderBookStore persists order_books_futures rows. Upserts are keyed by
// (time, symbol_id, exchange) so replays are idempotent.
type OrderBookStore interface {
	Upsert(ctx context.Context, snap OrderBookSnapshot) error
}

// TradeStore persists trades_futures rows. Upserts are keyed by
// (time, symbol_id, exchange, trade_id) so replaying the same stream twice
// leaves the row count unchanged.
type TradeStore interface {
	UpsertBatch(ctx context.Context, trades []TradeEvent) error
	ListBefore(ctx context.Context, before time.Time) ([]TradeEvent, error)
	ListByExchangeSymbol(ctx context.Context, exchange, symbol string, opts ListOpts) ([]TradeEvent, error)
}

// TickerStore persists mini_tickers_futures rows, keyed by
// (time, symbol_id, exchange).
type TickerStore interface {
	Upsert(ctx context.Context, snap TickerSnapshot) error
}

// FootprintStore persists footprints_futures rows, keyed by
// (symbol_id, exchange, interval_type, start_time).
type FootprintStore interface {
	Upsert(ctx context.Context, candle FootprintCandle) error
	ListBefore(ctx context.Context, before time.Time) ([]FootprintCandle, error)
	GetLatest(ctx context.Context, symbolID int64, exchange string, interval time.Duration) (FootprintCandle, error)
}

// StrategyInstanceStore persists StrategyInstance rows and their lifecycle
// state.
type StrategyInstanceStore interface {
	Upsert(ctx context.Context, inst StrategyInstance) error
	GetByID(ctx context.Context, id string) (StrategyInstance, error)
	ListDesiredOrActive(ctx context.Context) ([]StrategyInstance, error)
	UpdateStatus(ctx context.Context, id string, status EngineStatus, healthMessage string, consecutiveErrors int) error
	ClearDesiredActive(ctx context.Context, id string) error
}

// CredentialStore persists ExchangeCredential rows. Secret fields are
// always stored and returned as ciphertext; decryption happens in
// credential.Resolver, not in the store or the ExchangeAdapter.
type CredentialStore interface {
	GetByID(ctx context.Context, id string) (ExchangeCredential, error)
	GetActive(ctx context.Context, ownerID, exchange string, testnet bool) (ExchangeCredential, error)
}

// OrderStore persists bot_orders rows.
type OrderStore interface {
	Create(ctx context.Context, order PlacedOrder) error
	UpdateStatus(ctx context.Context, id string, status OrderStatus, filledQty, avgFillPrice float64) error
	GetByClientOrderID(ctx context.Context, clientOrderID string) (PlacedOrder, error)
	GetByExchangeOrderID(ctx context.Context, exchange, exchangeOrderID string) (PlacedOrder, error)
	ListBefore(ctx context.Context, before time.Time) ([]PlacedOrder, error)
}

// TransactionStore persists bot_transactions rows (fills).
type TransactionStore interface {
	InsertFill(ctx context.Context, fill Fill) error
	InsertFills(ctx context.Context, fills []Fill) error
}

// EventEntry is a single append-only operator-visible event row, used for
// everything the spec routes to "structured logs carry everything else":
// dropped-message counters, archive runs, dedup collisions.
type EventEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// EventStore persists an append-only operator event log.
type EventStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]EventEntry, error)
}
