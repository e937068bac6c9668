package domain

import "time"

// OrderType mirrors the exchange-level time-in-force / order kind.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderStatus tracks the PlacedOrder lifecycle.
type OrderStatus string

const (
	OrderStatusOpen     OrderStatus = "open"
	OrderStatusFilled   OrderStatus = "filled"
	OrderStatusCanceled OrderStatus = "canceled"
	OrderStatusRejected OrderStatus = "rejected"
)

// PlacedOrder is created once an ExchangeAdapter.CreateOrder call succeeds
// and updated as fills are observed. FilledQty never exceeds RequestedQty.
type PlacedOrder struct {
	ID              string
	StrategyID      string
	OwnerID         string
	ClientOrderID   string
	ExchangeOrderID string
	Exchange        string
	SymbolID        int64
	Symbol          string
	Side            OrderSide
	Type            OrderType
	Price           float64
	RequestedQty    float64
	FilledQty       float64
	AvgFillPrice    float64
	Fees            float64
	Leverage        *float64
	MarginType      string
	Status          OrderStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Fill is a single execution report against a PlacedOrder, recorded into
// bot_transactions.
type Fill struct {
	PlacedOrderID   string
	OwnerID         string
	Exchange        string
	SymbolID        int64
	Side            OrderSide
	Price           float64
	Quantity        float64
	Fee             float64
	FeeCurrency     string
	TransactionTime time.Time
}

// OrderResult is the immediate outcome of an ExchangeAdapter.CreateOrder
// call, before any fill-polling/event reconciliation happens.
type OrderResult struct {
	ExchangeOrderID string
	Status          OrderStatus
	FilledQty       float64
	AvgFillPrice    float64
	Fees            float64
	Fills           []Fill
}
