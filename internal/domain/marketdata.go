package domain

import "time"

// SubscriptionKind is one of the three market-data streams a MarketDataFeed
// subscription can carry.
type SubscriptionKind string

const (
	KindOrderBook SubscriptionKind = "orderbook"
	KindTrades    SubscriptionKind = "trades"
	KindTicker    SubscriptionKind = "ticker"
)

// AggressorSide identifies the side of a trade that consumed resting
// liquidity.
type AggressorSide string

const (
	AggressorBuy     AggressorSide = "buy"
	AggressorSell    AggressorSide = "sell"
	AggressorUnknown AggressorSide = "unknown"
)

// PriceLevel is a single price+size entry in an order book.
type PriceLevel struct {
	Price float64
	Size  float64
}

// OrderBookSnapshot is a full snapshot of bids (ordered desc by price) and
// asks (ordered asc) for a symbol at a point in time.
type OrderBookSnapshot struct {
	Symbol    SymbolRef
	Timestamp time.Time
	Bids      []PriceLevel
	Asks      []PriceLevel
	Sequence  int64
}

// BestBid returns the highest bid price, or 0 if there are no bids.
func (s OrderBookSnapshot) BestBid() float64 {
	if len(s.Bids) == 0 {
		return 0
	}
	return s.Bids[0].Price
}

// BestAsk returns the lowest ask price, or 0 if there are no asks.
func (s OrderBookSnapshot) BestAsk() float64 {
	if len(s.Asks) == 0 {
		return 0
	}
	return s.Asks[0].Price
}

// MidPrice returns the midpoint between best bid and best ask, or 0 when
// either side is empty.
func (s OrderBookSnapshot) MidPrice() float64 {
	bb, ba := s.BestBid(), s.BestAsk()
	if bb == 0 || ba == 0 {
		return 0
	}
	return (bb + ba) / 2
}

// TradeEvent is a single executed trade on an exchange.
type TradeEvent struct {
	Symbol    SymbolRef
	Timestamp time.Time
	TradeID   string
	Price     float64
	Quantity  float64
	Aggressor AggressorSide
	IsMaker   bool
}

// TickerSnapshot is a rolling-window summary of a symbol's recent trading
// activity, analogous to a 24h ticker.
type TickerSnapshot struct {
	Symbol      SymbolRef
	Timestamp   time.Time
	Open        float64
	High        float64
	Low         float64
	Last        float64
	BaseVolume  float64
	QuoteVolume float64
	BestBid     float64
	BestAsk     float64
}
