package domain

import "time"

// TradingSignalsStream is the durable Bus stream StrategyEngine appends
// TradingSignals to and OrderExecutor reads them from (spec §6). Using a
// Bus stream rather than an in-process channel means a StrategyEngine
// evaluation and the matching OrderExecutor placement can run in separate
// processes and survive an executor restart without losing a buffered
// signal: the executor only advances its read offset past a signal once
// processing it has returned.
const TradingSignalsStream = "trading.signals"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderKind indicates how the signal should be executed.
type OrderKind string

const (
	OrderKindMarket OrderKind = "market"
	OrderKindLimit  OrderKind = "limit"
)

// TradingSignal is emitted by the StrategyEngine to request order execution.
// Exactly one of Amount/QuoteAmount is set; Kind == OrderKindLimit requires
// LimitPrice to be set.
type TradingSignal struct {
	StrategyID       string
	OwnerID          string
	ExchangeConfigID string
	Exchange         string
	Symbol           string
	Side             OrderSide
	Kind             OrderKind
	Amount           float64 // base-asset amount; 0 means QuoteAmount is used instead
	QuoteAmount      float64 // quote-asset amount; 0 means Amount is used instead
	LimitPrice       float64 // required when Kind == OrderKindLimit
	StopLoss         *float64
	TakeProfit       *float64
	Leverage         *float64
	StateDigest      string // strategy-state digest; part of the dedup key together with StrategyID
	Reason           string
	CreatedAt        time.Time
	ExpiresAt        time.Time
}

// HasQuoteAmount reports whether the signal is denominated in quote-asset
// terms rather than base-asset terms.
func (s TradingSignal) HasQuoteAmount() bool {
	return s.QuoteAmount > 0 && s.Amount == 0
}

// DedupKey returns the key the executor uses to guarantee "exactly once per
// (strategy id, state digest)" delivery semantics.
func (s TradingSignal) DedupKey() string {
	return s.StrategyID + "|" + s.StateDigest
}
