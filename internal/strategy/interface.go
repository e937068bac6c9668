package strategy

import (
	"context"

	"github.com/tradecore/tradecore/internal/domain"
)

// Strategy evaluates a single StrategyInstance against the latest market
// state and optionally returns a TradingSignal. Implementations must be
// safe for concurrent use across different instances of the same Kind; the
// Engine serializes evaluations of the same instance via a LockManager, but
// never serializes across instances.
type Strategy interface {
	Kind() domain.StrategyKind
	Evaluate(ctx context.Context, inst domain.StrategyInstance, book domain.OrderBookSnapshot, ticker domain.TickerSnapshot) (*domain.TradingSignal, error)
}
