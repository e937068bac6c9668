// Package persistence implements the PersistenceConsumers component: it
// subscribes to the raw marketdata.* topics the MarketDataFeed publishes,
// validates and persists each message to the TimeSeriesStore, and mirrors
// the latest state into the HotCache. PersistenceConsumers is the only
// writer of HotCache; every other component reads from it.
package persistence

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/tradecore/tradecore/internal/domain"
)

// Consumers bundles the three persistence consumer goroutines (order book,
// trades, ticker) and runs them together under Run.
type Consumers struct {
	orderBook *OrderBookConsumer
	trades    *TradeConsumer
	ticker    *TickerConsumer
}

// New creates Consumers wired to the given Bus, stores, and HotCache.
func New(bus domain.Bus, books domain.OrderBookStore, tradeStore domain.TradeStore, tickers domain.TickerStore, cache domain.HotCache, logger *slog.Logger) *Consumers {
	return &Consumers{
		orderBook: NewOrderBookConsumer(bus, books, cache, logger),
		trades:    NewTradeConsumer(bus, tradeStore, cache, logger),
		ticker:    NewTickerConsumer(bus, tickers, cache, logger),
	}
}

// Run starts all three consumers concurrently via an errgroup and returns
// the first error any of them produces (ctx cancellation included).
func (c *Consumers) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.orderBook.Run(gctx) })
	g.Go(func() error { return c.trades.Run(gctx) })
	g.Go(func() error { return c.ticker.Run(gctx) })
	return g.Wait()
}
