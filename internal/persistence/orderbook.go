package persistence

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/tradecore/tradecore/internal/domain"
)

const orderBookTopicPattern = "marketdata.*.*.orderbook"

// OrderBookConsumer persists order book snapshots to the TimeSeriesStore
// and mirrors the latest one into the HotCache.
type OrderBookConsumer struct {
	bus    domain.Bus
	store  domain.OrderBookStore
	cache  domain.HotCache
	logger *slog.Logger
}

// NewOrderBookConsumer creates an OrderBookConsumer.
func NewOrderBookConsumer(bus domain.Bus, store domain.OrderBookStore, cache domain.HotCache, logger *slog.Logger) *OrderBookConsumer {
	return &OrderBookConsumer{
		bus:    bus,
		store:  store,
		cache:  cache,
		logger: logger.With(slog.String("component", "persistence.orderbook")),
	}
}

// Run subscribes to every orderbook topic and processes messages until ctx
// is cancelled.
func (c *OrderBookConsumer) Run(ctx context.Context) error {
	ch, err := c.bus.Subscribe(ctx, orderBookTopicPattern)
	if err != nil {
		return err
	}
	c.logger.Info("order book consumer started")
	defer c.logger.Info("order book consumer stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-ch:
			if !ok {
				return nil
			}
			c.process(ctx, raw)
		}
	}
}

func (c *OrderBookConsumer) process(ctx context.Context, raw []byte) {
	var snap domain.OrderBookSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		c.logger.Warn("malformed order book message, dropping", slog.String("error", err.Error()))
		return
	}

	if err := c.store.Upsert(ctx, snap); err != nil {
		c.logger.Error("persist order book failed",
			slog.String("exchange", snap.Symbol.Exchange),
			slog.String("symbol", snap.Symbol.Symbol),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := c.cache.SetOrderBook(ctx, snap.Symbol.Exchange, snap.Symbol.Symbol, snap); err != nil {
		c.logger.Error("cache order book failed",
			slog.String("exchange", snap.Symbol.Exchange),
			slog.String("symbol", snap.Symbol.Symbol),
			slog.String("error", err.Error()),
		)
	}
}
