package persistence

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/tradecore/tradecore/internal/domain"
)

const tickerTopicPattern = "marketdata.*.*.ticker"

// TickerConsumer persists ticker snapshots to the TimeSeriesStore and
// mirrors the latest one into the HotCache.
type TickerConsumer struct {
	bus    domain.Bus
	store  domain.TickerStore
	cache  domain.HotCache
	logger *slog.Logger
}

// NewTickerConsumer creates a TickerConsumer.
func NewTickerConsumer(bus domain.Bus, store domain.TickerStore, cache domain.HotCache, logger *slog.Logger) *TickerConsumer {
	return &TickerConsumer{
		bus:    bus,
		store:  store,
		cache:  cache,
		logger: logger.With(slog.String("component", "persistence.ticker")),
	}
}

// Run subscribes to every ticker topic and processes messages until ctx is
// cancelled.
func (c *TickerConsumer) Run(ctx context.Context) error {
	ch, err := c.bus.Subscribe(ctx, tickerTopicPattern)
	if err != nil {
		return err
	}
	c.logger.Info("ticker consumer started")
	defer c.logger.Info("ticker consumer stopped")

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

func (c *TickerConsumer) process(ctx context.Context, raw []byte) {
	var snap domain.TickerSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		c.logger.Warn("malformed ticker message, dropping", slog.String("error", err.Error()))
		return
	}

	if err := c.store.Upsert(ctx, snap); err != nil {
		c.logger.Error("persist ticker failed",
			slog.String("exchange", snap.Symbol.Exchange),
			slog.String("symbol", snap.Symbol.Symbol),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := c.cache.SetTicker(ctx, snap.Symbol.Exchange, snap.Symbol.Symbol, snap); err != nil {
		c.logger.Error("cache ticker failed",
			slog.String("exchange", snap.Symbol.Exchange),
			slog.String("symbol", snap.Symbol.Symbol),
			slog.String("error", err.Error()),
		)
	}
}
