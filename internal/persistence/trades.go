package persistence

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tradecore/tradecore/internal/domain"
)

const (
	tradeTopicPattern = "marketdata.*.*.trades"
	tradeFlushSize    = 100
	tradeFlushPeriod  = 250 * time.Millisecond

	// tradeFlushMaxRetained bounds how many unflushed trades are held across
	// a sustained store outage; once exceeded, the oldest trades are
	// dropped so a stuck store cannot grow the buffer without limit.
	tradeFlushMaxRetained = tradeFlushSize * 20
)

// TradeConsumer persists trades to the TimeSeriesStore in small batches
// (flushed on size or a fixed period, whichever comes first) and mirrors
// each individual trade into the HotCache's recent-trades list.
type TradeConsumer struct {
	bus    domain.Bus
	store  domain.TradeStore
	cache  domain.HotCache
	logger *slog.Logger

	mu     sync.Mutex
	buffer []domain.TradeEvent

	failedFlushes atomic.Int64
}

// NewTradeConsumer creates a TradeConsumer.
func NewTradeConsumer(bus domain.Bus, store domain.TradeStore, cache domain.HotCache, logger *slog.Logger) *TradeConsumer {
	return &TradeConsumer{
		bus:    bus,
		store:  store,
		cache:  cache,
		logger: logger.With(slog.String("component", "persistence.trades")),
	}
}

// Run subscribes to every trades topic, buffers incoming trades, and
// flushes them to the store on a fixed period or once the buffer fills up.
func (c *TradeConsumer) Run(ctx context.Context) error {
	ch, err := c.bus.Subscribe(ctx, tradeTopicPattern)
	if err != nil {
		return err
	}
	c.logger.Info("trade consumer started")
	defer c.logger.Info("trade consumer stopped")

	ticker := time.NewTicker(tradeFlushPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.flush(context.Background())
			return ctx.Err()
		case <-ticker.C:
			c.flush(ctx)
		case raw, ok := <-ch:
			if !ok {
				c.flush(context.Background())
				return nil
			}
			c.ingest(ctx, raw)
		}
	}
}

func (c *TradeConsumer) ingest(ctx context.Context, raw []byte) {
	var trade domain.TradeEvent
	if err := json.Unmarshal(raw, &trade); err != nil {
		c.logger.Warn("malformed trade message, dropping", slog.String("error", err.Error()))
		return
	}

	if err := c.cache.AppendTrade(ctx, trade.Symbol.Exchange, trade.Symbol.Symbol, trade); err != nil {
		c.logger.Error("cache trade failed",
			slog.String("exchange", trade.Symbol.Exchange),
			slog.String("symbol", trade.Symbol.Symbol),
			slog.String("error", err.Error()),
		)
	}

	c.mu.Lock()
	c.buffer = append(c.buffer, trade)
	shouldFlush := len(c.buffer) >= tradeFlushSize
	c.mu.Unlock()

	if shouldFlush {
		c.flush(ctx)
	}
}

// flush hands the buffered trades to the store. The buffer is only cleared
// once UpsertBatch succeeds; on failure the batch is placed back at the
// front of the buffer (ahead of anything ingested meanwhile) so the next
// flush retries it rather than silently dropping it, matching at-least-once
// delivery. A prolonged outage is bounded by tradeFlushMaxRetained rather
// than allowed to grow the buffer forever.
func (c *TradeConsumer) flush(ctx context.Context) {
	c.mu.Lock()
	if len(c.buffer) == 0 {
		c.mu.Unlock()
		return
	}
	batch := c.buffer
	c.buffer = nil
	c.mu.Unlock()

	if err := c.store.UpsertBatch(ctx, batch); err != nil {
		failures := c.failedFlushes.Add(1)
		c.logger.Error("persist trade batch failed, retaining for retry",
			slog.Int("count", len(batch)),
			slog.Int64("failed_flushes_total", failures),
			slog.String("error", err.Error()),
		)

		c.mu.Lock()
		c.buffer = append(batch, c.buffer...)
		if dropped := len(c.buffer) - tradeFlushMaxRetained; dropped > 0 {
			c.logger.Error("trade buffer exceeded retention cap, dropping oldest trades",
				slog.Int("dropped", dropped), slog.Int("retained", tradeFlushMaxRetained))
			c.buffer = c.buffer[dropped:]
		}
		c.mu.Unlock()
	}
}
