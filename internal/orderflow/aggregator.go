// Package orderflow implements the OrderFlowAggregator component: it folds
// raw trade events into fixed-interval FootprintCandles, enriching each bar
// with a per-price-bucket bid/ask volume map, a point of control, a value
// area, and diagonal imbalance flags.
package orderflow

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tradecore/tradecore/internal/domain"
)

const tradeTopicPattern = "marketdata.*.*.trades"

const defaultFinalizeGrace = time.Second

// Config controls the aggregator's bar interval and sweeper cadence.
type Config struct {
	Interval      time.Duration // default 60s
	SweepInterval time.Duration // default Interval/4
	DefaultTick   float64       // fallback tick size when a symbol carries none
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 60 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = c.Interval / 4
	}
	if c.DefaultTick <= 0 {
		c.DefaultTick = 0.5
	}
	return c
}

// Aggregator is the OrderFlowAggregator component. It owns the in-memory
// buffer map exclusively: the trade consumer goroutine is the only writer,
// and the sweeper detaches buffers from the map atomically before emitting
// them so there is never a concurrent writer on a single buffer.
type Aggregator struct {
	bus     domain.Bus
	cache   domain.HotCache
	store   domain.FootprintStore
	symbols domain.SymbolCache
	logger  *slog.Logger
	cfg     Config

	mu      sync.Mutex
	buffers map[bufferKey]*buffer

	lateArrivals atomic.Int64
}

// New creates an Aggregator wired to the given Bus, HotCache, FootprintStore,
// and SymbolCache.
func New(bus domain.Bus, cache domain.HotCache, store domain.FootprintStore, symbols domain.SymbolCache, logger *slog.Logger, cfg Config) *Aggregator {
	return &Aggregator{
		bus:     bus,
		cache:   cache,
		store:   store,
		symbols: symbols,
		logger:  logger.With(slog.String("component", "orderflow")),
		cfg:     cfg.withDefaults(),
		buffers: make(map[bufferKey]*buffer),
	}
}

// LateArrivals returns the count of trades discarded because their buffer
// had already been finalized and removed.
func (a *Aggregator) LateArrivals() int64 { return a.lateArrivals.Load() }

// Run subscribes to the trade topics, folds incoming trades into buffers,
// and runs the sweeper concurrently until ctx is cancelled.
func (a *Aggregator) Run(ctx context.Context) error {
	ch, err := a.bus.Subscribe(ctx, tradeTopicPattern)
	if err != nil {
		return err
	}
	a.logger.Info("order flow aggregator started",
		slog.Duration("interval", a.cfg.Interval),
		slog.Duration("sweep_interval", a.cfg.SweepInterval),
	)
	defer a.logger.Info("order flow aggregator stopped")

	done := make(chan struct{})
	go func() {
		defer close(done)
		a.sweepLoop(ctx)
	}()

	for {
		select {
		case <-ctx.Done():
			<-done
			return ctx.Err()
		case raw, ok := <-ch:
			if !ok {
				<-done
				return nil
			}
			a.ingest(ctx, raw)
		}
	}
}

func (a *Aggregator) ingest(ctx context.Context, raw []byte) {
	var trade domain.TradeEvent
	if err := json.Unmarshal(raw, &trade); err != nil {
		a.logger.Warn("malformed trade message, dropping", slog.String("error", err.Error()))
		return
	}

	trade.Aggressor = a.resolveAggressor(ctx, trade)

	start := barStart(trade.Timestamp, a.cfg.Interval)
	key := bufferKey{exchange: trade.Symbol.Exchange, symbol: trade.Symbol.Symbol, start: start.UnixMilli()}

	a.mu.Lock()
	buf, ok := a.buffers[key]
	if !ok {
		end := start.Add(a.cfg.Interval).Add(-time.Millisecond)
		if end.Before(time.Now().Add(-defaultFinalizeGrace)) {
			a.mu.Unlock()
			a.lateArrivals.Add(1)
			a.logger.Warn("late trade arrival discarded",
				slog.String("exchange", trade.Symbol.Exchange),
				slog.String("symbol", trade.Symbol.Symbol),
				slog.Time("bar_start", start),
			)
			return
		}

		sym, err := a.symbols.Lookup(ctx, trade.Symbol.Exchange, trade.Symbol.Symbol)
		if err != nil {
			sym = trade.Symbol
			if sym.TickSize <= 0 {
				sym.TickSize = a.cfg.DefaultTick
			}
		}
		buf = newBuffer(sym, a.cfg.Interval, start)
		a.buffers[key] = buf
	}
	tick := buf.symbol.TickSize
	if tick <= 0 {
		tick = a.cfg.DefaultTick
	}
	buf.apply(trade, tick)
	a.mu.Unlock()
}

// resolveAggressor implements the priority chain: an explicit, already-set
// aggressor on the trade record wins; otherwise fall back to the HotCache's
// current best bid/ask; otherwise unknown.
func (a *Aggregator) resolveAggressor(ctx context.Context, trade domain.TradeEvent) domain.AggressorSide {
	if trade.Aggressor == domain.AggressorBuy || trade.Aggressor == domain.AggressorSell {
		return trade.Aggressor
	}

	book, err := a.cache.GetOrderBook(ctx, trade.Symbol.Exchange, trade.Symbol.Symbol)
	if err != nil {
		return domain.AggressorUnknown
	}

	switch {
	case book.BestAsk() > 0 && trade.Price >= book.BestAsk():
		return domain.AggressorBuy
	case book.BestBid() > 0 && trade.Price <= book.BestBid():
		return domain.AggressorSell
	default:
		return domain.AggressorUnknown
	}
}

func (a *Aggregator) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.sweep(ctx)
		}
	}
}

// sweep detaches every buffer whose end time is at least defaultFinalizeGrace
// in the past, finalizes each one outside the lock, and emits it.
func (a *Aggregator) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-defaultFinalizeGrace)

	a.mu.Lock()
	var ready []*buffer
	for key, buf := range a.buffers {
		if !buf.end.After(cutoff) {
			ready = append(ready, buf)
			delete(a.buffers, key)
		}
	}
	a.mu.Unlock()

	for _, buf := range ready {
		a.emit(ctx, buf)
	}
}

func (a *Aggregator) emit(ctx context.Context, buf *buffer) {
	if !buf.hasTrade {
		return
	}
	candle := buf.finalize()

	if err := a.store.Upsert(ctx, candle); err != nil {
		a.logger.Error("persist footprint failed",
			slog.String("exchange", candle.Exchange),
			slog.String("symbol", candle.Symbol),
			slog.Time("start", candle.Start),
			slog.String("error", err.Error()),
		)
		return
	}

	payload, err := json.Marshal(candle)
	if err != nil {
		a.logger.Error("marshal footprint failed", slog.String("error", err.Error()))
		return
	}
	topic := footprintTopic(candle.Exchange, candle.Symbol, candle.Interval)
	if err := a.bus.Publish(ctx, topic, payload); err != nil {
		a.logger.Error("publish footprint failed", slog.String("topic", topic), slog.String("error", err.Error()))
	}
}

func barStart(ts time.Time, interval time.Duration) time.Time {
	n := ts.UnixMilli() / interval.Milliseconds()
	return time.UnixMilli(n * interval.Milliseconds()).UTC()
}

func footprintTopic(exchange, symbol string, interval time.Duration) string {
	return "footprints.processed." + exchange + "." + symbol + "." + interval.String()
}
