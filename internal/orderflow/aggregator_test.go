package orderflow

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/tradecore/tradecore/internal/domain"
)

type fakeBus struct {
	mu        sync.Mutex
	ch        chan []byte
	published []publishedMsg
}

type publishedMsg struct {
	topic   string
	payload []byte
}

func newFakeBus() *fakeBus { return &fakeBus{ch: make(chan []byte, 64)} }

func (b *fakeBus) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) { return b.ch, nil }
func (b *fakeBus) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, publishedMsg{topic: topic, payload: payload})
	return nil
}
func (b *fakeBus) StreamAppend(context.Context, string, []byte) error { return nil }
func (b *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *fakeBus) lastPublished() (publishedMsg, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.published) == 0 {
		return publishedMsg{}, false
	}
	return b.published[len(b.published)-1], true
}

type fakeCache struct{ book domain.OrderBookSnapshot }

func (c *fakeCache) SetOrderBook(context.Context, string, string, domain.OrderBookSnapshot) error {
	return nil
}
func (c *fakeCache) GetOrderBook(context.Context, string, string) (domain.OrderBookSnapshot, error) {
	if len(c.book.Bids) == 0 && len(c.book.Asks) == 0 {
		return domain.OrderBookSnapshot{}, domain.ErrNotFound
	}
	return c.book, nil
}
func (c *fakeCache) AppendTrade(context.Context, string, string, domain.TradeEvent) error { return nil }
func (c *fakeCache) RecentTrades(context.Context, string, string, int) ([]domain.TradeEvent, error) {
	return nil, nil
}
func (c *fakeCache) SetTicker(context.Context, string, string, domain.TickerSnapshot) error {
	return nil
}
func (c *fakeCache) GetTicker(context.Context, string, string) (domain.TickerSnapshot, error) {
	return domain.TickerSnapshot{}, domain.ErrNotFound
}

type fakeFootprintStore struct {
	mu      sync.Mutex
	candles []domain.FootprintCandle
}

func (s *fakeFootprintStore) Upsert(_ context.Context, candle domain.FootprintCandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candles = append(s.candles, candle)
	return nil
}
func (s *fakeFootprintStore) ListBefore(context.Context, time.Time) ([]domain.FootprintCandle, error) {
	return nil, nil
}
func (s *fakeFootprintStore) GetLatest(context.Context, int64, string, time.Duration) (domain.FootprintCandle, error) {
	return domain.FootprintCandle{}, domain.ErrNotFound
}

func (s *fakeFootprintStore) latest() (domain.FootprintCandle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.candles) == 0 {
		return domain.FootprintCandle{}, false
	}
	return s.candles[len(s.candles)-1], true
}

type fakeSymbolCache struct{ ref domain.SymbolRef }

func (c *fakeSymbolCache) Lookup(context.Context, string, string) (domain.SymbolRef, error) {
	return c.ref, nil
}
func (c *fakeSymbolCache) Put(string, string, domain.SymbolRef) {}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func mustMarshal(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

// TestFootprintAggregation mirrors the documented footprint worked example
// with tick=0.5 and the bar interval shortened to 200ms: two aggressive buys
// of 1 at 100.3 (bucket 100.0) and one aggressive sell of 2 at 100.7 (bucket
// 100.5), with OHLC close=100.3.
func TestFootprintAggregation(t *testing.T) {
	bus := newFakeBus()
	cache := &fakeCache{}
	store := &fakeFootprintStore{}
	symbols := &fakeSymbolCache{ref: domain.SymbolRef{ID: 1, Exchange: "binance", Symbol: "BTCUSDT", TickSize: 0.5}}

	agg := New(bus, cache, store, symbols, slog.Default(), Config{Interval: 200 * time.Millisecond, SweepInterval: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go agg.Run(ctx)

	now := time.Now()

	trades := []domain.TradeEvent{
		{Symbol: symbols.ref, Timestamp: now, TradeID: "1", Price: 100.3, Quantity: 1, Aggressor: domain.AggressorBuy},
		{Symbol: symbols.ref, Timestamp: now, TradeID: "2", Price: 100.7, Quantity: 2, Aggressor: domain.AggressorSell},
		{Symbol: symbols.ref, Timestamp: now, TradeID: "3", Price: 100.3, Quantity: 1, Aggressor: domain.AggressorBuy},
	}
	for _, tr := range trades {
		bus.ch <- mustMarshal(t, tr)
	}

	// the sweeper only finalizes a bar once its end is at least one
	// second in the past, regardless of how short the bar interval is.
	waitFor(t, 3*time.Second, func() bool {
		_, ok := store.latest()
		return ok
	})

	candle, _ := store.latest()
	if candle.Open != 100.3 || candle.Close != 100.3 {
		t.Fatalf("unexpected OHLC open/close: open=%v close=%v", candle.Open, candle.Close)
	}
	if candle.High != 100.7 || candle.Low != 100.3 {
		t.Fatalf("unexpected OHLC high/low: high=%v low=%v", candle.High, candle.Low)
	}
	if candle.TotalVolume != 4 {
		t.Fatalf("expected totalVolume=4, got %v", candle.TotalVolume)
	}
	if candle.TotalDelta != 0 {
		t.Fatalf("expected totalDelta=0, got %v", candle.TotalDelta)
	}
	if candle.POC != 100.0 {
		t.Fatalf("expected POC tie-break to lower price 100.0, got %v", candle.POC)
	}
	if candle.ValueAreaLow != 100.0 || candle.ValueAreaHigh != 100.5 {
		t.Fatalf("unexpected value area: low=%v high=%v", candle.ValueAreaLow, candle.ValueAreaHigh)
	}

	msg, ok := bus.lastPublished()
	if !ok {
		t.Fatal("expected a footprint publish")
	}
	if msg.topic != "footprints.processed.binance.BTCUSDT.200ms" {
		t.Fatalf("unexpected topic: %s", msg.topic)
	}
}

func TestAggressorFallsBackToHotCache(t *testing.T) {
	bus := newFakeBus()
	cache := &fakeCache{book: domain.OrderBookSnapshot{
		Bids: []domain.PriceLevel{{Price: 99.5, Size: 10}},
		Asks: []domain.PriceLevel{{Price: 100.5, Size: 10}},
	}}
	store := &fakeFootprintStore{}
	symbols := &fakeSymbolCache{ref: domain.SymbolRef{ID: 1, Exchange: "binance", Symbol: "ETHUSDT", TickSize: 0.5}}

	agg := New(bus, cache, store, symbols, slog.Default(), Config{Interval: 200 * time.Millisecond, SweepInterval: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go agg.Run(ctx)

	trade := domain.TradeEvent{
		Symbol:    symbols.ref,
		Timestamp: time.Now(),
		TradeID:   "1",
		Price:     100.6,
		Quantity:  2,
		Aggressor: domain.AggressorUnknown,
	}
	bus.ch <- mustMarshal(t, trade)

	waitFor(t, 3*time.Second, func() bool {
		_, ok := store.latest()
		return ok
	})

	candle, _ := store.latest()
	if len(candle.Buckets) != 1 {
		t.Fatalf("expected 1 bucket, got %d", len(candle.Buckets))
	}
	if candle.Buckets[0].AskVolume != 2 {
		t.Fatalf("expected trade above best ask to be classified as an aggressive buy, got bucket %+v", candle.Buckets[0])
	}
}

func TestAggressorUnknownExcludedFromBucketsButCountsTotalVolume(t *testing.T) {
	bus := newFakeBus()
	cache := &fakeCache{} // empty book -> GetOrderBook returns ErrNotFound
	store := &fakeFootprintStore{}
	symbols := &fakeSymbolCache{ref: domain.SymbolRef{ID: 1, Exchange: "binance", Symbol: "SOLUSDT", TickSize: 0.5}}

	agg := New(bus, cache, store, symbols, slog.Default(), Config{Interval: 200 * time.Millisecond, SweepInterval: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go agg.Run(ctx)

	trade := domain.TradeEvent{
		Symbol:    symbols.ref,
		Timestamp: time.Now(),
		TradeID:   "1",
		Price:     10,
		Quantity:  5,
		Aggressor: domain.AggressorUnknown,
	}
	bus.ch <- mustMarshal(t, trade)

	waitFor(t, 3*time.Second, func() bool {
		_, ok := store.latest()
		return ok
	})

	candle, _ := store.latest()
	if len(candle.Buckets) != 0 {
		t.Fatalf("expected no buckets for an unresolved aggressor, got %+v", candle.Buckets)
	}
	if candle.TotalVolume != 5 {
		t.Fatalf("expected unallocated volume to still count toward totalVolume, got %v", candle.TotalVolume)
	}
}

func TestLateArrivalIsDiscardedAndCounted(t *testing.T) {
	bus := newFakeBus()
	cache := &fakeCache{}
	store := &fakeFootprintStore{}
	symbols := &fakeSymbolCache{ref: domain.SymbolRef{ID: 1, Exchange: "binance", Symbol: "BTCUSDT", TickSize: 0.5}}

	agg := New(bus, cache, store, symbols, slog.Default(), Config{Interval: time.Minute, SweepInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go agg.Run(ctx)

	ancient := domain.TradeEvent{
		Symbol:    symbols.ref,
		Timestamp: time.Now().Add(-time.Hour),
		TradeID:   "late",
		Price:     100,
		Quantity:  1,
		Aggressor: domain.AggressorBuy,
	}
	bus.ch <- mustMarshal(t, ancient)

	waitFor(t, time.Second, func() bool { return agg.LateArrivals() == 1 })

	time.Sleep(20 * time.Millisecond)
	if _, ok := store.latest(); ok {
		t.Fatal("expected no candle emitted for a trade that arrived after its bar would already be finalized")
	}
}
