package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/tradecore/tradecore/internal/domain"
)

type fakeBus struct {
	mu   sync.Mutex
	subs map[string]chan []byte
}

func newFakeBus() *fakeBus { return &fakeBus{subs: make(map[string]chan []byte)} }

func (b *fakeBus) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	ch := make(chan []byte, 16)
	b.mu.Lock()
	b.subs[topic] = ch
	b.mu.Unlock()
	go func() {
		<-ctx.Done()
	}()
	return ch, nil
}
func (b *fakeBus) Publish(context.Context, string, []byte) error { return nil }
func (b *fakeBus) StreamAppend(context.Context, string, []byte) error { return nil }
func (b *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *fakeBus) send(topic string, payload []byte) {
	b.mu.Lock()
	ch := b.subs[topic]
	b.mu.Unlock()
	if ch != nil {
		ch <- payload
	}
}

type fakeOrderBookStore struct {
	mu    sync.Mutex
	count int
	err   error
}

func (s *fakeOrderBookStore) Upsert(context.Context, domain.OrderBookSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.count++
	return nil
}

type fakeTradeStore struct {
	mu      sync.Mutex
	batches [][]domain.TradeEvent
	failN   int // number of leading UpsertBatch calls that fail
	calls   int
}

func (s *fakeTradeStore) UpsertBatch(_ context.Context, trades []domain.TradeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failN {
		return errors.New("db down")
	}
	s.batches = append(s.batches, trades)
	return nil
}
func (s *fakeTradeStore) ListBefore(context.Context, time.Time) ([]domain.TradeEvent, error) {
	return nil, nil
}
func (s *fakeTradeStore) ListByExchangeSymbol(context.Context, string, string, domain.ListOpts) ([]domain.TradeEvent, error) {
	return nil, nil
}

func (s *fakeTradeStore) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

type fakeTickerStore struct {
	mu    sync.Mutex
	count int
}

func (s *fakeTickerStore) Upsert(context.Context, domain.TickerSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count++
	return nil
}

type fakeCache struct {
	mu     sync.Mutex
	books  int
	trades int
	tickers int
}

func (c *fakeCache) SetOrderBook(context.Context, string, string, domain.OrderBookSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.books++
	return nil
}
func (c *fakeCache) GetOrderBook(context.Context, string, string) (domain.OrderBookSnapshot, error) {
	return domain.OrderBookSnapshot{}, domain.ErrNotFound
}
func (c *fakeCache) AppendTrade(context.Context, string, string, domain.TradeEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trades++
	return nil
}
func (c *fakeCache) RecentTrades(context.Context, string, string, int) ([]domain.TradeEvent, error) {
	return nil, nil
}
func (c *fakeCache) SetTicker(context.Context, string, string, domain.TickerSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tickers++
	return nil
}
func (c *fakeCache) GetTicker(context.Context, string, string) (domain.TickerSnapshot, error) {
	return domain.TickerSnapshot{}, domain.ErrNotFound
}

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

func TestOrderBookConsumerPersistsAndCaches(t *testing.T) {
	bus := newFakeBus()
	store := &fakeOrderBookStore{}
	cache := &fakeCache{}
	c := NewOrderBookConsumer(bus, store, cache, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)
	waitFor(t, time.Second, func() bool { bus.mu.Lock(); defer bus.mu.Unlock(); return bus.subs[orderBookTopicPattern] != nil })

	snap := domain.OrderBookSnapshot{Symbol: domain.SymbolRef{Exchange: "binance", Symbol: "BTC/USDT"}}
	data, _ := json.Marshal(snap)
	bus.send(orderBookTopicPattern, data)

	waitFor(t, time.Second, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.count == 1
	})
	waitFor(t, time.Second, func() bool {
		cache.mu.Lock()
		defer cache.mu.Unlock()
		return cache.books == 1
	})
}

func TestOrderBookConsumerDropsMalformedMessage(t *testing.T) {
	bus := newFakeBus()
	store := &fakeOrderBookStore{}
	cache := &fakeCache{}
	c := NewOrderBookConsumer(bus, store, cache, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)
	waitFor(t, time.Second, func() bool { bus.mu.Lock(); defer bus.mu.Unlock(); return bus.subs[orderBookTopicPattern] != nil })

	bus.send(orderBookTopicPattern, []byte("not json"))
	time.Sleep(20 * time.Millisecond)

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.count != 0 {
		t.Fatalf("expected malformed message to be dropped, got count=%d", store.count)
	}
}

func TestOrderBookConsumerSkipsCacheOnStoreFailure(t *testing.T) {
	bus := newFakeBus()
	store := &fakeOrderBookStore{err: errors.New("db down")}
	cache := &fakeCache{}
	c := NewOrderBookConsumer(bus, store, cache, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)
	waitFor(t, time.Second, func() bool { bus.mu.Lock(); defer bus.mu.Unlock(); return bus.subs[orderBookTopicPattern] != nil })

	snap := domain.OrderBookSnapshot{Symbol: domain.SymbolRef{Exchange: "binance", Symbol: "BTC/USDT"}}
	data, _ := json.Marshal(snap)
	bus.send(orderBookTopicPattern, data)
	time.Sleep(20 * time.Millisecond)

	cache.mu.Lock()
	defer cache.mu.Unlock()
	if cache.books != 0 {
		t.Fatal("expected cache write to be skipped after store failure")
	}
}

func TestTradeConsumerFlushesOnSize(t *testing.T) {
	bus := newFakeBus()
	store := &fakeTradeStore{}
	cache := &fakeCache{}
	c := NewTradeConsumer(bus, store, cache, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)
	waitFor(t, time.Second, func() bool { bus.mu.Lock(); defer bus.mu.Unlock(); return bus.subs[tradeTopicPattern] != nil })

	for i := 0; i < tradeFlushSize; i++ {
		trade := domain.TradeEvent{Symbol: domain.SymbolRef{Exchange: "binance", Symbol: "BTC/USDT"}, TradeID: "t"}
		data, _ := json.Marshal(trade)
		bus.send(tradeTopicPattern, data)
	}

	waitFor(t, time.Second, func() bool { return store.total() == tradeFlushSize })
}

func TestTradeConsumerRetainsBatchOnFlushFailure(t *testing.T) {
	bus := newFakeBus()
	store := &fakeTradeStore{failN: 1}
	cache := &fakeCache{}
	c := NewTradeConsumer(bus, store, cache, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)
	waitFor(t, time.Second, func() bool { bus.mu.Lock(); defer bus.mu.Unlock(); return bus.subs[tradeTopicPattern] != nil })

	for i := 0; i < tradeFlushSize; i++ {
		trade := domain.TradeEvent{Symbol: domain.SymbolRef{Exchange: "binance", Symbol: "BTC/USDT"}, TradeID: "t"}
		data, _ := json.Marshal(trade)
		bus.send(tradeTopicPattern, data)
	}

	waitFor(t, time.Second, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.calls >= 1
	})
	time.Sleep(20 * time.Millisecond)

	if store.total() != 0 {
		t.Fatalf("expected first flush to fail and persist nothing yet, got %d", store.total())
	}

	c.flush(ctx)

	waitFor(t, time.Second, func() bool { return store.total() == tradeFlushSize })
}

func TestTickerConsumerPersistsAndCaches(t *testing.T) {
	bus := newFakeBus()
	store := &fakeTickerStore{}
	cache := &fakeCache{}
	c := NewTickerConsumer(bus, store, cache, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)
	waitFor(t, time.Second, func() bool { bus.mu.Lock(); defer bus.mu.Unlock(); return bus.subs[tickerTopicPattern] != nil })

	snap := domain.TickerSnapshot{Symbol: domain.SymbolRef{Exchange: "binance", Symbol: "ETH/USDT"}}
	data, _ := json.Marshal(snap)
	bus.send(tickerTopicPattern, data)

	waitFor(t, time.Second, func() bool {
		cache.mu.Lock()
		defer cache.mu.Unlock()
		return cache.tickers == 1
	})
}
