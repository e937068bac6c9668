package oracle

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
	mu        sync.Mutex
	published []domain.OracleInsight
}

func (b *fakeBus) Publish(_ context.Context, topic string, payload []byte) error {
	var insight domain.OracleInsight
	if err := json.Unmarshal(payload, &insight); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, insight)
	return nil
}
func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }
func (b *fakeBus) StreamAppend(context.Context, string, []byte) error       { return nil }
func (b *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *fakeBus) all() []domain.OracleInsight {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.OracleInsight, len(b.published))
	copy(out, b.published)
	return out
}

type fakeCache struct {
	books map[string]domain.OrderBookSnapshot
	err   error
}

func key(exchange, symbol string) string { return exchange + ":" + symbol }

func (c *fakeCache) GetOrderBook(_ context.Context, exchange, symbol string) (domain.OrderBookSnapshot, error) {
	if c.err != nil {
		return domain.OrderBookSnapshot{}, c.err
	}
	book, ok := c.books[key(exchange, symbol)]
	if !ok {
		return domain.OrderBookSnapshot{}, domain.ErrNotFound
	}
	return book, nil
}
func (c *fakeCache) SetOrderBook(context.Context, string, string, domain.OrderBookSnapshot) error {
	return nil
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

func levels(sizes ...float64) []domain.PriceLevel {
	out := make([]domain.PriceLevel, len(sizes))
	for i, s := range sizes {
		out[i] = domain.PriceLevel{Price: 100 - float64(i), Size: s}
	}
	return out
}

// TestOrderBookImbalanceScenario mirrors the documented S2 scenario: top-5
// bid volume 80, ask volume 20 -> ratio 0.8 -> buy pressure, confidence 0.6.
func TestOrderBookImbalanceScenario(t *testing.T) {
	bus := &fakeBus{}
	cache := &fakeCache{books: map[string]domain.OrderBookSnapshot{
		key("binance", "BTCUSDT"): {
			Bids: levels(16, 16, 16, 16, 16), // sums to 80
			Asks: levels(4, 4, 4, 4, 4),      // sums to 20
		},
	}}

	p := New(bus, cache, []Market{{Exchange: "binance", Symbol: "BTCUSDT"}}, slog.Default(), Config{Interval: time.Hour, Depth: 5})
	p.scan(context.Background())

	insights := bus.all()
	if len(insights) != 1 {
		t.Fatalf("expected 1 insight, got %d", len(insights))
	}
	got := insights[0]
	if got.Type != domain.InsightOrderBookImbalance {
		t.Fatalf("unexpected type: %v", got.Type)
	}
	if math_abs(got.Ratio-0.8) > 1e-9 {
		t.Fatalf("expected ratio 0.8, got %v", got.Ratio)
	}
	if got.Class != domain.PressureBuy {
		t.Fatalf("expected buy pressure, got %v", got.Class)
	}
	if math_abs(got.Confidence-0.6) > 1e-9 {
		t.Fatalf("expected confidence 0.6, got %v", got.Confidence)
	}
	if got.Message == "" {
		t.Fatal("expected a non-empty message")
	}
}

func math_abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func TestClassifyThresholds(t *testing.T) {
	cases := []struct {
		ratio float64
		want  domain.PressureClass
	}{
		{0.9, domain.PressureBuy},
		{0.65, domain.PressureBuy},
		{0.5, domain.PressureBalanced},
		{0.35, domain.PressureSell},
		{0.1, domain.PressureSell},
	}
	for _, tc := range cases {
		class, _ := classify(tc.ratio)
		if class != tc.want {
			t.Errorf("classify(%v) = %v, want %v", tc.ratio, class, tc.want)
		}
	}
}

func TestScanIsolatesPerMarketFailures(t *testing.T) {
	bus := &fakeBus{}
	cache := &fakeCache{books: map[string]domain.OrderBookSnapshot{
		key("binance", "ETHUSDT"): {Bids: levels(10), Asks: levels(10)},
	}}

	watchList := []Market{
		{Exchange: "binance", Symbol: "MISSING"},
		{Exchange: "binance", Symbol: "ETHUSDT"},
	}
	p := New(bus, cache, watchList, slog.Default(), Config{Interval: time.Hour, Depth: 5})
	p.scan(context.Background())

	insights := bus.all()
	if len(insights) != 1 {
		t.Fatalf("expected exactly one insight (missing market skipped), got %d", len(insights))
	}
	if insights[0].Symbol != "ETHUSDT" {
		t.Fatalf("expected insight for ETHUSDT, got %s", insights[0].Symbol)
	}
}

func TestScanSkipsEmptyBook(t *testing.T) {
	bus := &fakeBus{}
	cache := &fakeCache{books: map[string]domain.OrderBookSnapshot{
		key("binance", "BTCUSDT"): {},
	}}
	p := New(bus, cache, []Market{{Exchange: "binance", Symbol: "BTCUSDT"}}, slog.Default(), Config{Interval: time.Hour})
	p.scan(context.Background())

	if len(bus.all()) != 0 {
		t.Fatal("expected no insight for an empty order book")
	}
}

func TestScanPropagatesCacheError(t *testing.T) {
	bus := &fakeBus{}
	cache := &fakeCache{err: errors.New("redis down")}
	p := New(bus, cache, []Market{{Exchange: "binance", Symbol: "BTCUSDT"}}, slog.Default(), Config{Interval: time.Hour})
	p.scan(context.Background())

	if len(bus.all()) != 0 {
		t.Fatal("expected no insight when the cache lookup fails")
	}
}
