package service

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/tradecore/tradecore/internal/domain"
)

type fakeExposureSource struct {
	usd float64
	err error
}

func (f *fakeExposureSource) OpenExposureUSD(context.Context, string) (float64, error) {
	return f.usd, f.err
}

type fakeHotCache struct {
	book domain.OrderBookSnapshot
	err  error
}

func (f *fakeHotCache) SetOrderBook(context.Context, string, string, domain.OrderBookSnapshot) error {
	return nil
}
func (f *fakeHotCache) GetOrderBook(context.Context, string, string) (domain.OrderBookSnapshot, error) {
	return f.book, f.err
}
func (f *fakeHotCache) AppendTrade(context.Context, string, string, domain.TradeEvent) error {
	return nil
}
func (f *fakeHotCache) RecentTrades(context.Context, string, string, int) ([]domain.TradeEvent, error) {
	return nil, nil
}
func (f *fakeHotCache) SetTicker(context.Context, string, string, domain.TickerSnapshot) error {
	return nil
}
func (f *fakeHotCache) GetTicker(context.Context, string, string) (domain.TickerSnapshot, error) {
	return domain.TickerSnapshot{}, nil
}

var _ domain.HotCache = (*fakeHotCache)(nil)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nopWriter{}, nil))
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestExposureCapPolicy(t *testing.T) {
	signal := domain.TradingSignal{StrategyID: "s1", OwnerID: "owner-1"}

	cases := []struct {
		name    string
		current float64
		est     float64
		cap     float64
		allow   bool
	}{
		{"under cap", 100, 50, 200, true},
		{"exactly at cap", 100, 100, 200, true},
		{"over cap", 150, 100, 200, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := &ExposureCapPolicy{Exposure: &fakeExposureSource{usd: tc.current}, MaxUSD: tc.cap}
			d, err := p.Evaluate(context.Background(), signal, tc.est)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if d.Allow != tc.allow {
				t.Fatalf("Allow = %v, want %v (reason %q)", d.Allow, tc.allow, d.Reason)
			}
		})
	}
}

func TestExposureCapPolicy_SourceError(t *testing.T) {
	p := &ExposureCapPolicy{Exposure: &fakeExposureSource{err: errors.New("db down")}, MaxUSD: 100}
	_, err := p.Evaluate(context.Background(), domain.TradingSignal{}, 10)
	if err == nil {
		t.Fatal("expected error when exposure source fails")
	}
}

func TestStrategyNotionalCapPolicy(t *testing.T) {
	p := &StrategyNotionalCapPolicy{MaxPerSignalUSD: 1000}

	d, err := p.Evaluate(context.Background(), domain.TradingSignal{StrategyID: "s1"}, 500)
	if err != nil || !d.Allow {
		t.Fatalf("expected allow, got %+v err=%v", d, err)
	}

	d, err = p.Evaluate(context.Background(), domain.TradingSignal{StrategyID: "s1"}, 1500)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Allow {
		t.Fatal("expected rejection for oversized signal")
	}
}

func TestSlippagePolicy_NoBookIsAllowed(t *testing.T) {
	p := &SlippagePolicy{Cache: &fakeHotCache{err: errors.New("miss")}, MaxSlippageBps: 10}
	d, err := p.Evaluate(context.Background(), domain.TradingSignal{Side: domain.OrderSideBuy, Amount: 1}, 0)
	if err != nil || !d.Allow {
		t.Fatalf("expected allow on cache miss, got %+v err=%v", d, err)
	}
}

func TestSlippagePolicy_WithinTolerance(t *testing.T) {
	book := domain.OrderBookSnapshot{
		Asks: []domain.PriceLevel{{Price: 100, Size: 10}},
		Bids: []domain.PriceLevel{{Price: 99, Size: 10}},
	}
	p := &SlippagePolicy{Cache: &fakeHotCache{book: book}, MaxSlippageBps: 50, TopNLevels: 5}
	d, err := p.Evaluate(context.Background(), domain.TradingSignal{Side: domain.OrderSideBuy, Amount: 5}, 0)
	if err != nil || !d.Allow {
		t.Fatalf("expected allow for a fill fully within the best level, got %+v err=%v", d, err)
	}
}

func TestSlippagePolicy_ExceedsTolerance(t *testing.T) {
	book := domain.OrderBookSnapshot{
		Asks: []domain.PriceLevel{
			{Price: 100, Size: 1},
			{Price: 110, Size: 10},
		},
	}
	p := &SlippagePolicy{Cache: &fakeHotCache{book: book}, MaxSlippageBps: 100, TopNLevels: 5}
	d, err := p.Evaluate(context.Background(), domain.TradingSignal{Side: domain.OrderSideBuy, Amount: 5}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Allow {
		t.Fatal("expected rejection once the fill walks into the deeper, worse-priced level")
	}
}

func TestRiskChain_StopsAtFirstRejection(t *testing.T) {
	allow := &StrategyNotionalCapPolicy{MaxPerSignalUSD: 1_000_000}
	reject := &StrategyNotionalCapPolicy{MaxPerSignalUSD: 1}
	neverCalled := &countingPolicy{}

	chain := NewRiskChain(testLogger(), allow, reject, neverCalled)
	d, err := chain.Evaluate(context.Background(), domain.TradingSignal{StrategyID: "s1"}, 500)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Allow {
		t.Fatal("expected chain to reject")
	}
	if neverCalled.calls != 0 {
		t.Fatalf("expected chain to stop before the third policy, got %d calls", neverCalled.calls)
	}
}

type countingPolicy struct{ calls int }

func (p *countingPolicy) Name() string { return "counting" }
func (p *countingPolicy) Evaluate(context.Context, domain.TradingSignal, float64) (Decision, error) {
	p.calls++
	return Decision{Allow: true}, nil
}
