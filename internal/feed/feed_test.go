package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/tradecore/tradecore/internal/domain"
)

type fakeBus struct {
	mu        sync.Mutex
	published []publishedMsg
}

type publishedMsg struct {
	topic   string
	payload []byte
}

func (b *fakeBus) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, publishedMsg{topic: topic, payload: payload})
	return nil
}
func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }
func (b *fakeBus) StreamAppend(context.Context, string, []byte) error      { return nil }
func (b *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *fakeBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published)
}

func (b *fakeBus) topics() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.published))
	for i, m := range b.published {
		out[i] = m.topic
	}
	return out
}

type fakeAdapter struct {
	trades []domain.TradeEvent
}

func (a *fakeAdapter) Name() string { return "fakeexchange" }
func (a *fakeAdapter) FetchMarkets(context.Context, domain.DecryptedCredential) ([]domain.SymbolRef, error) {
	return nil, nil
}
func (a *fakeAdapter) FetchTicker(context.Context, domain.DecryptedCredential, string) (domain.TickerSnapshot, error) {
	return domain.TickerSnapshot{}, nil
}
func (a *fakeAdapter) FetchOrderBook(context.Context, domain.DecryptedCredential, string, int) (domain.OrderBookSnapshot, error) {
	return domain.OrderBookSnapshot{}, nil
}
func (a *fakeAdapter) FetchBalance(context.Context, domain.DecryptedCredential) ([]domain.Balance, error) {
	return nil, nil
}
func (a *fakeAdapter) CreateOrder(context.Context, domain.DecryptedCredential, domain.OrderRequest) (domain.OrderResult, error) {
	return domain.OrderResult{}, nil
}
func (a *fakeAdapter) FetchOrder(context.Context, domain.DecryptedCredential, string) (domain.OrderResult, error) {
	return domain.OrderResult{}, nil
}
func (a *fakeAdapter) CancelOrder(context.Context, domain.DecryptedCredential, string) error {
	return nil
}
func (a *fakeAdapter) WatchOrderBook(ctx context.Context, symbol string) (<-chan domain.OrderBookSnapshot, <-chan error) {
	ch := make(chan domain.OrderBookSnapshot)
	errCh := make(chan error, 1)
	close(ch)
	return ch, errCh
}
func (a *fakeAdapter) WatchTrades(ctx context.Context, symbol string) (<-chan domain.TradeEvent, <-chan error) {
	ch := make(chan domain.TradeEvent, len(a.trades))
	errCh := make(chan error, 1)
	for _, t := range a.trades {
		ch <- t
	}
	close(ch)
	return ch, errCh
}
func (a *fakeAdapter) WatchTicker(ctx context.Context, symbol string) (<-chan domain.TickerSnapshot, <-chan error) {
	ch := make(chan domain.TickerSnapshot)
	errCh := make(chan error, 1)
	close(ch)
	return ch, errCh
}

type fakeFactory struct {
	adapter domain.ExchangeAdapter
	err     error
}

func (f *fakeFactory) Adapter(string) (domain.ExchangeAdapter, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.adapter, nil
}

func TestFeedPublishesTradesToCorrectTopic(t *testing.T) {
	adapter := &fakeAdapter{trades: []domain.TradeEvent{
		{TradeID: "1", Price: 100, Quantity: 1},
		{TradeID: "2", Price: 101, Quantity: 2},
	}}
	bus := &fakeBus{}
	f := New(&fakeFactory{adapter: adapter}, bus, slog.Default()).
		WithIntervals(50*time.Millisecond, time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	f.AddSubscription(ctx, Subscription{Exchange: "fakeexchange", Symbol: "BTC/USDT", Kind: domain.KindTrades})

	deadline := time.Now().Add(150 * time.Millisecond)
	for bus.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if bus.count() < 2 {
		t.Fatalf("expected at least 2 published messages, got %d", bus.count())
	}
	for _, topic := range bus.topics() {
		if topic != "marketdata.fakeexchange.BTC/USDT.trades" {
			t.Fatalf("unexpected topic: %s", topic)
		}
	}
}

func TestListSubscriptions(t *testing.T) {
	f := New(&fakeFactory{adapter: &fakeAdapter{}}, &fakeBus{}, slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := Subscription{Exchange: "binance", Symbol: "ETH/USDT", Kind: domain.KindTicker}
	f.AddSubscription(ctx, sub)
	f.AddSubscription(ctx, sub) // duplicate, should be a no-op

	subs := f.ListSubscriptions()
	if len(subs) != 1 {
		t.Fatalf("expected 1 subscription, got %d", len(subs))
	}
	if subs[0].Subscription != sub {
		t.Fatalf("unexpected subscription: %+v", subs[0])
	}
	if subs[0].LastError != "" {
		t.Fatalf("expected no error before any stream activity, got %q", subs[0].LastError)
	}
}

func TestListSubscriptionsReportsLastError(t *testing.T) {
	f := New(&fakeFactory{err: errors.New("no adapter")}, &fakeBus{}, slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f = f.WithIntervals(5*time.Millisecond, time.Hour)
	sub := Subscription{Exchange: "binance", Symbol: "ETH/USDT", Kind: domain.KindTicker}
	f.AddSubscription(ctx, sub)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		subs := f.ListSubscriptions()
		if len(subs) == 1 && subs[0].LastError != "" {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected ListSubscriptions to report a last error after adapter lookup failures")
}
