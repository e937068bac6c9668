package strategy

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/tradecore/tradecore/internal/domain"
)

type fakeInstanceStore struct {
	mu   sync.Mutex
	inst domain.StrategyInstance

	statusHistory []domain.EngineStatus
	clearedCount  int
}

func (s *fakeInstanceStore) Upsert(context.Context, domain.StrategyInstance) error { return nil }
func (s *fakeInstanceStore) GetByID(context.Context, string) (domain.StrategyInstance, error) {
	return domain.StrategyInstance{}, domain.ErrNotFound
}
func (s *fakeInstanceStore) ListDesiredOrActive(context.Context) ([]domain.StrategyInstance, error) {
	return nil, nil
}

func (s *fakeInstanceStore) UpdateStatus(_ context.Context, id string, status domain.EngineStatus, healthMessage string, consecutiveErrors int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inst.Status = status
	s.inst.HealthMessage = healthMessage
	s.inst.ConsecutiveErrors = consecutiveErrors
	s.statusHistory = append(s.statusHistory, status)
	return nil
}

func (s *fakeInstanceStore) ClearDesiredActive(context.Context, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inst.DesiredActive = false
	s.clearedCount++
	return nil
}

func (s *fakeInstanceStore) history() []domain.EngineStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.EngineStatus, len(s.statusHistory))
	copy(out, s.statusHistory)
	return out
}

type fakeHotCache struct{}

func (fakeHotCache) SetOrderBook(context.Context, string, string, domain.OrderBookSnapshot) error {
	return nil
}
func (fakeHotCache) GetOrderBook(context.Context, string, string) (domain.OrderBookSnapshot, error) {
	return domain.OrderBookSnapshot{}, nil
}
func (fakeHotCache) AppendTrade(context.Context, string, string, domain.TradeEvent) error { return nil }
func (fakeHotCache) RecentTrades(context.Context, string, string, int) ([]domain.TradeEvent, error) {
	return nil, nil
}
func (fakeHotCache) SetTicker(context.Context, string, string, domain.TickerSnapshot) error {
	return nil
}
func (fakeHotCache) GetTicker(context.Context, string, string) (domain.TickerSnapshot, error) {
	return domain.TickerSnapshot{}, nil
}

type fakeLocks struct{}

func (fakeLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	return func() {}, nil
}

type fakeBus struct{}

func (fakeBus) Publish(context.Context, string, []byte) error { return nil }
func (fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, nil
}
func (fakeBus) StreamAppend(context.Context, string, []byte) error { return nil }
func (fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

// alwaysErrStrategy fails every evaluation, used to drive the
// consecutive-error state machine.
type alwaysErrStrategy struct{}

func (alwaysErrStrategy) Kind() domain.StrategyKind { return domain.StrategyMeanReversion }
func (alwaysErrStrategy) Evaluate(context.Context, domain.StrategyInstance, domain.OrderBookSnapshot, domain.TickerSnapshot) (*domain.TradingSignal, error) {
	return nil, errors.New("strategy blew up")
}

// okStrategy never errors and never emits a signal.
type okStrategy struct{}

func (okStrategy) Kind() domain.StrategyKind { return domain.StrategyMeanReversion }
func (okStrategy) Evaluate(context.Context, domain.StrategyInstance, domain.OrderBookSnapshot, domain.TickerSnapshot) (*domain.TradingSignal, error) {
	return nil, nil
}

func newTestEngine(strat Strategy, maxConsecutiveErrors int) (*Engine, *fakeInstanceStore) {
	store := &fakeInstanceStore{}
	registry := NewRegistry()
	registry.Register(strat)
	e := NewEngine(store, fakeHotCache{}, fakeLocks{}, registry, fakeBus{}, maxConsecutiveErrors, slog.Default())
	return e, store
}

// TestEngineTick_StopsAfterMaxConsecutiveErrors exercises the literal S4
// scenario: status transitions running -> error on each of the first four
// failures, then error -> stopped on the fifth, with desired_active cleared
// exactly once.
func TestEngineTick_StopsAfterMaxConsecutiveErrors(t *testing.T) {
	e, store := newTestEngine(alwaysErrStrategy{}, 5)
	inst := domain.StrategyInstance{ID: "inst-1", Params: domain.StrategyParams{Kind: domain.StrategyMeanReversion}}
	logger := slog.Default()
	errCount := 0

	for i := 1; i <= 4; i++ {
		stopped := e.tick(context.Background(), inst, logger, &errCount)
		if stopped {
			t.Fatalf("tick #%d: expected instance to keep running, got stopped", i)
		}
		if errCount != i {
			t.Fatalf("tick #%d: errCount = %d, want %d", i, errCount, i)
		}
	}

	history := store.history()
	if len(history) != 4 {
		t.Fatalf("expected 4 status updates after 4 failures, got %d", len(history))
	}
	for i, status := range history {
		if status != domain.StatusError {
			t.Fatalf("status update #%d = %q, want %q", i, status, domain.StatusError)
		}
	}

	stopped := e.tick(context.Background(), inst, logger, &errCount)
	if !stopped {
		t.Fatal("tick #5: expected instance to be stopped after reaching maxConsecutiveErrors")
	}
	if errCount != 5 {
		t.Fatalf("errCount after tick #5 = %d, want 5", errCount)
	}

	history = store.history()
	last := history[len(history)-1]
	if last != domain.StatusStopped {
		t.Fatalf("final status = %q, want %q", last, domain.StatusStopped)
	}

	store.mu.Lock()
	cleared := store.clearedCount
	store.mu.Unlock()
	if cleared != 1 {
		t.Fatalf("ClearDesiredActive called %d times, want 1", cleared)
	}
}

// TestEngineTick_ResetsErrorCountOnSuccess ensures a successful evaluation
// after failures clears the consecutive-error counter and reports running.
func TestEngineTick_ResetsErrorCountOnSuccess(t *testing.T) {
	e, store := newTestEngine(alwaysErrStrategy{}, 5)
	inst := domain.StrategyInstance{ID: "inst-2", Params: domain.StrategyParams{Kind: domain.StrategyMeanReversion}}
	logger := slog.Default()
	errCount := 0

	for i := 0; i < 3; i++ {
		if e.tick(context.Background(), inst, logger, &errCount) {
			t.Fatal("instance stopped before reaching maxConsecutiveErrors")
		}
	}
	if errCount != 3 {
		t.Fatalf("errCount = %d, want 3", errCount)
	}

	// Swap in a strategy that succeeds and verify the counter resets.
	e.registry.Register(okStrategy{})
	if stopped := e.tick(context.Background(), inst, logger, &errCount); stopped {
		t.Fatal("successful tick should never stop the instance")
	}
	if errCount != 0 {
		t.Fatalf("errCount after successful tick = %d, want 0", errCount)
	}

	history := store.history()
	if history[len(history)-1] != domain.StatusRunning {
		t.Fatalf("final status = %q, want %q", history[len(history)-1], domain.StatusRunning)
	}
}

// TestNewEngine_DefaultsMaxConsecutiveErrors verifies a non-positive override
// falls back to the package default rather than disabling the safeguard.
func TestNewEngine_DefaultsMaxConsecutiveErrors(t *testing.T) {
	e, _ := newTestEngine(alwaysErrStrategy{}, 0)
	if e.maxConsecutiveErrors != defaultMaxConsecutiveErrors {
		t.Fatalf("maxConsecutiveErrors = %d, want default %d", e.maxConsecutiveErrors, defaultMaxConsecutiveErrors)
	}
}
