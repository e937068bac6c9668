package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tradecore/tradecore/internal/domain"
)

const defaultBreakoutBps = 50.0 // 0.5%

// Momentum buys when the last traded price has risen by more than
// BreakoutBps basis points relative to the oldest price still inside its
// lookback window, and sells on the symmetric breakdown. Unlike
// MeanReversion it tracks the ticker's last price rather than the order
// book mid, since momentum is a trend-following rather than a
// liquidity-aware strategy.
type Momentum struct {
	logger *slog.Logger

	mu       sync.Mutex
	trackers map[string]*PriceTracker
}

// NewMomentum creates a Momentum strategy.
func NewMomentum(logger *slog.Logger) *Momentum {
	return &Momentum{
		logger:   logger.With(slog.String("strategy", "momentum")),
		trackers: make(map[string]*PriceTracker),
	}
}

// Kind identifies this strategy to the Registry.
func (m *Momentum) Kind() domain.StrategyKind { return domain.StrategyMomentum }

func (m *Momentum) trackerFor(instanceID string, window time.Duration) *PriceTracker {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trackers[instanceID]
	if !ok {
		t = NewPriceTracker(window)
		m.trackers[instanceID] = t
	}
	return t
}

// Evaluate implements Strategy.
func (m *Momentum) Evaluate(ctx context.Context, inst domain.StrategyInstance, _ domain.OrderBookSnapshot, ticker domain.TickerSnapshot) (*domain.TradingSignal, error) {
	_ = ctx
	p := inst.Params.Momentum
	if p == nil {
		return nil, fmt.Errorf("momentum: instance %s missing params", inst.ID)
	}
	if ticker.Last == 0 {
		return nil, nil
	}

	tracker := m.trackerFor(inst.ID, p.LookbackWindow)
	now := time.Now().UTC()

	oldest, ok := tracker.Oldest(inst.ID)
	tracker.Track(inst.ID, ticker.Last, now)
	if !ok || oldest == 0 {
		return nil, nil
	}

	breakoutBps := p.BreakoutBps
	if breakoutBps <= 0 {
		breakoutBps = defaultBreakoutBps
	}
	moveBps := (ticker.Last - oldest) / oldest * 10000

	var side domain.OrderSide
	switch {
	case moveBps >= breakoutBps:
		side = domain.OrderSideBuy
	case moveBps <= -breakoutBps:
		side = domain.OrderSideSell
	default:
		return nil, nil
	}

	size := p.SizeBase
	if size <= 0 {
		size = 0.001
	}

	sig := &domain.TradingSignal{
		StrategyID:       inst.ID,
		OwnerID:          inst.OwnerID,
		ExchangeConfigID: inst.ExchangeConfigID,
		Exchange:         inst.Exchange,
		Symbol:           inst.Symbol,
		Side:             side,
		Kind:             domain.OrderKindMarket,
		Amount:           size,
		Reason:           fmt.Sprintf("momentum %s: last=%.8f oldest=%.8f move=%.1fbps (threshold %.1fbps)", side, ticker.Last, oldest, moveBps, breakoutBps),
		CreatedAt:        now,
		ExpiresAt:        now.Add(60 * time.Second),
	}
	sig.StateDigest = signalDigest(side, now, inst.EvalInterval)

	m.logger.Info("signal emitted",
		slog.String("instance_id", inst.ID),
		slog.String("side", string(side)),
		slog.Float64("move_bps", moveBps),
	)
	return sig, nil
}
