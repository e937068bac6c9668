package strategy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tradecore/tradecore/internal/domain"
)

const defaultStdDevThreshold = 2.0

// MeanReversion buys when the mid price is significantly below its recent
// mean and sells when it is significantly above, where "significantly" is
// measured in multiples of the trailing standard deviation
// (StdDevThreshold). Each StrategyInstance gets its own PriceTracker so
// concurrently running instances never share history.
type MeanReversion struct {
	logger *slog.Logger

	mu       sync.Mutex
	trackers map[string]*PriceTracker
}

// NewMeanReversion creates a MeanReversion strategy.
func NewMeanReversion(logger *slog.Logger) *MeanReversion {
	return &MeanReversion{
		logger:   logger.With(slog.String("strategy", "mean_reversion")),
		trackers: make(map[string]*PriceTracker),
	}
}

// Kind identifies this strategy to the Registry.
func (mr *MeanReversion) Kind() domain.StrategyKind { return domain.StrategyMeanReversion }

func (mr *MeanReversion) trackerFor(instanceID string, window time.Duration) *PriceTracker {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	t, ok := mr.trackers[instanceID]
	if !ok {
		t = NewPriceTracker(window)
		mr.trackers[instanceID] = t
	}
	return t
}

// Evaluate implements Strategy.
func (mr *MeanReversion) Evaluate(ctx context.Context, inst domain.StrategyInstance, book domain.OrderBookSnapshot, _ domain.TickerSnapshot) (*domain.TradingSignal, error) {
	_ = ctx
	p := inst.Params.MeanReversion
	if p == nil {
		return nil, fmt.Errorf("mean_reversion: instance %s missing params", inst.ID)
	}

	mid := book.MidPrice()
	if mid == 0 {
		return nil, nil
	}

	tracker := mr.trackerFor(inst.ID, p.LookbackWindow)
	now := time.Now().UTC()
	tracker.Track(inst.ID, mid, now)

	avg := tracker.GetAverage(inst.ID)
	vol := tracker.GetVolatility(inst.ID)
	if vol == 0 || avg == 0 {
		// Not enough data yet.
		return nil, nil
	}

	threshold := p.StdDevThreshold
	if threshold <= 0 {
		threshold = defaultStdDevThreshold
	}
	deviation := (mid - avg) / vol

	var side domain.OrderSide
	switch {
	case deviation <= -threshold:
		side = domain.OrderSideBuy
	case deviation >= threshold:
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
		Reason:           fmt.Sprintf("mean reversion %s: mid=%.8f avg=%.8f dev=%.2f sigma (threshold %.2f)", side, mid, avg, deviation, threshold),
		CreatedAt:        now,
		ExpiresAt:        now.Add(60 * time.Second),
	}
	sig.StateDigest = signalDigest(side, now, inst.EvalInterval)

	mr.logger.Info("signal emitted",
		slog.String("instance_id", inst.ID),
		slog.String("side", string(side)),
		slog.Float64("mid", mid),
		slog.Float64("avg", avg),
		slog.Float64("deviation", deviation),
	)
	return sig, nil
}

// signalDigest buckets the signal by evaluation tick so a retried
// evaluation within the same tick produces the same dedup key, while a
// genuinely new tick (even with the same side) produces a new one.
func signalDigest(side domain.OrderSide, at time.Time, bucket time.Duration) string {
	if bucket <= 0 {
		bucket = defaultEvalInterval
	}
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%d", side, at.Truncate(bucket).UnixNano())))
	return hex.EncodeToString(h[:8])
}
