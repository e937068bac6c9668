package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tradecore/tradecore/internal/domain"
)

// Decision is the outcome of a single RiskPolicy check.
type Decision struct {
	Allow  bool
	Reason string
}

// RiskPolicy is one pre-trade check in a composable chain. A policy must
// not mutate the signal; it only decides whether execution should proceed.
type RiskPolicy interface {
	Name() string
	Evaluate(ctx context.Context, signal domain.TradingSignal, estUSDValue float64) (Decision, error)
}

// RiskChain runs a fixed ordered list of RiskPolicy checks and stops at the
// first rejection, mirroring the "first failed check wins" contract
// OrderExecutor needs before it ever calls an ExchangeAdapter.
type RiskChain struct {
	policies []RiskPolicy
	logger   *slog.Logger
}

// NewRiskChain builds a RiskChain from an ordered policy list. Policies run
// in list order and the chain stops at the first rejection, so policies
// after it are not evaluated.
func NewRiskChain(logger *slog.Logger, policies ...RiskPolicy) *RiskChain {
	return &RiskChain{policies: policies, logger: logger}
}

// Evaluate runs every policy in order and returns the first rejecting
// Decision, or an allowing Decision once all policies pass.
func (c *RiskChain) Evaluate(ctx context.Context, signal domain.TradingSignal, estUSDValue float64) (Decision, error) {
	for _, p := range c.policies {
		d, err := p.Evaluate(ctx, signal, estUSDValue)
		if err != nil {
			return Decision{}, fmt.Errorf("risk_service: policy %q: %w", p.Name(), err)
		}
		if !d.Allow {
			c.logger.WarnContext(ctx, "risk_service: signal rejected",
				slog.String("policy", p.Name()),
				slog.String("strategy_id", signal.StrategyID),
				slog.String("reason", d.Reason),
			)
			return d, nil
		}
	}
	return Decision{Allow: true}, nil
}

// ExposureSource reports an owner's currently open USD-notional exposure,
// summed across live orders. The concrete implementation aggregates
// OrderStore rows; kept as a narrow interface here so policies never depend
// on storage concerns directly.
type ExposureSource interface {
	OpenExposureUSD(ctx context.Context, ownerID string) (float64, error)
}

// ExposureCapPolicy rejects a signal that would push an owner's total open
// notional exposure past a configured ceiling.
type ExposureCapPolicy struct {
	Exposure ExposureSource
	MaxUSD   float64
}

func (p *ExposureCapPolicy) Name() string { return "exposure_cap" }

func (p *ExposureCapPolicy) Evaluate(ctx context.Context, signal domain.TradingSignal, estUSDValue float64) (Decision, error) {
	current, err := p.Exposure.OpenExposureUSD(ctx, signal.OwnerID)
	if err != nil {
		return Decision{}, fmt.Errorf("exposure_cap: %w", err)
	}
	if current+estUSDValue > p.MaxUSD {
		return Decision{Allow: false, Reason: fmt.Sprintf(
			"open exposure %.2f + signal %.2f would exceed cap %.2f", current, estUSDValue, p.MaxUSD,
		)}, nil
	}
	return Decision{Allow: true}, nil
}

// StrategyNotionalCapPolicy rejects a single signal whose own notional value
// exceeds a configured per-strategy ceiling, independent of existing
// exposure. A strategy-specific cap stops one misbehaving strategy from
// placing an outsized order without throttling every other strategy.
type StrategyNotionalCapPolicy struct {
	MaxPerSignalUSD float64
}

func (p *StrategyNotionalCapPolicy) Name() string { return "strategy_notional_cap" }

func (p *StrategyNotionalCapPolicy) Evaluate(_ context.Context, signal domain.TradingSignal, estUSDValue float64) (Decision, error) {
	if estUSDValue > p.MaxPerSignalUSD {
		return Decision{Allow: false, Reason: fmt.Sprintf(
			"signal notional %.2f exceeds per-signal cap %.2f for strategy %s", estUSDValue, p.MaxPerSignalUSD, signal.StrategyID,
		)}, nil
	}
	return Decision{Allow: true}, nil
}

// SlippagePolicy walks the cached order book's top levels to estimate the
// average fill price for the signal's requested size and rejects when the
// estimate deviates from the best quote by more than MaxSlippageBps.
type SlippagePolicy struct {
	Cache          domain.HotCache
	MaxSlippageBps float64
	TopNLevels     int
}

func (p *SlippagePolicy) Name() string { return "slippage" }

func (p *SlippagePolicy) Evaluate(ctx context.Context, signal domain.TradingSignal, _ float64) (Decision, error) {
	book, err := p.Cache.GetOrderBook(ctx, signal.Exchange, signal.Symbol)
	if err != nil {
		// No cached book yet (cold start): allow the trade rather than
		// blocking execution indefinitely on a transient cache miss.
		return Decision{Allow: true}, nil
	}

	levels := book.Asks
	reference := book.BestAsk()
	if signal.Side == domain.OrderSideSell {
		levels = book.Bids
		reference = book.BestBid()
	}
	if reference == 0 {
		return Decision{Allow: true}, nil
	}

	n := p.TopNLevels
	if n <= 0 || n > len(levels) {
		n = len(levels)
	}

	target := signal.Amount
	if signal.HasQuoteAmount() && reference > 0 {
		target = signal.QuoteAmount / reference
	}
	if target <= 0 {
		return Decision{Allow: true}, nil
	}

	var filled, notional float64
	for i := 0; i < n && filled < target; i++ {
		lvl := levels[i]
		take := lvl.Size
		if remaining := target - filled; take > remaining {
			take = remaining
		}
		filled += take
		notional += take * lvl.Price
	}
	if filled == 0 {
		return Decision{Allow: true}, nil
	}

	avgFillPrice := notional / filled
	var slippageBps float64
	switch signal.Side {
	case domain.OrderSideBuy:
		slippageBps = ((avgFillPrice - reference) / reference) * 10_000
	case domain.OrderSideSell:
		slippageBps = ((reference - avgFillPrice) / reference) * 10_000
	}

	if slippageBps > p.MaxSlippageBps {
		return Decision{Allow: false, Reason: fmt.Sprintf(
			"estimated slippage %.1f bps exceeds max %.1f bps", slippageBps, p.MaxSlippageBps,
		)}, nil
	}
	return Decision{Allow: true}, nil
}
