// Package oracle implements the OracleProcessor component: a periodic scan
// over a configured watch list that classifies each market's order book
// imbalance and publishes the result for strategies and dashboards to
// consume.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/tradecore/tradecore/internal/domain"
)

const insightTopic = "market.insights"

const (
	buyPressureThreshold  = 0.65
	sellPressureThreshold = 0.35
)

// Market identifies a single (exchange, symbol) pair the processor scans
// on every tick.
type Market struct {
	Exchange string
	Symbol   string
}

// Config controls the scan cadence and book depth.
type Config struct {
	Interval time.Duration // default 30s
	Depth    int           // top-N levels per side, default 5
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.Depth <= 0 {
		c.Depth = 5
	}
	return c
}

// Processor is the OracleProcessor component.
type Processor struct {
	bus       domain.Bus
	cache     domain.HotCache
	watchList []Market
	logger    *slog.Logger
	cfg       Config
}

// New creates a Processor that scans watchList on every tick.
func New(bus domain.Bus, cache domain.HotCache, watchList []Market, logger *slog.Logger, cfg Config) *Processor {
	return &Processor{
		bus:       bus,
		cache:     cache,
		watchList: watchList,
		logger:    logger.With(slog.String("component", "oracle")),
		cfg:       cfg.withDefaults(),
	}
}

// Run scans the watch list on cfg.Interval until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.logger.Info("oracle processor started", slog.Duration("interval", p.cfg.Interval), slog.Int("watch_list_size", len(p.watchList)))
	defer p.logger.Info("oracle processor stopped")

	p.scan(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.scan(ctx)
		}
	}
}

func (p *Processor) scan(ctx context.Context) {
	for _, m := range p.watchList {
		if err := p.scanOne(ctx, m); err != nil {
			p.logger.Error("oracle scan failed",
				slog.String("exchange", m.Exchange),
				slog.String("symbol", m.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (p *Processor) scanOne(ctx context.Context, m Market) error {
	book, err := p.cache.GetOrderBook(ctx, m.Exchange, m.Symbol)
	if err != nil {
		return fmt.Errorf("oracle: get order book: %w", err)
	}

	bidVolume := sumSize(book.Bids, p.cfg.Depth)
	askVolume := sumSize(book.Asks, p.cfg.Depth)
	total := bidVolume + askVolume
	if total <= 0 {
		return nil
	}

	ratio := bidVolume / total
	class, message := classify(ratio)
	insight := domain.OracleInsight{
		Type:       domain.InsightOrderBookImbalance,
		Exchange:   m.Exchange,
		Symbol:     m.Symbol,
		Ratio:      ratio,
		Class:      class,
		Confidence: confidence(ratio),
		Message:    message,
		Timestamp:  time.Now(),
	}

	payload, err := json.Marshal(insight)
	if err != nil {
		return fmt.Errorf("oracle: marshal insight: %w", err)
	}
	if err := p.bus.Publish(ctx, insightTopic, payload); err != nil {
		return fmt.Errorf("oracle: publish insight: %w", err)
	}
	return nil
}

func sumSize(levels []domain.PriceLevel, depth int) float64 {
	var total float64
	for i, l := range levels {
		if i >= depth {
			break
		}
		total += l.Size
	}
	return total
}

func classify(ratio float64) (domain.PressureClass, string) {
	switch {
	case ratio >= buyPressureThreshold:
		return domain.PressureBuy, "order book shows buy pressure"
	case ratio <= sellPressureThreshold:
		return domain.PressureSell, "order book shows sell pressure"
	default:
		return domain.PressureBalanced, "order book is balanced"
	}
}

// confidence scales linearly with distance from the 0.5 (perfectly
// balanced) midpoint, clamped to [0, 1].
func confidence(ratio float64) float64 {
	c := 2 * math.Abs(ratio-0.5)
	if c > 1 {
		c = 1
	}
	return c
}
