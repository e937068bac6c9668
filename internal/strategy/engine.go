package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tradecore/tradecore/internal/domain"
)

const (
	defaultReconcileInterval    = 10 * time.Second
	defaultEvalInterval         = 30 * time.Second
	defaultLockTTL              = 30 * time.Second
	defaultMaxConsecutiveErrors = 5
)

// Engine is the StrategyEngine: a management loop reconciles the desired set
// of running StrategyInstances every ReconcileInterval, starting one
// evaluation goroutine per instance and stopping it when the instance is no
// longer desired-active. Each evaluation goroutine ticks at its own
// EvalInterval, acquires a distributed lock so overlapping ticks from a
// slow evaluation never run concurrently, reads the latest market state
// from HotCache, and appends any emitted TradingSignal to the Bus's
// trading.signals stream for the OrderExecutor to pick up.
type Engine struct {
	store    domain.StrategyInstanceStore
	cache    domain.HotCache
	locks    domain.LockManager
	registry *Registry
	bus      domain.Bus
	logger   *slog.Logger

	reconcileInterval    time.Duration
	maxConsecutiveErrors int

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// NewEngine creates an Engine. Emitted signals are appended to bus's
// trading.signals stream rather than handed off in-process, so a
// StrategyEngine evaluation and the OrderExecutor that eventually places
// the order can survive independent restarts. maxConsecutiveErrors
// overrides the default number of consecutive evaluation failures (spec's
// MAX_CONSECUTIVE_ERRORS, default 5) tolerated before an instance is
// force-stopped; a value <= 0 keeps the default.
func NewEngine(store domain.StrategyInstanceStore, cache domain.HotCache, locks domain.LockManager, registry *Registry, bus domain.Bus, maxConsecutiveErrors int, logger *slog.Logger) *Engine {
	if maxConsecutiveErrors <= 0 {
		maxConsecutiveErrors = defaultMaxConsecutiveErrors
	}
	return &Engine{
		store:                store,
		cache:                cache,
		locks:                locks,
		registry:             registry,
		bus:                  bus,
		logger:               logger.With(slog.String("component", "strategy_engine")),
		reconcileInterval:    defaultReconcileInterval,
		maxConsecutiveErrors: maxConsecutiveErrors,
		running:              make(map[string]context.CancelFunc),
	}
}

// Run starts the management loop. It blocks until ctx is cancelled, then
// stops every running instance goroutine before returning.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("strategy engine started")
	defer e.logger.Info("strategy engine stopped")

	e.reconcile(ctx)

	ticker := time.NewTicker(e.reconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.stopAll()
			return ctx.Err()
		case <-ticker.C:
			e.reconcile(ctx)
		}
	}
}

// reconcile lists every instance the owner wants running or that is
// currently running, starts goroutines for newly desired ones, and stops
// goroutines for ones no longer desired or no longer returned by the store.
func (e *Engine) reconcile(ctx context.Context) {
	instances, err := e.store.ListDesiredOrActive(ctx)
	if err != nil {
		e.logger.Error("reconcile: list instances failed", slog.String("error", err.Error()))
		return
	}

	seen := make(map[string]bool, len(instances))
	for _, inst := range instances {
		seen[inst.ID] = true

		e.mu.Lock()
		_, running := e.running[inst.ID]
		e.mu.Unlock()

		switch {
		case inst.DesiredActive && !running:
			e.start(ctx, inst)
		case !inst.DesiredActive && running:
			e.stop(inst.ID)
		}
	}

	e.mu.Lock()
	for id, cancel := range e.running {
		if !seen[id] {
			cancel()
			delete(e.running, id)
		}
	}
	e.mu.Unlock()
}

func (e *Engine) start(parent context.Context, inst domain.StrategyInstance) {
	ictx, cancel := context.WithCancel(parent)
	e.mu.Lock()
	e.running[inst.ID] = cancel
	e.mu.Unlock()

	e.logger.Info("starting strategy instance",
		slog.String("instance_id", inst.ID),
		slog.String("kind", string(inst.Params.Kind)),
		slog.String("exchange", inst.Exchange),
		slog.String("symbol", inst.Symbol),
	)
	if err := e.store.UpdateStatus(ictx, inst.ID, domain.StatusRunning, "", 0); err != nil {
		e.logger.Warn("update status failed",
			slog.String("instance_id", inst.ID),
			slog.String("error", err.Error()),
		)
	}
	go e.runInstance(ictx, inst)
}

func (e *Engine) stop(id string) {
	e.mu.Lock()
	cancel, ok := e.running[id]
	if ok {
		delete(e.running, id)
	}
	e.mu.Unlock()
	if ok {
		cancel()
	}
}

func (e *Engine) stopAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, cancel := range e.running {
		cancel()
		delete(e.running, id)
	}
}

// runInstance drives the per-instance evaluation loop until ctx is
// cancelled. Consecutive evaluation errors are tracked against
// e.maxConsecutiveErrors; once reached, the instance is stopped and its
// desired-active flag cleared so it does not keep retrying a broken
// configuration forever.
func (e *Engine) runInstance(ctx context.Context, inst domain.StrategyInstance) {
	interval := inst.EvalInterval
	if interval <= 0 {
		interval = defaultEvalInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	errCount := inst.ConsecutiveErrors
	logger := e.logger.With(slog.String("instance_id", inst.ID))

	// The management loop starts a freshly (re)activated instance at
	// pending_start; evaluate once immediately rather than waiting a full
	// interval for the first signal opportunity.
	if e.tick(ctx, inst, logger, &errCount) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if e.tick(ctx, inst, logger, &errCount) {
				return
			}
		}
	}
}

// tick runs one evaluation and applies the resulting status transition. It
// returns true if the instance was disabled and its goroutine should exit.
// Per the status state machine, the first through (maxConsecutiveErrors-1)th
// consecutive failures land in StatusError; the failure that reaches
// maxConsecutiveErrors instead lands in the terminal StatusStopped, alongside
// clearing desired-active so the instance is not picked up again until an
// owner re-activates it.
func (e *Engine) tick(ctx context.Context, inst domain.StrategyInstance, logger *slog.Logger, errCount *int) bool {
	if err := e.evaluateOnce(ctx, inst); err != nil {
		*errCount++
		logger.Warn("evaluation failed",
			slog.String("error", err.Error()),
			slog.Int("consecutive_errors", *errCount),
		)
		if *errCount >= e.maxConsecutiveErrors {
			logger.Error("max consecutive errors exceeded, disabling instance")
			if updErr := e.store.UpdateStatus(ctx, inst.ID, domain.StatusStopped, err.Error(), *errCount); updErr != nil {
				logger.Error("update status failed", slog.String("error", updErr.Error()))
			}
			if clrErr := e.store.ClearDesiredActive(ctx, inst.ID); clrErr != nil {
				logger.Error("clear desired_active failed", slog.String("error", clrErr.Error()))
			}
			e.stop(inst.ID)
			return true
		}
		if updErr := e.store.UpdateStatus(ctx, inst.ID, domain.StatusError, err.Error(), *errCount); updErr != nil {
			logger.Error("update status failed", slog.String("error", updErr.Error()))
		}
		return false
	}
	*errCount = 0
	if err := e.store.UpdateStatus(ctx, inst.ID, domain.StatusRunning, "", 0); err != nil {
		logger.Warn("update status failed", slog.String("error", err.Error()))
	}
	return false
}

// evaluateOnce runs a single evaluation tick: acquire the per-instance lock,
// read the latest order book and ticker from HotCache, dispatch to the
// registered Strategy for the instance's Kind, and forward any emitted
// signal. A cold cache (HotCache not yet populated for this symbol) is not
// an error; the tick is simply skipped.
func (e *Engine) evaluateOnce(ctx context.Context, inst domain.StrategyInstance) error {
	strat, err := e.registry.Get(inst.Params.Kind)
	if err != nil {
		return err
	}

	unlock, err := e.locks.Acquire(ctx, "strategy_eval:"+inst.ID, defaultLockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return nil
		}
		return err
	}
	defer unlock()

	book, err := e.cache.GetOrderBook(ctx, inst.Exchange, inst.Symbol)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}

	ticker, err := e.cache.GetTicker(ctx, inst.Exchange, inst.Symbol)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	sig, err := strat.Evaluate(ctx, inst, book, ticker)
	if err != nil {
		return err
	}
	if sig == nil {
		return nil
	}

	payload, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("strategy: marshal signal: %w", err)
	}
	if err := e.bus.StreamAppend(ctx, domain.TradingSignalsStream, payload); err != nil {
		return fmt.Errorf("strategy: append signal: %w", err)
	}
	return nil
}
