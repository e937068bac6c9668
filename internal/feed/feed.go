// Package feed implements the MarketDataFeed: one supervised goroutine per
// (exchange, symbol, kind) subscription, each independently reconnecting
// and publishing onto the Bus.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tradecore/tradecore/internal/domain"
)

const (
	defaultReconnectDelay      = 15 * time.Second
	defaultHealthCheckInterval = 60 * time.Second
	publishRetries             = 3
	publishBaseDelay           = 100 * time.Millisecond
)

// Subscription identifies a single market-data stream to maintain.
type Subscription struct {
	Exchange string
	Symbol   string
	Kind     domain.SubscriptionKind
}

func (s Subscription) key() string {
	return s.Exchange + "|" + s.Symbol + "|" + string(s.Kind)
}

func (s Subscription) topic() string {
	return fmt.Sprintf("marketdata.%s.%s.%s", s.Exchange, s.Symbol, s.Kind)
}

// SubscriptionStatus reports a subscription's identity alongside its
// current health: when it last produced activity and the most recent
// stream or adapter error observed, if any.
type SubscriptionStatus struct {
	Subscription
	LastActivity time.Time
	LastError    string
}

type subscriptionState struct {
	sub          Subscription
	lastActivity atomic.Int64 // unix nano

	mu            sync.Mutex
	cancelAttempt context.CancelFunc
	lastError     string
}

func (s *subscriptionState) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

func (s *subscriptionState) idleSince() time.Duration {
	last := s.lastActivity.Load()
	if last == 0 {
		return 0
	}
	return time.Since(time.Unix(0, last))
}

func (s *subscriptionState) setCancel(cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelAttempt = cancel
}

func (s *subscriptionState) forceRestart() {
	s.mu.Lock()
	cancel := s.cancelAttempt
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// setError records the most recent failure observed for this subscription,
// surfaced later through ListSubscriptions.
func (s *subscriptionState) setError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = err.Error()
}

func (s *subscriptionState) status() SubscriptionStatus {
	s.mu.Lock()
	lastErr := s.lastError
	s.mu.Unlock()

	var lastActivity time.Time
	if ns := s.lastActivity.Load(); ns != 0 {
		lastActivity = time.Unix(0, ns)
	}
	return SubscriptionStatus{
		Subscription: s.sub,
		LastActivity: lastActivity,
		LastError:    lastErr,
	}
}

// Feed is the MarketDataFeed component. AddSubscription is safe to call
// concurrently with Run.
type Feed struct {
	adapters domain.AdapterFactory
	bus      domain.Bus
	logger   *slog.Logger

	reconnectDelay      time.Duration
	healthCheckInterval time.Duration

	mu   sync.Mutex
	subs map[string]*subscriptionState
	wg   sync.WaitGroup
}

// New creates a Feed with default reconnect and health-check intervals.
func New(adapters domain.AdapterFactory, bus domain.Bus, logger *slog.Logger) *Feed {
	return &Feed{
		adapters:            adapters,
		bus:                 bus,
		logger:              logger.With(slog.String("component", "market_data_feed")),
		reconnectDelay:      defaultReconnectDelay,
		healthCheckInterval: defaultHealthCheckInterval,
		subs:                make(map[string]*subscriptionState),
	}
}

// WithIntervals overrides the reconnect delay and health-check interval.
// Either argument <= 0 leaves the existing default in place.
func (f *Feed) WithIntervals(reconnectDelay, healthCheckInterval time.Duration) *Feed {
	if reconnectDelay > 0 {
		f.reconnectDelay = reconnectDelay
	}
	if healthCheckInterval > 0 {
		f.healthCheckInterval = healthCheckInterval
	}
	return f
}

// AddSubscription registers a new (exchange, symbol, kind) stream and
// starts its supervised goroutine under ctx. Re-adding an existing
// subscription is a no-op.
func (f *Feed) AddSubscription(ctx context.Context, sub Subscription) {
	f.mu.Lock()
	if _, exists := f.subs[sub.key()]; exists {
		f.mu.Unlock()
		return
	}
	state := &subscriptionState{sub: sub}
	f.subs[sub.key()] = state
	f.mu.Unlock()

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.runSubscription(ctx, state)
	}()
}

// ListSubscriptions returns the status of every currently registered
// subscription, including its last-activity time and last error.
func (f *Feed) ListSubscriptions() []SubscriptionStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]SubscriptionStatus, 0, len(f.subs))
	for _, s := range f.subs {
		out = append(out, s.status())
	}
	return out
}

// Run starts the health-check loop and blocks until ctx is cancelled, then
// waits for every subscription goroutine to exit.
func (f *Feed) Run(ctx context.Context) error {
	f.logger.Info("market data feed started")
	defer f.logger.Info("market data feed stopped")

	ticker := time.NewTicker(f.healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			f.checkHealth()
		}
	}
}

// checkHealth force-restarts any subscription whose connection has not
// produced activity for more than twice the health-check interval.
func (f *Feed) checkHealth() {
	f.mu.Lock()
	states := make([]*subscriptionState, 0, len(f.subs))
	for _, s := range f.subs {
		states = append(states, s)
	}
	f.mu.Unlock()

	threshold := 2 * f.healthCheckInterval
	for _, s := range states {
		if idle := s.idleSince(); idle > threshold {
			f.logger.Warn("subscription stalled, forcing restart",
				slog.String("exchange", s.sub.Exchange),
				slog.String("symbol", s.sub.Symbol),
				slog.String("kind", string(s.sub.Kind)),
				slog.Duration("idle", idle),
			)
			s.forceRestart()
		}
	}
}

// runSubscription owns a single (exchange, symbol, kind) stream for its
// entire lifetime: it repeatedly connects, streams until the connection
// fails or is force-restarted, and reconnects with a fixed delay. Each
// subscription's backoff is independent of every other subscription's.
func (f *Feed) runSubscription(ctx context.Context, state *subscriptionState) {
	log := f.logger.With(
		slog.String("exchange", state.sub.Exchange),
		slog.String("symbol", state.sub.Symbol),
		slog.String("kind", string(state.sub.Kind)),
	)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		adapter, err := f.adapters.Adapter(state.sub.Exchange)
		if err != nil {
			log.Error("adapter lookup failed", slog.String("error", err.Error()))
			state.setError(err)
			if !sleepOrDone(ctx, f.reconnectDelay) {
				return
			}
			continue
		}

		attemptCtx, cancel := context.WithCancel(ctx)
		state.setCancel(cancel)
		state.touch()

		f.runOnce(attemptCtx, adapter, state, log)
		cancel()

		select {
		case <-ctx.Done():
			return
		default:
		}
		if !sleepOrDone(ctx, f.reconnectDelay) {
			return
		}
	}
}

// runOnce opens the appropriate Watch* stream and publishes every message
// to the Bus until the stream ends or attemptCtx is cancelled.
func (f *Feed) runOnce(attemptCtx context.Context, adapter domain.ExchangeAdapter, state *subscriptionState, log *slog.Logger) {
	topic := state.sub.topic()

	switch state.sub.Kind {
	case domain.KindOrderBook:
		ch, errCh := adapter.WatchOrderBook(attemptCtx, state.sub.Symbol)
		pump(f, attemptCtx, state, log, topic, ch, errCh)
	case domain.KindTrades:
		ch, errCh := adapter.WatchTrades(attemptCtx, state.sub.Symbol)
		pump(f, attemptCtx, state, log, topic, ch, errCh)
	case domain.KindTicker:
		ch, errCh := adapter.WatchTicker(attemptCtx, state.sub.Symbol)
		pump(f, attemptCtx, state, log, topic, ch, errCh)
	default:
		log.Error("unknown subscription kind")
	}
}

// pump drains a single Watch* channel pair generically over any payload
// type, marshaling and publishing each message and watching for the
// adapter's terminal error signal.
func pump[T any](f *Feed, ctx context.Context, state *subscriptionState, log *slog.Logger, topic string, ch <-chan T, errCh <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errCh:
			if ok && err != nil {
				log.Warn("stream error, will reconnect", slog.String("error", err.Error()))
				state.setError(err)
			}
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			state.touch()
			f.publish(ctx, topic, msg, log)
		}
	}
}

func (f *Feed) publish(ctx context.Context, topic string, payload any, log *slog.Logger) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error("marshal payload failed", slog.String("error", err.Error()))
		return
	}

	delay := publishBaseDelay
	for attempt := 0; attempt <= publishRetries; attempt++ {
		if err := f.bus.Publish(ctx, topic, data); err == nil {
			return
		} else if attempt == publishRetries {
			log.Error("dropping message after publish retries exhausted",
				slog.String("topic", topic), slog.String("error", err.Error()))
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
