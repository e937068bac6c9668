package executor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/tradecore/tradecore/internal/domain"
	"github.com/tradecore/tradecore/internal/notify"
	"github.com/tradecore/tradecore/internal/service"
)

const (
	orderPlaceRetries   = 3
	orderPlaceBaseDelay = 250 * time.Millisecond

	signalPollInterval = 200 * time.Millisecond
	signalBatchSize    = 32
)

// CredentialResolver looks up the active ExchangeCredential for the
// (owner, exchange) pair a signal targets, and decrypts it for the duration
// of a single order placement call.
type CredentialResolver interface {
	Resolve(ctx context.Context, ownerID, exchange string, credentialID string) (domain.DecryptedCredential, error)
}

// Executor is the OrderExecutor: it reads TradingSignals from the Bus's
// trading.signals stream (see domain.TradingSignalsStream), deduplicates by
// (strategy id, state digest), validates expiry, runs the signal through a
// RiskChain, derives a deterministic client order id, places the order
// against the exchange with retry/backoff rules keyed off AdapterError.Kind,
// and records the resulting PlacedOrder and Fills.
type Executor struct {
	bus      domain.Bus
	adapters domain.AdapterFactory
	creds    CredentialResolver
	risk     *service.RiskChain
	orders   domain.OrderStore
	txns     domain.TransactionStore
	symbols  domain.SymbolCache
	cache    domain.HotCache
	notifier *notify.Notifier
	dedup    *Dedup
	logger   *slog.Logger

	cleanupInterval time.Duration
}

// NewExecutor creates an Executor that reads signals from bus.
func NewExecutor(
	bus domain.Bus,
	adapters domain.AdapterFactory,
	creds CredentialResolver,
	risk *service.RiskChain,
	orders domain.OrderStore,
	txns domain.TransactionStore,
	symbols domain.SymbolCache,
	cache domain.HotCache,
	notifier *notify.Notifier,
	logger *slog.Logger,
) *Executor {
	return &Executor{
		bus:             bus,
		adapters:        adapters,
		creds:           creds,
		risk:            risk,
		orders:          orders,
		txns:            txns,
		symbols:         symbols,
		cache:           cache,
		notifier:        notifier,
		dedup:           NewDedup(10 * time.Minute),
		logger:          logger.With(slog.String("component", "executor")),
		cleanupInterval: 30 * time.Second,
	}
}

// Run starts the executor's main loop: it polls the trading.signals stream
// on signalPollInterval and processes whatever batch comes back, to
// completion, before reading the next one. The read offset (lastID) only
// advances past a message once process has returned for it, so a crash
// mid-placement re-delivers that signal on restart rather than losing it;
// the client-order-id dedup key and the in-memory Dedup cache both make
// that re-delivery safe. Run blocks until ctx is cancelled; the signal
// mid-processing when cancellation arrives is allowed to finish before the
// loop exits, so no placement is abandoned in flight.
func (e *Executor) Run(ctx context.Context) error {
	e.logger.Info("executor started")
	defer e.logger.Info("executor stopped")

	cleanupTicker := time.NewTicker(e.cleanupInterval)
	defer cleanupTicker.Stop()

	pollTicker := time.NewTicker(signalPollInterval)
	defer pollTicker.Stop()

	lastID := "0"
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-cleanupTicker.C:
			e.dedup.Cleanup()
		case <-pollTicker.C:
			lastID = e.pollOnce(ctx, lastID)
		}
	}
}

// pollOnce reads up to signalBatchSize signals appended after lastID,
// processes each to completion in order, and returns the new read offset.
func (e *Executor) pollOnce(ctx context.Context, lastID string) string {
	msgs, err := e.bus.StreamRead(ctx, domain.TradingSignalsStream, lastID, signalBatchSize)
	if err != nil {
		e.logger.Error("read trading signals failed", slog.String("error", err.Error()))
		return lastID
	}

	for _, msg := range msgs {
		if ctx.Err() != nil {
			break
		}
		var sig domain.TradingSignal
		if err := json.Unmarshal(msg.Payload, &sig); err != nil {
			e.logger.Warn("malformed trading signal, dropping",
				slog.String("stream_id", msg.ID),
				slog.String("error", err.Error()),
			)
			lastID = msg.ID
			continue
		}
		// A signal that has started runs to completion even if ctx is
		// cancelled meanwhile, so shutdown never abandons a placement.
		e.process(context.WithoutCancel(ctx), sig)
		lastID = msg.ID
	}
	return lastID
}

// process runs a single TradingSignal through validation, risk checks, and
// order placement.
func (e *Executor) process(ctx context.Context, sig domain.TradingSignal) {
	log := e.logger.With(
		slog.String("strategy_id", sig.StrategyID),
		slog.String("exchange", sig.Exchange),
		slog.String("symbol", sig.Symbol),
		slog.String("side", string(sig.Side)),
	)

	if e.dedup.IsDuplicate(sig.DedupKey()) {
		log.Debug("signal deduplicated, skipping")
		return
	}

	if !sig.ExpiresAt.IsZero() && time.Now().UTC().After(sig.ExpiresAt) {
		log.Warn("signal expired, skipping", slog.Time("expires_at", sig.ExpiresAt))
		return
	}

	clientOrderID := deriveClientOrderID(sig)

	if existing, err := e.orders.GetByClientOrderID(ctx, clientOrderID); err == nil {
		log.Info("signal already placed, skipping", slog.String("order_id", existing.ID))
		return
	} else if !errors.Is(err, domain.ErrNotFound) {
		log.Error("lookup existing order failed", slog.String("error", err.Error()))
		return
	}

	estUSD := e.estimateUSDValue(ctx, sig, log)

	decision, err := e.risk.Evaluate(ctx, sig, estUSD)
	if err != nil {
		log.Error("risk evaluation failed", slog.String("error", err.Error()))
		return
	}
	if !decision.Allow {
		log.Warn("signal rejected by risk policy", slog.String("reason", decision.Reason))
		return
	}

	cred, err := e.creds.Resolve(ctx, sig.OwnerID, sig.Exchange, sig.ExchangeConfigID)
	if err != nil {
		log.Error("credential resolution failed", slog.String("error", err.Error()))
		return
	}

	adapter, err := e.adapters.Adapter(sig.Exchange)
	if err != nil {
		log.Error("adapter lookup failed", slog.String("error", err.Error()))
		return
	}

	req := domain.OrderRequest{
		ClientOrderID: clientOrderID,
		Symbol:        sig.Symbol,
		Side:          sig.Side,
		Type:          domain.OrderType(sig.Kind),
		Quantity:      sig.Amount,
		QuoteQuantity: sig.QuoteAmount,
		Price:         sig.LimitPrice,
		Window:        5 * time.Second,
	}

	result, placeErr := e.placeWithRetry(ctx, adapter, cred, req, log)
	if placeErr != nil {
		log.Error("order placement failed", slog.String("error", placeErr.Error()))
		e.notifyFailure(ctx, sig, placeErr)
		return
	}

	symbolRef, err := e.symbols.Lookup(ctx, sig.Exchange, sig.Symbol)
	if err != nil {
		log.Warn("symbol lookup for order record failed", slog.String("error", err.Error()))
	}

	order := domain.PlacedOrder{
		ID:              uuid.New().String(),
		StrategyID:      sig.StrategyID,
		OwnerID:         sig.OwnerID,
		ClientOrderID:   clientOrderID,
		ExchangeOrderID: result.ExchangeOrderID,
		Exchange:        sig.Exchange,
		SymbolID:        symbolRef.ID,
		Symbol:          sig.Symbol,
		Side:            sig.Side,
		Type:            domain.OrderType(sig.Kind),
		Price:           sig.LimitPrice,
		RequestedQty:    sig.Amount,
		FilledQty:       result.FilledQty,
		AvgFillPrice:    result.AvgFillPrice,
		Fees:            result.Fees,
		Leverage:        sig.Leverage,
		Status:          result.Status,
	}
	if err := e.orders.Create(ctx, order); err != nil && !errors.Is(err, domain.ErrDuplicate) {
		log.Error("record order failed", slog.String("error", err.Error()))
	}

	if len(result.Fills) > 0 {
		for i := range result.Fills {
			result.Fills[i].PlacedOrderID = order.ID
			result.Fills[i].OwnerID = sig.OwnerID
			result.Fills[i].Exchange = sig.Exchange
			result.Fills[i].SymbolID = symbolRef.ID
		}
		if err := e.txns.InsertFills(ctx, result.Fills); err != nil {
			log.Error("record fills failed", slog.String("error", err.Error()))
		}
	}

	log.Info("order placed",
		slog.String("order_id", order.ID),
		slog.String("exchange_order_id", order.ExchangeOrderID),
		slog.String("status", string(order.Status)),
	)
	e.notifySuccess(ctx, sig, order)
}

// placeWithRetry submits the order, retrying AdapterErrTransient and
// AdapterErrRateLimited failures up to orderPlaceRetries times with
// exponential backoff (honoring RetryAfter when the exchange provides one).
// All other AdapterError kinds are terminal and returned immediately.
func (e *Executor) placeWithRetry(ctx context.Context, adapter domain.ExchangeAdapter, cred domain.DecryptedCredential, req domain.OrderRequest, log *slog.Logger) (domain.OrderResult, error) {
	var lastErr error
	for attempt := 0; attempt <= orderPlaceRetries; attempt++ {
		result, err := adapter.CreateOrder(ctx, cred, req)
		if err == nil {
			return result, nil
		}
		lastErr = err

		var adapterErr *domain.AdapterError
		if !errors.As(err, &adapterErr) || !adapterErr.Retryable() {
			return domain.OrderResult{}, err
		}
		if attempt == orderPlaceRetries {
			break
		}

		delay := orderPlaceBaseDelay * time.Duration(1<<attempt)
		if adapterErr.Kind == domain.AdapterErrRateLimited && adapterErr.RetryAfter > 0 {
			delay = time.Duration(adapterErr.RetryAfter) * time.Second
		}
		log.Warn("retrying order placement",
			slog.Int("attempt", attempt+1),
			slog.String("kind", string(adapterErr.Kind)),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return domain.OrderResult{}, ctx.Err()
		case <-time.After(delay):
		}
	}
	return domain.OrderResult{}, lastErr
}

// estimateUSDValue derives a USD notional for the risk chain: a limit order
// (or any signal already carrying a quote amount) prices directly; a market
// order falls back to the last cached ticker price. If neither is
// available the estimate is 0 and the risk chain decides whether a
// zero-notional signal should be rejected.
func (e *Executor) estimateUSDValue(ctx context.Context, sig domain.TradingSignal, log *slog.Logger) float64 {
	if sig.HasQuoteAmount() {
		return sig.QuoteAmount
	}
	if sig.Kind == domain.OrderKindLimit && sig.LimitPrice > 0 {
		return sig.Amount * sig.LimitPrice
	}
	ticker, err := e.cache.GetTicker(ctx, sig.Exchange, sig.Symbol)
	if err != nil {
		log.Warn("estimate usd value: ticker unavailable, falling back to 0", slog.String("error", err.Error()))
		return 0
	}
	return sig.Amount * ticker.Last
}

func (e *Executor) notifySuccess(ctx context.Context, sig domain.TradingSignal, order domain.PlacedOrder) {
	if e.notifier == nil {
		return
	}
	msg := fmt.Sprintf("%s %s %s on %s (order %s)", sig.Side, sig.Symbol, sig.Kind, sig.Exchange, order.ExchangeOrderID)
	_ = e.notifier.Notify(ctx, "order_placed", "Order placed", msg)
}

func (e *Executor) notifyFailure(ctx context.Context, sig domain.TradingSignal, err error) {
	if e.notifier == nil {
		return
	}
	msg := fmt.Sprintf("%s %s %s on %s failed: %v", sig.Side, sig.Symbol, sig.Kind, sig.Exchange, err)
	_ = e.notifier.Notify(ctx, "order_failed", "Order placement failed", msg)
}

// deriveClientOrderID produces a deterministic idempotency key from a
// signal's strategy id, timestamp, side, amount and limit price ("market"
// for market orders), so retried deliveries of the same signal always map
// to the same client order id.
func deriveClientOrderID(sig domain.TradingSignal) string {
	price := "market"
	if sig.Kind == domain.OrderKindLimit {
		price = strconv.FormatFloat(sig.LimitPrice, 'f', -1, 64)
	}
	canonical := fmt.Sprintf("%s|%d|%s|%s|%s", sig.StrategyID, sig.CreatedAt.UnixNano(), sig.Side,
		strconv.FormatFloat(sig.Amount, 'f', -1, 64), price)
	h := sha256.Sum256([]byte(canonical))
	return "tc-" + hex.EncodeToString(h[:16])
}
