// Package app wires together the six supervised components of the
// market-data-to-trade pipeline (MarketDataFeed, PersistenceConsumers,
// OrderFlowAggregator, OracleProcessor, StrategyEngine, OrderExecutor) and
// owns their combined lifecycle.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/tradecore/tradecore/internal/config"
)

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions invoked in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies and starts the pipeline. In "migrate" mode it
// only applies pending Postgres migrations and returns. In "core" mode it
// starts all six components under an errgroup and blocks until ctx is
// cancelled or one of them returns a non-nil, non-context error, at which
// point the group cancels every other component and waits for them to
// finish unwinding (the OrderExecutor finishes the signal it is processing
// before its Run call returns; signals it has not started stay unread).
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	switch a.cfg.Mode {
	case "migrate":
		a.logger.InfoContext(ctx, "migrations applied, exiting")
		return nil
	case "core":
		return a.runCore(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// runCore starts the six pipeline components. Construction in Wire already
// ordered the dependency graph leaves-first (ExchangeAdapter factory,
// stores, HotCache, Bus before any component); here every component only
// needs to run concurrently under one cancellation scope.
func (a *App) runCore(ctx context.Context, deps *Dependencies) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return deps.Feed.Run(gctx) })
	g.Go(func() error { return deps.Consumers.Run(gctx) })
	g.Go(func() error { return deps.Orderflow.Run(gctx) })
	g.Go(func() error { return deps.Oracle.Run(gctx) })
	g.Go(func() error { return deps.Strategy.Run(gctx) })
	g.Go(func() error { return deps.Executor.Run(gctx) })
	if deps.ArchiveScheduler != nil {
		g.Go(func() error { return deps.ArchiveScheduler.Run(gctx) })
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("app: component exited: %w", err)
	}
	return ctx.Err()
}

// Close tears down all resources in reverse registration order. It is safe
// to call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
