package app

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/tradecore/tradecore/internal/adapter"
	"github.com/tradecore/tradecore/internal/adapter/binance"
	s3blob "github.com/tradecore/tradecore/internal/blob/s3"
	"github.com/tradecore/tradecore/internal/cache/redis"
	"github.com/tradecore/tradecore/internal/cache/symbolcache"
	"github.com/tradecore/tradecore/internal/config"
	"github.com/tradecore/tradecore/internal/credential"
	"github.com/tradecore/tradecore/internal/domain"
	"github.com/tradecore/tradecore/internal/executor"
	"github.com/tradecore/tradecore/internal/feed"
	"github.com/tradecore/tradecore/internal/notify"
	"github.com/tradecore/tradecore/internal/oracle"
	"github.com/tradecore/tradecore/internal/orderflow"
	"github.com/tradecore/tradecore/internal/persistence"
	"github.com/tradecore/tradecore/internal/service"
	"github.com/tradecore/tradecore/internal/store/postgres"
	"github.com/tradecore/tradecore/internal/strategy"
)

// Dependencies bundles every concrete dependency the six pipeline
// components need to run. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	PGClient *postgres.Client

	SymbolStore            domain.SymbolStore
	OrderBookStore         domain.OrderBookStore
	TradeStore             domain.TradeStore
	TickerStore            domain.TickerStore
	FootprintStore         domain.FootprintStore
	StrategyInstanceStore  domain.StrategyInstanceStore
	CredentialStore        domain.CredentialStore
	OrderStore             *postgres.OrderStore
	TransactionStore       domain.TransactionStore
	EventStore             domain.EventStore

	Bus         domain.Bus
	HotCache    domain.HotCache
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter
	Symbols     domain.SymbolCache

	Adapters domain.AdapterFactory

	BlobWriter domain.BlobWriter
	Archiver   domain.Archiver

	Credentials *credential.Resolver
	Notifier    *notify.Notifier

	Feed      *feed.Feed
	Consumers *persistence.Consumers
	Orderflow *orderflow.Aggregator
	Oracle    *oracle.Processor
	Strategy  *strategy.Engine
	Executor  *executor.Executor

	ArchiveScheduler *s3blob.Scheduler
}

// Wire constructs every concrete dependency from cfg and returns them
// together with a cleanup function that releases resources on shutdown.
// Cleanup runs in reverse registration order regardless of where Wire
// returned an error.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)
	deps.PGClient = pgClient

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.SymbolStore = postgres.NewSymbolStore(pool)
	deps.Symbols = symbolcache.New(deps.SymbolStore)

	orderBookStore := postgres.NewOrderBookStore(pool, deps.Symbols)
	tradeStore := postgres.NewTradeStore(pool, deps.Symbols)
	tickerStore := postgres.NewTickerStore(pool, deps.Symbols)
	footprintStore := postgres.NewFootprintStore(pool, deps.Symbols)
	deps.OrderBookStore = orderBookStore
	deps.TradeStore = tradeStore
	deps.TickerStore = tickerStore
	deps.FootprintStore = footprintStore
	deps.StrategyInstanceStore = postgres.NewStrategyInstanceStore(pool)
	deps.CredentialStore = postgres.NewCredentialStore(pool)
	orderStore := postgres.NewOrderStore(pool)
	deps.OrderStore = orderStore
	deps.TransactionStore = postgres.NewTransactionStore(pool)
	deps.EventStore = postgres.NewEventStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.Bus = redis.NewBus(redisClient)
	deps.HotCache = redis.NewMarketDataCache(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)

	// --- S3 blob storage ---
	s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
		Endpoint:       cfg.S3.Endpoint,
		Region:         cfg.S3.Region,
		Bucket:         cfg.S3.Bucket,
		AccessKey:      cfg.S3.AccessKey,
		SecretKey:      cfg.S3.SecretKey,
		UseSSL:         cfg.S3.UseSSL,
		ForcePathStyle: cfg.S3.ForcePathStyle,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: s3: %w", err)
	}
	closers = append(closers, func() { _ = s3Client.Close() })

	deps.BlobWriter = s3blob.NewWriter(s3Client)
	deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.TradeStore, orderStore, deps.FootprintStore, deps.EventStore)

	// --- Credential cipher + resolver ---
	key, err := base64.StdEncoding.DecodeString(cfg.Credential.Key)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: decode credential key: %w", err)
	}
	cipher, err := credential.NewAEADCipher(key)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: credential cipher: %w", err)
	}
	deps.Credentials = credential.NewResolver(deps.CredentialStore, cipher)

	// --- Exchange adapter factory ---
	factory := adapter.NewFactory(cfg.Adapter.CacheTTL.Duration)
	factory.Register("binance", func() (domain.ExchangeAdapter, error) {
		return binance.NewClient(binance.Config{
			RESTBaseURL: cfg.Adapter.Binance.RESTBaseURL,
			WSBaseURL:   cfg.Adapter.Binance.WSBaseURL,
		}, logger), nil
	})
	deps.Adapters = factory

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- MarketDataFeed ---
	f := feed.New(deps.Adapters, deps.Bus, logger).
		WithIntervals(cfg.Feed.ReconnectDelay.Duration, cfg.Feed.HealthCheckInterval.Duration)
	for _, sub := range cfg.Feed.Subscriptions {
		f.AddSubscription(ctx, feed.Subscription{
			Exchange: sub.Exchange,
			Symbol:   sub.Symbol,
			Kind:     domain.SubscriptionKind(sub.Kind),
		})
	}
	deps.Feed = f

	// --- PersistenceConsumers ---
	deps.Consumers = persistence.New(deps.Bus, orderBookStore, tradeStore, tickerStore, deps.HotCache, logger)

	// --- OrderFlowAggregator ---
	deps.Orderflow = orderflow.New(deps.Bus, deps.HotCache, footprintStore, deps.Symbols, logger, orderflow.Config{
		Interval:      cfg.Orderflow.Interval.Duration,
		SweepInterval: cfg.Orderflow.SweepInterval.Duration,
		DefaultTick:   cfg.Orderflow.DefaultTick,
	})

	// --- OracleProcessor ---
	watchList := make([]oracle.Market, 0, len(cfg.Oracle.WatchList))
	for _, m := range cfg.Oracle.WatchList {
		watchList = append(watchList, oracle.Market{Exchange: m.Exchange, Symbol: m.Symbol})
	}
	deps.Oracle = oracle.New(deps.Bus, deps.HotCache, watchList, logger, oracle.Config{
		Interval: cfg.Oracle.Interval.Duration,
		Depth:    cfg.Oracle.Depth,
	})

	// --- StrategyEngine ---
	registry := strategy.NewRegistry()
	registry.Register(strategy.NewMeanReversion(logger))
	registry.Register(strategy.NewMomentum(logger))

	deps.Strategy = strategy.NewEngine(deps.StrategyInstanceStore, deps.HotCache, deps.LockManager, registry, deps.Bus, cfg.Strategy.MaxConsecutiveErrors, logger)

	if err := seedStrategyInstances(ctx, deps.StrategyInstanceStore, cfg.Strategy.Instances); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: seed strategy instances: %w", err)
	}

	// --- OrderExecutor ---
	riskChain := service.NewRiskChain(logger,
		&service.ExposureCapPolicy{Exposure: orderStore, MaxUSD: cfg.Risk.MaxExposureUSD},
		&service.StrategyNotionalCapPolicy{MaxPerSignalUSD: cfg.Risk.MaxPerSignalUSD},
		&service.SlippagePolicy{Cache: deps.HotCache, MaxSlippageBps: cfg.Risk.MaxSlippageBps, TopNLevels: cfg.Risk.SlippageTopNLevels},
	)
	if cfg.Archive.Enabled {
		deps.ArchiveScheduler = s3blob.NewScheduler(deps.Archiver, cfg.Archive.Interval.Duration, cfg.Archive.RetentionThreshold.Duration, logger)
	}

	deps.Executor = executor.NewExecutor(
		deps.Bus,
		deps.Adapters,
		deps.Credentials,
		riskChain,
		orderStore,
		deps.TransactionStore,
		deps.Symbols,
		deps.HotCache,
		deps.Notifier,
		logger,
	)

	return deps, cleanup, nil
}

// seedStrategyInstances upserts every statically configured strategy
// instance with DesiredActive set, so the StrategyEngine's reconcile loop
// picks them up on its first pass without requiring a separate management
// API call.
func seedStrategyInstances(ctx context.Context, store domain.StrategyInstanceStore, instances []config.InstanceConfig) error {
	for _, inst := range instances {
		params, err := strategyParams(inst)
		if err != nil {
			return err
		}
		evalInterval := inst.EvalInterval.Duration
		if evalInterval <= 0 {
			evalInterval = 30 * time.Second
		}
		record := domain.StrategyInstance{
			ID:            inst.ID,
			OwnerID:       inst.OwnerID,
			Exchange:      inst.Exchange,
			Symbol:        inst.Symbol,
			Params:        params,
			EvalInterval:  evalInterval,
			DesiredActive: true,
			Status:        domain.StatusPendingStart,
		}
		if err := store.Upsert(ctx, record); err != nil {
			return fmt.Errorf("upsert instance %s: %w", inst.ID, err)
		}
	}
	return nil
}

func strategyParams(inst config.InstanceConfig) (domain.StrategyParams, error) {
	switch domain.StrategyKind(inst.Kind) {
	case domain.StrategyMeanReversion:
		return domain.StrategyParams{
			Kind: domain.StrategyMeanReversion,
			MeanReversion: &domain.MeanReversionParams{
				LookbackWindow:  durationParam(inst.Params, "lookback_window", 5*time.Minute),
				StdDevThreshold: floatParam(inst.Params, "std_dev_threshold", 2.0),
				SizeBase:        floatParam(inst.Params, "size_base", 0.01),
			},
		}, nil
	case domain.StrategyMomentum:
		return domain.StrategyParams{
			Kind: domain.StrategyMomentum,
			Momentum: &domain.MomentumParams{
				LookbackWindow: durationParam(inst.Params, "lookback_window", 5*time.Minute),
				BreakoutBps:    floatParam(inst.Params, "breakout_bps", 50.0),
				SizeBase:       floatParam(inst.Params, "size_base", 0.01),
			},
		}, nil
	default:
		return domain.StrategyParams{}, fmt.Errorf("unknown strategy kind %q for instance %s", inst.Kind, inst.ID)
	}
}

func floatParam(params map[string]any, key string, def float64) float64 {
	if v, ok := params[key]; ok {
		switch n := v.(type) {
		case float64:
			return n
		case int64:
			return float64(n)
		case int:
			return float64(n)
		}
	}
	return def
}

func durationParam(params map[string]any, key string, def time.Duration) time.Duration {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok {
			if d, err := time.ParseDuration(s); err == nil {
				return d
			}
		}
	}
	return def
}
