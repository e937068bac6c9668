// Package config defines the top-level configuration for the tradecore
// pipeline and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by TRADECORE_* environment
// variables.
type Config struct {
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`

	Credential CredentialConfig `toml:"credential"`
	Adapter    AdapterConfig    `toml:"adapter"`
	Feed       FeedConfig       `toml:"feed"`
	Oracle     OracleConfig     `toml:"oracle"`
	Orderflow  OrderflowConfig  `toml:"orderflow"`
	Strategy   StrategyConfig   `toml:"strategy"`
	Risk       RiskConfig       `toml:"risk"`
	Executor   ExecutorConfig   `toml:"executor"`
	Archive    ArchiveConfig    `toml:"archive"`
	Notify     NotifyConfig     `toml:"notify"`

	Mode     string `toml:"mode"`
	LogLevel string `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters for the time-series
// store (symbols, order books, trades, tickers, footprints, strategy
// instances, credentials, orders, transactions, events).
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters backing the Bus, HotCache,
// LockManager, and RateLimiter.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters used for cold
// archival of trades, orders, and footprints.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// CredentialConfig holds the symmetric key used to encrypt/decrypt exchange
// API credentials at rest.
type CredentialConfig struct {
	// Key is the base64-encoded 32-byte ChaCha20-Poly1305 key. It is never
	// read from TOML in practice; operators are expected to set it via the
	// TRADECORE_CREDENTIAL_KEY environment variable instead.
	Key string `toml:"key"`
}

// AdapterConfig controls the ExchangeAdapter factory and the reference
// Binance adapter.
type AdapterConfig struct {
	CacheTTL duration      `toml:"cache_ttl"`
	Binance  BinanceConfig `toml:"binance"`
}

// BinanceConfig holds REST/WS base URLs for the reference binance adapter.
// Empty fields fall back to Binance's production USDT-M futures hosts.
type BinanceConfig struct {
	RESTBaseURL string `toml:"rest_base_url"`
	WSBaseURL   string `toml:"ws_base_url"`
}

// SubscriptionConfig is a single MarketDataFeed subscription: one
// (exchange, symbol, kind) stream to maintain.
type SubscriptionConfig struct {
	Exchange string `toml:"exchange"`
	Symbol   string `toml:"symbol"`
	Kind     string `toml:"kind"` // orderbook | trades | ticker
}

// FeedConfig controls the MarketDataFeed component.
type FeedConfig struct {
	ReconnectDelay      duration             `toml:"reconnect_delay"`
	HealthCheckInterval duration             `toml:"health_check_interval"`
	Subscriptions       []SubscriptionConfig `toml:"subscriptions"`
}

// MarketConfig is a single (exchange, symbol) pair the OracleProcessor
// scans on every tick.
type MarketConfig struct {
	Exchange string `toml:"exchange"`
	Symbol   string `toml:"symbol"`
}

// OracleConfig controls the OracleProcessor component.
type OracleConfig struct {
	Interval  duration       `toml:"interval"`
	Depth     int            `toml:"depth"`
	WatchList []MarketConfig `toml:"watch_list"`
}

// OrderflowConfig controls the OrderFlowAggregator's footprint bucketing.
type OrderflowConfig struct {
	Interval      duration `toml:"interval"`
	SweepInterval duration `toml:"sweep_interval"`
	DefaultTick   float64  `toml:"default_tick"`
}

// InstanceConfig seeds a single StrategyInstance at startup. Additional
// instances may also be created through the StrategyInstanceStore directly;
// this list only covers what boots with the process.
type InstanceConfig struct {
	ID           string         `toml:"id"`
	Kind         string         `toml:"kind"` // mean_reversion | momentum
	Exchange     string         `toml:"exchange"`
	Symbol       string         `toml:"symbol"`
	OwnerID      string         `toml:"owner_id"`
	EvalInterval duration       `toml:"eval_interval"`
	Params       map[string]any `toml:"params"`
}

// StrategyConfig controls the StrategyEngine component. ReconcileInterval is
// loaded but not passed to strategy.NewEngine; the engine reconciles on a
// fixed 10s interval.
type StrategyConfig struct {
	ReconcileInterval    duration         `toml:"reconcile_interval"`
	MaxConsecutiveErrors int              `toml:"max_consecutive_errors"`
	Instances            []InstanceConfig `toml:"instances"`
}

// RiskConfig parameterizes the OrderExecutor's pre-trade RiskChain.
type RiskConfig struct {
	MaxExposureUSD     float64 `toml:"max_exposure_usd"`
	MaxPerSignalUSD    float64 `toml:"max_per_signal_usd"`
	MaxSlippageBps     float64 `toml:"max_slippage_bps"`
	SlippageTopNLevels int     `toml:"slippage_top_n_levels"`
}

// ExecutorConfig holds OrderExecutor settings. They are loaded and
// defaulted, but wire.go does not pass them to executor.NewExecutor, which
// uses fixed values equal to these defaults (3 retries, 10m dedup TTL, 30s
// cleanup interval); overriding them has no effect on the executor.
type ExecutorConfig struct {
	PlaceRetries    int      `toml:"place_retries"`
	DedupTTL        duration `toml:"dedup_ttl"`
	CleanupInterval duration `toml:"cleanup_interval"`
}

// ArchiveConfig controls periodic cold-storage archival to S3.
type ArchiveConfig struct {
	Enabled            bool     `toml:"enabled"`
	Interval           duration `toml:"interval"`
	RetentionThreshold duration `toml:"retention_threshold"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "tradecore",
			User:          "tradecore",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "tradecore-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Adapter: AdapterConfig{
			CacheTTL: duration{5 * time.Minute},
		},
		Feed: FeedConfig{
			ReconnectDelay:      duration{15 * time.Second},
			HealthCheckInterval: duration{60 * time.Second},
		},
		Oracle: OracleConfig{
			Interval: duration{30 * time.Second},
			Depth:    5,
		},
		Orderflow: OrderflowConfig{
			Interval:      duration{1 * time.Minute},
			SweepInterval: duration{10 * time.Second},
			DefaultTick:   0.01,
		},
		Strategy: StrategyConfig{
			ReconcileInterval:    duration{10 * time.Second},
			MaxConsecutiveErrors: 5,
		},
		Risk: RiskConfig{
			MaxExposureUSD:     10_000,
			MaxPerSignalUSD:    1_000,
			MaxSlippageBps:     50,
			SlippageTopNLevels: 10,
		},
		Executor: ExecutorConfig{
			PlaceRetries:    3,
			DedupTTL:        duration{10 * time.Minute},
			CleanupInterval: duration{30 * time.Second},
		},
		Archive: ArchiveConfig{
			Enabled:            false,
			Interval:           duration{24 * time.Hour},
			RetentionThreshold: duration{90 * 24 * time.Hour},
		},
		Notify: NotifyConfig{
			Events: []string{"order_placed", "order_failed"},
		},
		Mode:     "core",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode. "core" runs
// the full six-component pipeline; "migrate" only applies Postgres
// migrations and exits.
var validModes = map[string]bool{
	"core":    true,
	"migrate": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validSubscriptionKinds = map[string]bool{
	"orderbook": true,
	"trades":    true,
	"ticker":    true,
}

var validStrategyKinds = map[string]bool{
	"mean_reversion": true,
	"momentum":       true,
}

// Validate checks Config for obviously invalid or missing values and
// returns a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: core, migrate)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if c.Mode == "core" {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}

		if c.Credential.Key == "" {
			errs = append(errs, "credential: key must be set (TRADECORE_CREDENTIAL_KEY)")
		}

		for i, sub := range c.Feed.Subscriptions {
			if sub.Exchange == "" || sub.Symbol == "" {
				errs = append(errs, fmt.Sprintf("feed: subscriptions[%d]: exchange and symbol must not be empty", i))
			}
			if !validSubscriptionKinds[sub.Kind] {
				errs = append(errs, fmt.Sprintf("feed: subscriptions[%d]: unknown kind %q (valid: orderbook, trades, ticker)", i, sub.Kind))
			}
		}

		if c.Oracle.Depth <= 0 {
			errs = append(errs, "oracle: depth must be > 0")
		}

		if c.Orderflow.DefaultTick <= 0 {
			errs = append(errs, "orderflow: default_tick must be > 0")
		}

		if c.Strategy.MaxConsecutiveErrors < 1 {
			errs = append(errs, "strategy: max_consecutive_errors must be >= 1")
		}
		for i, inst := range c.Strategy.Instances {
			if inst.ID == "" {
				errs = append(errs, fmt.Sprintf("strategy: instances[%d]: id must not be empty", i))
			}
			if !validStrategyKinds[inst.Kind] {
				errs = append(errs, fmt.Sprintf("strategy: instances[%d]: unknown kind %q (valid: mean_reversion, momentum)", i, inst.Kind))
			}
		}

		if c.Risk.MaxExposureUSD <= 0 {
			errs = append(errs, "risk: max_exposure_usd must be > 0")
		}
		if c.Risk.MaxPerSignalUSD <= 0 {
			errs = append(errs, "risk: max_per_signal_usd must be > 0")
		}
		if c.Risk.MaxSlippageBps <= 0 {
			errs = append(errs, "risk: max_slippage_bps must be > 0")
		}

		if c.Executor.PlaceRetries < 0 {
			errs = append(errs, "executor: place_retries must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
