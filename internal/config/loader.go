package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies TRADECORE_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known TRADECORE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e.
// not empty). This lets operators inject secrets at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "TRADECORE_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "TRADECORE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "TRADECORE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "TRADECORE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "TRADECORE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "TRADECORE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "TRADECORE_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "TRADECORE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "TRADECORE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "TRADECORE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "TRADECORE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TRADECORE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TRADECORE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TRADECORE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "TRADECORE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "TRADECORE_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "TRADECORE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TRADECORE_S3_REGION")
	setStr(&cfg.S3.Bucket, "TRADECORE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "TRADECORE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TRADECORE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "TRADECORE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "TRADECORE_S3_FORCE_PATH_STYLE")

	// ── Credential ──
	setStr(&cfg.Credential.Key, "TRADECORE_CREDENTIAL_KEY")

	// ── Adapter ──
	setDuration(&cfg.Adapter.CacheTTL, "TRADECORE_ADAPTER_CACHE_TTL")
	setStr(&cfg.Adapter.Binance.RESTBaseURL, "TRADECORE_ADAPTER_BINANCE_REST_BASE_URL")
	setStr(&cfg.Adapter.Binance.WSBaseURL, "TRADECORE_ADAPTER_BINANCE_WS_BASE_URL")

	// ── Feed ──
	setDuration(&cfg.Feed.ReconnectDelay, "TRADECORE_FEED_RECONNECT_DELAY")
	setDuration(&cfg.Feed.HealthCheckInterval, "TRADECORE_FEED_HEALTH_CHECK_INTERVAL")

	// ── Oracle ──
	setDuration(&cfg.Oracle.Interval, "TRADECORE_ORACLE_INTERVAL")
	setInt(&cfg.Oracle.Depth, "TRADECORE_ORACLE_DEPTH")

	// ── Orderflow ──
	setDuration(&cfg.Orderflow.Interval, "TRADECORE_ORDERFLOW_INTERVAL")
	setDuration(&cfg.Orderflow.SweepInterval, "TRADECORE_ORDERFLOW_SWEEP_INTERVAL")
	setFloat64(&cfg.Orderflow.DefaultTick, "TRADECORE_ORDERFLOW_DEFAULT_TICK")

	// ── Strategy ──
	setDuration(&cfg.Strategy.ReconcileInterval, "TRADECORE_STRATEGY_RECONCILE_INTERVAL")
	setInt(&cfg.Strategy.MaxConsecutiveErrors, "TRADECORE_STRATEGY_MAX_CONSECUTIVE_ERRORS")

	// ── Risk ──
	setFloat64(&cfg.Risk.MaxExposureUSD, "TRADECORE_RISK_MAX_EXPOSURE_USD")
	setFloat64(&cfg.Risk.MaxPerSignalUSD, "TRADECORE_RISK_MAX_PER_SIGNAL_USD")
	setFloat64(&cfg.Risk.MaxSlippageBps, "TRADECORE_RISK_MAX_SLIPPAGE_BPS")
	setInt(&cfg.Risk.SlippageTopNLevels, "TRADECORE_RISK_SLIPPAGE_TOP_N_LEVELS")

	// ── Executor ──
	setInt(&cfg.Executor.PlaceRetries, "TRADECORE_EXECUTOR_PLACE_RETRIES")
	setDuration(&cfg.Executor.DedupTTL, "TRADECORE_EXECUTOR_DEDUP_TTL")
	setDuration(&cfg.Executor.CleanupInterval, "TRADECORE_EXECUTOR_CLEANUP_INTERVAL")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "TRADECORE_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "TRADECORE_ARCHIVE_INTERVAL")
	setDuration(&cfg.Archive.RetentionThreshold, "TRADECORE_ARCHIVE_RETENTION_THRESHOLD")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "TRADECORE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TRADECORE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "TRADECORE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "TRADECORE_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "TRADECORE_MODE")
	setStr(&cfg.LogLevel, "TRADECORE_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
