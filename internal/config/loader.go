package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load builds the final Config: defaults, then the TOML file at path (or
// $ORDERGATE_CONFIG when path is empty; no file at all is fine), then .env,
// then ORDERGATE_* environment overrides. The returned Config has NOT been
// validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path == "" {
		path = os.Getenv("ORDERGATE_CONFIG")
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ORDERGATE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setFloat64(&cfg.Engine.MarginFactor, "ORDERGATE_ENGINE_MARGIN_FACTOR")
	setFloat64(&cfg.Engine.DefaultSymbolCap, "ORDERGATE_ENGINE_DEFAULT_SYMBOL_CAP")
	setDuration(&cfg.Engine.SubmitTimeout, "ORDERGATE_ENGINE_SUBMIT_TIMEOUT")
	setDuration(&cfg.Engine.LockTTL, "ORDERGATE_ENGINE_LOCK_TTL")
	setDuration(&cfg.Engine.DedupTTL, "ORDERGATE_ENGINE_DEDUP_TTL")
	setInt(&cfg.Engine.QueueSize, "ORDERGATE_ENGINE_QUEUE_SIZE")
	setInt(&cfg.Engine.Retry.NetworkAttempts, "ORDERGATE_ENGINE_RETRY_NETWORK_ATTEMPTS")
	setInt(&cfg.Engine.Retry.RateLimitAttempts, "ORDERGATE_ENGINE_RETRY_RATE_LIMIT_ATTEMPTS")
	setInt(&cfg.Engine.Retry.DefaultAttempts, "ORDERGATE_ENGINE_RETRY_DEFAULT_ATTEMPTS")
	setDuration(&cfg.Engine.Retry.NetworkBase, "ORDERGATE_ENGINE_RETRY_NETWORK_BASE")
	setDuration(&cfg.Engine.Retry.RateLimitBase, "ORDERGATE_ENGINE_RETRY_RATE_LIMIT_BASE")
	setDuration(&cfg.Engine.Retry.DefaultBase, "ORDERGATE_ENGINE_RETRY_DEFAULT_BASE")
	setDuration(&cfg.Engine.Retry.MaxDelay, "ORDERGATE_ENGINE_RETRY_MAX_DELAY")

	// ── Risk monitor ──
	setBool(&cfg.RiskMonitor.Enabled, "ORDERGATE_RISK_MONITOR_ENABLED")
	setDuration(&cfg.RiskMonitor.Interval, "ORDERGATE_RISK_MONITOR_INTERVAL")
	setDuration(&cfg.RiskMonitor.StaleAfter, "ORDERGATE_RISK_MONITOR_STALE_AFTER")
	setDuration(&cfg.RiskMonitor.AlertCooldown, "ORDERGATE_RISK_MONITOR_ALERT_COOLDOWN")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "ORDERGATE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "ORDERGATE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "ORDERGATE_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "ORDERGATE_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "ORDERGATE_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "ORDERGATE_SERVER_RATE_WINDOW")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "ORDERGATE_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "ORDERGATE_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "ORDERGATE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ORDERGATE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ORDERGATE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ORDERGATE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ORDERGATE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ORDERGATE_POSTGRES_SSLMODE")
	setStr(&cfg.Postgres.SSLMode, "ORDERGATE_POSTGRES_SSL_MODE") // compatibility alias
	setInt(&cfg.Postgres.PoolMaxConns, "ORDERGATE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ORDERGATE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ORDERGATE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "ORDERGATE_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "ORDERGATE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ORDERGATE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ORDERGATE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ORDERGATE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ORDERGATE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ORDERGATE_REDIS_TLS_ENABLED")
	setBool(&cfg.Redis.UseLocks, "ORDERGATE_REDIS_USE_LOCKS")

	// ── S3 / archival ──
	setBool(&cfg.S3.Enabled, "ORDERGATE_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "ORDERGATE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ORDERGATE_S3_REGION")
	setStr(&cfg.S3.Bucket, "ORDERGATE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ORDERGATE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ORDERGATE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ORDERGATE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ORDERGATE_S3_FORCE_PATH_STYLE")
	setDuration(&cfg.S3.ArchiveInterval, "ORDERGATE_S3_ARCHIVE_INTERVAL")
	setInt(&cfg.S3.RetentionDays, "ORDERGATE_S3_RETENTION_DAYS")
	setBool(&cfg.S3.Prune, "ORDERGATE_S3_PRUNE")

	// ── Feed ──
	setBool(&cfg.Feed.Enabled, "ORDERGATE_FEED_ENABLED")
	setStr(&cfg.Feed.URL, "ORDERGATE_FEED_URL")
	setStringSlice(&cfg.Feed.Symbols, "ORDERGATE_FEED_SYMBOLS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ORDERGATE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ORDERGATE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ORDERGATE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ORDERGATE_NOTIFY_EVENTS")

	// ── Exchanges ──
	setBool(&cfg.Exchanges.Binance.Enabled, "ORDERGATE_BINANCE_ENABLED")
	setStr(&cfg.Exchanges.Binance.APIKey, "ORDERGATE_BINANCE_API_KEY")
	setStr(&cfg.Exchanges.Binance.APISecret, "ORDERGATE_BINANCE_API_SECRET")
	setStr(&cfg.Exchanges.Binance.BaseURL, "ORDERGATE_BINANCE_BASE_URL")
	setStr(&cfg.Exchanges.Binance.EncryptedKeyPath, "ORDERGATE_BINANCE_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Exchanges.Binance.KeyPassword, "ORDERGATE_BINANCE_KEY_PASSWORD")

	setBool(&cfg.Exchanges.OKX.Enabled, "ORDERGATE_OKX_ENABLED")
	setStr(&cfg.Exchanges.OKX.APIKey, "ORDERGATE_OKX_API_KEY")
	setStr(&cfg.Exchanges.OKX.APISecret, "ORDERGATE_OKX_API_SECRET")
	setStr(&cfg.Exchanges.OKX.Passphrase, "ORDERGATE_OKX_PASSPHRASE")
	setStr(&cfg.Exchanges.OKX.BaseURL, "ORDERGATE_OKX_BASE_URL")
	setBool(&cfg.Exchanges.OKX.Simulated, "ORDERGATE_OKX_SIMULATED")
	setStr(&cfg.Exchanges.OKX.EncryptedKeyPath, "ORDERGATE_OKX_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Exchanges.OKX.KeyPassword, "ORDERGATE_OKX_KEY_PASSWORD")

	setBool(&cfg.Exchanges.Paper.Enabled, "ORDERGATE_PAPER_ENABLED")
	setFloat64(&cfg.Exchanges.Paper.FeeRate, "ORDERGATE_PAPER_FEE_RATE")

	setInt(&cfg.Exchanges.BreakerThreshold, "ORDERGATE_BREAKER_THRESHOLD")
	setDuration(&cfg.Exchanges.BreakerCooldown, "ORDERGATE_BREAKER_COOLDOWN")

	// ── Top-level ──
	setStr(&cfg.Mode, "ORDERGATE_MODE")
	setStr(&cfg.LogLevel, "ORDERGATE_LOG_LEVEL")
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
