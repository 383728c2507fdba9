// Package config defines the engine's configuration tree and validation
// helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/ordergate/internal/domain"
	"github.com/alanyoungcy/ordergate/internal/notify"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ORDERGATE_* environment variables.
type Config struct {
	Engine      EngineConfig      `toml:"engine"`
	RiskMonitor RiskMonitorConfig `toml:"risk_monitor"`
	Server      ServerConfig      `toml:"server"`
	Postgres    PostgresConfig    `toml:"postgres"`
	Redis       RedisConfig       `toml:"redis"`
	S3          S3Config          `toml:"s3"`
	Feed        FeedConfig        `toml:"feed"`
	Notify      NotifyConfig      `toml:"notify"`
	Exchanges   ExchangesConfig   `toml:"exchanges"`
	Accounts    []AccountSeed     `toml:"accounts"`
	Mode        string            `toml:"mode"`
	LogLevel    string            `toml:"log_level"`
}

// EngineConfig holds executor and risk-evaluator parameters.
type EngineConfig struct {
	// MarginFactor is the fraction of order quantity reserved as margin.
	// The evaluator and the executor's settlement share this value.
	MarginFactor float64 `toml:"margin_factor"`
	// DefaultSymbolCap bounds the absolute per-symbol position when an
	// account's limits carry no override.
	DefaultSymbolCap float64 `toml:"default_symbol_cap"`
	// SubmitTimeout bounds each individual gateway submit call.
	SubmitTimeout duration `toml:"submit_timeout"`
	// LockTTL is passed to the lock manager; only the distributed (redis)
	// implementation uses it.
	LockTTL duration `toml:"lock_ttl"`
	// DedupTTL is the window within which a reused intent ID is rejected.
	DedupTTL duration `toml:"dedup_ttl"`
	// QueueSize is the intake channel capacity for asynchronous execution.
	QueueSize int `toml:"queue_size"`

	Retry RetryConfig `toml:"retry"`
}

// RetryConfig tunes the submit retry policy. Zero values fall back to the
// built-in defaults. Auth and validation failures always stop after the
// first call; only the retryable kinds are tunable.
type RetryConfig struct {
	NetworkAttempts   int      `toml:"network_attempts"`
	RateLimitAttempts int      `toml:"rate_limit_attempts"`
	DefaultAttempts   int      `toml:"default_attempts"`
	NetworkBase       duration `toml:"network_base"`
	RateLimitBase     duration `toml:"rate_limit_base"`
	DefaultBase       duration `toml:"default_base"`
	MaxDelay          duration `toml:"max_delay"`
}

// RiskMonitorConfig holds the periodic risk sweep parameters.
type RiskMonitorConfig struct {
	Enabled       bool     `toml:"enabled"`
	Interval      duration `toml:"interval"`
	StaleAfter    duration `toml:"stale_after"`
	AlertCooldown duration `toml:"alert_cooldown"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey protects every endpoint except /api/health. Empty disables
	// authentication.
	APIKey string `toml:"api_key"`
	// RateLimit is the per-client request budget per RateWindow; zero
	// disables rate limiting.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// PostgresConfig holds PostgreSQL connection parameters. When Enabled is
// false the engine uses in-memory stores.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
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

// RedisConfig holds Redis connection parameters. When Enabled is false the
// engine uses the in-process bus, cache, and lock table.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	// UseLocks selects the redis lock manager instead of the in-process
	// one. Required when multiple engine instances share accounts.
	UseLocks bool `toml:"use_locks"`
}

// S3Config holds object-storage parameters plus the execution-archival
// schedule. When Enabled is false no archiver runs.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`

	ArchiveInterval duration `toml:"archive_interval"`
	RetentionDays   int      `toml:"retention_days"`
	// Prune deletes archived records from the primary store after upload.
	Prune bool `toml:"prune"`
}

// FeedConfig holds market-data feed parameters.
type FeedConfig struct {
	Enabled bool `toml:"enabled"`
	// URL overrides the combined-stream endpoint; empty means production.
	URL     string   `toml:"url"`
	Symbols []string `toml:"symbols"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ExchangesConfig holds per-venue gateway settings and the shared circuit
// breaker knobs.
type ExchangesConfig struct {
	Binance ExchangeCredentials `toml:"binance"`
	OKX     ExchangeCredentials `toml:"okx"`
	Paper   PaperConfig         `toml:"paper"`

	BreakerThreshold int      `toml:"breaker_threshold"`
	BreakerCooldown  duration `toml:"breaker_cooldown"`
}

// ExchangeCredentials holds one venue's API credentials. Secrets may be
// inline (api_key + api_secret) or in an encrypted file produced by the
// keymanager. Passphrase and Simulated apply to OKX only.
type ExchangeCredentials struct {
	Enabled          bool   `toml:"enabled"`
	APIKey           string `toml:"api_key"`
	APISecret        string `toml:"api_secret"`
	Passphrase       string `toml:"passphrase"`
	BaseURL          string `toml:"base_url"`
	Simulated        bool   `toml:"simulated"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PaperConfig holds the simulated gateway settings.
type PaperConfig struct {
	Enabled bool    `toml:"enabled"`
	FeeRate float64 `toml:"fee_rate"`
}

// AccountSeed declares an account created (and funded) at startup if it does
// not already exist. Seeding is idempotent: existing accounts are left
// untouched.
type AccountSeed struct {
	ID       string  `toml:"id"`
	Type     string  `toml:"type"`
	Exchange string  `toml:"exchange"`
	Deposit  float64 `toml:"deposit"`
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

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			MarginFactor:     0.1,
			DefaultSymbolCap: 5000,
			SubmitTimeout:    duration{15 * time.Second},
			LockTTL:          duration{30 * time.Second},
			DedupTTL:         duration{2 * time.Minute},
			QueueSize:        256,
		},
		RiskMonitor: RiskMonitorConfig{
			Enabled:       true,
			Interval:      duration{time.Minute},
			StaleAfter:    duration{5 * time.Minute},
			AlertCooldown: duration{10 * time.Minute},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "ordergate",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:         false,
			Endpoint:        "http://localhost:9000",
			Region:          "us-east-1",
			Bucket:          "ordergate-archive",
			UseSSL:          false,
			ForcePathStyle:  true,
			ArchiveInterval: duration{24 * time.Hour},
			RetentionDays:   90,
			Prune:           false,
		},
		Feed: FeedConfig{
			Enabled: false,
			Symbols: []string{"BTCUSDT", "ETHUSDT"},
		},
		Notify: NotifyConfig{
			Events: []string{
				notify.EventOrderFilled,
				notify.EventOrderFailed,
				notify.EventRiskAlert,
				notify.EventEngineStarted,
				notify.EventEngineStopped,
			},
		},
		Exchanges: ExchangesConfig{
			OKX: ExchangeCredentials{
				BaseURL: "https://www.okx.com",
			},
			Paper: PaperConfig{
				Enabled: true,
				FeeRate: 0.001,
			},
			BreakerThreshold: 5,
			BreakerCooldown:  duration{30 * time.Second},
		},
		Mode:     "paper",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve":   true,
	"monitor": true,
	"paper":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validExchanges enumerates the gateway routing keys accounts may reference.
var validExchanges = map[string]bool{
	"binance": true,
	"okx":     true,
	"paper":   true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, monitor, paper)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Engine
	if c.Engine.MarginFactor <= 0 || c.Engine.MarginFactor > 1 {
		errs = append(errs, fmt.Sprintf("engine: margin_factor must be in (0, 1], got %g", c.Engine.MarginFactor))
	}
	if c.Engine.DefaultSymbolCap <= 0 {
		errs = append(errs, "engine: default_symbol_cap must be > 0")
	}
	if c.Engine.SubmitTimeout.Duration <= 0 {
		errs = append(errs, "engine: submit_timeout must be > 0")
	}
	if c.Engine.DedupTTL.Duration <= 0 {
		errs = append(errs, "engine: dedup_ttl must be > 0")
	}
	if c.Engine.QueueSize < 1 {
		errs = append(errs, "engine: queue_size must be >= 1")
	}
	if c.Engine.Retry.NetworkAttempts < 0 || c.Engine.Retry.RateLimitAttempts < 0 || c.Engine.Retry.DefaultAttempts < 0 {
		errs = append(errs, "engine: retry attempts must be >= 0 (0 uses the built-in default)")
	}

	// Risk monitor
	if c.RiskMonitor.Enabled {
		if c.RiskMonitor.Interval.Duration <= 0 {
			errs = append(errs, "risk_monitor: interval must be > 0")
		}
		if c.RiskMonitor.StaleAfter.Duration <= 0 {
			errs = append(errs, "risk_monitor: stale_after must be > 0")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	// Postgres
	if c.Postgres.Enabled {
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
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}
	if c.Redis.UseLocks && !c.Redis.Enabled {
		errs = append(errs, "redis: use_locks requires redis.enabled")
	}

	// S3 / archival
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
		if c.S3.ArchiveInterval.Duration <= 0 {
			errs = append(errs, "s3: archive_interval must be > 0")
		}
		if c.S3.RetentionDays < 1 {
			errs = append(errs, "s3: retention_days must be >= 1")
		}
	}

	// Feed
	if c.Feed.Enabled && len(c.Feed.Symbols) == 0 {
		errs = append(errs, "feed: at least one symbol is required when enabled")
	}

	// Notify
	tt := c.Notify.TelegramToken != ""
	tc := c.Notify.TelegramChatID != ""
	if tt != tc {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}
	for _, ev := range c.Notify.Events {
		if !notify.KnownEvent(ev) {
			errs = append(errs, fmt.Sprintf("notify: unknown event %q (valid: %s, %s, %s, %s, %s)", ev,
				notify.EventOrderFilled, notify.EventOrderFailed, notify.EventRiskAlert,
				notify.EventEngineStarted, notify.EventEngineStopped))
		}
	}

	// Exchanges
	errs = append(errs, validateVenue("binance", c.Exchanges.Binance, false)...)
	errs = append(errs, validateVenue("okx", c.Exchanges.OKX, true)...)
	if c.Exchanges.Paper.FeeRate < 0 || c.Exchanges.Paper.FeeRate >= 1 {
		errs = append(errs, fmt.Sprintf("exchanges.paper: fee_rate must be in [0, 1), got %g", c.Exchanges.Paper.FeeRate))
	}
	if c.Exchanges.BreakerThreshold < 1 {
		errs = append(errs, "exchanges: breaker_threshold must be >= 1")
	}
	if c.Exchanges.BreakerCooldown.Duration <= 0 {
		errs = append(errs, "exchanges: breaker_cooldown must be > 0")
	}

	// Live trading needs at least one gateway; paper mode reroutes
	// everything to the simulator, monitor mode submits nothing.
	if mode == "serve" && !c.Exchanges.Binance.Enabled && !c.Exchanges.OKX.Enabled && !c.Exchanges.Paper.Enabled {
		errs = append(errs, "exchanges: serve mode requires at least one enabled gateway")
	}
	if mode == "paper" && !c.Exchanges.Paper.Enabled {
		errs = append(errs, "exchanges: paper mode requires exchanges.paper.enabled")
	}

	// Account seeds
	seen := make(map[string]bool, len(c.Accounts))
	for i, seed := range c.Accounts {
		at := fmt.Sprintf("accounts[%d]", i)
		if seed.ID == "" {
			errs = append(errs, at+": id must not be empty")
		} else if seen[seed.ID] {
			errs = append(errs, fmt.Sprintf("%s: duplicate id %q", at, seed.ID))
		} else {
			seen[seed.ID] = true
		}
		if !domain.AccountType(seed.Type).Valid() {
			errs = append(errs, fmt.Sprintf("%s: unknown type %q (valid: spot, futures, options)", at, seed.Type))
		}
		if !validExchanges[seed.Exchange] {
			errs = append(errs, fmt.Sprintf("%s: unknown exchange %q (valid: binance, okx, paper)", at, seed.Exchange))
		}
		if seed.Deposit < 0 {
			errs = append(errs, fmt.Sprintf("%s: deposit must be >= 0, got %g", at, seed.Deposit))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// validateVenue checks one live venue's credential block. needsPassphrase is
// set for venues whose API requires one (OKX).
func validateVenue(name string, v ExchangeCredentials, needsPassphrase bool) []string {
	if !v.Enabled {
		return nil
	}
	var errs []string

	inline := v.APIKey != "" && v.APISecret != ""
	if !inline && v.EncryptedKeyPath == "" {
		errs = append(errs, fmt.Sprintf("exchanges.%s: set api_key+api_secret or encrypted_key_path", name))
	}
	if v.EncryptedKeyPath != "" && v.KeyPassword == "" {
		errs = append(errs, fmt.Sprintf("exchanges.%s: key_password is required when encrypted_key_path is set", name))
	}
	// An encrypted file carries its own passphrase; only inline credentials
	// need one supplied here.
	if needsPassphrase && inline && v.Passphrase == "" {
		errs = append(errs, fmt.Sprintf("exchanges.%s: passphrase is required", name))
	}
	return errs
}
