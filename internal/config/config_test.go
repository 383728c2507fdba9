package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "paper", cfg.Mode)
	assert.Equal(t, 0.1, cfg.Engine.MarginFactor)
	assert.Equal(t, 2*time.Minute, cfg.Engine.DedupTTL.Duration)
	assert.True(t, cfg.Exchanges.Paper.Enabled)
	assert.False(t, cfg.Postgres.Enabled)
	assert.False(t, cfg.Redis.Enabled)
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadTOMLFile(t *testing.T) {
	t.Setenv("ORDERGATE_CONFIG", "")
	path := writeConfigFile(t, `
mode = "serve"
log_level = "debug"

[engine]
margin_factor = 0.2
submit_timeout = "5s"

[engine.retry]
network_attempts = 7

[server]
port = 9090
api_key = "sekrit"
rate_limit = 10
rate_window = "30s"

[postgres]
enabled = true
dsn = "postgres://app:pw@db:5432/ordergate"

[redis]
enabled = true
addr = "redis:6379"
use_locks = true

[exchanges.binance]
enabled = true
api_key = "k"
api_secret = "s"

[[accounts]]
id = "alpha"
type = "spot"
exchange = "binance"
deposit = 1000.5

[[accounts]]
id = "beta"
type = "futures"
exchange = "paper"
deposit = 250.0
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "serve", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 0.2, cfg.Engine.MarginFactor)
	assert.Equal(t, 5*time.Second, cfg.Engine.SubmitTimeout.Duration)
	assert.Equal(t, 7, cfg.Engine.Retry.NetworkAttempts)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "sekrit", cfg.Server.APIKey)
	assert.Equal(t, 30*time.Second, cfg.Server.RateWindow.Duration)
	assert.True(t, cfg.Postgres.Enabled)
	assert.Equal(t, "postgres://app:pw@db:5432/ordergate", cfg.Postgres.DSN)
	assert.True(t, cfg.Redis.UseLocks)
	assert.True(t, cfg.Exchanges.Binance.Enabled)

	require.Len(t, cfg.Accounts, 2)
	assert.Equal(t, "alpha", cfg.Accounts[0].ID)
	assert.Equal(t, "binance", cfg.Accounts[0].Exchange)
	assert.Equal(t, 1000.5, cfg.Accounts[0].Deposit)
	assert.Equal(t, "futures", cfg.Accounts[1].Type)

	// Unset fields keep their defaults.
	assert.Equal(t, 2*time.Minute, cfg.Engine.DedupTTL.Duration)
	assert.Equal(t, 90, cfg.S3.RetentionDays)
}

func TestLoadMissingFileFails(t *testing.T) {
	t.Setenv("ORDERGATE_CONFIG", "")
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	t.Setenv("ORDERGATE_CONFIG", "")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Defaults().Server.Port, cfg.Server.Port)
}

func TestEnvOverridesBeatFile(t *testing.T) {
	path := writeConfigFile(t, `
[server]
port = 9090
`)
	t.Setenv("ORDERGATE_CONFIG", "")
	t.Setenv("ORDERGATE_MODE", "monitor")
	t.Setenv("ORDERGATE_SERVER_PORT", "7000")
	t.Setenv("ORDERGATE_ENGINE_SUBMIT_TIMEOUT", "9s")
	t.Setenv("ORDERGATE_REDIS_ENABLED", "true")
	t.Setenv("ORDERGATE_FEED_SYMBOLS", "ethusdt, solusdt")
	t.Setenv("ORDERGATE_OKX_API_KEY", "env-key")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, 9*time.Second, cfg.Engine.SubmitTimeout.Duration)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, []string{"ethusdt", "solusdt"}, cfg.Feed.Symbols)
	assert.Equal(t, "env-key", cfg.Exchanges.OKX.APIKey)
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "turbo"
	cfg.Engine.MarginFactor = 1.5
	cfg.Server.Port = 0
	cfg.Redis.UseLocks = true // without redis.enabled
	cfg.Notify.Events = append(cfg.Notify.Events, "bogus_event")
	cfg.Accounts = []AccountSeed{
		{ID: "a1", Type: "margin", Exchange: "paper", Deposit: 10},
		{ID: "a1", Type: "spot", Exchange: "nyse", Deposit: -1},
	}

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, `unknown mode "turbo"`)
	assert.Contains(t, msg, "margin_factor")
	assert.Contains(t, msg, "port must be 1-65535")
	assert.Contains(t, msg, "use_locks requires redis.enabled")
	assert.Contains(t, msg, `unknown event "bogus_event"`)
	assert.Contains(t, msg, `unknown type "margin"`)
	assert.Contains(t, msg, `duplicate id "a1"`)
	assert.Contains(t, msg, `unknown exchange "nyse"`)
	assert.Contains(t, msg, "deposit must be >= 0")
}

func TestValidateVenueCredentials(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "serve"

	cfg.Exchanges.OKX.Enabled = true
	cfg.Exchanges.OKX.APIKey = "k"
	cfg.Exchanges.OKX.APISecret = "s"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exchanges.okx: passphrase is required")

	cfg.Exchanges.OKX.Passphrase = "p"
	require.NoError(t, cfg.Validate())

	// Encrypted file carries the passphrase but needs its password.
	cfg.Exchanges.OKX = ExchangeCredentials{Enabled: true, EncryptedKeyPath: "/etc/ordergate/okx.enc"}
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key_password is required")

	cfg.Exchanges.OKX.KeyPassword = "pw"
	require.NoError(t, cfg.Validate())
}

func TestServeModeNeedsAGateway(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "serve"
	cfg.Exchanges.Paper.Enabled = false

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "serve mode requires at least one enabled gateway")
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Server.APIKey = "topsecret"
	cfg.Postgres.Password = "dbpw"
	cfg.S3.SecretKey = "s3secret"
	cfg.Notify.TelegramToken = "tok"
	cfg.Exchanges.Binance.APISecret = "binsecret"

	red := RedactedConfig(&cfg)

	assert.Equal(t, "***", red.Server.APIKey)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.S3.SecretKey)
	assert.Equal(t, "***", red.Notify.TelegramToken)
	assert.Equal(t, "***", red.Exchanges.Binance.APISecret)

	// Originals are untouched.
	assert.Equal(t, "topsecret", cfg.Server.APIKey)
	assert.Equal(t, "binsecret", cfg.Exchanges.Binance.APISecret)

	// Mutating the redacted copy's slices leaves the original alone.
	red.Notify.Events[0] = "mutated"
	assert.NotEqual(t, "mutated", cfg.Notify.Events[0])
}
