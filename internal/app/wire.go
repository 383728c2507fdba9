package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	s3blob "github.com/alanyoungcy/ordergate/internal/blob/s3"
	cachemem "github.com/alanyoungcy/ordergate/internal/cache/memory"
	"github.com/alanyoungcy/ordergate/internal/cache/redis"
	"github.com/alanyoungcy/ordergate/internal/config"
	"github.com/alanyoungcy/ordergate/internal/crypto"
	"github.com/alanyoungcy/ordergate/internal/domain"
	"github.com/alanyoungcy/ordergate/internal/exchange"
	"github.com/alanyoungcy/ordergate/internal/exchange/binance"
	"github.com/alanyoungcy/ordergate/internal/exchange/okx"
	"github.com/alanyoungcy/ordergate/internal/exchange/paper"
	"github.com/alanyoungcy/ordergate/internal/notify"
	storemem "github.com/alanyoungcy/ordergate/internal/store/memory"
	"github.com/alanyoungcy/ordergate/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency the application modes
// need. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Stores
	Accounts   domain.AccountStore
	Positions  domain.PositionStore
	Executions domain.ExecutionStore
	Audit      domain.AuditStore

	// Cache / coordination layer
	Prices  domain.PriceCache
	Limiter domain.RateLimiter
	Locks   domain.LockManager
	Bus     domain.SignalBus

	// Gateways keyed by account routing key (account.exchange). Empty in
	// monitor mode.
	Gateways map[string]domain.ExchangeGateway

	// Archiver is non-nil only when both [s3] and [postgres] are enabled;
	// in-memory execution history has nothing durable to archive.
	Archiver *s3blob.Archiver

	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	mode := strings.ToLower(cfg.Mode)

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Stores: Postgres when enabled, in-memory otherwise ---
	var pgExecutions *postgres.ExecutionStore
	if cfg.Postgres.Enabled {
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

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		pgExecutions = postgres.NewExecutionStore(pool)
		deps.Accounts = postgres.NewAccountStore(pool)
		deps.Positions = postgres.NewPositionStore(pool)
		deps.Executions = pgExecutions
		deps.Audit = postgres.NewAuditStore(pool)
	} else {
		deps.Accounts = storemem.NewAccountStore()
		deps.Positions = storemem.NewPositionStore()
		deps.Executions = storemem.NewExecutionStore()
		deps.Audit = storemem.NewAuditStore()
	}

	// --- Cache / coordination: Redis when enabled, in-process otherwise ---
	if cfg.Redis.Enabled {
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

		deps.Prices = redis.NewPriceCache(redisClient)
		deps.Limiter = redis.NewRateLimiter(redisClient)
		deps.Bus = redis.NewSignalBus(redisClient)
		if cfg.Redis.UseLocks {
			deps.Locks = redis.NewLockManager(redisClient)
		} else {
			deps.Locks = cachemem.NewLockManager()
		}
	} else {
		deps.Prices = cachemem.NewPriceCache()
		deps.Limiter = cachemem.NewRateLimiter()
		deps.Bus = cachemem.NewSignalBus()
		deps.Locks = cachemem.NewLockManager()
	}

	// --- Exchange gateways (none in monitor mode) ---
	if mode != "monitor" {
		gateways, err := buildGateways(mode, cfg, deps.Prices, logger)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		deps.Gateways = gateways
	}

	// --- S3 execution archival ---
	if cfg.S3.Enabled {
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

		if pgExecutions != nil {
			deps.Archiver = s3blob.NewArchiver(
				s3blob.NewWriter(s3Client),
				pgExecutions,
				deps.Audit,
				s3blob.ArchiverConfig{
					Interval:  cfg.S3.ArchiveInterval.Duration,
					Retention: time.Duration(cfg.S3.RetentionDays) * 24 * time.Hour,
					Prune:     cfg.S3.Prune,
				},
				logger,
			)
		} else {
			logger.Warn("s3 archival enabled without postgres; archiver disabled")
		}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// buildGateways constructs the venue routing table. In paper mode every
// routing key resolves to the simulator so seeded accounts keep their
// exchange assignment without touching a live venue.
func buildGateways(mode string, cfg *config.Config, prices domain.PriceCache, logger *slog.Logger) (map[string]domain.ExchangeGateway, error) {
	wrap := func(gw domain.ExchangeGateway) domain.ExchangeGateway {
		return exchange.NewBreaker(gw, cfg.Exchanges.BreakerThreshold, cfg.Exchanges.BreakerCooldown.Duration, logger)
	}

	gateways := make(map[string]domain.ExchangeGateway)

	paperGW := paper.New(paper.Config{
		FeeRate: decimal.NewFromFloat(cfg.Exchanges.Paper.FeeRate),
	}, prices, logger)

	if mode == "paper" {
		sim := wrap(paperGW)
		gateways["paper"] = sim
		gateways["binance"] = sim
		gateways["okx"] = sim
		return gateways, nil
	}

	if cfg.Exchanges.Paper.Enabled {
		gateways["paper"] = wrap(paperGW)
	}

	if cfg.Exchanges.Binance.Enabled {
		creds, err := crypto.LoadCredentials(crypto.CredentialSource{
			APIKey:        cfg.Exchanges.Binance.APIKey,
			APISecret:     cfg.Exchanges.Binance.APISecret,
			EncryptedPath: cfg.Exchanges.Binance.EncryptedKeyPath,
			Password:      cfg.Exchanges.Binance.KeyPassword,
		})
		if err != nil {
			return nil, fmt.Errorf("wire: binance credentials: %w", err)
		}
		gateways["binance"] = wrap(binance.New(binance.Config{
			APIKey:    creds.APIKey,
			APISecret: creds.APISecret,
			BaseURL:   cfg.Exchanges.Binance.BaseURL,
		}, logger))
	}

	if cfg.Exchanges.OKX.Enabled {
		creds, err := crypto.LoadCredentials(crypto.CredentialSource{
			APIKey:        cfg.Exchanges.OKX.APIKey,
			APISecret:     cfg.Exchanges.OKX.APISecret,
			Passphrase:    cfg.Exchanges.OKX.Passphrase,
			EncryptedPath: cfg.Exchanges.OKX.EncryptedKeyPath,
			Password:      cfg.Exchanges.OKX.KeyPassword,
		})
		if err != nil {
			return nil, fmt.Errorf("wire: okx credentials: %w", err)
		}
		gateways["okx"] = wrap(okx.New(okx.Config{
			BaseURL:     cfg.Exchanges.OKX.BaseURL,
			Credentials: creds,
			Simulated:   cfg.Exchanges.OKX.Simulated,
		}, logger))
	}

	return gateways, nil
}
