package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/nsavelyev/scalpbot/internal/blob/s3"
	"github.com/nsavelyev/scalpbot/internal/cache/redis"
	"github.com/nsavelyev/scalpbot/internal/config"
	"github.com/nsavelyev/scalpbot/internal/crypto"
	"github.com/nsavelyev/scalpbot/internal/domain"
	"github.com/nsavelyev/scalpbot/internal/notify"
	"github.com/nsavelyev/scalpbot/internal/platform/binance"
	"github.com/nsavelyev/scalpbot/internal/store/postgres"
)

// Dependencies bundles every dependency the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Venue access. Nil in server mode.
	Venue   *binance.Client
	Filters domain.SymbolFilters

	// Persistence, all optional.
	TradeStore   domain.TradeStore
	EventBus     *redis.EventBus
	BookTopCache domain.BookTopCache
	LockManager  domain.LockManager
	BlobWriter   domain.BlobWriter

	// Notifications.
	Notifier *notify.Notifier
}

// needsVenue reports whether the mode talks to the exchange at all.
func needsVenue(mode string) bool {
	return mode != "server"
}

// isTrading reports whether the mode places orders.
func isTrading(mode string) bool {
	return mode == "cycle" || mode == "maker"
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// releases resources in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	mode := strings.ToLower(cfg.Mode)

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Venue REST client ---
	if needsVenue(mode) {
		secret, err := crypto.LoadSecret(crypto.SecretConfig{
			RawSecret:           cfg.Binance.ApiSecret,
			EncryptedSecretPath: cfg.Binance.EncryptedSecretPath,
			SecretPassword:      cfg.Binance.SecretPassword,
		})
		if err != nil && isTrading(mode) {
			return nil, nil, fmt.Errorf("wire: load api secret: %w", err)
		}

		venue := binance.NewClient(cfg.Binance.BaseURL, cfg.Binance.ApiKey, secret)
		venue.SetRecvWindow(cfg.Binance.RecvWindowMs)

		if err := venue.SyncClock(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: sync clock: %w", err)
		}

		filters, err := venue.SymbolFilters(ctx, cfg.Trading.Symbol)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: symbol filters: %w", err)
		}

		if isTrading(mode) && cfg.Trading.Leverage > 0 {
			if err := venue.SetLeverage(ctx, cfg.Trading.Symbol, cfg.Trading.Leverage); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: set leverage: %w", err)
			}
		}

		deps.Venue = venue
		deps.Filters = filters
	}

	// --- PostgreSQL ---
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

		deps.TradeStore = postgres.NewTradeStore(pgClient.Pool())
	}

	// --- Redis ---
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

		deps.EventBus = redis.NewEventBus(redisClient)
		deps.BookTopCache = redis.NewBookTopCache(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
	}

	// --- S3 blob storage ---
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
		deps.BlobWriter = s3blob.NewWriter(s3Client)
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
