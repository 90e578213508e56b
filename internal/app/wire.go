package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/quarterlab/updown-tracker/internal/blob/s3"
	"github.com/quarterlab/updown-tracker/internal/cache/redis"
	"github.com/quarterlab/updown-tracker/internal/config"
	"github.com/quarterlab/updown-tracker/internal/domain"
	"github.com/quarterlab/updown-tracker/internal/notify"
	"github.com/quarterlab/updown-tracker/internal/platform/goldsky"
	"github.com/quarterlab/updown-tracker/internal/platform/polymarket"
	"github.com/quarterlab/updown-tracker/internal/store/postgres"
	"github.com/quarterlab/updown-tracker/internal/tracker"
)

// Dependencies bundles everything the tracker needs to run. Constructed by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	MarketStore domain.MarketStore
	TradeStore  domain.TradeStore
	PriceStore  domain.PriceStore

	// Optional collaborators
	QuoteCache domain.QuoteCache
	Backupper  domain.Backupper
	Notifier   *notify.Notifier

	// Upstream clients
	Gamma   *polymarket.GammaClient
	Goldsky *goldsky.Client

	// Core components
	Discovery *tracker.Discovery
	Fetcher   *tracker.Fetcher
	Stream    *tracker.PriceStream
	Scheduler *tracker.Scheduler
}

// Wire constructs all concrete implementations from the configuration and
// returns them with a cleanup function to be called on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Database.DSN,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.PoolMaxConns,
		MinConns: cfg.Database.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Database.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.MarketStore = postgres.NewMarketStore(pool)
	deps.TradeStore = postgres.NewTradeStore(pool)
	deps.PriceStore = postgres.NewPriceStore(pool)

	// --- Redis latest-quote cache ---
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

		// Quotes go stale one slot after the last market ends.
		deps.QuoteCache = redis.NewQuoteCache(redisClient, 2*domain.SlotInterval)
	}

	// --- S3 backups ---
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

		deps.Backupper = s3blob.NewBackup(
			s3blob.NewWriter(s3Client),
			deps.MarketStore,
			deps.TradeStore,
			deps.PriceStore,
			cfg.Tracker.BackupInterval.Duration,
			logger,
		)
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

	// --- Upstream clients ---
	deps.Gamma = polymarket.NewGammaClient(cfg.Polymarket.GammaHost)
	deps.Goldsky = goldsky.NewClient(cfg.Goldsky.URL, cfg.Goldsky.APIKey)

	// --- Core components ---
	deps.Discovery = tracker.NewDiscovery(
		deps.Gamma,
		deps.MarketStore,
		cfg.Tracker.Assets,
		cfg.Tracker.PastSlots,
		cfg.Tracker.FutureSlots,
		logger,
	)
	deps.Fetcher = tracker.NewFetcher(
		deps.Goldsky,
		deps.Gamma,
		deps.TradeStore,
		deps.MarketStore,
		cfg.Tracker.Wallets,
		cfg.Goldsky.PageSize,
		logger,
	)
	deps.Stream = tracker.NewPriceStream(
		cfg.Polymarket.WsHost,
		deps.PriceStore,
		deps.QuoteCache,
		cfg.Tracker.PriceSaveInterval.Duration,
		deps.Notifier,
		logger,
	)
	deps.Scheduler = tracker.NewScheduler(
		tracker.SchedulerConfig{
			DiscoveryInterval:  cfg.Tracker.DiscoveryInterval.Duration,
			ResolutionDelay:    cfg.Tracker.ResolutionDelay.Duration,
			CleanupInterval:    cfg.Tracker.CleanupInterval.Duration,
			PriceRetention:     cfg.Tracker.PriceRetention.Duration,
			BackupInterval:     cfg.Tracker.BackupInterval.Duration,
			MaxSleep:           cfg.Tracker.SchedulerMaxSleep.Duration,
			ResolutionRetryMax: cfg.Tracker.ResolutionRetryMax,
		},
		deps.Discovery,
		deps.Fetcher,
		deps.Stream,
		deps.Gamma,
		deps.MarketStore,
		deps.PriceStore,
		deps.Backupper,
		deps.Notifier,
		logger,
	)

	return deps, cleanup, nil
}
