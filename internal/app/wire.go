package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/polyflow/updown/internal/blob/s3"
	"github.com/polyflow/updown/internal/cache/redis"
	"github.com/polyflow/updown/internal/config"
	"github.com/polyflow/updown/internal/domain"
	"github.com/polyflow/updown/internal/notify"
	"github.com/polyflow/updown/internal/settle"
	"github.com/polyflow/updown/internal/store"
	"github.com/polyflow/updown/internal/store/postgres"
)

// Dependencies bundles everything the modes need beyond the engine itself.
// Constructed by Wire, torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	SignalStore     domain.SignalStore
	PositionStore   domain.PositionStore
	HedgeStore      domain.HedgeIntentStore
	SettlementStore domain.SettlementStore

	// Caches
	PriceCache domain.PriceCache
	BookCache  domain.BookCache
	RecordBus  domain.RecordBus

	// Blob storage
	BlobWriter domain.BlobWriter
	Archiver   *s3blob.Archiver

	// Notifications
	Notifier *notify.Notifier

	// Collector keeps the in-memory record history for run metrics.
	Collector *settle.Collector

	// Sinks are every record consumer to register on the fan-out.
	Sinks []domain.RecordSink
}

// Wire constructs all concrete dependency implementations from the given
// configuration.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Collector: settle.NewCollector(),
	}
	deps.Sinks = append(deps.Sinks, deps.Collector)

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
			return nil, nil, fmt.Errorf("wire postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.SignalStore = postgres.NewSignalStore(pool)
		deps.PositionStore = postgres.NewPositionStore(pool)
		deps.HedgeStore = postgres.NewHedgeIntentStore(pool)
		deps.SettlementStore = postgres.NewSettlementStore(pool)

		deps.Sinks = append(deps.Sinks, store.NewSink(
			deps.SignalStore, deps.PositionStore, deps.HedgeStore, deps.SettlementStore, logger,
		))
	}

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
			return nil, nil, fmt.Errorf("wire redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PriceCache = redis.NewPriceCache(redisClient)
		deps.BookCache = redis.NewBookCache(redisClient)
		deps.RecordBus = redis.NewRecordBus(redisClient)
		deps.Sinks = append(deps.Sinks, redis.NewRecordPublisher(deps.RecordBus, logger))
	}

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
			return nil, nil, fmt.Errorf("wire s3: %w", err)
		}
		deps.BlobWriter = s3blob.NewWriter(s3Client)

		if deps.PositionStore != nil && deps.SettlementStore != nil {
			retention := time.Duration(cfg.S3.ArchiveRetentionDays) * 24 * time.Hour
			deps.Archiver = s3blob.NewArchiver(
				deps.BlobWriter, deps.PositionStore, deps.SettlementStore, retention, logger,
			)
		}
	}

	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	if len(senders) > 0 {
		deps.Sinks = append(deps.Sinks, notify.NewRecordSink(deps.Notifier))
	}

	return deps, cleanup, nil
}
