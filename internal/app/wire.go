package app

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"log/slog"

	"github.com/mr-tron/base58"

	s3blob "github.com/degenlabs/degen-exchange/internal/blob/s3"
	"github.com/degenlabs/degen-exchange/internal/cache/redis"
	"github.com/degenlabs/degen-exchange/internal/config"
	"github.com/degenlabs/degen-exchange/internal/crypto"
	"github.com/degenlabs/degen-exchange/internal/domain"
	"github.com/degenlabs/degen-exchange/internal/feed"
	"github.com/degenlabs/degen-exchange/internal/keeper"
	"github.com/degenlabs/degen-exchange/internal/notify"
	"github.com/degenlabs/degen-exchange/internal/platform/relayer"
	"github.com/degenlabs/degen-exchange/internal/settlement"
	"github.com/degenlabs/degen-exchange/internal/store/memory"
	"github.com/degenlabs/degen-exchange/internal/store/postgres"
)

// Dependencies bundles every infrastructure dependency the exchange needs. In
// sim mode everything is in-process; in live mode stores are Postgres, caches
// are Redis, settlement goes through the relayer, and archives land in S3.
type Dependencies struct {
	Markets   domain.MarketStore
	Orders    domain.OrderStore
	Fills     domain.FillStore
	Positions domain.PositionStore
	Audit     domain.AuditStore

	Prices  domain.PriceCache
	Limiter domain.RateLimiter
	Locks   domain.LockManager
	Bus     domain.SignalBus

	Backend   settlement.Backend
	Allowance domain.AllowanceChecker
	Source    feed.Source
	Archiver  keeper.Archiver
	Notifier  *notify.Notifier
	Signer    *crypto.Signer
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	switch cfg.Mode {
	case "sim":
		if err := wireSim(deps); err != nil {
			cleanup()
			return nil, nil, err
		}
	case "live":
		var err error
		closers, err = wireLive(ctx, cfg, deps, closers, logger)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
	default:
		return nil, nil, fmt.Errorf("wire: unsupported mode %q", cfg.Mode)
	}

	// Feed: price staleness past the quote interval means the source is down
	// and the maker falls back to quoting off the strike.
	deps.Source = feed.NewCacheSource(deps.Prices, 4*cfg.Maker.RequoteInterval.Duration)

	// Maker identity. Live mode requires an operator-provided key; sim mode
	// generates an ephemeral one.
	if cfg.Maker.Enabled {
		key := cfg.Maker.SigningKey
		if key == "" {
			_, priv, err := ed25519.GenerateKey(nil)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: generate maker key: %w", err)
			}
			key = base58.Encode(priv)
		}
		signer, err := crypto.NewSigner(key)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: maker signer: %w", err)
		}
		deps.Signer = signer
	}

	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.New(senders, logger)

	return deps, cleanup, nil
}

// wireSim builds the fully in-process variant: memory stores and caches plus
// the deterministic settlement simulator.
func wireSim(deps *Dependencies) error {
	deps.Markets = memory.NewMarketStore()
	deps.Orders = memory.NewOrderStore()
	deps.Fills = memory.NewFillStore()
	deps.Positions = memory.NewPositionStore()
	deps.Audit = memory.NewAuditStore()

	deps.Prices = memory.NewPriceCache()
	deps.Limiter = memory.NewRateLimiter()
	deps.Locks = memory.NewLockManager()
	deps.Bus = memory.NewSignalBus()

	sim := relayer.NewSimulator()
	deps.Backend = sim
	deps.Allowance = sim
	return nil
}

// wireLive connects Postgres, Redis, the relayer, and (optionally) S3.
func wireLive(ctx context.Context, cfg *config.Config, deps *Dependencies, closers []func(), logger *slog.Logger) ([]func(), error) {
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
		return closers, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			return closers, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.Markets = postgres.NewMarketStore(pool)
	deps.Orders = postgres.NewOrderStore(pool)
	deps.Fills = postgres.NewFillStore(pool)
	deps.Positions = postgres.NewPositionStore(pool)
	deps.Audit = postgres.NewAuditStore(pool)

	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		return closers, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.Prices = redis.NewPriceCache(redisClient)
	deps.Limiter = redis.NewRateLimiter(redisClient)
	deps.Locks = redis.NewLockManager(redisClient)
	deps.Bus = redis.NewSignalBus(redisClient)

	relayerClient := relayer.NewClient(cfg.Relayer.BaseURL, cfg.Relayer.Timeout.Duration, logger)
	deps.Backend = relayerClient
	deps.Allowance = relayerClient

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
			return closers, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			deps.Orders,
			deps.Fills,
			deps.Positions,
			deps.Audit,
		)
	}

	return closers, nil
}
