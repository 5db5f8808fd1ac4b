package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/bitunixbot/internal/blob/s3"
	"github.com/alanyoungcy/bitunixbot/internal/cache/redis"
	"github.com/alanyoungcy/bitunixbot/internal/config"
	"github.com/alanyoungcy/bitunixbot/internal/crypto"
	"github.com/alanyoungcy/bitunixbot/internal/domain"
	"github.com/alanyoungcy/bitunixbot/internal/notify"
	"github.com/alanyoungcy/bitunixbot/internal/platform/bitunix"
	"github.com/alanyoungcy/bitunixbot/internal/server/handler"
	"github.com/alanyoungcy/bitunixbot/internal/state"
	"github.com/alanyoungcy/bitunixbot/internal/store/postgres"
)

// Dependencies bundles every dependency the application needs to operate. It
// is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Exchange access
	Exchange *bitunix.Client
	Stream   *bitunix.Stream

	// Stores
	PositionStateStore domain.PositionStateStore
	PnLStore           domain.PnLStore
	AuditStore         domain.SignalAuditStore

	// Caches
	StateCache  domain.StateCache
	LockManager domain.LockManager
	Limiter     domain.SignalLimiter
	LossBuffer  domain.LossBufferStore

	// StateStore is the two-tier store composed over StateCache and
	// PositionStateStore.
	StateStore domain.StateStore

	// Blob archiving, nil unless S3 is enabled.
	Archiver *s3blob.Archiver

	// Notifications
	Notifier *notify.Notifier

	// HealthChecks feeds the health endpoint.
	HealthChecks map[string]handler.Pinger
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

	deps := &Dependencies{
		HealthChecks: make(map[string]handler.Pinger),
	}

	// --- Exchange credentials ---
	secret, err := crypto.LoadSecret(crypto.SecretConfig{
		RawSecret:           cfg.Bitunix.ApiSecret,
		EncryptedSecretPath: cfg.Bitunix.EncryptedSecretPath,
		SecretPassword:      cfg.Bitunix.SecretPassword,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("wire: api secret: %w", err)
	}
	auth := &crypto.Auth{Key: cfg.Bitunix.ApiKey, Secret: secret}

	deps.Exchange = bitunix.NewClient(cfg.Bitunix.BaseURL, auth)
	deps.Stream = bitunix.NewStream(cfg.Bitunix.WsURL, auth, logger)

	// --- PostgreSQL ---
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
	deps.PositionStateStore = postgres.NewPositionStateStore(pool)
	deps.PnLStore = postgres.NewPnLStore(pool)
	deps.AuditStore = postgres.NewSignalAuditStore(pool)
	deps.HealthChecks["postgres"] = pool

	// --- Redis ---
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

	deps.StateCache = redis.NewStateCache(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient, logger)
	deps.Limiter = redis.NewSignalLimiter(redisClient, logger)
	deps.LossBuffer = redis.NewLossBufferStore(redisClient)
	deps.HealthChecks["redis"] = redisClient

	deps.StateStore = state.New(deps.StateCache, deps.PositionStateStore, logger)

	// --- S3 blob storage (archiving only) ---
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

		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			deps.PnLStore,
			deps.AuditStore,
			cfg.S3.Retention.Duration,
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
	deps.Notifier = notify.New(senders, logger)

	return deps, cleanup, nil
}
