package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies BITUNIX_* environment variable overrides, and
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

// applyEnvOverrides reads well-known BITUNIX_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Bitunix ──
	setStr(&cfg.Bitunix.ApiKey, "BITUNIX_API_KEY")
	setStr(&cfg.Bitunix.ApiSecret, "BITUNIX_API_SECRET")
	setStr(&cfg.Bitunix.EncryptedSecretPath, "BITUNIX_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Bitunix.SecretPassword, "BITUNIX_SECRET_PASSWORD")
	setStr(&cfg.Bitunix.BaseURL, "BITUNIX_BASE_URL")
	setStr(&cfg.Bitunix.WsURL, "BITUNIX_WS_URL")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "BITUNIX_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "BITUNIX_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "BITUNIX_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "BITUNIX_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "BITUNIX_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "BITUNIX_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "BITUNIX_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "BITUNIX_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "BITUNIX_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "BITUNIX_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "BITUNIX_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BITUNIX_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BITUNIX_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BITUNIX_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BITUNIX_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "BITUNIX_REDIS_TLS_ENABLED")

	// ── Trading ──
	setFloat64(&cfg.Trading.DefaultQty, "BITUNIX_TRADING_DEFAULT_QTY")
	setFloat64(&cfg.Trading.MaxDailyLoss, "BITUNIX_TRADING_MAX_DAILY_LOSS")
	setBool(&cfg.Trading.AutoAdjustProtective, "BITUNIX_TRADING_AUTO_ADJUST_PROTECTIVE")

	// ── Recon ──
	setDuration(&cfg.Recon.Interval, "BITUNIX_RECON_INTERVAL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "BITUNIX_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "BITUNIX_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "BITUNIX_S3_REGION")
	setStr(&cfg.S3.Bucket, "BITUNIX_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "BITUNIX_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "BITUNIX_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "BITUNIX_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "BITUNIX_S3_FORCE_PATH_STYLE")
	setDuration(&cfg.S3.Retention, "BITUNIX_S3_RETENTION")

	// ── Server ──
	setInt(&cfg.Server.Port, "BITUNIX_SERVER_PORT")
	setStr(&cfg.Server.ApiKey, "BITUNIX_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "BITUNIX_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "BITUNIX_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "BITUNIX_NOTIFY_DISCORD_WEBHOOK_URL")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "BITUNIX_LOG_LEVEL")
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
