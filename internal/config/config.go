// Package config defines the top-level configuration for the bitunix bot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by BITUNIX_* environment variables.
type Config struct {
	Bitunix  BitunixConfig  `toml:"bitunix"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	Trading  TradingConfig  `toml:"trading"`
	Recon    ReconConfig    `toml:"recon"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	LogLevel string         `toml:"log_level"`
}

// BitunixConfig holds Bitunix exchange credentials and endpoints. The API
// secret comes either from api_secret directly or from an encrypted file
// unlocked with secret_password.
type BitunixConfig struct {
	ApiKey              string `toml:"api_key"`
	ApiSecret           string `toml:"api_secret"`
	EncryptedSecretPath string `toml:"encrypted_secret_path"`
	SecretPassword      string `toml:"secret_password"`
	BaseURL             string `toml:"base_url"`
	WsURL               string `toml:"ws_url"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// TradingConfig holds position sizing and risk parameters.
type TradingConfig struct {
	// DefaultQty sizes entries whose alert carried no quantity override.
	DefaultQty float64 `toml:"default_qty"`
	// MaxDailyLoss halts new admissions once the day's realized net P&L
	// falls below its negative. Zero disables the breaker.
	MaxDailyLoss float64 `toml:"max_daily_loss"`
	// AutoAdjustProtective clamps protective prices to the nearest valid
	// level instead of rejecting when the market has moved past them.
	AutoAdjustProtective bool `toml:"auto_adjust_protective"`
}

// ReconConfig holds reconciliation sweep parameters.
type ReconConfig struct {
	Interval duration `toml:"interval"`
}

// S3Config holds S3-compatible object storage parameters for archiving.
type S3Config struct {
	Enabled        bool     `toml:"enabled"`
	Endpoint       string   `toml:"endpoint"`
	Region         string   `toml:"region"`
	Bucket         string   `toml:"bucket"`
	AccessKey      string   `toml:"access_key"`
	SecretKey      string   `toml:"secret_key"`
	UseSSL         bool     `toml:"use_ssl"`
	ForcePathStyle bool     `toml:"force_path_style"`
	Retention      duration `toml:"retention"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port   int    `toml:"port"`
	ApiKey string `toml:"api_key"`
}

// NotifyConfig holds notification channel parameters. A channel is active
// when its credentials are set.
type NotifyConfig struct {
	TelegramToken     string `toml:"telegram_token"`
	TelegramChatID    string `toml:"telegram_chat_id"`
	DiscordWebhookURL string `toml:"discord_webhook_url"`
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

// Defaults returns a Config populated with sane defaults for every field that
// has one.
func Defaults() Config {
	return Config{
		Bitunix: BitunixConfig{
			BaseURL: "https://fapi.bitunix.com",
			WsURL:   "wss://fapi.bitunix.com/private/",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "bitunixbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   10,
			MaxRetries: 3,
		},
		Trading: TradingConfig{
			DefaultQty:           0.01,
			MaxDailyLoss:         0,
			AutoAdjustProtective: true,
		},
		Recon: ReconConfig{
			Interval: duration{5 * time.Minute},
		},
		S3: S3Config{
			Region:    "us-east-1",
			UseSSL:    true,
			Retention: duration{30 * 24 * time.Hour},
		},
		Server: ServerConfig{
			Port: 8080,
		},
		LogLevel: "info",
	}
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the configuration for internal consistency and returns a
// single error aggregating every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Bitunix.ApiKey == "" {
		errs = append(errs, "bitunix: api_key must be set")
	}
	if c.Bitunix.ApiSecret == "" && c.Bitunix.EncryptedSecretPath == "" {
		errs = append(errs, "bitunix: either api_secret or encrypted_secret_path must be set")
	}
	if c.Bitunix.EncryptedSecretPath != "" && c.Bitunix.SecretPassword == "" {
		errs = append(errs, "bitunix: secret_password is required when encrypted_secret_path is set")
	}
	if c.Bitunix.BaseURL == "" {
		errs = append(errs, "bitunix: base_url must not be empty")
	}
	if c.Bitunix.WsURL == "" {
		errs = append(errs, "bitunix: ws_url must not be empty")
	}

	if c.Postgres.DSN == "" && c.Postgres.Host == "" {
		errs = append(errs, "postgres: either dsn or host must be set")
	}
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}

	if c.Trading.DefaultQty <= 0 {
		errs = append(errs, "trading: default_qty must be positive")
	}
	if c.Trading.MaxDailyLoss < 0 {
		errs = append(errs, "trading: max_daily_loss must not be negative")
	}

	if c.Recon.Interval.Duration <= 0 {
		errs = append(errs, "recon: interval must be positive")
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must be set when s3 is enabled")
		}
		if c.S3.Retention.Duration <= 0 {
			errs = append(errs, "s3: retention must be positive when s3 is enabled")
		}
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port %d out of range", c.Server.Port))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
