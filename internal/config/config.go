// Package config defines the top-level configuration for the exchange daemon
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by DEGEN_* environment variables.
type Config struct {
	Engine     EngineConfig     `toml:"engine"`
	Maker      MakerConfig      `toml:"maker"`
	Keeper     KeeperConfig     `toml:"keeper"`
	Settlement SettlementConfig `toml:"settlement"`
	Limits     LimitsConfig     `toml:"limits"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Relayer    RelayerConfig    `toml:"relayer"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// EngineConfig holds matching engine fee parameters.
type EngineConfig struct {
	MakerFeeBps int64 `toml:"maker_fee_bps"`
	TakerFeeBps int64 `toml:"taker_fee_bps"`
}

// MakerConfig holds the bundled market-maker parameters.
type MakerConfig struct {
	Enabled bool `toml:"enabled"`

	// SigningKey is the base58-encoded ed25519 private key the maker signs
	// its own quotes with.
	SigningKey string `toml:"signing_key"`

	RequoteInterval      duration `toml:"requote_interval"`
	SpreadTicks          int64    `toml:"spread_ticks"`
	Levels               int      `toml:"levels"`
	StepTicks            int64    `toml:"step_ticks"`
	SizeUnits            int64    `toml:"size_units"`
	SkewTicksPerContract int64    `toml:"skew_ticks_per_contract"`
	MaxSkewTicks         int64    `toml:"max_skew_ticks"`
}

// KeeperConfig holds the market lifecycle sweep parameters.
type KeeperConfig struct {
	Enabled       bool     `toml:"enabled"`
	SweepInterval duration `toml:"sweep_interval"`
}

// SettlementConfig holds the fill settlement backstop parameters.
type SettlementConfig struct {
	ScanInterval duration `toml:"scan_interval"`
	BatchSize    int      `toml:"batch_size"`
}

// LimitsConfig holds per-user request throttling parameters.
type LimitsConfig struct {
	SubmitPerWindow int      `toml:"submit_per_window"`
	Window          duration `toml:"window"`
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

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// RelayerConfig holds the settlement relayer HTTP endpoint.
type RelayerConfig struct {
	BaseURL string   `toml:"base_url"`
	Timeout duration `toml:"timeout"`
}

// NotifyConfig holds notification channel credentials.
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

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			MakerFeeBps: 0,
			TakerFeeBps: 0,
		},
		Maker: MakerConfig{
			Enabled:              true,
			RequoteInterval:      duration{5 * time.Second},
			SpreadTicks:          20_000,
			Levels:               3,
			StepTicks:            10_000,
			SizeUnits:            10_000_000,
			SkewTicksPerContract: 100,
			MaxSkewTicks:         30_000,
		},
		Keeper: KeeperConfig{
			Enabled:       true,
			SweepInterval: duration{5 * time.Second},
		},
		Settlement: SettlementConfig{
			ScanInterval: duration{10 * time.Second},
			BatchSize:    100,
		},
		Limits: LimitsConfig{
			SubmitPerWindow: 30,
			Window:          duration{10 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "degen",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "degen-archive",
			ForcePathStyle: true,
		},
		Relayer: RelayerConfig{
			BaseURL: "http://localhost:8900",
			Timeout: duration{30 * time.Second},
		},
		Mode:     "sim",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"sim":  true,
	"live": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: sim, live)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Engine.MakerFeeBps < 0 || c.Engine.MakerFeeBps > 10_000 {
		errs = append(errs, fmt.Sprintf("engine: maker_fee_bps must be 0-10000, got %d", c.Engine.MakerFeeBps))
	}
	if c.Engine.TakerFeeBps < 0 || c.Engine.TakerFeeBps > 10_000 {
		errs = append(errs, fmt.Sprintf("engine: taker_fee_bps must be 0-10000, got %d", c.Engine.TakerFeeBps))
	}

	if c.Maker.Enabled {
		if c.Mode == "live" && c.Maker.SigningKey == "" {
			errs = append(errs, "maker: signing_key is required in live mode")
		}
		if c.Maker.RequoteInterval.Duration <= 0 {
			errs = append(errs, "maker: requote_interval must be > 0")
		}
		if c.Maker.Levels < 1 {
			errs = append(errs, "maker: levels must be >= 1")
		}
		if c.Maker.SizeUnits <= 0 {
			errs = append(errs, "maker: size_units must be > 0")
		}
	}

	if c.Keeper.Enabled && c.Keeper.SweepInterval.Duration <= 0 {
		errs = append(errs, "keeper: sweep_interval must be > 0")
	}

	if c.Settlement.ScanInterval.Duration <= 0 {
		errs = append(errs, "settlement: scan_interval must be > 0")
	}
	if c.Settlement.BatchSize < 1 {
		errs = append(errs, "settlement: batch_size must be >= 1")
	}

	if c.Limits.SubmitPerWindow < 1 {
		errs = append(errs, "limits: submit_per_window must be >= 1")
	}
	if c.Limits.Window.Duration <= 0 {
		errs = append(errs, "limits: window must be > 0")
	}

	// Backing services are only reached in live mode.
	if c.Mode == "live" {
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

		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}

		if c.S3.Enabled {
			if c.S3.Endpoint == "" {
				errs = append(errs, "s3: endpoint must not be empty")
			}
			if c.S3.Bucket == "" {
				errs = append(errs, "s3: bucket must not be empty")
			}
		}

		if c.Relayer.BaseURL == "" {
			errs = append(errs, "relayer: base_url must not be empty")
		}
		if c.Relayer.Timeout.Duration <= 0 {
			errs = append(errs, "relayer: timeout must be > 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
