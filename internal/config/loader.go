package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies DEGEN_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load. An empty path skips the
// file and uses defaults plus environment only.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known DEGEN_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setInt64(&cfg.Engine.MakerFeeBps, "DEGEN_ENGINE_MAKER_FEE_BPS")
	setInt64(&cfg.Engine.TakerFeeBps, "DEGEN_ENGINE_TAKER_FEE_BPS")

	// ── Maker ──
	setBool(&cfg.Maker.Enabled, "DEGEN_MAKER_ENABLED")
	setStr(&cfg.Maker.SigningKey, "DEGEN_MAKER_SIGNING_KEY")
	setDuration(&cfg.Maker.RequoteInterval, "DEGEN_MAKER_REQUOTE_INTERVAL")
	setInt64(&cfg.Maker.SpreadTicks, "DEGEN_MAKER_SPREAD_TICKS")
	setInt(&cfg.Maker.Levels, "DEGEN_MAKER_LEVELS")
	setInt64(&cfg.Maker.StepTicks, "DEGEN_MAKER_STEP_TICKS")
	setInt64(&cfg.Maker.SizeUnits, "DEGEN_MAKER_SIZE_UNITS")
	setInt64(&cfg.Maker.SkewTicksPerContract, "DEGEN_MAKER_SKEW_TICKS_PER_CONTRACT")
	setInt64(&cfg.Maker.MaxSkewTicks, "DEGEN_MAKER_MAX_SKEW_TICKS")

	// ── Keeper ──
	setBool(&cfg.Keeper.Enabled, "DEGEN_KEEPER_ENABLED")
	setDuration(&cfg.Keeper.SweepInterval, "DEGEN_KEEPER_SWEEP_INTERVAL")

	// ── Settlement ──
	setDuration(&cfg.Settlement.ScanInterval, "DEGEN_SETTLEMENT_SCAN_INTERVAL")
	setInt(&cfg.Settlement.BatchSize, "DEGEN_SETTLEMENT_BATCH_SIZE")

	// ── Limits ──
	setInt(&cfg.Limits.SubmitPerWindow, "DEGEN_LIMITS_SUBMIT_PER_WINDOW")
	setDuration(&cfg.Limits.Window, "DEGEN_LIMITS_WINDOW")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "DEGEN_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "DEGEN_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "DEGEN_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "DEGEN_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "DEGEN_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "DEGEN_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "DEGEN_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "DEGEN_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "DEGEN_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "DEGEN_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "DEGEN_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "DEGEN_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "DEGEN_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "DEGEN_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "DEGEN_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "DEGEN_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "DEGEN_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "DEGEN_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "DEGEN_S3_REGION")
	setStr(&cfg.S3.Bucket, "DEGEN_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "DEGEN_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "DEGEN_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "DEGEN_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "DEGEN_S3_FORCE_PATH_STYLE")

	// ── Relayer ──
	setStr(&cfg.Relayer.BaseURL, "DEGEN_RELAYER_BASE_URL")
	setDuration(&cfg.Relayer.Timeout, "DEGEN_RELAYER_TIMEOUT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "DEGEN_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "DEGEN_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "DEGEN_NOTIFY_DISCORD_WEBHOOK_URL")

	// ── Top-level ──
	setStr(&cfg.Mode, "DEGEN_MODE")
	setStr(&cfg.LogLevel, "DEGEN_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.

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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
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
