package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "sim", cfg.Mode)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "live"
log_level = "debug"

[engine]
maker_fee_bps = 25
taker_fee_bps = 50

[maker]
signing_key = "test-key"
requote_interval = "2s"

[postgres]
host = "db.internal"
password = "hunter2"

[relayer]
base_url = "http://relayer.internal:8900"
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "live", cfg.Mode)
	assert.Equal(t, int64(25), cfg.Engine.MakerFeeBps)
	assert.Equal(t, int64(50), cfg.Engine.TakerFeeBps)
	assert.Equal(t, 2*time.Second, cfg.Maker.RequoteInterval.Duration)
	assert.Equal(t, "db.internal", cfg.Postgres.Host)
	// Untouched sections keep their defaults.
	assert.Equal(t, 5432, cfg.Postgres.Port)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)

	require.NoError(t, cfg.Validate())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DEGEN_MODE", "live")
	t.Setenv("DEGEN_POSTGRES_PASSWORD", "secret")
	t.Setenv("DEGEN_ENGINE_TAKER_FEE_BPS", "75")
	t.Setenv("DEGEN_KEEPER_SWEEP_INTERVAL", "30s")
	t.Setenv("DEGEN_MAKER_ENABLED", "false")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "live", cfg.Mode)
	assert.Equal(t, "secret", cfg.Postgres.Password)
	assert.Equal(t, int64(75), cfg.Engine.TakerFeeBps)
	assert.Equal(t, 30*time.Second, cfg.Keeper.SweepInterval.Duration)
	assert.False(t, cfg.Maker.Enabled)
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "demo"
	cfg.LogLevel = "verbose"
	cfg.Engine.TakerFeeBps = 20_000
	cfg.Settlement.BatchSize = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "unknown log_level")
	assert.Contains(t, err.Error(), "taker_fee_bps")
	assert.Contains(t, err.Error(), "batch_size")
}

func TestValidateLiveModeRequiresBackends(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "live"
	cfg.Postgres.Host = ""
	cfg.Redis.Addr = ""
	cfg.Relayer.BaseURL = ""
	cfg.Maker.SigningKey = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: host")
	assert.Contains(t, err.Error(), "redis: addr")
	assert.Contains(t, err.Error(), "relayer: base_url")
	assert.Contains(t, err.Error(), "maker: signing_key")

	t.Run("sim mode skips backend checks", func(t *testing.T) {
		cfg.Mode = "sim"
		require.NoError(t, cfg.Validate())
	})
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Maker.SigningKey = "base58-secret"
	cfg.Postgres.Password = "hunter2"
	cfg.Notify.TelegramToken = "bot-token"

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Maker.SigningKey)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Notify.TelegramToken)
	// Empty secrets stay empty, non-secrets pass through.
	assert.Empty(t, red.Redis.Password)
	assert.Equal(t, cfg.Postgres.Host, red.Postgres.Host)
	// The original is untouched.
	assert.Equal(t, "hunter2", cfg.Postgres.Password)
}
