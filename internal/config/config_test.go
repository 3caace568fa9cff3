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
	assert.NoError(t, cfg.Validate())
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
mode = "run"
log_level = "debug"

[cache]
ttl = "3s"

[scanner]
interval = "10s"

[exchanges.kraken]
feed = "poll"
rest_url = "https://api.example.com/ticker"
symbols = ["BTCUSDT"]
poll_interval = "2s"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "run", cfg.Mode)
	assert.Equal(t, 3*time.Second, cfg.Cache.TTL.Duration)
	assert.Equal(t, 10*time.Second, cfg.Scanner.Interval.Duration)
	// Defaults survive where the file is silent.
	assert.Equal(t, 60, cfg.Cache.HistorySize)
	assert.Equal(t, 0.75, cfg.Aggregator.StrongBuyBand)

	kraken, ok := cfg.Exchanges["kraken"]
	require.True(t, ok)
	assert.Equal(t, "poll", kraken.Feed)
	assert.Equal(t, 2*time.Second, kraken.PollInterval.Duration)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SIGNALMESH_MODE", "scan")
	t.Setenv("SIGNALMESH_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("SIGNALMESH_SERVER_PORT", "9000")
	t.Setenv("SIGNALMESH_NOTIFY_EVENTS", "mission.dispatched, position.closed")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, "scan", cfg.Mode)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, []string{"mission.dispatched", "position.closed"}, cfg.Notify.Events)
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "bogus"
	cfg.Cache.TTL.Duration = 0
	cfg.Scanner.DeRiskDropPct = 2
	cfg.Dispatch.GatePolicy = "maybe"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "ttl must be positive")
	assert.Contains(t, err.Error(), "derisk_drop_pct")
	assert.Contains(t, err.Error(), "gate_policy")
}

func TestValidatePushFeedRequiresURLAndSymbols(t *testing.T) {
	cfg := Defaults()
	cfg.Exchanges["custom"] = ExchangeConfig{Feed: "push"}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ws_url is required")
	assert.Contains(t, err.Error(), "symbols must not be empty")
}

func TestValidateProviderWeightSum(t *testing.T) {
	cfg := Defaults()
	cfg.Aggregator.ProviderWeights = map[string]float64{"momentum": 0.8, "spread": 0.5}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider_weights sum")
}

func TestValidateArchivalNeedsPostgres(t *testing.T) {
	cfg := Defaults()
	cfg.S3.Enabled = true
	cfg.S3.Bucket = "archives"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires postgres")
}
