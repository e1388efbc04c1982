package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rshade/memctl/internal/config"
	"github.com/rshade/memctl/internal/engine/batch"
)

func TestDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Defaults(dir)

	assert.Equal(t, 200, cfg.Batch.BatchSize)
	assert.Equal(t, 4, cfg.Batch.MaxConcurrent)
	assert.Equal(t, time.Second, cfg.Batch.TickInterval)
	assert.Equal(t, batch.DefaultSimulatedConfig(), cfg.Batch.Simulated())
	assert.Equal(t, time.Duration(0), cfg.Remote.Timeout, "no automatic timeout by default")
	assert.Equal(t, filepath.Join(dir, "config.yaml"), cfg.ConfigPath())
	assert.Equal(t, filepath.Join(dir, "history.json"), cfg.History.File)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL())
	require.NoError(t, cfg.Validate())
}

func TestSaveAndLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	cfg := config.Defaults(dir)
	cfg.Batch.TickInterval = 500 * time.Millisecond
	cfg.Remote.BaseURL = "https://memory.example.com"
	require.NoError(t, cfg.Save())

	data, err := os.ReadFile(cfg.ConfigPath())
	require.NoError(t, err)
	assert.Contains(t, string(data), "tick_interval: 500ms")

	loaded := config.Defaults(t.TempDir())
	loaded.SetConfigPath(cfg.ConfigPath())
	require.NoError(t, loaded.Load())
	assert.Equal(t, 500*time.Millisecond, loaded.Batch.TickInterval)
	assert.Equal(t, "https://memory.example.com", loaded.Remote.BaseURL)
}

func TestLoad_Missing(t *testing.T) {
	cfg := config.Defaults(t.TempDir())
	err := cfg.Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"MEMCTL_BASE_URL":       "https://env.example.com",
		"MEMCTL_BATCH_SIZE":     "150",
		"MEMCTL_MAX_CONCURRENT": "not-a-number",
		"MEMCTL_LOG_LEVEL":      "debug",
		"MEMCTL_CACHE_ENABLED":  "false",
		"MEMCTL_CACHE_TTL":      "10m",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := config.Defaults(t.TempDir())
	cfg.ApplyEnv(lookup)

	assert.Equal(t, "https://env.example.com", cfg.Remote.BaseURL)
	assert.Equal(t, 150, cfg.Batch.BatchSize)
	assert.Equal(t, 4, cfg.Batch.MaxConcurrent, "malformed numbers are ignored")
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, 600, cfg.Cache.TTLSeconds)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"empty base url", func(c *config.Config) { c.Remote.BaseURL = "" }},
		{"negative timeout", func(c *config.Config) { c.Remote.Timeout = -time.Second }},
		{"negative rate", func(c *config.Config) { c.Remote.RequestsPerSecond = -1 }},
		{"zero batch size", func(c *config.Config) { c.Batch.BatchSize = 0 }},
		{"oversized batch", func(c *config.Config) { c.Batch.BatchSize = 5000 }},
		{"zero concurrency", func(c *config.Config) { c.Batch.MaxConcurrent = 0 }},
		{"zero tick", func(c *config.Config) { c.Batch.TickInterval = 0 }},
		{"negative floor", func(c *config.Config) { c.Batch.SimFloor = -time.Second }},
		{"negative ttl", func(c *config.Config) { c.Cache.TTLSeconds = -1 }},
		{"ttl above a week", func(c *config.Config) { c.Cache.TTLSeconds = 700000 }},
		{"bad version", func(c *config.Config) { c.Remote.MinServiceVersion = "latest" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Defaults(t.TempDir())
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, config.ErrInvalidConfig)
		})
	}
}

func TestRemoteConfig_APIToken(t *testing.T) {
	t.Setenv("MEMCTL_TEST_TOKEN", "s3cret")
	r := config.RemoteConfig{APITokenEnv: "MEMCTL_TEST_TOKEN"}
	assert.Equal(t, "s3cret", r.APIToken())
	assert.Empty(t, config.RemoteConfig{}.APIToken())
}
