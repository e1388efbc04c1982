package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rshade/memctl/internal/config"
)

// newDefaultTarget returns a Config with non-default values so tests can
// tell untouched sections from replaced ones.
func newDefaultTarget(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("MEMCTL_HOME", t.TempDir())
	cfg := config.Defaults(t.TempDir())
	cfg.Remote.BaseURL = "https://memory.example.com"
	cfg.Batch.BatchSize = 50
	cfg.Logging.Level = "warn"
	cfg.Cache.TTLSeconds = 60
	return cfg
}

func writeOverlay(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "overlay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestShallowMergeYAML_SingleKeyOverride(t *testing.T) {
	target := newDefaultTarget(t)
	overlay := writeOverlay(t, `
batch:
  batch_size: 100
  max_concurrent: 8
`)

	require.NoError(t, config.ShallowMergeYAML(target, overlay))

	assert.Equal(t, 100, target.Batch.BatchSize)
	assert.Equal(t, 8, target.Batch.MaxConcurrent)

	// Other sections are untouched.
	assert.Equal(t, "https://memory.example.com", target.Remote.BaseURL)
	assert.Equal(t, "warn", target.Logging.Level)
	assert.Equal(t, 60, target.Cache.TTLSeconds)
}

func TestShallowMergeYAML_OmittedFieldsTakeBuiltinDefaults(t *testing.T) {
	target := newDefaultTarget(t)
	overlay := writeOverlay(t, `
remote:
  requests_per_second: 2
`)

	require.NoError(t, config.ShallowMergeYAML(target, overlay))

	assert.InDelta(t, 2.0, target.Remote.RequestsPerSecond, 0.0001)
	assert.Equal(t, config.DefaultBaseURL, target.Remote.BaseURL,
		"the whole section is replaced, omitted fields fall back to built-in defaults")
}

func TestShallowMergeYAML_Durations(t *testing.T) {
	target := newDefaultTarget(t)
	overlay := writeOverlay(t, `
batch:
  tick_interval: 250ms
  sim_per_item: 3s
  sim_floor: 20s
`)

	require.NoError(t, config.ShallowMergeYAML(target, overlay))

	sim := target.Batch.Simulated()
	assert.Equal(t, 250*time.Millisecond, sim.TickInterval)
	assert.Equal(t, 3*time.Second, sim.PerItem)
	assert.Equal(t, 20*time.Second, sim.Floor)
	assert.Equal(t, 200, target.Batch.BatchSize)
}

func TestShallowMergeYAML_EmptyAndCommentOnly(t *testing.T) {
	for name, content := range map[string]string{
		"empty":        "",
		"comment only": "# nothing here\n",
	} {
		t.Run(name, func(t *testing.T) {
			target := newDefaultTarget(t)
			require.NoError(t, config.ShallowMergeYAML(target, writeOverlay(t, content)))
			assert.Equal(t, 50, target.Batch.BatchSize)
		})
	}
}

func TestShallowMergeYAML_UnknownKeysIgnored(t *testing.T) {
	target := newDefaultTarget(t)
	overlay := writeOverlay(t, `
agents:
  default: helper
logging:
  level: debug
`)

	require.NoError(t, config.ShallowMergeYAML(target, overlay))
	assert.Equal(t, "debug", target.Logging.Level)
}

func TestShallowMergeYAML_Errors(t *testing.T) {
	target := newDefaultTarget(t)

	err := config.ShallowMergeYAML(target, writeOverlay(t, "batch: [unclosed"))
	require.Error(t, err)

	err = config.ShallowMergeYAML(target, filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)

	err = config.ShallowMergeYAML(nil, "unused")
	require.Error(t, err)
}
