package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGlobalConfig(t *testing.T) {
	t.Setenv("MEMCTL_HOME", t.TempDir())
	ResetGlobalConfigForTest()
	t.Cleanup(ResetGlobalConfigForTest)

	cfg := GetGlobalConfig()
	require.NotNil(t, cfg)
	assert.Equal(t, 200, cfg.Batch.BatchSize)
	assert.Same(t, cfg, GetGlobalConfig())

	ResetGlobalConfigForTest()
	assert.NotSame(t, cfg, GetGlobalConfig())
}

func TestGetConfigDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("MEMCTL_HOME", home)

	dir, err := GetConfigDir()
	require.NoError(t, err)
	assert.Equal(t, home, dir)

	t.Setenv("MEMCTL_HOME", "")
	dir, err = GetConfigDir()
	require.NoError(t, err)
	assert.Equal(t, ".memctl", filepath.Base(dir))
}

func TestEnsureConfigDir(t *testing.T) {
	home := filepath.Join(t.TempDir(), "memctl")
	t.Setenv("MEMCTL_HOME", home)

	require.NoError(t, EnsureConfigDir())
	info, err := os.Stat(home)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestEnsureLogDir(t *testing.T) {
	t.Setenv("MEMCTL_HOME", t.TempDir())
	ResetGlobalConfigForTest()
	t.Cleanup(ResetGlobalConfigForTest)

	logFile := filepath.Join(t.TempDir(), "logs", "memctl.log")
	GetGlobalConfig().Logging.File = logFile

	require.NoError(t, EnsureLogDir())
	_, err := os.Stat(filepath.Dir(logFile))
	require.NoError(t, err)
}

func TestSetLogLevel(t *testing.T) {
	t.Cleanup(func() { SetLogLevel(DefaultLogLevel) })

	assert.Equal(t, zerolog.InfoLevel, GetLogger().GetLevel())

	SetLogLevel("debug")
	assert.Equal(t, zerolog.DebugLevel, GetLogger().GetLevel())

	gl := GetLogger()
	assert.True(t, gl.Debug().Enabled())

	SetLogLevel("bogus")
	assert.Equal(t, zerolog.InfoLevel, GetLogger().GetLevel())
}

func TestToLoggingConfig(t *testing.T) {
	lc := LoggingConfig{Level: "warn", Format: "json"}
	got := lc.ToLoggingConfig()
	assert.Equal(t, "stderr", got.Output)
	assert.Equal(t, "warn", got.Level)

	lc.File = "/var/log/memctl.log"
	got = lc.ToLoggingConfig()
	assert.Equal(t, "file", got.Output)
	assert.Equal(t, "/var/log/memctl.log", got.File)
}
