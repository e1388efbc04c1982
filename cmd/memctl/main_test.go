package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rshade/memctl/internal/cli"
	"github.com/rshade/memctl/internal/config"
	"github.com/rshade/memctl/pkg/version"
)

func setupMainTest(t *testing.T) {
	t.Helper()
	t.Setenv("MEMCTL_HOME", t.TempDir())
	t.Setenv("MEMCTL_PROJECT_DIR", t.TempDir())
	t.Setenv("MEMCTL_LOG_LEVEL", "error")
	t.Cleanup(func() {
		config.ResetGlobalConfigForTest()
		config.SetResolvedProjectDir("")
	})
}

func TestRun(t *testing.T) {
	t.Run("help", func(t *testing.T) {
		setupMainTest(t)
		assert.Equal(t, cli.ExitOK, run([]string{"--help"}))
	})

	t.Run("dry run keywords", func(t *testing.T) {
		setupMainTest(t)
		assert.Equal(t, cli.ExitOK, run([]string{"--dry-run", "keywords", "generate", "block-main"}))
	})

	t.Run("no targets is a usage error", func(t *testing.T) {
		setupMainTest(t)
		assert.Equal(t, cli.ExitUsage, run([]string{"--dry-run", "keywords", "generate"}))
	})

	t.Run("unknown command", func(t *testing.T) {
		setupMainTest(t)
		assert.Equal(t, cli.ExitFailure, run([]string{"defragment"}))
	})
}

func TestMainComponents(t *testing.T) {
	t.Run("version available", func(t *testing.T) {
		assert.NotEmpty(t, version.GetVersion())
	})

	t.Run("cli root command", func(t *testing.T) {
		root := cli.NewRootCmd(version.GetVersion())
		if assert.NotNil(t, root) {
			assert.Equal(t, "memctl", root.Use)
			assert.Equal(t, version.GetVersion(), root.Version)
		}
	})
}
