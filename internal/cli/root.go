package cli

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/rshade/memctl/internal/config"
	"github.com/rshade/memctl/internal/engine/cache"
	"github.com/rshade/memctl/internal/logging"
)

// isTerminal checks if the given file is a terminal.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// logger is the package-level logger for CLI operations.
var logger zerolog.Logger //nolint:gochecknoglobals // Required for zerolog context integration

// GlobalFlags are the persistent flags shared by every command.
type GlobalFlags struct {
	Debug            bool
	ProjectDir       string
	BaseURL          string
	CacheTTL         string
	NoCache          bool
	DryRun           bool
	Plain            bool
	SkipVersionCheck bool
}

// NewRootCmd creates the root Cobra command for the memctl CLI.
func NewRootCmd(ver string) *cobra.Command {
	return NewRootCmdWithEnv(ver, os.LookupEnv)
}

// NewRootCmdWithEnv creates the root command with an explicit environment
// lookup for testability.
func NewRootCmdWithEnv(ver string, lookupEnv func(string) (string, bool)) *cobra.Command {
	var (
		flags     GlobalFlags
		logResult *logging.LogPathResult
	)

	cmd := &cobra.Command{
		Use:           "memctl",
		Short:         "Bulk operations for agent memory",
		Long:          "memctl: generate keywords, compact memory blocks and apply suggestions in bulk",
		Version:       ver,
		Example:       rootCmdExample,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if _, ok := lookupEnv("MEMCTL_PLAIN"); ok {
				flags.Plain = true
			}

			cwd, _ := os.Getwd()
			projectDir := config.ResolveProjectDir(cmd.Context(), flags.ProjectDir, cwd)
			config.SetResolvedProjectDir(projectDir)
			config.InitGlobalConfigWithProject(cmd.Context(), projectDir)

			if err := applyFlagOverrides(cmd, &flags); err != nil {
				return err
			}

			result := setupLogging(cmd, flags.Debug)
			logResult = &result
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return cleanupLogging(cmd, logResult)
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %w", ErrUsage, err)
	})

	pf := cmd.PersistentFlags()
	pf.BoolVar(&flags.Debug, "debug", false, "enable debug logging")
	pf.StringVar(&flags.ProjectDir, "project-dir", "", "project directory holding a .memctl overlay config")
	pf.StringVar(&flags.BaseURL, "base-url", "", "memory service base URL (overrides config and MEMCTL_BASE_URL)")
	pf.StringVar(&flags.CacheTTL, "cache-ttl", "", "suggestion cache TTL in seconds or as a duration, 0 disables")
	pf.BoolVar(&flags.NoCache, "no-cache", false, "bypass the suggestion cache")
	pf.BoolVar(&flags.DryRun, "dry-run", false, "run against an in-process backend instead of the service")
	pf.BoolVar(&flags.Plain, "plain", false, "print progress lines instead of the interactive monitor")
	pf.BoolVar(&flags.SkipVersionCheck, "skip-version-check", false, "skip the service version compatibility check")

	cmd.AddCommand(
		newKeywordsCmd(&flags),
		newCompactCmd(&flags),
		newSuggestionsCmd(&flags),
		newHistoryCmd(),
		newCacheCmd(),
		newConfigCmd(),
	)

	return cmd
}

// applyFlagOverrides copies explicitly set flags onto the global config.
// CLI flags win over the config file and environment.
func applyFlagOverrides(cmd *cobra.Command, flags *GlobalFlags) error {
	cfg := config.GetGlobalConfig()
	if cfg == nil {
		return nil
	}

	if cmd.Flags().Changed("base-url") {
		cfg.Remote.BaseURL = flags.BaseURL
	}
	if cmd.Flags().Changed("cache-ttl") {
		ttl, err := cache.ParseTTL(flags.CacheTTL)
		if err != nil {
			return fmt.Errorf("%w: --cache-ttl: %w", ErrUsage, err)
		}
		cfg.Cache.TTLSeconds = ttl
	}
	if flags.NoCache {
		cfg.Cache.Enabled = false
	}
	return nil
}

const rootCmdExample = `  # Generate keywords for every block listed in a file
  memctl keywords generate --file blocks.txt

  # Compact three blocks with custom instructions
  memctl compact block-1 block-2 block-3 --instructions "keep decisions"

  # List pending suggestions as JSON
  memctl suggestions list --status pending --output json

  # Execute a suggestion
  memctl suggestions execute sug-123

  # Show the last 20 operations
  memctl history list --limit 20

  # Initialize configuration
  memctl config init`

// newConfigCmd creates the config command group with configuration subcommands.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Configuration management commands"}
	cmd.AddCommand(NewConfigInitCmd(), NewConfigShowCmd(), NewConfigValidateCmd())
	return cmd
}
