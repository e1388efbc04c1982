package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rshade/memctl/internal/config"
)

// NewConfigShowCmd prints the effective configuration after the project
// overlay, environment and flags have been applied.
func NewConfigShowCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Example: `  # Show the merged configuration as YAML
  memctl config show

  # Show it as JSON
  memctl config show --output json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.GetGlobalConfig()

			switch output {
			case "yaml":
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent(2)
				if err := enc.Encode(cfg); err != nil {
					return fmt.Errorf("encoding config YAML: %w", err)
				}
				return enc.Close()
			case formatJSON:
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(cfg); err != nil {
					return fmt.Errorf("encoding config JSON: %w", err)
				}
				return nil
			default:
				return fmt.Errorf("%w: unsupported output format %q (want yaml or json)", ErrUsage, output)
			}
		},
	}

	cmd.Flags().StringVar(&output, "output", "yaml", "Output format: yaml, json")

	return cmd
}

// NewConfigValidateCmd creates the config validate command.
func NewConfigValidateCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the effective configuration",
		Long: `Validates the merged configuration: batch size between 1 and 1000, at
least one concurrent compaction, a positive progress tick, a cache TTL of at
most seven days and a parseable minimum service version.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.GetGlobalConfig()
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("configuration validation failed: %w", err)
			}
			cmd.Printf("Configuration is valid\n")

			if verbose {
				cmd.Printf("  Config file:   %s\n", cfg.ConfigPath())
				if dir := config.GetResolvedProjectDir(); dir != "" {
					cmd.Printf("  Project dir:   %s\n", dir)
				}
				cmd.Printf("  Service:       %s (>= %s)\n", cfg.Remote.BaseURL, cfg.Remote.MinServiceVersion)
				cmd.Printf("  Batch size:    %d\n", cfg.Batch.BatchSize)
				cmd.Printf("  Concurrency:   %d\n", cfg.Batch.MaxConcurrent)
				cmd.Printf("  Cache TTL:     %ds (enabled: %t)\n", cfg.Cache.TTLSeconds, cfg.Cache.Enabled)
				cmd.Printf("  History file:  %s\n", cfg.History.File)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "show detailed validation information")

	return cmd
}
