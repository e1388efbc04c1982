package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/rshade/memctl/internal/engine"
	"github.com/rshade/memctl/internal/engine/batch"
	"github.com/rshade/memctl/internal/logging"
)

// newCompactCmd creates the compact command.
func newCompactCmd(flags *GlobalFlags) *cobra.Command {
	var (
		file         string
		instructions string
		output       string
	)

	cmd := &cobra.Command{
		Use:   "compact [block-id...]",
		Short: "Compact memory blocks in one service call",
		Long: `Compacts the listed memory blocks. The service handles all blocks in a
single call and reports nothing until it returns, so progress shown while
it runs is an estimate. Cancelling abandons the call.`,
		Example: `  # Compact three blocks
  memctl compact block-1 block-2 block-3

  # Compact blocks from a file with custom instructions
  memctl compact --file blocks.txt --instructions "keep decisions and dates"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateFormat(output); err != nil {
				return err
			}
			targets, err := collectTargets(cmd, args, file)
			if err != nil {
				return err
			}
			if len(targets) == 0 {
				return engine.ErrEmptyTargets
			}
			return runCompact(cmd, flags, targets, instructions, output)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "file with one block id per line, - for stdin")
	cmd.Flags().StringVar(&instructions, "instructions", "", "compaction instructions passed to the service")
	cmd.Flags().StringVar(&output, "output", formatTable, "Output format: table, json, ndjson")

	return cmd
}

func runCompact(cmd *cobra.Command, flags *GlobalFlags, targets []string, instructions, output string) error {
	ctx := commandContext(cmd)
	s, err := newSession(ctx, flags)
	if err != nil {
		return err
	}
	defer s.close(ctx)

	logging.FromContext(ctx).Info().Ctx(ctx).
		Int("targets", len(targets)).
		Bool("custom_instructions", instructions != "").
		Msg("compacting blocks")

	sum, runErr := runWithProgress(cmd, flags, "compaction", len(targets),
		func(ctx context.Context, onProgress batch.ProgressCallback, tok *batch.Token) (*engine.Summary, error) {
			return s.ctrl.RunCompaction(ctx, targets, instructions, engine.RunOptions{
				OnProgress: onProgress,
				Token:      tok,
			})
		})
	return finishOperation(cmd, sum, runErr, output)
}
