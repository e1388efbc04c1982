package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/rshade/memctl/internal/engine"
	"github.com/rshade/memctl/internal/engine/batch"
	"github.com/rshade/memctl/internal/logging"
)

// newKeywordsCmd creates the keywords command group.
func newKeywordsCmd(flags *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{Use: "keywords", Short: "Keyword generation commands"}
	cmd.AddCommand(newKeywordsGenerateCmd(flags))
	return cmd
}

func newKeywordsGenerateCmd(flags *GlobalFlags) *cobra.Command {
	var (
		file      string
		batchSize int
		output    string
	)

	cmd := &cobra.Command{
		Use:   "generate [block-id...]",
		Short: "Generate keywords for memory blocks in chunks",
		Long: `Generates keywords for every listed memory block. Blocks are sent to the
service in chunks, one chunk at a time, and progress is reported after each
chunk. Press c (or Ctrl-C) to cancel: this aborts the chunk in flight,
discards its result and sends no further chunks.`,
		Example: `  # Generate keywords for two blocks
  memctl keywords generate block-1 block-2

  # Read block ids from a file, 100 per request
  memctl keywords generate --file blocks.txt --batch-size 100

  # Read block ids from stdin and print the outcomes as NDJSON
  cat blocks.txt | memctl keywords generate --file - --output ndjson`,
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
			return runKeywords(cmd, flags, targets, batchSize, output)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "file with one block id per line, - for stdin")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "blocks per request (default from config)")
	cmd.Flags().StringVar(&output, "output", formatTable, "Output format: table, json, ndjson")

	return cmd
}

func runKeywords(cmd *cobra.Command, flags *GlobalFlags, targets []string, batchSize int, output string) error {
	ctx := commandContext(cmd)
	s, err := newSession(ctx, flags)
	if err != nil {
		return err
	}
	defer s.close(ctx)

	log := logging.FromContext(ctx)
	log.Info().Ctx(ctx).
		Int("targets", len(targets)).
		Int("batch_size", batchSize).
		Msg("generating keywords")

	sum, runErr := runWithProgress(cmd, flags, "keywords", len(targets),
		func(ctx context.Context, onProgress batch.ProgressCallback, tok *batch.Token) (*engine.Summary, error) {
			return s.ctrl.RunBatched(ctx, targets, engine.RunOptions{
				BatchSize:  batchSize,
				OnProgress: onProgress,
				Token:      tok,
			})
		})
	return finishOperation(cmd, sum, runErr, output)
}
