package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rshade/memctl/internal/engine"
	"github.com/rshade/memctl/internal/engine/batch"
	"github.com/rshade/memctl/internal/logging"
	"github.com/rshade/memctl/internal/remote"
)

// maxTitleLen truncates titles in table output.
const maxTitleLen = 40

// newSuggestionsCmd creates the suggestions command group.
func newSuggestionsCmd(flags *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{Use: "suggestions", Short: "List and execute service suggestions"}
	cmd.AddCommand(newSuggestionsListCmd(flags), newSuggestionsExecuteCmd(flags))
	return cmd
}

func newSuggestionsListCmd(flags *GlobalFlags) *cobra.Command {
	var (
		filter  remote.SuggestionFilter
		typ     string
		refresh bool
		output  string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List suggestions",
		Long: `Lists the suggestions the memory service proposes. Results are cached
for the configured TTL; use --refresh to always ask the service.`,
		Example: `  # List pending keyword suggestions
  memctl suggestions list --type keywords --status pending

  # List suggestions for one agent as JSON, bypassing the cache
  memctl suggestions list --agent agent-42 --refresh --output json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateFormat(output); err != nil {
				return err
			}
			if typ != "" {
				filter.Type = remote.SuggestionType(typ)
				if !filter.Type.Valid() {
					return fmt.Errorf("%w: unknown suggestion type %q", ErrUsage, typ)
				}
			}

			ctx := commandContext(cmd)
			s, err := newSession(ctx, flags)
			if err != nil {
				return err
			}
			defer s.close(ctx)

			list, err := s.svc.Refresh(ctx, filter, !refresh)
			if err != nil {
				return err
			}
			return renderSuggestions(cmd.OutOrStdout(), list, output)
		},
	}

	cmd.Flags().StringVar(&typ, "type", "", "filter by type: keywords, compaction, merge, archive")
	cmd.Flags().StringVar(&filter.Status, "status", "", "filter by service status, e.g. pending")
	cmd.Flags().StringVar(&filter.AgentID, "agent", "", "filter by agent id")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "ignore the cached list")
	cmd.Flags().StringVar(&output, "output", formatTable, "Output format: table, json, ndjson")

	return cmd
}

func newSuggestionsExecuteCmd(flags *GlobalFlags) *cobra.Command {
	var (
		instructions string
		refresh      bool
		output       string
	)

	cmd := &cobra.Command{
		Use:   "execute <suggestion-id>",
		Short: "Execute a suggestion",
		Long: `Executes one suggestion: keyword suggestions run in chunks with real
progress, compaction, merge and archive suggestions run as one service call
with estimated progress. A cancelled or failed run leaves the suggestion
pending so it can be retried.`,
		Example: `  # Execute a suggestion
  memctl suggestions execute sug-123

  # Execute a compaction suggestion with different instructions
  memctl suggestions execute sug-456 --instructions "keep only decisions"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateFormat(output); err != nil {
				return err
			}
			return runSuggestionExecute(cmd, flags, args[0], instructions, !refresh, output)
		},
	}

	cmd.Flags().StringVar(&instructions, "instructions", "", "override the suggestion's compaction instructions")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "ignore the cached suggestion list")
	cmd.Flags().StringVar(&output, "output", formatTable, "Output format: table, json, ndjson")

	return cmd
}

func runSuggestionExecute(
	cmd *cobra.Command,
	flags *GlobalFlags,
	id, instructions string,
	useCache bool,
	output string,
) error {
	ctx := commandContext(cmd)
	s, err := newSession(ctx, flags)
	if err != nil {
		return err
	}
	defer s.close(ctx)

	if _, err = s.svc.Refresh(ctx, remote.SuggestionFilter{}, useCache); err != nil {
		return err
	}
	sug, ok := s.svc.Suggestion(id)
	if !ok {
		return fmt.Errorf("%w: %s", engine.ErrUnknownSuggestion, id)
	}

	logging.FromContext(ctx).Info().Ctx(ctx).
		Str("suggestion_id", id).
		Str("type", string(sug.Type)).
		Int("targets", len(sug.AffectedBlocks)).
		Msg("executing suggestion")

	sum, runErr := runWithProgress(cmd, flags, string(sug.Type), len(sug.AffectedBlocks),
		func(ctx context.Context, onProgress batch.ProgressCallback, tok *batch.Token) (*engine.Summary, error) {
			return s.svc.Execute(ctx, id, engine.RunOptions{
				OnProgress: onProgress,
				Token:      tok,
			}, instructions)
		})

	if err = finishOperation(cmd, sum, runErr, output); err != nil {
		return err
	}
	if output == formatTable {
		if after, found := s.svc.Suggestion(id); found {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "suggestion %s is %s\n", id, after.Status)
		}
	}
	return nil
}

func renderSuggestions(w io.Writer, list []engine.Suggestion, format string) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		out := struct {
			Suggestions []engine.Suggestion `json:"suggestions"`
			Count       int                 `json:"count"`
		}{Suggestions: list, Count: len(list)}
		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("encoding suggestions JSON: %w", err)
		}
		return nil
	case formatNDJSON:
		enc := json.NewEncoder(w)
		for _, sug := range list {
			if err := enc.Encode(sug); err != nil {
				return fmt.Errorf("encoding suggestions NDJSON: %w", err)
			}
		}
		return nil
	}

	if len(list) == 0 {
		_, _ = fmt.Fprintln(w, "No suggestions found.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, tabPadding, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tBLOCKS\tAGENT\tTITLE")
	fmt.Fprintln(tw, "--\t----\t------\t------\t-----\t-----")
	for _, sug := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			sug.ID, sug.Type, sug.Status, len(sug.AffectedBlocks), sug.AgentID, truncate(sug.Title, maxTitleLen))
	}
	return tw.Flush()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
