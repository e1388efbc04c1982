package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/rshade/memctl/internal/config"
	"github.com/rshade/memctl/internal/engine"
	"github.com/rshade/memctl/internal/history"
	"github.com/rshade/memctl/internal/logging"
	"github.com/rshade/memctl/internal/tui"
)

// newHistoryCmd creates the history command group.
func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "history", Short: "Inspect finished operations"}
	cmd.AddCommand(newHistoryListCmd(), newHistoryClearCmd())
	return cmd
}

func newHistoryListCmd() *cobra.Command {
	var (
		kind       string
		suggestion string
		states     []string
		limit      int
		output     string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List finished operations, newest first",
		Long: `Displays the operations recorded in the local history file. This reads
local state only and does not contact the memory service.`,
		Example: `  # Show the last 20 operations
  memctl history list --limit 20

  # Show cancelled and failed keyword runs as JSON
  memctl history list --kind keywords --state cancelled --state failed --output json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateFormat(output); err != nil {
				return err
			}
			q := history.Query{
				Kind:         engine.Kind(kind),
				SuggestionID: suggestion,
				Limit:        limit,
			}
			for _, label := range states {
				st, err := parseState(label)
				if err != nil {
					return err
				}
				q.States = append(q.States, st)
			}
			return executeHistoryList(cmd, q, output)
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "filter by kind: keywords, compaction, merge, archive")
	cmd.Flags().StringVar(&suggestion, "suggestion", "", "filter by suggestion id")
	cmd.Flags().StringArrayVar(&states, "state", nil, "filter by final state (repeatable)")
	cmd.Flags().IntVar(&limit, "limit", 0, "show at most this many records (0 = all)")
	cmd.Flags().StringVar(&output, "output", formatTable, "Output format: table, json, ndjson")

	return cmd
}

func newHistoryClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete the recorded history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openHistory()
			if err != nil {
				return err
			}
			if err = store.Clear(); err != nil {
				return fmt.Errorf("clearing history: %w", err)
			}
			cmd.Printf("History cleared (%s)\n", store.FilePath())
			return nil
		},
	}
}

func openHistory() (*history.Store, error) {
	cfg := config.GetGlobalConfig()
	store, err := history.NewStore(cfg.History.File, history.DefaultMaxRecords)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}
	return store, nil
}

func parseState(label string) (engine.State, error) {
	var st engine.State
	data, _ := json.Marshal(label)
	if err := st.UnmarshalJSON(data); err != nil {
		return st, fmt.Errorf("%w: --state: %w", ErrUsage, err)
	}
	return st, nil
}

func executeHistoryList(cmd *cobra.Command, q history.Query, output string) error {
	ctx := commandContext(cmd)
	store, err := openHistory()
	if err != nil {
		return err
	}

	records, err := store.List(q)
	if err != nil {
		return fmt.Errorf("reading history: %w", err)
	}

	logging.FromContext(ctx).Debug().
		Ctx(ctx).
		Str("operation", "history_list").
		Int("record_count", len(records)).
		Msg("history retrieved")

	switch output {
	case formatJSON:
		return renderHistoryJSON(cmd.OutOrStdout(), records)
	case formatNDJSON:
		return renderHistoryNDJSON(cmd.OutOrStdout(), records)
	default:
		return renderHistoryTable(cmd.OutOrStdout(), records)
	}
}

// historyJSONOutput represents the JSON output for history.
type historyJSONOutput struct {
	Records     []history.Record `json:"records"`
	RecordCount int              `json:"record_count"`
}

func renderHistoryJSON(w io.Writer, records []history.Record) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(historyJSONOutput{Records: records, RecordCount: len(records)}); err != nil {
		return fmt.Errorf("encoding history JSON: %w", err)
	}
	return nil
}

func renderHistoryNDJSON(w io.Writer, records []history.Record) error {
	enc := json.NewEncoder(w)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encoding history NDJSON: %w", err)
		}
	}
	return nil
}

func renderHistoryTable(w io.Writer, records []history.Record) error {
	if len(records) == 0 {
		_, _ = fmt.Fprintln(w, "No operations recorded.")
		return nil
	}

	p := message.NewPrinter(language.English)
	tw := tabwriter.NewWriter(w, 0, 0, tabPadding, ' ', 0)
	fmt.Fprintln(tw, "FINISHED\tOPERATION\tKIND\tSUGGESTION\tSTATE\tPROCESSED\tOK\tFAILED\tDURATION")
	fmt.Fprintln(tw, "--------\t---------\t----\t----------\t-----\t---------\t--\t------\t--------")
	for _, r := range records {
		_, _ = p.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d/%d\t%d\t%d\t%s\n",
			r.FinishedAt.Local().Format("2006-01-02 15:04:05"),
			r.OperationID,
			r.Kind,
			r.SuggestionID,
			r.State,
			r.Processed, r.Total,
			r.Successful,
			r.Failed,
			tui.FormatETA(r.Duration()),
		)
	}
	return tw.Flush()
}
