package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"text/tabwriter"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/rshade/memctl/internal/engine"
	"github.com/rshade/memctl/internal/tui"
)

// tabPadding is the minimum column padding for tabwriter output.
const tabPadding = 2

// maxListedFailures caps the failed targets listed in table output.
const maxListedFailures = 20

// Output formats accepted by --output.
const (
	formatTable  = "table"
	formatJSON   = "json"
	formatNDJSON = "ndjson"
)

// validateFormat rejects unknown --output values before any work starts.
func validateFormat(format string) error {
	switch format {
	case formatTable, formatJSON, formatNDJSON:
		return nil
	default:
		return fmt.Errorf("%w: unsupported output format %q (want table, json or ndjson)", ErrUsage, format)
	}
}

// renderSummary writes sum in the requested format.
func renderSummary(w io.Writer, sum *engine.Summary, format string) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(sum); err != nil {
			return fmt.Errorf("encoding summary JSON: %w", err)
		}
		return nil
	case formatNDJSON:
		enc := json.NewEncoder(w)
		for _, o := range sum.Outcomes {
			if err := enc.Encode(o); err != nil {
				return fmt.Errorf("encoding summary NDJSON: %w", err)
			}
		}
		return nil
	default:
		return renderSummaryTable(w, sum)
	}
}

func renderSummaryTable(w io.Writer, sum *engine.Summary) error {
	p := message.NewPrinter(language.English)

	status := "completed"
	if sum.Cancelled {
		status = "cancelled"
	}
	_, _ = p.Fprintf(w, "%s %s: %d of %d targets processed (%d ok, %d failed) in %s\n",
		sum.Kind, status, sum.TotalProcessed, sum.Total, sum.SuccessfulCount, sum.FailedCount,
		tui.FormatETA(sum.Duration()))
	if sum.Result != nil && sum.Result.Summary != "" {
		_, _ = fmt.Fprintf(w, "%s\n", sum.Result.Summary)
	}
	if sum.Result != nil && sum.Result.Metrics.CharsBefore > 0 {
		_, _ = p.Fprintf(w, "characters: %d -> %d\n", sum.Result.Metrics.CharsBefore, sum.Result.Metrics.CharsAfter)
	}

	failed := slices.DeleteFunc(slices.Clone(sum.Outcomes), func(o engine.Outcome) bool { return o.Success })
	if len(failed) == 0 {
		return nil
	}

	_, _ = fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, tabPadding, ' ', 0)
	fmt.Fprintln(tw, "TARGET\tERROR")
	fmt.Fprintln(tw, "------\t-----")
	for i, o := range failed {
		if i == maxListedFailures {
			_, _ = p.Fprintf(tw, "...\t%d more\n", len(failed)-maxListedFailures)
			break
		}
		fmt.Fprintf(tw, "%s\t%s\n", o.Target, o.Error)
	}
	return tw.Flush()
}
