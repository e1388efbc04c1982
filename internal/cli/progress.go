package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/rshade/memctl/internal/engine"
	"github.com/rshade/memctl/internal/engine/batch"
	"github.com/rshade/memctl/internal/tui"
)

// useMonitor reports whether the interactive monitor can run: both ends of
// the command must be a terminal and --plain must be off.
func useMonitor(cmd *cobra.Command, flags *GlobalFlags) bool {
	if flags.Plain {
		return false
	}
	in, inOK := cmd.InOrStdin().(*os.File)
	out, outOK := cmd.OutOrStdout().(*os.File)
	return inOK && outOK && isTerminal(in) && isTerminal(out)
}

// runWithProgress runs start under the interactive monitor when attached to
// a terminal, otherwise printing one progress line per snapshot to stderr.
// In both cases cancelling the command context cancels the operation.
func runWithProgress(
	cmd *cobra.Command,
	flags *GlobalFlags,
	title string,
	total int,
	start tui.StartFunc,
) (*engine.Summary, error) {
	ctx := commandContext(cmd)
	if useMonitor(cmd, flags) {
		return tui.RunMonitor(ctx, tui.MonitorOptions{
			Title:  title,
			Total:  total,
			Input:  cmd.InOrStdin(),
			Output: cmd.OutOrStdout(),
		}, start)
	}

	tok := batch.NewToken(ctx)
	lines := newProgressPrinter(cmd.ErrOrStderr(), title)
	return start(ctx, lines.print, tok)
}

// progressPrinter writes plain progress lines such as
// "keywords: 400 / 450 (88.9%) ETA 1s".
type progressPrinter struct {
	w       io.Writer
	title   string
	printer *message.Printer

	mu   sync.Mutex
	last int
}

func newProgressPrinter(w io.Writer, title string) *progressPrinter {
	return &progressPrinter{
		w:       w,
		title:   title,
		printer: message.NewPrinter(language.English),
		last:    -1,
	}
}

// print skips simulated snapshots that did not move.
func (p *progressPrinter) print(s batch.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s.Source == batch.SourceSimulated && s.Processed == p.last {
		return
	}
	p.last = s.Processed

	line := p.printer.Sprintf("%s: %d / %d (%.1f%%)", p.title, s.Processed, s.Total, s.PercentComplete())
	if !s.Done() && (s.Processed > 0 || s.Source == batch.SourceSimulated) {
		line += " ETA " + tui.FormatETA(s.ETA)
	}
	if s.Source == batch.SourceSimulated {
		line += " (estimated)"
	}
	_, _ = fmt.Fprintln(p.w, line)
}

// finishOperation renders the summary and turns a cancelled run into an
// error so the process exits with the cancellation code.
func finishOperation(cmd *cobra.Command, sum *engine.Summary, runErr error, format string) error {
	if runErr != nil {
		return runErr
	}
	if sum == nil {
		return nil
	}
	if err := renderSummary(cmd.OutOrStdout(), sum, format); err != nil {
		return err
	}
	if sum.Cancelled {
		return fmt.Errorf("operation %s: %w", sum.OperationID, engine.ErrCancelled)
	}
	return nil
}

// commandContext returns the command's context, falling back to Background
// for commands invoked outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
