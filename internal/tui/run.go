package tui

import (
	"context"
	"fmt"
	"io"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/rshade/memctl/internal/engine"
	"github.com/rshade/memctl/internal/engine/batch"
)

// StartFunc launches the operation with the monitor's progress callback and
// cancellation token and blocks until it returns.
type StartFunc func(ctx context.Context, onProgress batch.ProgressCallback, tok *batch.Token) (*engine.Summary, error)

// MonitorOptions configures RunMonitor.
type MonitorOptions struct {
	Title  string
	Total  int
	Input  io.Reader
	Output io.Writer
}

// RunMonitor runs start under an interactive progress monitor and returns
// what start returned. The user can cancel from the keyboard; cancelling
// ctx also cancels the operation.
func RunMonitor(ctx context.Context, opts MonitorOptions, start StartFunc) (*engine.Summary, error) {
	tok := batch.NewToken(ctx)
	model := NewMonitorModel(opts.Title, opts.Total, tok.Cancel)

	progOpts := []tea.ProgramOption{tea.WithContext(ctx)}
	if opts.Input != nil {
		progOpts = append(progOpts, tea.WithInput(opts.Input))
	}
	if opts.Output != nil {
		progOpts = append(progOpts, tea.WithOutput(opts.Output))
	}
	p := tea.NewProgram(model, progOpts...)

	type result struct {
		sum *engine.Summary
		err error
	}
	resCh := make(chan result, 1)
	go func() {
		sum, err := start(ctx, func(s batch.Snapshot) { p.Send(ProgressMsg{Snapshot: s}) }, tok)
		resCh <- result{sum, err}
		p.Send(DoneMsg{Summary: sum, Err: err})
	}()

	if _, err := p.Run(); err != nil {
		// The terminal went away; stop the operation and report its result.
		tok.Cancel()
		res := <-resCh
		if res.err != nil {
			return nil, res.err
		}
		if res.sum != nil {
			return res.sum, nil
		}
		return nil, fmt.Errorf("progress monitor: %w", err)
	}

	res := <-resCh
	return res.sum, res.err
}
