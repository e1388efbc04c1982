package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/rshade/memctl/internal/engine"
	"github.com/rshade/memctl/internal/engine/batch"
)

const (
	defaultWidth = 80
	maxBarWidth  = 60
	barPadding   = 4
)

// ProgressMsg carries one snapshot from the controller to the monitor.
type ProgressMsg struct {
	Snapshot batch.Snapshot
}

// DoneMsg is sent once the operation has returned.
type DoneMsg struct {
	Summary *engine.Summary
	Err     error
}

// MonitorModel shows a live progress bar for one bulk operation. Pressing c,
// esc or ctrl+c requests cancellation; the model keeps running until the
// operation reports back so the final counts are always shown.
//
//nolint:recvcheck // Bubble Tea requires value receivers for Init/Update/View interface methods.
type MonitorModel struct {
	title    string
	total    int
	snapshot batch.Snapshot
	hasSnap  bool

	spinner spinner.Model
	bar     progress.Model
	width   int

	cancel     func()
	cancelling bool

	done    bool
	summary *engine.Summary
	err     error

	printer *message.Printer
}

// NewMonitorModel returns a monitor for an operation over total targets.
// cancel is invoked at most once when the user asks to stop.
func NewMonitorModel(title string, total int, cancel func()) MonitorModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = SpinnerStyle

	bar := progress.New(progress.WithDefaultGradient())
	bar.Width = defaultWidth - barPadding*2

	return MonitorModel{
		title:   title,
		total:   total,
		spinner: sp,
		bar:     bar,
		width:   defaultWidth,
		cancel:  cancel,
		printer: message.NewPrinter(language.English),
	}
}

// Init starts the spinner.
func (m MonitorModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles messages (Bubble Tea interface).
func (m MonitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = min(max(msg.Width-barPadding*2, 10), maxBarWidth)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case ProgressMsg:
		if m.done {
			return m, nil
		}
		m.snapshot = msg.Snapshot
		m.hasSnap = true
		return m, m.bar.SetPercent(msg.Snapshot.PercentComplete() / 100)

	case DoneMsg:
		m.done = true
		m.summary = msg.Summary
		m.err = msg.Err
		return m, tea.Quit

	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case progress.FrameMsg:
		updated, cmd := m.bar.Update(msg)
		if bar, ok := updated.(progress.Model); ok {
			m.bar = bar
		}
		return m, cmd
	}
	return m, nil
}

func (m MonitorModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "c", "esc", "ctrl+c", "q":
		if m.done {
			return m, tea.Quit
		}
		if !m.cancelling {
			m.cancelling = true
			if m.cancel != nil {
				m.cancel()
			}
		}
	}
	return m, nil
}

// View renders the monitor (Bubble Tea interface).
func (m MonitorModel) View() string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render(m.title))
	b.WriteString("\n\n")

	if m.done {
		b.WriteString(m.renderResult())
		b.WriteString("\n")
		return b.String()
	}

	b.WriteString(" ")
	b.WriteString(m.spinner.View())
	b.WriteString(" ")
	b.WriteString(m.bar.View())
	b.WriteString("\n\n ")
	b.WriteString(m.renderCounts())
	b.WriteString("\n\n")

	if m.cancelling {
		b.WriteString(WarnStyle.Render(" cancelling, waiting for the in-flight request..."))
	} else {
		b.WriteString(MutedStyle.Render(" press c to cancel"))
	}
	b.WriteString("\n")
	return b.String()
}

func (m MonitorModel) renderCounts() string {
	processed, total := 0, m.total
	if m.hasSnap {
		processed, total = m.snapshot.Processed, m.snapshot.Total
	}
	line := m.printer.Sprintf("%d / %d", processed, total)

	if !m.hasSnap {
		return line
	}
	simulated := m.snapshot.Source == batch.SourceSimulated
	if m.snapshot.Processed > 0 || simulated {
		line += "  ETA " + FormatETA(m.snapshot.ETA)
	}
	if simulated {
		line += MutedStyle.Render(" (estimated)")
	}
	return line
}

func (m MonitorModel) renderResult() string {
	switch {
	case m.err != nil:
		return ErrorStyle.Render(" failed: ") + m.err.Error()
	case m.summary == nil:
		return WarnStyle.Render(" stopped")
	case m.summary.Cancelled:
		return WarnStyle.Render(" cancelled") + m.printer.Sprintf(" after %d of %d targets (%d ok, %d failed)",
			m.summary.TotalProcessed, m.summary.Total, m.summary.SuccessfulCount, m.summary.FailedCount)
	default:
		return OKStyle.Render(" done") + m.printer.Sprintf(": %d ok, %d failed in %s",
			m.summary.SuccessfulCount, m.summary.FailedCount, FormatETA(m.summary.Duration()))
	}
}

// Done reports whether the operation has returned.
func (m MonitorModel) Done() bool {
	return m.done
}

// Cancelling reports whether the user asked to stop.
func (m MonitorModel) Cancelling() bool {
	return m.cancelling
}

// Snapshot returns the latest progress snapshot.
func (m MonitorModel) Snapshot() batch.Snapshot {
	return m.snapshot
}

// Result returns what the operation returned.
func (m MonitorModel) Result() (*engine.Summary, error) {
	return m.summary, m.err
}

// FormatETA renders d rounded to the second, e.g. "1m05s" or "9s".
func FormatETA(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
}
