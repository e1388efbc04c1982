package tui

import "github.com/charmbracelet/lipgloss"

// Palette shared by the run monitor views.
var (
	ColorHeader  = lipgloss.Color("212")
	ColorMuted   = lipgloss.Color("245")
	ColorOK      = lipgloss.Color("42")
	ColorWarn    = lipgloss.Color("214")
	ColorError   = lipgloss.Color("203")
	ColorSpinner = lipgloss.Color("63")
)

// Styles.
var (
	TitleStyle   = lipgloss.NewStyle().Bold(true).Foreground(ColorHeader)
	MutedStyle   = lipgloss.NewStyle().Foreground(ColorMuted)
	OKStyle      = lipgloss.NewStyle().Foreground(ColorOK).Bold(true)
	WarnStyle    = lipgloss.NewStyle().Foreground(ColorWarn).Bold(true)
	ErrorStyle   = lipgloss.NewStyle().Foreground(ColorError).Bold(true)
	SpinnerStyle = lipgloss.NewStyle().Foreground(ColorSpinner)
	PanelStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)
