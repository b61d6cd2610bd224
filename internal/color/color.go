package color

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Styles used by the CLI tree rendering. They adapt to dark and light
// terminal backgrounds via lipgloss adaptive colors.
var (
	// SuiteStyle renders suite (directory) labels.
	SuiteStyle lipgloss.Style

	// FileStyle renders test file labels.
	FileStyle lipgloss.Style

	// TestStyle renders individual test labels.
	TestStyle lipgloss.Style

	// BusyStyle marks nodes with an outstanding expansion.
	BusyStyle lipgloss.Style

	// PendingStyle marks nodes that are still expandable.
	PendingStyle lipgloss.Style

	// LocationStyle renders source locations.
	LocationStyle lipgloss.Style

	// ErrorStyle renders failures.
	ErrorStyle lipgloss.Style
)

func init() {
	// Respect NO_COLOR before lipgloss probes the terminal.
	if os.Getenv("NO_COLOR") != "" {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
	buildStyles()
}

// Initialize sets the background mode explicitly (e.g. from a config or
// flag) and rebuilds the styles.
func Initialize(isDarkMode bool) {
	lipgloss.SetHasDarkBackground(isDarkMode)
	buildStyles()
}

func buildStyles() {
	SuiteStyle = lipgloss.NewStyle().Bold(true).
		Foreground(lipgloss.AdaptiveColor{Light: "#1D4ED8", Dark: "#60A5FA"})
	FileStyle = lipgloss.NewStyle().
		Foreground(lipgloss.AdaptiveColor{Light: "#047857", Dark: "#34D399"})
	TestStyle = lipgloss.NewStyle().
		Foreground(lipgloss.AdaptiveColor{Light: "#374151", Dark: "#D1D5DB"})
	BusyStyle = lipgloss.NewStyle().Italic(true).
		Foreground(lipgloss.AdaptiveColor{Light: "#B45309", Dark: "#FBBF24"})
	PendingStyle = lipgloss.NewStyle().Faint(true)
	LocationStyle = lipgloss.NewStyle().Faint(true).
		Foreground(lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#9CA3AF"})
	ErrorStyle = lipgloss.NewStyle().Bold(true).
		Foreground(lipgloss.AdaptiveColor{Light: "#B91C1C", Dark: "#F87171"})
}
