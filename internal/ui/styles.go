// internal/ui/styles.go

package ui

import (
	"github.com/charmbracelet/lipgloss"
)

// Theme is the palette the prompts and tables are drawn with.
type Theme struct {
	Subtle    lipgloss.Color
	Highlight lipgloss.Color
	Special   lipgloss.Color
	Error     lipgloss.Color
	Warning   lipgloss.Color
	Border    lipgloss.Color
}

var themes = []Theme{
	{
		Subtle:    lipgloss.Color("#6C7086"),
		Highlight: lipgloss.Color("#7DC4E4"),
		Special:   lipgloss.Color("#FF9E64"),
		Error:     lipgloss.Color("#F38BA8"),
		Warning:   lipgloss.Color("#F9E2AF"),
		Border:    lipgloss.Color("#33B2FF"),
	},
	{
		// Light terminals.
		Subtle:    lipgloss.Color("#8C8FA1"),
		Highlight: lipgloss.Color("#1E66F5"),
		Special:   lipgloss.Color("#FE640B"),
		Error:     lipgloss.Color("#D20F39"),
		Warning:   lipgloss.Color("#DF8E1D"),
		Border:    lipgloss.Color("#04A5E5"),
	},
}

var (
	BaseStyle        lipgloss.Style
	TitleStyle       lipgloss.Style
	DescriptionStyle lipgloss.Style
	SuccessStyle     lipgloss.Style
	ErrorStyle       lipgloss.Style
	WarningStyle     lipgloss.Style
	WindowStyle      lipgloss.Style
	HeaderStyle      lipgloss.Style
	CellStyle        lipgloss.Style

	current Theme
)

func init() {
	applyTheme(themes[0])
}

// UseLightTheme switches every style to the light palette.
func UseLightTheme(light bool) {
	if light {
		applyTheme(themes[1])
		return
	}
	applyTheme(themes[0])
}

func applyTheme(theme Theme) {
	current = theme

	BaseStyle = lipgloss.NewStyle().
		Foreground(theme.Subtle).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(theme.Border)

	TitleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.Highlight)

	DescriptionStyle = lipgloss.NewStyle().
		Foreground(theme.Subtle)

	SuccessStyle = lipgloss.NewStyle().
		Foreground(theme.Special).
		Bold(true)

	ErrorStyle = lipgloss.NewStyle().
		Foreground(theme.Error).
		Bold(true)

	WarningStyle = lipgloss.NewStyle().
		Foreground(theme.Warning).
		Bold(true)

	WindowStyle = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(theme.Border).
		Padding(1, 2)

	HeaderStyle = lipgloss.NewStyle().
		Foreground(theme.Highlight).
		Bold(true).
		Padding(0, 1)

	CellStyle = lipgloss.NewStyle().
		Padding(0, 1)
}
