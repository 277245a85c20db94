// internal/ui/popup.go
package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

const popupWidth = 72

// popup is the boxed frame every prompt is drawn in.
type popup struct {
	title  string
	body   string
	keys   string
	danger bool
}

func (p popup) Render() string {
	style := WindowStyle.Width(popupWidth)
	titleStyle := TitleStyle
	if p.danger {
		style = style.BorderForeground(current.Error)
		titleStyle = ErrorStyle
	}

	var content strings.Builder
	content.WriteString(titleStyle.Render(p.title) + "\n\n")
	content.WriteString(p.body + "\n")
	if p.keys != "" {
		content.WriteString("\n" + DescriptionStyle.Render(p.keys))
	}
	return style.Render(content.String()) + "\n"
}

// wrap hard-wraps s for the popup body.
func wrap(s string) string {
	return lipgloss.NewStyle().Width(popupWidth - 6).Render(s)
}
