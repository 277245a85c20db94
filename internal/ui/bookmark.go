// internal/ui/bookmark.go
package ui

import (
	"context"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

type bookmarkModel struct {
	target string
	input  textinput.Model
	name   string
	saved  bool
	done   bool
}

func newBookmarkModel(target, suggested string) *bookmarkModel {
	input := textinput.New()
	input.Placeholder = "bookmark name"
	input.CharLimit = 64
	input.SetValue(suggested)
	input.Focus()
	return &bookmarkModel{target: target, input: input}
}

func (m *bookmarkModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *bookmarkModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.done = true
			return m, tea.Quit
		case tea.KeyEnter:
			name := strings.TrimSpace(m.input.Value())
			if name == "" {
				return m, nil
			}
			m.name = name
			m.saved = true
			m.done = true
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *bookmarkModel) View() string {
	if m.done {
		return ""
	}
	return "\r\n" + popup{
		title: "Save bookmark",
		body:  "Save " + m.target + " as:\n\n" + m.input.View(),
		keys:  "ENTER - Save, ESC - Cancel",
	}.Render()
}

// PromptBookmarkName asks for a name to save the current connection under.
// ok is false when the user cancels.
func PromptBookmarkName(ctx context.Context, keys io.Reader, out io.Writer, target, suggested string) (name string, ok bool, err error) {
	final, err := runInline(ctx, newBookmarkModel(target, suggested), keys, out)
	if err != nil {
		return "", false, err
	}
	m := final.(*bookmarkModel)
	return m.name, m.saved, nil
}
