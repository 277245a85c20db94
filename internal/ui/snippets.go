// internal/ui/snippets.go
package ui

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
)

const maxPickerHeight = 16

type snippetItem string

func (i snippetItem) Title() string       { return string(i) }
func (i snippetItem) Description() string { return "" }
func (i snippetItem) FilterValue() string { return string(i) }

type snippetModel struct {
	list   list.Model
	choice string
	picked bool
	done   bool
}

func newSnippetModel(snippets []string) *snippetModel {
	items := make([]list.Item, len(snippets))
	for i, s := range snippets {
		items[i] = snippetItem(s)
	}

	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = false
	delegate.SetSpacing(0)

	height := len(snippets) + 6
	if height > maxPickerHeight {
		height = maxPickerHeight
	}
	l := list.New(items, delegate, popupWidth, height)
	l.Title = "Snippets"
	l.Styles.Title = TitleStyle
	l.SetShowHelp(false)
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(true)
	return &snippetModel{list: l}
}

func (m *snippetModel) Init() tea.Cmd {
	return nil
}

func (m *snippetModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok && m.list.FilterState() != list.Filtering {
		switch key.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.done = true
			return m, tea.Quit
		case tea.KeyEnter:
			if item, ok := m.list.SelectedItem().(snippetItem); ok {
				m.choice = string(item)
				m.picked = true
			}
			m.done = true
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m *snippetModel) View() string {
	if m.done {
		return ""
	}
	return "\r\n" + m.list.View() + "\r\n" + DescriptionStyle.Render("ENTER - Send, / - Filter, ESC - Cancel")
}

// PickSnippet shows snippets and returns the chosen one. ok is false when
// the user cancels or there is nothing to pick.
func PickSnippet(ctx context.Context, keys io.Reader, out io.Writer, snippets []string) (choice string, ok bool, err error) {
	if len(snippets) == 0 {
		fmt.Fprint(out, "\r\n"+WarningStyle.Render("No snippets configured.")+"\r\n")
		return "", false, nil
	}

	final, err := runInline(ctx, newSnippetModel(snippets), keys, out)
	if err != nil {
		return "", false, err
	}
	m := final.(*snippetModel)
	return m.choice, m.picked, nil
}

// runInline runs model on a terminal the caller already owns.
func runInline(ctx context.Context, model tea.Model, keys io.Reader, out io.Writer) (tea.Model, error) {
	final, err := tea.NewProgram(model,
		tea.WithContext(ctx),
		tea.WithInput(keys),
		tea.WithOutput(out),
		tea.WithoutSignalHandler(),
	).Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, fmt.Errorf("prompt: %w", err)
	}
	return final, nil
}
