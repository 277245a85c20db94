// internal/ui/hostkey.go
package ui

import (
	"fmt"
	"io"
	"strings"

	"sshmen/internal/hostkeys"
	"sshmen/internal/models"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/crypto/ssh"
)

// HostKeyPrompt asks the user whether to trust a host key. A changed key is
// only accepted when the user types "yes" in full.
type HostKeyPrompt struct {
	In  io.Reader
	Out io.Writer
}

// Decide runs the prompt to completion.
func (p HostKeyPrompt) Decide(host *models.Host, status hostkeys.Status, key ssh.PublicKey) (bool, error) {
	model := newHostKeyModel(host, status, key)
	final, err := tea.NewProgram(model,
		tea.WithInput(p.In),
		tea.WithOutput(p.Out),
		tea.WithoutSignalHandler(),
	).Run()
	if err != nil {
		return false, fmt.Errorf("host key prompt: %w", err)
	}
	return final.(*hostKeyModel).accepted, nil
}

type hostKeyModel struct {
	address     string
	keyType     string
	fingerprint string
	changedLine int
	changed     bool

	input    textinput.Model
	accepted bool
	problem  string
}

func newHostKeyModel(host *models.Host, status hostkeys.Status, key ssh.PublicKey) *hostKeyModel {
	input := textinput.New()
	input.Placeholder = "yes/no"
	input.CharLimit = 8
	input.Focus()

	m := &hostKeyModel{
		address:     host.Address(),
		keyType:     key.Type(),
		fingerprint: ssh.FingerprintSHA256(key),
		input:       input,
	}
	if c, ok := status.(hostkeys.Changed); ok {
		m.changed = true
		m.changedLine = c.Line
		m.input.Placeholder = "type yes to connect anyway"
	}
	return m
}

func (m *hostKeyModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *hostKeyModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.accepted = false
			return m, tea.Quit
		case tea.KeyEnter:
			answer := strings.ToLower(strings.TrimSpace(m.input.Value()))
			switch {
			case answer == "yes":
				m.accepted = true
				return m, tea.Quit
			case answer == "y" && !m.changed:
				m.accepted = true
				return m, tea.Quit
			case answer == "no" || answer == "n":
				m.accepted = false
				return m, tea.Quit
			case m.changed:
				m.problem = `Type "yes" in full to accept the new key, or "no" to abort.`
			default:
				m.problem = "Please answer yes or no."
			}
			m.input.Reset()
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *hostKeyModel) View() string {
	var body strings.Builder
	p := popup{keys: "ENTER - Confirm, ESC - Abort"}

	if m.changed {
		p.title = "WARNING: REMOTE HOST IDENTIFICATION HAS CHANGED!"
		p.danger = true
		body.WriteString(ErrorStyle.Render("IT IS POSSIBLE THAT SOMEONE IS DOING SOMETHING NASTY!") + "\n")
		body.WriteString(wrap("Someone could be eavesdropping on you right now (man-in-the-middle attack). It is also possible that the host key has just been changed.") + "\n\n")
		fmt.Fprintf(&body, "The %s key sent by %s has fingerprint\n  %s\n", m.keyType, m.address, SuccessStyle.Render(m.fingerprint))
		fmt.Fprintf(&body, "The stored key is on line %d of your known_hosts file.\n", m.changedLine)
		body.WriteString("Accepting lets this connection through once and does not update the file.\n\n")
	} else {
		p.title = "Unknown host"
		fmt.Fprintf(&body, "The authenticity of host %s can't be established.\n", m.address)
		fmt.Fprintf(&body, "%s key fingerprint is\n  %s\n\n", m.keyType, SuccessStyle.Render(m.fingerprint))
		body.WriteString("Are you sure you want to continue connecting?\n\n")
	}

	body.WriteString(m.input.View())
	if m.problem != "" {
		body.WriteString("\n" + WarningStyle.Render(m.problem))
	}
	p.body = body.String()
	return p.Render()
}
