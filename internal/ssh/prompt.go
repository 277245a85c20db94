// internal/ssh/prompt.go
package ssh

import (
	"fmt"
	"os"
	"runtime"

	"golang.org/x/term"
)

// TTYPrompter reads passwords from the controlling terminal with echo off,
// never from the remote session.
type TTYPrompter struct{}

func (TTYPrompter) PromptPassword(prompt string) (string, error) {
	name := "/dev/tty"
	if runtime.GOOS == "windows" {
		name = "CONIN$"
	}

	tty, err := os.OpenFile(name, os.O_RDWR, 0)
	if err != nil {
		tty = os.Stdin
	} else {
		defer tty.Close()
	}
	if !term.IsTerminal(int(tty.Fd())) {
		return "", fmt.Errorf("no terminal available to read a password")
	}

	fmt.Fprint(os.Stderr, prompt)
	pass, err := term.ReadPassword(int(tty.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(pass), nil
}
