// internal/models/host.go

package models

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// NoPassword marks a host that has no stored password.
const NoPassword = -1

const DefaultSSHPort = 22

type Host struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	Login        string `json:"login"`
	IP           string `json:"ip"`
	Port         int    `json:"port"`
	IdentityFile string `json:"identity_file,omitempty"`
	PasswordID   int    `json:"password_id"`
	TerminalType string `json:"terminal_type"`
	KeepAlive    bool   `json:"keep_alive"`
	// Timeout overrides the connect timeout, in seconds. Zero means the default.
	Timeout int `json:"timeout,omitempty"`
	// Background is a "#rrggbb" color applied to the local terminal during a shell.
	Background string `json:"background,omitempty"`
}

type Config struct {
	Hosts     []Host     `json:"hosts"`
	Passwords []Password `json:"passwords"`
}

// Address returns host:port suitable for net.Dial.
func (h *Host) Address() string {
	return net.JoinHostPort(h.IP, strconv.Itoa(h.EffectivePort()))
}

// EffectivePort returns the configured port or 22.
func (h *Host) EffectivePort() int {
	if h.Port <= 0 {
		return DefaultSSHPort
	}
	return h.Port
}

// HasPassword reports whether the host references a stored password.
func (h *Host) HasPassword() bool {
	return h.PasswordID >= 0
}

// ConnectTimeout returns the per-host timeout, or fallback when unset.
func (h *Host) ConnectTimeout(fallback time.Duration) time.Duration {
	if h.Timeout > 0 {
		return time.Duration(h.Timeout) * time.Second
	}
	return fallback
}

func (h *Host) Validate() error {
	if h.IP == "" {
		return fmt.Errorf("host address cannot be empty")
	}
	if h.Login == "" {
		return fmt.Errorf("login cannot be empty")
	}
	if h.Port < 0 || h.Port > 65535 {
		return fmt.Errorf("invalid port %d", h.Port)
	}
	return nil
}

func (h *Host) String() string {
	if h.Name != "" {
		return h.Name
	}
	return fmt.Sprintf("%s@%s", h.Login, h.Address())
}
