// internal/tunnel/spec.go

// Package tunnel runs local and remote port forwards over an SSH session and
// keeps persistent tunnels alive across connection loss.
package tunnel

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	apperr "sshmen/internal/error"
)

// Direction says which side listens.
type Direction string

const (
	// Local listens on this machine and dials through the server (-L).
	Local Direction = "local"
	// Remote asks the server to listen and dials out from here (-R).
	Remote Direction = "remote"
)

// ForwardSpec is one parsed forwarding rule. Treat it as immutable.
type ForwardSpec struct {
	Direction  Direction `json:"direction"`
	LocalPort  int       `json:"local_port"`
	RemoteHost string    `json:"remote_host"`
	RemotePort int       `json:"remote_port"`
}

// ParseForwardSpec parses "local_port:remote_host:remote_port".
func ParseForwardSpec(dir Direction, s string) (ForwardSpec, error) {
	if dir != Local && dir != Remote {
		return ForwardSpec{}, apperr.New(apperr.ValidationError, fmt.Sprintf("unknown forward direction %q", dir), nil)
	}

	fields := strings.Split(s, ":")
	if len(fields) != 3 {
		return ForwardSpec{}, apperr.New(apperr.ValidationError,
			fmt.Sprintf("forward %q must be local_port:remote_host:remote_port", s), nil)
	}

	localPort, err := parsePort(fields[0])
	if err != nil {
		return ForwardSpec{}, apperr.New(apperr.ValidationError, fmt.Sprintf("forward %q: local port", s), err)
	}
	remotePort, err := parsePort(fields[2])
	if err != nil {
		return ForwardSpec{}, apperr.New(apperr.ValidationError, fmt.Sprintf("forward %q: remote port", s), err)
	}
	if err := ValidateHost(fields[1]); err != nil {
		return ForwardSpec{}, apperr.New(apperr.ValidationError, fmt.Sprintf("forward %q: remote host", s), err)
	}

	return ForwardSpec{
		Direction:  dir,
		LocalPort:  localPort,
		RemoteHost: fields[1],
		RemotePort: remotePort,
	}, nil
}

// String returns the three-field form accepted by ParseForwardSpec.
func (f ForwardSpec) String() string {
	return strconv.Itoa(f.LocalPort) + ":" + f.RemoteHost + ":" + strconv.Itoa(f.RemotePort)
}

// Flag returns the spec as an ssh(1) style option, e.g. "-L 8080:db:5432".
func (f ForwardSpec) Flag() string {
	if f.Direction == Remote {
		return "-R " + f.String()
	}
	return "-L " + f.String()
}

func parsePort(s string) (int, error) {
	p, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", s)
	}
	if p < 1 || p > 65535 {
		return 0, fmt.Errorf("%d is out of range 1-65535", p)
	}
	return p, nil
}

// ValidateHost rejects empty hosts and hosts carrying shell metacharacters,
// whitespace or control characters.
func ValidateHost(h string) error {
	if h == "" {
		return fmt.Errorf("host cannot be empty")
	}
	for _, c := range h {
		switch c {
		case ';', '&', '|', '$', '`', '(', ')', '{', '}', '<', '>', '\\', '"', '\'', '!', '*', '?', '~', '#':
			return fmt.Errorf("host %q contains forbidden character %q", h, string(c))
		}
		if unicode.IsSpace(c) || unicode.IsControl(c) {
			return fmt.Errorf("host %q contains whitespace or control characters", h)
		}
	}
	return nil
}
