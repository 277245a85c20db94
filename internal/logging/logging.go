// internal/logging/logging.go

// Package logging builds the logrus logger shared by the engine.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Options selects the level and destination of the logger.
type Options struct {
	Level string
	// File receives log output. Empty means Fallback.
	File string
	// Fallback is used when File is empty. A nil Fallback discards output,
	// which is what an interactive shell needs while the terminal is raw.
	Fallback io.Writer
}

// New returns a logger writing to the configured destination. The returned
// closer releases the log file, if any.
func New(opts Options) (*log.Logger, io.Closer, error) {
	logger := log.New()
	logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	level := opts.Level
	if level == "" {
		level = "info"
	}
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, nil, fmt.Errorf("parse log level %q: %w", level, err)
	}
	logger.SetLevel(lvl)

	if opts.File == "" {
		out := opts.Fallback
		if out == nil {
			out = io.Discard
		}
		logger.SetOutput(out)
		return logger, nopCloser{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(opts.File), 0o700); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file %s: %w", opts.File, err)
	}
	logger.SetOutput(f)
	return logger, f, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Sanitize removes newlines and control characters from strings that came
// from the remote side, so they cannot forge log entries.
func Sanitize(s string) string {
	s = strings.NewReplacer("\n", " ", "\r", " ", "\t", " ").Replace(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= 32 && r != 0x7f {
			b.WriteRune(r)
		}
	}
	return b.String()
}
