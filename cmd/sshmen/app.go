// cmd/sshmen/app.go
package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"sshmen/internal/config"
	"sshmen/internal/crypto"
	apperr "sshmen/internal/error"
	"sshmen/internal/hostkeys"
	"sshmen/internal/logging"
	"sshmen/internal/models"
	sshclient "sshmen/internal/ssh"
	"sshmen/internal/ui"

	log "github.com/sirupsen/logrus"
)

// app carries what every command needs.
type app struct {
	settings  *config.Settings
	bookmarks *config.Manager
	hostKeys  *hostkeys.Store
	log       *log.Logger
	logCloser io.Closer
	prompter  sshclient.TTYPrompter
	cipher    *crypto.Cipher
}

// newApp loads settings and bookmarks. Interactive commands log only to the
// log file because the terminal is raw while they run.
func newApp(configDir string, interactive bool) (*app, error) {
	settings, err := config.LoadSettings(configDir)
	if err != nil {
		return nil, err
	}

	logOpts := logging.Options{Level: settings.LogLevel, File: settings.LogFile}
	if !interactive {
		logOpts.File = ""
		logOpts.Fallback = os.Stderr
	}
	logger, closer, err := logging.New(logOpts)
	if err != nil {
		return nil, apperr.New(apperr.ConfigError, "failed to set up logging", err)
	}

	bookmarks := config.NewManager(filepath.Join(configDir, config.DefaultConfigFileName))
	if err := bookmarks.Load(); err != nil {
		closer.Close()
		return nil, err
	}

	return &app{
		settings:  settings,
		bookmarks: bookmarks,
		hostKeys:  hostkeys.NewStore(settings.KnownHostsFile, settings.HashKnownHosts),
		log:       logger,
		logCloser: closer,
	}, nil
}

func (a *app) Close() error {
	return a.logCloser.Close()
}

// resolveHost finds a bookmark by name or builds an unsaved one from
// user@host[:port]. saved reports which.
func (a *app) resolveHost(target string) (host *models.Host, saved bool, err error) {
	if bm, err := a.bookmarks.FindHostByName(target); err == nil {
		return &bm, true, nil
	}

	login, addr, ok := strings.Cut(target, "@")
	if !ok || login == "" || addr == "" {
		return nil, false, apperr.New(apperr.ConfigError, fmt.Sprintf("no bookmark named %q", target), nil)
	}

	h := &models.Host{Login: login, IP: addr, Port: models.DefaultSSHPort, PasswordID: models.NoPassword}
	if hostPart, portPart, err := net.SplitHostPort(addr); err == nil {
		port, err := strconv.Atoi(portPart)
		if err != nil {
			return nil, false, apperr.New(apperr.ValidationError, fmt.Sprintf("invalid port in %q", target), err)
		}
		h.IP, h.Port = hostPart, port
	}
	if err := h.Validate(); err != nil {
		return nil, false, apperr.New(apperr.ValidationError, "invalid destination", err)
	}
	return h, false, nil
}

// password returns the stored password for host, asking for the master
// password once if one is needed.
func (a *app) password(host *models.Host) (string, error) {
	if !host.HasPassword() {
		return "", nil
	}
	if a.cipher == nil {
		master, err := a.prompter.PromptPassword("Master password: ")
		if err != nil {
			return "", err
		}
		a.cipher = crypto.NewCipher(master)
	}
	return a.bookmarks.HostPassword(host, a.cipher)
}

func (a *app) connectOptions(password string, keepAlive bool, logger log.FieldLogger) sshclient.ConnectOptions {
	opts := sshclient.ConnectOptions{
		HostKeys:  a.hostKeys,
		Decider:   ui.HostKeyPrompt{In: os.Stdin, Out: os.Stderr},
		Prompter:  a.prompter,
		Password:  password,
		KeyDir:    a.settings.KeyDir,
		Timeout:   a.settings.ConnectTimeout,
		Logger:    logger,
	}
	if keepAlive {
		opts.KeepAlive = a.settings.KeepAlive
	}
	return opts
}

// connect opens a session to host with its stored password, if any.
// Keepalives run when the bookmark asks for them or keepAlive is set.
func (a *app) connect(ctx context.Context, host *models.Host, keepAlive bool) (*sshclient.Session, error) {
	password, err := a.password(host)
	if err != nil {
		return nil, err
	}
	logger := a.log.WithField("bookmark", host.String())
	return sshclient.Connect(ctx, host, a.connectOptions(password, keepAlive || host.KeepAlive, logger))
}
