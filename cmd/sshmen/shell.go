// cmd/sshmen/shell.go
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"sshmen/internal/detect"
	apperr "sshmen/internal/error"
	"sshmen/internal/models"
	sshclient "sshmen/internal/ssh"
	"sshmen/internal/ui"

	log "github.com/sirupsen/logrus"
)

func (a *app) runConnect(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return apperr.New(apperr.ValidationError, "connect takes exactly one bookmark or user@host[:port]", nil)
	}
	host, saved, err := a.resolveHost(args[0])
	if err != nil {
		return err
	}

	password, err := a.password(host)
	if err != nil {
		return err
	}
	logger := a.log.WithField("bookmark", host.String())
	if !saved {
		logger.Debug("connecting to a destination with no bookmark")
	}
	sess, err := sshclient.Connect(ctx, host, a.connectOptions(password, host.KeepAlive, logger))
	if err != nil {
		return err
	}
	defer sess.Close()

	size, err := sshclient.TerminalSize(os.Stdout.Fd())
	if err != nil {
		size = sshclient.DefaultWindowSize
	}

	shellCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	background := host.Background
	if background == "" {
		background = a.settings.Background
	}

	opts := sshclient.ProxyOptions{
		Stdin:    os.Stdin,
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
		TermType: host.TerminalType,
		Size:     size,
		Resize:   sshclient.WatchResize(shellCtx, os.Stdout),
		Guard:    sshclient.NewTerminalGuard(os.Stdin, os.Stdout, background),
		Filter:   detect.NewEscapeFilter([]byte(a.settings.SnippetTrigger), []byte(a.settings.BookmarkTrigger)),
		Prompt:   detect.NewPromptDetector(password != ""),
		OnTrigger: (&triggers{
			app:  a,
			host: host,
			log:  logger,
		}).handle,
	}
	if password != "" {
		opts.OnPasswordPrompt = func() []byte {
			logger.Debug("answering password prompt with the stored password")
			return []byte(password + "\r")
		}
	}

	return sess.RunShell(shellCtx, opts)
}

// triggers handles the escape sequences typed during a shell.
type triggers struct {
	app  *app
	host *models.Host
	log  log.FieldLogger
}

func (t *triggers) handle(ctx context.Context, trigger detect.Trigger, keys io.Reader) ([]byte, error) {
	switch trigger {
	case detect.TriggerSnippet:
		choice, ok, err := ui.PickSnippet(ctx, keys, os.Stdout, t.app.settings.Snippets)
		if err != nil || !ok {
			return nil, err
		}
		t.log.WithField("snippet", choice).Debug("snippet sent")
		return []byte(choice), nil

	case detect.TriggerSaveBookmark:
		t.saveBookmark(ctx, keys)
	}
	return nil, nil
}

// saveBookmark never fails the shell; problems are reported inline.
func (t *triggers) saveBookmark(ctx context.Context, keys io.Reader) {
	suggested := t.host.Name
	if suggested == "" {
		suggested = t.host.IP
	}
	name, ok, err := ui.PromptBookmarkName(ctx, keys, os.Stdout, fmt.Sprintf("%s@%s", t.host.Login, t.host.Address()), suggested)
	if err != nil || !ok {
		return
	}

	bm := *t.host
	bm.Name = name
	if err := t.app.bookmarks.UpsertHost(bm); err == nil {
		err = t.app.bookmarks.Save()
	}
	if err != nil {
		t.log.WithError(err).Warn("failed to save bookmark")
		fmt.Fprint(os.Stdout, "\r\n"+ui.ErrorStyle.Render("Could not save bookmark: "+err.Error())+"\r\n")
		return
	}
	t.host.Name = name
	t.log.WithField("name", name).Info("bookmark saved")
	fmt.Fprint(os.Stdout, "\r\n"+ui.SuccessStyle.Render("Saved bookmark "+name)+"\r\n")
}
