// cmd/sshmen/tunnel.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	apperr "sshmen/internal/error"
	"sshmen/internal/models"
	"sshmen/internal/tunnel"
	"sshmen/internal/ui"
)

// specFlag collects repeated -L or -R values.
type specFlag struct {
	dir   tunnel.Direction
	specs *[]tunnel.ForwardSpec
}

func (f specFlag) String() string {
	if f.specs == nil {
		return ""
	}
	parts := make([]string, 0, len(*f.specs))
	for _, s := range *f.specs {
		if s.Direction == f.dir {
			parts = append(parts, s.String())
		}
	}
	return strings.Join(parts, ",")
}

func (f specFlag) Set(v string) error {
	spec, err := tunnel.ParseForwardSpec(f.dir, v)
	if err != nil {
		return err
	}
	*f.specs = append(*f.specs, spec)
	return nil
}

func (a *app) manager() *tunnel.Manager {
	connect := func(ctx context.Context, host *models.Host) (tunnel.Transport, error) {
		sess, err := a.connect(ctx, host, true)
		if err != nil {
			return nil, err
		}
		return sess, nil
	}
	return tunnel.NewManager(connect, tunnel.NewStateStore(a.settings.TunnelStateFile, nil), tunnel.ManagerOptions{
		InitialBackoff: a.settings.ReconnectInitial,
		MaxBackoff:     a.settings.ReconnectMax,
		Logger:         a.log,
	})
}

func (a *app) runTunnel(ctx context.Context, args []string) error {
	var specs []tunnel.ForwardSpec
	fs := flag.NewFlagSet("tunnel", flag.ContinueOnError)
	persistent := fs.Bool("persistent", false, "reconnect with backoff when the connection drops")
	fs.Var(specFlag{dir: tunnel.Local, specs: &specs}, "L", "local forward local_port:remote_host:remote_port (repeatable)")
	fs.Var(specFlag{dir: tunnel.Remote, specs: &specs}, "R", "remote forward local_port:remote_host:remote_port (repeatable)")
	if err := fs.Parse(args); err != nil {
		return apperr.New(apperr.ValidationError, "invalid tunnel arguments", err)
	}
	if fs.NArg() != 1 {
		return apperr.New(apperr.ValidationError, "tunnel takes exactly one bookmark", nil)
	}

	host, _, err := a.resolveHost(fs.Arg(0))
	if err != nil {
		return err
	}

	return a.manager().Run(ctx, tunnel.Tunnel{
		Host:       host,
		Forwards:   specs,
		Persistent: *persistent,
	})
}

func (a *app) runTunnels() error {
	entries, err := a.manager().List()
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, ui.TunnelTable(entries, time.Now()))
	return nil
}

func (a *app) runStop(args []string) error {
	if len(args) != 1 {
		return apperr.New(apperr.ValidationError, "stop takes exactly one bookmark", nil)
	}
	if err := a.manager().Stop(args[0]); err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, ui.SuccessStyle.Render("Stopping tunnel "+args[0]))
	return nil
}
