// cmd/sshmen/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"sshmen/internal/config"
	apperr "sshmen/internal/error"
)

const usage = `Usage: sshmen [-config DIR] <command> [args]

Commands:
  connect <bookmark|user@host[:port]>       open an interactive shell
  tunnel [-persistent] [-L spec] [-R spec] <bookmark>
                                            run port forwards (spec is local_port:remote_host:remote_port)
  tunnels                                   list running tunnels
  stop <bookmark>                           stop a running tunnel
  put [-scp] <bookmark> <local> <remote>    upload a file or directory
  get <bookmark> <remote> <local>           download a file or directory
`

func main() {
	flags := flag.NewFlagSet("sshmen", flag.ExitOnError)
	flags.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	configDir := flags.String("config", "", "configuration directory (default ~/.config/sshmen)")
	flags.Parse(os.Args[1:])

	if flags.NArg() == 0 {
		flags.Usage()
		os.Exit(2)
	}

	dir := *configDir
	if dir == "" {
		d, err := config.GetDefaultConfigDir()
		if err != nil {
			fatal(err)
		}
		dir = d
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, args := flags.Arg(0), flags.Args()[1:]
	interactive := cmd == "connect"

	a, err := newApp(dir, interactive)
	if err != nil {
		fatal(err)
	}
	defer a.Close()

	switch cmd {
	case "connect":
		err = a.runConnect(ctx, args)
	case "tunnel":
		err = a.runTunnel(ctx, args)
	case "tunnels":
		err = a.runTunnels()
	case "stop":
		err = a.runStop(args)
	case "put":
		err = a.runPut(ctx, args)
	case "get":
		err = a.runGet(ctx, args)
	default:
		flags.Usage()
		os.Exit(2)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		fatal(err)
	}
}

func fatal(err error) {
	var appErr *apperr.AppError
	if errors.As(err, &appErr) {
		fmt.Fprintf(os.Stderr, "sshmen: %s error: %v\n", appErr.Type, err)
	} else {
		fmt.Fprintf(os.Stderr, "sshmen: %v\n", err)
	}
	os.Exit(1)
}
