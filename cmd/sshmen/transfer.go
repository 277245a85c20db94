// cmd/sshmen/transfer.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync"

	apperr "sshmen/internal/error"
	sshclient "sshmen/internal/ssh"
	"sshmen/internal/ui"
)

func (a *app) runPut(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("put", flag.ContinueOnError)
	useSCP := fs.Bool("scp", false, "use the scp protocol instead of SFTP (single files only)")
	if err := fs.Parse(args); err != nil {
		return apperr.New(apperr.ValidationError, "invalid put arguments", err)
	}
	if fs.NArg() != 3 {
		return apperr.New(apperr.ValidationError, "put takes a bookmark, a local path and a remote path", nil)
	}
	local, remote := fs.Arg(1), fs.Arg(2)

	info, err := os.Stat(local)
	if err != nil {
		return apperr.New(apperr.FileError, "failed to stat local path", err)
	}

	return a.withTransfer(ctx, fs.Arg(0), func(sess *sshclient.Session, ft *sshclient.FileTransfer, progress chan<- sshclient.TransferProgress) error {
		remote := remote
		if ft != nil {
			resolved, err := ft.ResolveRemotePath(remote)
			if err != nil {
				return err
			}
			remote = resolved
		}
		switch {
		case *useSCP && info.IsDir():
			return apperr.New(apperr.ValidationError, "scp mode copies single files only", nil)
		case *useSCP:
			return sshclient.UploadSCP(ctx, sess, local, remote)
		case info.IsDir():
			return ft.UploadDirectory(local, remote, progress)
		default:
			return ft.UploadFile(local, remote, progress)
		}
	}, !*useSCP)
}

func (a *app) runGet(ctx context.Context, args []string) error {
	if len(args) != 3 {
		return apperr.New(apperr.ValidationError, "get takes a bookmark, a remote path and a local path", nil)
	}
	remote, local := args[1], args[2]

	return a.withTransfer(ctx, args[0], func(_ *sshclient.Session, ft *sshclient.FileTransfer, progress chan<- sshclient.TransferProgress) error {
		remote, err := ft.ResolveRemotePath(remote)
		if err != nil {
			return err
		}
		info, err := ft.GetRemoteFileInfo(remote)
		if err != nil {
			return apperr.New(apperr.FileError, "failed to stat remote path", err)
		}
		if info.IsDir() {
			return ft.DownloadDirectory(remote, local, progress)
		}
		return ft.DownloadFile(remote, local, progress)
	}, true)
}

type transferFunc func(sess *sshclient.Session, ft *sshclient.FileTransfer, progress chan<- sshclient.TransferProgress) error

// withTransfer connects, starts SFTP when wanted and draws progress while fn
// runs.
func (a *app) withTransfer(ctx context.Context, target string, fn transferFunc, wantSFTP bool) error {
	host, _, err := a.resolveHost(target)
	if err != nil {
		return err
	}
	sess, err := a.connect(ctx, host, false)
	if err != nil {
		return err
	}
	defer sess.Close()

	var ft *sshclient.FileTransfer
	if wantSFTP {
		ft, err = sshclient.NewFileTransfer(sess)
		if err != nil {
			return err
		}
		defer ft.Close()
	}

	progress := make(chan sshclient.TransferProgress, 16)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for p := range progress {
			fmt.Fprint(os.Stderr, ui.ProgressLine(p.FileName, p.TransferredBytes, p.TotalBytes))
		}
	}()

	err = fn(sess, ft, progress)
	close(progress)
	wg.Wait()
	fmt.Fprintln(os.Stderr)
	if err == nil {
		fmt.Fprintln(os.Stderr, ui.SuccessStyle.Render("Transfer complete"))
	}
	return err
}
