// internal/ssh/transfer.go
package ssh

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	apperr "sshmen/internal/error"
	"sshmen/internal/utils"

	scp "github.com/bramvdbogaerde/go-scp"
	"github.com/pkg/sftp"
)

const transferBufSize = 128 * 1024

// TransferProgress reports how far a single file transfer has got.
type TransferProgress struct {
	FileName         string
	TotalBytes       int64
	TransferredBytes int64
	StartTime        time.Time
}

// FileTransfer moves files over an SFTP subsystem of a live Session.
type FileTransfer struct {
	session    *Session
	sftpClient *sftp.Client
}

// NewFileTransfer starts SFTP on s. Close releases the subsystem but leaves
// the session open.
func NewFileTransfer(s *Session) (*FileTransfer, error) {
	c, err := s.SFTP()
	if err != nil {
		return nil, err
	}
	return &FileTransfer{session: s, sftpClient: c}, nil
}

func (ft *FileTransfer) Close() error {
	if err := ft.sftpClient.Close(); err != nil {
		return fmt.Errorf("error closing SFTP client: %w", err)
	}
	return nil
}

// ListRemoteFiles returns the entries of a remote directory.
func (ft *FileTransfer) ListRemoteFiles(path string) ([]os.FileInfo, error) {
	return ft.sftpClient.ReadDir(utils.ToSFTPPath(path))
}

func (ft *FileTransfer) GetRemoteFileInfo(path string) (os.FileInfo, error) {
	return ft.sftpClient.Stat(utils.ToSFTPPath(path))
}

func (ft *FileTransfer) CreateRemoteDirectory(path string) error {
	return ft.sftpClient.MkdirAll(utils.ToSFTPPath(path))
}

// RemoveRemoteFile removes a file, or an empty directory.
func (ft *FileTransfer) RemoveRemoteFile(path string) error {
	path = utils.ToSFTPPath(path)
	if err := ft.sftpClient.Remove(path); err == nil {
		return nil
	}
	return ft.sftpClient.RemoveDirectory(path)
}

func (ft *FileTransfer) RenameRemoteFile(oldPath, newPath string) error {
	return ft.sftpClient.Rename(utils.ToSFTPPath(oldPath), utils.ToSFTPPath(newPath))
}

// GetRemoteHomeDir returns the directory the SFTP server starts in.
func (ft *FileTransfer) GetRemoteHomeDir() (string, error) {
	dir, err := ft.sftpClient.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return dir, nil
}

// ResolveRemotePath expands a leading "~" against the SFTP start directory,
// which the server does not do itself.
func (ft *FileTransfer) ResolveRemotePath(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := ft.GetRemoteHomeDir()
	if err != nil {
		return "", apperr.New(apperr.FileError, "failed to resolve remote path", err)
	}
	return utils.RemoteJoin(home, p[1:]), nil
}

// UploadFile copies localPath to remotePath. Progress updates are dropped
// when progressChan is not ready.
func (ft *FileTransfer) UploadFile(localPath, remotePath string, progressChan chan<- TransferProgress) error {
	srcFile, err := os.Open(localPath)
	if err != nil {
		return apperr.New(apperr.FileError, "failed to open local file", err)
	}
	defer srcFile.Close()

	fileInfo, err := srcFile.Stat()
	if err != nil {
		return fmt.Errorf("failed to get file info: %w", err)
	}

	dstFile, err := ft.sftpClient.Create(utils.ToSFTPPath(remotePath))
	if err != nil {
		return apperr.New(apperr.FileError, "failed to create remote file", err)
	}
	defer dstFile.Close()

	progress := TransferProgress{
		FileName:   filepath.Base(localPath),
		TotalBytes: fileInfo.Size(),
		StartTime:  time.Now(),
	}
	if err := copyWithProgress(dstFile, srcFile, &progress, progressChan); err != nil {
		return err
	}
	if err := dstFile.Chmod(fileInfo.Mode().Perm()); err != nil {
		ft.session.log.WithError(err).WithField("path", remotePath).Debug("cannot set remote file mode")
	}
	return nil
}

// DownloadFile copies remotePath to localPath.
func (ft *FileTransfer) DownloadFile(remotePath, localPath string, progressChan chan<- TransferProgress) error {
	srcFile, err := ft.sftpClient.Open(utils.ToSFTPPath(remotePath))
	if err != nil {
		return apperr.New(apperr.FileError, "failed to open remote file", err)
	}
	defer srcFile.Close()

	fileInfo, err := srcFile.Stat()
	if err != nil {
		return fmt.Errorf("failed to get file info: %w", err)
	}

	dstFile, err := os.Create(localPath)
	if err != nil {
		return apperr.New(apperr.FileError, "failed to create local file", err)
	}
	defer dstFile.Close()

	progress := TransferProgress{
		FileName:   filepath.Base(remotePath),
		TotalBytes: fileInfo.Size(),
		StartTime:  time.Now(),
	}
	if err := copyWithProgress(dstFile, srcFile, &progress, progressChan); err != nil {
		return err
	}
	if err := dstFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync local file: %w", err)
	}
	return nil
}

func copyWithProgress(dst io.Writer, src io.Reader, progress *TransferProgress, progressChan chan<- TransferProgress) error {
	buf := make([]byte, transferBufSize)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			written, writeErr := dst.Write(buf[:n])
			if writeErr != nil {
				return fmt.Errorf("write failed: %w", writeErr)
			}
			if written != n {
				return fmt.Errorf("incomplete write: wrote %d bytes instead of %d", written, n)
			}
			progress.TransferredBytes += int64(n)
			sendProgress(progressChan, *progress)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read failed: %w", err)
		}
	}
	sendProgress(progressChan, *progress)
	return nil
}

func sendProgress(ch chan<- TransferProgress, p TransferProgress) {
	if ch == nil {
		return
	}
	select {
	case ch <- p:
	default:
	}
}

// UploadDirectory copies a local tree to remotePath.
func (ft *FileTransfer) UploadDirectory(localPath, remotePath string, progressChan chan<- TransferProgress) error {
	if err := ft.CreateRemoteDirectory(remotePath); err != nil {
		return fmt.Errorf("failed to create remote directory: %w", err)
	}

	return filepath.Walk(localPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		relPath, err := filepath.Rel(localPath, path)
		if err != nil {
			return err
		}

		remotePathFull := utils.RemoteJoin(remotePath, filepath.ToSlash(relPath))
		if info.IsDir() {
			return ft.CreateRemoteDirectory(remotePathFull)
		}
		return ft.UploadFile(path, remotePathFull, progressChan)
	})
}

// DownloadDirectory copies a remote tree to localPath.
func (ft *FileTransfer) DownloadDirectory(remotePath, localPath string, progressChan chan<- TransferProgress) error {
	if err := os.MkdirAll(localPath, 0o755); err != nil {
		return fmt.Errorf("failed to create local directory: %w", err)
	}

	entries, err := ft.ListRemoteFiles(remotePath)
	if err != nil {
		return fmt.Errorf("failed to list remote directory: %w", err)
	}

	for _, entry := range entries {
		if entry.Name() == "." || entry.Name() == ".." {
			continue
		}
		remoteSrc := utils.RemoteJoin(remotePath, entry.Name())
		localDst := filepath.Join(localPath, entry.Name())

		if entry.IsDir() {
			err = ft.DownloadDirectory(remoteSrc, localDst, progressChan)
		} else {
			err = ft.DownloadFile(remoteSrc, localDst, progressChan)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// UploadSCP copies one file with the scp protocol, for servers without an
// SFTP subsystem.
func UploadSCP(ctx context.Context, s *Session, localPath, remotePath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return apperr.New(apperr.FileError, "failed to open local file", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to get file info: %w", err)
	}

	client, err := scp.NewClientBySSH(s.Client())
	if err != nil {
		return apperr.New(apperr.ConnectionError, "failed to start scp", err)
	}
	defer client.Close()

	perms := fmt.Sprintf("%#o", info.Mode().Perm())
	if err := client.CopyFromFile(ctx, *f, utils.ToSFTPPath(remotePath), perms); err != nil {
		return apperr.New(apperr.FileError, "scp upload failed", err)
	}
	return nil
}
