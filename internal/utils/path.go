// internal/utils/path.go
package utils

import (
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
)

// ToSFTPPath converts local path to SFTP path format
func ToSFTPPath(p string) string {
	if runtime.GOOS == "windows" {
		return strings.ReplaceAll(p, "\\", "/")
	}
	return p
}

// ToLocalPath converts SFTP path to local path format
func ToLocalPath(p string) string {
	if runtime.GOOS == "windows" {
		return strings.ReplaceAll(p, "/", "\\")
	}
	return p
}

// RemoteJoin joins remote path elements with forward slashes on every platform.
func RemoteJoin(elem ...string) string {
	for i, e := range elem {
		elem[i] = ToSFTPPath(e)
	}
	return path.Join(elem...)
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") && !strings.HasPrefix(p, "~\\") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, p[1:]), nil
}
