//go:build !windows

package control

import (
	"net"
	"os"
	"path/filepath"
)

// DefaultPath returns the default control endpoint path.
func DefaultPath() string {
	return filepath.Join(os.TempDir(), "echosub-control.sock")
}

func listen(path string) (net.Listener, error) {
	os.Remove(path) // stale socket from a crashed run

	if err := os.MkdirAll(filepath.Dir(path), 0o770); err != nil {
		return nil, err
	}
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(path, 0o600); err != nil {
		listener.Close()
		return nil, err
	}
	return listener, nil
}

func cleanup(path string) { os.Remove(path) }
