//go:build windows

package control

import (
	"net"

	"github.com/Microsoft/go-winio"
)

// SDDL: SYSTEM gets full control, Interactive Users get read/write.
// Excludes service accounts, batch jobs, and network logons.
const pipeSecurity = "D:P(A;;GA;;;SY)(A;;GRGW;;;IU)"

// DefaultPath returns the default control endpoint path.
func DefaultPath() string { return `\\.\pipe\echosub-control` }

func listen(path string) (net.Listener, error) {
	return winio.ListenPipe(path, &winio.PipeConfig{
		SecurityDescriptor: pipeSecurity,
		InputBufferSize:    64 * 1024,
		OutputBufferSize:   64 * 1024,
	})
}

// Named pipes vanish with their listener; nothing to clean up.
func cleanup(string) {}
