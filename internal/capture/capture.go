// Package capture binds a native process-scoped loopback stream to the
// pipeline: activation, packet draining, normalization, and framing.
package capture

import (
	"context"
	"errors"
	"fmt"

	"github.com/echosub/echosub/internal/audio"
)

// Target identifies what to capture. The native device scopes audio by
// process tree: IncludeTree true captures the tree rooted at PID, false
// captures everything on the endpoint except that tree. Immutable for one
// capture session.
type Target struct {
	PID         uint32
	IncludeTree bool
}

func (t Target) String() string {
	if t.IncludeTree {
		return fmt.Sprintf("pid %d tree", t.PID)
	}
	return fmt.Sprintf("all but pid %d tree", t.PID)
}

// RawAudioPacket is one drained native packet. Data is a pooled buffer; the
// consumer returns it to the pool when finished. Single hop from the drain
// loop to the orchestrator, never shared.
type RawAudioPacket struct {
	Data   []byte
	Frames int
	Silent bool
}

// Stream is an activated native capture stream. All methods must be called
// from the goroutine (locked OS thread) that opened it; see Opener.
type Stream interface {
	// Start begins native capture.
	Start() error
	// Stop halts capture and releases every native handle, in reverse
	// acquisition order. Idempotent.
	Stop()
	// Format returns the negotiated wave format.
	Format() audio.Format
	// ReadPacket copies the next pending packet into a pooled buffer.
	// Returns (nil, nil) when no packet is pending.
	ReadPacket(pool *BufferPool) (*RawAudioPacket, error)
}

// Opener activates capture streams. The platform implementation requires the
// calling goroutine to stay locked to one OS thread across Open, Start, and
// all ReadPacket calls: the platform records the activation thread as the
// stream's callback context, and violating that yields silent placeholder
// audio instead of an error.
type Opener interface {
	Open(ctx context.Context, target Target) (Stream, error)
}

// Error taxonomy.
var (
	// ErrActivationTimeout: the async activation never completed.
	ErrActivationTimeout = errors.New("capture: activation timed out")
	// ErrUnsupportedPlatform: process-scoped loopback is unavailable here.
	// Fatal; the orchestrator does not retry it.
	ErrUnsupportedPlatform = errors.New("capture: process loopback capture not supported on this platform")
	// ErrStreamFault: a native call failed mid-capture; the drain loop has
	// terminated and the stream must be reopened.
	ErrStreamFault = errors.New("capture: native stream fault")
	// ErrFormatNegotiation: the endpoint rejected the float capture format,
	// including the 48 kHz stereo fallback.
	ErrFormatNegotiation = errors.New("capture: wave format rejected by endpoint")
)

// ActivationError is a non-success platform status from activation or
// initialization. Retried by the orchestrator's bounded loop.
type ActivationError struct {
	Op   string
	Code uint32
}

func (e *ActivationError) Error() string {
	return fmt.Sprintf("capture: %s failed: 0x%08X", e.Op, e.Code)
}
