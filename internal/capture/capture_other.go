//go:build !windows

package capture

import "context"

// NewOpener returns an opener that always fails: process-scoped loopback
// capture needs platform support that only exists on Windows.
func NewOpener() Opener { return unsupportedOpener{} }

type unsupportedOpener struct{}

func (unsupportedOpener) Open(context.Context, Target) (Stream, error) {
	return nil, ErrUnsupportedPlatform
}
