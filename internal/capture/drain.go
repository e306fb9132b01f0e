package capture

import (
	"context"
	"fmt"
	"time"
)

// idleSleep is how long the drain loop waits when the device has no packet
// pending. Short enough to stay well under one device period.
const idleSleep = 5 * time.Millisecond

// Drain polls stream until ctx is cancelled or a native call fails. Every
// pending packet is copied into a pooled buffer and handed to emit; emit owns
// the packet's buffer afterward. Drain never retries: a fault returns
// immediately so the orchestrator can decide whether to reopen.
func Drain(ctx context.Context, stream Stream, pool *BufferPool, emit func(RawAudioPacket)) error {
	timer := time.NewTimer(idleSleep)
	defer timer.Stop()
	for {
		if ctx.Err() != nil {
			return nil
		}
		pkt, err := stream.ReadPacket(pool)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStreamFault, err)
		}
		if pkt != nil {
			emit(*pkt)
			continue
		}
		timer.Reset(idleSleep)
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
	}
}
