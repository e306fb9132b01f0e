// Package segment turns the continuous normalized audio stream into discrete
// speech segments using a voice-activity model with hysteresis thresholds
// and duration bounds.
package segment

import (
	"github.com/google/uuid"
)

// Segment is one finalized speech utterance. Times are seconds on the
// segmenter's monotonic sample clock. Immutable once emitted.
type Segment struct {
	ID      string
	Start   float64
	End     float64
	Samples []float32 // mono float32 at the segmenter's internal rate
}

// Duration returns the segment length in seconds.
func (s Segment) Duration() float64 { return s.End - s.Start }

func newSegmentID() string { return uuid.NewString() }
