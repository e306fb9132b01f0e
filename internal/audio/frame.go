package audio

import "time"

// Frame is one fixed-duration slice of canonical pipeline audio: mono float32
// at the configured target rate.
type Frame struct {
	Samples    []float32
	SampleRate int
	CapturedAt time.Time
}

// Duration returns the frame's play time.
func (f Frame) Duration() time.Duration {
	if f.SampleRate == 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

// Assembler accumulates normalized samples and slices them into fixed-size
// frames, oldest samples first. A hard cap bounds the rolling buffer; samples
// trimmed by the cap are counted so overload is observable.
type Assembler struct {
	sampleRate int
	frameSize  int
	maxBuffer  int

	buf     []float32
	trimmed uint64
}

// NewAssembler creates an assembler emitting frames of frameDuration at
// sampleRate, with the rolling buffer capped at maxBuffer duration of audio.
func NewAssembler(sampleRate int, frameDuration, maxBuffer time.Duration) *Assembler {
	frameSize := int(time.Duration(sampleRate) * frameDuration / time.Second)
	if frameSize < 1 {
		frameSize = 1
	}
	capSamples := int(time.Duration(sampleRate) * maxBuffer / time.Second)
	if capSamples < frameSize {
		capSamples = frameSize
	}
	return &Assembler{
		sampleRate: sampleRate,
		frameSize:  frameSize,
		maxBuffer:  capSamples,
	}
}

// Push appends samples and returns every complete frame now available.
// capturedAt stamps the emitted frames.
func (a *Assembler) Push(samples []float32, capturedAt time.Time) []Frame {
	a.buf = append(a.buf, samples...)

	if over := len(a.buf) - a.maxBuffer; over > 0 {
		a.buf = a.buf[over:]
		a.trimmed += uint64(over)
	}

	var frames []Frame
	for len(a.buf) >= a.frameSize {
		out := make([]float32, a.frameSize)
		copy(out, a.buf[:a.frameSize])
		a.buf = a.buf[a.frameSize:]
		frames = append(frames, Frame{Samples: out, SampleRate: a.sampleRate, CapturedAt: capturedAt})
	}
	return frames
}

// Flush returns the residual partial frame, if any, and resets the buffer.
func (a *Assembler) Flush(capturedAt time.Time) (Frame, bool) {
	if len(a.buf) == 0 {
		return Frame{}, false
	}
	out := make([]float32, len(a.buf))
	copy(out, a.buf)
	a.buf = a.buf[:0]
	return Frame{Samples: out, SampleRate: a.sampleRate, CapturedAt: capturedAt}, true
}

// Pending returns how many buffered samples have not yet formed a frame.
func (a *Assembler) Pending() int { return len(a.buf) }

// Trimmed returns the total samples discarded by the overflow cap.
func (a *Assembler) Trimmed() uint64 { return a.trimmed }

// FrameSize returns the fixed number of samples per emitted frame.
func (a *Assembler) FrameSize() int { return a.frameSize }

// Reset discards all buffered samples, keeping the overflow counter.
func (a *Assembler) Reset() { a.buf = a.buf[:0] }
