package segment

import (
	"fmt"
	"sync"
	"time"

	"github.com/echosub/echosub/internal/audio"
	"github.com/echosub/echosub/internal/logging"
	"github.com/echosub/echosub/internal/vad"
)

var log = logging.L("segment")

// continuationFloor is the lowest continuation threshold, regardless of how
// high the entry threshold is set.
const continuationFloor = 0.15

// Config controls segmentation behavior.
type Config struct {
	// Sensitivity in [0,1]; inverted to the entry threshold (1 - sensitivity).
	Sensitivity float64
	// SmoothingWindow is the trailing moving-average length in windows.
	SmoothingWindow int
	// MinSpeech discards segments shorter than this.
	MinSpeech time.Duration
	// MaxSpeech force-finalizes a segment at this length.
	MaxSpeech time.Duration
	// SilenceTimeout finalizes a segment after this much accumulated silence.
	SilenceTimeout time.Duration
}

// DefaultConfig returns segmentation defaults.
func DefaultConfig() Config {
	return Config{
		Sensitivity:     0.5,
		SmoothingWindow: 12,
		MinSpeech:       300 * time.Millisecond,
		MaxSpeech:       15 * time.Second,
		SilenceTimeout:  500 * time.Millisecond,
	}
}

// Segmenter consumes audio frames and emits speech segments. It is a
// two-state machine (silent / speaking) and serializes all work under one
// mutex: the model state vector is strictly single-writer.
type Segmenter struct {
	mu    sync.Mutex
	cfg   Config
	model vad.Model
	emit  func(Segment)

	entryThreshold float64
	contThreshold  float64

	state      []float32 // model state, threaded through inferences
	window     []float32 // partial window carried between frames
	recent     []float64 // raw probability history for smoothing
	clock      int64     // samples processed, at vad.SampleRate

	speaking     bool
	segStart     float64
	segSamples   []float32
	silenceAccum float64 // seconds of accumulated silence while speaking
	lastVoice    float64 // clock position of the last voiced window
}

// New creates a segmenter that scores windows with model and calls emit for
// every finalized segment. emit runs under the segmenter's lock; keep it
// cheap (hand off to a queue).
func New(cfg Config, model vad.Model, emit func(Segment)) *Segmenter {
	if cfg.SmoothingWindow < 1 {
		cfg.SmoothingWindow = 1
	}
	entry := 1 - cfg.Sensitivity
	if entry <= 0 {
		entry = 0.01
	}
	cont := entry * 0.5
	if cont < continuationFloor {
		cont = continuationFloor
	}
	return &Segmenter{
		cfg:            cfg,
		model:          model,
		emit:           emit,
		entryThreshold: entry,
		contThreshold:  cont,
		state:          vad.NewState(),
		window:         make([]float32, 0, vad.WindowSize),
	}
}

// ProcessFrame slices the frame into model windows and advances the state
// machine. Frames at other sample rates are resampled to the internal rate
// first. Returns the first model error encountered; the stream remains
// usable afterwards.
func (s *Segmenter) ProcessFrame(frame audio.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	samples := frame.Samples
	if frame.SampleRate != vad.SampleRate {
		samples = audio.Resample(samples, frame.SampleRate, vad.SampleRate)
	}

	s.window = append(s.window, samples...)
	for len(s.window) >= vad.WindowSize {
		w := s.window[:vad.WindowSize]
		if err := s.processWindow(w); err != nil {
			return fmt.Errorf("segment: score window: %w", err)
		}
		s.window = s.window[vad.WindowSize:]
	}
	return nil
}

// Flush finalizes and emits the currently open segment, if any. No-op when
// silent. Used at pipeline shutdown and on settings reapplication.
func (s *Segmenter) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.speaking {
		s.finalize(s.now())
	}
	s.window = s.window[:0]
}

// Reset drops all in-flight state, including the model state vector.
func (s *Segmenter) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.speaking = false
	s.segSamples = nil
	s.silenceAccum = 0
	s.window = s.window[:0]
	s.recent = s.recent[:0]
	s.state = vad.NewState()
}

const windowSeconds = float64(vad.WindowSize) / float64(vad.SampleRate)

// now returns the clock position in seconds (end of last processed window).
func (s *Segmenter) now() float64 {
	return float64(s.clock) / float64(vad.SampleRate)
}

func (s *Segmenter) processWindow(w []float32) error {
	prob, next, err := s.model.Infer(w, s.state)
	if err != nil {
		return err
	}
	s.state = next
	s.clock += vad.WindowSize
	now := s.now()

	smoothed := s.smooth(float64(prob))

	if !s.speaking {
		if smoothed >= s.entryThreshold {
			// Back-date the start by one window so the leading edge of
			// speech is kept.
			s.speaking = true
			s.segStart = now - windowSeconds
			s.segSamples = append(s.segSamples[:0], w...)
			s.silenceAccum = 0
			s.lastVoice = now
		}
		return nil
	}

	s.segSamples = append(s.segSamples, w...)

	// Track the end of voiced audio on the raw signal so trailing silence
	// (and the smoothing tail it drags along) is trimmed from the segment.
	if float64(prob) >= s.contThreshold {
		s.lastVoice = now
	}

	switch {
	case smoothed >= s.contThreshold:
		s.silenceAccum = 0
	case smoothed < s.contThreshold/2:
		s.silenceAccum += windowSeconds
	default:
		// Near-speech dips between the two bounds neither accumulate
		// silence nor reset it.
	}

	if s.silenceAccum >= s.cfg.SilenceTimeout.Seconds() {
		s.finalize(s.lastVoice)
		return nil
	}
	if now-s.segStart >= s.cfg.MaxSpeech.Seconds() {
		s.finalize(now)
	}
	return nil
}

// smooth records the raw probability and returns the trailing moving average.
func (s *Segmenter) smooth(prob float64) float64 {
	s.recent = append(s.recent, prob)
	if len(s.recent) > s.cfg.SmoothingWindow {
		s.recent = s.recent[len(s.recent)-s.cfg.SmoothingWindow:]
	}
	var sum float64
	for _, p := range s.recent {
		sum += p
	}
	return sum / float64(len(s.recent))
}

// finalize closes the open segment at end and emits it unless it is shorter
// than the configured minimum. Caller holds the lock.
func (s *Segmenter) finalize(end float64) {
	if end < s.segStart {
		end = s.segStart
	}
	duration := end - s.segStart

	if duration < s.cfg.MinSpeech.Seconds() {
		log.Debug("discarding short segment", logging.KeyDurationMs, int(duration*1000))
	} else {
		samples := make([]float32, len(s.segSamples))
		copy(samples, s.segSamples)
		seg := Segment{
			ID:      newSegmentID(),
			Start:   s.segStart,
			End:     end,
			Samples: samples,
		}
		s.emit(seg)
	}

	s.speaking = false
	s.segSamples = s.segSamples[:0]
	s.silenceAccum = 0
}
