package session

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/echosub/echosub/internal/audio"
	"github.com/echosub/echosub/internal/capture"
	"github.com/echosub/echosub/internal/config"
	"github.com/echosub/echosub/internal/events"
	"github.com/echosub/echosub/internal/stt"
)

// sessStream serves scripted 16 kHz mono float packets, then idles.
type sessStream struct {
	mu      sync.Mutex
	packets [][]byte
	idx     int
}

func (s *sessStream) Start() error { return nil }
func (s *sessStream) Stop()        {}

func (s *sessStream) Format() audio.Format {
	return audio.Format{SampleRate: 16000, Channels: 1, BitsPerSample: 32, Encoding: audio.EncodingFloat}
}

func (s *sessStream) ReadPacket(pool *capture.BufferPool) (*capture.RawAudioPacket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idx >= len(s.packets) {
		return nil, nil
	}
	data := s.packets[s.idx]
	s.idx++
	buf := pool.Get(len(data))
	copy(buf, data)
	return &capture.RawAudioPacket{Data: buf, Frames: len(data) / 4}, nil
}

type sessOpener struct {
	mu      sync.Mutex
	opens   int
	packets [][]byte
}

func (o *sessOpener) Open(context.Context, capture.Target) (capture.Stream, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opens++
	return &sessStream{packets: o.packets}, nil
}

func (o *sessOpener) openCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens
}

type stubTranscriber struct{ text string }

func (s *stubTranscriber) IsModelLoaded() bool { return true }

func (s *stubTranscriber) Transcribe(_ context.Context, samples []float32, _ int) (stt.Result, error) {
	return stt.Result{Text: s.text, IsFinal: true}, nil
}

func stubRecognizer(t *testing.T, text string) {
	t.Helper()
	orig := newTranscriber
	newTranscriber = func(_, _ string) (stt.Transcriber, func() error, error) {
		return &stubTranscriber{text: text}, func() error { return nil }, nil
	}
	t.Cleanup(func() { newTranscriber = orig })
}

func packetOf(amplitude float32, n int) []byte {
	out := make([]byte, 4*n)
	bits := math.Float32bits(amplitude)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint32(out[4*i:], bits)
	}
	return out
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.TargetPID = 4242
	cfg.WhisperModelPath = "model.bin"
	return cfg
}

func TestSessionEndToEndSubtitle(t *testing.T) {
	stubRecognizer(t, "hello world")

	// One second of loud audio followed by enough silence to trip the
	// segmenter's timeout.
	opener := &sessOpener{packets: [][]byte{
		packetOf(0.5, 16000),
		packetOf(0, 16000),
		packetOf(0, 16000),
	}}
	bus := events.NewBus()
	subs := make(chan events.Subtitle, 4)
	if err := bus.SubscribeSubtitle(func(sub events.Subtitle) { subs <- sub }); err != nil {
		t.Fatal(err)
	}

	s := New(testConfig(), bus, opener)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	select {
	case sub := <-subs:
		if sub.OriginalText != "hello world" {
			t.Errorf("OriginalText = %q, want %q", sub.OriginalText, "hello world")
		}
		if sub.TranslatedText != "" {
			t.Errorf("TranslatedText = %q, want empty without a translator", sub.TranslatedText)
		}
		if sub.SegmentID == "" {
			t.Error("SegmentID empty")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no subtitle produced")
	}
}

func TestSessionStartRequiresTarget(t *testing.T) {
	stubRecognizer(t, "x")
	cfg := testConfig()
	cfg.TargetPID = 0
	s := New(cfg, events.NewBus(), &sessOpener{})
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("Start succeeded without a target")
	}
}

func TestSessionStartStopIdempotent(t *testing.T) {
	stubRecognizer(t, "x")
	opener := &sessOpener{}
	s := New(testConfig(), events.NewBus(), opener)

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if got := opener.openCount(); got != 1 {
		t.Errorf("open count after double Start = %d, want 1", got)
	}
	s.Stop()
	s.Stop()
	if s.Status().Running {
		t.Error("still running after Stop")
	}
}

func TestSessionApplyTuningWithoutRestart(t *testing.T) {
	stubRecognizer(t, "x")
	opener := &sessOpener{}
	s := New(testConfig(), events.NewBus(), opener)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	cfg := testConfig()
	cfg.VadSensitivity = 0.8
	cfg.SilenceTimeoutMs = 900
	if err := s.Apply(cfg); err != nil {
		t.Fatal(err)
	}
	if got := opener.openCount(); got != 1 {
		t.Errorf("open count = %d, want 1 (tuning change must not restart)", got)
	}
}

func TestSessionApplyTargetChangeRestarts(t *testing.T) {
	stubRecognizer(t, "x")
	opener := &sessOpener{}
	s := New(testConfig(), events.NewBus(), opener)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	cfg := testConfig()
	cfg.TargetPID = 9999
	if err := s.Apply(cfg); err != nil {
		t.Fatal(err)
	}
	if got := opener.openCount(); got < 2 {
		t.Errorf("open count = %d, want >= 2 after target change", got)
	}
	if got := s.Status().TargetPID; got != 9999 {
		t.Errorf("TargetPID = %d, want 9999", got)
	}
}

func TestSessionStatusWhenStopped(t *testing.T) {
	s := New(testConfig(), events.NewBus(), &sessOpener{})
	st := s.Status()
	if st.Running {
		t.Error("Running = true for new session")
	}
	if st.TargetPID != 4242 {
		t.Errorf("TargetPID = %d, want 4242", st.TargetPID)
	}
}
