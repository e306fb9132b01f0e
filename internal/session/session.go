// Package session owns one live subtitle pipeline: capture feeding the
// segmenter, segments feeding the dispatch queue, results feeding the bus.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/echosub/echosub/internal/audio"
	"github.com/echosub/echosub/internal/capture"
	"github.com/echosub/echosub/internal/config"
	"github.com/echosub/echosub/internal/events"
	"github.com/echosub/echosub/internal/logging"
	"github.com/echosub/echosub/internal/pipeline"
	"github.com/echosub/echosub/internal/segment"
	"github.com/echosub/echosub/internal/stt"
	"github.com/echosub/echosub/internal/translate"
	"github.com/echosub/echosub/internal/vad"
)

// stopGrace bounds how long Stop waits for in-flight inference.
const stopGrace = 5 * time.Second

// Session wires a capture orchestrator, segmenter, and dispatcher together
// for one target process. Start and Stop are idempotent; Apply reconfigures
// a running session, restarting only when the change demands it.
type Session struct {
	mu      sync.Mutex
	cfg     *config.Config
	bus     *events.Bus
	opener  capture.Opener
	log     *slog.Logger
	id      string
	running bool

	ctx context.Context // from the Start that brought the session up

	orch     *capture.Orchestrator
	queue    *pipeline.Queue
	disp     *pipeline.Dispatcher
	sttClose func() error
	vadModel vad.Model
	vadClose func()

	// segMu guards the segmenter pointer; the capture goroutine reads it
	// on every frame while Apply may swap it.
	segMu sync.Mutex
	seg   *segment.Segmenter
}

// New creates a stopped session. opener nil selects the platform opener.
func New(cfg *config.Config, bus *events.Bus, opener capture.Opener) *Session {
	if opener == nil {
		opener = capture.NewOpener()
	}
	return &Session{
		cfg:    cfg,
		bus:    bus,
		opener: opener,
		log:    logging.L("session"),
	}
}

// Start brings the pipeline up. No-op when already running.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.ctx = ctx
	return s.startLocked()
}

func (s *Session) startLocked() error {
	cfg := s.cfg
	if cfg.TargetPID <= 0 {
		return errors.New("session: no capture target configured")
	}
	if cfg.WhisperModelPath == "" {
		return errors.New("session: whisper model path not configured")
	}

	s.id = uuid.NewString()
	s.log = logging.L("session").With(logging.KeySessionID, s.id)

	transcriber, closeTranscriber, err := newTranscriber(cfg.WhisperModelPath, cfg.SourceLanguage)
	if err != nil {
		return fmt.Errorf("session: loading recognizer: %w", err)
	}
	s.sttClose = closeTranscriber

	model, closeModel := s.buildVadModel(cfg)
	s.vadModel = model
	s.vadClose = closeModel

	var translator translate.Translator
	if cfg.OpenAIKey != "" {
		translator = translate.NewOpenAI(translate.Config{
			BaseURL: cfg.OpenAIBaseURL,
			APIKey:  cfg.OpenAIKey,
			Model:   cfg.TranslateModel,
		})
	}

	s.queue = pipeline.NewQueue(cfg.QueueCapacity)
	s.disp = pipeline.NewDispatcher(pipeline.DispatcherConfig{
		Concurrency:    cfg.WorkerConcurrency,
		SampleRate:     cfg.SampleRate,
		SourceLanguage: cfg.SourceLanguage,
		TargetLanguage: cfg.TargetLanguage,
		Transcriber:    transcriber,
		Translator:     translator,
		OnResult:       s.bus.PublishSubtitle,
		OnError:        s.bus.PublishError,
	}, s.queue)

	s.segMu.Lock()
	s.seg = segment.New(segmenterConfig(cfg), model, s.enqueue)
	s.segMu.Unlock()

	s.orch = capture.NewOrchestrator(capture.OrchestratorConfig{
		Target: capture.Target{
			PID:         uint32(cfg.TargetPID),
			IncludeTree: cfg.IncludeProcessTree,
		},
		TargetRate:    cfg.SampleRate,
		FrameDuration: time.Duration(cfg.FrameDurationMs) * time.Millisecond,
		OnFrame:       s.handleFrame,
		OnStatus: func(msg string, waiting bool) {
			s.bus.PublishCaptureStatus(events.CaptureStatus{Message: msg, IsWaiting: waiting})
		},
	}, s.opener)

	s.disp.Start()
	if err := s.orch.Start(s.ctx); err != nil {
		s.teardownLocked()
		return err
	}
	s.running = true
	s.log.Info("session started",
		logging.KeyTargetPID, cfg.TargetPID,
		"sourceLanguage", cfg.SourceLanguage,
		"targetLanguage", cfg.TargetLanguage,
		"translation", translator != nil)
	return nil
}

// Stop tears the pipeline down, flushing any open segment through inference
// within the grace period. No-op when not running.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	s.teardownLocked()
	s.log.Info("session stopped")
}

func (s *Session) teardownLocked() {
	if s.orch != nil {
		s.orch.Stop()
	}
	s.segMu.Lock()
	if s.seg != nil {
		s.seg.Flush()
	}
	s.segMu.Unlock()
	if s.disp != nil {
		s.disp.Stop(stopGrace)
	}
	if s.sttClose != nil {
		_ = s.sttClose()
		s.sttClose = nil
	}
	if s.vadClose != nil {
		s.vadClose()
		s.vadClose = nil
	}
}

// Apply installs a new configuration snapshot. Segmentation tuning is
// swapped in place after flushing the open segment; changes to the target,
// audio format, models, or languages restart the pipeline.
func (s *Session) Apply(cfg *config.Config) error {
	cfg.Validate()
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.cfg
	s.cfg = cfg
	if !s.running {
		return nil
	}
	if needsRestart(old, cfg) {
		s.log.Info("config change requires pipeline restart")
		s.teardownLocked()
		if err := s.startLocked(); err != nil {
			s.running = false
			return err
		}
		return nil
	}
	if segmenterConfig(old) != segmenterConfig(cfg) {
		s.segMu.Lock()
		s.seg.Flush()
		s.seg = segment.New(segmenterConfig(cfg), s.vadModel, s.enqueue)
		s.segMu.Unlock()
		s.log.Info("segmenter settings reapplied")
	}
	return nil
}

func needsRestart(old, cur *config.Config) bool {
	return old.TargetPID != cur.TargetPID ||
		old.IncludeProcessTree != cur.IncludeProcessTree ||
		old.SampleRate != cur.SampleRate ||
		old.FrameDurationMs != cur.FrameDurationMs ||
		old.VadModelPath != cur.VadModelPath ||
		old.WhisperModelPath != cur.WhisperModelPath ||
		old.SourceLanguage != cur.SourceLanguage ||
		old.TargetLanguage != cur.TargetLanguage ||
		old.OpenAIBaseURL != cur.OpenAIBaseURL ||
		old.OpenAIKey != cur.OpenAIKey ||
		old.TranslateModel != cur.TranslateModel ||
		old.QueueCapacity != cur.QueueCapacity ||
		old.WorkerConcurrency != cur.WorkerConcurrency
}

// SetTarget retargets the session. A running session restarts its capture
// pipeline against the new process.
func (s *Session) SetTarget(pid uint32, includeTree bool) error {
	s.mu.Lock()
	cfg := *s.cfg
	s.mu.Unlock()
	cfg.TargetPID = int(pid)
	cfg.IncludeProcessTree = includeTree
	return s.Apply(&cfg)
}

// Status is a point-in-time snapshot for the control surface.
type Status struct {
	Running      bool   `json:"running"`
	SessionID    string `json:"sessionId,omitempty"`
	CaptureState string `json:"captureState"`
	TargetPID    int    `json:"targetPid"`
	HeardAudio   bool   `json:"heardAudio"`
	QueueLen     int    `json:"queueLen"`
	QueueDropped uint64 `json:"queueDropped"`
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Running:      s.running,
		TargetPID:    s.cfg.TargetPID,
		CaptureState: capture.StateIdle.String(),
	}
	if s.running {
		st.SessionID = s.id
		st.CaptureState = s.orch.State().String()
		st.HeardAudio = s.orch.HeardAudio()
		st.QueueLen = s.queue.Len()
		st.QueueDropped = s.queue.Dropped()
	}
	return st
}

func (s *Session) handleFrame(f audio.Frame) {
	s.segMu.Lock()
	seg := s.seg
	s.segMu.Unlock()
	if seg == nil {
		return
	}
	if err := seg.ProcessFrame(f); err != nil {
		s.log.Error("segmentation failed", logging.KeyError, err)
		s.bus.PublishError(err)
		return
	}
	s.bus.PublishFrame(f)
}

func (s *Session) enqueue(seg segment.Segment) {
	if !s.queue.Push(seg) {
		s.log.Debug("segment arrived after queue close",
			logging.KeySegmentID, seg.ID)
	}
}

func (s *Session) buildVadModel(cfg *config.Config) (vad.Model, func()) {
	if cfg.VadModelPath != "" {
		silero, err := vad.NewSilero(cfg.VadModelPath)
		if err == nil {
			s.log.Info("using silero vad model", "path", cfg.VadModelPath)
			return silero, silero.Close
		}
		s.log.Warn("silero model unavailable, falling back to energy vad",
			logging.KeyError, err)
	}
	return vad.NewEnergy(), func() {}
}

// newTranscriber builds the speech recognizer. Indirected so the heavy
// model load can be substituted.
var newTranscriber = func(modelPath, language string) (stt.Transcriber, func() error, error) {
	w, err := stt.NewWhisper(modelPath, language)
	if err != nil {
		return nil, nil, err
	}
	return w, w.Close, nil
}

func segmenterConfig(cfg *config.Config) segment.Config {
	return segment.Config{
		Sensitivity:     cfg.VadSensitivity,
		SmoothingWindow: segment.DefaultConfig().SmoothingWindow,
		MinSpeech:       time.Duration(cfg.MinSpeechMs) * time.Millisecond,
		MaxSpeech:       time.Duration(cfg.MaxSpeechMs) * time.Millisecond,
		SilenceTimeout:  time.Duration(cfg.SilenceTimeoutMs) * time.Millisecond,
	}
}
