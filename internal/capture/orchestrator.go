package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/echosub/echosub/internal/audio"
	"github.com/echosub/echosub/internal/logging"
)

// State is the orchestrator lifecycle. Transitions are one-way:
// Idle -> Activating -> Capturing -> Stopped, with Activating <-> Capturing
// cycling while the bounded retry loop runs.
type State int32

const (
	StateIdle State = iota
	StateActivating
	StateCapturing
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActivating:
		return "activating"
	case StateCapturing:
		return "capturing"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// OrchestratorConfig carries everything one capture session needs. OnFrame
// and OnStatus are invoked from the capture goroutine and must not block.
type OrchestratorConfig struct {
	Target        Target
	TargetRate    int           // pipeline sample rate, e.g. 16000
	FrameDuration time.Duration // emitted frame length
	MaxBuffer     time.Duration // assembler backlog bound
	RetryAttempts int           // activation attempts before giving up
	RetryInterval time.Duration // pause between attempts
	OnFrame       func(audio.Frame)
	OnStatus      func(message string, waiting bool)
}

// nonSilenceThreshold is the peak amplitude above which the target is
// considered to have produced real audio at least once.
const nonSilenceThreshold = 0.001

// Orchestrator owns one capture session end to end: bounded activation
// retry, the drain loop, and normalization of raw packets into mono frames
// at the pipeline rate. All native work happens on a single goroutine locked
// to its OS thread for the session's lifetime.
type Orchestrator struct {
	cfg    OrchestratorConfig
	opener Opener
	log    *slog.Logger

	state      atomic.Int32
	heardAudio atomic.Bool
	started    atomic.Bool

	cancel context.CancelFunc
	done   chan struct{}

	stopOnce sync.Once

	// capture-goroutine only
	pool        *BufferPool
	assembler   *audio.Assembler
	lastTrimmed uint64
}

func NewOrchestrator(cfg OrchestratorConfig, opener Opener) *Orchestrator {
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 30
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = time.Second
	}
	if cfg.MaxBuffer <= 0 {
		cfg.MaxBuffer = time.Second
	}
	return &Orchestrator{
		cfg:    cfg,
		opener: opener,
		log:    logging.L("capture").With(logging.KeyTargetPID, cfg.Target.PID),
		pool:   NewBufferPool(),
		done:   make(chan struct{}),
	}
}

// Start launches the capture goroutine. Calling it again is a no-op.
func (o *Orchestrator) Start(ctx context.Context) error {
	if !o.started.CompareAndSwap(false, true) {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.state.Store(int32(StateActivating))
	go o.run(runCtx)
	return nil
}

// Stop cancels the session and waits for the capture goroutine to release
// its native handles. Idempotent; safe before Start.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		if o.cancel != nil {
			o.cancel()
		}
		if o.started.Load() {
			<-o.done
		}
		o.state.Store(int32(StateStopped))
	})
}

// State reports the current lifecycle state.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// HeardAudio reports whether any packet has exceeded the silence threshold
// since the current capture attempt began. Lets callers distinguish "no
// speech detected" from "no audio arriving at all".
func (o *Orchestrator) HeardAudio() bool {
	return o.heardAudio.Load()
}

func (o *Orchestrator) run(ctx context.Context) {
	// Activation, start, and every subsequent native call share one OS
	// thread; the platform layer asserts this.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(o.done)
	defer o.state.Store(int32(StateStopped))

	began := time.Now()
	for attempt := 1; attempt <= o.cfg.RetryAttempts; attempt++ {
		if ctx.Err() != nil {
			return
		}
		o.state.Store(int32(StateActivating))
		stream, err := o.opener.Open(ctx, o.cfg.Target)
		if err != nil {
			if errors.Is(err, ErrUnsupportedPlatform) {
				o.log.Error("capture unavailable", logging.KeyError, err)
				o.status(err.Error(), false)
				return
			}
			o.log.Debug("activation attempt failed",
				"attempt", attempt, logging.KeyError, err)
			o.status(fmt.Sprintf("waiting for audio from %s (attempt %d/%d, %s elapsed)",
				o.cfg.Target, attempt, o.cfg.RetryAttempts,
				time.Since(began).Round(time.Second)), true)
			select {
			case <-ctx.Done():
				return
			case <-time.After(o.cfg.RetryInterval):
			}
			continue
		}

		err = o.capture(ctx, stream)
		if ctx.Err() != nil || err == nil {
			return
		}
		// Stream fault mid-capture: start the retry budget over. The
		// target is known to exist, so invalidation is usually a device
		// change or the process exiting.
		o.log.Warn("capture stream fault, reactivating", logging.KeyError, err)
		o.status("audio stream interrupted, reconnecting", true)
		select {
		case <-ctx.Done():
			return
		case <-time.After(o.cfg.RetryInterval):
		}
		attempt = 0
	}
	o.log.Error("giving up on capture",
		"attempts", o.cfg.RetryAttempts)
	o.status(fmt.Sprintf("no audio available from %s", o.cfg.Target), false)
}

// capture runs one activated stream until cancellation or fault. The
// returned error is nil on clean cancellation.
func (o *Orchestrator) capture(ctx context.Context, stream Stream) error {
	defer stream.Stop()

	if err := stream.Start(); err != nil {
		return err
	}
	o.heardAudio.Store(false)
	format := stream.Format()
	o.assembler = audio.NewAssembler(o.cfg.TargetRate, o.cfg.FrameDuration, o.cfg.MaxBuffer)
	o.state.Store(int32(StateCapturing))
	o.log.Info("capturing", "format", format.String())
	o.status("capturing", false)

	err := Drain(ctx, stream, o.pool, func(pkt RawAudioPacket) {
		o.handlePacket(pkt, format)
	})
	if f, ok := o.assembler.Flush(time.Now()); ok {
		o.emit(f)
	}
	return err
}

// handlePacket normalizes one raw packet: decode, downmix, resample, frame.
// Runs on the capture goroutine only.
func (o *Orchestrator) handlePacket(pkt RawAudioPacket, format audio.Format) {
	defer o.pool.Put(pkt.Data)

	samples, err := audio.Decode(pkt.Data, format)
	if err != nil {
		o.log.Warn("dropping undecodable packet", logging.KeyError, err)
		return
	}
	if !pkt.Silent && !o.heardAudio.Load() && audio.Peak(samples) >= nonSilenceThreshold {
		o.heardAudio.Store(true)
		o.log.Debug("first non-silent audio")
	}
	mono := audio.DownmixMono(samples, format.Channels)
	mono = audio.Resample(mono, format.SampleRate, o.cfg.TargetRate)
	for _, f := range o.assembler.Push(mono, time.Now()) {
		o.emit(f)
	}
	if t := o.assembler.Trimmed(); t > o.lastTrimmed {
		o.log.Warn("frame backlog overflow, oldest audio dropped",
			"trimmedSamples", t-o.lastTrimmed)
		o.lastTrimmed = t
	}
}

func (o *Orchestrator) emit(f audio.Frame) {
	if o.cfg.OnFrame != nil {
		o.cfg.OnFrame(f)
	}
}

func (o *Orchestrator) status(msg string, waiting bool) {
	if o.cfg.OnStatus != nil {
		o.cfg.OnStatus(msg, waiting)
	}
}
