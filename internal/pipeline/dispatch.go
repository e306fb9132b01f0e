package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/echosub/echosub/internal/events"
	"github.com/echosub/echosub/internal/logging"
	"github.com/echosub/echosub/internal/stt"
	"github.com/echosub/echosub/internal/translate"
)

var log = logging.L("pipeline")

// DispatcherConfig wires the dispatcher to its collaborators.
type DispatcherConfig struct {
	Concurrency    int // max simultaneous inference workers
	SampleRate     int // rate of segment samples
	SourceLanguage string
	TargetLanguage string

	Transcriber stt.Transcriber
	Translator  translate.Translator // nil disables translation

	OnResult func(events.Subtitle)
	OnError  func(error)
}

// Dispatcher drains the segment queue and fans items out to a worker pool
// bounded by a weighted semaphore: at most Concurrency segments are being
// transcribed/translated at once, however bursty arrivals are. Per-item
// failures are reported and isolated.
type Dispatcher struct {
	cfg   DispatcherConfig
	queue *Queue
	sem   *semaphore.Weighted

	ctx      context.Context
	cancel   context.CancelFunc
	readerWg sync.WaitGroup
	workerWg sync.WaitGroup
	started  bool
	mu       sync.Mutex
}

// NewDispatcher creates a dispatcher reading from queue.
func NewDispatcher(cfg DispatcherConfig, queue *Queue) *Dispatcher {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		cfg:    cfg,
		queue:  queue,
		sem:    semaphore.NewWeighted(int64(cfg.Concurrency)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the single queue reader. Idempotent.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true

	d.readerWg.Add(1)
	go d.readLoop()
}

func (d *Dispatcher) readLoop() {
	defer d.readerWg.Done()

	for {
		item, ok := d.queue.Pop(d.ctx)
		if !ok {
			return
		}
		if err := d.sem.Acquire(d.ctx, 1); err != nil {
			return // shutting down
		}
		d.workerWg.Add(1)
		go func(item WorkItem) {
			defer d.workerWg.Done()
			defer d.sem.Release(1)
			d.process(item)
		}(item)
	}
}

// process runs one work item end to end. Failures never escape: they are
// reported through OnError and the sibling items keep flowing.
func (d *Dispatcher) process(item WorkItem) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("segment worker panicked", "panic", r, "stack", string(debug.Stack()))
			d.reportError(fmt.Errorf("pipeline: segment %s panicked: %v", item.Segment.ID, r))
		}
	}()

	if !d.cfg.Transcriber.IsModelLoaded() {
		log.Warn("recognition model not loaded, dropping segment", logging.KeySegmentID, item.Segment.ID)
		return
	}

	recStart := time.Now()
	res, err := d.cfg.Transcriber.Transcribe(d.ctx, item.Segment.Samples, d.cfg.SampleRate)
	if err != nil {
		d.reportError(fmt.Errorf("pipeline: transcribe segment %s: %w", item.Segment.ID, err))
		return
	}
	recTime := time.Since(recStart)

	if stt.IsBlank(res.Text) {
		log.Debug("blank recognition, skipping", logging.KeySegmentID, item.Segment.ID)
		return
	}

	sub := events.Subtitle{
		SegmentID:    item.Segment.ID,
		OriginalText: res.Text,
		IsFinal:      res.IsFinal,
		RecognizeMs:  recTime.Milliseconds(),
	}

	if d.cfg.Translator != nil && d.cfg.Translator.IsReady() {
		trStart := time.Now()
		tr, err := d.cfg.Translator.Translate(d.ctx, res.Text, d.cfg.SourceLanguage, d.cfg.TargetLanguage)
		if err != nil {
			// Surface the original text anyway; a missing translation is
			// better than a missing subtitle.
			d.reportError(fmt.Errorf("pipeline: translate segment %s: %w", item.Segment.ID, err))
		} else {
			sub.TranslatedText = tr.TranslatedText
			sub.FromCache = tr.FromCache
			sub.TranslateMs = time.Since(trStart).Milliseconds()
		}
	}

	if d.cfg.OnResult != nil {
		d.cfg.OnResult(sub)
	}
}

func (d *Dispatcher) reportError(err error) {
	if d.cfg.OnError != nil {
		d.cfg.OnError(err)
	}
}

// Stop closes the queue, waits up to grace for in-flight work, then abandons
// whatever is still outstanding. Never deadlocks on a stuck worker.
// Idempotent.
func (d *Dispatcher) Stop(grace time.Duration) {
	d.queue.Close()

	done := make(chan struct{})
	go func() {
		d.readerWg.Wait()
		d.workerWg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		log.Warn("dispatch drain timed out, abandoning in-flight segments")
	}
	d.cancel()
}
