// Package events carries the pipeline's outward-facing event stream: audio
// frames, capture status, subtitle results, and errors. Consumers (feed
// server, control endpoint, tests) subscribe by topic.
package events

import (
	evbus "github.com/asaskevich/EventBus"

	"github.com/echosub/echosub/internal/audio"
)

// Topics.
const (
	TopicAudioFrame    = "pipeline.frame"
	TopicCaptureStatus = "capture.status"
	TopicSubtitle      = "subtitle.result"
	TopicError         = "pipeline.error"
)

// CaptureStatus reports capture lifecycle progress to the UI layer.
type CaptureStatus struct {
	Message   string
	IsWaiting bool
}

// Subtitle is one completed recognition/translation result. Results may
// arrive out of detection order; route by SegmentID.
type Subtitle struct {
	SegmentID      string `json:"segmentId"`
	OriginalText   string `json:"originalText"`
	TranslatedText string `json:"translatedText"`
	IsFinal        bool   `json:"isFinal"`
	FromCache      bool   `json:"fromCache"`
	RecognizeMs    int64  `json:"recognizeMs"`
	TranslateMs    int64  `json:"translateMs"`
}

// Bus is a typed facade over the underlying event bus. One Bus is scoped to
// one application run; sessions publish into it.
type Bus struct {
	bus evbus.Bus
}

func NewBus() *Bus {
	return &Bus{bus: evbus.New()}
}

func (b *Bus) PublishFrame(frame audio.Frame) {
	b.bus.Publish(TopicAudioFrame, frame)
}

func (b *Bus) PublishCaptureStatus(status CaptureStatus) {
	b.bus.Publish(TopicCaptureStatus, status)
}

func (b *Bus) PublishSubtitle(sub Subtitle) {
	b.bus.Publish(TopicSubtitle, sub)
}

func (b *Bus) PublishError(err error) {
	b.bus.Publish(TopicError, err)
}

func (b *Bus) SubscribeFrame(fn func(audio.Frame)) error {
	return b.bus.Subscribe(TopicAudioFrame, fn)
}

func (b *Bus) SubscribeCaptureStatus(fn func(CaptureStatus)) error {
	return b.bus.Subscribe(TopicCaptureStatus, fn)
}

func (b *Bus) SubscribeSubtitle(fn func(Subtitle)) error {
	return b.bus.Subscribe(TopicSubtitle, fn)
}

func (b *Bus) SubscribeError(fn func(error)) error {
	return b.bus.Subscribe(TopicError, fn)
}

func (b *Bus) UnsubscribeSubtitle(fn func(Subtitle)) error {
	return b.bus.Unsubscribe(TopicSubtitle, fn)
}

func (b *Bus) UnsubscribeCaptureStatus(fn func(CaptureStatus)) error {
	return b.bus.Unsubscribe(TopicCaptureStatus, fn)
}
