package config

import (
	"fmt"
	"strings"
)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// Validate checks the config for invalid values and returns all errors found.
// Dangerous zero-values that would break the pipeline are clamped to safe
// defaults; other findings are reported but do not prevent startup.
func (c *Config) Validate() []error {
	var errs []error

	if c.TargetPID < 0 {
		errs = append(errs, fmt.Errorf("target_pid %d is negative, clearing", c.TargetPID))
		c.TargetPID = 0
	}

	switch c.SampleRate {
	case 8000, 16000, 22050, 24000, 32000, 44100, 48000:
	default:
		errs = append(errs, fmt.Errorf("sample_rate %d is not a supported rate, using 16000", c.SampleRate))
		c.SampleRate = 16000
	}

	if c.FrameDurationMs < 10 {
		errs = append(errs, fmt.Errorf("frame_duration_ms %d is below minimum 10, clamping", c.FrameDurationMs))
		c.FrameDurationMs = 10
	} else if c.FrameDurationMs > 1000 {
		errs = append(errs, fmt.Errorf("frame_duration_ms %d exceeds maximum 1000, clamping", c.FrameDurationMs))
		c.FrameDurationMs = 1000
	}

	if c.VadSensitivity < 0 || c.VadSensitivity > 1 {
		errs = append(errs, fmt.Errorf("vad_sensitivity %.2f outside [0,1], using 0.5", c.VadSensitivity))
		c.VadSensitivity = 0.5
	}

	if c.MinSpeechMs < 0 {
		errs = append(errs, fmt.Errorf("min_speech_ms %d is negative, clearing", c.MinSpeechMs))
		c.MinSpeechMs = 0
	}
	if c.MaxSpeechMs < 1000 {
		errs = append(errs, fmt.Errorf("max_speech_ms %d is below minimum 1000, clamping", c.MaxSpeechMs))
		c.MaxSpeechMs = 1000
	}
	if c.MinSpeechMs >= c.MaxSpeechMs {
		errs = append(errs, fmt.Errorf("min_speech_ms %d >= max_speech_ms %d, clearing minimum", c.MinSpeechMs, c.MaxSpeechMs))
		c.MinSpeechMs = 0
	}
	if c.SilenceTimeoutMs < 100 {
		errs = append(errs, fmt.Errorf("silence_timeout_ms %d is below minimum 100, clamping", c.SilenceTimeoutMs))
		c.SilenceTimeoutMs = 100
	}

	if c.QueueCapacity < 1 {
		errs = append(errs, fmt.Errorf("queue_capacity %d is below minimum 1, clamping", c.QueueCapacity))
		c.QueueCapacity = 1
	}
	if c.WorkerConcurrency < 1 {
		errs = append(errs, fmt.Errorf("worker_concurrency %d is below minimum 1, clamping", c.WorkerConcurrency))
		c.WorkerConcurrency = 1
	} else if c.WorkerConcurrency > 16 {
		errs = append(errs, fmt.Errorf("worker_concurrency %d exceeds maximum 16, clamping", c.WorkerConcurrency))
		c.WorkerConcurrency = 16
	}

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Errorf("unknown log_level %q, using info", c.LogLevel))
		c.LogLevel = "info"
	}

	return errs
}
