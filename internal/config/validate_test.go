package config

import "testing"

func TestValidateDefaultsClean(t *testing.T) {
	cfg := Default()
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Fatalf("default config should validate cleanly, got %v", errs)
	}
}

func TestValidateClampsPipelineValues(t *testing.T) {
	cfg := Default()
	cfg.SampleRate = 12345
	cfg.FrameDurationMs = 5
	cfg.VadSensitivity = 1.5
	cfg.WorkerConcurrency = 0
	cfg.QueueCapacity = -3
	cfg.SilenceTimeoutMs = 10

	errs := cfg.Validate()
	if len(errs) == 0 {
		t.Fatal("expected validation errors")
	}

	if cfg.SampleRate != 16000 {
		t.Errorf("SampleRate = %d, want 16000", cfg.SampleRate)
	}
	if cfg.FrameDurationMs != 10 {
		t.Errorf("FrameDurationMs = %d, want 10", cfg.FrameDurationMs)
	}
	if cfg.VadSensitivity != 0.5 {
		t.Errorf("VadSensitivity = %.2f, want 0.5", cfg.VadSensitivity)
	}
	if cfg.WorkerConcurrency != 1 {
		t.Errorf("WorkerConcurrency = %d, want 1", cfg.WorkerConcurrency)
	}
	if cfg.QueueCapacity != 1 {
		t.Errorf("QueueCapacity = %d, want 1", cfg.QueueCapacity)
	}
	if cfg.SilenceTimeoutMs != 100 {
		t.Errorf("SilenceTimeoutMs = %d, want 100", cfg.SilenceTimeoutMs)
	}
}

func TestValidateSpeechDurationOrdering(t *testing.T) {
	cfg := Default()
	cfg.MinSpeechMs = 20000
	cfg.MaxSpeechMs = 15000

	cfg.Validate()
	if cfg.MinSpeechMs != 0 {
		t.Errorf("MinSpeechMs = %d, want 0 after ordering fix", cfg.MinSpeechMs)
	}
}

func TestValidateLogLevel(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "verbose"
	cfg.Validate()
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
}
