package config

import (
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config is the full on-disk configuration. One immutable snapshot is taken
// per capture session; live changes arrive through Watch.
type Config struct {
	// Capture target. PID 0 means no target selected yet.
	TargetPID          int  `mapstructure:"target_pid"`
	IncludeProcessTree bool `mapstructure:"include_process_tree"`

	// Pipeline audio format.
	SampleRate      int `mapstructure:"sample_rate"`
	FrameDurationMs int `mapstructure:"frame_duration_ms"`

	// Voice-activity segmentation.
	VadSensitivity    float64 `mapstructure:"vad_sensitivity"` // 0..1, inverted to a threshold
	VadModelPath      string  `mapstructure:"vad_model_path"`  // empty = built-in energy model
	MinSpeechMs       int     `mapstructure:"min_speech_ms"`
	MaxSpeechMs       int     `mapstructure:"max_speech_ms"`
	SilenceTimeoutMs  int     `mapstructure:"silence_timeout_ms"`

	// Dispatch.
	QueueCapacity     int `mapstructure:"queue_capacity"`
	WorkerConcurrency int `mapstructure:"worker_concurrency"`

	// Recognition / translation collaborators.
	WhisperModelPath string `mapstructure:"whisper_model_path"`
	SourceLanguage   string `mapstructure:"source_language"`
	TargetLanguage   string `mapstructure:"target_language"`
	OpenAIBaseURL    string `mapstructure:"openai_base_url"`
	OpenAIKey        string `mapstructure:"openai_key"`
	TranslateModel   string `mapstructure:"translate_model"`

	// Local surfaces.
	FeedListenAddr string `mapstructure:"feed_listen_addr"`
	ControlPipe    string `mapstructure:"control_pipe"`

	// Logging.
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
	LogFile   string `mapstructure:"log_file"`
}

func Default() *Config {
	return &Config{
		SampleRate:        16000,
		FrameDurationMs:   100,
		VadSensitivity:    0.5,
		MinSpeechMs:       300,
		MaxSpeechMs:       15000,
		SilenceTimeoutMs:  500,
		QueueCapacity:     100,
		WorkerConcurrency: 2,
		SourceLanguage:    "auto",
		TargetLanguage:    "en",
		TranslateModel:    "gpt-4o-mini",
		FeedListenAddr:    "127.0.0.1:8787",
		LogLevel:          "info",
		LogFormat:         "text",
	}
}

var (
	watchMu  sync.Mutex
	watching bool
)

func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("echosub")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(configDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("ECHOSUB")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Watch registers onChange to run with a freshly unmarshalled snapshot every
// time the config file changes on disk. Snapshots that fail validation are
// dropped. Safe to call once; later calls only replace the callback.
func Watch(onChange func(*Config)) {
	watchMu.Lock()
	defer watchMu.Unlock()

	viper.OnConfigChange(func(fsnotify.Event) {
		cfg := Default()
		if err := viper.Unmarshal(cfg); err != nil {
			return
		}
		cfg.Validate() // clamp before handing out
		onChange(cfg)
	})
	if !watching {
		viper.WatchConfig()
		watching = true
	}
}

func Save(cfg *Config) error {
	return SaveTo(cfg, "")
}

func SaveTo(cfg *Config, cfgFile string) error {
	viper.Set("target_pid", cfg.TargetPID)
	viper.Set("include_process_tree", cfg.IncludeProcessTree)
	viper.Set("sample_rate", cfg.SampleRate)
	viper.Set("frame_duration_ms", cfg.FrameDurationMs)
	viper.Set("vad_sensitivity", cfg.VadSensitivity)
	viper.Set("vad_model_path", cfg.VadModelPath)
	viper.Set("min_speech_ms", cfg.MinSpeechMs)
	viper.Set("max_speech_ms", cfg.MaxSpeechMs)
	viper.Set("silence_timeout_ms", cfg.SilenceTimeoutMs)
	viper.Set("queue_capacity", cfg.QueueCapacity)
	viper.Set("worker_concurrency", cfg.WorkerConcurrency)
	viper.Set("whisper_model_path", cfg.WhisperModelPath)
	viper.Set("source_language", cfg.SourceLanguage)
	viper.Set("target_language", cfg.TargetLanguage)
	viper.Set("openai_base_url", cfg.OpenAIBaseURL)
	viper.Set("openai_key", cfg.OpenAIKey)
	viper.Set("translate_model", cfg.TranslateModel)
	viper.Set("feed_listen_addr", cfg.FeedListenAddr)
	viper.Set("control_pipe", cfg.ControlPipe)
	viper.Set("log_level", cfg.LogLevel)
	viper.Set("log_format", cfg.LogFormat)
	viper.Set("log_file", cfg.LogFile)

	var cfgPath string
	if cfgFile != "" {
		cfgPath = cfgFile
		if dir := filepath.Dir(cfgPath); dir != "." {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return err
			}
		}
	} else {
		cfgPath = filepath.Join(configDir(), "echosub.yaml")
		if err := os.MkdirAll(configDir(), 0700); err != nil {
			return err
		}
	}

	if err := viper.WriteConfigAs(cfgPath); err != nil {
		return err
	}

	// Restrict config file to owner-only access (contains API key)
	return os.Chmod(cfgPath, 0600)
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("AppData"), "Echosub")
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "Echosub")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "echosub")
	}
}
