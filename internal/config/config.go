// Package config loads the voiceturn YAML configuration and converts it into
// the option structs of the pipeline packages.
package config

import (
	"io"
	"log/slog"
	"time"

	"github.com/chriscow/voiceturn/pkg/ai/vad"
	"github.com/chriscow/voiceturn/pkg/playback"
	"github.com/chriscow/voiceturn/pkg/voice"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to its slog level; unknown levels map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogFormat selects the slog handler.
type LogFormat string

const (
	LogFormatJSON    LogFormat = "json"
	LogFormatConsole LogFormat = "console"
)

// Config is the root of the configuration file.
type Config struct {
	Log         LogConfig         `yaml:"log"`
	VAD         VADConfig         `yaml:"vad"`
	Player      PlayerConfig      `yaml:"player"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Worker      WorkerConfig      `yaml:"worker"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  LogLevel  `yaml:"level"`
	Format LogFormat `yaml:"format"`
}

// NewLogger builds a logger writing to w.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.Level.Level()}
	if c.Format == LogFormatConsole {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// VADConfig mirrors vad.Options.
type VADConfig struct {
	Backend             string        `yaml:"backend"`
	Fallback            string        `yaml:"fallback"`
	ActivationThreshold float64       `yaml:"activation_threshold"`
	MinSpeech           time.Duration `yaml:"min_speech"`
	MinSilence          time.Duration `yaml:"min_silence"`
	PrefixPadding       time.Duration `yaml:"prefix_padding"`
	MaxBufferedSpeech   time.Duration `yaml:"max_buffered_speech"`
	SampleRate          int           `yaml:"sample_rate"`
	WindowSize          int           `yaml:"window_size"`
	ModelPath           string        `yaml:"model_path"`
	WebRTCMode          int           `yaml:"webrtc_mode"`
	InputQueueSize      int           `yaml:"input_queue_size"`
}

// PlayerConfig mirrors playback.Config plus the optional background bed.
type PlayerConfig struct {
	SampleRate      int           `yaml:"sample_rate"`
	FrameDuration   time.Duration `yaml:"frame_duration"`
	ChunkSize       int           `yaml:"chunk_size"`
	QueueCapacity   int           `yaml:"queue_capacity"`
	SettleDelay     time.Duration `yaml:"settle_delay"`
	StopTimeout     time.Duration `yaml:"stop_timeout"`
	FetchTimeout    time.Duration `yaml:"fetch_timeout"`
	AlternateOrigin string        `yaml:"alternate_origin"`
	Gain            float64       `yaml:"gain"`

	// BedPath names a background track looped under injected audio.
	BedPath   string  `yaml:"bed_path"`
	BedVolume float64 `yaml:"bed_volume"`
}

// CoordinatorConfig configures the playback state coordinator.
type CoordinatorConfig struct {
	Ceiling time.Duration `yaml:"ceiling"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// WorkerConfig configures the relay connection.
type WorkerConfig struct {
	URL          string        `yaml:"url"`
	Token        string        `yaml:"token"`
	ReconnectMin time.Duration `yaml:"reconnect_min"`
	ReconnectMax time.Duration `yaml:"reconnect_max"`
	PingInterval time.Duration `yaml:"ping_interval"`
}

// Default returns the configuration used for every field the file omits.
func Default() *Config {
	v := vad.DefaultOptions()
	p := playback.DefaultConfig()
	return &Config{
		Log: LogConfig{Level: LogInfo, Format: LogFormatJSON},
		VAD: VADConfig{
			Backend:             string(v.Backend),
			ActivationThreshold: v.ActivationThreshold,
			MinSpeech:           v.MinSpeechDuration,
			MinSilence:          v.MinSilenceDuration,
			PrefixPadding:       v.PrefixPaddingDuration,
			MaxBufferedSpeech:   v.MaxBufferedSpeech,
			SampleRate:          v.SampleRate,
			WebRTCMode:          v.WebRTCMode,
			InputQueueSize:      v.InputQueueSize,
		},
		Player: PlayerConfig{
			SampleRate:    p.SampleRate,
			FrameDuration: p.FrameDuration,
			ChunkSize:     p.ChunkSize,
			QueueCapacity: p.QueueCapacity,
			SettleDelay:   p.SettleDelay,
			StopTimeout:   p.StopTimeout,
			FetchTimeout:  p.FetchTimeout,
			Gain:          p.Gain,
			BedVolume:     0.3,
		},
		Coordinator: CoordinatorConfig{Ceiling: voice.DefaultCeiling},
		Metrics:     MetricsConfig{Addr: ":9090"},
		Worker: WorkerConfig{
			ReconnectMin: 500 * time.Millisecond,
			ReconnectMax: 30 * time.Second,
			PingInterval: 15 * time.Second,
		},
	}
}

// VADOptions converts the vad section.
func (c *Config) VADOptions() vad.Options {
	o := vad.DefaultOptions()
	o.Backend = vad.Backend(c.VAD.Backend)
	o.FallbackBackend = vad.Backend(c.VAD.Fallback)
	o.ActivationThreshold = c.VAD.ActivationThreshold
	o.MinSpeechDuration = c.VAD.MinSpeech
	o.MinSilenceDuration = c.VAD.MinSilence
	o.PrefixPaddingDuration = c.VAD.PrefixPadding
	o.MaxBufferedSpeech = c.VAD.MaxBufferedSpeech
	o.SampleRate = c.VAD.SampleRate
	o.WindowSize = c.VAD.WindowSize
	o.ModelPath = c.VAD.ModelPath
	o.WebRTCMode = c.VAD.WebRTCMode
	if c.VAD.InputQueueSize > 0 {
		o.InputQueueSize = c.VAD.InputQueueSize
	}
	return o
}

// PlayerConfig converts the player section.
func (c *Config) PlayerConfig() playback.Config {
	return playback.Config{
		SampleRate:      c.Player.SampleRate,
		FrameDuration:   c.Player.FrameDuration,
		ChunkSize:       c.Player.ChunkSize,
		QueueCapacity:   c.Player.QueueCapacity,
		SettleDelay:     c.Player.SettleDelay,
		StopTimeout:     c.Player.StopTimeout,
		FetchTimeout:    c.Player.FetchTimeout,
		AlternateOrigin: c.Player.AlternateOrigin,
		Gain:            c.Player.Gain,
	}
}

// CoordinatorOptions converts the coordinator section. Logger and metrics
// are left for the caller.
func (c *Config) CoordinatorOptions() voice.CoordinatorOptions {
	return voice.CoordinatorOptions{Ceiling: c.Coordinator.Ceiling}
}
