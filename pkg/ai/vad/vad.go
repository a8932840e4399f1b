// Package vad turns a stream of PCM frames into speech/silence events.
//
// An Engine wraps one classifier backend chosen by Options.Backend. Each
// Stream owns a backend session (with its own recurrent state), a resampling
// converter and a Segmenter, and runs inference on its own goroutine.
package vad

import (
	"errors"
	"fmt"
	"time"

	"github.com/chriscow/voiceturn/pkg/ai"
	"github.com/chriscow/voiceturn/pkg/rtc"
)

// PluginKind is the registry kind under which VAD backends register.
const PluginKind = "vad"

// Backend names a classifier implementation.
type Backend string

const (
	BackendSilero Backend = "silero"
	BackendWebRTC Backend = "webrtc"
	BackendEnergy Backend = "energy"
	BackendFake   Backend = "fake"
)

// DefaultFallback returns the backend tried when b fails to initialize.
func (b Backend) DefaultFallback() Backend {
	switch b {
	case BackendSilero:
		return BackendWebRTC
	case BackendWebRTC:
		return BackendEnergy
	default:
		return BackendWebRTC
	}
}

// EventType represents the type of VAD event.
type EventType int

const (
	EventInferenceDone EventType = iota
	EventStartOfSpeech
	EventEndOfSpeech
)

func (t EventType) String() string {
	switch t {
	case EventInferenceDone:
		return "INFERENCE_DONE"
	case EventStartOfSpeech:
		return "START_OF_SPEECH"
	case EventEndOfSpeech:
		return "END_OF_SPEECH"
	default:
		return fmt.Sprintf("Unknown(%d)", int(t))
	}
}

// Event is emitted by a Stream in window-processing order.
//
// Timestamp is a stream offset: the end of the window for INFERENCE_DONE and
// END_OF_SPEECH, the first speech window for START_OF_SPEECH.
type Event struct {
	Type              EventType
	Timestamp         time.Duration
	Probability       float64
	SpeechDuration    time.Duration
	SilenceDuration   time.Duration
	InferenceDuration time.Duration
	Speaking          bool

	// Segment is set on END_OF_SPEECH only.
	Segment *SpeechSegment
}

// SpeechSegment is the audio buffered between START_OF_SPEECH and
// END_OF_SPEECH, prefix padding included.
type SpeechSegment struct {
	StartTime     time.Duration
	EndTime       time.Duration
	Frames        []rtc.AudioFrame
	Probabilities []float64

	// Forced is true when the segment was cut by MaxBufferedSpeech or a flush
	// rather than by trailing silence.
	Forced bool
}

// Samples returns the number of buffered samples.
func (s *SpeechSegment) Samples() int {
	n := 0
	for _, f := range s.Frames {
		n += f.SamplesPerChannel
	}
	return n
}

// PCM concatenates the segment's frames.
func (s *SpeechSegment) PCM() []byte {
	pcm := make([]byte, 0, s.Samples()*2)
	for _, f := range s.Frames {
		pcm = append(pcm, f.Data...)
	}
	return pcm
}

// Duration returns the buffered audio duration.
func (s *SpeechSegment) Duration() time.Duration {
	var d time.Duration
	for i := range s.Frames {
		d += s.Frames[i].Duration()
	}
	return d
}

// Options configures an Engine and the segmenter of its streams.
type Options struct {
	Backend         Backend
	FallbackBackend Backend // empty: Backend.DefaultFallback()

	ActivationThreshold   float64
	MinSpeechDuration     time.Duration
	MinSilenceDuration    time.Duration
	PrefixPaddingDuration time.Duration
	MaxBufferedSpeech     time.Duration

	SampleRate int // 8000 or 16000
	WindowSize int // samples per inference; 0 selects the backend's native size

	ModelPath  string // silero
	WebRTCMode int    // webrtc aggressiveness 0-3

	InputQueueSize int
	EventQueueSize int
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Backend:               BackendSilero,
		ActivationThreshold:   0.5,
		MinSpeechDuration:     50 * time.Millisecond,
		MinSilenceDuration:    550 * time.Millisecond,
		PrefixPaddingDuration: 500 * time.Millisecond,
		MaxBufferedSpeech:     60 * time.Second,
		SampleRate:            16000,
		WebRTCMode:            3,
		InputQueueSize:        64,
		EventQueueSize:        128,
	}
}

// Validate reports every invalid field as one configuration error.
func (o Options) Validate() error {
	var errs []error
	if o.Backend == "" {
		errs = append(errs, errors.New("backend is required"))
	}
	if o.ActivationThreshold < 0 || o.ActivationThreshold > 1 {
		errs = append(errs, fmt.Errorf("activation threshold %v outside [0,1]", o.ActivationThreshold))
	}
	if o.MinSpeechDuration < 0 {
		errs = append(errs, fmt.Errorf("min speech duration %v is negative", o.MinSpeechDuration))
	}
	if o.MinSilenceDuration < 0 {
		errs = append(errs, fmt.Errorf("min silence duration %v is negative", o.MinSilenceDuration))
	}
	if o.PrefixPaddingDuration < 0 {
		errs = append(errs, fmt.Errorf("prefix padding %v is negative", o.PrefixPaddingDuration))
	}
	if o.MaxBufferedSpeech <= 0 {
		errs = append(errs, fmt.Errorf("max buffered speech %v must be positive", o.MaxBufferedSpeech))
	}
	if o.SampleRate != 8000 && o.SampleRate != 16000 {
		errs = append(errs, fmt.Errorf("sample rate %d not in {8000, 16000}", o.SampleRate))
	}
	if o.WindowSize < 0 {
		errs = append(errs, fmt.Errorf("window size %d is negative", o.WindowSize))
	}
	if o.WebRTCMode < 0 || o.WebRTCMode > 3 {
		errs = append(errs, fmt.Errorf("webrtc mode %d not in [0,3]", o.WebRTCMode))
	}
	if len(errs) == 0 {
		return nil
	}
	return ai.Configuration("vad options", errors.Join(errs...))
}

// Classifier is the contract every backend implements. It is created once
// per Engine; sessions carry the per-stream state.
type Classifier interface {
	// Name identifies the backend in logs.
	Name() string

	// WindowSizes lists the window sizes (samples) supported at sampleRate,
	// native size first. An empty list means any size is accepted.
	WindowSizes(sampleRate int) []int

	// NewSession returns a session with fresh recurrent state.
	NewSession(sampleRate, windowSize int) (ClassifierSession, error)

	Close() error
}

// ClassifierSession scores windows of one stream.
type ClassifierSession interface {
	// Infer returns the speech probability of one window of normalized
	// samples in [-1, 1].
	Infer(window []float32) (float64, error)

	// Reset clears recurrent state.
	Reset()

	Close() error
}

// BackendConfig is the factory configuration handed to registered backends.
func BackendConfig(o Options) map[string]any {
	return map[string]any{
		"sample_rate": o.SampleRate,
		"window_size": o.WindowSize,
		"threshold":   o.ActivationThreshold,
		"model_path":  o.ModelPath,
		"mode":        o.WebRTCMode,
	}
}

// Float32Window converts int16 samples to the normalized form classifiers take.
func Float32Window(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768
	}
	return out
}

func durationToSamples(d time.Duration, sampleRate int) int {
	return int(d.Seconds()*float64(sampleRate) + 0.5)
}

func samplesToDuration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(sampleRate))
}
