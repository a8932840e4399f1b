//go:build cgo

// Package webrtc registers the WebRTC VAD (the GMM classifier from the
// WebRTC project, through cgo) as a VAD backend. It reports a hard 0 or 1
// per window.
package webrtc

import (
	"fmt"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"

	"github.com/chriscow/voiceturn/pkg/ai/vad"
	"github.com/chriscow/voiceturn/pkg/plugin"
	"github.com/chriscow/voiceturn/pkg/rtc"
)

// Classifier is the WebRTC backend.
type Classifier struct {
	mode int
}

func newClassifier(cfg map[string]any) (any, error) {
	mode := plugin.Int(cfg, "mode", 3)
	if mode < 0 || mode > 3 {
		return nil, fmt.Errorf("webrtc mode %d not in [0,3]", mode)
	}
	// surface cgo/library failures at load time rather than per stream
	if _, err := newVAD(mode); err != nil {
		return nil, err
	}
	return &Classifier{mode: mode}, nil
}

func newVAD(mode int) (*webrtcvad.VAD, error) {
	v, err := webrtcvad.New()
	if err != nil {
		return nil, fmt.Errorf("webrtc vad: %w", err)
	}
	if err := v.SetMode(mode); err != nil {
		return nil, fmt.Errorf("webrtc vad mode %d: %w", mode, err)
	}
	return v, nil
}

func (c *Classifier) Name() string { return string(vad.BackendWebRTC) }

// WindowSizes lists 30, 20 and 10 ms frames; 30 ms is closest to the 32 ms
// Silero window.
func (c *Classifier) WindowSizes(sampleRate int) []int {
	return windowSizes(sampleRate)
}

func windowSizes(sampleRate int) []int {
	return []int{sampleRate * 30 / 1000, sampleRate * 20 / 1000, sampleRate * 10 / 1000}
}

func (c *Classifier) NewSession(sampleRate, window int) (vad.ClassifierSession, error) {
	v, err := newVAD(c.mode)
	if err != nil {
		return nil, err
	}
	return &session{vad: v, mode: c.mode, rate: sampleRate, buf: make([]int16, window)}, nil
}

func (c *Classifier) Close() error { return nil }

type session struct {
	vad  *webrtcvad.VAD
	mode int
	rate int
	buf  []int16
}

func (s *session) Infer(window []float32) (float64, error) {
	if len(window) != len(s.buf) {
		return 0, fmt.Errorf("webrtc window has %d samples, want %d", len(window), len(s.buf))
	}
	for i, v := range window {
		s.buf[i] = rtc.ClampInt16(float64(v) * 32768)
	}
	active, err := s.vad.Process(s.rate, rtc.SamplesToPCM(s.buf))
	if err != nil {
		return 0, fmt.Errorf("webrtc vad: %w", err)
	}
	if active {
		return 1, nil
	}
	return 0, nil
}

// Reset swaps in a fresh detector; the C state has no reset entry point.
func (s *session) Reset() {
	if v, err := newVAD(s.mode); err == nil {
		s.vad = v
	}
}

func (s *session) Close() error { return nil }

func init() {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        vad.PluginKind,
		Name:        string(vad.BackendWebRTC),
		Factory:     newClassifier,
		Description: "WebRTC GMM voice activity detector",
		Version:     "1.0.0",
		Config:      map[string]any{"mode": 3},
		Available:   true,
	})
}
