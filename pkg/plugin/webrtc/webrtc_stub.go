//go:build !cgo

package webrtc

import (
	"errors"

	"github.com/chriscow/voiceturn/pkg/ai/vad"
	"github.com/chriscow/voiceturn/pkg/plugin"
)

func newClassifier(map[string]any) (any, error) {
	return nil, errors.New("webrtc VAD backend not available (requires cgo)")
}

func init() {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        vad.PluginKind,
		Name:        string(vad.BackendWebRTC),
		Factory:     newClassifier,
		Description: "WebRTC GMM voice activity detector (unavailable: built without cgo)",
		Available:   false,
	})
}
