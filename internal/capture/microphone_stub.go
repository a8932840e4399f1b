//go:build !portaudio

package capture

import (
	"context"
	"log/slog"

	"github.com/chriscow/voiceturn/pkg/rtc"
)

// Microphone is unavailable without the portaudio build tag.
type Microphone struct{}

// OpenMicrophone always fails with ErrUnavailable in this build.
func OpenMicrophone(context.Context, Options, *slog.Logger) (*Microphone, error) {
	return nil, ErrUnavailable
}

func (m *Microphone) Frames() <-chan rtc.AudioFrame { return nil }

func (m *Microphone) Close() error { return nil }
