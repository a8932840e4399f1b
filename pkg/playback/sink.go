package playback

import (
	"context"
	"iter"

	"github.com/chriscow/voiceturn/pkg/audio/wav"
	"github.com/chriscow/voiceturn/pkg/rtc"
)

// Sink is the output that injected frames are delivered to. frames is
// finite and can be ranged over once; it ends early when the session is
// cancelled. Play returns when frames is exhausted or ctx is done.
type Sink interface {
	Play(ctx context.Context, title string, frames iter.Seq[rtc.AudioFrame]) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, title string, frames iter.Seq[rtc.AudioFrame]) error

func (f SinkFunc) Play(ctx context.Context, title string, frames iter.Seq[rtc.AudioFrame]) error {
	return f(ctx, title, frames)
}

// ChannelSink forwards frames into the channel that also carries
// synthesized speech to the output track.
type ChannelSink struct {
	ch chan<- rtc.AudioFrame
}

// NewChannelSink returns a sink writing to ch. The sink never closes ch.
func NewChannelSink(ch chan<- rtc.AudioFrame) *ChannelSink {
	return &ChannelSink{ch: ch}
}

func (s *ChannelSink) Play(ctx context.Context, _ string, frames iter.Seq[rtc.AudioFrame]) error {
	for f := range frames {
		select {
		case s.ch <- f:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// WAVSink records injected audio to a WAV file, overwriting it on every
// session.
type WAVSink struct {
	Path string
}

func (s *WAVSink) Play(ctx context.Context, _ string, frames iter.Seq[rtc.AudioFrame]) (err error) {
	var w *wav.Writer
	defer func() {
		if w != nil {
			if cerr := w.Close(); err == nil {
				err = cerr
			}
		}
	}()

	for f := range frames {
		if w == nil {
			if w, err = wav.Create(s.Path, f.SampleRate, f.NumChannels); err != nil {
				return err
			}
		}
		if err := w.WriteFrame(f); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}
