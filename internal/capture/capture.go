// Package capture produces mono PCM frames from a microphone or a WAV file.
// Microphone input needs the portaudio build tag; file input always works.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/chriscow/voiceturn/pkg/audio/wav"
	"github.com/chriscow/voiceturn/pkg/rtc"
)

// ErrUnavailable is returned by OpenMicrophone in builds without portaudio.
var ErrUnavailable = errors.New("microphone capture not compiled in (build with -tags portaudio)")

// Options configures a capture source.
type Options struct {
	SampleRate    int           // default 16000
	FrameDuration time.Duration // default 20ms
	QueueSize     int           // frames buffered before drops, default 50
	Device        string        // substring of the input device name; empty picks the default

	// Realtime paces file sources at wall-clock speed.
	Realtime bool
}

func (o Options) withDefaults() Options {
	if o.SampleRate <= 0 {
		o.SampleRate = 16000
	}
	if o.FrameDuration <= 0 {
		o.FrameDuration = 20 * time.Millisecond
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 50
	}
	return o
}

// Source delivers frames until it is closed or runs out. The frame channel
// is closed when the source stops.
type Source interface {
	Frames() <-chan rtc.AudioFrame
	Close() error
}

// FileSource replays a WAV file. Its frames keep the file's sample rate;
// stereo files are downmixed.
type FileSource struct {
	frames chan rtc.AudioFrame
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// OpenFile starts replaying the WAV file at path.
func OpenFile(ctx context.Context, path string, opts Options, logger *slog.Logger) (*FileSource, error) {
	opts = opts.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	f, err := wav.Open(path)
	if err != nil {
		return nil, err
	}
	h := f.Header()
	logger.Info("Replaying WAV file",
		slog.String("path", path),
		slog.Int("sample_rate", int(h.SampleRate)),
		slog.Int("channels", int(h.NumChannels)))

	ctx, cancel := context.WithCancel(ctx)
	s := &FileSource{
		frames: make(chan rtc.AudioFrame, opts.QueueSize),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		defer close(s.frames)
		defer f.Close()
		s.err = s.replay(ctx, f.Reader, opts)
	}()
	return s, nil
}

func (s *FileSource) replay(ctx context.Context, r *wav.Reader, opts Options) error {
	h := r.Header()
	rate, channels := int(h.SampleRate), int(h.NumChannels)
	perFrame := int(int64(rate) * int64(opts.FrameDuration) / int64(time.Second))
	if perFrame <= 0 {
		return fmt.Errorf("frame duration %v too short at %d Hz", opts.FrameDuration, rate)
	}
	buf := make([]byte, perFrame*channels*2)

	var ticker *time.Ticker
	if opts.Realtime {
		ticker = time.NewTicker(opts.FrameDuration)
		defer ticker.Stop()
	}

	var offset time.Duration
	for {
		n, err := io.ReadFull(r, buf)
		if n >= channels*2 {
			samples := downmix(rtc.PCMToSamples(buf[:n-n%(channels*2)]), channels)
			frame := rtc.NewMonoFrame(samples, rate, offset)
			offset += frame.Duration()

			if ticker != nil {
				select {
				case <-ticker.C:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			select {
			case s.frames <- frame:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read wav: %w", err)
		}
	}
}

func (s *FileSource) Frames() <-chan rtc.AudioFrame { return s.frames }

// Err returns the replay error, if any, once Frames is closed.
func (s *FileSource) Err() error {
	<-s.done
	return s.err
}

func (s *FileSource) Close() error {
	s.cancel()
	<-s.done
	return nil
}

func downmix(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	out := make([]int16, len(samples)/channels)
	for i := range out {
		var sum int
		for c := range channels {
			sum += int(samples[i*channels+c])
		}
		out[i] = int16(sum / channels)
	}
	return out
}
