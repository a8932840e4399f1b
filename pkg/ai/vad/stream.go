package vad

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/chriscow/voiceturn/internal/observe"
	"github.com/chriscow/voiceturn/pkg/audio/resample"
	"github.com/chriscow/voiceturn/pkg/rtc"
)

// ErrStreamClosed is returned by Push and Flush after the stream stopped.
var ErrStreamClosed = errors.New("vad stream closed")

// closeTimeout bounds how long Close waits for the inference goroutine.
const closeTimeout = 2 * time.Second

type streamInput struct {
	frame rtc.AudioFrame
	flush bool
}

// Stream processes frames of one audio source. Frames are handed to the
// inference goroutine through a bounded channel, so Push blocks when the
// backend falls behind. Events come out of Events in window order; the
// channel is closed when the stream stops.
type Stream struct {
	session ClassifierSession
	seg     *Segmenter
	conv    *resample.Converter
	window  int
	rate    int
	logger  *slog.Logger
	metrics *observe.Metrics

	inMu     sync.RWMutex
	inClosed bool
	in       chan streamInput
	events   chan Event

	cancel context.CancelFunc
	done   chan struct{}

	pending  []int16
	consumed int
}

func newStream(parent context.Context, e *Engine, session ClassifierSession) *Stream {
	ctx, cancel := context.WithCancel(parent)
	s := &Stream{
		session: session,
		seg:     NewSegmenter(e.opts),
		conv:    resample.NewConverter(e.opts.SampleRate, e.logger),
		window:  e.opts.WindowSize,
		rate:    e.opts.SampleRate,
		logger:  e.logger,
		metrics: e.metrics,
		in:      make(chan streamInput, max(e.opts.InputQueueSize, 1)),
		events:  make(chan Event, max(e.opts.EventQueueSize, 1)),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go s.run(ctx)
	return s
}

// Events returns the ordered event channel.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// Push queues a frame. It blocks while the input queue is full, until ctx
// is done or the stream stops.
func (s *Stream) Push(ctx context.Context, frame rtc.AudioFrame) error {
	return s.send(ctx, streamInput{frame: frame})
}

// Flush ends any active segment, drops a partial window and resets the
// backend's recurrent state. It is ordered with respect to Push.
func (s *Stream) Flush(ctx context.Context) error {
	return s.send(ctx, streamInput{flush: true})
}

func (s *Stream) send(ctx context.Context, in streamInput) error {
	s.inMu.RLock()
	defer s.inMu.RUnlock()
	if s.inClosed {
		return ErrStreamClosed
	}

	select {
	case s.in <- in:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrStreamClosed
	}
}

// EndInput marks the end of audio. Remaining events, including a final
// END_OF_SPEECH for an active segment, are delivered before Events closes.
func (s *Stream) EndInput() {
	s.inMu.Lock()
	defer s.inMu.Unlock()
	if !s.inClosed {
		s.inClosed = true
		close(s.in)
	}
}

// Close stops the stream without flushing and waits, bounded, for the
// inference goroutine to exit.
func (s *Stream) Close() error {
	s.cancel()
	select {
	case <-s.done:
	case <-time.After(closeTimeout):
		s.logger.Warn("VAD stream did not stop in time", slog.Duration("timeout", closeTimeout))
	}
	return s.session.Close()
}

func (s *Stream) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.events)

	for {
		select {
		case <-ctx.Done():
			return
		case in, ok := <-s.in:
			if !ok {
				if !s.process(ctx, s.conv.Flush()) {
					return
				}
				s.emit(ctx, s.seg.Flush())
				return
			}
			if in.flush {
				s.flush(ctx)
				continue
			}
			if !s.process(ctx, in.frame) {
				return
			}
		}
	}
}

func (s *Stream) process(ctx context.Context, frame rtc.AudioFrame) bool {
	frame = s.conv.Convert(frame)
	s.pending = append(s.pending, frame.Samples()...)

	for len(s.pending) >= s.window {
		samples := make([]int16, s.window)
		copy(samples, s.pending)
		s.pending = append(s.pending[:0], s.pending[s.window:]...)

		start := time.Now()
		prob, err := s.session.Infer(Float32Window(samples))
		elapsed := time.Since(start)
		if err != nil {
			s.logger.Warn("VAD inference failed, treating window as silence",
				slog.String("error", err.Error()))
			prob = 0
		}
		s.metrics.RecordVADInference(ctx, elapsed)

		window := rtc.NewMonoFrame(samples, s.rate, samplesToDuration(s.consumed, s.rate))
		s.consumed += s.window
		if !s.emit(ctx, s.seg.Process(window, prob, elapsed)) {
			return false
		}
	}
	return true
}

func (s *Stream) flush(ctx context.Context) {
	s.pending = s.pending[:0]
	s.emit(ctx, s.seg.Flush())
	s.session.Reset()
}

// emit delivers events in order; it returns false if ctx ended first.
func (s *Stream) emit(ctx context.Context, events []Event) bool {
	for _, ev := range events {
		if ev.Type == EventEndOfSpeech {
			s.metrics.RecordSegment(ctx, ev.Segment.Duration(), ev.Segment.Forced)
		}
		select {
		case s.events <- ev:
		case <-ctx.Done():
			return false
		}
	}
	return true
}
