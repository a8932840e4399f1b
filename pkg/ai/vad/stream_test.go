package vad_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/chriscow/voiceturn/internal/observe"
	"github.com/chriscow/voiceturn/pkg/ai/vad"
	"github.com/chriscow/voiceturn/pkg/ai/vad/fake"
	"github.com/chriscow/voiceturn/pkg/plugin"
	"github.com/chriscow/voiceturn/pkg/rtc"
)

// frame returns a 20 ms mono frame at rate: a 440 Hz tone when loud,
// digital silence otherwise.
func frame(rate int, loud bool) rtc.AudioFrame {
	n := rate / 50
	samples := make([]int16, n)
	if loud {
		for i := range samples {
			samples[i] = int16(12000 * math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
		}
	}
	return rtc.NewMonoFrame(samples, rate, 0)
}

func newEngine(t *testing.T, c *fake.Classifier, logs *bytes.Buffer) *vad.Engine {
	t.Helper()
	reg := plugin.NewRegistry()
	reg.Register(vad.PluginKind, "fake", serving(c))

	opts := vad.DefaultOptions()
	opts.Backend = vad.BackendFake
	opts.FallbackBackend = vad.BackendFake
	opts.MinSilenceDuration = 200 * time.Millisecond

	logger := slog.New(slog.NewTextHandler(logs, nil))
	e, err := vad.Load(opts, vad.WithRegistry(reg), vad.WithLogger(logger), vad.WithMetrics(observe.Discard()))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

// pushAll may run on a feeder goroutine, so it reports with Errorf.
func pushAll(t *testing.T, s *vad.Stream, frames ...rtc.AudioFrame) {
	t.Helper()
	for _, f := range frames {
		if err := s.Push(context.Background(), f); err != nil {
			t.Errorf("Push: %v", err)
			return
		}
	}
}

func repeatFrame(f rtc.AudioFrame, n int) []rtc.AudioFrame {
	out := make([]rtc.AudioFrame, n)
	for i := range out {
		out[i] = f
	}
	return out
}

// drain collects events until the stream closes its channel.
func drain(t *testing.T, s *vad.Stream) []vad.Event {
	t.Helper()
	var events []vad.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("timed out waiting for stream events")
		}
	}
}

func transitions(events []vad.Event) []vad.EventType {
	var out []vad.EventType
	for _, ev := range events {
		if ev.Type != vad.EventInferenceDone {
			out = append(out, ev.Type)
		}
	}
	return out
}

func TestStreamDetectsSpeech(t *testing.T) {
	is := is.New(t)

	var logs bytes.Buffer
	e := newEngine(t, fake.NewAmplitude(), &logs)
	s, err := e.NewStream(context.Background())
	is.NoErr(err)
	defer s.Close()

	go func() {
		pushAll(t, s, repeatFrame(frame(16000, false), 25)...) // 500 ms
		pushAll(t, s, repeatFrame(frame(16000, true), 25)...)
		pushAll(t, s, repeatFrame(frame(16000, false), 25)...)
		s.EndInput()
	}()
	events := drain(t, s)

	is.Equal(transitions(events), []vad.EventType{vad.EventStartOfSpeech, vad.EventEndOfSpeech})

	windows := 0
	for _, ev := range events {
		if ev.Type == vad.EventInferenceDone {
			windows++
		}
	}
	is.Equal(windows, 75*320/512) // partial tail window is not scored

	var end vad.Event
	for _, ev := range events {
		if ev.Type == vad.EventEndOfSpeech {
			end = ev
		}
	}
	is.True(!end.Segment.Forced)
	is.True(end.Segment.Duration() >= 500*time.Millisecond) // speech plus padding
	is.True(!strings.Contains(logs.String(), "Converting input audio"))
}

func TestStreamEndInputFlushesOpenSegment(t *testing.T) {
	is := is.New(t)

	e := newEngine(t, fake.NewAmplitude(), &bytes.Buffer{})
	s, err := e.NewStream(context.Background())
	is.NoErr(err)
	defer s.Close()

	go func() {
		pushAll(t, s, repeatFrame(frame(16000, true), 20)...)
		s.EndInput()
	}()
	events := drain(t, s)

	is.Equal(transitions(events), []vad.EventType{vad.EventStartOfSpeech, vad.EventEndOfSpeech})
	is.True(events[len(events)-1].Segment.Forced)

	is.True(errors.Is(s.Push(context.Background(), frame(16000, false)), vad.ErrStreamClosed))
	is.True(errors.Is(s.Flush(context.Background()), vad.ErrStreamClosed))
	s.EndInput() // idempotent
}

func TestStreamResamplesAndLogsOnce(t *testing.T) {
	is := is.New(t)

	var logs bytes.Buffer
	c := fake.NewAmplitude()
	e := newEngine(t, c, &logs)
	s, err := e.NewStream(context.Background())
	is.NoErr(err)
	defer s.Close()

	go func() {
		pushAll(t, s, repeatFrame(frame(48000, false), 50)...) // 1 s at 48 kHz
		s.EndInput()
	}()
	events := drain(t, s)

	is.Equal(strings.Count(logs.String(), "Converting input audio for VAD"), 1)
	is.Equal(len(events), 16000/512)
	is.Equal(c.Sessions()[0].Windows(), 16000/512)
	is.Equal(c.Sessions()[0].SampleRate, 16000)
}

func TestStreamFlushResetsState(t *testing.T) {
	is := is.New(t)

	c := fake.NewScripted([]float64{0.9, 0.9, 0.9, 0.9})
	e := newEngine(t, c, &bytes.Buffer{})
	s, err := e.NewStream(context.Background())
	is.NoErr(err)
	defer s.Close()

	go func() {
		ctx := context.Background()
		pushAll(t, s, rtc.NewMonoFrame(make([]int16, 4*512), 16000, 0))
		if err := s.Flush(ctx); err != nil {
			t.Errorf("Flush: %v", err)
		}
		// the script restarts after the reset, so speech is detected again
		pushAll(t, s, rtc.NewMonoFrame(make([]int16, 4*512), 16000, 0))
		s.EndInput()
	}()
	events := drain(t, s)

	is.Equal(transitions(events), []vad.EventType{
		vad.EventStartOfSpeech, vad.EventEndOfSpeech,
		vad.EventStartOfSpeech, vad.EventEndOfSpeech,
	})
	is.Equal(c.Sessions()[0].Resets(), 2) // stream start and flush
}

func TestStreamsHaveIndependentSessions(t *testing.T) {
	is := is.New(t)

	c := fake.NewScripted([]float64{0.9})
	e := newEngine(t, c, &bytes.Buffer{})

	s1, err := e.NewStream(context.Background())
	is.NoErr(err)
	s2, err := e.NewStream(context.Background())
	is.NoErr(err)

	is.Equal(len(c.Sessions()), 2)
	is.NoErr(s1.Close())
	is.True(c.Sessions()[0].Closed())
	is.True(!c.Sessions()[1].Closed())
	is.NoErr(s2.Close())
}

func TestStreamCloseStopsWorker(t *testing.T) {
	is := is.New(t)

	e := newEngine(t, fake.NewAmplitude(), &bytes.Buffer{})
	ctx, cancel := context.WithCancel(context.Background())
	s, err := e.NewStream(ctx)
	is.NoErr(err)

	pushAll(t, s, frame(16000, true))
	cancel()
	drain(t, s) // events channel closes on cancellation
	is.NoErr(s.Close())
}
