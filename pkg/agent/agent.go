// Package agent hosts the conversation state machine that sits on top of the
// turn-taking pipeline. A Session moves through Idle → Listening → Thinking →
// Speaking driven by VAD events, hands finished speech segments to a
// SegmentHandler, and consults the playback coordinator before committing a
// transition so injected audio is not cut off by its own echo.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/chriscow/voiceturn/internal/observe"
	"github.com/chriscow/voiceturn/pkg/ai"
	"github.com/chriscow/voiceturn/pkg/ai/vad"
	"github.com/chriscow/voiceturn/pkg/playback"
	"github.com/chriscow/voiceturn/pkg/rtc"
	"github.com/chriscow/voiceturn/pkg/voice"
)

// AgentState represents the current state of the conversation.
type AgentState int32

const (
	StateIdle AgentState = iota
	StateListening
	StateThinking
	StateSpeaking
)

func (s AgentState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateListening:
		return "Listening"
	case StateThinking:
		return "Thinking"
	case StateSpeaking:
		return "Speaking"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// hookName is the state name the coordinator compares against.
func (s AgentState) hookName() string {
	return strings.ToLower(s.String())
}

// SegmentHandler receives every END_OF_SPEECH segment, in order, on the
// session's segment goroutine. It stands in for the speech recognizer and
// whatever answers it. An error ends only that segment.
type SegmentHandler func(ctx context.Context, seg *vad.SpeechSegment) error

// StateListener observes committed transitions. It runs synchronously and
// must not block.
type StateListener func(from, to AgentState)

// segmentQueueSize bounds segments waiting for the handler.
const segmentQueueSize = 8

// Config holds configuration for creating a Session.
type Config struct {
	// Engine produces the VAD stream the session listens to. Required.
	Engine *vad.Engine

	// Coordinator is consulted before every transition. Required.
	Coordinator *voice.Coordinator

	// Player is optional; when set the session follows its injection events
	// and Interrupt stops it.
	Player *playback.Player

	// OnSegment is optional; segments are dropped when nil.
	OnSegment SegmentHandler

	// OnState is optional.
	OnState StateListener

	// OnVAD is optional and sees START_OF_SPEECH and END_OF_SPEECH events
	// before the session acts on them. It must not block.
	OnVAD func(vad.Event)

	Logger  *slog.Logger
	Metrics *observe.Metrics
}

// Session owns one conversation: its state, its VAD stream and the
// goroutines feeding them.
type Session struct {
	engine    *vad.Engine
	coord     *voice.Coordinator
	player    *playback.Player
	onSegment SegmentHandler
	onState   StateListener
	onVAD     func(vad.Event)
	logger    *slog.Logger
	metrics   *observe.Metrics

	// mu serializes transitions so the coordinator check and the commit are
	// atomic with respect to each other.
	mu    sync.Mutex
	state atomic.Int32

	streamMu sync.Mutex
	stream   *vad.Stream

	segments chan *vad.SpeechSegment
	running  atomic.Bool
}

// New creates a Session in the Idle state.
func New(cfg Config) (*Session, error) {
	if cfg.Engine == nil {
		return nil, ai.Configuration("new agent session", errors.New("VAD engine is required"))
	}
	if cfg.Coordinator == nil {
		return nil, ai.Configuration("new agent session", errors.New("coordinator is required"))
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}

	s := &Session{
		engine:    cfg.Engine,
		coord:     cfg.Coordinator,
		player:    cfg.Player,
		onSegment: cfg.OnSegment,
		onState:   cfg.OnState,
		onVAD:     cfg.OnVAD,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
	}
	if s.player != nil {
		s.player.OnEvent(s.handlePlayerEvent)
	}
	return s, nil
}

// State returns the current state.
func (s *Session) State() AgentState {
	return AgentState(s.state.Load())
}

// SetState commits a transition unless the coordinator holds it back, and
// reports whether the session is now in the requested state.
func (s *Session) SetState(newState AgentState) bool {
	s.mu.Lock()
	oldState := s.State()
	if oldState == newState {
		s.mu.Unlock()
		return true
	}
	if s.coord.ShouldSuppressTransition(oldState.hookName(), newState.hookName()) {
		s.mu.Unlock()
		return false
	}
	s.state.Store(int32(newState))
	s.mu.Unlock()

	s.metrics.RecordTransition(context.Background(), oldState.hookName(), newState.hookName())
	s.logger.Debug("Conversation state changed",
		slog.String("from", oldState.String()),
		slog.String("to", newState.String()))
	if s.onState != nil {
		s.onState(oldState, newState)
	}
	return true
}

// Run listens to frames until ctx is cancelled or frames is closed. On close
// the VAD stream is drained, so a segment still open is delivered as forced.
// Run may be called once per Session.
func (s *Session) Run(ctx context.Context, frames <-chan rtc.AudioFrame) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("agent session already running")
	}

	stream, err := s.engine.NewStream(ctx)
	if err != nil {
		return fmt.Errorf("failed to start VAD stream: %w", err)
	}
	defer stream.Close()

	s.streamMu.Lock()
	s.stream = stream
	s.streamMu.Unlock()
	defer func() {
		s.streamMu.Lock()
		s.stream = nil
		s.streamMu.Unlock()
	}()

	s.segments = make(chan *vad.SpeechSegment, segmentQueueSize)
	s.SetState(StateListening)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer stream.EndInput()
		return s.feed(gctx, stream, frames)
	})
	g.Go(func() error {
		defer close(s.segments)
		return s.consume(gctx, stream)
	})
	g.Go(func() error {
		return s.handleSegments(gctx)
	})

	err = g.Wait()
	s.SetState(StateIdle)
	if ai.IsCancellation(err) || errors.Is(err, vad.ErrStreamClosed) {
		return nil
	}
	return err
}

// Flush ends any open segment on the running stream.
func (s *Session) Flush(ctx context.Context) error {
	s.streamMu.Lock()
	stream := s.stream
	s.streamMu.Unlock()
	if stream == nil {
		return nil
	}
	return stream.Flush(ctx)
}

// Interrupt stops injected audio and returns the conversation to listening.
func (s *Session) Interrupt() {
	if s.player != nil {
		if err := s.player.Stop(); err != nil {
			s.logger.Warn("Failed to stop injected audio", slog.String("error", err.Error()))
		}
	}
	switch s.State() {
	case StateSpeaking, StateThinking:
		s.SetState(StateListening)
	}
}

func (s *Session) feed(ctx context.Context, stream *vad.Stream, frames <-chan rtc.AudioFrame) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				return nil
			}
			if err := stream.Push(ctx, frame); err != nil {
				return err
			}
		}
	}
}

func (s *Session) consume(ctx context.Context, stream *vad.Stream) error {
	for ev := range stream.Events() {
		if ev.Type != vad.EventInferenceDone && s.onVAD != nil {
			s.onVAD(ev)
		}
		switch ev.Type {
		case vad.EventStartOfSpeech:
			s.handleSpeechStart(ev)
		case vad.EventEndOfSpeech:
			if err := s.handleSpeechEnd(ctx, ev); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Session) handleSpeechStart(ev vad.Event) {
	switch s.State() {
	case StateIdle, StateThinking:
		s.SetState(StateListening)
	case StateSpeaking:
		// barge-in; held back while injected audio plays
		if !s.SetState(StateListening) {
			s.logger.Debug("Ignoring speech during audio injection",
				slog.Duration("at", ev.Timestamp))
		}
	}
}

func (s *Session) handleSpeechEnd(ctx context.Context, ev vad.Event) error {
	if ev.Segment == nil {
		return nil
	}
	if s.State() == StateSpeaking {
		s.logger.Debug("Dropping segment captured during speech output",
			slog.Duration("duration", ev.Segment.Duration()))
		return nil
	}
	s.SetState(StateThinking)

	select {
	case s.segments <- ev.Segment:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) handleSegments(ctx context.Context) error {
	for seg := range s.segments {
		if s.onSegment != nil {
			if err := s.onSegment(ctx, seg); err != nil {
				if ai.IsCancellation(err) {
					return err
				}
				s.logger.Error("Segment handler failed",
					slog.Duration("duration", seg.Duration()),
					slog.Bool("forced", seg.Forced),
					slog.String("error", err.Error()))
			}
		}
		if s.State() == StateThinking {
			s.SetState(StateListening)
		}
	}
	return nil
}

// handlePlayerEvent runs on the player's session goroutine.
func (s *Session) handlePlayerEvent(ev playback.Event) {
	switch ev.Type {
	case playback.EventInjectionStarted:
		s.SetState(StateSpeaking)
	case playback.EventInjectionEnded:
		if s.State() == StateSpeaking {
			s.SetState(StateListening)
		}
	}
}
