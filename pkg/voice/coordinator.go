// Package voice holds the playback state coordinator shared by the audio
// injection player and the conversation state hook.
package voice

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chriscow/voiceturn/internal/observe"
	"github.com/chriscow/voiceturn/pkg/ai"
)

// DefaultCeiling is how long the injecting flag may stay set before the
// failsafe clears it.
const DefaultCeiling = 15 * time.Minute

// Conversation states the suppression rule looks at.
const (
	StateSpeaking  = "speaking"
	StateListening = "listening"
)

// CoordinatorState is a snapshot of the injection flag.
type CoordinatorState struct {
	Injecting bool
	Title     string
	StartedAt time.Time
}

// CoordinatorOptions configures a Coordinator.
type CoordinatorOptions struct {
	Ceiling time.Duration // default DefaultCeiling
	Logger  *slog.Logger
	Metrics *observe.Metrics
	Now     func() time.Time // for tests
}

// Coordinator arbitrates between injected audio and conversation state
// changes. The player is its only writer; the conversation hook reads it
// through ShouldSuppressTransition. Create one per session and pass it to
// both sides.
type Coordinator struct {
	ceiling time.Duration
	logger  *slog.Logger
	metrics *observe.Metrics
	now     func() time.Time

	mu    sync.Mutex
	state CoordinatorState
}

// NewCoordinator returns a coordinator with the flag cleared.
func NewCoordinator(opts CoordinatorOptions) *Coordinator {
	if opts.Ceiling <= 0 {
		opts.Ceiling = DefaultCeiling
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = observe.DefaultMetrics()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Coordinator{
		ceiling: opts.Ceiling,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		now:     opts.Now,
	}
}

// SetInjecting sets or clears the injecting flag. Setting it restarts the
// ceiling clock.
func (c *Coordinator) SetInjecting(injecting bool, title string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !injecting {
		c.state = CoordinatorState{}
		return
	}
	c.state = CoordinatorState{Injecting: true, Title: title, StartedAt: c.now()}
	c.logger.Debug("Audio injection started", slog.String("title", title))
}

// ShouldSuppressTransition reports whether a conversation transition must be
// held back: speaking to listening while injected audio plays. State names
// compare case-insensitively; every other transition passes.
func (c *Coordinator) ShouldSuppressTransition(oldState, newState string) bool {
	if !strings.EqualFold(oldState, StateSpeaking) || !strings.EqualFold(newState, StateListening) {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.injectingLocked() {
		return false
	}
	c.metrics.CoordinatorSuppressed.Add(context.Background(), 1)
	c.logger.Debug("Suppressing transition during audio injection",
		slog.String("from", oldState),
		slog.String("to", newState),
		slog.String("title", c.state.Title))
	return true
}

// ForceClear clears the flag regardless of who set it.
func (c *Coordinator) ForceClear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Injecting {
		c.logger.Info("Injection flag force-cleared", slog.String("title", c.state.Title))
	}
	c.state = CoordinatorState{}
}

// State returns the current state, after applying the ceiling.
func (c *Coordinator) State() CoordinatorState {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.injectingLocked()
	return c.state
}

// IsInjecting reports whether injected audio is playing.
func (c *Coordinator) IsInjecting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.injectingLocked()
}

// injectingLocked applies the failsafe and reports the flag.
func (c *Coordinator) injectingLocked() bool {
	if !c.state.Injecting {
		return false
	}
	if age := c.now().Sub(c.state.StartedAt); age > c.ceiling {
		err := ai.StateTimeout("coordinator",
			fmt.Errorf("injection %q active for %v, ceiling %v", c.state.Title, age.Round(time.Second), c.ceiling))
		c.logger.Warn("Injection flag exceeded ceiling, clearing",
			slog.String("title", c.state.Title),
			slog.String("error", err.Error()))
		c.metrics.CoordinatorFailsafe.Add(context.Background(), 1)
		c.state = CoordinatorState{}
		return false
	}
	return true
}
