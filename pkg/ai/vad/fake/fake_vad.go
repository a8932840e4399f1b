// Package fake provides deterministic VAD classifiers for tests and demos.
package fake

import (
	"errors"
	"math"
	"math/rand"
	"sync"

	"github.com/chriscow/voiceturn/pkg/ai/vad"
)

const (
	// DefaultSpeechProbability is the share of windows the random classifier marks as speech.
	DefaultSpeechProbability = 0.3
	// DefaultSeed is the deterministic seed for reproducible testing.
	DefaultSeed = 42
	// AmplitudeThreshold is the peak level above which NewAmplitude reports speech.
	AmplitudeThreshold = 0.05
)

// ProbabilityFunc scores the n-th window (0-based) of a session.
type ProbabilityFunc func(n int, window []float32) float64

// Classifier is a fake vad.Classifier. It records every session it hands out
// so tests can assert on window counts and resets.
type Classifier struct {
	score       ProbabilityFunc
	windowSizes []int

	mu         sync.Mutex
	sessions   []*Session
	sessionErr error
	closed     bool
}

// Option customizes a Classifier.
type Option func(*Classifier)

// WithWindowSizes declares the supported window sizes, native first.
func WithWindowSizes(sizes ...int) Option {
	return func(c *Classifier) { c.windowSizes = sizes }
}

// WithSessionError makes NewSession fail.
func WithSessionError(err error) Option {
	return func(c *Classifier) { c.sessionErr = err }
}

// New returns a classifier scoring windows with score.
func New(score ProbabilityFunc, opts ...Option) *Classifier {
	c := &Classifier{score: score}
	for _, o := range opts {
		o(c)
	}
	return c
}

// NewScripted replays probs, one per window, and scores 0 once the script
// is exhausted. A Reset rewinds the script.
func NewScripted(probs []float64, opts ...Option) *Classifier {
	script := append([]float64(nil), probs...)
	return New(func(n int, _ []float32) float64 {
		if n < len(script) {
			return script[n]
		}
		return 0
	}, opts...)
}

// NewRandom marks a window as speech with the given probability using a
// seeded generator, so equal seeds give equal sequences.
func NewRandom(speechProbability float64, seed int64, opts ...Option) *Classifier {
	if speechProbability <= 0 {
		speechProbability = DefaultSpeechProbability
	}
	var mu sync.Mutex
	rng := rand.New(rand.NewSource(seed))
	return New(func(int, []float32) float64 {
		mu.Lock()
		defer mu.Unlock()
		if rng.Float64() < speechProbability {
			return 0.9
		}
		return 0.1
	}, opts...)
}

// NewAmplitude reports speech for windows whose peak exceeds AmplitudeThreshold.
func NewAmplitude(opts ...Option) *Classifier {
	return New(func(_ int, window []float32) float64 {
		var peak float64
		for _, s := range window {
			peak = math.Max(peak, math.Abs(float64(s)))
		}
		if peak > AmplitudeThreshold {
			return 1
		}
		return 0
	}, opts...)
}

func (c *Classifier) Name() string { return string(vad.BackendFake) }

func (c *Classifier) WindowSizes(int) []int { return c.windowSizes }

func (c *Classifier) NewSession(sampleRate, windowSize int) (vad.ClassifierSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionErr != nil {
		return nil, c.sessionErr
	}
	if c.closed {
		return nil, errors.New("fake classifier closed")
	}
	s := &Session{score: c.score, SampleRate: sampleRate, WindowSize: windowSize}
	c.sessions = append(c.sessions, s)
	return s, nil
}

// Sessions returns the sessions created so far.
func (c *Classifier) Sessions() []*Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Session(nil), c.sessions...)
}

func (c *Classifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Closed reports whether Close was called.
func (c *Classifier) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Session is one fake classifier session.
type Session struct {
	SampleRate int
	WindowSize int

	score ProbabilityFunc

	mu      sync.Mutex
	n       int
	windows int
	resets  int
	closed  bool
}

func (s *Session) Infer(window []float32) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errors.New("fake session closed")
	}
	p := s.score(s.n, window)
	s.n++
	s.windows++
	return p, nil
}

func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n = 0
	s.resets++
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Windows returns how many windows were scored.
func (s *Session) Windows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.windows
}

// Resets returns how many times Reset was called.
func (s *Session) Resets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
