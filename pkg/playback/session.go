package playback

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle stage of a Session.
type Status string

const (
	StatusFetching  Status = "fetching"
	StatusStreaming Status = "streaming"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted || s == StatusFailed
}

// Session is one play request. It is created by PlayFromURL and finishes
// once its pipeline goroutines have exited and cleanup has run.
type Session struct {
	ID        string
	Title     string
	URL       string
	StartedAt time.Time

	cancel context.CancelFunc
	done   chan struct{}
	frames atomic.Int64

	mu     sync.Mutex
	status Status
	err    error
}

func newSession(url, title string, cancel context.CancelFunc) *Session {
	return &Session{
		ID:        uuid.NewString(),
		Title:     title,
		URL:       url,
		StartedAt: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
		status:    StatusFetching,
	}
}

// Status returns the current status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Err returns why the session failed, or nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Frames returns how many frames reached the sink.
func (s *Session) Frames() int64 {
	return s.frames.Load()
}

// Done is closed when the session has fully terminated.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session terminates or ctx is done.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) setStatus(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.status.Terminal() {
		s.status = status
	}
}

func (s *Session) finish(status Status, err error) {
	s.mu.Lock()
	s.status = status
	s.err = err
	s.mu.Unlock()
}
