package voice

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/chriscow/voiceturn/internal/observe"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCoordinator(logs *bytes.Buffer) (*Coordinator, *clock) {
	clk := &clock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	return NewCoordinator(CoordinatorOptions{
		Ceiling: 15 * time.Minute,
		Logger:  slog.New(slog.NewTextHandler(logs, nil)),
		Metrics: observe.Discard(),
		Now:     clk.Now,
	}), clk
}

func TestShouldSuppressTransition(t *testing.T) {
	tests := []struct {
		name      string
		injecting bool
		from, to  string
		want      bool
	}{
		{"speaking to listening while injecting", true, "speaking", "listening", true},
		{"case insensitive", true, "Speaking", "LISTENING", true},
		{"not injecting", false, "speaking", "listening", false},
		{"listening to speaking", true, "listening", "speaking", false},
		{"thinking to listening", true, "thinking", "listening", false},
		{"speaking to thinking", true, "speaking", "thinking", false},
		{"idle to listening", true, "idle", "listening", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			c, _ := newTestCoordinator(&bytes.Buffer{})
			c.SetInjecting(tt.injecting, "jingle")
			is.Equal(c.ShouldSuppressTransition(tt.from, tt.to), tt.want)
		})
	}
}

func TestSetInjectingState(t *testing.T) {
	is := is.New(t)

	c, clk := newTestCoordinator(&bytes.Buffer{})
	is.Equal(c.State(), CoordinatorState{})

	c.SetInjecting(true, "theme song")
	st := c.State()
	is.True(st.Injecting)
	is.Equal(st.Title, "theme song")
	is.Equal(st.StartedAt, clk.Now())

	c.SetInjecting(false, "")
	is.True(!c.IsInjecting())
	is.Equal(c.State(), CoordinatorState{})
}

func TestForceClear(t *testing.T) {
	is := is.New(t)

	c, _ := newTestCoordinator(&bytes.Buffer{})
	c.SetInjecting(true, "stuck")
	is.True(c.ShouldSuppressTransition("speaking", "listening"))

	c.ForceClear()
	is.True(!c.IsInjecting())
	is.True(!c.ShouldSuppressTransition("speaking", "listening"))

	c.ForceClear() // idle clear is a no-op
	is.True(!c.IsInjecting())
}

func TestCeilingFailsafe(t *testing.T) {
	is := is.New(t)

	var logs bytes.Buffer
	c, clk := newTestCoordinator(&logs)
	c.SetInjecting(true, "never cleaned up")

	clk.Advance(14 * time.Minute)
	is.True(c.ShouldSuppressTransition("speaking", "listening"))

	clk.Advance(2 * time.Minute)
	is.True(!c.ShouldSuppressTransition("speaking", "listening"))
	is.True(!c.IsInjecting())
	is.True(strings.Contains(logs.String(), "level=WARN"))
	is.True(strings.Contains(logs.String(), "state timeout"))
}

func TestSetInjectingRestartsCeiling(t *testing.T) {
	is := is.New(t)

	c, clk := newTestCoordinator(&bytes.Buffer{})
	c.SetInjecting(true, "first")
	clk.Advance(10 * time.Minute)
	c.SetInjecting(true, "second")
	clk.Advance(10 * time.Minute)

	is.True(c.IsInjecting())
	is.Equal(c.State().Title, "second")
}

func TestCoordinatorConcurrentAccess(t *testing.T) {
	c, _ := newTestCoordinator(&bytes.Buffer{})

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(2)
		go func(on bool) {
			defer wg.Done()
			for range 200 {
				c.SetInjecting(on, "x")
			}
		}(i%2 == 0)
		go func() {
			defer wg.Done()
			for range 200 {
				c.ShouldSuppressTransition("speaking", "listening")
				c.State()
			}
		}()
	}
	wg.Wait()
}
