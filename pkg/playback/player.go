// Package playback injects remote audio into the agent's output channel.
//
// A Player fetches a URL, decodes the payload incrementally and feeds fixed
// size frames to a Sink through a bounded queue. At most one session runs at
// a time: starting a new one stops and joins the previous one first. While a
// session runs the player holds the coordinator's injecting flag, and every
// way a session can end releases it.
package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chriscow/voiceturn/internal/observe"
	"github.com/chriscow/voiceturn/pkg/ai"
	"github.com/chriscow/voiceturn/pkg/audio/decode"
	"github.com/chriscow/voiceturn/pkg/rtc"
	"github.com/chriscow/voiceturn/pkg/voice"
)

// ErrPlayerClosed is returned by PlayFromURL after Close.
var ErrPlayerClosed = errors.New("player closed")

// EventType identifies a player lifecycle event.
type EventType int

const (
	EventInjectionStarted EventType = iota
	EventInjectionEnded
)

func (t EventType) String() string {
	switch t {
	case EventInjectionStarted:
		return "injection_started"
	case EventInjectionEnded:
		return "injection_ended"
	default:
		return fmt.Sprintf("Unknown(%d)", int(t))
	}
}

// Event describes a session starting or ending.
type Event struct {
	Type      EventType
	SessionID string
	Title     string
	Status    Status
	Err       error
	Frames    int64
}

// Listener receives player events synchronously on the session goroutine.
// It must not block or call back into the Player.
type Listener func(Event)

// Option customizes a Player.
type Option func(*Player)

// WithHTTPClient sets the client used to fetch payloads.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Player) { p.client = c }
}

// WithLogger sets the player's logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Player) { p.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Player) { p.metrics = m }
}

// WithBed mixes a looping background track under every session.
func WithBed(b *Bed) Option {
	return func(p *Player) { p.bed = b }
}

// Player plays remote audio into a Sink, one session at a time.
type Player struct {
	cfg     Config
	coord   *voice.Coordinator
	sink    Sink
	client  *http.Client
	logger  *slog.Logger
	metrics *observe.Metrics
	bed     *Bed

	// mu serializes Stop and Close.
	mu sync.Mutex

	// stateMu guards closed, active and listeners; it is never held while
	// waiting.
	stateMu   sync.Mutex
	closed    bool
	active    *Session
	listeners []Listener
}

// NewPlayer returns a player delivering to sink and reporting to coord.
func NewPlayer(cfg Config, coord *voice.Coordinator, sink Sink, opts ...Option) (*Player, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if coord == nil || sink == nil {
		return nil, ai.Configuration("new player", errors.New("coordinator and sink are required"))
	}

	p := &Player{cfg: cfg, coord: coord, sink: sink}
	for _, o := range opts {
		o(p)
	}
	if p.client == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.ResponseHeaderTimeout = cfg.FetchTimeout
		p.client = &http.Client{Transport: transport}
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p, nil
}

// OnEvent registers a listener for session start and end.
func (p *Player) OnEvent(l Listener) {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	p.listeners = append(p.listeners, l)
}

// Current returns the running session, or nil.
func (p *Player) Current() *Session {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	return p.active
}

// PlayFromURL replaces any running session with one streaming rawURL and
// returns it right away in status fetching. The previous session is
// signalled to stop at once; the new one launches in the background after
// the previous one has terminated (bounded by StopTimeout) and, when there
// was one, after SettleDelay.
func (p *Player) PlayFromURL(rawURL, title string) (*Session, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := newSession(rawURL, title, cancel)

	p.stateMu.Lock()
	if p.closed {
		p.stateMu.Unlock()
		cancel()
		return nil, ErrPlayerClosed
	}
	prev := p.active
	p.active = s
	p.stateMu.Unlock()

	if prev != nil {
		prev.cancel()
	}
	p.metrics.PlaybackActive.Add(ctx, 1)
	p.logger.Info("Audio injection requested",
		slog.String("session_id", s.ID),
		slog.String("title", title),
		slog.String("url", rawURL))

	go p.launch(ctx, s, prev)
	return s, nil
}

// launch waits out the previous session, then starts s unless it was
// replaced or stopped in the meantime. Sessions launch in request order
// because each one waits for its predecessor.
func (p *Player) launch(ctx context.Context, s, prev *Session) {
	if prev != nil {
		if err := p.join(prev); err != nil {
			// the straggler no longer owns the coordinator once replaced
			p.logger.Warn("Previous injection did not stop in time", slog.String("error", err.Error()))
		}
		if p.cfg.SettleDelay > 0 {
			settle := time.NewTimer(p.cfg.SettleDelay)
			select {
			case <-settle.C:
			case <-ctx.Done():
				settle.Stop()
			}
		}
	}

	p.stateMu.Lock()
	if p.active != s || ctx.Err() != nil {
		p.stateMu.Unlock()
		p.finish(s, StatusCancelled, nil)
		return
	}
	p.coord.SetInjecting(true, s.Title)
	listeners := slices.Clone(p.listeners)
	p.stateMu.Unlock()

	p.logger.Info("Audio injection starting",
		slog.String("session_id", s.ID),
		slog.String("title", s.Title))
	notify(listeners, Event{Type: EventInjectionStarted, SessionID: s.ID, Title: s.Title, Status: StatusFetching})

	p.run(ctx, s)
}

// Stop cancels the running session and waits, up to StopTimeout, for it to
// terminate. It is a no-op when nothing plays.
func (p *Player) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopLocked()
}

// Close stops playback and rejects further sessions.
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stateMu.Lock()
	p.closed = true
	p.stateMu.Unlock()
	return p.stopLocked()
}

func (p *Player) stopLocked() error {
	s := p.Current()
	if s == nil {
		return nil
	}
	s.cancel()
	return p.join(s)
}

// join waits, up to StopTimeout, for s to terminate.
func (p *Player) join(s *Session) error {
	timer := time.NewTimer(p.cfg.StopTimeout)
	defer timer.Stop()
	select {
	case <-s.done:
		return nil
	case <-timer.C:
		return fmt.Errorf("session %s did not stop within %v", s.ID, p.cfg.StopTimeout)
	}
}

// run drives one session: a producer goroutine fetches and decodes into the
// bounded queue while this goroutine hands the queue to the sink.
func (p *Player) run(ctx context.Context, s *Session) {
	queue := make(chan rtc.AudioFrame, p.cfg.QueueCapacity)
	produced := make(chan error, 1)
	go func() {
		defer close(queue)
		produced <- p.produce(ctx, s, queue)
	}()

	sinkErr := p.sink.Play(ctx, s.Title, p.frames(ctx, s, queue))
	stopped := ctx.Err() != nil
	s.cancel()
	prodErr := <-produced

	status, err := StatusCompleted, error(nil)
	switch {
	case stopped:
		status = StatusCancelled
	case prodErr != nil && !ai.IsCancellation(prodErr):
		status, err = StatusFailed, prodErr
	case sinkErr != nil && !ai.IsCancellation(sinkErr):
		status, err = StatusFailed, fmt.Errorf("sink: %w", sinkErr)
	}
	p.finish(s, status, err)
}

// produce fetches and decodes into queue until the payload ends, an error
// occurs or ctx is cancelled. The response body is always closed.
func (p *Player) produce(ctx context.Context, s *Session, queue chan<- rtc.AudioFrame) error {
	src, err := p.open(ctx, s.URL)
	if err != nil {
		return err
	}
	defer src.body.Close()

	dec, err := decode.New(&chunkReader{r: src.body, size: p.cfg.ChunkSize},
		decode.Hint{ContentType: src.contentType, URL: src.url},
		decode.Options{SampleRate: p.cfg.SampleRate, FrameDuration: p.cfg.FrameDuration, BufferSize: p.cfg.ChunkSize})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	s.setStatus(StatusStreaming)
	if p.bed != nil {
		p.bed.Rewind()
	}
	p.logger.Debug("Decoding injected audio",
		slog.String("session_id", s.ID),
		slog.String("format", string(dec.Format())),
		slog.Int("source_rate", dec.SourceRate()))

	for {
		frame, err := dec.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if p.cfg.Gain != 1 {
			applyGain(frame, p.cfg.Gain)
		}
		if p.bed != nil {
			p.bed.Mix(frame)
		}

		select {
		case queue <- frame:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// frames exposes the queue as a single-use sequence. Cancellation is
// checked before pulling each frame and again before yielding it.
func (p *Player) frames(ctx context.Context, s *Session, queue <-chan rtc.AudioFrame) iter.Seq[rtc.AudioFrame] {
	var used atomic.Bool
	return func(yield func(rtc.AudioFrame) bool) {
		if used.Swap(true) {
			return
		}
		for {
			if ctx.Err() != nil {
				return
			}
			var frame rtc.AudioFrame
			select {
			case <-ctx.Done():
				return
			case f, ok := <-queue:
				if !ok {
					return
				}
				frame = f
			}
			if ctx.Err() != nil {
				return
			}
			s.frames.Add(1)
			if !yield(frame) {
				return
			}
		}
	}
}

// finish is the single exit path of every session.
func (p *Player) finish(s *Session, status Status, err error) {
	p.stateMu.Lock()
	if p.active == s {
		p.active = nil
		p.coord.SetInjecting(false, "")
	}
	listeners := slices.Clone(p.listeners)
	p.stateMu.Unlock()

	s.finish(status, err)

	ctx := context.Background()
	p.metrics.PlaybackActive.Add(ctx, -1)
	p.metrics.RecordPlaybackEnd(ctx, string(status), s.Frames())

	attrs := []any{
		slog.String("session_id", s.ID),
		slog.String("title", s.Title),
		slog.String("status", string(status)),
		slog.Int64("frames", s.Frames()),
	}
	if err != nil {
		p.logger.Warn("Audio injection failed", append(attrs, slog.String("error", err.Error()))...)
	} else {
		p.logger.Info("Audio injection ended", attrs...)
	}

	notify(listeners, Event{
		Type:      EventInjectionEnded,
		SessionID: s.ID,
		Title:     s.Title,
		Status:    status,
		Err:       err,
		Frames:    s.Frames(),
	})
	close(s.done)
}

func notify(listeners []Listener, ev Event) {
	for _, l := range listeners {
		l(ev)
	}
}

func applyGain(frame rtc.AudioFrame, gain float64) {
	samples := frame.Samples()
	for i, v := range samples {
		samples[i] = rtc.ClampInt16(float64(v) * gain)
	}
	copy(frame.Data, rtc.SamplesToPCM(samples))
}
