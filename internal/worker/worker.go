// Package worker connects the turn-taking pipeline to a relay over a
// WebSocket. The relay streams caller audio and playback requests in as
// signals; the worker sends VAD events, conversation state changes and the
// injected audio back out as commands. Lost connections are re-dialled with
// jittered exponential backoff.
package worker

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chriscow/voiceturn/pkg/ai/vad"
	"github.com/chriscow/voiceturn/pkg/playback"
	"github.com/chriscow/voiceturn/pkg/rtc"
)

// Signal types received from the relay.
const (
	SignalTypePing  = "ping"
	SignalTypeAudio = "audio"
	SignalTypePlay  = "play"
	SignalTypeStop  = "stop"
	SignalTypeFlush = "flush"
)

// Command types sent to the relay.
const (
	CommandTypePong  = "pong"
	CommandTypeVAD   = "vad"
	CommandTypeState = "state"
	CommandTypeAudio = "audio"
	CommandTypeError = "error"
)

const queueSize = 100

// Handler carries out the signals the worker receives. Calls are made
// sequentially from one goroutine; an error is reported back to the relay
// and does not drop the connection.
type Handler interface {
	HandleAudio(ctx context.Context, frame rtc.AudioFrame) error
	HandlePlay(ctx context.Context, url, title string) error
	HandleStop(ctx context.Context) error
	HandleFlush(ctx context.Context) error
}

type Config struct {
	URL   string
	Token string

	ReconnectMin time.Duration // first retry delay, default 500ms
	ReconnectMax time.Duration // retry delay cap, default 30s
	PingInterval time.Duration // keepalive; 0 disables
}

type Worker struct {
	url      string
	wsClient *WebSocketClient
	handler  Handler
	logger   *slog.Logger

	reconnectMin time.Duration
	reconnectMax time.Duration
	pingInterval time.Duration

	in  chan *Signal
	out chan *Command

	mu             sync.RWMutex
	connected      bool
	backoffAttempt int
}

func New(config Config, handler Handler, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if config.ReconnectMin <= 0 {
		config.ReconnectMin = 500 * time.Millisecond
	}
	if config.ReconnectMax < config.ReconnectMin {
		config.ReconnectMax = max(30*time.Second, config.ReconnectMin)
	}
	return &Worker{
		url:          config.URL,
		wsClient:     NewWebSocketClient(config.URL, config.Token, logger),
		handler:      handler,
		logger:       logger,
		reconnectMin: config.ReconnectMin,
		reconnectMax: config.ReconnectMax,
		pingInterval: config.PingInterval,
		in:           make(chan *Signal, queueSize),
		out:          make(chan *Command, queueSize),
	}
}

// Run keeps a relay connection open until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("Starting worker", slog.String("url", w.url))

	for {
		err := w.connectAndRun(ctx)
		if ctx.Err() != nil {
			w.logger.Info("Worker shutting down")
			return nil
		}
		w.logger.Error("Worker connection failed", slog.String("error", err.Error()))

		if err := w.backoffDelay(ctx); err != nil {
			w.logger.Info("Worker shutting down")
			return nil
		}
	}
}

func (w *Worker) connectAndRun(ctx context.Context) error {
	if err := w.wsClient.Connect(ctx); err != nil {
		return err
	}
	w.setConnected(true)
	defer w.setConnected(false)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		if err := w.wsClient.Close(); err != nil {
			w.logger.Debug("Error closing WebSocket", slog.String("error", err.Error()))
		}
		return nil
	})
	g.Go(func() error {
		return w.readSignals(gctx)
	})
	g.Go(func() error {
		return w.writeCommands(gctx)
	})
	g.Go(func() error {
		w.processSignals(gctx)
		return nil
	})
	if w.pingInterval > 0 {
		g.Go(func() error {
			return w.keepalive(gctx)
		})
	}

	err := g.Wait()
	if err == nil {
		err = errors.New("connection closed")
	}
	return err
}

func (w *Worker) readSignals(ctx context.Context) error {
	for {
		signal, err := w.wsClient.ReadSignal()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read signals: %w", err)
		}

		select {
		case w.in <- signal:
		case <-ctx.Done():
			return nil
		}
	}
}

func (w *Worker) writeCommands(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-w.out:
			if err := w.wsClient.WriteCommand(cmd); err != nil {
				return fmt.Errorf("write commands: %w", err)
			}
		}
	}
}

func (w *Worker) keepalive(ctx context.Context) error {
	ticker := time.NewTicker(w.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := w.wsClient.Ping(); err != nil {
				return fmt.Errorf("keepalive: %w", err)
			}
		}
	}
}

func (w *Worker) processSignals(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case signal := <-w.in:
			w.handleSignal(ctx, signal)
		}
	}
}

func (w *Worker) handleSignal(ctx context.Context, signal *Signal) {
	var err error
	switch signal.Type {
	case SignalTypePing:
		w.TrySend(&Command{Type: CommandTypePong, Data: signal.Data})
		return

	case SignalTypeAudio:
		var frame rtc.AudioFrame
		if frame, err = decodeAudio(signal.Data); err == nil {
			err = w.handler.HandleAudio(ctx, frame)
		}

	case SignalTypePlay:
		url, _ := signal.Data["url"].(string)
		title, _ := signal.Data["title"].(string)
		if url == "" {
			err = errors.New("play signal without url")
			break
		}
		w.logger.Info("Received play signal", slog.String("title", title))
		err = w.handler.HandlePlay(ctx, url, title)

	case SignalTypeStop:
		err = w.handler.HandleStop(ctx)

	case SignalTypeFlush:
		err = w.handler.HandleFlush(ctx)

	default:
		w.logger.Warn("Unknown signal type", slog.String("type", signal.Type))
		return
	}

	if err != nil && ctx.Err() == nil {
		w.logger.Warn("Signal failed",
			slog.String("type", signal.Type),
			slog.String("error", err.Error()))
		w.TrySend(&Command{Type: CommandTypeError, Data: map[string]any{
			"signal": signal.Type,
			"error":  err.Error(),
		}})
	}
}

// Send queues cmd, blocking until there is room or ctx is done. Commands
// queued while disconnected go out after the next successful dial.
func (w *Worker) Send(ctx context.Context, cmd *Command) error {
	select {
	case w.out <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySend queues cmd without blocking and reports whether it was queued.
func (w *Worker) TrySend(cmd *Command) bool {
	select {
	case w.out <- cmd:
		return true
	default:
		w.logger.Warn("Command queue full, dropping command", slog.String("type", cmd.Type))
		return false
	}
}

// Sink returns a playback sink that streams injected frames to the relay.
func (w *Worker) Sink() playback.Sink {
	return playback.SinkFunc(func(ctx context.Context, _ string, frames iter.Seq[rtc.AudioFrame]) error {
		for frame := range frames {
			if err := w.Send(ctx, AudioCommand(frame)); err != nil {
				return err
			}
		}
		return nil
	})
}

// SendState reports a conversation state change. It never blocks.
func (w *Worker) SendState(from, to string) {
	w.TrySend(&Command{Type: CommandTypeState, Data: map[string]any{
		"from": from,
		"to":   to,
	}})
}

// SendVAD reports a speech boundary. It never blocks.
func (w *Worker) SendVAD(ev vad.Event) {
	data := map[string]any{
		"event":        ev.Type.String(),
		"timestamp_ms": ev.Timestamp.Milliseconds(),
	}
	if ev.Segment != nil {
		data["start_ms"] = ev.Segment.StartTime.Milliseconds()
		data["end_ms"] = ev.Segment.EndTime.Milliseconds()
		data["forced"] = ev.Segment.Forced
	}
	w.TrySend(&Command{Type: CommandTypeVAD, Data: data})
}

// AudioCommand encodes frame as base64 PCM.
func AudioCommand(frame rtc.AudioFrame) *Command {
	return &Command{Type: CommandTypeAudio, Data: map[string]any{
		"pcm":         base64.StdEncoding.EncodeToString(frame.Data),
		"sample_rate": frame.SampleRate,
	}}
}

func decodeAudio(data map[string]any) (rtc.AudioFrame, error) {
	encoded, _ := data["pcm"].(string)
	rate, _ := data["sample_rate"].(float64)
	if encoded == "" || rate <= 0 {
		return rtc.AudioFrame{}, errors.New("audio signal needs pcm and sample_rate")
	}
	pcm, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return rtc.AudioFrame{}, fmt.Errorf("decode pcm: %w", err)
	}
	frame, err := rtc.NewAudioFrame(pcm, int(rate), 1, 0)
	if err != nil {
		return rtc.AudioFrame{}, err
	}
	return *frame, nil
}

// backoff returns the delay before reconnect attempt n (1-based): the
// exponential step capped at ReconnectMax, with equal jitter.
func (w *Worker) backoff(attempt int) time.Duration {
	step := w.reconnectMin
	for i := 1; i < attempt && step < w.reconnectMax; i++ {
		step *= 2
	}
	step = min(step, w.reconnectMax)
	half := step / 2
	return half + rand.N(half+1)
}

func (w *Worker) backoffDelay(ctx context.Context) error {
	w.mu.Lock()
	w.backoffAttempt++
	attempt := w.backoffAttempt
	w.mu.Unlock()

	delay := w.backoff(attempt)
	w.logger.Info("Reconnecting with backoff",
		slog.Int("attempt", attempt),
		slog.Duration("delay", delay))

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) setConnected(connected bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if connected && !w.connected {
		w.backoffAttempt = 0
		w.logger.Info("Worker connected successfully")
	}
	w.connected = connected
}

func (w *Worker) IsConnected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}
