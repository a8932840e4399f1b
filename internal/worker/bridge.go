package worker

import (
	"context"
	"errors"

	"github.com/chriscow/voiceturn/pkg/playback"
	"github.com/chriscow/voiceturn/pkg/rtc"
)

// Flusher ends the open speech segment of a running conversation.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Bridge is the Handler that feeds relay audio to a conversation and relay
// playback requests to a player.
type Bridge struct {
	frames  chan<- rtc.AudioFrame
	flusher Flusher
	player  *playback.Player
}

// NewBridge routes audio into frames (read by agent.Session.Run), flushes to
// flusher and playback to player. flusher and player may be nil.
func NewBridge(frames chan<- rtc.AudioFrame, flusher Flusher, player *playback.Player) *Bridge {
	return &Bridge{frames: frames, flusher: flusher, player: player}
}

// Attach sets the flusher and player after construction, for the usual case
// where the player sinks into the worker that owns this bridge. It must be
// called before the worker runs.
func (b *Bridge) Attach(flusher Flusher, player *playback.Player) {
	b.flusher = flusher
	b.player = player
}

var errNoPlayer = errors.New("playback is not configured")

func (b *Bridge) HandleAudio(ctx context.Context, frame rtc.AudioFrame) error {
	select {
	case b.frames <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bridge) HandlePlay(_ context.Context, url, title string) error {
	if b.player == nil {
		return errNoPlayer
	}
	_, err := b.player.PlayFromURL(url, title)
	return err
}

func (b *Bridge) HandleStop(context.Context) error {
	if b.player == nil {
		return errNoPlayer
	}
	return b.player.Stop()
}

func (b *Bridge) HandleFlush(ctx context.Context) error {
	if b.flusher == nil {
		return nil
	}
	return b.flusher.Flush(ctx)
}
