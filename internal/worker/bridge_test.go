package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/matryer/is"

	"github.com/chriscow/voiceturn/pkg/rtc"
)

type countingFlusher struct{ n int }

func (f *countingFlusher) Flush(context.Context) error {
	f.n++
	return nil
}

func TestBridge(t *testing.T) {
	is := is.New(t)

	frames := make(chan rtc.AudioFrame, 1)
	flusher := &countingFlusher{}
	b := NewBridge(frames, flusher, nil)
	ctx := context.Background()

	is.NoErr(b.HandleAudio(ctx, rtc.NewMonoFrame([]int16{7}, 16000, 0)))
	f := <-frames
	is.Equal(f.Samples(), []int16{7})

	is.NoErr(b.HandleFlush(ctx))
	is.Equal(flusher.n, 1)

	is.True(errors.Is(b.HandlePlay(ctx, "https://x/y.mp3", "y"), errNoPlayer))
	is.True(errors.Is(b.HandleStop(ctx), errNoPlayer))
}

func TestBridgeAudioHonoursContext(t *testing.T) {
	b := NewBridge(make(chan rtc.AudioFrame), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := b.HandleAudio(ctx, rtc.NewMonoFrame([]int16{1}, 16000, 0)); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if err := NewBridge(nil, nil, nil).HandleFlush(context.Background()); err != nil {
		t.Errorf("flush without a conversation should be a no-op, got %v", err)
	}
}
