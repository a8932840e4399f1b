package playback

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/chriscow/voiceturn/pkg/audio/decode"
	"github.com/chriscow/voiceturn/pkg/rtc"
)

// Bed is a looping background track mixed under injected audio. Frames are
// decoded once, at the player's rate and frame size, and replayed in a loop.
type Bed struct {
	mu       sync.Mutex
	enabled  bool
	volume   float64
	frames   []rtc.AudioFrame
	position int
}

// LoadBed decodes the audio file at path (WAV, MP3 or Ogg/Vorbis) into frames
// matching cfg.
func LoadBed(path string, volume float64, cfg Config) (*Bed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open background track: %w", err)
	}
	defer f.Close()
	return NewBed(f, decode.Hint{URL: path}, volume, cfg)
}

// NewBed decodes r into a bed. An empty payload is an error.
func NewBed(r io.Reader, hint decode.Hint, volume float64, cfg Config) (*Bed, error) {
	dec, err := decode.New(r, hint, decode.Options{
		SampleRate:    cfg.SampleRate,
		FrameDuration: cfg.FrameDuration,
		BufferSize:    cfg.ChunkSize,
	})
	if err != nil {
		return nil, err
	}

	var frames []rtc.AudioFrame
	for {
		frame, err := dec.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		frames = append(frames, frame)
	}
	if len(frames) == 0 {
		return nil, errors.New("background track is empty")
	}

	b := &Bed{enabled: true, frames: frames}
	b.SetVolume(volume)
	return b, nil
}

// SetEnabled controls whether Mix adds the bed.
func (b *Bed) SetEnabled(enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enabled = enabled
}

// IsEnabled returns whether the bed is mixed in.
func (b *Bed) IsEnabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.enabled
}

// SetVolume sets the bed level, clamped to [0, 1].
func (b *Bed) SetVolume(volume float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.volume = min(max(volume, 0), 1)
}

// Rewind restarts the loop.
func (b *Bed) Rewind() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.position = 0
}

// Mix adds the next bed frame to frame in place, clamping to int16.
func (b *Bed) Mix(frame rtc.AudioFrame) {
	b.mu.Lock()
	if !b.enabled || b.volume == 0 {
		b.mu.Unlock()
		return
	}
	bg := b.frames[b.position]
	b.position = (b.position + 1) % len(b.frames)
	volume := b.volume
	b.mu.Unlock()

	fg := frame.Samples()
	back := bg.Samples()
	for i := range min(len(fg), len(back)) {
		fg[i] = rtc.ClampInt16(float64(fg[i]) + float64(back[i])*volume)
	}
	copy(frame.Data, rtc.SamplesToPCM(fg))
}
