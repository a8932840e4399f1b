package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/chriscow/voiceturn/pkg/ai/vad"
	"github.com/chriscow/voiceturn/pkg/audio/wav"
	"github.com/chriscow/voiceturn/pkg/rtc"
)

func TestStamp(t *testing.T) {
	tests := []struct {
		at   time.Duration
		want string
	}{
		{0, "[00:00.000]"},
		{1230 * time.Millisecond, "[00:01.230]"},
		{75*time.Second + 5*time.Millisecond, "[01:15.005]"},
	}
	for _, tt := range tests {
		if got := stamp(vad.Event{Timestamp: tt.at}); got != tt.want {
			t.Errorf("stamp(%v) = %q, want %q", tt.at, got, tt.want)
		}
	}
}

func TestDumpSegment(t *testing.T) {
	is := is.New(t)

	dir := t.TempDir()
	seg := &vad.SpeechSegment{Frames: []rtc.AudioFrame{
		rtc.NewMonoFrame([]int16{1, 2, 3}, 16000, 0),
		rtc.NewMonoFrame([]int16{4, 5}, 16000, 0),
	}}
	is.NoErr(dumpSegment(dir, 7, seg, 16000))

	f, err := wav.Open(filepath.Join(dir, "segment-007.wav"))
	is.NoErr(err)
	defer f.Close()
	is.Equal(f.Header().SampleRate, uint32(16000))

	frames, err := f.ReadFrames(time.Second)
	is.NoErr(err)
	is.Equal(len(frames), 1)
	is.Equal(frames[0].Samples()[:5], []int16{1, 2, 3, 4, 5}) // rest is zero padding
}

func TestLoadConfigDefaults(t *testing.T) {
	is := is.New(t)

	cfg, err := loadConfig(configCheckCmd)
	is.NoErr(err)
	is.Equal(cfg.VAD.Backend, "silero")
}
