package capture

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/chriscow/voiceturn/pkg/audio/wav"
	"github.com/chriscow/voiceturn/pkg/rtc"
)

func writeWAV(t *testing.T, samples []int16, rate, channels int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "in.wav")
	if err := os.WriteFile(path, wav.Encode(samples, rate, channels), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func collect(t *testing.T, src Source) []rtc.AudioFrame {
	t.Helper()
	var frames []rtc.AudioFrame
	timeout := time.After(5 * time.Second)
	for {
		select {
		case f, ok := <-src.Frames():
			if !ok {
				return frames
			}
			frames = append(frames, f)
		case <-timeout:
			t.Fatal("timed out reading frames")
		}
	}
}

func TestFileSourceFrames(t *testing.T) {
	is := is.New(t)

	// 50 ms at 16 kHz: two full 20 ms frames and a 10 ms tail
	samples := make([]int16, 800)
	for i := range samples {
		samples[i] = int16(i)
	}
	src, err := OpenFile(context.Background(), writeWAV(t, samples, 16000, 1), Options{}, nil)
	is.NoErr(err)
	defer src.Close()

	frames := collect(t, src)
	is.NoErr(src.Err())
	is.Equal(len(frames), 3)
	is.Equal(frames[0].SamplesPerChannel, 320)
	is.Equal(frames[2].SamplesPerChannel, 160)
	is.Equal(frames[1].Timestamp, 20*time.Millisecond)
	is.Equal(frames[1].Samples()[0], int16(320))
}

func TestFileSourceDownmixesStereo(t *testing.T) {
	is := is.New(t)

	samples := make([]int16, 2*320)
	for i := 0; i < len(samples); i += 2 {
		samples[i], samples[i+1] = 1000, 3000
	}
	src, err := OpenFile(context.Background(), writeWAV(t, samples, 16000, 2), Options{}, nil)
	is.NoErr(err)
	defer src.Close()

	frames := collect(t, src)
	is.Equal(len(frames), 1)
	is.Equal(frames[0].NumChannels, 1)
	is.Equal(frames[0].Samples()[5], int16(2000))
}

func TestFileSourceCloseStopsRealtimeReplay(t *testing.T) {
	is := is.New(t)

	src, err := OpenFile(context.Background(), writeWAV(t, make([]int16, 16000*10), 16000, 1),
		Options{Realtime: true, QueueSize: 1}, nil)
	is.NoErr(err)

	<-src.Frames()
	done := make(chan struct{})
	go func() {
		src.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not stop the replay")
	}
}

func TestOpenFileMissing(t *testing.T) {
	if _, err := OpenFile(context.Background(), filepath.Join(t.TempDir(), "nope.wav"), Options{}, nil); err == nil {
		t.Fatal("expected error for a missing file")
	}
}
