package decode

import (
	"bytes"
	"errors"
	"io"
	"math"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/chriscow/voiceturn/pkg/ai"
	"github.com/chriscow/voiceturn/pkg/audio/wav"
	"github.com/chriscow/voiceturn/pkg/rtc"
)

func TestDetect(t *testing.T) {
	riff := []byte("RIFF\x00\x00\x00\x00WAVE")

	tests := []struct {
		name string
		hint Hint
		head []byte
		want Format
	}{
		{"explicit", Hint{Format: FormatVorbis, ContentType: "audio/mpeg"}, nil, FormatVorbis},
		{"content type", Hint{ContentType: "audio/mpeg"}, nil, FormatMP3},
		{"content type params", Hint{ContentType: "audio/wav; codecs=1"}, nil, FormatWAV},
		{"content type case", Hint{ContentType: "Audio/OGG"}, nil, FormatVorbis},
		{"extension", Hint{ContentType: "application/octet-stream", URL: "https://cdn.example.com/a/b/song.MP3?sig=1"}, nil, FormatMP3},
		{"ogg extension", Hint{URL: "http://x/clip.oga"}, nil, FormatVorbis},
		{"sniff wav", Hint{URL: "http://x/stream"}, riff, FormatWAV},
		{"sniff id3", Hint{}, []byte("ID3\x04"), FormatMP3},
		{"sniff mp3 sync", Hint{}, []byte{0xFF, 0xFB, 0x90}, FormatMP3},
		{"sniff ogg", Hint{}, []byte("OggS\x00"), FormatVorbis},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			got, err := Detect(tt.hint, tt.head)
			is.NoErr(err)
			is.Equal(got, tt.want)
		})
	}
}

func TestDetectUnknown(t *testing.T) {
	is := is.New(t)

	_, err := Detect(Hint{ContentType: "text/html", URL: "http://x/index.html"}, []byte("<html>"))
	is.True(errors.Is(err, ai.ErrDecode))
}

func readAll(t *testing.T, d *Decoder) []rtc.AudioFrame {
	t.Helper()
	var frames []rtc.AudioFrame
	for {
		f, err := d.Next()
		if err == io.EOF {
			return frames
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		frames = append(frames, f)
	}
}

func rms(samples []int16) float64 {
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

func TestDecodeWAVResamplesToFrames(t *testing.T) {
	is := is.New(t)

	payload := wav.Encode(wav.SineWave(440, 100*time.Millisecond, 16000, 1), 16000, 1)
	d, err := New(bytes.NewReader(payload), Hint{ContentType: "audio/wav"}, Options{})
	is.NoErr(err)
	is.Equal(d.Format(), FormatWAV)
	is.Equal(d.SourceRate(), 16000)

	frames := readAll(t, d)
	is.True(len(frames) >= 5 && len(frames) <= 6) // 100 ms in 20 ms frames, resampler tail

	for i, f := range frames {
		is.Equal(f.SampleRate, 48000)
		is.Equal(f.NumChannels, 1)
		is.Equal(f.SamplesPerChannel, 960)
		is.Equal(len(f.Data), 960*2)
		is.Equal(f.Timestamp, time.Duration(i)*20*time.Millisecond)
	}
	is.True(rms(frames[2].Samples()) > 5000) // tone survives
}

func TestDecodeWAVNativeRatePadsTail(t *testing.T) {
	is := is.New(t)

	samples := make([]int16, 960+100)
	for i := range samples {
		switch i % 4 {
		case 0:
			samples[i] = 1000
		case 1:
			samples[i] = -1000
		case 2:
			samples[i] = 32767
		default:
			samples[i] = -32768
		}
	}
	d, err := New(bytes.NewReader(wav.Encode(samples, 48000, 1)), Hint{}, Options{})
	is.NoErr(err)

	frames := readAll(t, d)
	is.Equal(len(frames), 2)
	is.Equal(frames[0].Samples(), samples[:960]) // native rate is bit exact
	tail := frames[1].Samples()
	is.Equal(tail[:100], samples[960:])
	is.Equal(tail[100], int16(0))
	is.Equal(tail[959], int16(0))

	_, err = d.Next()
	is.Equal(err, io.EOF) // stays at EOF
}

func TestDecodeStereoDownmix(t *testing.T) {
	is := is.New(t)

	samples := make([]int16, 0, 960*2)
	for range 960 {
		samples = append(samples, 8000, -8000) // cancels out
	}
	d, err := New(bytes.NewReader(wav.Encode(samples, 48000, 2)), Hint{Format: FormatWAV}, Options{})
	is.NoErr(err)

	frames := readAll(t, d)
	is.Equal(len(frames), 1)
	is.Equal(rms(frames[0].Samples()), 0.0)
}

func TestDecodeCustomFrameDuration(t *testing.T) {
	is := is.New(t)

	payload := wav.Encode(make([]int16, 1600), 16000, 1)
	d, err := New(bytes.NewReader(payload), Hint{}, Options{SampleRate: 16000, FrameDuration: 10 * time.Millisecond})
	is.NoErr(err)
	is.Equal(len(readAll(t, d)), 10)
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		hint    Hint
	}{
		{"truncated wav header", []byte("RIFF\x10\x00\x00\x00WAVEfmt "), Hint{}},
		{"garbage as wav", []byte("definitely not audio at all"), Hint{Format: FormatWAV}},
		{"garbage as ogg", append([]byte("OggS"), bytes.Repeat([]byte{0x01}, 64)...), Hint{}},
		{"empty mp3", nil, Hint{ContentType: "audio/mpeg"}},
		{"unknown", []byte("hello world, this is text"), Hint{ContentType: "text/plain"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			_, err := New(bytes.NewReader(tt.payload), tt.hint, Options{})
			is.True(errors.Is(err, ai.ErrDecode))
		})
	}
}

type failingReader struct {
	data []byte
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

func TestDecodeMidStreamError(t *testing.T) {
	is := is.New(t)

	payload := wav.Encode(make([]int16, 48000), 48000, 1)
	r := &failingReader{data: payload[:44+960*2*3], err: errors.New("connection reset")}
	d, err := New(r, Hint{}, Options{BufferSize: 1024})
	is.NoErr(err)

	var got error
	frames := 0
	for got == nil {
		_, got = d.Next()
		if got == nil {
			frames++
		}
	}
	is.True(frames >= 2)
	is.True(errors.Is(got, ai.ErrDecode))
	is.True(!errors.Is(got, io.EOF))
}
