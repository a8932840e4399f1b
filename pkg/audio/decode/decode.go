// Package decode turns a compressed audio byte stream (MP3, WAV or
// Ogg/Vorbis) into fixed-duration mono PCM frames at a target rate. Decoding
// is incremental: only as many bytes are read as the next frame needs.
package decode

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/vorbis"

	"github.com/chriscow/voiceturn/pkg/ai"
	"github.com/chriscow/voiceturn/pkg/rtc"
)

// resampleQuality is beep's resampler quality (1-64); 4 is its recommended
// default for real-time use.
const resampleQuality = 4

// Options configures the frames a Decoder produces.
type Options struct {
	SampleRate    int           // default 48000
	FrameDuration time.Duration // default 20ms
	BufferSize    int           // read buffer in bytes, default 64 KiB
}

func (o Options) withDefaults() Options {
	if o.SampleRate <= 0 {
		o.SampleRate = 48000
	}
	if o.FrameDuration <= 0 {
		o.FrameDuration = 20 * time.Millisecond
	}
	if o.BufferSize <= 0 {
		o.BufferSize = 64 << 10
	}
	return o
}

// Decoder produces frames from one payload. It is not safe for concurrent use.
type Decoder struct {
	format     Format
	sourceRate int
	rate       int
	stream     beep.Streamer
	buf        [][2]float64
	emitted    int
	done       bool
}

// New detects the payload format and prepares decoding. Reads from r happen
// lazily in Next, except for the container header.
func New(r io.Reader, hint Hint, opts Options) (*Decoder, error) {
	opts = opts.withDefaults()
	br := bufio.NewReaderSize(r, opts.BufferSize)

	head, _ := br.Peek(SniffLen)
	format, err := Detect(hint, head)
	if err != nil {
		return nil, err
	}

	var (
		stream beep.Streamer
		src    beep.Format
	)
	switch format {
	case FormatMP3:
		stream, src, err = openMP3(br)
	case FormatWAV:
		stream, src, err = openWAV(br)
	case FormatVorbis:
		stream, src, err = vorbis.Decode(io.NopCloser(br))
	default:
		err = fmt.Errorf("unsupported format %q", format)
	}
	if err != nil {
		return nil, ai.Decode("open "+string(format), err)
	}
	if src.SampleRate <= 0 {
		return nil, ai.Decode("open "+string(format), fmt.Errorf("invalid sample rate %d", src.SampleRate))
	}

	if int(src.SampleRate) != opts.SampleRate {
		stream = beep.Resample(resampleQuality, src.SampleRate, beep.SampleRate(opts.SampleRate), stream)
	}

	frameLen := int(time.Duration(opts.SampleRate) * opts.FrameDuration / time.Second)
	if frameLen <= 0 {
		return nil, ai.Configuration("decode", fmt.Errorf("frame duration %v too short", opts.FrameDuration))
	}
	return &Decoder{
		format:     format,
		sourceRate: int(src.SampleRate),
		rate:       opts.SampleRate,
		stream:     stream,
		buf:        make([][2]float64, frameLen),
	}, nil
}

// Format returns the detected payload format.
func (d *Decoder) Format() Format { return d.format }

// SourceRate returns the payload's native sample rate.
func (d *Decoder) SourceRate() int { return d.sourceRate }

// Next returns the next mono frame. The final frame is zero padded to full
// length. After the last frame Next returns io.EOF; a malformed payload
// yields an error wrapping ai.ErrDecode.
func (d *Decoder) Next() (rtc.AudioFrame, error) {
	if d.done {
		return rtc.AudioFrame{}, io.EOF
	}

	filled := 0
	for filled < len(d.buf) {
		n, ok := d.stream.Stream(d.buf[filled:])
		filled += n
		if !ok || n == 0 {
			d.done = true
			break
		}
	}
	if err := d.stream.Err(); err != nil {
		d.done = true
		return rtc.AudioFrame{}, ai.Decode("decode "+string(d.format), err)
	}
	if filled == 0 {
		return rtc.AudioFrame{}, io.EOF
	}

	samples := make([]int16, len(d.buf))
	for i := 0; i < filled; i++ {
		samples[i] = rtc.ClampInt16(math.Round((d.buf[i][0] + d.buf[i][1]) / 2 * 32768))
	}
	frame := rtc.NewMonoFrame(samples, d.rate, time.Duration(int64(d.emitted)*int64(time.Second)/int64(d.rate)))
	d.emitted += len(samples)
	return frame, nil
}
