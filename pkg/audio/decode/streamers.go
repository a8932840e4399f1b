package decode

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/gopxl/beep"
	"github.com/hajimehoshi/go-mp3"

	"github.com/chriscow/voiceturn/pkg/audio/wav"
)

// pcmStreamer adapts interleaved 16-bit little-endian PCM to beep.Streamer.
type pcmStreamer struct {
	r        io.Reader
	channels int
	buf      []byte
	err      error
}

func newPCMStreamer(r io.Reader, channels int) *pcmStreamer {
	return &pcmStreamer{r: r, channels: channels}
}

func (s *pcmStreamer) Stream(samples [][2]float64) (int, bool) {
	if s.err != nil {
		return 0, false
	}
	frameBytes := 2 * s.channels
	want := len(samples) * frameBytes
	if cap(s.buf) < want {
		s.buf = make([]byte, want)
	}
	buf := s.buf[:want]

	n, err := io.ReadFull(s.r, buf)
	frames := n / frameBytes
	for i := 0; i < frames; i++ {
		off := i * frameBytes
		l := float64(int16(binary.LittleEndian.Uint16(buf[off:]))) / 32768
		r := l
		if s.channels == 2 {
			r = float64(int16(binary.LittleEndian.Uint16(buf[off+2:]))) / 32768
		}
		samples[i] = [2]float64{l, r}
	}

	switch {
	case err == nil:
		return frames, true
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return frames, frames > 0
	default:
		s.err = err
		return frames, frames > 0
	}
}

func (s *pcmStreamer) Err() error { return s.err }

func openMP3(r io.Reader) (beep.Streamer, beep.Format, error) {
	d, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, beep.Format{}, err
	}
	// go-mp3 always produces 16-bit stereo
	format := beep.Format{SampleRate: beep.SampleRate(d.SampleRate()), NumChannels: 2, Precision: 2}
	return newPCMStreamer(d, 2), format, nil
}

func openWAV(r io.Reader) (beep.Streamer, beep.Format, error) {
	wr, err := wav.NewReader(r)
	if err != nil {
		return nil, beep.Format{}, err
	}
	h := wr.Header()
	format := beep.Format{SampleRate: beep.SampleRate(h.SampleRate), NumChannels: int(h.NumChannels), Precision: 2}
	return newPCMStreamer(wr, int(h.NumChannels)), format, nil
}
