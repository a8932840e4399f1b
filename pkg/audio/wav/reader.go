// Package wav reads and writes 16-bit PCM WAV audio. The reader works on any
// io.Reader so it can decode a WAV body while it is still being downloaded.
package wav

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/chriscow/voiceturn/pkg/rtc"
)

// unknownSize marks a data chunk written by a streaming encoder that never
// patched its header.
const unknownSize = 0xFFFFFFFF

// Header represents a WAV file header
type Header struct {
	SampleRate    uint32
	NumChannels   uint16
	BitsPerSample uint16
	DataSize      uint32 // 0 or 0xFFFFFFFF when unknown
}

// Reader streams the PCM payload of a WAV file.
type Reader struct {
	r      io.Reader
	header Header
	// remaining bytes of the data chunk, -1 when unbounded
	remaining int64
}

// NewReader parses the WAV header from r and leaves it positioned at the
// start of the sample data. Only 16-bit PCM mono or stereo is accepted.
func NewReader(r io.Reader) (*Reader, error) {
	reader := &Reader{r: r}
	if err := reader.readHeader(); err != nil {
		return nil, fmt.Errorf("failed to read WAV header: %w", err)
	}
	return reader, nil
}

// Header returns the WAV file header information
func (r *Reader) Header() Header {
	return r.header
}

// Read reads raw little-endian PCM bytes, stopping at the end of the data chunk.
func (r *Reader) Read(p []byte) (int, error) {
	if r.remaining == 0 {
		return 0, io.EOF
	}
	if r.remaining > 0 && int64(len(p)) > r.remaining {
		p = p[:r.remaining]
	}
	n, err := r.r.Read(p)
	if r.remaining > 0 {
		r.remaining -= int64(n)
	}
	return n, err
}

// ReadFrames reads the rest of the audio as frames of frameDuration. The last
// frame is zero padded.
func (r *Reader) ReadFrames(frameDuration time.Duration) ([]rtc.AudioFrame, error) {
	samplesPerFrame := int(time.Duration(r.header.SampleRate) * frameDuration / time.Second)
	if samplesPerFrame <= 0 {
		return nil, fmt.Errorf("frame duration %v too short at %d Hz", frameDuration, r.header.SampleRate)
	}
	bytesPerFrame := samplesPerFrame * int(r.header.NumChannels) * 2

	var frames []rtc.AudioFrame
	for i := 0; ; i++ {
		buffer := make([]byte, bytesPerFrame)
		n, err := io.ReadFull(r, buffer)
		if n == 0 && (err == io.EOF || err == io.ErrUnexpectedEOF) {
			return frames, nil
		}
		if err != nil && err != io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("failed to read audio data: %w", err)
		}

		frame, ferr := rtc.NewAudioFrame(buffer, int(r.header.SampleRate), int(r.header.NumChannels),
			time.Duration(i)*frameDuration)
		if ferr != nil {
			return nil, ferr
		}
		frames = append(frames, *frame)
		if err == io.ErrUnexpectedEOF {
			return frames, nil
		}
	}
}

// File is a Reader over an opened WAV file.
type File struct {
	*Reader
	f *os.File
}

// Open opens a WAV file for reading.
func Open(filename string) (*File, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAV file: %w", err)
	}
	r, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &File{Reader: r, f: f}, nil
}

// Close closes the WAV file
func (f *File) Close() error {
	return f.f.Close()
}

func (r *Reader) readHeader() error {
	var riff [12]byte
	if _, err := io.ReadFull(r.r, riff[:]); err != nil {
		return fmt.Errorf("failed to read RIFF header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" {
		return errors.New("not a valid RIFF file")
	}
	if string(riff[8:12]) != "WAVE" {
		return errors.New("not a valid WAVE file")
	}

	sawFmt := false
	for {
		var chunk [8]byte
		if _, err := io.ReadFull(r.r, chunk[:]); err != nil {
			return fmt.Errorf("failed to read chunk header: %w", err)
		}
		id := string(chunk[0:4])
		size := binary.LittleEndian.Uint32(chunk[4:8])

		switch id {
		case "fmt ":
			if err := r.readFmt(size); err != nil {
				return err
			}
			sawFmt = true
		case "data":
			if !sawFmt {
				return errors.New("data chunk before fmt chunk")
			}
			r.header.DataSize = size
			r.remaining = int64(size)
			if size == 0 || size == unknownSize {
				r.remaining = -1
			}
			return nil
		default:
			if err := skip(r.r, int64(size)+int64(size&1)); err != nil {
				return fmt.Errorf("failed to skip %q chunk: %w", id, err)
			}
		}
	}
}

func (r *Reader) readFmt(size uint32) error {
	if size < 16 {
		return fmt.Errorf("fmt chunk too small: %d bytes", size)
	}
	var fmtData [16]byte
	if _, err := io.ReadFull(r.r, fmtData[:]); err != nil {
		return fmt.Errorf("failed to read fmt data: %w", err)
	}

	audioFormat := binary.LittleEndian.Uint16(fmtData[0:2])
	// 0xFFFE is WAVE_FORMAT_EXTENSIBLE, which ffmpeg writes for plain PCM too
	if audioFormat != 1 && audioFormat != 0xFFFE {
		return fmt.Errorf("only PCM format is supported, got format %d", audioFormat)
	}
	r.header.NumChannels = binary.LittleEndian.Uint16(fmtData[2:4])
	r.header.SampleRate = binary.LittleEndian.Uint32(fmtData[4:8])
	r.header.BitsPerSample = binary.LittleEndian.Uint16(fmtData[14:16])

	if rest := int64(size) - 16 + int64(size&1); rest > 0 {
		if err := skip(r.r, rest); err != nil {
			return fmt.Errorf("failed to skip fmt data: %w", err)
		}
	}

	if r.header.BitsPerSample != 16 {
		return fmt.Errorf("only 16-bit samples are supported, got %d-bit", r.header.BitsPerSample)
	}
	if r.header.NumChannels != 1 && r.header.NumChannels != 2 {
		return fmt.Errorf("only mono and stereo are supported, got %d channels", r.header.NumChannels)
	}
	if r.header.SampleRate == 0 {
		return errors.New("sample rate is zero")
	}
	return nil
}

func skip(r io.Reader, n int64) error {
	_, err := io.CopyN(io.Discard, r, n)
	return err
}
