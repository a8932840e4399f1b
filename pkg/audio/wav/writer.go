package wav

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/chriscow/voiceturn/pkg/rtc"
)

const headerSize = 44

// Writer writes 16-bit PCM WAV data. The header sizes are patched on Close,
// so the destination must be seekable.
type Writer struct {
	w            io.WriteSeeker
	closer       io.Closer
	sampleRate   uint32
	numChannels  uint16
	bytesWritten uint32
}

// Create creates a WAV file writer
func Create(filename string, sampleRate, numChannels int) (*Writer, error) {
	file, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create WAV file: %w", err)
	}
	w, err := NewWriter(file, sampleRate, numChannels)
	if err != nil {
		file.Close()
		return nil, err
	}
	w.closer = file
	return w, nil
}

// NewWriter writes a placeholder header to ws and returns a writer for the samples.
func NewWriter(ws io.WriteSeeker, sampleRate, numChannels int) (*Writer, error) {
	if sampleRate <= 0 || (numChannels != 1 && numChannels != 2) {
		return nil, fmt.Errorf("invalid WAV format: %d Hz, %d channels", sampleRate, numChannels)
	}
	w := &Writer{
		w:           ws,
		sampleRate:  uint32(sampleRate),
		numChannels: uint16(numChannels),
	}
	if _, err := ws.Write(header(w.sampleRate, w.numChannels, 0)); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	return w, nil
}

// WriteFrame appends one frame. Its format must match the writer's.
func (w *Writer) WriteFrame(frame rtc.AudioFrame) error {
	if frame.SampleRate != int(w.sampleRate) || frame.NumChannels != int(w.numChannels) {
		return fmt.Errorf("frame format %d Hz/%d ch does not match WAV %d Hz/%d ch",
			frame.SampleRate, frame.NumChannels, w.sampleRate, w.numChannels)
	}
	return w.writePCM(frame.Data)
}

// WriteSamples appends interleaved samples.
func (w *Writer) WriteSamples(samples []int16) error {
	return w.writePCM(rtc.SamplesToPCM(samples))
}

// WriteSineWave writes a half-amplitude sine wave on every channel.
func (w *Writer) WriteSineWave(frequency float64, duration time.Duration) error {
	return w.WriteSamples(SineWave(frequency, duration, int(w.sampleRate), int(w.numChannels)))
}

func (w *Writer) writePCM(pcm []byte) error {
	if w.w == nil {
		return errors.New("WAV writer closed")
	}
	if _, err := w.w.Write(pcm); err != nil {
		return fmt.Errorf("failed to write samples: %w", err)
	}
	w.bytesWritten += uint32(len(pcm))
	return nil
}

// Close finalizes the WAV file by updating the header with correct sizes
func (w *Writer) Close() error {
	if w.w == nil {
		return nil
	}
	err := w.patchHeader()
	if w.closer != nil {
		err = errors.Join(err, w.closer.Close())
	}
	w.w = nil
	return err
}

func (w *Writer) patchHeader() error {
	if _, err := w.w.Seek(4, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to chunk size: %w", err)
	}
	if err := binary.Write(w.w, binary.LittleEndian, w.bytesWritten+headerSize-8); err != nil {
		return fmt.Errorf("failed to write chunk size: %w", err)
	}
	if _, err := w.w.Seek(40, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to data size: %w", err)
	}
	if err := binary.Write(w.w, binary.LittleEndian, w.bytesWritten); err != nil {
		return fmt.Errorf("failed to write data size: %w", err)
	}
	_, err := w.w.Seek(0, io.SeekEnd)
	return err
}

// Encode returns a complete in-memory WAV file holding samples.
func Encode(samples []int16, sampleRate, numChannels int) []byte {
	pcm := rtc.SamplesToPCM(samples)
	var buf bytes.Buffer
	buf.Grow(headerSize + len(pcm))
	buf.Write(header(uint32(sampleRate), uint16(numChannels), uint32(len(pcm))))
	buf.Write(pcm)
	return buf.Bytes()
}

// SineWave generates interleaved half-amplitude sine samples.
func SineWave(frequency float64, duration time.Duration, sampleRate, numChannels int) []int16 {
	n := int(time.Duration(sampleRate) * duration / time.Second)
	samples := make([]int16, 0, n*numChannels)
	for i := 0; i < n; i++ {
		t := float64(i) / float64(sampleRate)
		s := int16(math.Sin(2*math.Pi*frequency*t) * 32767 * 0.5)
		for range numChannels {
			samples = append(samples, s)
		}
	}
	return samples
}

func header(sampleRate uint32, numChannels uint16, dataSize uint32) []byte {
	const bitsPerSample = 16
	h := make([]byte, headerSize)
	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], dataSize+headerSize-8)
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16)
	binary.LittleEndian.PutUint16(h[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(h[22:24], numChannels)
	binary.LittleEndian.PutUint32(h[24:28], sampleRate)
	binary.LittleEndian.PutUint32(h[28:32], sampleRate*uint32(numChannels)*bitsPerSample/8)
	binary.LittleEndian.PutUint16(h[32:34], numChannels*bitsPerSample/8)
	binary.LittleEndian.PutUint16(h[34:36], bitsPerSample)
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], dataSize)
	return h
}
