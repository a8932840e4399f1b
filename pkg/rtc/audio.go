package rtc

import (
	"encoding/binary"
	"fmt"
	"time"
)

// AudioFrame is a chunk of 16-bit little-endian PCM audio.
// Len(Data) == SamplesPerChannel * NumChannels * 2.
//
// Frames on the turn-taking paths are mono. Their duration is whatever the
// producer chose: VAD windows are 512 samples at 16 kHz, injected playback
// uses 20 ms at 48 kHz, capture devices usually deliver 10 ms.
//
// Timestamp is the offset of the first sample from the start of the stream.
type AudioFrame struct {
	Data              []byte        // 16-bit PCM, little-endian
	SampleRate        int           // Hz
	SamplesPerChannel int           // len(Data) / (NumChannels * 2)
	NumChannels       int           // 1 or 2
	Timestamp         time.Duration // optional
}

// NewAudioFrame creates an AudioFrame and derives SamplesPerChannel from the
// data length. Returns an error if the data does not hold a whole number of
// samples for every channel.
func NewAudioFrame(data []byte, sampleRate, numChannels int, timestamp time.Duration) (*AudioFrame, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("AudioFrame sample rate must be positive, got %d", sampleRate)
	}
	if numChannels != 1 && numChannels != 2 {
		return nil, fmt.Errorf("AudioFrame supports 1 or 2 channels, got %d", numChannels)
	}

	bytesPerFrame := numChannels * 2
	if len(data)%bytesPerFrame != 0 {
		return nil, fmt.Errorf("AudioFrame data length mismatch: %d bytes is not a multiple of %d for %d-channel 16-bit audio",
			len(data), bytesPerFrame, numChannels)
	}

	return &AudioFrame{
		Data:              data,
		SampleRate:        sampleRate,
		SamplesPerChannel: len(data) / bytesPerFrame,
		NumChannels:       numChannels,
		Timestamp:         timestamp,
	}, nil
}

// NewMonoFrame builds a mono frame from int16 samples.
func NewMonoFrame(samples []int16, sampleRate int, timestamp time.Duration) AudioFrame {
	return AudioFrame{
		Data:              SamplesToPCM(samples),
		SampleRate:        sampleRate,
		SamplesPerChannel: len(samples),
		NumChannels:       1,
		Timestamp:         timestamp,
	}
}

// Clone creates a deep copy of the AudioFrame.
func (f *AudioFrame) Clone() *AudioFrame {
	data := make([]byte, len(f.Data))
	copy(data, f.Data)

	return &AudioFrame{
		Data:              data,
		SampleRate:        f.SampleRate,
		SamplesPerChannel: f.SamplesPerChannel,
		NumChannels:       f.NumChannels,
		Timestamp:         f.Timestamp,
	}
}

// Samples decodes the frame's interleaved int16 samples.
func (f *AudioFrame) Samples() []int16 {
	return PCMToSamples(f.Data)
}

// Duration returns the duration represented by this frame.
func (f *AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.SamplesPerChannel) * time.Second / time.Duration(f.SampleRate)
}

// PCMToSamples decodes little-endian int16 PCM. A trailing odd byte is ignored.
func PCMToSamples(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples
}

// SamplesToPCM encodes int16 samples as little-endian PCM.
func SamplesToPCM(samples []int16) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	return pcm
}

// ClampInt16 saturates v to the int16 range.
func ClampInt16(v float64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
