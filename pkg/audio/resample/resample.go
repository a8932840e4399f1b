// Package resample converts PCM16 mono audio between sample rates.
//
// The band-limited path runs gopxl/beep's windowed-sinc resampler; linear
// interpolation is the fallback. Output length is always
// floor(len(samples) * rateOut / rateIn).
package resample

import (
	"fmt"
	"math"

	"github.com/gopxl/beep"

	"github.com/chriscow/voiceturn/pkg/rtc"
)

// Quality is the beep resampler quality used by HighQuality. Higher values
// widen the interpolation window.
const Quality = 4

// Resample converts little-endian int16 mono PCM from rateIn to rateOut.
// Equal rates return pcm unchanged; so do non-positive rates.
func Resample(pcm []byte, rateIn, rateOut int) []byte {
	if rateIn == rateOut || rateIn <= 0 || rateOut <= 0 {
		return pcm
	}
	if len(pcm) < 2 {
		return []byte{}
	}
	return rtc.SamplesToPCM(Samples(rtc.PCMToSamples(pcm), rateIn, rateOut))
}

// Samples is Resample on decoded samples.
func Samples(samples []int16, rateIn, rateOut int) []int16 {
	if rateIn == rateOut || rateIn <= 0 || rateOut <= 0 {
		return samples
	}
	if len(samples) == 0 {
		return []int16{}
	}
	out, err := HighQuality(samples, rateIn, rateOut)
	if err != nil {
		return Linear(samples, rateIn, rateOut)
	}
	return out
}

// OutputLen returns the number of samples produced for n input samples.
func OutputLen(n, rateIn, rateOut int) int {
	if rateIn <= 0 || rateOut <= 0 {
		return n
	}
	return int(int64(n) * int64(rateOut) / int64(rateIn))
}

// HighQuality resamples through beep.Resample. The result is truncated or
// zero-padded to OutputLen so the length never depends on the filter delay.
func HighQuality(samples []int16, rateIn, rateOut int) (out []int16, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("beep resampler: %v", r)
		}
	}()
	if rateIn <= 0 || rateOut <= 0 {
		return nil, fmt.Errorf("invalid sample rates %d -> %d", rateIn, rateOut)
	}

	newLen := OutputLen(len(samples), rateIn, rateOut)
	src := &sliceStreamer{samples: samples}
	r := beep.Resample(Quality, beep.SampleRate(rateIn), beep.SampleRate(rateOut), src)

	out = make([]int16, 0, newLen)
	buf := make([][2]float64, 512)
	for len(out) < newLen {
		n, ok := r.Stream(buf)
		for i := 0; i < n && len(out) < newLen; i++ {
			out = append(out, rtc.ClampInt16(math.Round(buf[i][0]*32768)))
		}
		if !ok || n == 0 {
			break
		}
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	for len(out) < newLen {
		out = append(out, 0)
	}
	return out, nil
}

// Linear resamples with linear interpolation between neighbouring samples.
func Linear(samples []int16, rateIn, rateOut int) []int16 {
	newLen := OutputLen(len(samples), rateIn, rateOut)
	out := make([]int16, newLen)
	if len(samples) == 0 {
		return out
	}

	ratio := float64(rateIn) / float64(rateOut)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= last {
			out[i] = samples[last]
			continue
		}
		frac := pos - float64(idx)
		v := float64(samples[idx])*(1-frac) + float64(samples[idx+1])*frac
		out[i] = rtc.ClampInt16(math.Round(v))
	}
	return out
}

// DownmixStereo averages interleaved stereo samples into mono.
func DownmixStereo(interleaved []int16) []int16 {
	mono := make([]int16, len(interleaved)/2)
	for i := range mono {
		mono[i] = int16((int32(interleaved[2*i]) + int32(interleaved[2*i+1])) / 2)
	}
	return mono
}

// sliceStreamer feeds int16 samples to beep as normalized floats.
type sliceStreamer struct {
	samples []int16
	pos     int
}

func (s *sliceStreamer) Stream(buf [][2]float64) (int, bool) {
	if s.pos >= len(s.samples) {
		return 0, false
	}
	n := 0
	for n < len(buf) && s.pos < len(s.samples) {
		v := float64(s.samples[s.pos]) / 32768
		buf[n][0], buf[n][1] = v, v
		s.pos++
		n++
	}
	return n, true
}

func (s *sliceStreamer) Err() error { return nil }
