package resample

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/gopxl/beep"

	"github.com/chriscow/voiceturn/pkg/rtc"
)

// beepBlock is the number of source samples beep.Resampler pulls per read.
const beepBlock = 512

// Converter brings every frame of one stream to a target rate in mono.
//
// Resampling is continuous across frames: one beep resampler runs for as
// long as the input rate stays the same, so no samples are lost at frame
// boundaries. The resampler only runs while enough input is queued to
// cover its lookahead, which holds back roughly beepBlock input samples
// until Flush. The first mismatching frame is logged.
type Converter struct {
	target  int
	logger  *slog.Logger
	logOnce sync.Once

	rate      int // input rate of the running resampler, 0 when idle
	ratio     float64
	queue     *queueStreamer
	resampler *beep.Resampler
	pushed    int
	emitted   int
	start     time.Duration
	buf       [][2]float64
}

// NewConverter returns a Converter producing mono frames at target Hz.
func NewConverter(target int, logger *slog.Logger) *Converter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Converter{target: target, logger: logger}
}

// Convert returns the audio of frame that is ready at the target rate. Frames
// that already match pass through unchanged once earlier audio is drained;
// for other frames the result may hold fewer samples than the input, or
// none, with the rest delivered by later calls or by Flush.
func (c *Converter) Convert(frame rtc.AudioFrame) rtc.AudioFrame {
	if frame.SampleRate == c.target && frame.NumChannels <= 1 {
		if c.rate == 0 {
			return frame
		}
		tail := c.Flush()
		return rtc.NewMonoFrame(append(tail.Samples(), frame.Samples()...), c.target, tail.Timestamp)
	}

	c.logOnce.Do(func() {
		c.logger.Info("Converting input audio for VAD",
			slog.Int("input_rate", frame.SampleRate),
			slog.Int("input_channels", frame.NumChannels),
			slog.Int("target_rate", c.target))
	})

	samples := frame.Samples()
	if frame.NumChannels == 2 {
		samples = DownmixStereo(samples)
	}
	if frame.SampleRate == c.target || frame.SampleRate <= 0 {
		if c.rate == 0 {
			return rtc.NewMonoFrame(samples, c.target, frame.Timestamp)
		}
		tail := c.Flush()
		return rtc.NewMonoFrame(append(tail.Samples(), samples...), c.target, tail.Timestamp)
	}

	var out []int16
	start := frame.Timestamp
	switch {
	case c.rate == frame.SampleRate:
		start = c.timestamp()
	case c.rate != 0:
		tail := c.Flush()
		out, start = tail.Samples(), tail.Timestamp
		c.reset(frame.SampleRate, frame.Timestamp)
	default:
		c.reset(frame.SampleRate, frame.Timestamp)
	}
	c.queue.push(samples)
	c.pushed += len(samples)
	out = append(out, c.drain(c.ready())...)
	return rtc.NewMonoFrame(out, c.target, start)
}

// Flush returns the audio still held back and ends the current run, so the
// output for one run totals OutputLen of its input.
func (c *Converter) Flush() rtc.AudioFrame {
	if c.rate == 0 {
		return rtc.NewMonoFrame(nil, c.target, 0)
	}
	start := c.timestamp()
	c.queue.ended = true
	want := OutputLen(c.pushed, c.rate, c.target) - c.emitted
	out := c.drain(want)
	for len(out) < want {
		out = append(out, 0)
	}
	c.rate = 0
	c.queue, c.resampler = nil, nil
	return rtc.NewMonoFrame(out, c.target, start)
}

func (c *Converter) reset(rate int, start time.Duration) {
	c.rate = rate
	c.ratio = float64(rate) / float64(c.target)
	c.queue = &queueStreamer{}
	c.resampler = beep.Resample(Quality, beep.SampleRate(rate), beep.SampleRate(c.target), c.queue)
	c.pushed, c.emitted = 0, 0
	c.start = start
	if c.buf == nil {
		c.buf = make([][2]float64, beepBlock)
	}
}

// ready counts the outputs whose interpolation window, plus one full read
// of lookahead, is already queued.
func (c *Converter) ready() int {
	n := 0
	for int(float64(c.emitted+n)*c.ratio)+Quality+beepBlock <= c.pushed {
		n++
	}
	return n
}

func (c *Converter) drain(want int) []int16 {
	out := make([]int16, 0, max(want, 0))
	for len(out) < want {
		n, ok := c.resampler.Stream(c.buf[:min(len(c.buf), want-len(out))])
		for i := 0; i < n; i++ {
			out = append(out, rtc.ClampInt16(math.Round(c.buf[i][0]*32768)))
		}
		if !ok || n == 0 {
			break
		}
	}
	c.emitted += len(out)
	return out
}

func (c *Converter) timestamp() time.Duration {
	return c.start + samplesDuration(c.emitted, c.target)
}

func samplesDuration(n, rate int) time.Duration {
	return time.Duration(int64(n) * int64(time.Second) / int64(rate))
}

// queueStreamer is a growing beep.Streamer fed by Convert. It reports
// exhaustion only after ended is set.
type queueStreamer struct {
	samples []int16
	ended   bool
}

func (q *queueStreamer) push(samples []int16) {
	q.samples = append(q.samples, samples...)
}

func (q *queueStreamer) Stream(buf [][2]float64) (int, bool) {
	n := min(len(buf), len(q.samples))
	for i := 0; i < n; i++ {
		v := float64(q.samples[i]) / 32768
		buf[i][0], buf[i][1] = v, v
	}
	q.samples = q.samples[n:]
	if n == 0 {
		return 0, !q.ended
	}
	return n, true
}

func (q *queueStreamer) Err() error { return nil }
