//go:build portaudio

package capture

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/chriscow/voiceturn/pkg/rtc"
)

// Microphone captures mono 16-bit frames from an input device. When the
// consumer falls behind, frames are dropped rather than blocking the device.
type Microphone struct {
	stream *portaudio.Stream
	frames chan rtc.AudioFrame
	logger *slog.Logger

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// OpenMicrophone opens and starts the input device named by opts.Device, or
// the default input device.
func OpenMicrophone(ctx context.Context, opts Options, logger *slog.Logger) (*Microphone, error) {
	opts = opts.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}

	dev, err := pickDevice(opts.Device)
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}

	perFrame := int(int64(opts.SampleRate) * int64(opts.FrameDuration) / int64(time.Second))
	buf := make([]int16, perFrame)
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(opts.SampleRate),
		FramesPerBuffer: perFrame,
	}
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("start input stream: %w", err)
	}
	logger.Info("Started audio capture",
		slog.String("device", dev.Name),
		slog.Int("sample_rate", opts.SampleRate))

	ctx, cancel := context.WithCancel(ctx)
	m := &Microphone{
		stream: stream,
		frames: make(chan rtc.AudioFrame, opts.QueueSize),
		logger: logger,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go m.read(ctx, buf, opts.SampleRate)
	return m, nil
}

func pickDevice(name string) (*portaudio.DeviceInfo, error) {
	if name == "" {
		return portaudio.DefaultInputDevice()
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	for _, dev := range devices {
		if dev.MaxInputChannels >= 1 && strings.Contains(strings.ToLower(dev.Name), strings.ToLower(name)) {
			return dev, nil
		}
	}
	return nil, fmt.Errorf("no input device matches %q", name)
}

func (m *Microphone) read(ctx context.Context, buf []int16, rate int) {
	defer close(m.done)
	defer close(m.frames)

	var offset time.Duration
	for ctx.Err() == nil {
		if err := m.stream.Read(); err != nil {
			m.logger.Debug("Audio read error", slog.String("error", err.Error()))
			return
		}
		frame := rtc.NewMonoFrame(append([]int16(nil), buf...), rate, offset)
		offset += frame.Duration()

		select {
		case m.frames <- frame:
		default:
			m.logger.Debug("Audio buffer full, dropping frame")
		}
	}
}

func (m *Microphone) Frames() <-chan rtc.AudioFrame { return m.frames }

// Close stops the device and releases portaudio.
func (m *Microphone) Close() error {
	var err error
	m.stopOnce.Do(func() {
		m.cancel()
		_ = m.stream.Stop()
		<-m.done
		err = m.stream.Close()
		_ = portaudio.Terminate()
	})
	return err
}
