package playback

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/chriscow/voiceturn/pkg/ai"
)

// Config tunes the injection pipeline. None of the defaults is derived from
// anything deeper than what worked in practice, so all of them are exposed.
type Config struct {
	SampleRate    int           // output rate, default 48000
	FrameDuration time.Duration // default 20ms
	ChunkSize     int           // bytes per network read, default 64 KiB
	QueueCapacity int           // decoded frames buffered ahead of the sink, default 100
	SettleDelay   time.Duration // pause between stopping one session and starting the next
	StopTimeout   time.Duration // bound on waiting for a session to terminate
	FetchTimeout  time.Duration // bound on waiting for response headers

	// AlternateOrigin ("scheme://host[:port]") replaces the origin of a URL
	// whose fetch was rejected. Empty disables the fallback.
	AlternateOrigin string

	// Gain scales injected samples; 1 leaves them untouched.
	Gain float64
}

// DefaultConfig returns the default player configuration.
func DefaultConfig() Config {
	return Config{
		SampleRate:    48000,
		FrameDuration: 20 * time.Millisecond,
		ChunkSize:     64 << 10,
		QueueCapacity: 100,
		SettleDelay:   150 * time.Millisecond,
		StopTimeout:   2 * time.Second,
		FetchTimeout:  15 * time.Second,
		Gain:          1,
	}
}

// Validate reports every invalid field as one configuration error.
func (c Config) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample rate %d must be positive", c.SampleRate))
	}
	if c.FrameDuration <= 0 {
		errs = append(errs, fmt.Errorf("frame duration %v must be positive", c.FrameDuration))
	}
	if c.ChunkSize < 512 {
		errs = append(errs, fmt.Errorf("chunk size %d below 512 bytes", c.ChunkSize))
	}
	if c.QueueCapacity < 1 {
		errs = append(errs, fmt.Errorf("queue capacity %d must be at least 1", c.QueueCapacity))
	}
	if c.SettleDelay < 0 {
		errs = append(errs, fmt.Errorf("settle delay %v is negative", c.SettleDelay))
	}
	if c.StopTimeout <= 0 {
		errs = append(errs, fmt.Errorf("stop timeout %v must be positive", c.StopTimeout))
	}
	if c.FetchTimeout < 0 {
		errs = append(errs, fmt.Errorf("fetch timeout %v is negative", c.FetchTimeout))
	}
	if c.Gain < 0 {
		errs = append(errs, fmt.Errorf("gain %v is negative", c.Gain))
	}
	if c.AlternateOrigin != "" {
		if u, err := url.Parse(c.AlternateOrigin); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("alternate origin %q is not scheme://host", c.AlternateOrigin))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return ai.Configuration("playback config", errors.Join(errs...))
}
