package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chriscow/voiceturn/pkg/ai"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "VOICETURN_"

// Load reads the YAML configuration file at path, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r over Default(), applies environment
// overrides and validates. Unknown keys are rejected; empty input yields the
// defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, ai.Configuration("config: decode yaml", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that c contains a coherent set of values. It returns a
// joined configuration error listing every failure.
func (c *Config) Validate() error {
	var errs []error

	if !c.Log.Level.IsValid() {
		errs = append(errs, fmt.Errorf("log.level %q is invalid; valid values: debug, info, warn, error", c.Log.Level))
	}
	if c.Log.Format != LogFormatJSON && c.Log.Format != LogFormatConsole {
		errs = append(errs, fmt.Errorf("log.format %q is invalid; valid values: json, console", c.Log.Format))
	}
	if err := c.VADOptions().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("vad: %w", err))
	}
	if err := c.PlayerConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("player: %w", err))
	}
	if c.Player.BedVolume < 0 || c.Player.BedVolume > 1 {
		errs = append(errs, fmt.Errorf("player.bed_volume %v outside [0,1]", c.Player.BedVolume))
	}
	if c.Coordinator.Ceiling < 0 {
		errs = append(errs, fmt.Errorf("coordinator.ceiling %v is negative", c.Coordinator.Ceiling))
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		errs = append(errs, errors.New("metrics.addr is required when metrics are enabled"))
	}
	if c.Worker.URL != "" {
		if u, err := url.Parse(c.Worker.URL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			errs = append(errs, fmt.Errorf("worker.url %q must be a ws:// or wss:// URL", c.Worker.URL))
		}
	}
	if c.Worker.ReconnectMin <= 0 || c.Worker.ReconnectMax < c.Worker.ReconnectMin {
		errs = append(errs, fmt.Errorf("worker reconnect window [%v, %v] is invalid", c.Worker.ReconnectMin, c.Worker.ReconnectMax))
	}
	if c.Worker.PingInterval < 0 {
		errs = append(errs, fmt.Errorf("worker.ping_interval %v is negative", c.Worker.PingInterval))
	}

	if len(errs) == 0 {
		return nil
	}
	return ai.Configuration("config: validate", errors.Join(errs...))
}

// ApplyEnv overrides fields from VOICETURN_* environment variables.
func (c *Config) ApplyEnv() error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			*dst = v
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}
	float := func(name string, dst *float64) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = f
		}
	}

	if v, ok := os.LookupEnv(EnvPrefix + "LOG_LEVEL"); ok {
		c.Log.Level = LogLevel(v)
	}
	if v, ok := os.LookupEnv(EnvPrefix + "LOG_FORMAT"); ok {
		c.Log.Format = LogFormat(v)
	}
	str("VAD_BACKEND", &c.VAD.Backend)
	str("VAD_MODEL_PATH", &c.VAD.ModelPath)
	float("VAD_THRESHOLD", &c.VAD.ActivationThreshold)
	dur("VAD_MIN_SILENCE", &c.VAD.MinSilence)
	str("PLAYER_ALTERNATE_ORIGIN", &c.Player.AlternateOrigin)
	float("PLAYER_GAIN", &c.Player.Gain)
	dur("COORDINATOR_CEILING", &c.Coordinator.Ceiling)
	str("METRICS_ADDR", &c.Metrics.Addr)
	str("WORKER_URL", &c.Worker.URL)
	str("WORKER_TOKEN", &c.Worker.Token)

	if len(errs) == 0 {
		return nil
	}
	return ai.Configuration("config: environment", errors.Join(errs...))
}
