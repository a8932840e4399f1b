package vad

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/chriscow/voiceturn/internal/observe"
	"github.com/chriscow/voiceturn/pkg/ai"
	"github.com/chriscow/voiceturn/pkg/plugin"
)

// Engine is a loaded backend plus the options its streams share.
type Engine struct {
	backend    Backend
	classifier Classifier
	opts       Options
	logger     *slog.Logger
	metrics    *observe.Metrics
}

// LoadOption customizes Load.
type LoadOption func(*loadConfig)

type loadConfig struct {
	registry *plugin.Registry
	logger   *slog.Logger
	metrics  *observe.Metrics
}

// WithRegistry resolves backends from reg instead of the global registry.
func WithRegistry(reg *plugin.Registry) LoadOption {
	return func(c *loadConfig) { c.registry = reg }
}

// WithLogger sets the logger used by the engine and its streams.
func WithLogger(logger *slog.Logger) LoadOption {
	return func(c *loadConfig) { c.logger = logger }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observe.Metrics) LoadOption {
	return func(c *loadConfig) { c.metrics = m }
}

// Load validates opts and initializes the configured backend. When the
// backend fails to initialize it falls back exactly once, logging the
// downgrade. Either a usable engine or an error wrapping
// ai.ErrConfiguration is returned.
func Load(opts Options, options ...LoadOption) (*Engine, error) {
	cfg := loadConfig{registry: plugin.Default()}
	for _, o := range options {
		o(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.metrics == nil {
		cfg.metrics = observe.DefaultMetrics()
	}

	if err := opts.Validate(); err != nil {
		return nil, err
	}

	engine, primaryErr := open(cfg, opts, opts.Backend)
	if primaryErr == nil {
		return engine, nil
	}

	fallback := opts.FallbackBackend
	if fallback == "" {
		fallback = opts.Backend.DefaultFallback()
	}
	if fallback == opts.Backend {
		return nil, primaryErr
	}

	cfg.logger.Warn("VAD backend failed to initialize, falling back",
		slog.String("backend", string(opts.Backend)),
		slog.String("fallback", string(fallback)),
		slog.String("error", primaryErr.Error()))
	cfg.metrics.RecordBackendFallback(context.Background(), string(opts.Backend), string(fallback))

	engine, fallbackErr := open(cfg, opts, fallback)
	if fallbackErr != nil {
		return nil, ai.Configuration("load vad", errors.Join(primaryErr, fallbackErr))
	}
	return engine, nil
}

func open(cfg loadConfig, opts Options, backend Backend) (*Engine, error) {
	factory, ok := cfg.registry.Get(PluginKind, string(backend))
	if !ok {
		return nil, ai.Configuration("load vad", fmt.Errorf("backend %q is not registered", backend))
	}

	instance, err := factory(BackendConfig(opts))
	if err != nil {
		return nil, ai.Configuration("load vad", fmt.Errorf("backend %q: %w", backend, err))
	}
	classifier, ok := instance.(Classifier)
	if !ok {
		return nil, ai.Configuration("load vad", fmt.Errorf("backend %q returned %T, not a vad.Classifier", backend, instance))
	}

	window, err := resolveWindow(classifier, opts)
	if err != nil {
		classifier.Close()
		return nil, ai.Configuration("load vad", fmt.Errorf("backend %q: %w", backend, err))
	}

	opts.Backend = backend
	opts.WindowSize = window
	cfg.logger.Info("VAD engine loaded",
		slog.String("backend", string(backend)),
		slog.Int("sample_rate", opts.SampleRate),
		slog.Int("window_size", window))

	return &Engine{
		backend:    backend,
		classifier: classifier,
		opts:       opts,
		logger:     cfg.logger.With(slog.String("vad_backend", string(backend))),
		metrics:    cfg.metrics,
	}, nil
}

func resolveWindow(c Classifier, opts Options) (int, error) {
	sizes := c.WindowSizes(opts.SampleRate)
	switch {
	case opts.WindowSize == 0 && len(sizes) > 0:
		return sizes[0], nil
	case opts.WindowSize == 0:
		return opts.SampleRate * 32 / 1000, nil
	case len(sizes) == 0 || slices.Contains(sizes, opts.WindowSize):
		return opts.WindowSize, nil
	default:
		return 0, fmt.Errorf("window size %d unsupported at %d Hz (supported %v)", opts.WindowSize, opts.SampleRate, sizes)
	}
}

// Backend returns the backend actually in use, which differs from the
// configured one after a fallback.
func (e *Engine) Backend() Backend {
	return e.backend
}

// Options returns the effective options, with the window size resolved.
func (e *Engine) Options() Options {
	return e.opts
}

// NewStream starts a stream with fresh recurrent state. The stream's
// goroutine exits when ctx is cancelled, the input ends or Close is called.
func (e *Engine) NewStream(ctx context.Context) (*Stream, error) {
	session, err := e.classifier.NewSession(e.opts.SampleRate, e.opts.WindowSize)
	if err != nil {
		return nil, fmt.Errorf("vad session: %w", err)
	}
	session.Reset()
	return newStream(ctx, e, session), nil
}

// Close releases the backend.
func (e *Engine) Close() error {
	return e.classifier.Close()
}
