package vad_test

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/matryer/is"

	"github.com/chriscow/voiceturn/internal/observe"
	"github.com/chriscow/voiceturn/pkg/ai"
	"github.com/chriscow/voiceturn/pkg/ai/vad"
	"github.com/chriscow/voiceturn/pkg/ai/vad/fake"
	"github.com/chriscow/voiceturn/pkg/plugin"
)

func failing(msg string) plugin.Factory {
	return func(map[string]any) (any, error) { return nil, errors.New(msg) }
}

func serving(c vad.Classifier) plugin.Factory {
	return func(map[string]any) (any, error) { return c, nil }
}

func load(t *testing.T, reg *plugin.Registry, opts vad.Options) (*vad.Engine, string, error) {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	e, err := vad.Load(opts,
		vad.WithRegistry(reg),
		vad.WithLogger(logger),
		vad.WithMetrics(observe.Discard()))
	return e, buf.String(), err
}

func TestLoadPrimary(t *testing.T) {
	is := is.New(t)

	reg := plugin.NewRegistry()
	reg.Register(vad.PluginKind, "silero", serving(fake.NewScripted(nil, fake.WithWindowSizes(512))))

	e, logs, err := load(t, reg, vad.DefaultOptions())
	is.NoErr(err)
	is.Equal(e.Backend(), vad.BackendSilero)
	is.Equal(e.Options().WindowSize, 512)
	is.True(!strings.Contains(logs, "falling back"))
}

func TestLoadFallsBackOnce(t *testing.T) {
	tests := []struct {
		name     string
		register func(reg *plugin.Registry)
		opts     func(o *vad.Options)
		want     vad.Backend
	}{
		{
			name: "silero init fails",
			register: func(reg *plugin.Registry) {
				reg.Register(vad.PluginKind, "silero", failing("model missing"))
				reg.Register(vad.PluginKind, "webrtc", serving(fake.NewScripted(nil)))
			},
			want: vad.BackendWebRTC,
		},
		{
			name: "backend not registered",
			register: func(reg *plugin.Registry) {
				reg.Register(vad.PluginKind, "webrtc", serving(fake.NewScripted(nil)))
			},
			want: vad.BackendWebRTC,
		},
		{
			name: "configured fallback",
			register: func(reg *plugin.Registry) {
				reg.Register(vad.PluginKind, "silero", failing("no onnxruntime"))
				reg.Register(vad.PluginKind, "energy", serving(fake.NewScripted(nil)))
			},
			opts: func(o *vad.Options) { o.FallbackBackend = vad.BackendEnergy },
			want: vad.BackendEnergy,
		},
		{
			name: "webrtc falls back to energy",
			register: func(reg *plugin.Registry) {
				reg.Register(vad.PluginKind, "webrtc", failing("cgo disabled"))
				reg.Register(vad.PluginKind, "energy", serving(fake.NewScripted(nil)))
			},
			opts: func(o *vad.Options) { o.Backend = vad.BackendWebRTC },
			want: vad.BackendEnergy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)

			reg := plugin.NewRegistry()
			tt.register(reg)
			opts := vad.DefaultOptions()
			if tt.opts != nil {
				tt.opts(&opts)
			}

			e, logs, err := load(t, reg, opts)
			is.NoErr(err)
			is.Equal(e.Backend(), tt.want)
			is.Equal(e.Options().Backend, tt.want)
			is.Equal(strings.Count(logs, "falling back"), 1)
			is.True(strings.Contains(logs, "fallback="+string(tt.want)))
		})
	}
}

func TestLoadBothFail(t *testing.T) {
	is := is.New(t)

	reg := plugin.NewRegistry()
	reg.Register(vad.PluginKind, "silero", failing("model missing"))
	reg.Register(vad.PluginKind, "webrtc", failing("cgo disabled"))
	reg.Register(vad.PluginKind, "energy", serving(fake.NewScripted(nil)))

	e, _, err := load(t, reg, vad.DefaultOptions())
	is.True(e == nil)
	is.True(errors.Is(err, ai.ErrConfiguration))
	is.True(strings.Contains(err.Error(), "model missing"))
	is.True(strings.Contains(err.Error(), "cgo disabled"))
}

func TestLoadNoFallbackToSelf(t *testing.T) {
	is := is.New(t)

	reg := plugin.NewRegistry()
	reg.Register(vad.PluginKind, "energy", failing("broken"))

	opts := vad.DefaultOptions()
	opts.Backend = vad.BackendEnergy
	opts.FallbackBackend = vad.BackendEnergy

	_, logs, err := load(t, reg, opts)
	is.True(errors.Is(err, ai.ErrConfiguration))
	is.True(!strings.Contains(logs, "falling back"))
}

func TestLoadInvalidOptions(t *testing.T) {
	is := is.New(t)

	opts := vad.DefaultOptions()
	opts.ActivationThreshold = 1.5
	opts.SampleRate = 44100

	_, _, err := load(t, plugin.NewRegistry(), opts)
	is.True(errors.Is(err, ai.ErrConfiguration))
	is.True(strings.Contains(err.Error(), "activation threshold"))
	is.True(strings.Contains(err.Error(), "sample rate"))
}

func TestLoadRejectsNonClassifier(t *testing.T) {
	is := is.New(t)

	reg := plugin.NewRegistry()
	reg.Register(vad.PluginKind, "silero", func(map[string]any) (any, error) { return "not a classifier", nil })
	reg.Register(vad.PluginKind, "webrtc", serving(fake.NewScripted(nil)))

	e, _, err := load(t, reg, vad.DefaultOptions())
	is.NoErr(err)
	is.Equal(e.Backend(), vad.BackendWebRTC)
}

func TestLoadWindowResolution(t *testing.T) {
	tests := []struct {
		name    string
		sizes   []int
		rate    int
		window  int
		want    int
		wantErr bool
	}{
		{"native first", []int{480, 320, 160}, 16000, 0, 480, false},
		{"any size default", nil, 16000, 0, 512, false},
		{"any size default 8k", nil, 8000, 0, 256, false},
		{"configured supported", []int{480, 320, 160}, 16000, 160, 160, false},
		{"configured free", nil, 16000, 160, 160, false},
		{"configured unsupported", []int{512}, 16000, 160, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)

			c := fake.NewScripted(nil, fake.WithWindowSizes(tt.sizes...))
			reg := plugin.NewRegistry()
			reg.Register(vad.PluginKind, "fake", serving(c))

			opts := vad.DefaultOptions()
			opts.Backend = vad.BackendFake
			opts.FallbackBackend = vad.BackendFake
			opts.SampleRate = tt.rate
			opts.WindowSize = tt.window

			e, _, err := load(t, reg, opts)
			if tt.wantErr {
				is.True(errors.Is(err, ai.ErrConfiguration))
				is.True(c.Closed())
				return
			}
			is.NoErr(err)
			is.Equal(e.Options().WindowSize, tt.want)
		})
	}
}
