// Package fake registers the amplitude-driven fake VAD backend, useful for
// demos and for exercising the pipeline without model files.
package fake

import (
	"github.com/chriscow/voiceturn/pkg/ai/vad"
	vadfake "github.com/chriscow/voiceturn/pkg/ai/vad/fake"
	"github.com/chriscow/voiceturn/pkg/plugin"
)

func newFakeVAD(cfg map[string]any) (any, error) {
	if seed := plugin.Int(cfg, "seed", 0); seed != 0 {
		return vadfake.NewRandom(plugin.Float(cfg, "speech_probability", vadfake.DefaultSpeechProbability), int64(seed)), nil
	}
	return vadfake.NewAmplitude(), nil
}

func init() {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        vad.PluginKind,
		Name:        string(vad.BackendFake),
		Factory:     newFakeVAD,
		Description: "Fake VAD backend driven by signal peak or a seeded generator",
		Version:     "1.0.0",
		Config: map[string]any{
			"seed":               0,
			"speech_probability": vadfake.DefaultSpeechProbability,
		},
		Available: true,
	})
}
