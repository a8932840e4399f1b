// Package silero registers the Silero VAD backend. Inference runs the Silero
// v5 ONNX model through onnxruntime and needs the `silero` build tag plus the
// onnxruntime shared library; without the tag a stub is registered whose
// factory fails, so the VAD factory falls back to another backend.
package silero

import (
	"os"
	"path/filepath"

	"github.com/chriscow/voiceturn/pkg/ai/vad"
	"github.com/chriscow/voiceturn/pkg/plugin"
)

const (
	// ModelFileName is the expected ONNX model file name
	ModelFileName = "silero_vad.onnx"

	// ModelURL is the upstream location of the v5 model.
	ModelURL = "https://github.com/snakers4/silero-vad/raw/v5.1.2/src/silero_vad/data/silero_vad.onnx"
)

// DefaultModelPath returns VOICETURN_MODEL_PATH/silero_vad.onnx, or the
// file under ~/.voiceturn/models.
func DefaultModelPath() string {
	dir := os.Getenv("VOICETURN_MODEL_PATH")
	if dir == "" {
		homeDir, _ := os.UserHomeDir()
		dir = filepath.Join(homeDir, ".voiceturn", "models")
	}
	return filepath.Join(dir, ModelFileName)
}

// windowSize is the only window the model accepts at each rate.
func windowSize(sampleRate int) int {
	if sampleRate == 8000 {
		return 256
	}
	return 512
}

// contextSize is the number of trailing samples of the previous window the
// v5 model expects in front of each window.
func contextSize(sampleRate int) int {
	if sampleRate == 8000 {
		return 32
	}
	return 64
}

func register(factory plugin.Factory, available bool, description string) {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        vad.PluginKind,
		Name:        string(vad.BackendSilero),
		Factory:     factory,
		Description: description,
		Version:     "5.1.2",
		Available:   available,
		Config: map[string]any{
			"sample_rate": 16000,
			"model_path":  DefaultModelPath(),
		},
		Downloader: NewDownloader(ModelURL, DefaultModelPath(), os.Getenv("VOICETURN_SILERO_SHA256")),
	})
}
