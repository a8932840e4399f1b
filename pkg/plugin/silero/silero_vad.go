//go:build silero

package silero

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/chriscow/voiceturn/pkg/ai/vad"
	"github.com/chriscow/voiceturn/pkg/plugin"
)

var (
	ortOnce    sync.Once
	ortInitErr error
)

// ensureOrtEnv initializes the ONNX runtime environment exactly once per process.
func ensureOrtEnv() error {
	ortOnce.Do(func() {
		if libPath := os.Getenv("ONNXRUNTIME_LIB"); libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		} else if runtime.GOOS == "darwin" {
			ort.SetSharedLibraryPath("/opt/homebrew/lib/libonnxruntime.dylib")
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

// Classifier runs the Silero v5 model. Every session opens its own
// onnxruntime session so recurrent state never leaks between streams.
type Classifier struct {
	modelPath string
}

func newClassifier(cfg map[string]any) (any, error) {
	modelPath := plugin.String(cfg, "model_path", DefaultModelPath())
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("silero model not found at %s (run 'voiceturn vad download' first): %w", modelPath, err)
	}
	if err := ensureOrtEnv(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
	}
	return &Classifier{modelPath: modelPath}, nil
}

func (c *Classifier) Name() string { return string(vad.BackendSilero) }

func (c *Classifier) WindowSizes(sampleRate int) []int {
	return []int{windowSize(sampleRate)}
}

func (c *Classifier) Close() error { return nil }

// NewSession allocates the tensors and the onnxruntime session for one stream.
func (c *Classifier) NewSession(sampleRate, window int) (vad.ClassifierSession, error) {
	if window != windowSize(sampleRate) {
		return nil, fmt.Errorf("silero needs %d-sample windows at %d Hz, got %d", windowSize(sampleRate), sampleRate, window)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer options.Destroy()
	if err := options.SetIntraOpNumThreads(1); err != nil {
		return nil, fmt.Errorf("failed to set intra-op threads: %w", err)
	}
	if err := options.SetInterOpNumThreads(1); err != nil {
		return nil, fmt.Errorf("failed to set inter-op threads: %w", err)
	}

	s := &session{
		window:  window,
		context: make([]float32, contextSize(sampleRate)),
	}
	if err := s.allocate(sampleRate); err != nil {
		s.Close()
		return nil, err
	}

	s.session, err = ort.NewAdvancedSession(c.modelPath,
		[]string{"input", "state", "sr"},
		[]string{"output", "stateN"},
		[]ort.Value{s.input, s.state, s.sr},
		[]ort.Value{s.output, s.stateN},
		options,
	)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	return s, nil
}

type session struct {
	window  int
	context []float32

	input  *ort.Tensor[float32]
	state  *ort.Tensor[float32]
	sr     *ort.Scalar[int64]
	output *ort.Tensor[float32]
	stateN *ort.Tensor[float32]

	session *ort.AdvancedSession
}

func (s *session) allocate(sampleRate int) error {
	var err error
	if s.input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(len(s.context)+s.window))); err != nil {
		return fmt.Errorf("input tensor: %w", err)
	}
	if s.state, err = ort.NewEmptyTensor[float32](ort.NewShape(2, 1, 128)); err != nil {
		return fmt.Errorf("state tensor: %w", err)
	}
	if s.sr, err = ort.NewScalar(int64(sampleRate)); err != nil {
		return fmt.Errorf("sample rate scalar: %w", err)
	}
	if s.output, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 1)); err != nil {
		return fmt.Errorf("output tensor: %w", err)
	}
	if s.stateN, err = ort.NewEmptyTensor[float32](ort.NewShape(2, 1, 128)); err != nil {
		return fmt.Errorf("state output tensor: %w", err)
	}
	return nil
}

// Infer runs one window with the previous window's tail prepended and carries
// the recurrent state forward.
func (s *session) Infer(window []float32) (float64, error) {
	if len(window) != s.window {
		return 0, fmt.Errorf("silero window has %d samples, want %d", len(window), s.window)
	}

	in := s.input.GetData()
	copy(in, s.context)
	copy(in[len(s.context):], window)

	if err := s.session.Run(); err != nil {
		return 0, fmt.Errorf("silero inference: %w", err)
	}

	copy(s.state.GetData(), s.stateN.GetData())
	copy(s.context, window[len(window)-len(s.context):])
	return float64(s.output.GetData()[0]), nil
}

func (s *session) Reset() {
	clear(s.context)
	if s.state != nil {
		clear(s.state.GetData())
	}
}

func (s *session) Close() error {
	if s.session != nil {
		s.session.Destroy()
		s.session = nil
	}
	for _, t := range []*ort.Tensor[float32]{s.input, s.state, s.output, s.stateN} {
		if t != nil {
			t.Destroy()
		}
	}
	if s.sr != nil {
		s.sr.Destroy()
	}
	s.input, s.state, s.sr, s.output, s.stateN = nil, nil, nil, nil, nil
	return nil
}

func init() {
	register(newClassifier, true, "Silero VAD v5 (ONNX runtime)")
}
