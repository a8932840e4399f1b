// Package energy registers a dependency-free VAD backend that scores windows
// by their energy relative to an adaptive noise floor. It is the last resort
// when neither model-based backend can be loaded.
package energy

import (
	"math"

	"github.com/chriscow/voiceturn/pkg/ai/vad"
	"github.com/chriscow/voiceturn/pkg/plugin"
)

const (
	// initialThreshold is the mean-square energy (int16 scale) treated as
	// speech before the noise floor has been calibrated.
	initialThreshold = 1000.0
	historySize      = 50
	calibration      = 10
	// steepness of the sigmoid mapping energy ratio to probability
	steepness = 3.0
)

// Classifier is the energy backend. It accepts any window size.
type Classifier struct{}

func newClassifier(map[string]any) (any, error) {
	return &Classifier{}, nil
}

func (c *Classifier) Name() string { return string(vad.BackendEnergy) }

func (c *Classifier) WindowSizes(int) []int { return nil }

func (c *Classifier) NewSession(int, int) (vad.ClassifierSession, error) {
	s := &session{}
	s.Reset()
	return s, nil
}

func (c *Classifier) Close() error { return nil }

type session struct {
	history   []float64
	threshold float64
	seen      int
}

// Infer maps the window's mean-square energy to a probability with a
// sigmoid centred on the current threshold.
func (s *session) Infer(window []float32) (float64, error) {
	if len(window) == 0 {
		return 0, nil
	}
	energy := meanSquare(window)
	prob := s.probability(energy)

	// only quiet windows move the noise floor, so sustained speech does not
	// raise the threshold above itself
	s.seen++
	if s.seen <= calibration || prob < 0.5 {
		s.track(energy)
	}
	return prob, nil
}

func (s *session) probability(energy float64) float64 {
	if s.threshold == 0 {
		return 0
	}
	ratio := energy / s.threshold
	return 1.0 / (1.0 + math.Exp(-steepness*(ratio-1.0)))
}

func (s *session) track(energy float64) {
	s.history = append(s.history, energy)
	if len(s.history) > historySize {
		s.history = s.history[1:]
	}
	if len(s.history) < calibration {
		return
	}
	var sum float64
	for _, e := range s.history {
		sum += e
	}
	s.threshold = math.Max(sum/float64(len(s.history))*2.0, initialThreshold)
}

func (s *session) Reset() {
	s.history = s.history[:0]
	s.threshold = initialThreshold
	s.seen = 0
}

func (s *session) Close() error { return nil }

func meanSquare(window []float32) float64 {
	var sum float64
	for _, v := range window {
		x := float64(v) * 32768
		sum += x * x
	}
	return sum / float64(len(window))
}

func init() {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        vad.PluginKind,
		Name:        string(vad.BackendEnergy),
		Factory:     newClassifier,
		Description: "Energy VAD with adaptive noise floor",
		Version:     "1.0.0",
		Available:   true,
	})
}
