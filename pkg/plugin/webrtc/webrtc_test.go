//go:build cgo

package webrtc

import (
	"math"
	"testing"

	"github.com/matryer/is"

	"github.com/chriscow/voiceturn/pkg/ai/vad"
)

func TestWindowSizes(t *testing.T) {
	is := is.New(t)

	is.Equal(windowSizes(16000), []int{480, 320, 160})
	is.Equal(windowSizes(8000), []int{240, 160, 80})
}

func TestRejectsBadMode(t *testing.T) {
	is := is.New(t)

	_, err := newClassifier(map[string]any{"mode": 7})
	is.True(err != nil)
}

func TestSilenceIsInactive(t *testing.T) {
	is := is.New(t)

	inst, err := newClassifier(map[string]any{"mode": 3})
	is.NoErr(err)
	c := inst.(vad.Classifier)

	s, err := c.NewSession(16000, 480)
	is.NoErr(err)
	defer s.Close()

	for range 10 {
		p, err := s.Infer(make([]float32, 480))
		is.NoErr(err)
		is.Equal(p, 0.0)
	}

	_, err = s.Infer(make([]float32, 100))
	is.True(err != nil) // wrong window length
}

func TestProbabilityIsBinary(t *testing.T) {
	is := is.New(t)

	inst, err := newClassifier(nil)
	is.NoErr(err)
	s, err := inst.(vad.Classifier).NewSession(16000, 320)
	is.NoErr(err)

	w := make([]float32, 320)
	for i := range w {
		w[i] = float32(0.6 * math.Sin(2*math.Pi*300*float64(i)/16000))
	}
	p, err := s.Infer(w)
	is.NoErr(err)
	is.True(p == 0 || p == 1)
}
