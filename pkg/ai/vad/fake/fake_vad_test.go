package fake

import (
	"testing"

	"github.com/matryer/is"
)

func scoreAll(t *testing.T, c *Classifier, n int) []float64 {
	t.Helper()
	s, err := c.NewSession(16000, 512)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	out := make([]float64, n)
	for i := range out {
		p, err := s.Infer(make([]float32, 512))
		if err != nil {
			t.Fatalf("Infer: %v", err)
		}
		out[i] = p
	}
	return out
}

func TestScriptedReplaysAndRewinds(t *testing.T) {
	is := is.New(t)

	c := NewScripted([]float64{0.9, 0.8})
	s, err := c.NewSession(16000, 512)
	is.NoErr(err)

	w := make([]float32, 512)
	p1, _ := s.Infer(w)
	p2, _ := s.Infer(w)
	p3, _ := s.Infer(w)
	is.Equal([]float64{p1, p2, p3}, []float64{0.9, 0.8, 0})

	s.Reset()
	p, _ := s.Infer(w)
	is.Equal(p, 0.9)

	is.Equal(s.(*Session).Windows(), 4)
	is.Equal(s.(*Session).Resets(), 1)
}

func TestRandomDeterministic(t *testing.T) {
	is := is.New(t)

	a := scoreAll(t, NewRandom(0.5, 123), 50)
	b := scoreAll(t, NewRandom(0.5, 123), 50)
	is.Equal(a, b)

	c := scoreAll(t, NewRandom(0.5, 456), 50)
	is.True(len(a) == len(c))
}

func TestAmplitude(t *testing.T) {
	is := is.New(t)

	c := NewAmplitude()
	s, err := c.NewSession(16000, 4)
	is.NoErr(err)

	p, _ := s.Infer([]float32{0, 0.01, -0.02, 0})
	is.Equal(p, 0.0)
	p, _ = s.Infer([]float32{0, 0.5, -0.5, 0})
	is.Equal(p, 1.0)
}

func TestSessionsTracked(t *testing.T) {
	is := is.New(t)

	c := NewScripted(nil, WithWindowSizes(512, 256))
	is.Equal(c.WindowSizes(16000), []int{512, 256})

	_, _ = c.NewSession(16000, 512)
	_, _ = c.NewSession(8000, 256)
	sessions := c.Sessions()
	is.Equal(len(sessions), 2)
	is.Equal(sessions[1].SampleRate, 8000)

	is.NoErr(c.Close())
	_, err := c.NewSession(16000, 512)
	is.True(err != nil)
}
