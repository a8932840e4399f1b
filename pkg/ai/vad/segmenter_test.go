package vad

import (
	"math/rand"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/chriscow/voiceturn/pkg/rtc"
)

const testHop = 512

func testOptions() Options {
	opts := DefaultOptions()
	opts.SampleRate = 16000
	opts.WindowSize = testHop
	return opts
}

// windowOf returns a hop-sized window whose samples all equal v, so tests can
// tell which window audio came from.
func windowOf(v int16) rtc.AudioFrame {
	samples := make([]int16, testHop)
	for i := range samples {
		samples[i] = v
	}
	return rtc.NewMonoFrame(samples, 16000, 0)
}

type trace struct {
	seg    *Segmenter
	events []Event
	// window index after which each transition was emitted
	starts []int
	ends   []int
	n      int
}

func (tr *trace) feed(probs ...float64) {
	for _, p := range probs {
		evs := tr.seg.Process(windowOf(int16(tr.n%1000)), p, time.Millisecond)
		for _, ev := range evs {
			switch ev.Type {
			case EventStartOfSpeech:
				tr.starts = append(tr.starts, tr.n)
			case EventEndOfSpeech:
				tr.ends = append(tr.ends, tr.n)
			}
		}
		tr.events = append(tr.events, evs...)
		tr.n++
	}
}

// segment returns the segment of the last END_OF_SPEECH seen.
func (tr *trace) segment() *SpeechSegment {
	for i := len(tr.events) - 1; i >= 0; i-- {
		if tr.events[i].Type == EventEndOfSpeech {
			return tr.events[i].Segment
		}
	}
	return nil
}

func repeat(p float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = p
	}
	return out
}

func TestSegmenterStartAndEndTiming(t *testing.T) {
	is := is.New(t)

	opts := testOptions()
	opts.MinSpeechDuration = 50 * time.Millisecond   // 800 samples: 2 windows
	opts.MinSilenceDuration = 550 * time.Millisecond // 8800 samples: 18 windows
	tr := &trace{seg: NewSegmenter(opts)}

	tr.feed(0.9, 0.9)
	tr.feed(repeat(0.1, 30)...)

	is.Equal(tr.starts, []int{1})    // after window 2
	is.Equal(tr.ends, []int{1 + 18}) // ceil(550/32) low windows later
	is.Equal(tr.seg.State(), StateIdle)
}

func TestSegmenterInferenceDoneEveryWindow(t *testing.T) {
	is := is.New(t)

	tr := &trace{seg: NewSegmenter(testOptions())}
	tr.feed(0.1, 0.9, 0.9, 0.9, 0.2)
	tr.feed(repeat(0.1, 40)...)

	done := 0
	for i, ev := range tr.events {
		if ev.Type == EventInferenceDone {
			done++
			continue
		}
		// transitions always follow the INFERENCE_DONE of their window
		is.Equal(tr.events[i-1].Type, EventInferenceDone)
	}
	is.Equal(done, tr.n)
}

func TestSegmenterSilenceOnlyNeverStarts(t *testing.T) {
	is := is.New(t)

	tr := &trace{seg: NewSegmenter(testOptions())}
	tr.feed(repeat(0.49, 500)...)

	is.Equal(len(tr.starts), 0)
	is.Equal(len(tr.ends), 0)
	is.True(tr.seg.Flush() == nil)
}

func TestSegmenterEndNeverPrecedesStart(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		opts := testOptions()
		opts.MinSpeechDuration = 100 * time.Millisecond
		opts.MinSilenceDuration = 200 * time.Millisecond
		opts.MaxBufferedSpeech = 2 * time.Second
		seg := NewSegmenter(opts)
		rng := rand.New(rand.NewSource(seed))

		open := false
		check := func(evs []Event) {
			for _, ev := range evs {
				switch ev.Type {
				case EventStartOfSpeech:
					if open {
						t.Fatalf("seed %d: START while a segment is open", seed)
					}
					open = true
				case EventEndOfSpeech:
					if !open {
						t.Fatalf("seed %d: END without START", seed)
					}
					open = false
				}
			}
		}
		for range 2000 {
			check(seg.Process(windowOf(1), rng.Float64(), 0))
			if rng.Intn(300) == 0 {
				check(seg.Flush())
			}
		}
		check(seg.Flush())
		if open {
			t.Fatalf("seed %d: segment left open after flush", seed)
		}
	}
}

func TestSegmenterPrefixPadding(t *testing.T) {
	tests := []struct {
		name         string
		silentBefore int
		wantPrefix   int
	}{
		{"full padding", 20, 8000}, // 500 ms at 16 kHz
		{"limited by audio seen", 3, 3 * testHop},
		{"no audio before onset", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)

			opts := testOptions()
			opts.PrefixPaddingDuration = 500 * time.Millisecond
			opts.MinSpeechDuration = 50 * time.Millisecond
			opts.MinSilenceDuration = 550 * time.Millisecond
			tr := &trace{seg: NewSegmenter(opts)}

			tr.feed(repeat(0.1, tt.silentBefore)...)
			tr.feed(0.9, 0.9)
			tr.feed(repeat(0.1, 18)...)

			is.Equal(len(tr.ends), 1)
			seg := tr.segment()
			is.True(seg != nil)

			want := tt.wantPrefix + 20*testHop
			is.Equal(len(seg.PCM()), want*2)
			is.Equal(seg.Samples(), want)
			is.Equal(len(seg.Probabilities), 20)
			is.True(!seg.Forced)

			if tt.wantPrefix > 0 {
				// the prefix ends with the window right before the trigger
				pad := seg.Frames[0].Samples()
				is.Equal(pad[len(pad)-1], int16(tt.silentBefore-1))
			}
		})
	}
}

func TestSegmenterCandidateDiscarded(t *testing.T) {
	is := is.New(t)

	opts := testOptions()
	opts.MinSpeechDuration = 100 * time.Millisecond // 4 windows
	opts.PrefixPaddingDuration = time.Second
	tr := &trace{seg: NewSegmenter(opts)}

	tr.feed(0.1, 0.9, 0.9)
	is.Equal(tr.seg.State(), StateCandidateSpeech)
	tr.feed(0.1)
	is.Equal(tr.seg.State(), StateIdle)
	is.Equal(len(tr.starts), 0)

	// the abandoned candidate still counts as audio before the next onset
	tr.feed(0.9, 0.9, 0.9, 0.9)
	is.Equal(tr.starts, []int{7})
	tr.feed(repeat(0.1, 40)...)
	seg := tr.segment()
	is.Equal(seg.Frames[0].SamplesPerChannel, 4*testHop)
}

func TestSegmenterSilenceGapKeepsAudio(t *testing.T) {
	is := is.New(t)

	opts := testOptions()
	opts.PrefixPaddingDuration = 0
	opts.MinSpeechDuration = 0
	opts.MinSilenceDuration = 320 * time.Millisecond // 10 windows
	tr := &trace{seg: NewSegmenter(opts)}

	tr.feed(0.9)
	tr.feed(repeat(0.1, 9)...)
	is.Equal(tr.seg.State(), StateCandidateSilence)
	tr.feed(0.8)
	is.Equal(tr.seg.State(), StateActiveSpeech)
	tr.feed(repeat(0.1, 9)...)
	is.Equal(len(tr.ends), 0) // timer restarted
	tr.feed(0.1)

	is.Equal(len(tr.ends), 1)
	is.Equal(tr.segment().Samples(), 21*testHop)
}

func TestSegmenterMaxBufferedSpeech(t *testing.T) {
	is := is.New(t)

	opts := testOptions()
	opts.PrefixPaddingDuration = 0
	opts.MaxBufferedSpeech = time.Second // 16000 samples
	tr := &trace{seg: NewSegmenter(opts)}

	tr.feed(repeat(0.9, 40)...)

	is.True(len(tr.ends) >= 1)
	var first *SpeechSegment
	for _, ev := range tr.events {
		if ev.Type == EventEndOfSpeech {
			first = ev.Segment
			break
		}
	}
	is.True(first.Forced)
	is.True(first.Samples() > 16000)
	is.True(first.Samples() <= 16000+testHop)
	is.Equal(tr.ends[0], 31)
}

func TestSegmenterFlush(t *testing.T) {
	is := is.New(t)

	opts := testOptions()
	opts.MinSpeechDuration = 50 * time.Millisecond
	seg := NewSegmenter(opts)

	seg.Process(windowOf(1), 0.9, 0)
	is.Equal(seg.State(), StateCandidateSpeech)
	is.Equal(len(seg.Flush()), 0) // candidate only
	is.Equal(seg.State(), StateIdle)

	seg.Process(windowOf(1), 0.9, 0)
	seg.Process(windowOf(1), 0.9, 0)
	seg.Process(windowOf(1), 0.1, 0)
	is.Equal(seg.State(), StateCandidateSilence)

	evs := seg.Flush()
	is.Equal(len(evs), 1)
	is.Equal(evs[0].Type, EventEndOfSpeech)
	is.True(evs[0].Segment.Forced)
	is.Equal(evs[0].Segment.Samples(), 3*testHop)
	is.Equal(seg.State(), StateIdle)
	is.Equal(len(seg.Flush()), 0) // idempotent
}

func TestSegmenterTimestamps(t *testing.T) {
	is := is.New(t)

	opts := testOptions()
	opts.MinSpeechDuration = 50 * time.Millisecond
	opts.MinSilenceDuration = 64 * time.Millisecond
	tr := &trace{seg: NewSegmenter(opts)}

	tr.feed(0.1, 0.1, 0.9, 0.9, 0.1, 0.1)

	var start, end Event
	for _, ev := range tr.events {
		switch ev.Type {
		case EventStartOfSpeech:
			start = ev
		case EventEndOfSpeech:
			end = ev
		}
	}
	is.Equal(start.Timestamp, 64*time.Millisecond)
	is.Equal(end.Timestamp, 192*time.Millisecond)
	is.Equal(end.SpeechDuration, 128*time.Millisecond)
	is.Equal(end.Segment.StartTime, start.Timestamp)
}
