package vad

import (
	"fmt"
	"time"

	"github.com/chriscow/voiceturn/pkg/rtc"
)

// State is the segmenter's hysteresis state.
type State int

const (
	StateIdle State = iota
	StateCandidateSpeech
	StateActiveSpeech
	StateCandidateSilence
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateCandidateSpeech:
		return "CandidateSpeech"
	case StateActiveSpeech:
		return "ActiveSpeech"
	case StateCandidateSilence:
		return "CandidateSilence"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// Segmenter turns per-window probabilities into START_OF_SPEECH and
// END_OF_SPEECH events carrying buffered audio. It is not safe for
// concurrent use; a Stream drives it from its inference goroutine.
//
// All durations are tracked in samples at the engine rate, so thresholds are
// crossed after exactly ceil(duration/hop) windows.
type Segmenter struct {
	sampleRate int
	threshold  float64

	minSpeech   int
	minSilence  int
	prefixLen   int
	maxBuffered int

	state    State
	position int // samples seen

	prefix []int16 // audio before the candidate, at most prefixLen

	candidate      []rtc.AudioFrame
	candidateProbs []float64
	candidateStart int
	speechRun      int

	segment        *SpeechSegment
	segmentSamples int
	speechStart    int
	silenceRun     int
}

// NewSegmenter builds a segmenter from the duration fields of opts.
func NewSegmenter(opts Options) *Segmenter {
	rate := opts.SampleRate
	return &Segmenter{
		sampleRate:  rate,
		threshold:   opts.ActivationThreshold,
		minSpeech:   durationToSamples(opts.MinSpeechDuration, rate),
		minSilence:  durationToSamples(opts.MinSilenceDuration, rate),
		prefixLen:   durationToSamples(opts.PrefixPaddingDuration, rate),
		maxBuffered: durationToSamples(opts.MaxBufferedSpeech, rate),
	}
}

// State returns the current state.
func (s *Segmenter) State() State {
	return s.state
}

// Process consumes one window and its probability. The returned events hold
// INFERENCE_DONE first, followed by at most one transition event.
func (s *Segmenter) Process(window rtc.AudioFrame, probability float64, inference time.Duration) []Event {
	n := window.SamplesPerChannel
	s.position += n
	positive := probability >= s.threshold

	if positive {
		s.silenceRun = 0
	} else {
		s.silenceRun += n
	}

	var transition *Event
	switch s.state {
	case StateIdle:
		if positive {
			s.state = StateCandidateSpeech
			s.candidateStart = s.position - n
			s.candidate = append(s.candidate[:0], window)
			s.candidateProbs = append(s.candidateProbs[:0], probability)
			s.speechRun = n
			if s.speechRun >= s.minSpeech {
				transition = s.start()
			}
		} else {
			s.pushPrefix(window.Samples())
		}

	case StateCandidateSpeech:
		if positive {
			s.candidate = append(s.candidate, window)
			s.candidateProbs = append(s.candidateProbs, probability)
			s.speechRun += n
			if s.speechRun >= s.minSpeech {
				transition = s.start()
			}
		} else {
			// the abandoned candidate is still audio that preceded any future onset
			for i := range s.candidate {
				s.pushPrefix(s.candidate[i].Samples())
			}
			s.pushPrefix(window.Samples())
			s.dropCandidate()
			s.state = StateIdle
		}

	case StateActiveSpeech:
		s.appendToSegment(window, probability)
		if !positive {
			s.state = StateCandidateSilence
			if s.silenceRun >= s.minSilence {
				transition = s.end(false)
			}
		}

	case StateCandidateSilence:
		s.appendToSegment(window, probability)
		if positive {
			s.state = StateActiveSpeech
		} else if s.silenceRun >= s.minSilence {
			transition = s.end(false)
		}
	}

	if transition == nil && s.segment != nil && s.segmentSamples > s.maxBuffered {
		transition = s.end(true)
	}

	events := make([]Event, 0, 2)
	events = append(events, Event{
		Type:              EventInferenceDone,
		Timestamp:         s.at(s.position),
		Probability:       probability,
		SpeechDuration:    s.speechDuration(),
		SilenceDuration:   s.at(s.silenceRun),
		InferenceDuration: inference,
		Speaking:          s.speaking(),
	})
	if transition != nil {
		events = append(events, *transition)
	}
	return events
}

// Flush ends an active segment immediately and returns the segmenter to
// Idle. A pending candidate is discarded.
func (s *Segmenter) Flush() []Event {
	var events []Event
	if s.segment != nil {
		events = append(events, *s.end(true))
	}
	s.dropCandidate()
	s.prefix = s.prefix[:0]
	s.state = StateIdle
	s.silenceRun = 0
	return events
}

func (s *Segmenter) start() *Event {
	seg := &SpeechSegment{StartTime: s.at(s.candidateStart)}
	if len(s.prefix) > 0 {
		pad := make([]int16, len(s.prefix))
		copy(pad, s.prefix)
		seg.Frames = append(seg.Frames, rtc.NewMonoFrame(pad, s.sampleRate, s.at(s.candidateStart-len(pad))))
	}
	seg.Frames = append(seg.Frames, s.candidate...)
	seg.Probabilities = append(seg.Probabilities, s.candidateProbs...)

	s.segment = seg
	s.segmentSamples = len(s.prefix) + s.speechRun
	s.speechStart = s.candidateStart
	s.prefix = s.prefix[:0]
	s.candidate = nil
	s.candidateProbs = nil
	s.state = StateActiveSpeech

	return &Event{
		Type:           EventStartOfSpeech,
		Timestamp:      seg.StartTime,
		SpeechDuration: s.at(s.speechRun),
		Speaking:       true,
	}
}

func (s *Segmenter) end(forced bool) *Event {
	seg := s.segment
	seg.EndTime = s.at(s.position)
	seg.Forced = forced

	s.segment = nil
	s.segmentSamples = 0
	s.speechRun = 0
	s.state = StateIdle

	return &Event{
		Type:            EventEndOfSpeech,
		Timestamp:       seg.EndTime,
		SpeechDuration:  seg.EndTime - seg.StartTime,
		SilenceDuration: s.at(s.silenceRun),
		Segment:         seg,
	}
}

func (s *Segmenter) appendToSegment(window rtc.AudioFrame, probability float64) {
	s.segment.Frames = append(s.segment.Frames, window)
	s.segment.Probabilities = append(s.segment.Probabilities, probability)
	s.segmentSamples += window.SamplesPerChannel
}

func (s *Segmenter) pushPrefix(samples []int16) {
	if s.prefixLen == 0 {
		return
	}
	s.prefix = append(s.prefix, samples...)
	if over := len(s.prefix) - s.prefixLen; over > 0 {
		s.prefix = append(s.prefix[:0], s.prefix[over:]...)
	}
}

func (s *Segmenter) dropCandidate() {
	s.candidate = nil
	s.candidateProbs = nil
	s.speechRun = 0
}

func (s *Segmenter) speaking() bool {
	return s.state == StateActiveSpeech || s.state == StateCandidateSilence
}

func (s *Segmenter) speechDuration() time.Duration {
	switch s.state {
	case StateCandidateSpeech:
		return s.at(s.speechRun)
	case StateActiveSpeech, StateCandidateSilence:
		return s.at(s.position - s.speechStart)
	default:
		return 0
	}
}

func (s *Segmenter) at(samples int) time.Duration {
	return samplesToDuration(samples, s.sampleRate)
}
