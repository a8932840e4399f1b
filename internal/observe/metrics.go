// Package observe provides the OpenTelemetry metric instruments of the
// turn-taking pipeline and the Prometheus bridge used by the CLI.
//
// Components record through a *Metrics. DefaultMetrics binds to the global
// meter provider; tests should use NewMetrics with their own provider.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/chriscow/voiceturn"

// Metrics holds all metric instruments. The OTel types handle their own
// synchronisation.
type Metrics struct {
	// VADInferenceDuration tracks per-window classifier latency.
	VADInferenceDuration metric.Float64Histogram

	// VADSegments counts END_OF_SPEECH segments. Attribute: forced.
	VADSegments metric.Int64Counter

	// VADSegmentDuration tracks emitted segment lengths.
	VADSegmentDuration metric.Float64Histogram

	// VADBackendFallbacks counts backend downgrades. Attributes: backend, fallback.
	VADBackendFallbacks metric.Int64Counter

	// PlaybackSessions counts finished injection sessions. Attribute: status.
	PlaybackSessions metric.Int64Counter

	// PlaybackFrames counts frames delivered to the output sink.
	PlaybackFrames metric.Int64Counter

	// PlaybackActive is 1 while an injection session runs.
	PlaybackActive metric.Int64UpDownCounter

	// CoordinatorSuppressed counts suppressed speaking->listening transitions.
	CoordinatorSuppressed metric.Int64Counter

	// CoordinatorFailsafe counts ceiling-triggered clears.
	CoordinatorFailsafe metric.Int64Counter

	// AgentTransitions counts committed conversation state changes.
	// Attributes: from, to.
	AgentTransitions metric.Int64Counter
}

// inferenceBuckets are in seconds; Silero runs in about a millisecond per window.
var inferenceBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1,
}

var segmentBuckets = []float64{
	0.25, 0.5, 1, 2, 5, 10, 30, 60,
}

// NewMetrics creates all instruments from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.VADInferenceDuration, err = m.Float64Histogram("voiceturn.vad.inference.duration",
		metric.WithDescription("Latency of one VAD window inference."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(inferenceBuckets...),
	); err != nil {
		return nil, err
	}
	if met.VADSegments, err = m.Int64Counter("voiceturn.vad.segments",
		metric.WithDescription("Speech segments emitted, by forced cut."),
	); err != nil {
		return nil, err
	}
	if met.VADSegmentDuration, err = m.Float64Histogram("voiceturn.vad.segment.duration",
		metric.WithDescription("Duration of emitted speech segments."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(segmentBuckets...),
	); err != nil {
		return nil, err
	}
	if met.VADBackendFallbacks, err = m.Int64Counter("voiceturn.vad.backend.fallbacks",
		metric.WithDescription("VAD backend downgrades at load time."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackSessions, err = m.Int64Counter("voiceturn.playback.sessions",
		metric.WithDescription("Finished injection sessions by final status."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackFrames, err = m.Int64Counter("voiceturn.playback.frames",
		metric.WithDescription("Injected frames delivered to the output sink."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackActive, err = m.Int64UpDownCounter("voiceturn.playback.active",
		metric.WithDescription("Injection sessions currently running."),
	); err != nil {
		return nil, err
	}
	if met.CoordinatorSuppressed, err = m.Int64Counter("voiceturn.coordinator.suppressed",
		metric.WithDescription("Conversation transitions suppressed during injection."),
	); err != nil {
		return nil, err
	}
	if met.CoordinatorFailsafe, err = m.Int64Counter("voiceturn.coordinator.failsafe",
		metric.WithDescription("Injection flags cleared by the ceiling failsafe."),
	); err != nil {
		return nil, err
	}
	if met.AgentTransitions, err = m.Int64Counter("voiceturn.agent.transitions",
		metric.WithDescription("Committed conversation state transitions."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level Metrics bound to
// otel.GetMeterProvider. Panics if instrument creation fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Discard returns Metrics whose instruments record nothing. It is used when
// metrics are disabled and by tests that do not assert on them.
func Discard() *Metrics {
	m, err := NewMetrics(noop.NewMeterProvider())
	if err != nil {
		panic("observe: noop metrics: " + err.Error())
	}
	return m
}

// RecordVADInference records one window inference.
func (m *Metrics) RecordVADInference(ctx context.Context, d time.Duration) {
	m.VADInferenceDuration.Record(ctx, d.Seconds())
}

// RecordSegment records an emitted speech segment.
func (m *Metrics) RecordSegment(ctx context.Context, d time.Duration, forced bool) {
	attrs := metric.WithAttributes(attribute.Bool("forced", forced))
	m.VADSegments.Add(ctx, 1, attrs)
	m.VADSegmentDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordBackendFallback records a VAD backend downgrade.
func (m *Metrics) RecordBackendFallback(ctx context.Context, backend, fallback string) {
	m.VADBackendFallbacks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("fallback", fallback),
	))
}

// RecordPlaybackEnd records a finished injection session.
func (m *Metrics) RecordPlaybackEnd(ctx context.Context, status string, frames int64) {
	m.PlaybackSessions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	m.PlaybackFrames.Add(ctx, frames)
}

// RecordTransition records a committed conversation state change.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	m.AgentTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}
