// Package observe provides application-wide observability primitives for
// earshot: OpenTelemetry metrics, tracing around transcription, trace-aware
// structured logging, and HTTP middleware for the operator listener.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped from the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all earshot metrics.
const meterName = "github.com/MrWong99/earshot"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	meter metric.Meter

	// --- Audio ---

	// FramesRead counts frames consumed by segmentation engines.
	FramesRead metric.Int64Counter

	// --- Segmentation ---

	// SegmentsEmitted counts segments handed to the transcriber. Use with
	// attributes:
	//   attribute.String("strategy", ...), attribute.String("reason", ...)
	SegmentsEmitted metric.Int64Counter

	// SegmentDuration tracks the audio length of emitted segments, look-back
	// frame included.
	SegmentDuration metric.Float64Histogram

	// CalibrationThreshold reports the speech threshold of the most recent
	// calibration on the calibrated decibel scale.
	CalibrationThreshold metric.Float64Gauge

	// ActiveEngines tracks the number of running segmentation engines.
	ActiveEngines metric.Int64UpDownCounter

	// --- Transcription ---

	// STTDuration tracks utterance transcription latency.
	STTDuration metric.Float64Histogram

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Matching & enrollment ---

	// WakeMatches counts accepted wake phrases. Use with attribute:
	//   attribute.String("rank", ...)
	WakeMatches metric.Int64Counter

	// WakeMisses counts non-empty hypotheses that matched no phrase.
	WakeMisses metric.Int64Counter

	// EnrollmentSamples counts accepted enrollment samples.
	EnrollmentSamples metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks operator HTTP request processing time,
	// labelled by attribute.String("route", ...) (the matched mux pattern)
	// and attribute.Int("status", ...).
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// transcription latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// segmentBuckets covers utterance lengths from a couple of frames up to the
// longest sensible wake-phrase ceiling.
var segmentBuckets = []float64{
	0.25, 0.5, 0.75, 1, 1.5, 2, 3, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{meter: m}

	// Counters.
	if met.FramesRead, err = m.Int64Counter("earshot.audio.frames",
		metric.WithDescription("Total audio frames consumed by segmentation engines."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsEmitted, err = m.Int64Counter("earshot.segments",
		metric.WithDescription("Total segments emitted by strategy and end reason."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("earshot.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("earshot.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.WakeMatches, err = m.Int64Counter("earshot.wake.matches",
		metric.WithDescription("Total accepted wake phrases by matched rank."),
	); err != nil {
		return nil, err
	}
	if met.WakeMisses, err = m.Int64Counter("earshot.wake.misses",
		metric.WithDescription("Total non-empty hypotheses that matched no enrolled phrase."),
	); err != nil {
		return nil, err
	}
	if met.EnrollmentSamples, err = m.Int64Counter("earshot.enrollment.samples",
		metric.WithDescription("Total accepted enrollment samples."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.SegmentDuration, err = m.Float64Histogram("earshot.segment.duration",
		metric.WithDescription("Audio length of emitted segments."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(segmentBuckets...),
	); err != nil {
		return nil, err
	}
	if met.STTDuration, err = m.Float64Histogram("earshot.stt.duration",
		metric.WithDescription("Latency of utterance transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("earshot.http.request.duration",
		metric.WithDescription("Operator HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.CalibrationThreshold, err = m.Float64Gauge("earshot.calibration.threshold",
		metric.WithDescription("Speech threshold from the most recent calibration."),
		metric.WithUnit("dB"),
	); err != nil {
		return nil, err
	}
	if met.ActiveEngines, err = m.Int64UpDownCounter("earshot.active_engines",
		metric.WithDescription("Number of running segmentation engines."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// ObserveDroppedFrames registers an observable counter that reports the
// value of dropped on every collection. dropped is typically the Dropped
// method of a push-mode audio queue. Unregister the returned registration
// when the source is closed.
func (m *Metrics) ObserveDroppedFrames(source string, dropped func() int64) (metric.Registration, error) {
	counter, err := m.meter.Int64ObservableCounter("earshot.audio.frames_dropped",
		metric.WithDescription("Total frames dropped because the capture queue was full."),
	)
	if err != nil {
		return nil, err
	}
	attrs := metric.WithAttributes(attribute.String("source", source))
	return m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(counter, dropped(), attrs)
		return nil
	}, counter)
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordSegment records one emitted segment of the given audio length in
// seconds.
func (m *Metrics) RecordSegment(ctx context.Context, strategy, reason string, seconds float64) {
	m.SegmentsEmitted.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("strategy", strategy),
			attribute.String("reason", reason),
		),
	)
	m.SegmentDuration.Record(ctx, seconds)
}

// RecordWakeMatch records an accepted wake phrase at the given candidate rank.
func (m *Metrics) RecordWakeMatch(ctx context.Context, rank int) {
	m.WakeMatches.Add(ctx, 1,
		metric.WithAttributes(attribute.String("rank", strconv.Itoa(rank))),
	)
}
