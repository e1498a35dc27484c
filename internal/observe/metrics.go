// Package observe provides the observability primitives for voxrelay:
// OpenTelemetry metrics, tracing, trace-aware structured logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported to
// Prometheus by [InitProvider]. Tests should use [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/MrWong99/voxrelay"

// Pipeline stage names used as the "stage" attribute.
const (
	StageSTT       = "stt"
	StagePolish    = "polish"
	StageTranslate = "translate"
	StageTTS       = "tts"
)

// Playback item outcomes used as the "status" attribute.
const (
	PlaybackPlayed = "played"
	PlaybackEmpty  = "empty"
	PlaybackStale  = "stale"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Capture ---

	// FramesCaptured counts frames read from the input device.
	FramesCaptured metric.Int64Counter

	// FramesDropped counts frames evicted from the full frame queue.
	FramesDropped metric.Int64Counter

	// DeviceOverflows counts input overflows replaced by silence.
	DeviceOverflows metric.Int64Counter

	// CaptureLag is the age of the oldest queued frame, in seconds.
	CaptureLag metric.Float64Gauge

	// --- Segmentation ---

	// SegmentsSealed counts sealed segments. Attributes: trigger, band.
	SegmentsSealed metric.Int64Counter

	// SegmentsDiscarded counts buffers dropped for being too short or
	// evicted from the pending queue. Attribute: reason.
	SegmentsDiscarded metric.Int64Counter

	// SegmentDuration is the audio length of sealed segments.
	SegmentDuration metric.Float64Histogram

	// --- Dispatch ---

	// StageDuration tracks per-stage latency. Attribute: stage.
	StageDuration metric.Float64Histogram

	// StageFailures counts stage errors that triggered a fallback.
	// Attribute: stage.
	StageFailures metric.Int64Counter

	// InFlight is the number of segments being processed by workers.
	InFlight metric.Int64UpDownCounter

	// ProviderRequests counts provider calls. Attributes: provider, kind, status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Attributes: provider, kind.
	ProviderErrors metric.Int64Counter

	// --- Playback ---

	// PlaybackItems counts items leaving the sequencer. Attribute: status.
	PlaybackItems metric.Int64Counter

	// SequencerHeld is the number of items waiting for a predecessor.
	SequencerHeld metric.Int64Gauge

	// EndToEndLatency is the time from sealing a segment to the start of
	// its playback.
	EndToEndLatency metric.Float64Histogram

	// --- Lifecycle and HTTP ---

	// ActiveSessions is 1 while a session runs.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks control API latency. Attributes: method,
	// path (the route pattern), status (class such as "2xx").
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// provider and end-to-end latencies.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 10, 20, 30,
}

// segmentBuckets covers the 1.5 s floor up to the 10 s urgent flush.
var segmentBuckets = []float64{1.5, 2, 3, 4, 5, 6, 8, 10, 12}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.FramesCaptured, "voxrelay.capture.frames", "Frames read from the input device."},
		{&met.FramesDropped, "voxrelay.capture.frames_dropped", "Frames evicted from the full frame queue."},
		{&met.DeviceOverflows, "voxrelay.capture.overflows", "Input overflows replaced by silence."},
		{&met.SegmentsSealed, "voxrelay.segment.sealed", "Sealed segments by trigger and band."},
		{&met.SegmentsDiscarded, "voxrelay.segment.discarded", "Discarded segments by reason."},
		{&met.StageFailures, "voxrelay.dispatch.stage_failures", "Stage failures that fell back, by stage."},
		{&met.ProviderRequests, "voxrelay.provider.requests", "Provider API requests by provider, kind, and status."},
		{&met.ProviderErrors, "voxrelay.provider.errors", "Provider errors by provider and kind."},
		{&met.PlaybackItems, "voxrelay.playback.items", "Playback items by status."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	histograms := []struct {
		dst     *metric.Float64Histogram
		name    string
		desc    string
		buckets []float64
	}{
		{&met.SegmentDuration, "voxrelay.segment.duration", "Audio length of sealed segments.", segmentBuckets},
		{&met.StageDuration, "voxrelay.dispatch.stage.duration", "Latency of a dispatch stage.", latencyBuckets},
		{&met.EndToEndLatency, "voxrelay.playback.latency", "Time from sealing a segment to its playback.", latencyBuckets},
		{&met.HTTPRequestDuration, "voxrelay.http.request.duration", "HTTP request latency by method and path.", nil},
	}
	for _, h := range histograms {
		opts := []metric.Float64HistogramOption{metric.WithDescription(h.desc), metric.WithUnit("s")}
		if h.buckets != nil {
			opts = append(opts, metric.WithExplicitBucketBoundaries(h.buckets...))
		}
		if *h.dst, err = m.Float64Histogram(h.name, opts...); err != nil {
			return nil, err
		}
	}

	if met.InFlight, err = m.Int64UpDownCounter("voxrelay.dispatch.in_flight",
		metric.WithDescription("Segments currently being processed."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxrelay.active_sessions",
		metric.WithDescription("Number of running sessions."),
	); err != nil {
		return nil, err
	}
	if met.SequencerHeld, err = m.Int64Gauge("voxrelay.sequencer.held",
		metric.WithDescription("Items held in the reorder buffer."),
	); err != nil {
		return nil, err
	}
	if met.CaptureLag, err = m.Float64Gauge("voxrelay.capture.lag",
		metric.WithDescription("Age of the oldest queued frame."),
		metric.WithUnit("s"),
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
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails, which does not happen with the global provider.
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

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordStage records the duration of one stage and, when failed, a stage
// failure.
func (m *Metrics) RecordStage(ctx context.Context, stage string, d time.Duration, failed bool) {
	attrs := metric.WithAttributes(attribute.String("stage", stage))
	m.StageDuration.Record(ctx, d.Seconds(), attrs)
	if failed {
		m.StageFailures.Add(ctx, 1, attrs)
	}
}

// RecordSealed records a sealed segment.
func (m *Metrics) RecordSealed(ctx context.Context, trigger, band string, d time.Duration) {
	m.SegmentsSealed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("trigger", trigger),
		attribute.String("band", band),
	))
	m.SegmentDuration.Record(ctx, d.Seconds())
}

// RecordDiscarded records a discarded segment.
func (m *Metrics) RecordDiscarded(ctx context.Context, reason string) {
	m.SegmentsDiscarded.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordPlayback records one item leaving the sequencer.
func (m *Metrics) RecordPlayback(ctx context.Context, status string) {
	m.PlaybackItems.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordProviderRequest records a provider request counter increment with
// the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
