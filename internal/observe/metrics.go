// Package observe provides application-wide observability primitives
// for meshline: OpenTelemetry metric instruments for the streaming
// engine and a Prometheus exporter bridge.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A
// Prometheus exporter is available via [InitProvider] so that metrics
// can be scraped from the standard /metrics endpoint. A package-level
// default [Metrics] instance ([DefaultMetrics]) is provided for
// convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all meshline metrics.
const meterName = "github.com/meshline/meshline"

// Drop reasons recorded on the frame-drop counter.
const (
	DropBackpressure = "backpressure"
	DropOverflow     = "overflow"
	DropLag          = "lag"
	DropEncodeError  = "encode_error"
	DropDecodeError  = "decode_error"
)

// Pipeline stages recorded on the frame-drop counter.
const (
	StageSource = "source"
	StageSink   = "sink"
)

// Metrics holds all OpenTelemetry metric instruments for the streaming
// engine. All fields are safe for concurrent use — the underlying OTel
// types handle their own synchronisation.
type Metrics struct {
	// FramesCaptured counts frames successfully read from a capture device.
	FramesCaptured metric.Int64Counter

	// FramesPlayed counts frames written to a playback device.
	FramesPlayed metric.Int64Counter

	// FrameDrops counts dropped frames. Use with attributes:
	//   attribute.String("stage", ...), attribute.String("reason", ...)
	FrameDrops metric.Int64Counter

	// UnderrunStops counts sinks stopping because their queue stayed
	// empty past the underrun timeout.
	UnderrunStops metric.Int64Counter

	// EncodeDuration tracks codec encode latency.
	EncodeDuration metric.Float64Histogram

	// DecodeDuration tracks codec decode latency.
	DecodeDuration metric.Float64Histogram

	// ActiveSources tracks the number of currently running sources.
	ActiveSources metric.Int64UpDownCounter

	// ActiveSinks tracks the number of currently running sinks.
	ActiveSinks metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds)
// sized for per-frame codec work, which is sub-millisecond to a few
// milliseconds on any reasonable host.
var latencyBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the
// given [metric.MeterProvider]. Returns an error if any instrument
// creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesCaptured, err = m.Int64Counter("meshline.source.frames_captured",
		metric.WithDescription("Frames successfully read from a capture device."),
	); err != nil {
		return nil, err
	}
	if met.FramesPlayed, err = m.Int64Counter("meshline.sink.frames_played",
		metric.WithDescription("Frames written to a playback device."),
	); err != nil {
		return nil, err
	}
	if met.FrameDrops, err = m.Int64Counter("meshline.frames_dropped",
		metric.WithDescription("Dropped frames by pipeline stage and reason."),
	); err != nil {
		return nil, err
	}
	if met.UnderrunStops, err = m.Int64Counter("meshline.sink.underrun_stops",
		metric.WithDescription("Sinks stopped after the underrun timeout elapsed."),
	); err != nil {
		return nil, err
	}

	if met.EncodeDuration, err = m.Float64Histogram("meshline.codec.encode.duration",
		metric.WithDescription("Latency of a single frame encode."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DecodeDuration, err = m.Float64Histogram("meshline.codec.decode.duration",
		metric.WithDescription("Latency of a single frame decode."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.ActiveSources, err = m.Int64UpDownCounter("meshline.active_sources",
		metric.WithDescription("Number of currently running line sources."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSinks, err = m.Int64UpDownCounter("meshline.active_sinks",
		metric.WithDescription("Number of currently running line sinks."),
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

// DefaultMetrics returns the package-level [Metrics] instance, creating
// it on first call using [otel.GetMeterProvider]. Subsequent calls
// return the same pointer. Panics if instrument creation fails (should
// not happen with the global provider).
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

// RecordFrameDrop records a dropped frame with the standard attribute set.
func (m *Metrics) RecordFrameDrop(ctx context.Context, stage, reason string) {
	m.FrameDrops.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("stage", stage),
			attribute.String("reason", reason),
		),
	)
}
