// Package metrics defines the OpenTelemetry instruments recorded by the
// segmentation pipeline and the HTTP server.
//
// A Prometheus exporter bridge is installed by [InitProvider] so the
// instruments can be scraped via /metrics. Tests should use [New] with a
// custom [metric.MeterProvider] to avoid cross-test pollution.
package metrics

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/maauso/tunewatch"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// BuffersProcessed counts classified buffers. Use with attribute:
	//   attribute.String("kind", "signal"|"silence")
	BuffersProcessed metric.Int64Counter

	// ClassificationFallbacks counts buffers treated as silent because
	// their sample format could not be inspected.
	ClassificationFallbacks metric.Int64Counter

	// SegmentsCommitted counts commits. Use with attribute:
	//   attribute.String("reason", "trigger"|"overflow")
	SegmentsCommitted metric.Int64Counter

	// SegmentsReset counts discarded pending segments.
	SegmentsReset metric.Int64Counter

	// SegmentsDropped counts committed segments dropped by a pause or
	// shutdown before they were encoded.
	SegmentsDropped metric.Int64Counter

	// EncodeDuration tracks segment encoding latency.
	EncodeDuration metric.Float64Histogram

	// EncodeFailures counts segments that could not be written.
	EncodeFailures metric.Int64Counter

	// DetectDuration tracks detector round-trip latency.
	DetectDuration metric.Float64Histogram

	// DetectFailures counts detector errors.
	DetectFailures metric.Int64Counter

	// MatchesDelivered counts matches forwarded to the subscriber.
	MatchesDelivered metric.Int64Counter

	// QueueDepth tracks buffers waiting for the worker.
	QueueDepth metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries in seconds.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// New creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func New(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.BuffersProcessed, err = m.Int64Counter("tunewatch.buffers.processed",
		metric.WithDescription("Classified audio buffers by kind."),
	); err != nil {
		return nil, err
	}
	if met.ClassificationFallbacks, err = m.Int64Counter("tunewatch.classification.fallbacks",
		metric.WithDescription("Buffers treated as silent because of an unsupported sample format."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsCommitted, err = m.Int64Counter("tunewatch.segments.committed",
		metric.WithDescription("Segments committed for detection by reason."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsReset, err = m.Int64Counter("tunewatch.segments.reset",
		metric.WithDescription("Pending segments discarded by reason."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsDropped, err = m.Int64Counter("tunewatch.segments.dropped",
		metric.WithDescription("Committed segments dropped before encoding."),
	); err != nil {
		return nil, err
	}
	if met.EncodeFailures, err = m.Int64Counter("tunewatch.encode.failures",
		metric.WithDescription("Segments that could not be encoded."),
	); err != nil {
		return nil, err
	}
	if met.DetectFailures, err = m.Int64Counter("tunewatch.detect.failures",
		metric.WithDescription("Detector calls that returned an error."),
	); err != nil {
		return nil, err
	}
	if met.MatchesDelivered, err = m.Int64Counter("tunewatch.matches.delivered",
		metric.WithDescription("Matches forwarded to the subscriber."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.EncodeDuration, err = m.Float64Histogram("tunewatch.encode.duration",
		metric.WithDescription("Latency of segment encoding."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DetectDuration, err = m.Float64Histogram("tunewatch.detect.duration",
		metric.WithDescription("Latency of the detector round trip."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("tunewatch.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.QueueDepth, err = m.Int64UpDownCounter("tunewatch.queue.depth",
		metric.WithDescription("Buffers waiting for the processing worker."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// Noop returns Metrics that record nothing.
func Noop() *Metrics {
	m, err := New(noop.NewMeterProvider())
	if err != nil {
		panic("metrics: noop provider failed: " + err.Error())
	}
	return m
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// Default returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider].
func Default() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = New(otel.GetMeterProvider())
		if err != nil {
			panic("metrics: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}
