package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := New(mp)
	require.NoError(t, err)
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	counters := []struct {
		name string
		c    metric.Int64Counter
	}{
		{"tunewatch.classification.fallbacks", m.ClassificationFallbacks},
		{"tunewatch.segments.reset", m.SegmentsReset},
		{"tunewatch.segments.dropped", m.SegmentsDropped},
		{"tunewatch.encode.failures", m.EncodeFailures},
		{"tunewatch.detect.failures", m.DetectFailures},
		{"tunewatch.matches.delivered", m.MatchesDelivered},
	}
	for _, tc := range counters {
		tc.c.Add(ctx, 2)
	}

	rm := collect(t, reader)
	for _, tc := range counters {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			require.NotNil(t, met)
			sum, ok := met.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			require.Len(t, sum.DataPoints, 1)
			assert.Equal(t, int64(2), sum.DataPoints[0].Value)
		})
	}
}

func TestCounterAttributes(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.BuffersProcessed.Add(ctx, 3, metric.WithAttributes(attribute.String("kind", "signal")))
	m.BuffersProcessed.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "silence")))
	m.SegmentsCommitted.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "trigger")))

	rm := collect(t, reader)

	met := findMetric(rm, "tunewatch.buffers.processed")
	require.NotNil(t, met)
	sum := met.Data.(metricdata.Sum[int64])
	require.Len(t, sum.DataPoints, 2)

	byKind := map[string]int64{}
	for _, dp := range sum.DataPoints {
		kind, _ := dp.Attributes.Value("kind")
		byKind[kind.AsString()] = dp.Value
	}
	assert.Equal(t, map[string]int64{"signal": 3, "silence": 1}, byKind)

	assert.NotNil(t, findMetric(rm, "tunewatch.segments.committed"))
}

func TestHistograms(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.EncodeDuration.Record(ctx, 0.2)
	m.DetectDuration.Record(ctx, 1.5)
	m.DetectDuration.Record(ctx, 2.5)
	m.HTTPRequestDuration.Record(ctx, 0.01)

	rm := collect(t, reader)
	for name, want := range map[string]uint64{
		"tunewatch.encode.duration":       1,
		"tunewatch.detect.duration":       2,
		"tunewatch.http.request.duration": 1,
	} {
		met := findMetric(rm, name)
		require.NotNil(t, met, name)
		hist, ok := met.Data.(metricdata.Histogram[float64])
		require.True(t, ok, name)
		require.Len(t, hist.DataPoints, 1)
		assert.Equal(t, want, hist.DataPoints[0].Count, name)
	}
}

func TestQueueDepth(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.QueueDepth.Add(ctx, 5)
	m.QueueDepth.Add(ctx, -3)

	met := findMetric(collect(t, reader), "tunewatch.queue.depth")
	require.NotNil(t, met)
	sum := met.Data.(metricdata.Sum[int64])
	assert.False(t, sum.IsMonotonic)
	assert.Equal(t, int64(2), sum.DataPoints[0].Value)
}

func TestNoopAndDefault(t *testing.T) {
	n := Noop()
	require.NotNil(t, n)
	n.SegmentsCommitted.Add(context.Background(), 1)

	assert.Same(t, Default(), Default())
}
