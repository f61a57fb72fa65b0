package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func setupMetricsTest(t *testing.T) (*sdkmetric.ManualReader, MetricsRecorder) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			t.Logf("Error shutting down meter provider: %v", err)
		}
	})

	m, err := NewMetricsRecorderWithProvider(provider)
	require.NoError(t, err)
	return reader, m
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) *metricdata.ResourceMetrics {
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return &rm
}

func findMetric(rm *metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func counterTotal(t *testing.T, rm *metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	m := findMetric(rm, name)
	if m == nil {
		return 0
	}
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "Expected Sum type for %s", name)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestNewMetricsRecorder(t *testing.T) {
	recorder := NewMetricsRecorder()
	require.NotNil(t, recorder)

	_, isNoop := recorder.(NoopMetrics)
	assert.False(t, isNoop, "Expected real metrics recorder, got noop")
}

func TestRecordCompile(t *testing.T) {
	reader, m := setupMetricsTest(t)
	ctx := context.Background()

	m.RecordCompile(ctx, time.Millisecond, nil)
	m.RecordCompile(ctx, time.Millisecond, errors.New("bad rule"))

	rm := collectMetrics(t, reader)
	assert.Equal(t, int64(2), counterTotal(t, rm, "rules.compile.count"))
	assert.Equal(t, int64(1), counterTotal(t, rm, "rules.compile.errors"))

	metric := findMetric(rm, "rules.compile.latency_ms")
	require.NotNil(t, metric)
	hist, ok := metric.Data.(metricdata.Histogram[float64])
	require.True(t, ok, "Expected Histogram type")
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(2), hist.DataPoints[0].Count)
	assert.InDelta(t, 2.0, hist.DataPoints[0].Sum, 1e-9)
}

func TestRecordEvaluation(t *testing.T) {
	reader, m := setupMetricsTest(t)
	ctx := context.Background()

	m.RecordEvaluation(ctx, "rule-1", 2*time.Millisecond, true, nil)
	m.RecordEvaluation(ctx, "", 500*time.Microsecond, false, nil)
	m.RecordEvaluation(ctx, "", time.Millisecond, false, errors.New("unknown field"))

	rm := collectMetrics(t, reader)
	assert.Equal(t, int64(3), counterTotal(t, rm, "rules.eval.count"))
	assert.Equal(t, int64(1), counterTotal(t, rm, "rules.eval.errors"))

	t.Run("records latency", func(t *testing.T) {
		metric := findMetric(rm, "rules.eval.latency_ms")
		require.NotNil(t, metric)

		hist, ok := metric.Data.(metricdata.Histogram[float64])
		require.True(t, ok, "Expected Histogram type")
		require.NotEmpty(t, hist.DataPoints)

		var count uint64
		for _, dp := range hist.DataPoints {
			count += dp.Count
		}
		assert.Equal(t, uint64(3), count)
	})

	t.Run("tags stored rules", func(t *testing.T) {
		sum := findMetric(rm, "rules.eval.count").Data.(metricdata.Sum[int64])
		found := false
		for _, dp := range sum.DataPoints {
			if v, ok := dp.Attributes.Value("stored"); ok && v.AsBool() {
				found = true
				assert.Equal(t, int64(1), dp.Value)
			}
		}
		assert.True(t, found, "Expected a datapoint for stored=true")
	})
}

func TestNoopMetrics(t *testing.T) {
	var m MetricsRecorder = NoopMetrics{}
	m.RecordCompile(context.Background(), time.Second, nil)
	m.RecordEvaluation(context.Background(), "x", time.Second, true, errors.New("ignored"))
}
