// Package observability wires OpenTelemetry metrics and traces and the process logger.
package observability

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope of all rule engine instruments.
const MeterName = "ruleengine"

// MetricsRecorder records rule engine metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordCompile records one compilation and whether it failed.
	RecordCompile(ctx context.Context, duration time.Duration, err error)

	// RecordEvaluation records one evaluation. ruleID is empty for ad hoc ASTs.
	RecordEvaluation(ctx context.Context, ruleID string, duration time.Duration, result bool, err error)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	compiles       metric.Int64Counter
	compileErrors  metric.Int64Counter
	compileLatency metric.Float64Histogram
	evals          metric.Int64Counter
	evalErrors     metric.Int64Counter
	evalLatency    metric.Float64Histogram
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics(otel.GetMeterProvider())
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics(mp metric.MeterProvider) (*otelMetrics, error) {
	meter := mp.Meter(MeterName)

	compiles, err := meter.Int64Counter("rules.compile.count",
		metric.WithDescription("Number of rule compilations"),
	)
	if err != nil {
		return nil, err
	}

	compileErrors, err := meter.Int64Counter("rules.compile.errors",
		metric.WithDescription("Number of rules rejected by the parser"),
	)
	if err != nil {
		return nil, err
	}

	compileLatency, err := meter.Float64Histogram("rules.compile.latency_ms",
		metric.WithDescription("Rule compilation latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	evals, err := meter.Int64Counter("rules.eval.count",
		metric.WithDescription("Number of rule evaluations"),
	)
	if err != nil {
		return nil, err
	}

	evalErrors, err := meter.Int64Counter("rules.eval.errors",
		metric.WithDescription("Number of evaluations that failed"),
	)
	if err != nil {
		return nil, err
	}

	evalLatency, err := meter.Float64Histogram("rules.eval.latency_ms",
		metric.WithDescription("Rule evaluation latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		compiles:       compiles,
		compileErrors:  compileErrors,
		compileLatency: compileLatency,
		evals:          evals,
		evalErrors:     evalErrors,
		evalLatency:    evalLatency,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses the global OTel meter
// provider. If metrics initialization fails, it returns a no-op recorder.
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		log.WithError(err).Warn("metrics initialization failed, using no-op recorder")
		return NoopMetrics{}
	}
	return m
}

// NewMetricsRecorderWithProvider returns a MetricsRecorder bound to mp
// instead of the global provider.
func NewMetricsRecorderWithProvider(mp metric.MeterProvider) (MetricsRecorder, error) {
	return newOtelMetrics(mp)
}

// RecordCompile records a compilation.
func (m *otelMetrics) RecordCompile(ctx context.Context, duration time.Duration, err error) {
	m.compiles.Add(ctx, 1)
	m.compileLatency.Record(ctx, float64(duration.Microseconds())/1000)
	if err != nil {
		m.compileErrors.Add(ctx, 1)
	}
}

// RecordEvaluation records an evaluation.
func (m *otelMetrics) RecordEvaluation(ctx context.Context, ruleID string, duration time.Duration, result bool, err error) {
	attrs := []attribute.KeyValue{
		attribute.Bool("stored", ruleID != ""),
	}
	if err == nil {
		attrs = append(attrs, attribute.Bool("result", result))
	}

	m.evals.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.evalLatency.Record(ctx, float64(duration.Microseconds())/1000, metric.WithAttributes(attrs...))

	if err != nil {
		m.evalErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}
