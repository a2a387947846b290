// Package telemetry records pipeline runs and per-stage kernel durations
// with OpenTelemetry.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Attribute keys shared by metrics and spans.
const (
	AttrDevice    = "gpustats.device"
	AttrDataType  = "gpustats.dtype"
	AttrStage     = "gpustats.stage"
	AttrLevels    = "gpustats.levels"
	AttrSamples   = "gpustats.samples"
	AttrGroupSize = "gpustats.group_size"
)

const instrumentationName = "github.com/born-ml/gpustats"

// Recorder emits pipeline metrics and spans.
type Recorder struct {
	tracer trace.Tracer

	runs      metric.Int64Counter
	failures  metric.Int64Counter
	samples   metric.Int64Counter
	durations metric.Int64Histogram
}

// New builds a Recorder on the given providers.
func New(mp metric.MeterProvider, tp trace.TracerProvider) (*Recorder, error) {
	meter := mp.Meter(instrumentationName)

	runs, err := meter.Int64Counter("gpustats.runs", metric.WithDescription("Pipeline runs started"))
	if err != nil {
		return nil, fmt.Errorf("create runs counter: %w", err)
	}

	failures, err := meter.Int64Counter("gpustats.failures", metric.WithDescription("Pipeline runs that failed"))
	if err != nil {
		return nil, fmt.Errorf("create failures counter: %w", err)
	}

	samples, err := meter.Int64Counter("gpustats.samples", metric.WithDescription("Samples reduced"))
	if err != nil {
		return nil, fmt.Errorf("create samples counter: %w", err)
	}

	durations, err := meter.Int64Histogram(
		"gpustats.stage.duration",
		metric.WithUnit("ns"),
		metric.WithDescription("Device-measured kernel time per pipeline stage"),
	)
	if err != nil {
		return nil, fmt.Errorf("create duration histogram: %w", err)
	}

	return &Recorder{
		tracer:    tp.Tracer(instrumentationName),
		runs:      runs,
		failures:  failures,
		samples:   samples,
		durations: durations,
	}, nil
}

// Nop returns a Recorder that discards everything.
func Nop() *Recorder {
	r, err := New(metricnoop.NewMeterProvider(), tracenoop.NewTracerProvider())
	if err != nil {
		// noop instruments never fail to build
		panic(err)
	}
	return r
}

// StartRun opens the span for one pipeline run.
func (r *Recorder) StartRun(ctx context.Context, attrs ...attribute.KeyValue) (context.Context, *Run) {
	ctx, span := r.tracer.Start(ctx, "gpustats.Run", trace.WithAttributes(attrs...))
	r.runs.Add(ctx, 1, metric.WithAttributes(attrs...))
	return ctx, &Run{rec: r, span: span, attrs: attrs}
}

// Run is an in-progress pipeline run.
type Run struct {
	rec   *Recorder
	span  trace.Span
	attrs []attribute.KeyValue
}

// Stage records the device time of one stage.
func (run *Run) Stage(ctx context.Context, stage string, d time.Duration, levels int) {
	attrs := append([]attribute.KeyValue{
		attribute.String(AttrStage, stage),
		attribute.Int(AttrLevels, levels),
	}, run.attrs...)

	run.rec.durations.Record(ctx, d.Nanoseconds(), metric.WithAttributes(attrs...))
	run.span.AddEvent("stage", trace.WithAttributes(
		attribute.String(AttrStage, stage),
		attribute.Int64("duration_ns", d.Nanoseconds()),
		attribute.Int(AttrLevels, levels),
	))
}

// End closes the run. A non-nil err marks it failed.
func (run *Run) End(ctx context.Context, samples int, err error) {
	if err != nil {
		run.span.RecordError(err)
		run.span.SetStatus(codes.Error, err.Error())
		run.rec.failures.Add(ctx, 1, metric.WithAttributes(run.attrs...))
	} else {
		run.rec.samples.Add(ctx, int64(samples), metric.WithAttributes(run.attrs...))
	}
	run.span.End()
}
