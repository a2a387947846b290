// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package stats computes sum, minimum, maximum, mean and population standard
// deviation of a numeric sample sequence with parallel reductions on a
// compute device.
//
// # Basic Usage
//
//	import (
//	    "github.com/born-ml/gpustats/backend/cpu"
//	    "github.com/born-ml/gpustats/stats"
//	)
//
//	func main() {
//	    samples, err := stats.ReadFile[float32]("temps.txt")
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//
//	    dev := cpu.New()
//	    defer dev.Release()
//
//	    res, err := stats.Compute(context.Background(), dev, samples)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    fmt.Println(res.Sum, res.Min, res.Max, res.Mean, res.StdDev)
//	}
//
// # Numeric Semantics
//
// Sums accumulate in the working type, in tree order within each
// work-group. Float32 results are deterministic for a fixed group size.
// With int32 samples the mean is truncated toward zero.
package stats

import (
	"context"
	"io"
	"iter"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/born-ml/gpustats/internal/compute"
	"github.com/born-ml/gpustats/internal/pipeline"
	"github.com/born-ml/gpustats/internal/sample"
	"github.com/born-ml/gpustats/internal/telemetry"
)

// Element is the constraint for working types: float32 or int32.
type Element = compute.Element

// Device executes the statistics kernels.
type Device = compute.Device

// Result holds the statistics of one run.
type Result[T Element] = pipeline.Result[T]

// Stage names a timed step of the pipeline.
type Stage = pipeline.Stage

// Timings holds the device time of every stage.
type Timings = pipeline.Timings

// Option configures Compute.
type Option = pipeline.Option

// Error types.
type (
	KernelBuildError = compute.KernelBuildError
	ResourceError    = compute.ResourceError
	DispatchError    = compute.DispatchError
	DataFormatError  = sample.DataFormatError
)

// Errors reported by Compute and the devices. Match them with errors.Is.
var (
	ErrKernelBuild         = compute.ErrKernelBuild
	ErrResource            = compute.ErrResource
	ErrDispatch            = compute.ErrDispatch
	ErrDataFormat          = compute.ErrDataFormat
	ErrDeviceUnavailable   = compute.ErrDeviceUnavailable
	ErrEmptySample         = compute.ErrEmptySample
	ErrInvalidGroupSize    = compute.ErrInvalidGroupSize
	ErrUnsupportedDataType = compute.ErrUnsupportedDataType
)

// Compute runs the statistics pipeline over samples on dev.
func Compute[T Element](ctx context.Context, dev Device, samples []T, opts ...Option) (*Result[T], error) {
	return pipeline.Run(ctx, dev, samples, opts...)
}

// WithGroupSize sets the work-group size (default 256). It must be a power
// of two.
func WithGroupSize(n int) Option {
	return pipeline.WithGroupSize(n)
}

// WithLogger sets the logger for per-stage debug output.
func WithLogger(l *slog.Logger) Option {
	return pipeline.WithLogger(l)
}

// WithKernelSource replaces the device's built-in kernels with source.
func WithKernelSource(name, source string) Option {
	return pipeline.WithProgram(compute.Program{Name: name, Source: source})
}

// WithTelemetry records runs, failures and per-stage durations on the given
// OpenTelemetry providers.
func WithTelemetry(mp metric.MeterProvider, tp trace.TracerProvider) (Option, error) {
	rec, err := telemetry.New(mp, tp)
	if err != nil {
		return nil, err
	}
	return pipeline.WithTelemetry(rec), nil
}

// ReadFile reads samples from the last field of every line of path.
func ReadFile[T Element](path string) ([]T, error) {
	return sample.ReadFile[T](path)
}

// Parse lazily parses samples from r.
func Parse[T Element](r io.Reader) iter.Seq2[T, error] {
	return sample.Parse[T](r)
}

// Describe returns a short description of the error class of err.
func Describe(err error) string {
	return compute.Describe(err).String()
}
