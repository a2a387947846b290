// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package stats_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/born-ml/gpustats/backend/cpu"
	"github.com/born-ml/gpustats/backend/webgpu"
	"github.com/born-ml/gpustats/stats"
)

func TestCompute(t *testing.T) {
	dev := cpu.New(cpu.WithWorkers(2))
	defer dev.Release()

	telemetry, err := stats.WithTelemetry(metricnoop.NewMeterProvider(), tracenoop.NewTracerProvider())
	require.NoError(t, err)

	res, err := stats.Compute(context.Background(), dev, []float32{2, 4, 4, 4, 5, 5, 7, 9},
		stats.WithGroupSize(4), telemetry)
	require.NoError(t, err)

	assert.Equal(t, float32(40), res.Sum)
	assert.Equal(t, float32(2), res.Min)
	assert.Equal(t, float32(9), res.Max)
	assert.Equal(t, float32(5), res.Mean)
	assert.Equal(t, float32(4), res.Variance)
	assert.Equal(t, float32(2), res.StdDev)
	assert.Len(t, res.Timings, 5)
}

func TestCompute_Errors(t *testing.T) {
	dev := cpu.New(cpu.WithMemoryLimit(16))
	defer dev.Release()

	_, err := stats.Compute(context.Background(), dev, []int32{})
	assert.ErrorIs(t, err, stats.ErrEmptySample)
	assert.Equal(t, "invalid input", stats.Describe(err))

	_, err = stats.Compute(context.Background(), dev, make([]int32, 64), stats.WithGroupSize(8))
	var rerr *stats.ResourceError
	require.True(t, errors.As(err, &rerr))
	assert.ErrorIs(t, err, stats.ErrResource)

	_, err = stats.Compute(context.Background(), dev, []int32{1}, stats.WithKernelSource("custom", "fn main() {}"))
	assert.NoError(t, err, "the cpu device ignores kernel source and runs its built-ins")
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "temps.txt")
	data := "LINCOLNSHIRE 1 1 0 -1.5\nLINCOLNSHIRE 1 1 1 2.5\n\nLINCOLNSHIRE 1 1 2 4\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	samples, err := stats.ReadFile[float32](path)
	require.NoError(t, err)
	assert.Equal(t, []float32{-1.5, 2.5, 4}, samples)

	ints, err := stats.ReadFile[int32](path)
	require.NoError(t, err)
	assert.Equal(t, []int32{-1, 2, 4}, ints)
}

func TestParse_DataFormatError(t *testing.T) {
	var got []float32
	var err error
	for v, perr := range stats.Parse[float32](strings.NewReader("a 1\nb x\nc 3\n")) {
		if perr != nil {
			err = perr
			break
		}
		got = append(got, v)
	}

	assert.Equal(t, []float32{1}, got)
	var ferr *stats.DataFormatError
	require.True(t, errors.As(err, &ferr))
	assert.Equal(t, 2, ferr.Line)
	assert.ErrorIs(t, err, stats.ErrDataFormat)
}

func TestWebGPUFallback(t *testing.T) {
	dev, err := webgpu.Open()
	if err != nil {
		assert.ErrorIs(t, err, stats.ErrDeviceUnavailable)
		dev = cpu.New()
	}
	defer dev.Release()

	res, err := stats.Compute(context.Background(), dev, []int32{3, 1, 4, 1, 5, 9, 2, 6}, stats.WithGroupSize(8))
	require.NoError(t, err)
	assert.Equal(t, int32(31), res.Sum)
}

func ExampleCompute() {
	dev := cpu.New()
	defer dev.Release()

	res, err := stats.Compute(context.Background(), dev, []int32{3, 1, 4, 1, 5, 9, 2, 6}, stats.WithGroupSize(8))
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println(res.Sum, res.Min, res.Max, res.Mean)
	// Output: 31 1 9 3
}
