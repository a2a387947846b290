//go:build windows

package webgpu

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/gpustats/internal/compute"
	"github.com/born-ml/gpustats/internal/pipeline"
)

func newTestDevice(t *testing.T) *Device {
	t.Helper()
	d, err := New()
	if err != nil {
		t.Logf("WebGPU not available: %v", err)
		t.Skip("WebGPU not available on this system")
	}
	t.Cleanup(d.Release)
	return d
}

func TestNew(t *testing.T) {
	d := newTestDevice(t)

	assert.NotEmpty(t, d.Name())
	t.Logf("Device name: %s", d.Name())
	t.Logf("Adapter: %+v", d.Adapter())
}

func TestNew_AdapterIndexOutOfRange(t *testing.T) {
	_, err := New(WithAdapterIndex(3))
	assert.ErrorIs(t, err, compute.ErrDeviceUnavailable)
}

func TestAdapters(t *testing.T) {
	adapters, err := Adapters()
	if err != nil {
		t.Skip("WebGPU not available on this system")
	}
	require.NotEmpty(t, adapters)
	for i, info := range adapters {
		t.Logf("Adapter %d: %s backend=%s type=%s", i, info, info.Backend, info.Type)
	}
}

func TestBuild_MissingEntryPoint(t *testing.T) {
	d := newTestDevice(t)

	prog := compute.Program{Name: "partial", Source: `
@compute @workgroup_size({{GROUP}})
fn reduce_sum() {}
`}.Specialize(64, compute.Float32)

	err := d.Build(context.Background(), prog, compute.AllKernels()...)
	require.Error(t, err)

	var berr *compute.KernelBuildError
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, "missing entry points", berr.Status)
	assert.Contains(t, berr.Log, "reduce_min")
	assert.Contains(t, berr.Options, "group_size=64")
}

func TestDispatch_RequiresBuiltGroupSize(t *testing.T) {
	d := newTestDevice(t)
	ctx := context.Background()

	require.NoError(t, d.Build(ctx, DefaultProgram().Specialize(64, compute.Float32), compute.AllKernels()...))

	in, err := d.Alloc(128, compute.Float32, compute.ReadOnly)
	require.NoError(t, err)
	out, err := d.Alloc(1, compute.Float32, compute.ReadWrite)
	require.NoError(t, err)

	_, err = d.Dispatch(ctx, compute.Launch{Kernel: compute.ReduceSum, Input: in, Output: out, Count: 128, GroupSize: 128, Groups: 1})
	assert.ErrorIs(t, err, compute.ErrDispatch)
	assert.ErrorIs(t, err, errInvalidLaunch)
}

func TestDispatch_SelectsProgramByFingerprint(t *testing.T) {
	d := newTestDevice(t)
	ctx := context.Background()

	p64 := DefaultProgram().Specialize(64, compute.Float32)
	require.NoError(t, d.Build(ctx, p64, compute.AllKernels()...))
	require.NoError(t, d.Build(ctx, DefaultProgram().Specialize(128, compute.Float32), compute.AllKernels()...))

	data := make([]float32, 64)
	for i := range data {
		data[i] = 2
	}
	in, err := d.Alloc(64, compute.Float32, compute.ReadOnly)
	require.NoError(t, err)
	require.NoError(t, compute.Upload(ctx, d, in, data))
	out, err := d.Alloc(1, compute.Float32, compute.ReadWrite)
	require.NoError(t, err)

	launch := compute.Launch{Kernel: compute.ReduceSum, Input: in, Output: out, Count: 64, GroupSize: 64, Groups: 1}
	_, err = d.Dispatch(ctx, launch)
	assert.ErrorIs(t, err, errInvalidLaunch, "the 128 program was built last")

	launch.Program = p64.Fingerprint()
	ev, err := d.Dispatch(ctx, launch)
	require.NoError(t, err)
	require.NoError(t, ev.Wait(ctx))

	got, err := compute.ReadScalar[float32](ctx, d, out)
	require.NoError(t, err)
	assert.Equal(t, float32(128), got)
}

func TestDispatch_AfterRelease(t *testing.T) {
	d := newTestDevice(t)
	ctx := context.Background()

	require.NoError(t, d.Build(ctx, DefaultProgram().Specialize(64, compute.Float32), compute.AllKernels()...))
	in, err := d.Alloc(64, compute.Float32, compute.ReadOnly)
	require.NoError(t, err)
	out, err := d.Alloc(1, compute.Float32, compute.ReadWrite)
	require.NoError(t, err)
	d.Release()

	_, err = d.Dispatch(ctx, compute.Launch{Kernel: compute.ReduceSum, Input: in, Output: out, Count: 64, GroupSize: 64, Groups: 1})
	assert.ErrorIs(t, err, compute.ErrDispatch)

	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, d.Finish(ctx))

	d.Free(in)
	d.Free(out)
	assert.Zero(t, d.MemoryStats().ActiveBuffers)
}

func TestWriteRead(t *testing.T) {
	d := newTestDevice(t)
	ctx := context.Background()

	buf, err := d.Alloc(4, compute.Int32, compute.ReadWrite)
	require.NoError(t, err)
	defer d.Free(buf)

	require.NoError(t, compute.Upload(ctx, d, buf, []int32{7, -1, 3, 0}))
	got, err := compute.Download[int32](ctx, d, buf, 4)
	require.NoError(t, err)
	assert.Equal(t, []int32{7, -1, 3, 0}, got)

	require.NoError(t, d.Fill(ctx, buf, 0))
	got, err = compute.Download[int32](ctx, d, buf, 4)
	require.NoError(t, err)
	assert.Equal(t, []int32{0, 0, 0, 0}, got)
}

func TestPipeline(t *testing.T) {
	d := newTestDevice(t)

	samples := []int32{3, 1, 4, 1, 5, 9, 2, 6}
	res, err := pipeline.Run(context.Background(), d, samples,
		pipeline.WithGroupSize(8), pipeline.WithProgram(DefaultProgram()))
	require.NoError(t, err)

	assert.Equal(t, int32(31), res.Sum)
	assert.Equal(t, int32(1), res.Min)
	assert.Equal(t, int32(9), res.Max)
	assert.Equal(t, int32(3), res.Mean)
	assert.InDelta(t, math.Sqrt(59.0/8.0), res.StdDev, 1e-5)
	t.Logf("Timings: %+v", res.Timings)
}

func TestPipeline_MultiLevel(t *testing.T) {
	d := newTestDevice(t)

	samples := make([]float32, 100_000)
	for i := range samples {
		samples[i] = float32(i%100) + 1
	}
	res, err := pipeline.Run(context.Background(), d, samples, pipeline.WithGroupSize(256))
	require.NoError(t, err)

	assert.Equal(t, float32(1), res.Min)
	assert.Equal(t, float32(100), res.Max)
	assert.InEpsilon(t, 50.5, res.Mean, 1e-4)

	stats := d.MemoryStats()
	assert.Zero(t, stats.ActiveBuffers)
}

func TestPipeline_ConcurrentGroupSizes(t *testing.T) {
	d := newTestDevice(t)

	samples := make([]float32, 20_000)
	for i := range samples {
		samples[i] = float32(i % 97)
	}
	var sum float32
	for _, v := range samples {
		sum += v
	}

	var wg sync.WaitGroup
	for _, gs := range []int{32, 64, 128, 256} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := pipeline.Run(context.Background(), d, samples, pipeline.WithGroupSize(gs))
			if !assert.NoError(t, err, "group %d", gs) {
				return
			}
			assert.Equal(t, sum, res.Sum, "group %d", gs)
			assert.Equal(t, float32(0), res.Min, "group %d", gs)
			assert.Equal(t, float32(96), res.Max, "group %d", gs)
		}()
	}
	wg.Wait()

	assert.Zero(t, d.MemoryStats().ActiveBuffers)
}

func TestPipeline_InfinitiesWithPadding(t *testing.T) {
	d := newTestDevice(t)

	negInf := float32(math.Inf(-1))
	res, err := pipeline.Run(context.Background(), d, []float32{negInf, negInf, negInf}, pipeline.WithGroupSize(4))
	require.NoError(t, err)
	assert.Equal(t, negInf, res.Min)
	assert.Equal(t, negInf, res.Max)
}

func TestPipeline_Int32WideDeviation(t *testing.T) {
	d := newTestDevice(t)

	res, err := pipeline.Run(context.Background(), d, []int32{-100_000, 100_000}, pipeline.WithGroupSize(2))
	require.NoError(t, err)
	assert.Equal(t, int32(0), res.Mean)
	assert.InEpsilon(t, 100_000, res.StdDev, 1e-5)
}
