package webgpu

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/gpustats/internal/compute"
)

func TestRender(t *testing.T) {
	src, err := Render(DefaultProgram().Specialize(64, compute.Float32))
	require.NoError(t, err)

	assert.NotContains(t, src, "{{")
	assert.Contains(t, src, "alias T = f32;")
	assert.Contains(t, src, "@workgroup_size(64)")
	assert.Contains(t, src, "array<T, 64>")
	assert.Contains(t, src, "64u / 2u")
	assert.Contains(t, src, "load(global_id.x, 3.4028235e+38)")
	assert.Contains(t, src, "load(global_id.x, -3.4028235e+38)")
	assert.Equal(t, 3, strings.Count(src, "if (tid < s && tid + s < valid)"))

	isrc, err := Render(DefaultProgram().Specialize(8, compute.Int32))
	require.NoError(t, err)
	assert.Contains(t, isrc, "alias T = i32;")
	assert.Contains(t, isrc, "load(global_id.x, (-2147483647i - 1i))")
}

func TestRender_IdentitiesMatchNeutral(t *testing.T) {
	_, _, minID, maxID, err := wgslType(compute.Float32)
	require.NoError(t, err)

	for _, tt := range []struct {
		literal string
		kernel  compute.Kernel
	}{{minID, compute.ReduceMin}, {maxID, compute.ReduceMax}} {
		v, err := strconv.ParseFloat(tt.literal, 32)
		require.NoError(t, err)
		assert.Equal(t, compute.Neutral[float32](tt.kernel), float32(v), string(tt.kernel))
	}
}

func TestRender_EmptySourceUsesBuiltins(t *testing.T) {
	src, err := Render(compute.Program{Name: "x", GroupSize: 32, DataType: compute.Float32})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"reduce_sum", "reduce_min", "reduce_max", "squared_deviation"}, EntryPoints(src))
}

func TestRender_Invalid(t *testing.T) {
	for _, gs := range []int{0, -4, 3, 100, 512} {
		_, err := Render(DefaultProgram().Specialize(gs, compute.Float32))
		assert.ErrorIs(t, err, compute.ErrInvalidGroupSize, "group size %d", gs)
	}

	_, err := Render(DefaultProgram().Specialize(64, compute.DataType(9)))
	assert.ErrorIs(t, err, compute.ErrUnsupportedDataType)
}

func TestEntryPoints(t *testing.T) {
	src := `
fn helper() -> f32 { return 1.0; }

@compute @workgroup_size(4)
fn first(@builtin(global_invocation_id) id: vec3<u32>) {}

@compute
@workgroup_size(4, 1, 1)
fn second_one() {}
`
	assert.Equal(t, []string{"first", "second_one"}, EntryPoints(src))
	assert.Equal(t, []string{"reduce_sum"}, missingEntryPoints(src, []compute.Kernel{"first", compute.ReduceSum}))
}

func TestDefaultProgram_CoversAllKernels(t *testing.T) {
	src, err := Render(DefaultProgram().Specialize(MaxGroupSize, compute.Int32))
	require.NoError(t, err)
	assert.Empty(t, missingEntryPoints(src, compute.AllKernels()))
	assert.Equal(t, 4, strings.Count(src, "@compute"))
}

func TestAdapterInfo_String(t *testing.T) {
	assert.Equal(t, "unknown adapter", AdapterInfo{}.String())
	assert.Equal(t, "RTX 4090", AdapterInfo{Device: "RTX 4090"}.String())
	assert.Equal(t, "RTX 4090 (NVIDIA)", AdapterInfo{Device: "RTX 4090", Vendor: "NVIDIA"}.String())
}

func TestOpen_Unavailable(t *testing.T) {
	if IsAvailable() {
		t.Skip("WebGPU is available on this system")
	}
	_, err := Open()
	require.Error(t, err)
	assert.ErrorIs(t, err, compute.ErrDeviceUnavailable)
	assert.Equal(t, compute.CodeDeviceUnavailable, compute.Describe(err))
}
