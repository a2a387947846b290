package compute

import (
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
)

// Kernel names an entry point of a compute program.
type Kernel string

// Kernels every device must be able to build.
const (
	// ReduceSum writes the sum of each work-group's elements to output[group].
	ReduceSum Kernel = "reduce_sum"
	// ReduceMin writes the minimum of each work-group's elements to output[group].
	ReduceMin Kernel = "reduce_min"
	// ReduceMax writes the maximum of each work-group's elements to output[group].
	ReduceMax Kernel = "reduce_max"
	// SquaredDeviation writes (input[i] - mean)^2 to output[i], and 0 for
	// padded lanes.
	SquaredDeviation Kernel = "squared_deviation"
)

// AllKernels lists the kernels used by the statistics pipeline.
func AllKernels() []Kernel {
	return []Kernel{ReduceSum, ReduceMin, ReduceMax, SquaredDeviation}
}

// IsReduction reports whether k produces one value per work-group.
func (k Kernel) IsReduction() bool {
	switch k {
	case ReduceSum, ReduceMin, ReduceMax:
		return true
	default:
		return false
	}
}

// Neutral returns the identity element of reduction k for T. Lanes past the
// unpadded element count load this value instead of reading input. Float
// identities are the largest finite values, since WGSL constants cannot
// express infinities; every device uses these same values.
func Neutral[T Element](k Kernel) T {
	var zero T
	switch k {
	case ReduceMin:
		switch any(zero).(type) {
		case float32:
			return any(float32(math.MaxFloat32)).(T)
		case int32:
			return any(int32(math.MaxInt32)).(T)
		}
	case ReduceMax:
		switch any(zero).(type) {
		case float32:
			return any(float32(-math.MaxFloat32)).(T)
		case int32:
			return any(int32(math.MinInt32)).(T)
		}
	}
	return zero
}

// Program is a kernel program handed to Device.Build. Source is
// device-specific (WGSL for webgpu); an empty Source selects the device's
// built-in kernels. GroupSize and DataType specialize the program for
// devices that fix them at compile time.
type Program struct {
	Name      string
	Source    string
	Options   string
	GroupSize int
	DataType  DataType
}

// Specialize returns a copy of p for the given group size and element type.
func (p Program) Specialize(groupSize int, dt DataType) Program {
	p.GroupSize = groupSize
	p.DataType = dt
	return p
}

// Fingerprint identifies the program for build caches.
func (p Program) Fingerprint() uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(p.Name)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(p.Source)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(p.Options)
	_, _ = fmt.Fprintf(d, "\x00%d\x00%s", p.GroupSize, p.DataType)
	return d.Sum64()
}
