package cpu

import (
	"github.com/born-ml/gpustats/internal/compute"
	"github.com/born-ml/gpustats/internal/parallel"
)

// kernelFunc executes one launch. in and out have been validated.
type kernelFunc func(in, out *buffer, l compute.Launch, par parallel.Config) error

var builtins = map[compute.Kernel]kernelFunc{
	compute.ReduceSum:        reduction(compute.ReduceSum),
	compute.ReduceMin:        reduction(compute.ReduceMin),
	compute.ReduceMax:        reduction(compute.ReduceMax),
	compute.SquaredDeviation: squaredDeviation,
}

func reduction(k compute.Kernel) kernelFunc {
	return func(in, out *buffer, l compute.Launch, par parallel.Config) error {
		switch in.dtype {
		case compute.Float32:
			reduceGroups(compute.View[float32](in.data), compute.View[float32](out.data), l, combiner[float32](k), compute.Neutral[float32](k), par)
		case compute.Int32:
			reduceGroups(compute.View[int32](in.data), compute.View[int32](out.data), l, combiner[int32](k), compute.Neutral[int32](k), par)
		default:
			return compute.ErrUnsupportedDataType
		}
		return nil
	}
}

func combiner[T compute.Element](k compute.Kernel) func(a, b T) T {
	switch k {
	case compute.ReduceMin:
		return func(a, b T) T {
			if b < a {
				return b
			}
			return a
		}
	case compute.ReduceMax:
		return func(a, b T) T {
			if b > a {
				return b
			}
			return a
		}
	default:
		return func(a, b T) T { return a + b }
	}
}

// reduceGroups is a parallel tree reduction. Each work-group loads its lanes
// into a local buffer (neutral past l.Count), then halves the active lanes
// log2(GroupSize) times. Lanes of one step read only slots no other lane of
// that step writes, so running them in order is equivalent to lockstep
// execution with a barrier after every step.
//
// A lane only combines a partner below the group's valid lane count, so the
// neutral never reaches a result and non-finite samples reduce the same way
// on every device.
func reduceGroups[T compute.Element](in, out []T, l compute.Launch, op func(a, b T) T, neutral T, par parallel.Config) {
	parallel.ForRange(l.Groups, func(lo, hi int) {
		local := make([]T, l.GroupSize)
		for g := lo; g < hi; g++ {
			base := g * l.GroupSize
			valid := min(l.GroupSize, l.Count-base)
			for lane := range local {
				if i := base + lane; i < l.Count {
					local[lane] = in[i]
				} else {
					local[lane] = neutral
				}
			}

			for stride := l.GroupSize / 2; stride > 0; stride >>= 1 {
				for lane := 0; lane < stride && lane+stride < valid; lane++ {
					local[lane] = op(local[lane], local[lane+stride])
				}
			}

			out[g] = local[0]
		}
	}, par)
}

func squaredDeviation(in, out *buffer, l compute.Launch, par parallel.Config) error {
	switch in.dtype {
	case compute.Float32:
		deviations(compute.View[float32](in.data), compute.View[float32](out.data), l, compute.FromBits[float32](l.Mean), par)
	case compute.Int32:
		deviations(compute.View[int32](in.data), compute.View[int32](out.data), l, compute.FromBits[int32](l.Mean), par)
	default:
		return compute.ErrUnsupportedDataType
	}
	return nil
}

// deviations writes (x[i]-mean)^2 for real lanes and 0 for padded lanes, so
// padding never contributes to the deviation sum.
func deviations[T compute.Element](in, out []T, l compute.Launch, mean T, par parallel.Config) {
	parallel.ForRange(l.Groups, func(lo, hi int) {
		for i := lo * l.GroupSize; i < hi*l.GroupSize; i++ {
			if i < l.Count {
				d := in[i] - mean
				out[i] = d * d
			} else {
				out[i] = 0
			}
		}
	}, par)
}
