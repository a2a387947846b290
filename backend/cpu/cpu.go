// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package cpu

import (
	internalcpu "github.com/born-ml/gpustats/internal/backend/cpu"
	"github.com/born-ml/gpustats/internal/parallel"
	"github.com/born-ml/gpustats/stats"
)

// Device represents the software compute device.
//
// Kernels run with the GPU work-group model in pure Go, with work-groups
// spread over goroutines.
type Device = internalcpu.Device

// Option configures a Device.
type Option = internalcpu.Option

// MemoryStats represents device memory usage statistics.
type MemoryStats = internalcpu.MemoryStats

// Compile-time check that Device implements stats.Device.
var _ stats.Device = (*Device)(nil)

// New creates a new software device.
//
// Example:
//
//	import (
//	    "github.com/born-ml/gpustats/backend/cpu"
//	    "github.com/born-ml/gpustats/stats"
//	)
//
//	func main() {
//	    dev := cpu.New()
//	    defer dev.Release()
//	    res, err := stats.Compute(ctx, dev, []float32{3, 1, 4, 1, 5})
//	}
func New(opts ...Option) *Device {
	return internalcpu.New(opts...)
}

// WithWorkers caps the goroutines used per dispatch. 1 runs work-groups
// sequentially; 0 uses one goroutine per CPU.
func WithWorkers(n int) Option {
	cfg := parallel.DefaultConfig()
	switch {
	case n == 1:
		cfg = parallel.Sequential()
	case n > 1:
		cfg.Enabled = true
		cfg.NumWorkers = n
	}
	return internalcpu.WithParallel(cfg)
}

// WithMemoryLimit caps the bytes that may be allocated at once.
func WithMemoryLimit(bytes uint64) Option {
	return internalcpu.WithMemoryLimit(bytes)
}
