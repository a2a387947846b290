// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package webgpu provides the WebGPU compute device for the statistics
// pipeline.
//
// The device is available where the native wgpu library is supported
// (currently Windows); elsewhere Open returns an error wrapping
// stats.ErrDeviceUnavailable.
//
// Example:
//
//	import (
//	    "github.com/born-ml/gpustats/backend/cpu"
//	    "github.com/born-ml/gpustats/backend/webgpu"
//	    "github.com/born-ml/gpustats/stats"
//	)
//
//	func main() {
//	    var dev stats.Device = cpu.New()
//	    if gpu, err := webgpu.Open(); err == nil {
//	        dev = gpu
//	    }
//	    defer dev.Release()
//
//	    res, err := stats.Compute(ctx, dev, samples)
//	}
package webgpu

import (
	internalwebgpu "github.com/born-ml/gpustats/internal/backend/webgpu"
	"github.com/born-ml/gpustats/stats"
)

// Option configures Open.
type Option = internalwebgpu.Option

// AdapterInfo describes a GPU adapter.
type AdapterInfo = internalwebgpu.AdapterInfo

// Open initializes the WebGPU device. Call Release when done to free GPU
// resources.
//
// Returns an error if WebGPU initialization fails (e.g., no compatible GPU).
func Open(opts ...Option) (stats.Device, error) {
	return internalwebgpu.Open(opts...)
}

// IsAvailable checks if WebGPU is available on the current system.
//
// It is useful for graceful fallback to the cpu device when no GPU is
// present.
func IsAvailable() bool {
	return internalwebgpu.IsAvailable()
}

// Adapters lists the available GPU adapters.
func Adapters() ([]AdapterInfo, error) {
	return internalwebgpu.Adapters()
}

// WithAdapterIndex selects the adapter by its position in Adapters.
func WithAdapterIndex(i int) Option {
	return internalwebgpu.WithAdapterIndex(i)
}

// WithLowPower prefers an integrated adapter over a discrete one.
func WithLowPower() Option {
	return internalwebgpu.WithLowPower()
}
