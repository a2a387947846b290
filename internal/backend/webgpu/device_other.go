//go:build !windows

package webgpu

import (
	"fmt"

	"github.com/born-ml/gpustats/internal/compute"
)

// IsAvailable reports whether a WebGPU adapter can be opened.
func IsAvailable() bool {
	return false
}

// Adapters lists the GPU adapters.
func Adapters() ([]AdapterInfo, error) {
	return nil, fmt.Errorf("webgpu: %w: native library not supported on this platform", compute.ErrDeviceUnavailable)
}

// Open opens the WebGPU device.
func Open(...Option) (compute.Device, error) {
	return nil, fmt.Errorf("webgpu: %w: native library not supported on this platform", compute.ErrDeviceUnavailable)
}
