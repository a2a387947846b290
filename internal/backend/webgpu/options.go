// Package webgpu implements a compute device on WebGPU.
// Uses go-webgpu (github.com/go-webgpu/webgpu) for zero-CGO WebGPU bindings.
//
// The device is only built where the native wgpu library is supported; on
// other platforms Open reports compute.ErrDeviceUnavailable.
package webgpu

import "log/slog"

// AdapterInfo describes a GPU adapter.
type AdapterInfo struct {
	Vendor       string
	Device       string
	Description  string
	Architecture string
	Backend      string
	Type         string
	VendorID     uint32
	DeviceID     uint32
}

// String returns "device (vendor)".
func (a AdapterInfo) String() string {
	switch {
	case a.Device == "" && a.Vendor == "":
		return "unknown adapter"
	case a.Vendor == "":
		return a.Device
	default:
		return a.Device + " (" + a.Vendor + ")"
	}
}

type options struct {
	adapterIndex int
	lowPower     bool
	logger       *slog.Logger
}

func defaultOptions() options {
	return options{logger: slog.Default()}
}

// Option configures Open.
type Option func(*options)

// WithAdapterIndex selects the adapter by its position in Adapters.
func WithAdapterIndex(i int) Option {
	return func(o *options) { o.adapterIndex = i }
}

// WithLowPower prefers an integrated adapter over a discrete one.
func WithLowPower() Option {
	return func(o *options) { o.lowPower = true }
}

// WithLogger sets the logger for device diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
