package compute

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyp3rd/ewrap"
)

var (
	// ErrKernelBuild is returned when a program fails to compile for the device.
	ErrKernelBuild = ewrap.New("kernel build failed")

	// ErrResource is returned when a buffer cannot be allocated, written or bound.
	ErrResource = ewrap.New("device resource error")

	// ErrDispatch is returned when a kernel cannot be enqueued or fails while running.
	ErrDispatch = ewrap.New("kernel dispatch failed")

	// ErrDataFormat is returned when an input record cannot be parsed as a sample.
	ErrDataFormat = ewrap.New("malformed input record")

	// ErrDeviceUnavailable is returned when the requested device cannot be opened.
	ErrDeviceUnavailable = ewrap.New("compute device not available")

	// ErrEmptySample is returned when there is nothing to reduce.
	ErrEmptySample = ewrap.New("sample sequence is empty")

	// ErrInvalidGroupSize is returned for work-group sizes that are not a power of two.
	ErrInvalidGroupSize = ewrap.New("work-group size must be a positive power of two")

	// ErrUnsupportedDataType is returned for element types a device cannot handle.
	ErrUnsupportedDataType = ewrap.New("unsupported data type")

	// ErrOutOfMemory is the cause of a ResourceError when a device memory limit is hit.
	ErrOutOfMemory = ewrap.New("out of device memory")
)

// KernelBuildError carries the build diagnostics of a failed Device.Build.
type KernelBuildError struct {
	Device  string
	Program string
	Status  string
	Options string
	Log     string
	Err     error
}

func (e *KernelBuildError) Error() string {
	msg := fmt.Sprintf("%s: building %q on %s: %s", ErrKernelBuild, e.Program, e.Device, e.Status)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *KernelBuildError) Unwrap() []error {
	return causes(ErrKernelBuild, e.Err)
}

// ResourceError reports a failed allocation, transfer or binding.
type ResourceError struct {
	Op    string
	Bytes int
	Err   error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("%s: %s (%d bytes): %v", ErrResource, e.Op, e.Bytes, e.Err)
}

func (e *ResourceError) Unwrap() []error {
	return causes(ErrResource, e.Err)
}

// DispatchError reports a kernel that could not be enqueued or failed to run.
type DispatchError struct {
	Kernel Kernel
	Err    error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrDispatch, e.Kernel, e.Err)
}

func (e *DispatchError) Unwrap() []error {
	return causes(ErrDispatch, e.Err)
}

func causes(sentinel, err error) []error {
	if err == nil {
		return []error{sentinel}
	}
	return []error{sentinel, err}
}

// Code classifies an error for reporting.
type Code int

// Error codes reported by Describe.
const (
	CodeUnknown Code = iota
	CodeKernelBuild
	CodeResource
	CodeDispatch
	CodeDataFormat
	CodeDeviceUnavailable
	CodeInvalidInput
	CodeCanceled
)

var codeText = map[Code]string{
	CodeUnknown:           "unknown error",
	CodeKernelBuild:       "kernel build failure",
	CodeResource:          "out of resources or invalid buffer",
	CodeDispatch:          "kernel execution failure",
	CodeDataFormat:        "malformed input data",
	CodeDeviceUnavailable: "device not available",
	CodeInvalidInput:      "invalid input",
	CodeCanceled:          "canceled",
}

// String returns the description of c.
func (c Code) String() string {
	if s, ok := codeText[c]; ok {
		return s
	}
	return codeText[CodeUnknown]
}

// Describe classifies err. The first matching kind wins, in taxonomy order.
func Describe(err error) Code {
	switch {
	case err == nil:
		return CodeUnknown
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeCanceled
	case errors.Is(err, ErrKernelBuild):
		return CodeKernelBuild
	case errors.Is(err, ErrResource):
		return CodeResource
	case errors.Is(err, ErrDispatch):
		return CodeDispatch
	case errors.Is(err, ErrDataFormat):
		return CodeDataFormat
	case errors.Is(err, ErrDeviceUnavailable):
		return CodeDeviceUnavailable
	case errors.Is(err, ErrEmptySample), errors.Is(err, ErrInvalidGroupSize), errors.Is(err, ErrUnsupportedDataType):
		return CodeInvalidInput
	default:
		return CodeUnknown
	}
}
