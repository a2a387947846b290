package compute

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Access describes how kernels may use a buffer.
type Access int

// Buffer access modes.
const (
	ReadOnly Access = iota
	ReadWrite
)

// String returns a human-readable name for the access mode.
func (a Access) String() string {
	if a == ReadOnly {
		return "read-only"
	}
	return "read-write"
}

// Buffer is device-resident memory holding Len elements of DataType.
type Buffer interface {
	Len() int
	DataType() DataType
	Access() Access
}

// Launch describes one kernel dispatch over Groups work-groups of GroupSize
// lanes. Lanes whose global index is >= Count do not read Input.
type Launch struct {
	Kernel    Kernel
	Input     Buffer
	Output    Buffer
	Count     int
	GroupSize int
	Groups    int

	// Mean is the bit pattern (see Bits) of the mean, used by SquaredDeviation.
	Mean uint32

	// Program is the Fingerprint of the built program to run. Zero selects
	// the program built last.
	Program uint64
}

// Lanes returns the number of lanes dispatched.
func (l Launch) Lanes() int {
	return l.GroupSize * l.Groups
}

// Device executes kernels on buffers it owns.
//
// Dispatch enqueues and returns immediately. A dispatch starts once the last
// writer of its input and output buffers has completed; a queued dispatch
// runs to completion even if the context passed to Dispatch is canceled
// later. Read blocks until the last writer of the buffer has completed;
// Write and Fill are blocking. Implementations are safe for concurrent use,
// including runs of different programs on one device.
type Device interface {
	// Name describes the device, e.g. "cpu (8 workers)".
	Name() string

	// Build compiles program and checks it provides kernels.
	// Failures are *KernelBuildError.
	Build(ctx context.Context, program Program, kernels ...Kernel) error

	// Alloc allocates n elements. Failures are *ResourceError.
	Alloc(n int, dt DataType, access Access) (Buffer, error)

	// Free returns a buffer to the device. Freeing twice is a no-op.
	Free(buf Buffer)

	Write(ctx context.Context, buf Buffer, data []byte) error
	Fill(ctx context.Context, buf Buffer, pattern uint32) error
	Read(ctx context.Context, buf Buffer, dst []byte) error

	// Dispatch enqueues l. Failures to enqueue are *DispatchError; failures
	// during execution are reported by the returned event.
	Dispatch(ctx context.Context, l Launch) (*Event, error)

	// Finish blocks until all enqueued work has completed.
	Finish(ctx context.Context) error

	// Release frees every resource held by the device.
	Release()
}

// Event tracks one dispatched kernel and its device-side timestamps.
type Event struct {
	Kernel Kernel

	once  sync.Once
	done  chan struct{}
	start time.Time
	end   time.Time
	err   error
}

// NewEvent returns a pending event for k.
func NewEvent(k Kernel) *Event {
	return &Event{Kernel: k, done: make(chan struct{})}
}

// Complete marks the event finished. Only the first call has an effect.
func (e *Event) Complete(start, end time.Time, err error) {
	e.once.Do(func() {
		e.start, e.end, e.err = start, end, err
		close(e.done)
	})
}

// Done is closed once the event has completed.
func (e *Event) Done() <-chan struct{} {
	return e.done
}

// Wait blocks until the event completes or ctx is done.
func (e *Event) Wait(ctx context.Context) error {
	if e == nil {
		return nil
	}
	select {
	case <-e.done:
		return e.err
	case <-ctx.Done():
		return fmt.Errorf("compute: waiting for %s: %w", e.Kernel, ctx.Err())
	}
}

// Err returns the execution error, or nil while pending or on success.
func (e *Event) Err() error {
	select {
	case <-e.done:
		return e.err
	default:
		return nil
	}
}

// Start returns the time the device began executing the kernel.
func (e *Event) Start() time.Time {
	<-e.done
	return e.start
}

// End returns the time the device finished executing the kernel.
func (e *Event) End() time.Time {
	<-e.done
	return e.end
}

// Duration returns End - Start, blocking until the event completes.
func (e *Event) Duration() time.Duration {
	<-e.done
	return e.end.Sub(e.start)
}

// Upload copies data into buf.
func Upload[T Element](ctx context.Context, d Device, buf Buffer, data []T) error {
	if err := checkType[T](buf); err != nil {
		return err
	}
	return d.Write(ctx, buf, Bytes(data))
}

// Download reads the first n elements of buf.
func Download[T Element](ctx context.Context, d Device, buf Buffer, n int) ([]T, error) {
	if err := checkType[T](buf); err != nil {
		return nil, err
	}
	out := make([]T, n)
	if n == 0 {
		return out, nil
	}
	if err := d.Read(ctx, buf, Bytes(out)); err != nil {
		return nil, err
	}
	return out, nil
}

// ReadScalar reads element 0 of buf.
func ReadScalar[T Element](ctx context.Context, d Device, buf Buffer) (T, error) {
	var zero T
	v, err := Download[T](ctx, d, buf, 1)
	if err != nil {
		return zero, err
	}
	return v[0], nil
}

func checkType[T Element](buf Buffer) error {
	if want := DataTypeOf[T](); buf.DataType() != want {
		return fmt.Errorf("compute: buffer holds %s, host slice is %s: %w", buf.DataType(), want, ErrUnsupportedDataType)
	}
	return nil
}
