// Package cpu implements a software compute device. Kernels run with the
// same work-group model as a GPU: fixed-size groups, a scoped local buffer
// per group, and lockstep halving steps. Work-groups of one dispatch are
// spread over goroutines.
package cpu

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hyp3rd/ewrap"

	"github.com/born-ml/gpustats/internal/compute"
	"github.com/born-ml/gpustats/internal/parallel"
)

var (
	errForeignBuffer  = ewrap.New("buffer belongs to another device")
	errFreedBuffer    = ewrap.New("buffer already freed")
	errNotBuilt       = ewrap.New("kernel not built")
	errOutOfRange     = ewrap.New("access out of buffer range")
	errInvalidLaunch  = ewrap.New("invalid launch")
	errDeviceReleased = ewrap.New("device released")
)

// Device is the software compute device.
type Device struct {
	name     string
	par      parallel.Config
	maxBytes uint64 // 0 = unlimited

	mu       sync.Mutex
	nextID   int
	kernels  map[compute.Kernel]bool
	programs map[uint64]bool
	released bool

	inflight sync.WaitGroup

	memoryStats struct {
		totalAllocatedBytes uint64
		peakMemoryBytes     uint64
		activeBuffers       int64
		allocations         uint64
	}
}

// Option configures a Device.
type Option func(*Device)

// WithParallel sets how work-groups are spread over goroutines.
func WithParallel(cfg parallel.Config) Option {
	return func(d *Device) { d.par = cfg }
}

// WithMemoryLimit caps the bytes that may be allocated at once.
func WithMemoryLimit(bytes uint64) Option {
	return func(d *Device) { d.maxBytes = bytes }
}

// New creates a software device.
func New(opts ...Option) *Device {
	d := &Device{
		par:      parallel.DefaultConfig(),
		kernels:  make(map[compute.Kernel]bool),
		programs: make(map[uint64]bool),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.name = fmt.Sprintf("cpu (%d workers)", max(d.par.NumWorkers, 1))
	return d
}

// Name returns the device name.
func (d *Device) Name() string {
	return d.name
}

// Build registers the kernels of program. The cpu device executes built-in
// Go kernels, so a program is valid when every requested entry point exists.
func (d *Device) Build(_ context.Context, program compute.Program, kernels ...compute.Kernel) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.released {
		return &compute.KernelBuildError{Device: d.name, Program: program.Name, Status: "failed", Err: errDeviceReleased}
	}

	var missing []string
	for _, k := range kernels {
		if _, ok := builtins[k]; !ok {
			missing = append(missing, string(k))
		}
	}
	if len(missing) > 0 {
		return &compute.KernelBuildError{
			Device:  d.name,
			Program: program.Name,
			Status:  "failed",
			Options: program.Options,
			Log:     fmt.Sprintf("unknown entry points: %s\navailable: %s", strings.Join(missing, ", "), strings.Join(builtinNames(), ", ")),
		}
	}

	for _, k := range kernels {
		d.kernels[k] = true
	}
	d.programs[program.Fingerprint()] = true
	return nil
}

// Built reports whether program has been built on the device.
func (d *Device) Built(program compute.Program) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.programs[program.Fingerprint()]
}

// Alloc allocates a zeroed buffer of n elements.
func (d *Device) Alloc(n int, dt compute.DataType, access compute.Access) (compute.Buffer, error) {
	if n <= 0 {
		return nil, &compute.ResourceError{Op: "alloc", Bytes: n, Err: errOutOfRange}
	}
	size := uint64(n) * uint64(dt.Size()) //nolint:gosec // G115: n is positive

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.released {
		return nil, &compute.ResourceError{Op: "alloc", Bytes: int(size), Err: errDeviceReleased} //nolint:gosec // G115
	}
	if d.maxBytes > 0 && d.memoryStats.totalAllocatedBytes+size > d.maxBytes {
		return nil, &compute.ResourceError{Op: "alloc", Bytes: int(size), Err: compute.ErrOutOfMemory} //nolint:gosec // G115
	}

	d.nextID++
	d.trackBufferAllocation(size)
	return &buffer{
		device: d,
		id:     d.nextID,
		dtype:  dt,
		access: access,
		n:      n,
		data:   make([]byte, size),
	}, nil
}

// Free untracks buf. Kernels still running keep their own reference.
func (d *Device) Free(b compute.Buffer) {
	buf, ok := b.(*buffer)
	if !ok || buf == nil || buf.device != d {
		return
	}
	if !buf.markFreed() {
		return
	}
	d.mu.Lock()
	d.trackBufferRelease(uint64(len(buf.data)))
	d.mu.Unlock()
}

// Write copies data into the start of buf once its last writer has finished.
func (d *Device) Write(ctx context.Context, b compute.Buffer, data []byte) error {
	buf, err := d.own(b)
	if err != nil {
		return &compute.ResourceError{Op: "write", Bytes: len(data), Err: err}
	}
	if len(data) > len(buf.data) {
		return &compute.ResourceError{Op: "write", Bytes: len(data), Err: errOutOfRange}
	}
	if err := buf.lastWriter().Wait(ctx); err != nil {
		return err
	}
	copy(buf.data, data)
	return nil
}

// Fill sets every element of buf to the 32-bit pattern.
func (d *Device) Fill(ctx context.Context, b compute.Buffer, pattern uint32) error {
	buf, err := d.own(b)
	if err != nil {
		return &compute.ResourceError{Op: "fill", Err: err}
	}
	if err := buf.lastWriter().Wait(ctx); err != nil {
		return err
	}
	words := compute.View[int32](buf.data)
	v := int32(pattern) //nolint:gosec // G115: bit reinterpretation
	for i := range words {
		words[i] = v
	}
	return nil
}

// Read copies the start of buf into dst after its last writer has finished.
func (d *Device) Read(ctx context.Context, b compute.Buffer, dst []byte) error {
	buf, err := d.own(b)
	if err != nil {
		return &compute.ResourceError{Op: "read", Bytes: len(dst), Err: err}
	}
	if len(dst) > len(buf.data) {
		return &compute.ResourceError{Op: "read", Bytes: len(dst), Err: errOutOfRange}
	}
	if err := buf.lastWriter().Wait(ctx); err != nil {
		return err
	}
	copy(dst, buf.data)
	return nil
}

// Dispatch validates l and runs it on its own goroutine once its
// dependencies have completed. ctx only bounds the call itself: a queued
// kernel runs even if ctx is canceled afterwards.
func (d *Device) Dispatch(ctx context.Context, l compute.Launch) (*compute.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, &compute.DispatchError{Kernel: l.Kernel, Err: err}
	}
	in, out, err := d.validate(l)
	if err != nil {
		return nil, &compute.DispatchError{Kernel: l.Kernel, Err: err}
	}

	d.mu.Lock()
	if d.released {
		d.mu.Unlock()
		return nil, &compute.DispatchError{Kernel: l.Kernel, Err: errDeviceReleased}
	}
	d.inflight.Add(1)
	d.mu.Unlock()

	deps := []*compute.Event{in.lastWriter(), out.lastWriter()}
	ev := compute.NewEvent(l.Kernel)
	out.setLastWriter(ev)

	run := builtins[l.Kernel]
	queued := context.WithoutCancel(ctx)
	go func() {
		defer d.inflight.Done()

		for _, dep := range deps {
			if err := dep.Wait(queued); err != nil {
				now := time.Now()
				ev.Complete(now, now, &compute.DispatchError{Kernel: l.Kernel, Err: err})
				return
			}
		}

		start := time.Now()
		err := run(in, out, l, d.par)
		end := time.Now()
		if err != nil {
			err = &compute.DispatchError{Kernel: l.Kernel, Err: err}
		}
		ev.Complete(start, end, err)
	}()

	return ev, nil
}

// Finish waits for every dispatched kernel.
func (d *Device) Finish(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("cpu: finish: %w", ctx.Err())
	}
}

// Release waits for running kernels and drops all state.
func (d *Device) Release() {
	d.mu.Lock()
	d.released = true
	d.mu.Unlock()

	d.inflight.Wait()

	d.mu.Lock()
	defer d.mu.Unlock()
	d.kernels = map[compute.Kernel]bool{}
	d.programs = map[uint64]bool{}
}

// MemoryStats represents device memory usage statistics.
type MemoryStats struct {
	// Bytes currently allocated.
	TotalAllocatedBytes uint64
	// Peak memory usage in bytes.
	PeakMemoryBytes uint64
	// Number of currently active buffers.
	ActiveBuffers int64
	// Number of allocations since creation.
	Allocations uint64
}

// MemoryStats returns current memory usage statistics.
func (d *Device) MemoryStats() MemoryStats {
	d.mu.Lock()
	defer d.mu.Unlock()

	return MemoryStats{
		TotalAllocatedBytes: d.memoryStats.totalAllocatedBytes,
		PeakMemoryBytes:     d.memoryStats.peakMemoryBytes,
		ActiveBuffers:       d.memoryStats.activeBuffers,
		Allocations:         d.memoryStats.allocations,
	}
}

// trackBufferAllocation records an allocation (must hold mu).
func (d *Device) trackBufferAllocation(size uint64) {
	d.memoryStats.totalAllocatedBytes += size
	d.memoryStats.activeBuffers++
	d.memoryStats.allocations++

	if d.memoryStats.totalAllocatedBytes > d.memoryStats.peakMemoryBytes {
		d.memoryStats.peakMemoryBytes = d.memoryStats.totalAllocatedBytes
	}
}

// trackBufferRelease records a release (must hold mu).
func (d *Device) trackBufferRelease(size uint64) {
	if d.memoryStats.totalAllocatedBytes >= size {
		d.memoryStats.totalAllocatedBytes -= size
	}
	d.memoryStats.activeBuffers--
}

func (d *Device) own(b compute.Buffer) (*buffer, error) {
	buf, ok := b.(*buffer)
	if !ok || buf == nil || buf.device != d {
		return nil, errForeignBuffer
	}
	if buf.isFreed() {
		return nil, errFreedBuffer
	}
	return buf, nil
}

func (d *Device) validate(l compute.Launch) (in, out *buffer, err error) {
	d.mu.Lock()
	built := d.kernels[l.Kernel] && (l.Program == 0 || d.programs[l.Program])
	d.mu.Unlock()
	if !built {
		return nil, nil, errNotBuilt
	}

	if in, err = d.own(l.Input); err != nil {
		return nil, nil, err
	}
	if out, err = d.own(l.Output); err != nil {
		return nil, nil, err
	}

	switch {
	case l.GroupSize <= 0 || l.GroupSize&(l.GroupSize-1) != 0:
		return nil, nil, ewrap.Wrapf(errInvalidLaunch, "group size %d", l.GroupSize)
	case l.Groups <= 0 || l.Count <= 0 || l.Count > l.Lanes():
		return nil, nil, ewrap.Wrapf(errInvalidLaunch, "count %d over %d groups", l.Count, l.Groups)
	case in.dtype != out.dtype:
		return nil, nil, ewrap.Wrapf(errInvalidLaunch, "input %s, output %s", in.dtype, out.dtype)
	case in.n < l.Count:
		return nil, nil, ewrap.Wrapf(errOutOfRange, "input holds %d of %d elements", in.n, l.Count)
	case out.access != compute.ReadWrite:
		return nil, nil, ewrap.Wrapf(errInvalidLaunch, "output is %s", out.access)
	case in == out:
		return nil, nil, ewrap.Wrap(errInvalidLaunch, "input aliases output")
	}

	need := l.Groups
	if !l.Kernel.IsReduction() {
		need = l.Lanes()
	}
	if out.n < need {
		return nil, nil, ewrap.Wrapf(errOutOfRange, "output holds %d of %d elements", out.n, need)
	}
	return in, out, nil
}

func builtinNames() []string {
	names := make([]string, 0, len(builtins))
	for k := range builtins {
		names = append(names, string(k))
	}
	sort.Strings(names)
	return names
}
