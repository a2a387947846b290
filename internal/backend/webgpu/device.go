//go:build windows

package webgpu

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unsafe"

	"github.com/go-webgpu/webgpu/wgpu"
	"github.com/hyp3rd/ewrap"

	"github.com/born-ml/gpustats/internal/compute"
)

// maxGroupsPerDimension is the WebGPU limit on work-groups per dispatch
// dimension.
const maxGroupsPerDimension = 65535

var (
	errForeignBuffer  = ewrap.New("buffer belongs to another device")
	errFreedBuffer    = ewrap.New("buffer already freed")
	errNotBuilt       = ewrap.New("kernel not built")
	errOutOfRange     = ewrap.New("access out of buffer range")
	errInvalidLaunch  = ewrap.New("invalid launch")
	errDeviceReleased = ewrap.New("device released")
	errNativeFailure  = ewrap.New("native call failed")
)

type pipelineKey struct {
	program uint64
	kernel  compute.Kernel
}

// builtProgram is what a launch is checked against.
type builtProgram struct {
	groupSize int
	dtype     compute.DataType
}

// job is one dispatch waiting in the device queue. ctx carries the values of
// the Dispatch context but is never canceled.
type job struct {
	ctx      context.Context
	launch   compute.Launch
	in, out  *buffer
	pipeline *wgpu.ComputePipeline
	deps     []*compute.Event
	event    *compute.Event
}

// Device is a WebGPU compute device. Dispatches are submitted one at a time
// from a single queue goroutine, in the order they were made, and timed on
// the host from submission to completion.
type Device struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue
	info     AdapterInfo
	log      *slog.Logger

	// Lock order: buildMu, gpu, pool.mu, mu. mu guards the maps and flags
	// below and is never held across a native call.
	buildMu sync.Mutex

	// gpu serializes calls into the native library.
	gpu sync.Mutex

	mu        sync.Mutex
	modules   map[uint64]*wgpu.ShaderModule
	pipelines map[pipelineKey]*wgpu.ComputePipeline
	programs  map[uint64]builtProgram
	last      uint64 // fingerprint of the program built last
	released  bool

	pool *bufferPool

	jobs      chan job
	inflight  sync.WaitGroup
	stopOnce  sync.Once
	queueDone chan struct{}

	memoryStats struct {
		totalAllocatedBytes uint64
		peakMemoryBytes     uint64
		activeBuffers       int64
		allocations         uint64
	}
}

var _ compute.Device = (*Device)(nil)

// New opens the WebGPU device.
// Returns an error wrapping compute.ErrDeviceUnavailable if WebGPU is not
// available or initialization fails.
func New(opts ...Option) (d *Device, err error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	// Recover from panic if wgpu_native library is not found.
	defer func() {
		if r := recover(); r != nil {
			d = nil
			err = fmt.Errorf("webgpu: %w: native library not available: %v", compute.ErrDeviceUnavailable, r)
		}
	}()

	if o.adapterIndex != 0 {
		return nil, fmt.Errorf("webgpu: %w: adapter index %d out of range (1 available)", compute.ErrDeviceUnavailable, o.adapterIndex)
	}

	power := wgpu.PowerPreferenceHighPerformance
	if o.lowPower {
		power = wgpu.PowerPreferenceLowPower
	}

	instance := wgpu.CreateInstance(nil)
	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{PowerPreference: power})
	if err != nil {
		instance.Release()
		return nil, fmt.Errorf("webgpu: %w: requesting adapter: %w", compute.ErrDeviceUnavailable, err)
	}

	device, err := adapter.RequestDevice(nil)
	if err != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("webgpu: %w: requesting device: %w", compute.ErrDeviceUnavailable, err)
	}

	queue := device.GetQueue()
	if queue == nil {
		device.Release()
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("webgpu: %w: no queue", compute.ErrDeviceUnavailable)
	}

	d = &Device{
		instance:  instance,
		adapter:   adapter,
		device:    device,
		queue:     queue,
		info:      adapterInfo(adapter.GetInfo()),
		log:       o.logger,
		modules:   make(map[uint64]*wgpu.ShaderModule),
		pipelines: make(map[pipelineKey]*wgpu.ComputePipeline),
		programs:  make(map[uint64]builtProgram),
		pool:      newBufferPool(device),
		jobs:      make(chan job, 64),
		queueDone: make(chan struct{}),
	}
	go d.runQueue()

	d.log.Debug("webgpu device opened", "adapter", d.info.String(), "backend", d.info.Backend)
	return d, nil
}

// Open opens the WebGPU device as a compute.Device.
func Open(opts ...Option) (compute.Device, error) {
	d, err := New(opts...)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// IsAvailable checks if WebGPU is available on this system.
func IsAvailable() (available bool) {
	// Recover from panic if wgpu_native library is not found.
	defer func() {
		if r := recover(); r != nil {
			available = false
		}
	}()

	instance := wgpu.CreateInstance(nil)
	defer instance.Release()

	adapter, err := instance.RequestAdapter(nil)
	if err != nil {
		return false
	}
	adapter.Release()

	return true
}

// Adapters returns information about the available GPU adapters.
// WebGPU exposes a single adapter per power preference, so the list holds
// the default adapter.
func Adapters() (adapters []AdapterInfo, err error) {
	defer func() {
		if r := recover(); r != nil {
			adapters = nil
			err = fmt.Errorf("webgpu: %w: native library not available: %v", compute.ErrDeviceUnavailable, r)
		}
	}()

	instance := wgpu.CreateInstance(nil)
	defer instance.Release()

	adapter, err := instance.RequestAdapter(nil)
	if err != nil {
		return nil, fmt.Errorf("webgpu: %w: no adapters available: %w", compute.ErrDeviceUnavailable, err)
	}
	defer adapter.Release()

	return []AdapterInfo{adapterInfo(adapter.GetInfo())}, nil
}

func adapterInfo(info wgpu.AdapterInfo) AdapterInfo {
	return AdapterInfo{
		Vendor:       fmt.Sprint(info.Vendor),
		Device:       fmt.Sprint(info.Device),
		Description:  fmt.Sprint(info.Description),
		Architecture: fmt.Sprint(info.Architecture),
		Backend:      fmt.Sprint(info.BackendType),
		Type:         fmt.Sprint(info.AdapterType),
		VendorID:     uint32(info.VendorID),
		DeviceID:     uint32(info.DeviceID),
	}
}

// Name returns the device name.
func (d *Device) Name() string {
	return "webgpu " + d.info.String()
}

// Adapter returns information about the GPU adapter.
func (d *Device) Adapter() AdapterInfo {
	return d.info
}

// Build renders program for its group size and element type, compiles it and
// creates a pipeline per kernel. Built programs are cached by fingerprint. A
// launch runs the program named by its Program field, or the program built
// last when the field is zero. Builds are serialized with each other but not
// with dispatches of programs already built.
func (d *Device) Build(_ context.Context, program compute.Program, kernels ...compute.Kernel) error {
	fail := func(status, log string, err error) error {
		return &compute.KernelBuildError{
			Device:  d.Name(),
			Program: program.Name,
			Status:  status,
			Options: fmt.Sprintf("group_size=%d dtype=%s", program.GroupSize, program.DataType),
			Log:     log,
			Err:     err,
		}
	}

	d.buildMu.Lock()
	defer d.buildMu.Unlock()

	src, err := Render(program)
	if err != nil {
		return fail("invalid program", "", err)
	}
	if missing := missingEntryPoints(src, kernels); len(missing) > 0 {
		return fail("missing entry points", "entry points not declared: "+strings.Join(missing, ", ")+
			"\ndeclared: "+strings.Join(EntryPoints(src), ", "), nil)
	}

	fp := program.Fingerprint()
	d.mu.Lock()
	released := d.released
	module := d.modules[fp]
	d.mu.Unlock()
	if released {
		return fail("failed", "", errDeviceReleased)
	}

	if module == nil {
		module, err = d.compile(src)
		if err != nil {
			return fail("compile error", src, err)
		}
		d.mu.Lock()
		d.modules[fp] = module
		d.mu.Unlock()
	}

	for _, k := range kernels {
		key := pipelineKey{program: fp, kernel: k}
		d.mu.Lock()
		_, ok := d.pipelines[key]
		d.mu.Unlock()
		if ok {
			continue
		}
		pipeline, err := d.createPipeline(module, string(k))
		if err != nil {
			return fail("pipeline error", "entry point "+string(k), err)
		}
		d.mu.Lock()
		d.pipelines[key] = pipeline
		d.mu.Unlock()
	}

	d.mu.Lock()
	d.programs[fp] = builtProgram{groupSize: program.GroupSize, dtype: program.DataType}
	d.last = fp
	d.mu.Unlock()
	d.log.Debug("webgpu program built", "program", program.Name, "group_size", program.GroupSize, "dtype", program.DataType.String())
	return nil
}

func (d *Device) compile(src string) (module *wgpu.ShaderModule, err error) {
	d.gpu.Lock()
	defer d.gpu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			module, err = nil, ewrap.Wrapf(errNativeFailure, "shader module: %v", r)
		}
	}()
	module = d.device.CreateShaderModuleWGSL(src)
	if module == nil {
		return nil, ewrap.Wrap(errNativeFailure, "shader module")
	}
	return module, nil
}

func (d *Device) createPipeline(module *wgpu.ShaderModule, entry string) (pipeline *wgpu.ComputePipeline, err error) {
	d.gpu.Lock()
	defer d.gpu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			pipeline, err = nil, ewrap.Wrapf(errNativeFailure, "compute pipeline: %v", r)
		}
	}()
	// Auto layout (nil layout): bindings are derived from the entry point.
	pipeline = d.device.CreateComputePipelineSimple(nil, module, entry)
	if pipeline == nil {
		return nil, ewrap.Wrap(errNativeFailure, "compute pipeline")
	}
	return pipeline, nil
}

// Alloc allocates a storage buffer of n elements. Buffers come from a pool;
// callers must zero them with Fill or Write before reading.
func (d *Device) Alloc(n int, dt compute.DataType, access compute.Access) (_ compute.Buffer, err error) {
	if n <= 0 {
		return nil, &compute.ResourceError{Op: "alloc", Bytes: n, Err: errOutOfRange}
	}
	size := uint64(n) * uint64(dt.Size()) //nolint:gosec // G115: n is positive

	d.mu.Lock()
	released := d.released
	d.mu.Unlock()
	if released {
		return nil, &compute.ResourceError{Op: "alloc", Bytes: int(size), Err: errDeviceReleased} //nolint:gosec // G115
	}

	d.gpu.Lock()
	defer d.gpu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			err = &compute.ResourceError{Op: "alloc", Bytes: int(size), Err: ewrap.Wrapf(errNativeFailure, "%v", r)} //nolint:gosec // G115
		}
	}()
	if d.device == nil {
		return nil, &compute.ResourceError{Op: "alloc", Bytes: int(size), Err: errDeviceReleased} //nolint:gosec // G115
	}

	gpuBuf, class := d.pool.acquire(size)
	if gpuBuf == nil {
		return nil, &compute.ResourceError{Op: "alloc", Bytes: int(size), Err: compute.ErrOutOfMemory} //nolint:gosec // G115
	}
	d.trackBufferAllocation(class)

	return &buffer{
		device:   d,
		gpu:      gpuBuf,
		capacity: class,
		dtype:    dt,
		access:   access,
		n:        n,
	}, nil
}

// Free returns buf to the pool once its last writer has completed.
func (d *Device) Free(b compute.Buffer) {
	buf, ok := b.(*buffer)
	if !ok || buf == nil || buf.device != d {
		return
	}
	if !buf.markFreed() {
		return
	}

	recycle := func() {
		d.gpu.Lock()
		d.pool.release(buf.gpu, buf.capacity)
		d.gpu.Unlock()
		d.mu.Lock()
		d.trackBufferRelease(buf.capacity)
		d.mu.Unlock()
	}
	last := buf.lastWriter()
	if last == nil {
		recycle()
		return
	}
	select {
	case <-last.Done():
		recycle()
		return
	default:
	}
	go func() {
		<-last.Done()
		recycle()
	}()
}

// Write uploads data into the start of buf through a mapped staging buffer.
func (d *Device) Write(ctx context.Context, b compute.Buffer, data []byte) error {
	buf, err := d.own(b)
	if err != nil {
		return &compute.ResourceError{Op: "write", Bytes: len(data), Err: err}
	}
	if uint64(len(data)) > buf.bytes() || len(data)%4 != 0 {
		return &compute.ResourceError{Op: "write", Bytes: len(data), Err: errOutOfRange}
	}
	if len(data) == 0 {
		return nil
	}
	if err := buf.lastWriter().Wait(ctx); err != nil {
		return err
	}

	d.gpu.Lock()
	defer d.gpu.Unlock()
	if d.device == nil {
		return &compute.ResourceError{Op: "write", Bytes: len(data), Err: errDeviceReleased}
	}

	size := uint64(len(data))
	staging := d.createBuffer(data, wgpu.BufferUsageCopySrc)
	defer staging.Release()

	encoder := d.device.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(staging, 0, buf.gpu, 0, size)
	cmdBuffer := encoder.Finish(nil)
	d.queue.Submit(cmdBuffer)
	return nil
}

// Fill sets every element of buf to the 32-bit pattern.
func (d *Device) Fill(ctx context.Context, b compute.Buffer, pattern uint32) error {
	buf, err := d.own(b)
	if err != nil {
		return &compute.ResourceError{Op: "fill", Err: err}
	}
	data := make([]byte, buf.bytes())
	for i := 0; i < len(data); i += 4 {
		binary.LittleEndian.PutUint32(data[i:], pattern)
	}
	return d.Write(ctx, buf, data)
}

// Read copies the start of buf into dst after its last writer has completed.
func (d *Device) Read(ctx context.Context, b compute.Buffer, dst []byte) error {
	buf, err := d.own(b)
	if err != nil {
		return &compute.ResourceError{Op: "read", Bytes: len(dst), Err: err}
	}
	if uint64(len(dst)) > buf.bytes() || len(dst)%4 != 0 {
		return &compute.ResourceError{Op: "read", Bytes: len(dst), Err: errOutOfRange}
	}
	if len(dst) == 0 {
		return nil
	}
	if err := buf.lastWriter().Wait(ctx); err != nil {
		return err
	}

	d.gpu.Lock()
	defer d.gpu.Unlock()
	if d.device == nil {
		return &compute.ResourceError{Op: "read", Bytes: len(dst), Err: errDeviceReleased}
	}

	data, err := d.readBuffer(buf.gpu, uint64(len(dst)))
	if err != nil {
		return &compute.ResourceError{Op: "read", Bytes: len(dst), Err: err}
	}
	copy(dst, data)
	return nil
}

// Dispatch validates l and queues it. The returned event completes once the
// kernel has finished on the GPU. ctx bounds only the wait for queue space;
// a queued kernel runs even if ctx is canceled afterwards.
func (d *Device) Dispatch(ctx context.Context, l compute.Launch) (*compute.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, &compute.DispatchError{Kernel: l.Kernel, Err: err}
	}
	in, out, pipeline, err := d.validate(l)
	if err != nil {
		return nil, &compute.DispatchError{Kernel: l.Kernel, Err: err}
	}

	// Release waits for inflight, so the queue outlives every job counted here.
	d.mu.Lock()
	if d.released {
		d.mu.Unlock()
		return nil, &compute.DispatchError{Kernel: l.Kernel, Err: errDeviceReleased}
	}
	d.inflight.Add(1)
	d.mu.Unlock()

	ev := compute.NewEvent(l.Kernel)
	j := job{
		ctx:      context.WithoutCancel(ctx),
		launch:   l,
		in:       in,
		out:      out,
		pipeline: pipeline,
		deps:     []*compute.Event{in.lastWriter(), out.lastWriter()},
		event:    ev,
	}

	select {
	case d.jobs <- j:
	case <-ctx.Done():
		d.inflight.Done()
		return nil, &compute.DispatchError{Kernel: l.Kernel, Err: ctx.Err()}
	}
	out.setLastWriter(ev)
	return ev, nil
}

// runQueue executes queued dispatches in order until the device is released.
func (d *Device) runQueue() {
	for {
		select {
		case j := <-d.jobs:
			d.execute(j)
			d.inflight.Done()
		case <-d.queueDone:
			return
		}
	}
}

func (d *Device) execute(j job) {
	for _, dep := range j.deps {
		if err := dep.Wait(j.ctx); err != nil {
			now := time.Now()
			j.event.Complete(now, now, &compute.DispatchError{Kernel: j.launch.Kernel, Err: err})
			return
		}
	}

	start, end, err := d.submit(j)
	if err != nil {
		err = &compute.DispatchError{Kernel: j.launch.Kernel, Err: err}
	}
	j.event.Complete(start, end, err)
}

// submit encodes one compute pass, submits it and blocks until the GPU has
// finished: the first word of the output is copied to a mapped staging
// buffer in the same submission, and mapping it waits for the queue.
func (d *Device) submit(j job) (start, end time.Time, err error) {
	d.gpu.Lock()
	defer d.gpu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = ewrap.Wrapf(errNativeFailure, "%v", r)
		}
	}()

	l := j.launch
	params := make([]byte, 16)
	binary.LittleEndian.PutUint32(params[0:4], uint32(l.Count))   //nolint:gosec // G115: validated
	binary.LittleEndian.PutUint32(params[4:8], uint32(l.Groups))  //nolint:gosec // G115: validated
	binary.LittleEndian.PutUint32(params[8:12], l.Mean)
	bufferParams := d.createUniformBuffer(params)
	defer bufferParams.Release()

	bindGroupLayout := j.pipeline.GetBindGroupLayout(0)
	bindGroup := d.device.CreateBindGroupSimple(bindGroupLayout, []wgpu.BindGroupEntry{
		wgpu.BufferBindingEntry(0, j.in.gpu, 0, j.in.bytes()),
		wgpu.BufferBindingEntry(1, j.out.gpu, 0, j.out.bytes()),
		wgpu.BufferBindingEntry(2, bufferParams, 0, 16),
	})
	defer bindGroup.Release()

	staging := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
		Size:  4,
	})
	defer staging.Release()

	encoder := d.device.CreateCommandEncoder(nil)
	computePass := encoder.BeginComputePass(nil)
	computePass.SetPipeline(j.pipeline)
	computePass.SetBindGroup(0, bindGroup, nil)
	computePass.DispatchWorkgroups(uint32(l.Groups), 1, 1) //nolint:gosec // G115: validated
	computePass.End()
	encoder.CopyBufferToBuffer(j.out.gpu, 0, staging, 0, 4)
	cmdBuffer := encoder.Finish(nil)

	start = time.Now()
	d.queue.Submit(cmdBuffer)
	if err := staging.MapAsync(d.device, wgpu.MapModeRead, 0, 4); err != nil {
		now := time.Now()
		return start, now, fmt.Errorf("waiting for %s: %w", l.Kernel, err)
	}
	end = time.Now()
	staging.Unmap()
	return start, end, nil
}

// Finish waits for every queued dispatch.
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
		return fmt.Errorf("webgpu: finish: %w", ctx.Err())
	}
}

// Release releases all WebGPU resources.
// Must be called when the device is no longer needed.
func (d *Device) Release() {
	d.mu.Lock()
	if d.released {
		d.mu.Unlock()
		return
	}
	d.released = true
	d.mu.Unlock()

	d.inflight.Wait()
	d.stopOnce.Do(func() { close(d.queueDone) })

	d.buildMu.Lock()
	defer d.buildMu.Unlock()
	d.gpu.Lock()
	defer d.gpu.Unlock()

	d.pool.clear()

	d.mu.Lock()
	pipelines, modules := d.pipelines, d.modules
	d.pipelines, d.modules, d.programs = nil, nil, nil
	d.mu.Unlock()

	for _, p := range pipelines {
		p.Release()
	}
	for _, m := range modules {
		m.Release()
	}

	if d.queue != nil {
		d.queue.Release()
		d.queue = nil
	}
	if d.device != nil {
		d.device.Release()
		d.device = nil
	}
	if d.adapter != nil {
		d.adapter.Release()
		d.adapter = nil
	}
	if d.instance != nil {
		d.instance.Release()
		d.instance = nil
	}
}

// MemoryStats represents GPU memory usage statistics.
type MemoryStats struct {
	// Bytes currently held by live buffers, in size-class units.
	TotalAllocatedBytes uint64
	// Peak memory usage in bytes
	PeakMemoryBytes uint64
	// Number of currently active buffers
	ActiveBuffers int64
	// Number of Alloc calls since creation
	Allocations uint64
	// Buffer pool statistics
	PoolCreated   uint64
	PoolHits      uint64
	PoolMisses    uint64
	PooledBuffers int
}

// MemoryStats returns current GPU memory usage statistics.
func (d *Device) MemoryStats() MemoryStats {
	d.mu.Lock()
	stats := MemoryStats{
		TotalAllocatedBytes: d.memoryStats.totalAllocatedBytes,
		PeakMemoryBytes:     d.memoryStats.peakMemoryBytes,
		ActiveBuffers:       d.memoryStats.activeBuffers,
		Allocations:         d.memoryStats.allocations,
	}
	d.mu.Unlock()

	stats.PoolCreated, stats.PoolHits, stats.PoolMisses, stats.PooledBuffers = d.pool.stats()
	return stats
}

func (d *Device) trackBufferAllocation(size uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

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

func (d *Device) validate(l compute.Launch) (in, out *buffer, pipeline *wgpu.ComputePipeline, err error) {
	d.mu.Lock()
	fp := l.Program
	if fp == 0 {
		fp = d.last
	}
	prog, ok := d.programs[fp]
	if ok {
		pipeline = d.pipelines[pipelineKey{program: fp, kernel: l.Kernel}]
	}
	d.mu.Unlock()
	if pipeline == nil {
		return nil, nil, nil, errNotBuilt
	}

	if in, err = d.own(l.Input); err != nil {
		return nil, nil, nil, err
	}
	if out, err = d.own(l.Output); err != nil {
		return nil, nil, nil, err
	}

	switch {
	case l.GroupSize != prog.groupSize:
		return nil, nil, nil, ewrap.Wrapf(errInvalidLaunch, "group size %d, program built for %d", l.GroupSize, prog.groupSize)
	case l.Groups <= 0 || l.Groups > maxGroupsPerDimension:
		return nil, nil, nil, ewrap.Wrapf(errInvalidLaunch, "%d work-groups (max %d)", l.Groups, maxGroupsPerDimension)
	case l.Count <= 0 || l.Count > l.Lanes():
		return nil, nil, nil, ewrap.Wrapf(errInvalidLaunch, "count %d over %d groups", l.Count, l.Groups)
	case in.dtype != prog.dtype || out.dtype != prog.dtype:
		return nil, nil, nil, ewrap.Wrapf(errInvalidLaunch, "input %s, output %s, program built for %s", in.dtype, out.dtype, prog.dtype)
	case in.n < l.Count:
		return nil, nil, nil, ewrap.Wrapf(errOutOfRange, "input holds %d of %d elements", in.n, l.Count)
	case out.access != compute.ReadWrite:
		return nil, nil, nil, ewrap.Wrapf(errInvalidLaunch, "output is %s", out.access)
	case in == out:
		return nil, nil, nil, ewrap.Wrap(errInvalidLaunch, "input aliases output")
	}

	need := l.Groups
	if !l.Kernel.IsReduction() {
		need = l.Lanes()
	}
	if out.n < need {
		return nil, nil, nil, ewrap.Wrapf(errOutOfRange, "output holds %d of %d elements", out.n, need)
	}
	return in, out, pipeline, nil
}

// createBuffer creates a GPU buffer holding data (must hold gpu).
func (d *Device) createBuffer(data []byte, usage wgpu.BufferUsage) *wgpu.Buffer {
	size := uint64(len(data))

	buffer := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            usage,
		Size:             size,
		MappedAtCreation: wgpu.True,
	})

	mappedPtr := buffer.GetMappedRange(0, size)
	//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
	mappedSlice := unsafe.Slice((*byte)(mappedPtr), size)
	copy(mappedSlice, data)
	buffer.Unmap()

	return buffer
}

// createUniformBuffer creates a uniform buffer with 16-byte alignment (must hold gpu).
func (d *Device) createUniformBuffer(data []byte) *wgpu.Buffer {
	size := uint64(len(data))
	alignedSize := (size + 15) &^ 15

	buffer := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
		Size:             alignedSize,
		MappedAtCreation: wgpu.True,
	})

	mappedPtr := buffer.GetMappedRange(0, alignedSize)
	//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
	mappedSlice := unsafe.Slice((*byte)(mappedPtr), alignedSize)
	copy(mappedSlice, data)
	buffer.Unmap()

	return buffer
}

// readBuffer copies size bytes of src to the host through a staging buffer,
// since storage buffers can't be mapped directly (must hold gpu).
func (d *Device) readBuffer(src *wgpu.Buffer, size uint64) (_ []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ewrap.Wrapf(errNativeFailure, "%v", r)
		}
	}()

	staging := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
		Size:  size,
	})
	defer staging.Release()

	encoder := d.device.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(src, 0, staging, 0, size)
	cmdBuffer := encoder.Finish(nil)
	d.queue.Submit(cmdBuffer)

	if err := staging.MapAsync(d.device, wgpu.MapModeRead, 0, size); err != nil {
		return nil, fmt.Errorf("failed to map staging buffer: %w", err)
	}

	mappedPtr := staging.GetMappedRange(0, size)
	//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
	mappedSlice := unsafe.Slice((*byte)(mappedPtr), size)
	result := make([]byte, size)
	copy(result, mappedSlice)
	staging.Unmap()

	return result, nil
}
