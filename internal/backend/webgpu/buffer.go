//go:build windows

package webgpu

import (
	"math/bits"
	"sync"

	"github.com/go-webgpu/webgpu/wgpu"

	"github.com/born-ml/gpustats/internal/compute"
)

// storageUsage is the usage of every buffer handed out by Alloc: kernels bind
// it as storage, uploads copy into it, reads copy out of it.
const storageUsage = wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst

// buffer is a storage buffer on the GPU.
type buffer struct {
	device   *Device
	gpu      *wgpu.Buffer
	capacity uint64 // size class the GPU buffer was created with
	dtype    compute.DataType
	access   compute.Access
	n        int

	mu    sync.Mutex
	last  *compute.Event
	freed bool
}

var _ compute.Buffer = (*buffer)(nil)

func (b *buffer) Len() int                   { return b.n }
func (b *buffer) DataType() compute.DataType { return b.dtype }
func (b *buffer) Access() compute.Access     { return b.access }

func (b *buffer) bytes() uint64 {
	return uint64(b.n) * uint64(b.dtype.Size()) //nolint:gosec // G115: n is positive
}

func (b *buffer) lastWriter() *compute.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
}

func (b *buffer) setLastWriter(ev *compute.Event) {
	b.mu.Lock()
	b.last = ev
	b.mu.Unlock()
}

func (b *buffer) markFreed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.freed {
		return false
	}
	b.freed = true
	return true
}

func (b *buffer) isFreed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.freed
}

// Pool limits.
const (
	minSizeClass   = 256 // bytes
	maxPooledClass = 64  // buffers kept per size class
)

// bufferPool reuses storage buffers by power-of-two size class. Every run
// allocates the same set of sizes, so repeated runs hit the pool.
type bufferPool struct {
	device *wgpu.Device

	mu      sync.Mutex
	classes map[uint64][]*wgpu.Buffer
	closed  bool

	// Statistics
	created uint64
	hits    uint64
	misses  uint64
}

func newBufferPool(device *wgpu.Device) *bufferPool {
	return &bufferPool{device: device, classes: make(map[uint64][]*wgpu.Buffer)}
}

// sizeClass rounds size up to the next power of two, at least minSizeClass.
func sizeClass(size uint64) uint64 {
	if size <= minSizeClass {
		return minSizeClass
	}
	return 1 << bits.Len64(size-1)
}

// acquire returns a buffer of at least size bytes and its size class.
func (p *bufferPool) acquire(size uint64) (*wgpu.Buffer, uint64) {
	class := sizeClass(size)

	p.mu.Lock()
	defer p.mu.Unlock()

	if free := p.classes[class]; len(free) > 0 {
		buf := free[len(free)-1]
		p.classes[class] = free[:len(free)-1]
		p.hits++
		return buf, class
	}

	p.misses++
	p.created++
	buf := p.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: storageUsage,
		Size:  class,
	})
	return buf, class
}

// release returns buf to its size class, or frees it when the class is full
// or the pool has been cleared.
func (p *bufferPool) release(buf *wgpu.Buffer, class uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || len(p.classes[class]) >= maxPooledClass {
		buf.Release()
		return
	}
	p.classes[class] = append(p.classes[class], buf)
}

// clear frees every pooled buffer. Buffers released later are freed at once.
func (p *bufferPool) clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true

	for class, free := range p.classes {
		for _, buf := range free {
			buf.Release()
		}
		delete(p.classes, class)
	}
}

func (p *bufferPool) stats() (created, hits, misses uint64, pooled int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, free := range p.classes {
		pooled += len(free)
	}
	return p.created, p.hits, p.misses, pooled
}
