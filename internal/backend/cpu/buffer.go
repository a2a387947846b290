package cpu

import (
	"sync"

	"github.com/born-ml/gpustats/internal/compute"
)

// buffer is host memory standing in for device memory.
type buffer struct {
	device *Device
	id     int
	dtype  compute.DataType
	access compute.Access
	n      int
	data   []byte

	mu    sync.Mutex
	last  *compute.Event // last kernel writing into data
	freed bool
}

var _ compute.Buffer = (*buffer)(nil)

func (b *buffer) Len() int                   { return b.n }
func (b *buffer) DataType() compute.DataType { return b.dtype }
func (b *buffer) Access() compute.Access     { return b.access }

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

// markFreed reports whether this call freed the buffer.
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
