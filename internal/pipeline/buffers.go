package pipeline

import (
	"context"
	"fmt"

	"github.com/born-ml/gpustats/internal/compute"
	"github.com/born-ml/gpustats/internal/plan"
)

// chainBuffers holds the outputs of one multi-level reduction: level 0
// writes partials, deeper levels ping-pong between scratch and partials, and
// the single-group level writes result.
type chainBuffers struct {
	partials compute.Buffer
	scratch  compute.Buffer
	result   compute.Buffer
}

// buffers owns every device allocation of one run.
type buffers struct {
	dev   compute.Device
	owned []compute.Buffer

	input compute.Buffer // padded samples, read-only

	// The deviation stage always works in float32: squared deviations of
	// int32 samples overflow int32 long before they overflow float32.
	// deviationInput is input for float32 runs and a float32 copy otherwise.
	deviationInput compute.Buffer
	deviations     compute.Buffer // squared deviations, padded length

	sumChain, minChain, maxChain chainBuffers
	deviationChain               chainBuffers // result is the deviation accumulator
}

// allocate creates and zero-fills all buffers for layout. On failure every
// buffer allocated so far is freed.
func allocate(ctx context.Context, dev compute.Device, levels []plan.Layout, dt compute.DataType) (_ *buffers, err error) {
	b := &buffers{dev: dev}
	defer func() {
		if err != nil {
			b.release()
		}
	}()

	first := levels[0]
	if b.input, err = b.alloc(first.PaddedLen, dt, compute.ReadOnly); err != nil {
		return nil, fmt.Errorf("input buffer: %w", err)
	}
	b.deviationInput = b.input
	if dt != compute.Float32 {
		if b.deviationInput, err = b.alloc(first.PaddedLen, compute.Float32, compute.ReadOnly); err != nil {
			return nil, fmt.Errorf("deviation input buffer: %w", err)
		}
	}
	if b.deviations, err = b.alloc(first.PaddedLen, compute.Float32, compute.ReadWrite); err != nil {
		return nil, fmt.Errorf("deviation buffer: %w", err)
	}

	scratchLen := 1
	if len(levels) > 1 {
		scratchLen = levels[1].Groups
	}
	chains := []struct {
		c  *chainBuffers
		dt compute.DataType
	}{
		{&b.sumChain, dt},
		{&b.minChain, dt},
		{&b.maxChain, dt},
		{&b.deviationChain, compute.Float32},
	}
	for _, ch := range chains {
		c := ch.c
		if c.partials, err = b.alloc(first.Groups, ch.dt, compute.ReadWrite); err != nil {
			return nil, fmt.Errorf("partials buffer: %w", err)
		}
		if c.scratch, err = b.alloc(scratchLen, ch.dt, compute.ReadWrite); err != nil {
			return nil, fmt.Errorf("scratch buffer: %w", err)
		}
		if c.result, err = b.alloc(1, ch.dt, compute.ReadWrite); err != nil {
			return nil, fmt.Errorf("result buffer: %w", err)
		}
	}

	for _, buf := range b.owned {
		if buf.Access() != compute.ReadWrite {
			continue
		}
		if err = dev.Fill(ctx, buf, 0); err != nil {
			return nil, fmt.Errorf("zeroing buffers: %w", err)
		}
	}
	return b, nil
}

func (b *buffers) alloc(n int, dt compute.DataType, access compute.Access) (compute.Buffer, error) {
	buf, err := b.dev.Alloc(n, dt, access)
	if err != nil {
		return nil, err
	}
	b.owned = append(b.owned, buf)
	return buf, nil
}

// release frees every owned buffer. It is safe to call more than once.
func (b *buffers) release() {
	for _, buf := range b.owned {
		b.dev.Free(buf)
	}
	b.owned = nil
}
