// Package pipeline computes sum, min, max, mean and standard deviation of a
// sample sequence on a compute device.
//
// Stage order:
//
//	pad → allocate/upload → reduce_sum | reduce_min | reduce_max
//	    → read sum, mean = sum / count (host)
//	    → squared_deviation(mean) → reduce_sum(deviations)
//	    → variance = accumulator / count, stddev = sqrt(variance) (host)
//
// The two deviation stages run in float32 for every working type, so int32
// samples far apart do not overflow the squared deviations.
//
// Every reduction runs as a chain of levels: the first level reduces the
// input to one partial per work-group, later levels reduce the partials until
// a single group is left, so inputs of any size yield the full aggregate.
package pipeline

import (
	"context"
	"fmt"

	"github.com/chewxy/math32"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/born-ml/gpustats/internal/compute"
	"github.com/born-ml/gpustats/internal/plan"
	"github.com/born-ml/gpustats/internal/telemetry"
)

// Result holds the statistics of one run.
type Result[T compute.Element] struct {
	Device    string
	DataType  compute.DataType
	Count     int
	GroupSize int
	Groups    int // first-level work-groups
	Padding   int

	Sum  T
	Min  T
	Max  T
	Mean T // truncated for integer working types

	Variance float32 // population variance
	StdDev   float32

	Timings Timings
}

// Run executes the full pipeline over samples on dev. samples is not
// modified. Any failure aborts the run; buffers are released on every path.
func Run[T compute.Element](ctx context.Context, dev compute.Device, samples []T, opts ...Option) (_ *Result[T], err error) {
	s := defaults()
	for _, opt := range opts {
		opt(&s)
	}
	dt := compute.DataTypeOf[T]()
	log := s.logger.With("device", dev.Name(), "dtype", dt.String())

	ctx, run := s.recorder.StartRun(ctx,
		attribute.String(telemetry.AttrDevice, dev.Name()),
		attribute.String(telemetry.AttrDataType, dt.String()),
		attribute.Int(telemetry.AttrGroupSize, s.groupSize),
	)
	defer func() { run.End(ctx, len(samples), err) }()

	levels, err := plan.Levels(len(samples), s.groupSize)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	layout := levels[0]
	log.DebugContext(ctx, "planned work distribution",
		"samples", layout.Count, "padded", layout.PaddedLen, "groups", layout.Groups, "levels", len(levels))

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	program := s.program.Specialize(s.groupSize, dt)
	if err := dev.Build(ctx, program, compute.AllKernels()...); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	deviationProgram := program
	if dt != compute.Float32 {
		deviationProgram = s.program.Specialize(s.groupSize, compute.Float32)
		if err := dev.Build(ctx, deviationProgram, compute.SquaredDeviation, compute.ReduceSum); err != nil {
			return nil, fmt.Errorf("pipeline: %w", err)
		}
	}
	fp, deviationFP := program.Fingerprint(), deviationProgram.Fingerprint()

	bufs, err := allocate(ctx, dev, levels, dt)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	defer func() {
		if err != nil {
			// Let queued kernels drain before their buffers go away.
			_ = dev.Finish(context.WithoutCancel(ctx))
		}
		bufs.release()
	}()

	if err := compute.Upload(ctx, dev, bufs.input, plan.Pad(samples, s.groupSize)); err != nil {
		return nil, fmt.Errorf("pipeline: uploading samples: %w", err)
	}
	if bufs.deviationInput != bufs.input {
		if err := compute.Upload(ctx, dev, bufs.deviationInput, plan.Pad(toFloat32(samples), s.groupSize)); err != nil {
			return nil, fmt.Errorf("pipeline: uploading samples: %w", err)
		}
	}

	// sum, min and max only read the input buffer and write their own chains.
	// The dispatches share the run context: queued kernels outlive g.Wait.
	var (
		sumEvents, minEvents, maxEvents []*compute.Event
		g                               errgroup.Group
	)
	g.Go(func() (err error) {
		sumEvents, err = reduce(ctx, dev, compute.ReduceSum, fp, bufs.input, bufs.sumChain, levels)
		return err
	})
	g.Go(func() (err error) {
		minEvents, err = reduce(ctx, dev, compute.ReduceMin, fp, bufs.input, bufs.minChain, levels)
		return err
	})
	g.Go(func() (err error) {
		maxEvents, err = reduce(ctx, dev, compute.ReduceMax, fp, bufs.input, bufs.maxChain, levels)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	// The deviation kernel needs the mean: this read is the only host
	// synchronization point between stages.
	sum, err := compute.ReadScalar[T](ctx, dev, bufs.sumChain.result)
	if err != nil {
		return nil, fmt.Errorf("pipeline: reading sum: %w", err)
	}
	mean := sum / T(layout.Count)

	devEvent, err := dev.Dispatch(ctx, compute.Launch{
		Kernel:    compute.SquaredDeviation,
		Input:     bufs.deviationInput,
		Output:    bufs.deviations,
		Count:     layout.Count,
		GroupSize: layout.GroupSize,
		Groups:    layout.Groups,
		Mean:      compute.Bits(float32(mean)),
		Program:   deviationFP,
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	devSumEvents, err := reduce(ctx, dev, compute.ReduceSum, deviationFP, bufs.deviations, bufs.deviationChain, levels)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	minVal, err := compute.ReadScalar[T](ctx, dev, bufs.minChain.result)
	if err != nil {
		return nil, fmt.Errorf("pipeline: reading min: %w", err)
	}
	maxVal, err := compute.ReadScalar[T](ctx, dev, bufs.maxChain.result)
	if err != nil {
		return nil, fmt.Errorf("pipeline: reading max: %w", err)
	}
	acc, err := compute.ReadScalar[float32](ctx, dev, bufs.deviationChain.result)
	if err != nil {
		return nil, fmt.Errorf("pipeline: reading deviation sum: %w", err)
	}

	stages := []struct {
		stage  Stage
		events []*compute.Event
	}{
		{StageSum, sumEvents},
		{StageMin, minEvents},
		{StageMax, maxEvents},
		{StageDeviation, []*compute.Event{devEvent}},
		{StageDeviationSum, devSumEvents},
	}
	timings := make(Timings, 0, len(stages))
	for _, st := range stages {
		for _, ev := range st.events {
			if err := ev.Wait(ctx); err != nil {
				return nil, fmt.Errorf("pipeline: %s stage: %w", st.stage, err)
			}
		}
		tm := collect(st.stage, st.events)
		timings = append(timings, tm)
		run.Stage(ctx, string(tm.Stage), tm.Duration, tm.Levels)
		log.DebugContext(ctx, "stage complete", "stage", tm.Stage, "levels", tm.Levels, "duration", tm.Duration)
	}

	variance := acc / float32(layout.Count)
	return &Result[T]{
		Device:    dev.Name(),
		DataType:  dt,
		Count:     layout.Count,
		GroupSize: layout.GroupSize,
		Groups:    layout.Groups,
		Padding:   layout.Padding(),
		Sum:       sum,
		Min:       minVal,
		Max:       maxVal,
		Mean:      mean,
		Variance:  variance,
		StdDev:    math32.Sqrt(variance),
		Timings:   timings,
	}, nil
}

// reduce dispatches every level of a reduction of kernel k over input, using
// the built program with fingerprint program. Level outputs alternate between
// c.partials and c.scratch; the last level writes c.result. Dispatch does not
// wait for the kernels.
func reduce(ctx context.Context, dev compute.Device, k compute.Kernel, program uint64, input compute.Buffer, c chainBuffers, levels []plan.Layout) ([]*compute.Event, error) {
	events := make([]*compute.Event, 0, len(levels))
	in := input
	for i, lv := range levels {
		out := c.partials
		switch {
		case i == len(levels)-1:
			out = c.result
		case i%2 == 1:
			out = c.scratch
		}

		ev, err := dev.Dispatch(ctx, compute.Launch{
			Kernel:    k,
			Input:     in,
			Output:    out,
			Count:     lv.Count,
			GroupSize: lv.GroupSize,
			Groups:    lv.Groups,
			Program:   program,
		})
		if err != nil {
			return events, err
		}
		events = append(events, ev)
		in = out
	}
	return events, nil
}

func toFloat32[T compute.Element](samples []T) []float32 {
	out := make([]float32, len(samples))
	for i, v := range samples {
		out[i] = float32(v)
	}
	return out
}
