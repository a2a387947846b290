package pipeline

import (
	"time"

	"github.com/born-ml/gpustats/internal/compute"
)

// Stage names a timed step of the pipeline.
type Stage string

// Pipeline stages, in report order.
const (
	StageSum          Stage = "sum"
	StageMin          Stage = "min"
	StageMax          Stage = "max"
	StageDeviation    Stage = "deviation"
	StageDeviationSum Stage = "deviation-sum"
)

// Stages lists every stage in report order.
func Stages() []Stage {
	return []Stage{StageSum, StageMin, StageMax, StageDeviation, StageDeviationSum}
}

// Timing is the device-measured execution time of one stage. A reduction
// that needed several levels reports the sum of its levels.
type Timing struct {
	Stage    Stage
	Duration time.Duration
	Levels   int
}

// Timings holds one Timing per stage, in report order.
type Timings []Timing

// Get returns the timing of stage, or false if it was not recorded.
func (t Timings) Get(stage Stage) (Timing, bool) {
	for _, tm := range t {
		if tm.Stage == stage {
			return tm, true
		}
	}
	return Timing{}, false
}

// Total returns the summed device time of all stages.
func (t Timings) Total() time.Duration {
	var total time.Duration
	for _, tm := range t {
		total += tm.Duration
	}
	return total
}

// collect sums the durations of completed events. Callers must have waited
// for every event.
func collect(stage Stage, events []*compute.Event) Timing {
	tm := Timing{Stage: stage, Levels: len(events)}
	for _, ev := range events {
		tm.Duration += ev.Duration()
	}
	return tm
}
