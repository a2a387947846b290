// Package report renders pipeline results as text or JSON.
package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/born-ml/gpustats/internal/compute"
	"github.com/born-ml/gpustats/internal/pipeline"
)

// StageTiming is the device time of one stage.
type StageTiming struct {
	Stage      string `json:"stage"`
	Label      string `json:"-"`
	DurationNS int64  `json:"duration_ns"`
	Levels     int    `json:"levels"`
}

// Summary is the type-erased form of a pipeline result.
type Summary struct {
	Device    string `json:"device"`
	DataType  string `json:"dtype"`
	Count     int    `json:"count"`
	GroupSize int    `json:"group_size"`
	Groups    int    `json:"groups"`
	Padding   int    `json:"padding"`

	Sum      float64 `json:"sum"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	Mean     float64 `json:"mean"`
	Variance float64 `json:"variance"`
	StdDev   float64 `json:"stddev"`

	Timings []StageTiming `json:"timings"`
}

var stageLabels = map[pipeline.Stage]string{
	pipeline.StageSum:          "Sum",
	pipeline.StageMin:          "Min",
	pipeline.StageMax:          "Max",
	pipeline.StageDeviation:    "Deviation variation",
	pipeline.StageDeviationSum: "Deviation summing",
}

// FromResult converts res to a Summary.
func FromResult[T compute.Element](res *pipeline.Result[T]) Summary {
	s := Summary{
		Device:    res.Device,
		DataType:  res.DataType.String(),
		Count:     res.Count,
		GroupSize: res.GroupSize,
		Groups:    res.Groups,
		Padding:   res.Padding,
		Sum:       float64(res.Sum),
		Min:       float64(res.Min),
		Max:       float64(res.Max),
		Mean:      float64(res.Mean),
		Variance:  float64(res.Variance),
		StdDev:    float64(res.StdDev),
	}
	for _, tm := range res.Timings {
		s.Timings = append(s.Timings, StageTiming{
			Stage:      string(tm.Stage),
			Label:      stageLabels[tm.Stage],
			DurationNS: tm.Duration.Nanoseconds(),
			Levels:     tm.Levels,
		})
	}
	return s
}

// format prints v with the shortest float32 representation; integral
// values print without a fraction.
func format(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 32)
}

// Text writes the statistics and per-stage timings, one per line.
func Text(w io.Writer, s Summary) error {
	ew := &errWriter{w: w}
	ew.printf("Sum = %s\n", format(s.Sum))
	ew.printf("Min = %s\n", format(s.Min))
	ew.printf("Max = %s\n", format(s.Max))
	ew.printf("Mean = %s\n", format(s.Mean))
	ew.printf("Deviation = %s\n", format(s.StdDev))
	for _, tm := range s.Timings {
		label := tm.Label
		if label == "" {
			label = tm.Stage
		}
		ew.printf("%s execution time [ns]:%d\n", label, tm.DurationNS)
	}
	return ew.err
}

// JSON writes s as an indented JSON document.
func JSON(w io.Writer, s Summary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	return nil
}

// Write renders s as kind ("text" or "json").
func Write(w io.Writer, s Summary, kind string) error {
	switch kind {
	case "json":
		return JSON(w, s)
	case "text", "":
		return Text(w, s)
	default:
		return fmt.Errorf("report: unknown format %q", kind)
	}
}

// errWriter keeps the first write error.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}
	if _, err := fmt.Fprintf(ew.w, format, args...); err != nil {
		ew.err = fmt.Errorf("report: %w", err)
	}
}
