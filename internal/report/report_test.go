package report

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/gpustats/internal/backend/cpu"
	"github.com/born-ml/gpustats/internal/compute"
	"github.com/born-ml/gpustats/internal/pipeline"
)

func sampleSummary() Summary {
	return Summary{
		Device:    "cpu (1 workers)",
		DataType:  "float32",
		Count:     8,
		GroupSize: 8,
		Groups:    1,
		Sum:       31,
		Min:       1,
		Max:       9,
		Mean:      3.875,
		Variance:  6.609375,
		StdDev:    2.5,
		Timings: []StageTiming{
			{Stage: "sum", Label: "Sum", DurationNS: 1200, Levels: 1},
			{Stage: "min", Label: "Min", DurationNS: 900, Levels: 1},
			{Stage: "max", Label: "Max", DurationNS: 950, Levels: 1},
			{Stage: "deviation", Label: "Deviation variation", DurationNS: 400, Levels: 1},
			{Stage: "deviation-sum", Label: "Deviation summing", DurationNS: 1000, Levels: 1},
		},
	}
}

func TestText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Text(&buf, sampleSummary()))

	want := strings.Join([]string{
		"Sum = 31",
		"Min = 1",
		"Max = 9",
		"Mean = 3.875",
		"Deviation = 2.5",
		"Sum execution time [ns]:1200",
		"Min execution time [ns]:900",
		"Max execution time [ns]:950",
		"Deviation variation execution time [ns]:400",
		"Deviation summing execution time [ns]:1000",
	}, "\n") + "\n"
	assert.Equal(t, want, buf.String())
}

func TestJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sampleSummary(), "json"))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "float32", got["dtype"])
	assert.InDelta(t, 3.875, got["mean"], 1e-9)

	timings, ok := got["timings"].([]any)
	require.True(t, ok)
	require.Len(t, timings, 5)
	first := timings[0].(map[string]any)
	assert.Equal(t, "sum", first["stage"])
	assert.NotContains(t, first, "Label")
}

func TestWrite_UnknownFormat(t *testing.T) {
	err := Write(&bytes.Buffer{}, Summary{}, "xml")
	assert.ErrorContains(t, err, "xml")
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestText_WriteError(t *testing.T) {
	err := Text(failingWriter{}, sampleSummary())
	assert.ErrorContains(t, err, "disk full")
}

func TestFromResult(t *testing.T) {
	dev := cpu.New()
	defer dev.Release()

	res, err := pipeline.Run(context.Background(), dev, []int32{3, 1, 4, 1, 5, 9, 2, 6}, pipeline.WithGroupSize(8))
	require.NoError(t, err)

	s := FromResult(res)
	assert.Equal(t, compute.Int32.String(), s.DataType)
	assert.Equal(t, float64(31), s.Sum)
	assert.Equal(t, float64(3), s.Mean)
	require.Len(t, s.Timings, len(pipeline.Stages()))
	assert.Equal(t, "Deviation summing", s.Timings[4].Label)

	var buf bytes.Buffer
	require.NoError(t, Text(&buf, s))
	assert.Contains(t, buf.String(), "Mean = 3\n")
}

func TestFromResult_Timings(t *testing.T) {
	res := &pipeline.Result[float32]{
		DataType: compute.Float32,
		Timings:  pipeline.Timings{{Stage: pipeline.StageMax, Duration: 3 * time.Microsecond, Levels: 2}},
	}
	s := FromResult(res)
	require.Len(t, s.Timings, 1)
	assert.Equal(t, StageTiming{Stage: "max", Label: "Max", DurationNS: 3000, Levels: 2}, s.Timings[0])
}
