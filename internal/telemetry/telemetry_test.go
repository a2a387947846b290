package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// fakeMeter records counter and histogram values by instrument name.
type fakeMeter struct {
	metricnoop.Meter

	mu     sync.Mutex
	values map[string][]int64
}

func (m *fakeMeter) record(name string, v int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[name] = append(m.values[name], v)
}

func (m *fakeMeter) get(name string) []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[name]
}

func (m *fakeMeter) Int64Counter(name string, _ ...metric.Int64CounterOption) (metric.Int64Counter, error) {
	return fakeCounter{meter: m, name: name}, nil
}

func (m *fakeMeter) Int64Histogram(name string, _ ...metric.Int64HistogramOption) (metric.Int64Histogram, error) {
	return fakeHistogram{meter: m, name: name}, nil
}

type fakeCounter struct {
	metricnoop.Int64Counter
	meter *fakeMeter
	name  string
}

func (c fakeCounter) Add(_ context.Context, incr int64, _ ...metric.AddOption) {
	c.meter.record(c.name, incr)
}

type fakeHistogram struct {
	metricnoop.Int64Histogram
	meter *fakeMeter
	name  string
}

func (h fakeHistogram) Record(_ context.Context, v int64, _ ...metric.RecordOption) {
	h.meter.record(h.name, v)
}

type fakeProvider struct {
	metricnoop.MeterProvider
	meter *fakeMeter
}

func (p fakeProvider) Meter(string, ...metric.MeterOption) metric.Meter {
	return p.meter
}

func newFake(t *testing.T) (*Recorder, *fakeMeter) {
	t.Helper()
	m := &fakeMeter{values: map[string][]int64{}}
	r, err := New(fakeProvider{meter: m}, tracenoop.NewTracerProvider())
	require.NoError(t, err)
	return r, m
}

func TestRecorder_SuccessfulRun(t *testing.T) {
	r, m := newFake(t)

	ctx, run := r.StartRun(context.Background(), attribute.String(AttrDevice, "cpu"))
	run.Stage(ctx, "sum", 1500*time.Nanosecond, 2)
	run.Stage(ctx, "deviation", 700*time.Nanosecond, 1)
	run.End(ctx, 4096, nil)

	assert.Equal(t, []int64{1}, m.get("gpustats.runs"))
	assert.Equal(t, []int64{4096}, m.get("gpustats.samples"))
	assert.Equal(t, []int64{1500, 700}, m.get("gpustats.stage.duration"))
	assert.Empty(t, m.get("gpustats.failures"))
}

func TestRecorder_FailedRun(t *testing.T) {
	r, m := newFake(t)

	ctx, run := r.StartRun(context.Background())
	run.End(ctx, 10, errors.New("boom"))

	assert.Equal(t, []int64{1}, m.get("gpustats.failures"))
	assert.Empty(t, m.get("gpustats.samples"))
}

func TestNop(t *testing.T) {
	r := Nop()
	ctx, run := r.StartRun(context.Background(), attribute.Int(AttrGroupSize, 256))
	assert.NotPanics(t, func() {
		run.Stage(ctx, "max", time.Millisecond, 1)
		run.End(ctx, 1, nil)
	})
}
