package pipeline

import (
	"log/slog"

	"github.com/born-ml/gpustats/internal/compute"
	"github.com/born-ml/gpustats/internal/plan"
	"github.com/born-ml/gpustats/internal/telemetry"
)

type settings struct {
	groupSize int
	logger    *slog.Logger
	recorder  *telemetry.Recorder
	program   compute.Program
}

func defaults() settings {
	return settings{
		groupSize: plan.DefaultGroupSize,
		logger:    slog.New(slog.DiscardHandler),
		recorder:  telemetry.Nop(),
		program:   compute.Program{Name: "builtin"},
	}
}

// Option configures a pipeline run.
type Option func(*settings)

// WithGroupSize sets the work-group size. It must be a power of two.
func WithGroupSize(n int) Option {
	return func(s *settings) { s.groupSize = n }
}

// WithLogger sets the logger for stage-level debug output.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTelemetry sets the metrics and tracing recorder.
func WithTelemetry(r *telemetry.Recorder) Option {
	return func(s *settings) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithProgram sets the kernel program built on the device. The default
// program selects the device's built-in kernels.
func WithProgram(p compute.Program) Option {
	return func(s *settings) { s.program = p }
}
