// Package main provides the gpustats CLI: it reads a sample file and prints
// its sum, minimum, maximum, mean and standard deviation, computed with
// parallel reductions on the selected compute device.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"go.opentelemetry.io/otel"

	"github.com/born-ml/gpustats/internal/backend/cpu"
	"github.com/born-ml/gpustats/internal/backend/webgpu"
	"github.com/born-ml/gpustats/internal/compute"
	"github.com/born-ml/gpustats/internal/config"
	"github.com/born-ml/gpustats/internal/parallel"
	"github.com/born-ml/gpustats/internal/pipeline"
	"github.com/born-ml/gpustats/internal/report"
	"github.com/born-ml/gpustats/internal/sample"
	"github.com/born-ml/gpustats/internal/telemetry"
)

const version = "v0.1.0-dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the command and returns the process exit code.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("gpustats", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: gpustats [flags] [input]\n\nFlags:\n")
		fs.PrintDefaults()
	}

	configPath := fs.String("config", "", "YAML configuration file")
	device := fs.String("device", "", "Compute device: cpu or webgpu")
	adapter := fs.Int("adapter", 0, "GPU adapter index")
	deviceIndex := fs.Int("device-index", 0, "Device index on the adapter")
	workers := fs.Int("workers", 0, "cpu device goroutines (0 = one per CPU)")
	groupSize := fs.Int("group", 0, "Work-group size, a power of two")
	dtype := fs.String("dtype", "", "Working type: float32 or int32")
	kernels := fs.String("kernels", "", "WGSL file replacing the built-in kernels")
	input := fs.String("input", "", "Sample file (- for stdin)")
	format := fs.String("format", "", "Report format: text or json")
	logLevel := fs.String("log-level", "", "Log level: debug, info, warn, error")
	skip := fs.Bool("skip-malformed", false, "Skip unparsable records instead of failing")
	list := fs.Bool("list", false, "List compute devices and exit")
	showVersion := fs.Bool("version", false, "Show version and exit")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *showVersion {
		fmt.Fprintf(stdout, "gpustats %s\n", version)
		return 0
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(stderr, "ERROR: %v\n", err)
			return 2
		}
		cfg = loaded
	}

	// Flags given on the command line override the file.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "device":
			cfg.Device = *device
		case "adapter":
			cfg.AdapterIndex = *adapter
		case "device-index":
			cfg.DeviceIndex = *deviceIndex
		case "workers":
			cfg.Workers = *workers
		case "group":
			cfg.GroupSize = *groupSize
		case "dtype":
			cfg.DataType = *dtype
		case "kernels":
			cfg.KernelSource = *kernels
		case "input":
			cfg.Input = *input
		case "format":
			cfg.Format = *format
		case "log-level":
			cfg.LogLevel = *logLevel
		case "skip-malformed":
			cfg.SkipMalformed = *skip
		}
	})
	if fs.NArg() > 0 {
		cfg.Input = fs.Arg(0)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 2
	}

	lvl, _ := cfg.Level()
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: lvl}))

	if *list {
		listDevices(stdout)
		return 0
	}

	if err := execute(ctx, cfg, stdin, stdout, logger); err != nil {
		printError(stderr, err)
		return 1
	}
	return 0
}

func execute(ctx context.Context, cfg config.Config, stdin io.Reader, stdout io.Writer, logger *slog.Logger) error {
	dev, err := openDevice(cfg, logger)
	if err != nil {
		return err
	}
	defer dev.Release()

	fmt.Fprintf(stdout, "Running on %s\n", dev.Name())

	program, err := cfg.Program()
	if err != nil {
		return err
	}
	recorder, err := telemetry.New(otel.GetMeterProvider(), otel.GetTracerProvider())
	if err != nil {
		return err
	}
	opts := []pipeline.Option{
		pipeline.WithGroupSize(cfg.GroupSize),
		pipeline.WithLogger(logger),
		pipeline.WithTelemetry(recorder),
		pipeline.WithProgram(program),
	}

	var summary report.Summary
	switch cfg.Type() {
	case compute.Int32:
		summary, err = compute1[int32](ctx, dev, cfg, stdin, logger, opts)
	default:
		summary, err = compute1[float32](ctx, dev, cfg, stdin, logger, opts)
	}
	if err != nil {
		return err
	}
	return report.Write(stdout, summary, cfg.Format)
}

// compute1 reads the samples as T and runs the pipeline once.
func compute1[T compute.Element](ctx context.Context, dev compute.Device, cfg config.Config, stdin io.Reader, logger *slog.Logger, opts []pipeline.Option) (report.Summary, error) {
	sampleOpts := []sample.Option{sample.WithLogger(logger)}
	if cfg.SkipMalformed {
		sampleOpts = append(sampleOpts, sample.SkipMalformed())
	}

	var (
		samples []T
		err     error
	)
	if cfg.Input == "-" {
		samples, err = sample.Collect(sample.Parse[T](stdin, sampleOpts...))
	} else {
		samples, err = sample.ReadFile[T](cfg.Input, sampleOpts...)
	}
	if err != nil {
		return report.Summary{}, err
	}
	logger.Info("samples loaded", "count", len(samples), "dtype", compute.DataTypeOf[T]().String())

	res, err := pipeline.Run(ctx, dev, samples, opts...)
	if err != nil {
		return report.Summary{}, err
	}
	return report.FromResult(res), nil
}

func openDevice(cfg config.Config, logger *slog.Logger) (compute.Device, error) {
	switch cfg.Device {
	case config.DeviceWebGPU:
		if cfg.DeviceIndex != 0 {
			return nil, fmt.Errorf("webgpu: %w: device index %d out of range (1 available)", compute.ErrDeviceUnavailable, cfg.DeviceIndex)
		}
		return webgpu.Open(webgpu.WithAdapterIndex(cfg.AdapterIndex), webgpu.WithLogger(logger))
	default:
		if cfg.AdapterIndex != 0 || cfg.DeviceIndex != 0 {
			return nil, fmt.Errorf("cpu: %w: adapter/device index %d/%d out of range (1 available)",
				compute.ErrDeviceUnavailable, cfg.AdapterIndex, cfg.DeviceIndex)
		}
		par := parallel.DefaultConfig()
		switch {
		case cfg.Workers == 1:
			par = parallel.Sequential()
		case cfg.Workers > 1:
			par.Enabled = true
			par.NumWorkers = cfg.Workers
		}
		return cpu.New(cpu.WithParallel(par)), nil
	}
}

func listDevices(w io.Writer) {
	fmt.Fprintf(w, "0: %s\n", cpu.New().Name())

	adapters, err := webgpu.Adapters()
	if err != nil {
		fmt.Fprintf(w, "webgpu: %v\n", err)
		return
	}
	for i, a := range adapters {
		fmt.Fprintf(w, "webgpu %d: %s [%s, %s]\n", i, a, a.Backend, a.Type)
	}
}

// printError reports err once. Build failures also print the compiler
// diagnostics.
func printError(w io.Writer, err error) {
	var berr *compute.KernelBuildError
	if errors.As(err, &berr) {
		fmt.Fprintf(w, "Build Status: %s\n", berr.Status)
		fmt.Fprintf(w, "Build Options:\t%s\n", berr.Options)
		fmt.Fprintf(w, "Build Log:\t %s\n", berr.Log)
	}
	fmt.Fprintf(w, "ERROR: %v, %s\n", err, compute.Describe(err))
}
