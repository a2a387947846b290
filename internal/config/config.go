// Package config holds the run configuration of the gpustats command:
// defaults, YAML files and validation.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/hyp3rd/ewrap"
	"gopkg.in/yaml.v3"

	"github.com/born-ml/gpustats/internal/compute"
	"github.com/born-ml/gpustats/internal/plan"
)

// Devices that can run the pipeline.
const (
	DeviceCPU    = "cpu"
	DeviceWebGPU = "webgpu"
)

// Report formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = ewrap.New("invalid configuration")

// Config configures one run.
type Config struct {
	// Device selects the compute device: "cpu" or "webgpu".
	Device string `yaml:"device"`

	// AdapterIndex and DeviceIndex select the GPU. WebGPU exposes one
	// adapter with one device, so only 0 opens.
	AdapterIndex int `yaml:"adapter_index"`
	DeviceIndex  int `yaml:"device_index"`

	// Workers caps the goroutines of the cpu device. 0 = one per CPU.
	Workers int `yaml:"workers"`

	// GroupSize is the work-group size, a power of two.
	GroupSize int `yaml:"group_size"`

	// DataType is the working type: "float32" or "int32".
	DataType string `yaml:"dtype"`

	// KernelSource is an optional WGSL file replacing the built-in kernels.
	KernelSource string `yaml:"kernel_source"`

	// Input is the sample file; "-" reads stdin.
	Input string `yaml:"input"`

	// SkipMalformed drops unparsable records instead of failing.
	SkipMalformed bool `yaml:"skip_malformed"`

	Format   string `yaml:"format"`    // text or json
	LogLevel string `yaml:"log_level"` // debug, info, warn, error
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Device:    DeviceCPU,
		GroupSize: plan.DefaultGroupSize,
		DataType:  compute.Float32.String(),
		Input:     "temp_lincolnshire_short.txt",
		Format:    FormatText,
		LogLevel:  "warn",
	}
}

// Load reads a YAML file over the defaults. Unknown keys are rejected.
func Load(path string) (Config, error) {
	//nolint:gosec // G304: path comes from the command line
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, ewrap.Wrap(ErrInvalidConfig, err.Error())
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every field.
func (c *Config) Validate() error {
	c.Device = strings.ToLower(strings.TrimSpace(c.Device))
	switch c.Device {
	case DeviceCPU, DeviceWebGPU:
	default:
		return ewrap.Wrapf(ErrInvalidConfig, "device %q (want %s or %s)", c.Device, DeviceCPU, DeviceWebGPU)
	}

	if c.AdapterIndex < 0 || c.DeviceIndex < 0 {
		return ewrap.Wrapf(ErrInvalidConfig, "negative adapter/device index %d/%d", c.AdapterIndex, c.DeviceIndex)
	}
	if c.Workers < 0 {
		return ewrap.Wrapf(ErrInvalidConfig, "workers %d", c.Workers)
	}
	if err := plan.ValidateGroupSize(c.GroupSize); err != nil {
		return ewrap.Wrap(ErrInvalidConfig, err.Error())
	}
	if _, err := compute.ParseDataType(c.DataType); err != nil {
		return ewrap.Wrap(ErrInvalidConfig, err.Error())
	}
	if c.Input == "" {
		return ewrap.Wrap(ErrInvalidConfig, "input is empty")
	}

	c.Format = strings.ToLower(c.Format)
	if c.Format != FormatText && c.Format != FormatJSON {
		return ewrap.Wrapf(ErrInvalidConfig, "format %q (want %s or %s)", c.Format, FormatText, FormatJSON)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Type returns the parsed working type.
func (c *Config) Type() compute.DataType {
	dt, err := compute.ParseDataType(c.DataType)
	if err != nil {
		return compute.Float32
	}
	return dt
}

// Level returns the parsed log level.
func (c *Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, ewrap.Wrapf(ErrInvalidConfig, "log level %q", c.LogLevel)
	}
	return lvl, nil
}

// Program returns the kernel program for the run: the contents of
// KernelSource, or the device built-ins when it is empty.
func (c *Config) Program() (compute.Program, error) {
	if c.KernelSource == "" {
		return compute.Program{Name: "builtin"}, nil
	}
	//nolint:gosec // G304: path comes from configuration
	src, err := os.ReadFile(c.KernelSource)
	if err != nil {
		return compute.Program{}, fmt.Errorf("config: kernel source: %w", err)
	}
	return compute.Program{Name: c.KernelSource, Source: string(src)}, nil
}
