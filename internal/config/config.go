package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/23skdu/longbow-quant/internal/compute"
	"github.com/23skdu/longbow-quant/internal/device"
)

type Config struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	MetricsAddr string `yaml:"metrics_addr"`
	FlightAddr  string `yaml:"flight_addr"`

	// Device names the context rounds run on. Empty selects the
	// accelerator described by the fields below.
	Device          string `yaml:"device"`
	Lanes           int    `yaml:"lanes"`
	ChunkSize       int    `yaml:"chunk_size"`
	MaxKernelLines  int    `yaml:"max_kernel_lines"`
	MaxBufferBytes  int64  `yaml:"max_buffer_bytes"`
	DoublePrecision bool   `yaml:"double_precision"`

	Settings compute.Settings `yaml:"settings"`
}

func (c *Config) Validate() error {
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level: %q (must be debug, info, warn or error)", c.LogLevel)
	}
	switch strings.ToLower(c.LogFormat) {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log_format: %q (must be console or json)", c.LogFormat)
	}
	if c.Lanes <= 0 {
		return fmt.Errorf("invalid lanes: %d (must be positive)", c.Lanes)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("invalid chunk_size: %d (must be positive)", c.ChunkSize)
	}
	if c.MaxKernelLines < 0 {
		return fmt.Errorf("invalid max_kernel_lines: %d (must be non-negative)", c.MaxKernelLines)
	}
	if c.MaxBufferBytes < 0 {
		return fmt.Errorf("invalid max_buffer_bytes: %d (must be non-negative)", c.MaxBufferBytes)
	}
	if c.Settings.RegressionOrder < 0 {
		return fmt.Errorf("invalid regression_order: %d (must be non-negative)", c.Settings.RegressionOrder)
	}
	if c.Settings.SmoothingEps < 0 {
		return fmt.Errorf("invalid smoothing_eps: %g (must be non-negative)", c.Settings.SmoothingEps)
	}
	if c.Settings.UseDoublePrecision && !c.DoublePrecision && c.Device == "" {
		return fmt.Errorf("use_double_precision requires double_precision on the device")
	}
	return nil
}

// DeviceConfig is the accelerator configuration these settings describe.
func (c *Config) DeviceConfig() device.Config {
	return device.Config{
		Lanes:           c.Lanes,
		ChunkSize:       c.ChunkSize,
		MaxKernelLines:  c.MaxKernelLines,
		DoublePrecision: c.DoublePrecision,
		MaxBufferBytes:  c.MaxBufferBytes,
	}
}

// DeviceName resolves Device, falling back to the configured accelerator.
func (c *Config) DeviceName() string {
	if c.Device != "" {
		return c.Device
	}
	d := c.DeviceConfig()
	return device.Framework + "/" + device.Platform + "/" + d.DeviceName()
}

func Default() Config {
	d := device.DefaultConfig()
	return Config{
		LogLevel:    "info",
		LogFormat:   "console",
		MetricsAddr: ":9090",
		FlightAddr:  "localhost:3000",

		Lanes:           d.Lanes,
		ChunkSize:       d.ChunkSize,
		MaxKernelLines:  d.MaxKernelLines,
		DoublePrecision: d.DoublePrecision,

		Settings: compute.DefaultSettings(),
	}
}

// Load reads a YAML file over Default and validates the result. Unknown
// keys are rejected.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
