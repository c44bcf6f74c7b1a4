// Package config reads the YAML run configuration: logging, worker count,
// the optional results store path and run-wide option defaults that apply to
// every case unless the case overrides them.
package config

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/drivelab/gearshift/pkg/models"
)

// RunConfig is the recognised YAML document.
type RunConfig struct {
	LogLevel  string `yaml:"log_level"`
	Workers   int    `yaml:"workers"`
	StorePath string `yaml:"store_path"`

	Options struct {
		DownshiftDirectUse *bool    `yaml:"downshift_direct_use"`
		DownshiftStepLimit *int     `yaml:"downshift_step_limit"`
		MinGearDuration    *int     `yaml:"min_gear_duration"`
		AvailabilityMargin *float64 `yaml:"availability_margin"`
		SafetyMargin       *float64 `yaml:"safety_margin"`
		ApplyDownscaling   *bool    `yaml:"apply_downscaling"`
		DownscaleThreshold *float64 `yaml:"downscale_threshold"`
		DownscaleA1        *float64 `yaml:"downscale_a1"`
		DownscaleB1        *float64 `yaml:"downscale_b1"`
		SpeedCap           *float64 `yaml:"speed_cap"`
	} `yaml:"options"`
}

// Default returns the configuration used when no file is given.
func Default() RunConfig {
	return RunConfig{
		LogLevel: "info",
		Workers:  4,
	}
}

// Load parses a YAML run configuration, filling unset top-level fields from
// the defaults.
func Load(r io.Reader) (RunConfig, error) {
	cfg := Default()

	data, err := io.ReadAll(r)
	if err != nil {
		return RunConfig{}, fmt.Errorf("failed to read run configuration: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return RunConfig{}, fmt.Errorf("failed to parse run configuration: %w", err)
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Workers < 1 {
		cfg.Workers = Default().Workers
	}

	return cfg, nil
}

// LoadFile reads a YAML run configuration from disk.
func LoadFile(path string) (RunConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return RunConfig{}, fmt.Errorf("failed to open run configuration: %w", err)
	}
	defer f.Close()

	return Load(f)
}

// CaseOptions applies the run-wide option overrides on top of the regulation
// defaults.
func (c RunConfig) CaseOptions() models.Options {
	opts := models.DefaultOptions()
	o := c.Options

	if o.DownshiftDirectUse != nil {
		opts.DownshiftDirectUse = *o.DownshiftDirectUse
	}
	if o.DownshiftStepLimit != nil {
		opts.DownshiftStepLimit = *o.DownshiftStepLimit
	}
	if o.MinGearDuration != nil {
		opts.MinGearDuration = *o.MinGearDuration
	}
	if o.AvailabilityMargin != nil {
		opts.AvailabilityMargin = *o.AvailabilityMargin
	}
	if o.SafetyMargin != nil {
		opts.SafetyMargin = *o.SafetyMargin
	}
	if o.ApplyDownscaling != nil {
		opts.ApplyDownscaling = *o.ApplyDownscaling
	}
	if o.DownscaleThreshold != nil {
		opts.DownscaleThreshold = *o.DownscaleThreshold
	}
	if o.DownscaleA1 != nil {
		opts.DownscaleA1 = *o.DownscaleA1
	}
	if o.DownscaleB1 != nil {
		opts.DownscaleB1 = *o.DownscaleB1
	}
	if o.SpeedCap != nil {
		opts.SpeedCap = *o.SpeedCap
	}

	return opts
}
