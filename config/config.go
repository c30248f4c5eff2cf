// Package config provides configuration loading and access for density fits.
package config

import (
	_ "embed"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pthm-cable/densityfit/grid"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config holds all fit configuration parameters.
type Config struct {
	Grid        GridConfig        `yaml:"grid"`
	Kernel      KernelConfig      `yaml:"kernel"`
	Fit         FitConfig         `yaml:"fit"`
	Parallel    ParallelConfig    `yaml:"parallel"`
	Scenario    ScenarioConfig    `yaml:"scenario"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	SigmaRefine SigmaRefineConfig `yaml:"sigma_refine"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// GridConfig describes the periodic voxel grid.
type GridConfig struct {
	NVoxels   [grid.Axes]int     `yaml:"n_voxels"`
	VoxelSize [grid.Axes]float64 `yaml:"voxel_size"`
	Padding   int                `yaml:"padding"`
}

// KernelConfig holds the point-spread kernel parameters.
type KernelConfig struct {
	Sigma      [grid.Axes]float64 `yaml:"sigma"`
	Multiplier float64            `yaml:"multiplier"`
}

// FitConfig holds optimizer parameters.
type FitConfig struct {
	Iterations  int     `yaml:"iterations"`
	MaxStep     float64 `yaml:"max_step"`
	ReportEvery int     `yaml:"report_every"`
}

// ParallelConfig holds worker pool parameters.
type ParallelConfig struct {
	Workers   int `yaml:"workers"`
	Threshold int `yaml:"threshold"`
}

// ScenarioConfig holds synthetic scenario parameters.
type ScenarioConfig struct {
	Particles    int     `yaml:"particles"`
	Perturbation float64 `yaml:"perturbation"`
	Seed         int64   `yaml:"seed"`
}

// TelemetryConfig holds telemetry parameters.
type TelemetryConfig struct {
	PerfWindow int  `yaml:"perf_window"`
	Plot       bool `yaml:"plot"`
}

// SigmaRefineConfig holds smoothing-width refinement parameters.
type SigmaRefineConfig struct {
	MaxIterations int     `yaml:"max_iterations"`
	MinSigma      float64 `yaml:"min_sigma"`
	MaxSigma      float64 `yaml:"max_sigma"`
	Method        string  `yaml:"method"`
}

// Refinement methods.
const (
	MethodLBFGS = "lbfgs"
	MethodCMAES = "cmaes"
)

// DerivedConfig holds computed values derived from the loaded config.
type DerivedConfig struct {
	Extent          [grid.Axes]float64 // n_voxels * voxel_size per axis
	MinExtent       float64
	RequiredPadding int // smallest padding covering the kernel window
}

// global holds the loaded configuration.
var global *Config

// Init loads configuration from the given path, or uses embedded defaults if path is empty.
// Must be called before Cfg().
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	global = cfg
	return nil
}

// MustInit is like Init but panics on error.
func MustInit(path string) {
	if err := Init(path); err != nil {
		panic(fmt.Sprintf("config: failed to initialize: %v", err))
	}
}

// Cfg returns the global configuration. Panics if Init was not called.
func Cfg() *Config {
	if global == nil {
		panic("config: Cfg() called before Init()")
	}
	return global
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used. The result is validated.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Only overwrites fields present in the file
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.computeDerived()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// computeDerived calculates values derived from loaded config.
func (c *Config) computeDerived() {
	c.Derived.MinExtent = math.Inf(1)
	c.Derived.RequiredPadding = 0
	for a := 0; a < grid.Axes; a++ {
		c.Derived.Extent[a] = float64(c.Grid.NVoxels[a]) * c.Grid.VoxelSize[a]
		c.Derived.MinExtent = math.Min(c.Derived.MinExtent, c.Derived.Extent[a])
		if c.Grid.VoxelSize[a] > 0 {
			need := int(math.Ceil(c.Kernel.Multiplier * c.Kernel.Sigma[a] / c.Grid.VoxelSize[a]))
			c.Derived.RequiredPadding = max(c.Derived.RequiredPadding, need)
		}
	}
}

// Validate checks that every parameter is in range.
func (c *Config) Validate() error {
	for a := 0; a < grid.Axes; a++ {
		if c.Grid.NVoxels[a] <= 0 || c.Grid.VoxelSize[a] <= 0 {
			return fmt.Errorf("%w: grid axis %d needs positive n_voxels and voxel_size", ErrInvalidConfig, a)
		}
		if c.Kernel.Sigma[a] <= 0 {
			return fmt.Errorf("%w: kernel.sigma[%d] = %v", ErrInvalidConfig, a, c.Kernel.Sigma[a])
		}
	}
	if c.Kernel.Multiplier <= 0 {
		return fmt.Errorf("%w: kernel.multiplier = %v", ErrInvalidConfig, c.Kernel.Multiplier)
	}
	if c.Grid.Padding < c.Derived.RequiredPadding {
		return fmt.Errorf("%w: grid.padding %d below required %d", ErrInvalidConfig, c.Grid.Padding, c.Derived.RequiredPadding)
	}
	if c.Fit.Iterations < 0 || c.Fit.ReportEvery < 0 {
		return fmt.Errorf("%w: fit.iterations and fit.report_every must be non-negative", ErrInvalidConfig)
	}
	// A step of a full extent would defeat the single-extent wrap.
	if c.Fit.MaxStep <= 0 || c.Fit.MaxStep >= c.Derived.MinExtent {
		return fmt.Errorf("%w: fit.max_step %v outside (0, %v)", ErrInvalidConfig, c.Fit.MaxStep, c.Derived.MinExtent)
	}
	if c.Parallel.Workers < 0 || c.Parallel.Threshold < 0 {
		return fmt.Errorf("%w: parallel settings must be non-negative", ErrInvalidConfig)
	}
	if c.Scenario.Particles <= 0 || c.Scenario.Perturbation < 0 {
		return fmt.Errorf("%w: scenario needs particles > 0 and perturbation >= 0", ErrInvalidConfig)
	}
	r := c.SigmaRefine
	if r.MaxIterations <= 0 {
		return fmt.Errorf("%w: sigma_refine.max_iterations = %d", ErrInvalidConfig, r.MaxIterations)
	}
	if r.MinSigma <= 0 || r.MaxSigma <= r.MinSigma {
		return fmt.Errorf("%w: sigma_refine bounds [%v, %v]", ErrInvalidConfig, r.MinSigma, r.MaxSigma)
	}
	if r.Method != MethodLBFGS && r.Method != MethodCMAES {
		return fmt.Errorf("%w: sigma_refine.method %q", ErrInvalidConfig, r.Method)
	}
	return nil
}

// NewGrid builds the grid described by the config.
func (c *Config) NewGrid() (*grid.Grid, error) {
	return grid.New(c.Grid.NVoxels, c.Grid.VoxelSize, c.Grid.Padding)
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
