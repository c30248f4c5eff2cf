package main

import (
	"github.com/pthm-cable/densityfit/config"
	"github.com/pthm-cable/densityfit/grid"
)

// ParamSpec defines a single optimizable parameter.
type ParamSpec struct {
	Name    string  // Human-readable name
	Path    string  // Config path for logging
	Min     float64 // Lower bound
	Max     float64 // Upper bound
	Default float64 // Starting value
}

// ParamVector holds the set of all optimizable parameters.
type ParamVector struct {
	Specs []ParamSpec
}

// NewParamVector creates the smoothing-width parameters, bounded by the
// sigma_refine section and starting from the kernel width.
func NewParamVector(cfg *config.Config) *ParamVector {
	names := [grid.Axes]string{"sigma_x", "sigma_y", "sigma_z"}
	pv := &ParamVector{}
	for a, name := range names {
		pv.Specs = append(pv.Specs, ParamSpec{
			Name:    name,
			Path:    "kernel.sigma",
			Min:     cfg.SigmaRefine.MinSigma,
			Max:     cfg.SigmaRefine.MaxSigma,
			Default: cfg.Kernel.Sigma[a],
		})
	}
	return pv
}

// Dim returns the number of parameters.
func (pv *ParamVector) Dim() int {
	return len(pv.Specs)
}

// DefaultVector returns the starting parameter values as a slice.
func (pv *ParamVector) DefaultVector() []float64 {
	v := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		v[i] = spec.Default
	}
	return v
}

// Clamp ensures all values are within bounds.
func (pv *ParamVector) Clamp(v []float64) []float64 {
	clamped := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		clamped[i] = min(max(v[i], spec.Min), spec.Max)
	}
	return clamped
}

// Sigma returns the clamped values as a smoothing width.
func (pv *ParamVector) Sigma(v []float64) [grid.Axes]float64 {
	c := pv.Clamp(v)
	return [grid.Axes]float64{c[0], c[1], c[2]}
}

// ApplyToConfig applies parameter values to a Config struct.
func (pv *ParamVector) ApplyToConfig(cfg *config.Config, values []float64) {
	cfg.Kernel.Sigma = pv.Sigma(values)
}
