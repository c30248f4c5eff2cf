package telemetry

import (
	"sort"

	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"

	"github.com/pthm-cable/densityfit/density"
)

// GradientStats summarizes the per-particle position-gradient magnitudes of
// one evaluation.
type GradientStats struct {
	Mean float64
	P50  float64
	P90  float64
	Max  float64
}

// ComputeGradientStats returns the distribution of |∂corr/∂position| over
// particles.
func ComputeGradientStats(grads []density.Gradient) GradientStats {
	if len(grads) == 0 {
		return GradientStats{}
	}

	mags := make([]float64, len(grads))
	for i, g := range grads {
		mags[i] = r3.Norm(g.Position())
	}
	sort.Float64s(mags)

	return GradientStats{
		Mean: stat.Mean(mags, nil),
		P50:  stat.Quantile(0.5, stat.Empirical, mags, nil),
		P90:  stat.Quantile(0.9, stat.Empirical, mags, nil),
		Max:  mags[len(mags)-1],
	}
}
