package session

import (
	"math/rand"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/densityfit/grid"
)

// Scenario is a synthetic fitting problem: the target map is simulated from
// Reference and the fit starts from Start.
type Scenario struct {
	Reference []r3.Vec
	Start     []r3.Vec
}

// NewScenario draws n reference coordinates uniformly in the box and perturbs
// them to form the start.
func NewScenario(g *grid.Grid, n int, perturbation float64, rng *rand.Rand) Scenario {
	ref := make([]r3.Vec, n)
	for i := range ref {
		ref[i] = r3.Vec{
			X: rng.Float64() * g.Extent(0),
			Y: rng.Float64() * g.Extent(1),
			Z: rng.Float64() * g.Extent(2),
		}
	}
	return Scenario{Reference: ref, Start: Perturb(g, ref, perturbation, rng)}
}

// Perturb returns a copy of coords with every coordinate displaced uniformly
// in [-perturbation, perturbation] and wrapped back into the box.
func Perturb(g *grid.Grid, coords []r3.Vec, perturbation float64, rng *rand.Rand) []r3.Vec {
	out := make([]r3.Vec, len(coords))
	for i, c := range coords {
		out[i] = r3.Vec{
			X: g.Wrap(c.X+perturbation*(2*rng.Float64()-1), 0),
			Y: g.Wrap(c.Y+perturbation*(2*rng.Float64()-1), 1),
			Z: g.Wrap(c.Z+perturbation*(2*rng.Float64()-1), 2),
		}
	}
	return out
}
