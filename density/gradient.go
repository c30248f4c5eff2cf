package density

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/densityfit/grid"
)

// Gradient holds the partial derivatives of the correlation with respect to
// one particle's coordinates and the per-axis smoothing widths.
//
// Sigma is shared by all particles, so SX, SY and SZ are this particle's share
// of the shared-parameter derivative; Evaluation.SigmaGradient sums them.
type Gradient struct {
	X, Y, Z    float64
	SX, SY, SZ float64
}

// Position returns the coordinate components.
func (g Gradient) Position() r3.Vec {
	return r3.Vec{X: g.X, Y: g.Y, Z: g.Z}
}

// Sigma returns the smoothing width components.
func (g Gradient) Sigma() [grid.Axes]float64 {
	return [grid.Axes]float64{g.SX, g.SY, g.SZ}
}

// IsFinite reports whether all six components are finite.
func (g Gradient) IsFinite() bool {
	return isFinite(g.X) && isFinite(g.Y) && isFinite(g.Z) &&
		isFinite(g.SX) && isFinite(g.SY) && isFinite(g.SZ)
}

// Evaluation bundles one pass of the gradient kernel.
type Evaluation struct {
	Correlation float64
	Simulated   *Volume
	Gradients   []Gradient
}

// SigmaGradient returns the derivative of the correlation with respect to the
// shared smoothing width.
func (ev *Evaluation) SigmaGradient() [grid.Axes]float64 {
	var s [grid.Axes]float64
	for _, g := range ev.Gradients {
		s[0] += g.SX
		s[1] += g.SY
		s[2] += g.SZ
	}
	return s
}

// MaxPositionGradient returns the largest absolute coordinate component.
func (ev *Evaluation) MaxPositionGradient() float64 {
	var m float64
	for _, g := range ev.Gradients {
		m = math.Max(m, math.Max(math.Abs(g.X), math.Max(math.Abs(g.Y), math.Abs(g.Z))))
	}
	return m
}

// Gradient returns the per-particle derivatives of the correlation between the
// simulated density of coords and target.
func (e *Engine) Gradient(coords []r3.Vec, target *Volume) ([]Gradient, error) {
	ev, err := e.Evaluate(coords, target)
	if err != nil {
		return nil, err
	}
	return ev.Gradients, nil
}

// Evaluate runs the two-phase kernel. Assembly builds the complete simulated
// map from every particle window; reduction then revisits each window against
// the finished map and the target. Reduction writes only per-particle sums.
func (e *Engine) Evaluate(coords []r3.Vec, target *Volume) (*Evaluation, error) {
	if err := checkShape(target, e.grid); err != nil {
		return nil, err
	}

	sim, err := e.Simulate(coords)
	if err != nil {
		return nil, err
	}

	e.startPhase(PhaseReduction)
	terms, err := newCorrelationTerms(sim.Data, target.Data)
	if err != nil {
		return nil, err
	}

	den1 := terms.den1()
	den2 := terms.ss * den1
	n1, n2 := e.grid.NVoxels[1], e.grid.NVoxels[2]
	grads := make([]Gradient, len(e.bases))

	e.pool.run(e.pool.split(len(e.bases)), func(_ int, s span) {
		for n := s.start; n < s.end; n++ {
			num1, num2 := reduceParticle(&e.bases[n], sim.Data, target.Data, n1, n2)
			var r [6]float64
			for c := range r {
				r[c] = num1[c]/den1 - num2[c]*terms.st/den2
			}
			grads[n] = Gradient{X: r[0], Y: r[1], Z: r[2], SX: r[3], SY: r[4], SZ: r[5]}
		}
	})

	return &Evaluation{
		Correlation: terms.value(),
		Simulated:   sim,
		Gradients:   grads,
	}, nil
}

// reduceParticle returns Σ(∂S/∂θ·T) and Σ(∂S/∂θ·S) over one particle's window
// for θ = x, y, z, σx, σy, σz. ∂S/∂θ perturbs one axis's basis and keeps the
// other two.
func reduceParticle(b *particleBasis, sim, target []float64, n1, n2 int) (num1, num2 [6]float64) {
	bx, by, bz := &b.axes[0], &b.axes[1], &b.axes[2]
	for a, ix := range bx.idx {
		phx, dcx, dsx := bx.phi[a], bx.dc[a], bx.ds[a]
		for c, iy := range by.idx {
			phy, dcy, dsy := by.phi[c], by.dc[c], by.ds[c]
			base := (ix*n1 + iy) * n2

			// z sums against the target and the simulated map
			var tPhi, tDc, tDs, sPhi, sDc, sDs float64
			for k, iz := range bz.idx {
				t, s := target[base+iz], sim[base+iz]
				tPhi += bz.phi[k] * t
				tDc += bz.dc[k] * t
				tDs += bz.ds[k] * t
				sPhi += bz.phi[k] * s
				sDc += bz.dc[k] * s
				sDs += bz.ds[k] * s
			}

			pxy := phx * phy
			num1[0] += dcx * phy * tPhi
			num1[1] += phx * dcy * tPhi
			num1[2] += pxy * tDc
			num1[3] += dsx * phy * tPhi
			num1[4] += phx * dsy * tPhi
			num1[5] += pxy * tDs

			num2[0] += dcx * phy * sPhi
			num2[1] += phx * dcy * sPhi
			num2[2] += pxy * sDc
			num2[3] += dsx * phy * sPhi
			num2[4] += phx * dsy * sPhi
			num2[5] += pxy * sDs
		}
	}
	return num1, num2
}
