package density

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/densityfit/grid"
)

// Brute-force references used to check the windowed kernel. They evaluate the
// basis over every padded cell and fold the dense result.

type denseAxis struct {
	phi, dc, ds []float64
}

// paddedAxis evaluates the CDF differences and their derivatives over every
// padded cell, written in terms of the standard normal density.
func paddedAxis(g *grid.Grid, axis int, c, sigma float64) denseAxis {
	b := g.Boundaries(axis)
	cells := len(b) - 1
	out := denseAxis{
		phi: make([]float64, cells),
		dc:  make([]float64, cells),
		ds:  make([]float64, cells),
	}

	cdf := func(x float64) float64 { return 0.5 * (1 + math.Erf((x-c)/(sigma*math.Sqrt2))) }
	pdf := func(x float64) float64 {
		z := (x - c) / sigma
		return math.Exp(-z*z/2) / math.Sqrt(2*math.Pi)
	}
	dcdf := func(x float64) float64 { return -pdf(x) / sigma }
	dsdf := func(x float64) float64 { return -(x - c) / (sigma * sigma) * pdf(x) }

	for i := 0; i < cells; i++ {
		out.phi[i] = cdf(b[i+1]) - cdf(b[i])
		out.dc[i] = dcdf(b[i+1]) - dcdf(b[i])
		out.ds[i] = dsdf(b[i+1]) - dsdf(b[i])
	}
	return out
}

func outerAdd(dst, x, y, z []float64) {
	ny, nz := len(y), len(z)
	for i := range x {
		for j := range y {
			xy := x[i] * y[j]
			row := dst[(i*ny+j)*nz : (i*ny+j+1)*nz]
			floats.AddScaled(row, xy, z)
		}
	}
}

func denseSimulate(t testing.TB, g *grid.Grid, sigma [grid.Axes]float64, coords []r3.Vec) *Volume {
	t.Helper()
	buf := make([]float64, g.PaddedVolume())
	for _, c := range coords {
		x := paddedAxis(g, 0, c.X, sigma[0])
		y := paddedAxis(g, 1, c.Y, sigma[1])
		z := paddedAxis(g, 2, c.Z, sigma[2])
		outerAdd(buf, x.phi, y.phi, z.phi)
	}
	folded, err := g.Fold(buf)
	if err != nil {
		t.Fatalf("Fold: %v", err)
	}
	return &Volume{Shape: g.NVoxels, Data: folded}
}

// denseGradient builds the six derivative maps of every particle densely and
// applies the quotient rule with full-volume reductions.
func denseGradient(t *testing.T, g *grid.Grid, sigma [grid.Axes]float64, coords []r3.Vec, target *Volume) []Gradient {
	t.Helper()
	sim := denseSimulate(t, g, sigma, coords)
	st := floats.Dot(sim.Data, target.Data)
	ss := floats.Dot(sim.Data, sim.Data)
	tt := floats.Dot(target.Data, target.Data)
	den1 := math.Sqrt(ss) * math.Sqrt(tt)
	den2 := ss * den1

	vol := g.PaddedVolume()
	grads := make([]Gradient, len(coords))
	for n, c := range coords {
		x := paddedAxis(g, 0, c.X, sigma[0])
		y := paddedAxis(g, 1, c.Y, sigma[1])
		z := paddedAxis(g, 2, c.Z, sigma[2])

		stack := make([]float64, 6*vol)
		outerAdd(stack[0*vol:1*vol], x.dc, y.phi, z.phi)
		outerAdd(stack[1*vol:2*vol], x.phi, y.dc, z.phi)
		outerAdd(stack[2*vol:3*vol], x.phi, y.phi, z.dc)
		outerAdd(stack[3*vol:4*vol], x.ds, y.phi, z.phi)
		outerAdd(stack[4*vol:5*vol], x.phi, y.ds, z.phi)
		outerAdd(stack[5*vol:6*vol], x.phi, y.phi, z.ds)

		folded, err := g.FoldStack(stack, 6)
		if err != nil {
			t.Fatalf("FoldStack: %v", err)
		}

		var r [6]float64
		for k := range r {
			dS := folded[k*g.Len() : (k+1)*g.Len()]
			num1 := floats.Dot(dS, target.Data)
			num2 := floats.Dot(dS, sim.Data) * st
			r[k] = num1/den1 - num2/den2
		}
		grads[n] = Gradient{X: r[0], Y: r[1], Z: r[2], SX: r[3], SY: r[4], SZ: r[5]}
	}
	return grads
}

// finiteDifference returns central differences of the correlation with respect
// to every particle coordinate.
func finiteDifference(t *testing.T, e *Engine, coords []r3.Vec, target *Volume, delta float64) []r3.Vec {
	t.Helper()
	work := make([]r3.Vec, len(coords))
	copy(work, coords)

	corr := func() float64 {
		c, err := e.Correlation(work, target)
		if err != nil {
			t.Fatalf("Correlation: %v", err)
		}
		return c
	}

	out := make([]r3.Vec, len(coords))
	for n := range coords {
		for a := 0; a < grid.Axes; a++ {
			p := axisPtr(&work[n], a)
			orig := *p
			*p = orig + delta
			plus := corr()
			*p = orig - delta
			minus := corr()
			*p = orig
			*axisPtr(&out[n], a) = (plus - minus) / (2 * delta)
		}
	}
	return out
}

func axisPtr(v *r3.Vec, axis int) *float64 {
	switch axis {
	case 0:
		return &v.X
	case 1:
		return &v.Y
	default:
		return &v.Z
	}
}

func randomCoords(rng *rand.Rand, g *grid.Grid, n int) []r3.Vec {
	coords := make([]r3.Vec, n)
	for i := range coords {
		coords[i] = r3.Vec{
			X: rng.Float64() * g.Extent(0),
			Y: rng.Float64() * g.Extent(1),
			Z: rng.Float64() * g.Extent(2),
		}
	}
	return coords
}

func randomVolume(rng *rand.Rand, shape [grid.Axes]int) *Volume {
	v := NewVolume(shape)
	for i := range v.Data {
		v.Data[i] = rng.Float64()
	}
	return v
}

func newTestEngine(t *testing.T, g *grid.Grid, sigma [grid.Axes]float64, opts Options) *Engine {
	t.Helper()
	e, err := NewEngine(g, sigma, opts)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

// closeEnough compares with a relative tolerance floored at a fraction of the
// largest magnitude in the set, so near-zero components are not over-constrained.
func closeEnough(got, want, rel, scale float64) bool {
	return math.Abs(got-want) <= rel*math.Max(math.Abs(want), 1e-2*scale)
}
