package density

import (
	"math"
	"sort"

	"github.com/pthm-cable/densityfit/grid"
)

var (
	sqrt2  = math.Sqrt2
	sqrtPi = math.Sqrt(math.Pi)
)

// axisBasis holds one particle's 1D basis along one axis, restricted to its
// support window and already wrapped onto interior voxel indices.
type axisBasis struct {
	idx []int     // interior voxel index per window cell, unique
	phi []float64 // Δphi: mass of the 1D Gaussian inside each cell
	dc  []float64 // Δ(∂phi/∂c)
	ds  []float64 // Δ(∂phi/∂σ)
}

// particleBasis is the separable basis of one particle on all axes.
type particleBasis struct {
	axes [grid.Axes]axisBasis
}

// cdfTerms evaluates phi and its derivatives at boundary b for centre c and
// width sigma.
func cdfTerms(b, c, sigma float64) (phi, dc, ds float64) {
	s := sigma * sqrt2
	u := (b - c) / s
	phi = (1 + math.Erf(u)) / 2
	dc = -math.Exp(-u*u) / sqrtPi / s
	ds = u * dc * sqrt2
	return phi, dc, ds
}

// window returns the inclusive padded cell range [lo, hi] holding the support
// c ± multiplier*sigma, clamped to the padded grid.
func window(bounds []float64, c, sigma, multiplier float64) (lo, hi int) {
	r := multiplier * sigma
	lo = sort.SearchFloat64s(bounds, c-r) - 1
	hi = sort.SearchFloat64s(bounds, c+r) + 1
	if lo < 0 {
		lo = 0
	}
	if last := len(bounds) - 2; hi > last {
		hi = last
	}
	return lo, hi
}

// compute fills the basis for centre c along one axis.
func (ab *axisBasis) compute(g *grid.Grid, axis int, c, sigma, multiplier float64) {
	bounds := g.Boundaries(axis)
	lo, hi := window(bounds, c, sigma, multiplier)
	cells := hi - lo + 1
	n := g.NVoxels[axis]

	ab.reset()
	if cells <= 0 {
		return
	}

	// Windows no wider than the grid touch each interior voxel at most once.
	// Wider ones are folded onto all n voxels.
	folded := cells > n
	if folded {
		ab.grow(n)
		for i := 0; i < n; i++ {
			ab.idx[i] = i
		}
	} else {
		ab.grow(cells)
	}

	prevPhi, prevDc, prevDs := cdfTerms(bounds[lo], c, sigma)
	for k := 0; k < cells; k++ {
		phi, dc, ds := cdfTerms(bounds[lo+k+1], c, sigma)
		t := k
		v := g.WrapIndex(lo+k, axis)
		if folded {
			t = v
		} else {
			ab.idx[t] = v
		}
		ab.phi[t] += phi - prevPhi
		ab.dc[t] += dc - prevDc
		ab.ds[t] += ds - prevDs
		prevPhi, prevDc, prevDs = phi, dc, ds
	}
}

func (ab *axisBasis) reset() {
	ab.idx = ab.idx[:0]
	ab.phi = ab.phi[:0]
	ab.dc = ab.dc[:0]
	ab.ds = ab.ds[:0]
}

// grow sizes the basis to n zeroed entries, reusing capacity.
func (ab *axisBasis) grow(n int) {
	ab.idx = resizeInts(ab.idx, n)
	ab.phi = resizeZero(ab.phi, n)
	ab.dc = resizeZero(ab.dc, n)
	ab.ds = resizeZero(ab.ds, n)
}

func resizeZero(s []float64, n int) []float64 {
	if cap(s) < n {
		return make([]float64, n)
	}
	s = s[:n]
	for i := range s {
		s[i] = 0
	}
	return s
}

func resizeInts(s []int, n int) []int {
	if cap(s) < n {
		return make([]int, n)
	}
	return s[:n]
}
