// Package density simulates a smoothed particle density on a periodic voxel
// grid and differentiates its correlation with a target map.
//
// Every particle contributes a separable Gaussian point-spread function whose
// mass in each voxel is the exact product of three 1D CDF differences. Only the
// voxels inside a support window of Multiplier*sigma around the particle are
// visited.
package density

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/densityfit/grid"
)

// DefaultMultiplier is the support window radius in units of sigma.
const DefaultMultiplier = 4.0

// Phase names reported to a PhaseTimer.
const (
	PhaseBasis     = "basis"
	PhaseAssembly  = "assembly"
	PhaseReduction = "reduction"
)

// PhaseTimer receives the phase boundaries of an evaluation.
type PhaseTimer interface {
	StartPhase(phase string)
}

// Options configures an Engine.
type Options struct {
	Multiplier float64    // support window radius in sigmas (0 = DefaultMultiplier)
	Workers    int        // worker goroutines (0 = GOMAXPROCS)
	Threshold  int        // minimum item count for parallel phases (0 = default)
	Timer      PhaseTimer // optional
}

// Engine evaluates densities, correlations and gradients for one grid and
// smoothing width. An Engine reuses scratch buffers between calls and is not
// safe for concurrent use.
type Engine struct {
	grid       *grid.Grid
	sigma      [grid.Axes]float64
	multiplier float64
	pool       *workerPool
	timer      PhaseTimer

	bases    []particleBasis
	partials [][]float64
}

// NewEngine validates sigma and the padding precondition and returns an engine.
func NewEngine(g *grid.Grid, sigma [grid.Axes]float64, opts Options) (*Engine, error) {
	if opts.Multiplier == 0 {
		opts.Multiplier = DefaultMultiplier
	}
	e := &Engine{
		grid:       g,
		multiplier: opts.Multiplier,
		pool:       newWorkerPool(opts.Workers, opts.Threshold),
		timer:      opts.Timer,
	}
	if err := e.setSigma(sigma); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) setSigma(sigma [grid.Axes]float64) error {
	if !(e.multiplier > 0) || math.IsInf(e.multiplier, 0) {
		return fmt.Errorf("multiplier %g: %w", e.multiplier, ErrInvalidMultiplier)
	}
	for a, s := range sigma {
		if !(s > 0) || math.IsInf(s, 0) {
			return fmt.Errorf("axis %d sigma %g: %w", a, s, ErrInvalidSigma)
		}
	}
	if err := e.grid.CheckSupport(sigma, e.multiplier); err != nil {
		return err
	}
	e.sigma = sigma
	return nil
}

// WithSigma returns an engine for a different smoothing width that shares this
// engine's grid and worker pool. The two must not be used concurrently.
func (e *Engine) WithSigma(sigma [grid.Axes]float64) (*Engine, error) {
	c := &Engine{
		grid:       e.grid,
		multiplier: e.multiplier,
		pool:       e.pool,
		timer:      e.timer,
	}
	if err := c.setSigma(sigma); err != nil {
		return nil, err
	}
	return c, nil
}

// Grid returns the engine's grid.
func (e *Engine) Grid() *grid.Grid { return e.grid }

// Sigma returns the engine's smoothing width.
func (e *Engine) Sigma() [grid.Axes]float64 { return e.sigma }

// Multiplier returns the support window radius in sigmas.
func (e *Engine) Multiplier() float64 { return e.multiplier }

// Close stops the worker goroutines. The engine may still be used afterwards;
// workers restart on demand.
func (e *Engine) Close() {
	e.pool.stop()
}

func (e *Engine) startPhase(phase string) {
	if e.timer != nil {
		e.timer.StartPhase(phase)
	}
}

// computeBases evaluates every particle's per-axis basis inside its window.
func (e *Engine) computeBases(coords []r3.Vec) error {
	if len(coords) == 0 {
		return ErrNoParticles
	}
	for i, c := range coords {
		if !isFinite(c.X) || !isFinite(c.Y) || !isFinite(c.Z) {
			return fmt.Errorf("particle %d at %v: %w", i, c, ErrNonFinite)
		}
	}

	if cap(e.bases) < len(coords) {
		e.bases = make([]particleBasis, len(coords))
	}
	e.bases = e.bases[:len(coords)]

	e.pool.run(e.pool.split(len(coords)), func(_ int, s span) {
		for n := s.start; n < s.end; n++ {
			for a := 0; a < grid.Axes; a++ {
				c := e.grid.Wrap(axisOf(coords[n], a), a)
				e.bases[n].axes[a].compute(e.grid, a, c, e.sigma[a], e.multiplier)
			}
		}
	})
	return nil
}

// assemble accumulates all particle windows into sim. Chunks write into
// private partial buffers that are summed in chunk order afterwards, so the
// result is reproducible for a fixed worker count.
func (e *Engine) assemble(sim []float64) {
	n1, n2 := e.grid.NVoxels[1], e.grid.NVoxels[2]
	spans := e.pool.split(len(e.bases))

	if len(spans) == 1 {
		resizeZero(sim, len(sim))
		for n := range e.bases {
			accumulate(sim, &e.bases[n], n1, n2)
		}
		return
	}

	for len(e.partials) < len(spans) {
		e.partials = append(e.partials, nil)
	}
	e.pool.run(spans, func(chunk int, s span) {
		buf := resizeZero(e.partials[chunk], len(sim))
		e.partials[chunk] = buf
		for n := s.start; n < s.end; n++ {
			accumulate(buf, &e.bases[n], n1, n2)
		}
	})

	partials := e.partials[:len(spans)]
	e.pool.run(e.pool.split(len(sim)), func(_ int, s span) {
		dst := sim[s.start:s.end]
		copy(dst, partials[0][s.start:s.end])
		for _, p := range partials[1:] {
			floats.Add(dst, p[s.start:s.end])
		}
	})
}

// accumulate adds one particle's outer-product kernel into dst.
func accumulate(dst []float64, b *particleBasis, n1, n2 int) {
	bx, by, bz := &b.axes[0], &b.axes[1], &b.axes[2]
	for a, ix := range bx.idx {
		px := bx.phi[a]
		for c, iy := range by.idx {
			pxy := px * by.phi[c]
			row := dst[(ix*n1+iy)*n2 : (ix*n1+iy+1)*n2]
			for k, iz := range bz.idx {
				row[iz] += pxy * bz.phi[k]
			}
		}
	}
}

// Simulate returns the simulated density of the particle set.
func (e *Engine) Simulate(coords []r3.Vec) (*Volume, error) {
	e.startPhase(PhaseBasis)
	if err := e.computeBases(coords); err != nil {
		return nil, err
	}
	e.startPhase(PhaseAssembly)
	sim := NewVolume(e.grid.NVoxels)
	e.assemble(sim.Data)
	return sim, nil
}

// Correlation simulates the particle set and correlates it with target.
func (e *Engine) Correlation(coords []r3.Vec, target *Volume) (float64, error) {
	if err := checkShape(target, e.grid); err != nil {
		return 0, err
	}
	sim, err := e.Simulate(coords)
	if err != nil {
		return 0, err
	}
	return Correlation(sim, target)
}

func axisOf(v r3.Vec, axis int) float64 {
	switch axis {
	case 0:
		return v.X
	case 1:
		return v.Y
	default:
		return v.Z
	}
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
