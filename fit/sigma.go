package fit

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/densityfit/config"
	"github.com/pthm-cable/densityfit/density"
	"github.com/pthm-cable/densityfit/grid"
)

// DefaultSeed seeds CMA-ES sampling when no seed is given.
const DefaultSeed = 1

// cmaesStepSize is the initial CMA-ES spread in optimizer coordinates.
const cmaesStepSize = 0.5

// SigmaOptions configures RefineSigma.
type SigmaOptions struct {
	MaxIterations int
	MinSigma      float64
	MaxSigma      float64 // further capped per axis by the grid padding
	Method        string  // config.MethodLBFGS (default) or config.MethodCMAES
	Seed          uint64  // CMA-ES sampling seed; 0 uses DefaultSeed
}

// NewMethod returns the gonum optimizer for a refinement method name.
// population is the CMA-ES population size (0 = gonum default). CMA-ES draws
// its samples from a PCG source seeded with seed, so runs are repeatable.
func NewMethod(name string, population int, seed uint64) (optimize.Method, error) {
	switch name {
	case config.MethodLBFGS:
		return &optimize.LBFGS{}, nil
	case config.MethodCMAES:
		if seed == 0 {
			seed = DefaultSeed
		}
		return &optimize.CmaEsChol{
			InitStepSize: cmaesStepSize,
			Population:   population,
			Src:          rand.NewPCG(seed, seed),
		}, nil
	}
	return nil, fmt.Errorf("%w: unknown method %q", ErrInvalidOptions, name)
}

// SigmaResult is the best smoothing width found by RefineSigma.
type SigmaResult struct {
	Sigma       [grid.Axes]float64
	Correlation float64
	Initial     float64 // correlation at the starting width
	Evaluations int
	Status      optimize.Status
}

// SigmaProblem is the correlation at fixed particle positions as a function of
// the shared smoothing width, posed for unconstrained minimization. Each axis
// maps through sigma = lo + (hi-lo)*logistic(x), so every optimizer point is a
// valid width and the objective stays smooth up to the bounds.
type SigmaProblem struct {
	engine *density.Engine
	coords []r3.Vec
	target *density.Volume
	lo, hi [grid.Axes]float64

	lastX  []float64
	lastEv *density.Evaluation

	evals int
	best  SigmaResult
	err   error
}

// NewSigmaProblem bounds sigma per axis to [minSigma, maxSigma], lowering the
// upper bound where the grid padding could not hold a wider window.
func NewSigmaProblem(e *density.Engine, coords []r3.Vec, target *density.Volume, minSigma, maxSigma float64) (*SigmaProblem, error) {
	if !(minSigma > 0) || !(maxSigma > minSigma) {
		return nil, fmt.Errorf("%w: sigma bounds [%v, %v]", ErrInvalidOptions, minSigma, maxSigma)
	}
	p := &SigmaProblem{engine: e, coords: coords, target: target}
	g := e.Grid()
	for a := 0; a < grid.Axes; a++ {
		p.lo[a] = minSigma
		p.hi[a] = math.Min(maxSigma, float64(g.Padding)*g.VoxelSize[a]/e.Multiplier())
		if p.hi[a] < p.lo[a] {
			return nil, fmt.Errorf("%w: padding %d admits sigma <= %v on axis %d, below min %v",
				ErrInvalidOptions, g.Padding, p.hi[a], a, minSigma)
		}
	}
	p.best.Correlation = math.Inf(-1)
	return p, nil
}

// pointLimit keeps Point away from the asymptotes of the logistic map.
const pointLimit = 1e-9

func logistic(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// Bounds returns the per-axis sigma range.
func (p *SigmaProblem) Bounds() (lo, hi [grid.Axes]float64) {
	return p.lo, p.hi
}

// Sigma maps an optimizer point to a smoothing width inside the bounds.
func (p *SigmaProblem) Sigma(x []float64) [grid.Axes]float64 {
	var s [grid.Axes]float64
	for a := range s {
		s[a] = p.lo[a] + (p.hi[a]-p.lo[a])*logistic(x[a])
	}
	return s
}

// Point maps a smoothing width to an optimizer point. Widths outside the
// bounds map to points just inside them.
func (p *SigmaProblem) Point(sigma [grid.Axes]float64) []float64 {
	x := make([]float64, grid.Axes)
	for a := range x {
		t := (sigma[a] - p.lo[a]) / (p.hi[a] - p.lo[a])
		t = math.Min(math.Max(t, pointLimit), 1-pointLimit)
		x[a] = math.Log(t / (1 - t))
	}
	return x
}

func (p *SigmaProblem) evaluate(x []float64) *density.Evaluation {
	if p.lastEv != nil && floats.Equal(p.lastX, x) {
		return p.lastEv
	}

	sigma := p.Sigma(x)
	es, err := p.engine.WithSigma(sigma)
	if err == nil {
		p.lastEv, err = es.Evaluate(p.coords, p.target)
	}
	if err != nil {
		if p.err == nil {
			p.err = fmt.Errorf("sigma %v: %w", sigma, err)
		}
		p.lastEv = nil
		return nil
	}

	p.lastX = append(p.lastX[:0], x...)
	p.evals++
	if p.lastEv.Correlation > p.best.Correlation {
		p.best.Sigma = sigma
		p.best.Correlation = p.lastEv.Correlation
	}
	return p.lastEv
}

// Problem returns the gonum formulation: Func is -corr, Grad is its analytic
// derivative chained through the logistic map.
func (p *SigmaProblem) Problem() optimize.Problem {
	return optimize.Problem{
		Func: func(x []float64) float64 {
			ev := p.evaluate(x)
			if ev == nil {
				return math.Inf(1)
			}
			return -ev.Correlation
		},
		Grad: func(grad, x []float64) {
			ev := p.evaluate(x)
			if ev == nil {
				for i := range grad {
					grad[i] = 0
				}
				return
			}
			sg := ev.SigmaGradient()
			for a := range grad {
				l := logistic(x[a])
				grad[a] = -sg[a] * (p.hi[a] - p.lo[a]) * l * (1 - l)
			}
		},
	}
}

// RefineSigma maximizes the correlation over the shared smoothing width with
// the particle positions held fixed, starting from the engine's width.
func RefineSigma(e *density.Engine, coords []r3.Vec, target *density.Volume, opts SigmaOptions) (*SigmaResult, error) {
	p, err := NewSigmaProblem(e, coords, target, opts.MinSigma, opts.MaxSigma)
	if err != nil {
		return nil, err
	}

	x0 := p.Point(e.Sigma())
	initial := p.evaluate(x0)
	if initial == nil {
		return nil, p.err
	}

	if opts.Method == "" {
		opts.Method = config.MethodLBFGS
	}
	method, err := NewMethod(opts.Method, 0, opts.Seed)
	if err != nil {
		return nil, err
	}
	settings := &optimize.Settings{MajorIterations: opts.MaxIterations}

	result, err := optimize.Minimize(p.Problem(), x0, settings, method)
	if p.err != nil {
		return nil, p.err
	}
	if err != nil {
		// Line-search stalls near the optimum surface here; the best point
		// seen is still valid.
		slog.Warn("sigma refinement ended early", "error", err)
	}

	res := p.best
	res.Initial = initial.Correlation
	res.Evaluations = p.evals
	if result != nil {
		res.Status = result.Status
	}
	slog.Info("sigma refined",
		"method", opts.Method,
		"sigma", res.Sigma,
		"initial", res.Initial,
		"correlation", res.Correlation,
		"evaluations", res.Evaluations,
		"status", res.Status,
	)
	return &res, nil
}
