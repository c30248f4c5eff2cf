// Package fit moves particles so that their simulated density correlates with
// a target map as closely as possible.
//
// The optimizer is plain gradient ascent over a fixed iteration budget. Each
// step is rescaled so that the largest single coordinate displacement equals
// MaxStep, and coordinates are wrapped back into the periodic box after every
// move.
package fit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/densityfit/density"
	"github.com/pthm-cable/densityfit/grid"
	"github.com/pthm-cable/densityfit/session"
	"github.com/pthm-cable/densityfit/telemetry"
)

// DefaultReportEvery is the trace interval used by Fit.
const DefaultReportEvery = 10

// Fit moves coords to maximize their correlation with target using an engine
// with default settings. It returns the final coordinates and the correlation
// trace.
func Fit(ctx context.Context, g *grid.Grid, sigma [grid.Axes]float64, target *density.Volume, coords []r3.Vec, iterations int, maxStep float64) ([]r3.Vec, telemetry.Trace, error) {
	e, err := density.NewEngine(g, sigma, density.Options{})
	if err != nil {
		return nil, nil, err
	}
	defer e.Close()

	s, err := session.New(g, coords)
	if err != nil {
		return nil, nil, err
	}
	f, err := New(e, s, target, Options{
		Iterations:  iterations,
		MaxStep:     maxStep,
		ReportEvery: DefaultReportEvery,
	})
	if err != nil {
		return nil, nil, err
	}

	res, err := f.Run(ctx)
	if res == nil {
		return nil, nil, err
	}
	return res.Coords, res.Trace, err
}

// Options configures a Fitter.
type Options struct {
	Iterations  int
	MaxStep     float64 // largest coordinate displacement per iteration
	ReportEvery int     // iterations between trace records (0 = first and final only)

	Perf   *telemetry.PerfCollector  // optional; pass the same collector as the engine's Timer
	Output *telemetry.OutputManager // optional; nil disables file output
}

// Result is the outcome of a fit.
type Result struct {
	Coords     []r3.Vec
	Trace      telemetry.Trace
	Initial    float64 // correlation before the first step
	Final      float64 // correlation of Coords
	Iterations int     // completed steps
}

// Fitter runs gradient ascent on a particle session.
type Fitter struct {
	engine  *density.Engine
	session *session.Session
	target  *density.Volume
	opts    Options

	coords []r3.Vec
	disp   []r3.Vec
}

// New returns a fitter for the particles in s against target.
func New(e *density.Engine, s *session.Session, target *density.Volume, opts Options) (*Fitter, error) {
	if opts.Iterations < 0 || opts.ReportEvery < 0 {
		return nil, fmt.Errorf("%w: iterations %d, report every %d", ErrInvalidOptions, opts.Iterations, opts.ReportEvery)
	}
	if !(opts.MaxStep > 0) || math.IsInf(opts.MaxStep, 1) {
		return nil, fmt.Errorf("%w: max step %v", ErrInvalidOptions, opts.MaxStep)
	}
	if s.Grid() != e.Grid() {
		return nil, fmt.Errorf("%w: session and engine grids differ", ErrInvalidOptions)
	}
	return &Fitter{
		engine:  e,
		session: s,
		target:  target,
		opts:    opts,
	}, nil
}

// Step evaluates the current particles and moves them one ascent step. It
// returns the evaluation taken before the move and the step scale applied;
// the scale is 0 when every position gradient vanished and nothing moved.
func (f *Fitter) Step() (*density.Evaluation, float64, error) {
	f.coords = f.session.Coords(f.coords)
	ev, err := f.engine.Evaluate(f.coords, f.target)
	if err != nil {
		return nil, 0, err
	}

	f.startPhase(telemetry.PhaseUpdate)
	for i, g := range ev.Gradients {
		if !g.IsFinite() {
			return ev, 0, fmt.Errorf("particle %d gradient %+v: %w", i, g, ErrNumericalDivergence)
		}
	}

	m := ev.MaxPositionGradient()
	if m == 0 {
		return ev, 0, nil
	}
	scale := f.opts.MaxStep / m

	if cap(f.disp) < len(ev.Gradients) {
		f.disp = make([]r3.Vec, len(ev.Gradients))
	}
	f.disp = f.disp[:len(ev.Gradients)]
	for i, g := range ev.Gradients {
		f.disp[i] = g.Position()
	}
	if err := f.session.Displace(f.disp, scale); err != nil {
		if errors.Is(err, session.ErrNonFinite) {
			return ev, scale, fmt.Errorf("%w: %w", ErrNumericalDivergence, err)
		}
		return ev, scale, err
	}
	return ev, scale, nil
}

// Run performs the configured number of steps. ctx is checked once per
// iteration; on cancellation the partial result is returned with ctx's error.
func (f *Fitter) Run(ctx context.Context) (*Result, error) {
	res := &Result{}
	start := time.Now()

	slog.Info("fit starting",
		"particles", f.session.Len(),
		"iterations", f.opts.Iterations,
		"max_step", f.opts.MaxStep,
		"sigma", f.engine.Sigma(),
	)

	for it := 0; it < f.opts.Iterations; it++ {
		if err := ctx.Err(); err != nil {
			return f.finish(res, start, err)
		}

		if f.opts.Perf != nil {
			f.opts.Perf.StartIteration()
		}
		ev, scale, err := f.Step()
		if f.opts.Perf != nil {
			f.opts.Perf.EndIteration()
		}
		if err != nil {
			return f.finish(res, start, fmt.Errorf("iteration %d: %w", it, err))
		}

		if it == 0 {
			res.Initial = ev.Correlation
		}
		res.Iterations = it + 1

		if it == 0 || (f.opts.ReportEvery > 0 && it%f.opts.ReportEvery == 0) {
			if err := f.report(res, telemetry.NewTraceRecord(it, ev, scale, time.Since(start))); err != nil {
				return f.finish(res, start, err)
			}
		}
	}

	return f.finish(res, start, nil)
}

// finish evaluates the final coordinates and closes the trace. runErr, if any,
// is returned alongside the partial result.
func (f *Fitter) finish(res *Result, start time.Time, runErr error) (*Result, error) {
	res.Coords = f.session.Coords(nil)
	if errors.Is(runErr, ErrNumericalDivergence) {
		return res, runErr
	}

	ev, err := f.engine.Evaluate(res.Coords, f.target)
	if err != nil {
		if runErr != nil {
			return res, runErr
		}
		return res, err
	}
	res.Final = ev.Correlation
	if res.Iterations == 0 {
		res.Initial = ev.Correlation
	}

	if err := f.report(res, telemetry.NewTraceRecord(res.Iterations, ev, 0, time.Since(start))); err != nil && runErr == nil {
		runErr = err
	}

	attrs := []any{
		"iterations", res.Iterations,
		"initial", res.Initial,
		"final", res.Final,
		"elapsed", time.Since(start).Round(time.Millisecond),
	}
	if f.opts.Perf != nil {
		attrs = append(attrs, "perf", f.opts.Perf.Stats())
	}
	if runErr != nil {
		slog.Warn("fit stopped", append(attrs, "error", runErr)...)
	} else {
		slog.Info("fit complete", attrs...)
	}
	return res, runErr
}

func (f *Fitter) report(res *Result, rec telemetry.TraceRecord) error {
	res.Trace = append(res.Trace, rec)
	slog.Info("fit progress", "trace", rec)

	if err := f.opts.Output.WriteTrace(rec); err != nil {
		return err
	}
	if f.opts.Perf != nil {
		if err := f.opts.Output.WritePerf(f.opts.Perf.Stats(), rec.Iteration); err != nil {
			return err
		}
	}
	return nil
}

func (f *Fitter) startPhase(phase string) {
	if f.opts.Perf != nil {
		f.opts.Perf.StartPhase(phase)
	}
}
