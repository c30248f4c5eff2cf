package fit

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/densityfit/density"
	"github.com/pthm-cable/densityfit/grid"
	"github.com/pthm-cable/densityfit/session"
	"github.com/pthm-cable/densityfit/telemetry"
)

type fixture struct {
	grid    *grid.Grid
	engine  *density.Engine
	session *session.Session
	target  *density.Volume
	sc      session.Scenario
}

func newFixture(t *testing.T, n [grid.Axes]int, particles int, perturbation float64, seed int64, opts density.Options) *fixture {
	t.Helper()
	g := grid.MustNew(n, [grid.Axes]float64{1, 1, 1}, 4)
	e, err := density.NewEngine(g, [grid.Axes]float64{1, 1, 1}, opts)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(e.Close)

	sc := session.NewScenario(g, particles, perturbation, rand.New(rand.NewSource(seed)))
	target, err := e.Simulate(sc.Reference)
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	s, err := session.New(g, sc.Start)
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	return &fixture{grid: g, engine: e, session: s, target: target, sc: sc}
}

func TestScenarioConverges(t *testing.T) {
	if testing.Short() {
		t.Skip("full-budget fit")
	}

	fx := newFixture(t, [grid.Axes]int{70, 60, 50}, 10, 1.0, 7, density.Options{})
	f, err := New(fx.engine, fx.session, fx.target, Options{
		Iterations:  1000,
		MaxStep:     0.1,
		ReportEvery: 50,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := f.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Iterations != 1000 {
		t.Errorf("completed %d iterations, want 1000", res.Iterations)
	}
	if res.Final <= res.Initial {
		t.Errorf("correlation did not improve: %v -> %v", res.Initial, res.Final)
	}
	if res.Final < 0.98 {
		t.Errorf("final correlation %v, want >= 0.98", res.Final)
	}

	// First record, one every 50 iterations, and the final evaluation.
	if len(res.Trace) != 21 {
		t.Fatalf("trace has %d records, want 21", len(res.Trace))
	}
	corr := res.Trace.Correlations()
	half := len(corr) / 2
	var early, late float64
	for i, c := range corr {
		if i < half {
			early += c
		} else {
			late += c
		}
	}
	if late/float64(len(corr)-half) <= early/float64(half) {
		t.Errorf("trace not increasing on average: %v", corr)
	}
	if last := res.Trace[len(res.Trace)-1]; last.Iteration != 1000 || last.Correlation != res.Final {
		t.Errorf("final trace record %+v does not match result", last)
	}

	for i, c := range res.Coords {
		for a, v := range []float64{c.X, c.Y, c.Z} {
			if v < 0 || v >= fx.grid.Extent(a) {
				t.Errorf("particle %d axis %d: %v outside box", i, a, v)
			}
		}
	}
}

func TestFit(t *testing.T) {
	fx := newFixture(t, [grid.Axes]int{20, 18, 16}, 4, 0.8, 13, density.Options{})

	coords, trace, err := Fit(context.Background(), fx.grid, [grid.Axes]float64{1, 1, 1}, fx.target, fx.sc.Start, 60, 0.1)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if len(coords) != 4 {
		t.Fatalf("got %d coordinates, want 4", len(coords))
	}
	// 0, 10, ..., 50 and final
	if len(trace) != 7 {
		t.Fatalf("trace has %d records, want 7", len(trace))
	}
	if first, last := trace[0].Correlation, trace[len(trace)-1].Correlation; last <= first {
		t.Errorf("correlation did not improve: %v -> %v", first, last)
	}

	if _, _, err := Fit(context.Background(), fx.grid, [grid.Axes]float64{0, 1, 1}, fx.target, fx.sc.Start, 1, 0.1); !errors.Is(err, density.ErrInvalidSigma) {
		t.Errorf("expected ErrInvalidSigma, got %v", err)
	}
}

func TestStepBoundsDisplacement(t *testing.T) {
	fx := newFixture(t, [grid.Axes]int{20, 20, 20}, 4, 1.0, 3, density.Options{})
	f, err := New(fx.engine, fx.session, fx.target, Options{Iterations: 1, MaxStep: 0.05})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	before := fx.session.Coords(nil)
	ev, scale, err := f.Step()
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	after := fx.session.Coords(nil)

	if want := 0.05 / ev.MaxPositionGradient(); math.Abs(scale-want) > 1e-15*want {
		t.Errorf("scale = %v, want %v", scale, want)
	}

	var maxMove float64
	for i := range before {
		for a := 0; a < grid.Axes; a++ {
			d := math.Abs(component(after[i], a) - component(before[i], a))
			ext := fx.grid.Extent(a)
			d = math.Min(d, ext-d) // across the wrap
			maxMove = math.Max(maxMove, d)
		}
	}
	if math.Abs(maxMove-0.05) > 1e-9 {
		t.Errorf("largest displacement %v, want 0.05", maxMove)
	}
}

func TestStepSkipsZeroGradient(t *testing.T) {
	g := grid.MustNew([grid.Axes]int{24, 24, 24}, [grid.Axes]float64{1, 1, 1}, 4)
	e, err := density.NewEngine(g, [grid.Axes]float64{1, 1, 1}, density.Options{})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer e.Close()

	// The target mass lies outside the particle's support window, so every
	// gradient component is exactly zero.
	target := density.NewVolume(g.NVoxels)
	target.Set(18, 18, 18, 1)
	coords := []r3.Vec{{X: 6.3, Y: 6.3, Z: 6.3}}
	s, err := session.New(g, coords)
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	f, err := New(e, s, target, Options{Iterations: 3, MaxStep: 0.1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ev, scale, err := f.Step()
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if m := ev.MaxPositionGradient(); m != 0 {
		t.Fatalf("expected zero gradient, got %v", m)
	}
	if scale != 0 {
		t.Errorf("scale = %v for zero gradient, want 0", scale)
	}
	if got := s.Coords(nil)[0]; got != coords[0] {
		t.Errorf("particle moved from %v to %v", coords[0], got)
	}
}

func TestStepDivergence(t *testing.T) {
	fx := newFixture(t, [grid.Axes]int{12, 12, 12}, 3, 0.5, 17, density.Options{})
	target := fx.target.Clone()
	target.Data[target.Index(1, 2, 3)] = math.NaN()

	f, err := New(fx.engine, fx.session, target, Options{Iterations: 5, MaxStep: 0.1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	before := fx.session.Coords(nil)

	if _, _, err := f.Step(); !errors.Is(err, ErrNumericalDivergence) {
		t.Fatalf("Step: expected ErrNumericalDivergence, got %v", err)
	}
	if got := fx.session.Coords(nil); !coordsEqual(got, before) {
		t.Errorf("coordinates moved on divergence: %v, want %v", got, before)
	}

	res, err := f.Run(context.Background())
	if !errors.Is(err, ErrNumericalDivergence) {
		t.Fatalf("Run: expected ErrNumericalDivergence, got %v", err)
	}
	if res == nil {
		t.Fatal("Run returned no partial result")
	}
	if res.Iterations != 0 {
		t.Errorf("iterations = %d, want 0", res.Iterations)
	}
	if !coordsEqual(res.Coords, before) {
		t.Errorf("result coordinates %v, want %v", res.Coords, before)
	}
}

func coordsEqual(a, b []r3.Vec) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRunCancelled(t *testing.T) {
	fx := newFixture(t, [grid.Axes]int{16, 16, 16}, 3, 0.5, 11, density.Options{})
	f, err := New(fx.engine, fx.session, fx.target, Options{Iterations: 100, MaxStep: 0.1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if res == nil || res.Iterations != 0 {
		t.Fatalf("expected empty partial result, got %+v", res)
	}
	if len(res.Coords) != 3 {
		t.Errorf("expected coordinates in partial result, got %d", len(res.Coords))
	}
	if res.Final != res.Initial {
		t.Errorf("no step taken but initial %v != final %v", res.Initial, res.Final)
	}
}

func TestRunWritesOutput(t *testing.T) {
	perf := telemetry.NewPerfCollector(10)
	fx := newFixture(t, [grid.Axes]int{16, 14, 12}, 3, 0.5, 5, density.Options{Timer: perf})

	dir := filepath.Join(t.TempDir(), "out")
	om, err := telemetry.NewOutputManager(dir)
	if err != nil {
		t.Fatalf("NewOutputManager: %v", err)
	}
	defer om.Close()

	f, err := New(fx.engine, fx.session, fx.target, Options{
		Iterations:  20,
		MaxStep:     0.1,
		ReportEvery: 5,
		Perf:        perf,
		Output:      om,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := f.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// 0, 5, 10, 15 and final
	if len(res.Trace) != 5 {
		t.Errorf("trace has %d records, want 5", len(res.Trace))
	}
	stats := perf.Stats()
	for _, phase := range []string{telemetry.PhaseBasis, telemetry.PhaseAssembly, telemetry.PhaseReduction, telemetry.PhaseUpdate} {
		if _, ok := stats.PhaseAvg[phase]; !ok {
			t.Errorf("phase %s not timed", phase)
		}
	}
}

func TestNewRejectsOptions(t *testing.T) {
	fx := newFixture(t, [grid.Axes]int{10, 10, 10}, 2, 0.5, 1, density.Options{})
	other := grid.MustNew([grid.Axes]int{10, 10, 10}, [grid.Axes]float64{1, 1, 1}, 4)
	otherSession, err := session.New(other, fx.sc.Start)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		s    *session.Session
		opts Options
	}{
		{"zero step", fx.session, Options{Iterations: 1}},
		{"infinite step", fx.session, Options{Iterations: 1, MaxStep: math.Inf(1)}},
		{"NaN step", fx.session, Options{Iterations: 1, MaxStep: math.NaN()}},
		{"negative iterations", fx.session, Options{Iterations: -1, MaxStep: 0.1}},
		{"negative report", fx.session, Options{ReportEvery: -1, MaxStep: 0.1}},
		{"foreign grid", otherSession, Options{Iterations: 1, MaxStep: 0.1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(fx.engine, tt.s, fx.target, tt.opts); !errors.Is(err, ErrInvalidOptions) {
				t.Errorf("expected ErrInvalidOptions, got %v", err)
			}
		})
	}
}

func component(v r3.Vec, axis int) float64 {
	switch axis {
	case 0:
		return v.X
	case 1:
		return v.Y
	default:
		return v.Z
	}
}
