package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/densityfit/config"
	"github.com/pthm-cable/densityfit/density"
	"github.com/pthm-cable/densityfit/fit"
	"github.com/pthm-cable/densityfit/grid"
	"github.com/pthm-cable/densityfit/session"
	"github.com/pthm-cable/densityfit/telemetry"
)

type options struct {
	outputDir     string
	referencePath string
	startPath     string
	seed          int64
	particles     int
	iterations    int
	refineSigma   bool
}

func main() {
	// CLI flags
	configPath := flag.String("config", "", "Path to config.yaml (empty = use defaults)")
	outputDir := flag.String("output-dir", "", "Output directory for CSV logs, particles and config snapshot")
	referencePath := flag.String("reference", "", "Particle CSV the target map is simulated from (empty = synthetic)")
	startPath := flag.String("start", "", "Particle CSV to start the fit from (empty = perturbed reference)")
	seed := flag.Int64("seed", 0, "RNG seed for the synthetic scenario (0 = use config)")
	particles := flag.Int("particles", 0, "Synthetic particle count (0 = use config)")
	iterations := flag.Int("iterations", -1, "Optimizer iterations (-1 = use config)")
	refineSigma := flag.Bool("refine-sigma", false, "Refine the smoothing width at the fitted positions")

	flag.Parse()

	// Set up slog (JSON to stdout for structured logging)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := config.Init(*configPath); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := run(ctx, config.Cfg(), options{
		outputDir:     *outputDir,
		referencePath: *referencePath,
		startPath:     *startPath,
		seed:          *seed,
		particles:     *particles,
		iterations:    *iterations,
		refineSigma:   *refineSigma,
	})
	if err != nil {
		slog.Error("fit failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, opts options) error {
	if opts.seed != 0 {
		cfg.Scenario.Seed = opts.seed
	}
	if opts.particles > 0 {
		cfg.Scenario.Particles = opts.particles
	}
	if opts.iterations >= 0 {
		cfg.Fit.Iterations = opts.iterations
	}

	g, err := cfg.NewGrid()
	if err != nil {
		return err
	}

	perf := telemetry.NewPerfCollector(cfg.Telemetry.PerfWindow)
	engine, err := density.NewEngine(g, cfg.Kernel.Sigma, density.Options{
		Multiplier: cfg.Kernel.Multiplier,
		Workers:    cfg.Parallel.Workers,
		Threshold:  cfg.Parallel.Threshold,
		Timer:      perf,
	})
	if err != nil {
		return err
	}
	defer engine.Close()

	reference, start, err := loadCoords(g, cfg, opts)
	if err != nil {
		return err
	}
	target, err := engine.Simulate(reference)
	if err != nil {
		return fmt.Errorf("simulating target: %w", err)
	}

	om, err := telemetry.NewOutputManager(opts.outputDir)
	if err != nil {
		return err
	}
	defer om.Close()

	if err := om.WriteConfig(cfg); err != nil {
		return err
	}
	if err := om.WriteParticles("reference.csv", reference); err != nil {
		return err
	}
	if err := om.WriteParticles("start.csv", start); err != nil {
		return err
	}

	s, err := session.New(g, start)
	if err != nil {
		return err
	}
	fitter, err := fit.New(engine, s, target, fit.Options{
		Iterations:  cfg.Fit.Iterations,
		MaxStep:     cfg.Fit.MaxStep,
		ReportEvery: cfg.Fit.ReportEvery,
		Perf:        perf,
		Output:      om,
	})
	if err != nil {
		return err
	}

	res, runErr := fitter.Run(ctx)
	if res != nil {
		if err := om.WriteParticles("final.csv", res.Coords); err != nil {
			return err
		}
		if cfg.Telemetry.Plot {
			if err := om.WritePlot(res.Trace); err != nil {
				slog.Warn("failed to write trace plot", "error", err)
			}
		}
	}
	if runErr != nil {
		return runErr
	}

	if opts.refineSigma {
		sr, err := fit.RefineSigma(engine, res.Coords, target, fit.SigmaOptions{
			MaxIterations: cfg.SigmaRefine.MaxIterations,
			MinSigma:      cfg.SigmaRefine.MinSigma,
			MaxSigma:      cfg.SigmaRefine.MaxSigma,
			Method:        cfg.SigmaRefine.Method,
			Seed:          uint64(cfg.Scenario.Seed),
		})
		if err != nil {
			return err
		}
		slog.Info("refined sigma", "sigma", sr.Sigma, "correlation", sr.Correlation)
	}

	slog.Info("done",
		"initial", res.Initial,
		"final", res.Final,
		"output_dir", om.Dir(),
	)
	return nil
}

// loadCoords returns the reference and start coordinates from files when
// given, filling in the rest from the synthetic scenario.
func loadCoords(g *grid.Grid, cfg *config.Config, opts options) (reference, start []r3.Vec, err error) {
	rng := rand.New(rand.NewSource(cfg.Scenario.Seed))

	if opts.referencePath == "" {
		sc := session.NewScenario(g, cfg.Scenario.Particles, cfg.Scenario.Perturbation, rng)
		reference, start = sc.Reference, sc.Start
	} else {
		reference, err = telemetry.LoadParticles(opts.referencePath)
		if err != nil {
			return nil, nil, err
		}
		start = session.Perturb(g, reference, cfg.Scenario.Perturbation, rng)
	}

	if opts.startPath != "" {
		start, err = telemetry.LoadParticles(opts.startPath)
		if err != nil {
			return nil, nil, err
		}
		if len(start) != len(reference) {
			return nil, nil, fmt.Errorf("%w: %d start particles for %d reference particles",
				session.ErrLength, len(start), len(reference))
		}
	}
	return reference, start, nil
}
