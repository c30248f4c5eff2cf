// Package main refines the shared smoothing width of a density fit with
// gonum/optimize, holding particle positions fixed.
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/densityfit/config"
	"github.com/pthm-cable/densityfit/density"
	"github.com/pthm-cable/densityfit/fit"
	"github.com/pthm-cable/densityfit/grid"
	"github.com/pthm-cable/densityfit/session"
	"github.com/pthm-cable/densityfit/telemetry"
)

// formatDuration formats a duration as HH:MM:SS or MM:SS for shorter durations.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	return fmt.Sprintf("%dm%02ds", m, s)
}

// parseSigma parses "x,y,z" or a single value applied to every axis.
func parseSigma(s string) ([grid.Axes]float64, error) {
	var sigma [grid.Axes]float64
	parts := strings.Split(s, ",")
	if len(parts) != 1 && len(parts) != grid.Axes {
		return sigma, fmt.Errorf("sigma %q: want 1 or %d values", s, grid.Axes)
	}
	for a := range sigma {
		v, err := strconv.ParseFloat(strings.TrimSpace(parts[a%len(parts)]), 64)
		if err != nil {
			return sigma, fmt.Errorf("sigma %q: %w", s, err)
		}
		sigma[a] = v
	}
	return sigma, nil
}

func main() {
	// CLI flags
	configPath := flag.String("config", "", "Base config YAML file (empty = use defaults)")
	referencePath := flag.String("reference", "", "Particle CSV (empty = synthetic reference from config)")
	targetSigma := flag.String("target-sigma", "0.8", "Width the target map is simulated with: x,y,z or one value")
	method := flag.String("method", "", "lbfgs or cmaes (empty = use config)")
	maxIters := flag.Int("max-iters", 0, "Maximum optimizer iterations (0 = use config)")
	population := flag.Int("population", 0, "CMA-ES population size (0 = auto)")
	outputDir := flag.String("output", "", "Output directory for results")
	flag.Parse()

	if *outputDir == "" {
		log.Fatal("--output is required")
	}
	if err := os.MkdirAll(*outputDir, 0755); err != nil {
		log.Fatalf("failed to create output directory: %v", err)
	}

	if err := config.Init(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := config.Cfg()
	if *method == "" {
		*method = cfg.SigmaRefine.Method
	}
	if *maxIters == 0 {
		*maxIters = cfg.SigmaRefine.MaxIterations
	}

	g, err := cfg.NewGrid()
	if err != nil {
		log.Fatalf("failed to build grid: %v", err)
	}

	var coords []r3.Vec
	if *referencePath != "" {
		if coords, err = telemetry.LoadParticles(*referencePath); err != nil {
			log.Fatalf("failed to load reference: %v", err)
		}
	} else {
		rng := rand.New(rand.NewSource(cfg.Scenario.Seed))
		coords = session.NewScenario(g, cfg.Scenario.Particles, 0, rng).Reference
	}

	sigmaT, err := parseSigma(*targetSigma)
	if err != nil {
		log.Fatal(err)
	}
	opts := density.Options{
		Multiplier: cfg.Kernel.Multiplier,
		Workers:    cfg.Parallel.Workers,
		Threshold:  cfg.Parallel.Threshold,
	}
	ref, err := density.NewEngine(g, sigmaT, opts)
	if err != nil {
		log.Fatalf("target sigma: %v", err)
	}
	defer ref.Close()
	target, err := ref.Simulate(coords)
	if err != nil {
		log.Fatalf("failed to simulate target: %v", err)
	}

	params := NewParamVector(cfg)
	engine, err := ref.WithSigma(params.Sigma(params.DefaultVector()))
	if err != nil {
		log.Fatalf("start sigma: %v", err)
	}

	problem, err := fit.NewSigmaProblem(engine, coords, target, cfg.SigmaRefine.MinSigma, cfg.SigmaRefine.MaxSigma)
	if err != nil {
		log.Fatal(err)
	}
	logPath := filepath.Join(*outputDir, "optimize_log.csv")
	evaluator, err := NewFitnessLog(problem, logPath)
	if err != nil {
		log.Fatal(err)
	}
	defer evaluator.Close()

	settings := &optimize.Settings{MajorIterations: *maxIters}

	// Auto-size: 4 + 3n/2
	popSize := *population
	if popSize == 0 {
		popSize = 4 + int(3.0*float64(params.Dim())/2.0)
	}
	m, err := fit.NewMethod(*method, popSize, uint64(cfg.Scenario.Seed))
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Starting %s refinement of %d parameters, max_iters=%d, particles=%d\n",
		*method, params.Dim(), *maxIters, len(coords))
	fmt.Printf("Target sigma: %v, start sigma: %v\n", sigmaT, engine.Sigma())

	startTime := time.Now()
	x0 := problem.Point(engine.Sigma())
	result, err := optimize.Minimize(evaluator.Problem(), x0, settings, m)
	if err != nil {
		log.Printf("optimization ended: %v", err)
	}

	// Use best point found (may be from any evaluation, not just final)
	bestSigma, bestCorr := evaluator.Best()
	if bestSigma == nil && result != nil {
		s := problem.Sigma(result.X)
		bestSigma = s[:]
	}
	if bestSigma == nil {
		log.Fatal("no evaluation succeeded")
	}

	fmt.Printf("\nOptimization complete after %d evaluations in %s\n", evaluator.Evals(), formatDuration(time.Since(startTime)))
	fmt.Printf("Best correlation: %.6f\n", bestCorr)
	fmt.Println("\nBest parameters:")
	for i, spec := range params.Specs {
		fmt.Printf("  %s: %.6f\n", spec.Name, bestSigma[i])
	}

	bestCfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to reload config: %v", err)
	}
	params.ApplyToConfig(bestCfg, bestSigma)

	configOutPath := filepath.Join(*outputDir, "best_config.yaml")
	if err := bestCfg.WriteYAML(configOutPath); err != nil {
		log.Printf("failed to write best config: %v", err)
	} else {
		fmt.Printf("\nBest config saved to: %s\n", configOutPath)
	}
}
