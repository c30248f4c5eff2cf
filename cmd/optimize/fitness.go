package main

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/gocarina/gocsv"
	"gonum.org/v1/gonum/optimize"

	"github.com/pthm-cable/densityfit/fit"
)

// EvalRecord is one row of optimize_log.csv.
type EvalRecord struct {
	Eval        int     `csv:"eval"`
	Fitness     float64 `csv:"fitness"`
	Correlation float64 `csv:"correlation"`
	SigmaX      float64 `csv:"sigma_x"`
	SigmaY      float64 `csv:"sigma_y"`
	SigmaZ      float64 `csv:"sigma_z"`
	ElapsedMS   int64   `csv:"elapsed_ms"`
}

// FitnessLog wraps a sigma problem so every function evaluation is logged and
// the best width is tracked. Fitness is -correlation (lower = better).
type FitnessLog struct {
	problem *fit.SigmaProblem
	out     *os.File

	evalCount     int
	headerWritten bool
	bestFitness   float64
	bestSigma     []float64
	start         time.Time
}

// NewFitnessLog creates the log file at path.
func NewFitnessLog(problem *fit.SigmaProblem, path string) (*FitnessLog, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating log file: %w", err)
	}
	return &FitnessLog{
		problem:     problem,
		out:         f,
		bestFitness: math.Inf(1),
		start:       time.Now(),
	}, nil
}

// Problem returns the wrapped problem. Gradients pass through unchanged.
func (fl *FitnessLog) Problem() optimize.Problem {
	inner := fl.problem.Problem()
	return optimize.Problem{
		Func: func(x []float64) float64 {
			fitness := inner.Func(x)
			fl.record(x, fitness)
			return fitness
		},
		Grad: inner.Grad,
	}
}

func (fl *FitnessLog) record(x []float64, fitness float64) {
	fl.evalCount++
	sigma := fl.problem.Sigma(x)
	if fitness < fl.bestFitness {
		fl.bestFitness = fitness
		fl.bestSigma = sigma[:]
	}

	elapsed := time.Since(fl.start)
	rec := EvalRecord{
		Eval:        fl.evalCount,
		Fitness:     fitness,
		Correlation: -fitness,
		SigmaX:      sigma[0],
		SigmaY:      sigma[1],
		SigmaZ:      sigma[2],
		ElapsedMS:   elapsed.Milliseconds(),
	}
	records := []EvalRecord{rec}
	var err error
	if !fl.headerWritten {
		err = gocsv.Marshal(records, fl.out)
		fl.headerWritten = true
	} else {
		err = gocsv.MarshalWithoutHeaders(records, fl.out)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "writing eval %d: %v\n", fl.evalCount, err)
	}

	fmt.Printf("Eval %d: corr=%.6f sigma=(%.4f, %.4f, %.4f) (best=%.6f) | elapsed: %s\n",
		fl.evalCount, -fitness, sigma[0], sigma[1], sigma[2], -fl.bestFitness, formatDuration(elapsed))
}

// Best returns the best width seen and its correlation.
func (fl *FitnessLog) Best() ([]float64, float64) {
	return fl.bestSigma, -fl.bestFitness
}

// Evals returns the number of logged evaluations.
func (fl *FitnessLog) Evals() int {
	return fl.evalCount
}

// Close closes the log file.
func (fl *FitnessLog) Close() error {
	return fl.out.Close()
}
