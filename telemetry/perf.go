package telemetry

import (
	"log/slog"
	"time"

	"github.com/pthm-cable/densityfit/density"
)

// Phase names for one optimizer iteration. The first three are reported by the
// density engine itself.
const (
	PhaseBasis     = density.PhaseBasis
	PhaseAssembly  = density.PhaseAssembly
	PhaseReduction = density.PhaseReduction
	PhaseUpdate    = "update"
)

var phases = []string{PhaseBasis, PhaseAssembly, PhaseReduction, PhaseUpdate}

// PerfSample holds timing data for a single iteration.
type PerfSample struct {
	Duration time.Duration
	Phases   map[string]time.Duration
}

// PerfCollector tracks per-iteration timing over a rolling window.
// It implements density.PhaseTimer.
type PerfCollector struct {
	windowSize    int
	samples       []PerfSample
	writeIndex    int
	sampleCount   int
	currentPhases map[string]time.Duration
	iterStart     time.Time
	phaseStart    time.Time
	lastPhase     string
}

// NewPerfCollector creates a collector averaging over windowSize iterations.
func NewPerfCollector(windowSize int) *PerfCollector {
	if windowSize < 1 {
		windowSize = 100
	}
	return &PerfCollector{
		windowSize:    windowSize,
		samples:       make([]PerfSample, windowSize),
		currentPhases: make(map[string]time.Duration),
	}
}

// StartIteration begins timing a new iteration.
func (p *PerfCollector) StartIteration() {
	p.iterStart = time.Now()
	p.currentPhases = make(map[string]time.Duration)
	p.lastPhase = ""
}

// StartPhase ends the running phase, if any, and begins timing phase.
func (p *PerfCollector) StartPhase(phase string) {
	now := time.Now()
	if p.lastPhase != "" {
		p.currentPhases[p.lastPhase] += now.Sub(p.phaseStart)
	}
	p.phaseStart = now
	p.lastPhase = phase
}

// EndIteration finishes timing the current iteration and records the sample.
func (p *PerfCollector) EndIteration() {
	now := time.Now()
	if p.lastPhase != "" {
		p.currentPhases[p.lastPhase] += now.Sub(p.phaseStart)
	}

	p.samples[p.writeIndex] = PerfSample{
		Duration: now.Sub(p.iterStart),
		Phases:   p.currentPhases,
	}
	p.writeIndex = (p.writeIndex + 1) % p.windowSize
	if p.sampleCount < p.windowSize {
		p.sampleCount++
	}
	p.lastPhase = ""
}

// PerfStats holds aggregated performance statistics.
type PerfStats struct {
	AvgDuration time.Duration
	MinDuration time.Duration
	MaxDuration time.Duration

	// Phase breakdown (average durations)
	PhaseAvg map[string]time.Duration

	// Phase percentages of total iteration time
	PhasePct map[string]float64

	IterationsPerSecond float64
}

// Stats computes aggregated statistics over the current window.
func (p *PerfCollector) Stats() PerfStats {
	if p.sampleCount == 0 {
		return PerfStats{
			PhaseAvg: make(map[string]time.Duration),
			PhasePct: make(map[string]float64),
		}
	}

	var total, minDur, maxDur time.Duration
	phaseSum := make(map[string]time.Duration)

	for i := 0; i < p.sampleCount; i++ {
		s := p.samples[i]
		total += s.Duration
		if i == 0 || s.Duration < minDur {
			minDur = s.Duration
		}
		if s.Duration > maxDur {
			maxDur = s.Duration
		}
		for phase, dur := range s.Phases {
			phaseSum[phase] += dur
		}
	}

	avg := total / time.Duration(p.sampleCount)

	phaseAvg := make(map[string]time.Duration)
	phasePct := make(map[string]float64)
	for phase, sum := range phaseSum {
		phaseAvg[phase] = sum / time.Duration(p.sampleCount)
		if avg > 0 {
			phasePct[phase] = float64(phaseAvg[phase]) / float64(avg) * 100
		}
	}

	var perSec float64
	if avg > 0 {
		perSec = float64(time.Second) / float64(avg)
	}

	return PerfStats{
		AvgDuration:         avg,
		MinDuration:         minDur,
		MaxDuration:         maxDur,
		PhaseAvg:            phaseAvg,
		PhasePct:            phasePct,
		IterationsPerSecond: perSec,
	}
}

// LogValue implements slog.LogValuer for structured logging.
func (s PerfStats) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Int64("avg_iter_us", s.AvgDuration.Microseconds()),
		slog.Int64("min_iter_us", s.MinDuration.Microseconds()),
		slog.Int64("max_iter_us", s.MaxDuration.Microseconds()),
		slog.Float64("iters_per_sec", s.IterationsPerSecond),
	}
	for _, phase := range phases {
		if pct, ok := s.PhasePct[phase]; ok {
			attrs = append(attrs, slog.Float64(phase+"_pct", pct))
		}
	}
	return slog.GroupValue(attrs...)
}

// PerfStatsCSV is a flat struct for CSV export of performance stats.
type PerfStatsCSV struct {
	Iteration    int     `csv:"iteration"`
	AvgIterUS    int64   `csv:"avg_iter_us"`
	MinIterUS    int64   `csv:"min_iter_us"`
	MaxIterUS    int64   `csv:"max_iter_us"`
	ItersPerSec  float64 `csv:"iters_per_sec"`
	BasisPct     float64 `csv:"basis_pct"`
	AssemblyPct  float64 `csv:"assembly_pct"`
	ReductionPct float64 `csv:"reduction_pct"`
	UpdatePct    float64 `csv:"update_pct"`
}

// ToCSV converts PerfStats to a flat CSV-friendly struct.
func (s PerfStats) ToCSV(iteration int) PerfStatsCSV {
	return PerfStatsCSV{
		Iteration:    iteration,
		AvgIterUS:    s.AvgDuration.Microseconds(),
		MinIterUS:    s.MinDuration.Microseconds(),
		MaxIterUS:    s.MaxDuration.Microseconds(),
		ItersPerSec:  s.IterationsPerSecond,
		BasisPct:     s.PhasePct[PhaseBasis],
		AssemblyPct:  s.PhasePct[PhaseAssembly],
		ReductionPct: s.PhasePct[PhaseReduction],
		UpdatePct:    s.PhasePct[PhaseUpdate],
	}
}
