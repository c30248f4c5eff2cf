package telemetry

import (
	"testing"
	"time"
)

func TestPerfCollector_BasicTiming(t *testing.T) {
	pc := NewPerfCollector(10)

	for i := 0; i < 5; i++ {
		pc.StartIteration()
		pc.StartPhase(PhaseAssembly)
		time.Sleep(100 * time.Microsecond)
		pc.StartPhase(PhaseReduction)
		time.Sleep(200 * time.Microsecond)
		pc.EndIteration()
	}

	stats := pc.Stats()

	if stats.AvgDuration <= 0 {
		t.Error("expected positive average iteration duration")
	}
	if _, ok := stats.PhaseAvg[PhaseAssembly]; !ok {
		t.Error("expected assembly phase to be tracked")
	}
	if _, ok := stats.PhaseAvg[PhaseReduction]; !ok {
		t.Error("expected reduction phase to be tracked")
	}
	if stats.MinDuration > stats.AvgDuration || stats.AvgDuration > stats.MaxDuration {
		t.Errorf("expected min <= avg <= max, got %v %v %v", stats.MinDuration, stats.AvgDuration, stats.MaxDuration)
	}
}

func TestPerfCollector_RollingWindow(t *testing.T) {
	pc := NewPerfCollector(5)

	for i := 0; i < 10; i++ {
		pc.StartIteration()
		pc.StartPhase(PhaseBasis)
		time.Sleep(10 * time.Microsecond)
		pc.EndIteration()
	}

	stats := pc.Stats()
	if stats.AvgDuration <= 0 {
		t.Error("expected positive average duration after window filled")
	}
	if stats.IterationsPerSecond <= 0 {
		t.Error("expected positive iterations per second")
	}
}

func TestPerfCollector_PhasePercentages(t *testing.T) {
	pc := NewPerfCollector(10)

	for i := 0; i < 5; i++ {
		pc.StartIteration()
		pc.StartPhase(PhaseUpdate)
		time.Sleep(10 * time.Microsecond)
		pc.StartPhase(PhaseReduction)
		time.Sleep(2 * time.Millisecond)
		pc.EndIteration()
	}

	stats := pc.Stats()
	if stats.PhasePct[PhaseReduction] <= stats.PhasePct[PhaseUpdate] {
		t.Errorf("expected reduction (%v%%) > update (%v%%)", stats.PhasePct[PhaseReduction], stats.PhasePct[PhaseUpdate])
	}

	row := stats.ToCSV(5)
	if row.Iteration != 5 || row.ReductionPct != stats.PhasePct[PhaseReduction] {
		t.Errorf("unexpected CSV row %+v", row)
	}
}

func TestPerfCollector_EmptyStats(t *testing.T) {
	stats := NewPerfCollector(10).Stats()

	if stats.AvgDuration != 0 {
		t.Error("expected zero avg duration for empty collector")
	}
	if stats.PhaseAvg == nil || stats.PhasePct == nil {
		t.Error("expected non-nil phase maps")
	}
}
