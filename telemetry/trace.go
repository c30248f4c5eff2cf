package telemetry

import (
	"log/slog"
	"time"

	"github.com/pthm-cable/densityfit/density"
)

// TraceRecord is one reported optimizer iteration.
type TraceRecord struct {
	Iteration   int     `csv:"iteration"`
	Correlation float64 `csv:"correlation"`
	StepScale   float64 `csv:"step_scale"` // 0 when the step was skipped

	// Position-gradient magnitudes over particles
	MaxGradient  float64 `csv:"max_gradient"` // largest single component
	GradientMean float64 `csv:"gradient_mean"`
	GradientP50  float64 `csv:"gradient_p50"`
	GradientP90  float64 `csv:"gradient_p90"`

	// Derivative of the correlation with respect to the shared sigma
	SigmaGradX float64 `csv:"sigma_grad_x"`
	SigmaGradY float64 `csv:"sigma_grad_y"`
	SigmaGradZ float64 `csv:"sigma_grad_z"`

	ElapsedMS float64 `csv:"elapsed_ms"`
}

// NewTraceRecord summarizes an evaluation taken at the start of an iteration.
func NewTraceRecord(iteration int, ev *density.Evaluation, stepScale float64, elapsed time.Duration) TraceRecord {
	gs := ComputeGradientStats(ev.Gradients)
	sg := ev.SigmaGradient()
	return TraceRecord{
		Iteration:    iteration,
		Correlation:  ev.Correlation,
		StepScale:    stepScale,
		MaxGradient:  ev.MaxPositionGradient(),
		GradientMean: gs.Mean,
		GradientP50:  gs.P50,
		GradientP90:  gs.P90,
		SigmaGradX:   sg[0],
		SigmaGradY:   sg[1],
		SigmaGradZ:   sg[2],
		ElapsedMS:    float64(elapsed.Microseconds()) / 1000,
	}
}

// LogValue implements slog.LogValuer for structured logging.
func (r TraceRecord) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("iteration", r.Iteration),
		slog.Float64("correlation", r.Correlation),
		slog.Float64("step_scale", r.StepScale),
		slog.Float64("max_gradient", r.MaxGradient),
		slog.Float64("gradient_p50", r.GradientP50),
		slog.Float64("gradient_p90", r.GradientP90),
		slog.Float64("elapsed_ms", r.ElapsedMS),
	)
}

// Trace is the ordered list of reported iterations of one fit.
type Trace []TraceRecord

// Correlations returns the correlation column.
func (t Trace) Correlations() []float64 {
	out := make([]float64, len(t))
	for i, r := range t {
		out[i] = r.Correlation
	}
	return out
}
