package density

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// correlationTerms holds the three reductions the correlation and its
// gradient share.
type correlationTerms struct {
	st float64 // Σ S·T
	ss float64 // Σ S²
	tt float64 // Σ T²
}

func newCorrelationTerms(sim, target []float64) (correlationTerms, error) {
	t := correlationTerms{
		st: floats.Dot(sim, target),
		ss: floats.Dot(sim, sim),
		tt: floats.Dot(target, target),
	}
	if t.ss == 0 {
		return t, fmt.Errorf("simulated map: %w", ErrDegenerateMap)
	}
	if t.tt == 0 {
		return t, fmt.Errorf("target map: %w", ErrDegenerateMap)
	}
	return t, nil
}

// den1 is ‖S‖‖T‖.
func (t correlationTerms) den1() float64 {
	return math.Sqrt(t.ss) * math.Sqrt(t.tt)
}

func (t correlationTerms) value() float64 {
	return t.st / t.den1()
}

// Correlation returns Σ(S·T) / sqrt(Σ(S²)·Σ(T²)).
// Zero-norm maps yield ErrDegenerateMap rather than NaN.
func Correlation(sim, target *Volume) (float64, error) {
	if sim == nil || target == nil {
		return 0, fmt.Errorf("nil map: %w", ErrInvalidShape)
	}
	if sim.Shape != target.Shape || len(sim.Data) != len(target.Data) {
		return 0, fmt.Errorf("shapes %v and %v: %w", sim.Shape, target.Shape, ErrInvalidShape)
	}
	t, err := newCorrelationTerms(sim.Data, target.Data)
	if err != nil {
		return 0, err
	}
	return t.value(), nil
}
