package fit

import "errors"

var (
	// ErrNumericalDivergence is returned when a gradient or an updated
	// coordinate is not finite. The particle set is left at its last finite
	// state.
	ErrNumericalDivergence = errors.New("fit: numerical divergence")

	// ErrInvalidOptions is returned for out-of-range optimizer settings.
	ErrInvalidOptions = errors.New("fit: invalid options")
)
