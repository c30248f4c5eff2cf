package density

import "errors"

var (
	// ErrInvalidShape indicates a map whose shape differs from the grid's voxel counts.
	ErrInvalidShape = errors.New("density: map shape does not match grid")
	// ErrInvalidSigma indicates a smoothing width component that is not strictly positive.
	ErrInvalidSigma = errors.New("density: sigma components must be positive")
	// ErrInvalidMultiplier indicates a non-positive support window multiplier.
	ErrInvalidMultiplier = errors.New("density: support multiplier must be positive")
	// ErrDegenerateMap indicates a simulated or target map with zero norm.
	ErrDegenerateMap = errors.New("density: map has zero norm, correlation undefined")
	// ErrNoParticles indicates an empty particle set.
	ErrNoParticles = errors.New("density: no particles")
	// ErrNonFinite indicates a NaN or infinite particle coordinate.
	ErrNonFinite = errors.New("density: non-finite coordinate")
)
