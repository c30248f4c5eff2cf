package telemetry

import "errors"

// ErrParticleIndex is returned when a particle file does not hold exactly the
// indices 0..n-1.
var ErrParticleIndex = errors.New("telemetry: particle indices must be 0..n-1")
