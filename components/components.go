// Package components defines ECS components for the particle set.
package components

import "gonum.org/v1/gonum/spatial/r3"

// Position is a particle centre in physical units, wrapped into the grid box.
type Position struct {
	X, Y, Z float64
}

// Vec returns the position as a vector.
func (p Position) Vec() r3.Vec {
	return r3.Vec{X: p.X, Y: p.Y, Z: p.Z}
}

// Particle holds a particle's slot in the ordered coordinate array.
// Gradients and trace output are indexed by it.
type Particle struct {
	Index int
}
