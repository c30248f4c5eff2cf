// Package session owns the particle set being fitted.
//
// Particles live in an ECS world as entities carrying a Position and a
// Particle index. The index fixes the order used for coordinate snapshots and
// per-particle gradients, independent of the world's storage order.
package session

import (
	"fmt"
	"math"

	"github.com/mlange-42/ark/ecs"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/densityfit/components"
	"github.com/pthm-cable/densityfit/grid"
)

// Session holds the particles of one fit on a periodic grid.
type Session struct {
	grid  *grid.Grid
	world *ecs.World

	mapper *ecs.Map2[components.Position, components.Particle]
	filter *ecs.Filter2[components.Position, components.Particle]
	posMap *ecs.Map1[components.Position]

	entities []ecs.Entity // by Particle.Index
}

// New creates a session holding one particle per coordinate, wrapped into the
// periodic box.
func New(g *grid.Grid, coords []r3.Vec) (*Session, error) {
	world := ecs.NewWorld()
	s := &Session{
		grid:     g,
		world:    world,
		mapper:   ecs.NewMap2[components.Position, components.Particle](world),
		filter:   ecs.NewFilter2[components.Position, components.Particle](world),
		posMap:   ecs.NewMap1[components.Position](world),
		entities: make([]ecs.Entity, 0, len(coords)),
	}

	for i, c := range coords {
		if !finite(c) {
			return nil, fmt.Errorf("particle %d: %w", i, ErrNonFinite)
		}
		pos := s.wrap(c)
		p := components.Particle{Index: i}
		s.entities = append(s.entities, s.mapper.NewEntity(&pos, &p))
	}
	return s, nil
}

// Grid returns the session's grid.
func (s *Session) Grid() *grid.Grid { return s.grid }

// Len returns the number of particles.
func (s *Session) Len() int { return len(s.entities) }

// Coords writes the particle coordinates in index order into dst, growing it
// as needed, and returns it.
func (s *Session) Coords(dst []r3.Vec) []r3.Vec {
	if cap(dst) < len(s.entities) {
		dst = make([]r3.Vec, len(s.entities))
	}
	dst = dst[:len(s.entities)]
	for i, e := range s.entities {
		dst[i] = s.posMap.Get(e).Vec()
	}
	return dst
}

// Set overwrites every coordinate, wrapping into the box.
func (s *Session) Set(coords []r3.Vec) error {
	if len(coords) != len(s.entities) {
		return fmt.Errorf("%w: %d coordinates for %d particles", ErrLength, len(coords), len(s.entities))
	}
	for i, c := range coords {
		if !finite(c) {
			return fmt.Errorf("particle %d: %w", i, ErrNonFinite)
		}
	}
	for i, e := range s.entities {
		*s.posMap.Get(e) = s.wrap(coords[i])
	}
	return nil
}

// Displace moves every particle by scale*d[index] and re-wraps it. Nothing is
// moved if any resulting coordinate would be non-finite.
func (s *Session) Displace(d []r3.Vec, scale float64) error {
	if len(d) != len(s.entities) {
		return fmt.Errorf("%w: %d displacements for %d particles", ErrLength, len(d), len(s.entities))
	}
	for i, e := range s.entities {
		next := r3.Add(s.posMap.Get(e).Vec(), r3.Scale(scale, d[i]))
		if !finite(next) {
			return fmt.Errorf("particle %d: %w", i, ErrNonFinite)
		}
	}

	query := s.filter.Query()
	for query.Next() {
		pos, p := query.Get()
		*pos = s.wrap(r3.Add(pos.Vec(), r3.Scale(scale, d[p.Index])))
	}
	return nil
}

func (s *Session) wrap(v r3.Vec) components.Position {
	return components.Position{
		X: s.grid.Wrap(v.X, 0),
		Y: s.grid.Wrap(v.Y, 1),
		Z: s.grid.Wrap(v.Z, 2),
	}
}

func finite(v r3.Vec) bool {
	return !math.IsNaN(v.X) && !math.IsInf(v.X, 0) &&
		!math.IsNaN(v.Y) && !math.IsInf(v.Y, 0) &&
		!math.IsNaN(v.Z) && !math.IsInf(v.Z, 0)
}
