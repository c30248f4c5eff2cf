// Package grid describes the periodic voxel grid a density is simulated on.
//
// A Grid carries a halo of Padding voxels on both sides of every axis. Accumulation
// may write into the halo freely; Fold then adds each halo slab into the interior
// slab it wraps onto, giving the toroidal result.
package grid

import (
	"fmt"
	"math"
)

// Axes is the number of spatial axes.
const Axes = 3

// Grid is the immutable geometry of a periodic voxel grid.
type Grid struct {
	NVoxels   [Axes]int
	VoxelSize [Axes]float64
	Padding   int

	// bounds[a] holds the padded voxel boundary coordinates along axis a:
	// (-Padding .. NVoxels[a]+Padding) * VoxelSize[a], length NVoxels[a]+2*Padding+1.
	bounds [Axes][]float64
}

// New creates a grid after validating its geometry.
func New(nVoxels [Axes]int, voxelSize [Axes]float64, padding int) (*Grid, error) {
	if padding < 0 {
		return nil, fmt.Errorf("padding %d: %w", padding, ErrInvalidGrid)
	}
	for a := 0; a < Axes; a++ {
		if nVoxels[a] <= 0 || !(voxelSize[a] > 0) || math.IsInf(voxelSize[a], 0) {
			return nil, fmt.Errorf("axis %d (n=%d, size=%g): %w", a, nVoxels[a], voxelSize[a], ErrInvalidGrid)
		}
	}

	g := &Grid{NVoxels: nVoxels, VoxelSize: voxelSize, Padding: padding}
	for a := 0; a < Axes; a++ {
		b := make([]float64, nVoxels[a]+2*padding+1)
		for i := range b {
			b[i] = float64(i-padding) * voxelSize[a]
		}
		g.bounds[a] = b
	}
	return g, nil
}

// MustNew is like New but panics on error.
func MustNew(nVoxels [Axes]int, voxelSize [Axes]float64, padding int) *Grid {
	g, err := New(nVoxels, voxelSize, padding)
	if err != nil {
		panic(fmt.Sprintf("grid: %v", err))
	}
	return g
}

// Boundaries returns the padded boundary coordinates along an axis.
// The slice is shared and must not be modified.
func (g *Grid) Boundaries(axis int) []float64 {
	return g.bounds[axis]
}

// Extent returns the periodic length of an axis.
func (g *Grid) Extent(axis int) float64 {
	return float64(g.NVoxels[axis]) * g.VoxelSize[axis]
}

// PaddedLen returns the number of voxels along an axis including both halos.
func (g *Grid) PaddedLen(axis int) int {
	return g.NVoxels[axis] + 2*g.Padding
}

// Len returns the number of interior voxels.
func (g *Grid) Len() int {
	return g.NVoxels[0] * g.NVoxels[1] * g.NVoxels[2]
}

// PaddedVolume returns the number of voxels in a padded buffer.
func (g *Grid) PaddedVolume() int {
	return g.PaddedLen(0) * g.PaddedLen(1) * g.PaddedLen(2)
}

// Index returns the row-major offset of interior voxel (i, j, k).
func (g *Grid) Index(i, j, k int) int {
	return (i*g.NVoxels[1]+j)*g.NVoxels[2] + k
}

// WrapIndex maps a padded voxel index along an axis onto its interior voxel.
func (g *Grid) WrapIndex(padded, axis int) int {
	n := g.NVoxels[axis]
	i := (padded - g.Padding) % n
	if i < 0 {
		i += n
	}
	return i
}

// Wrap maps a coordinate onto [0, Extent(axis)).
// A single extent is added or removed first; larger excursions fall back to math.Mod.
func (g *Grid) Wrap(x float64, axis int) float64 {
	l := g.Extent(axis)
	if x >= l {
		x -= l
	} else if x < 0 {
		x += l
	}
	if x < 0 || x >= l {
		x = math.Mod(x, l)
		if x < 0 {
			x += l
		}
	}
	return x
}

// SupportVoxels returns the number of voxels a support window of radius
// multiplier*sigma reaches along an axis.
func (g *Grid) SupportVoxels(sigma, multiplier float64, axis int) int {
	return int(math.Ceil(multiplier * sigma / g.VoxelSize[axis]))
}

// CheckSupport reports ErrInsufficientPadding when a particle's support window
// could reach past the halo on some axis.
func (g *Grid) CheckSupport(sigma [Axes]float64, multiplier float64) error {
	for a := 0; a < Axes; a++ {
		need := g.SupportVoxels(sigma[a], multiplier, a)
		if g.Padding < need {
			return fmt.Errorf("axis %d needs padding %d, have %d: %w", a, need, g.Padding, ErrInsufficientPadding)
		}
	}
	return nil
}
