package density

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/pthm-cable/densityfit/grid"
)

// Volume is a dense 3D map stored row-major (x slowest, z fastest).
type Volume struct {
	Shape [grid.Axes]int
	Data  []float64
}

// NewVolume allocates a zeroed volume.
func NewVolume(shape [grid.Axes]int) *Volume {
	return &Volume{Shape: shape, Data: make([]float64, shape[0]*shape[1]*shape[2])}
}

// VolumeFromData wraps existing data; the slice is not copied.
func VolumeFromData(shape [grid.Axes]int, data []float64) (*Volume, error) {
	if len(data) != shape[0]*shape[1]*shape[2] {
		return nil, fmt.Errorf("%d values for shape %v: %w", len(data), shape, ErrInvalidShape)
	}
	return &Volume{Shape: shape, Data: data}, nil
}

// Index returns the offset of voxel (i, j, k).
func (v *Volume) Index(i, j, k int) int {
	return (i*v.Shape[1]+j)*v.Shape[2] + k
}

// At returns the value of voxel (i, j, k).
func (v *Volume) At(i, j, k int) float64 {
	return v.Data[v.Index(i, j, k)]
}

// Set assigns the value of voxel (i, j, k).
func (v *Volume) Set(i, j, k int, x float64) {
	v.Data[v.Index(i, j, k)] = x
}

// Sum returns the total mass of the volume.
func (v *Volume) Sum() float64 {
	return floats.Sum(v.Data)
}

// Clone returns a deep copy.
func (v *Volume) Clone() *Volume {
	c := &Volume{Shape: v.Shape, Data: make([]float64, len(v.Data))}
	copy(c.Data, v.Data)
	return c
}

// checkShape reports ErrInvalidShape unless v matches the grid.
func checkShape(v *Volume, g *grid.Grid) error {
	if v == nil {
		return fmt.Errorf("nil map: %w", ErrInvalidShape)
	}
	if v.Shape != g.NVoxels || len(v.Data) != g.Len() {
		return fmt.Errorf("shape %v, grid %v: %w", v.Shape, g.NVoxels, ErrInvalidShape)
	}
	return nil
}
