package grid

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// foldAxis folds the middle dimension of a [outer][n+2p][inner] buffer into
// a [outer][n][inner] buffer. The low halo lands on the high interior edge and
// the high halo on the low interior edge.
func foldAxis(src []float64, outer, n, p, inner int) []float64 {
	padded := n + 2*p
	dst := make([]float64, outer*n*inner)
	for o := 0; o < outer; o++ {
		s := src[o*padded*inner : (o+1)*padded*inner]
		d := dst[o*n*inner : (o+1)*n*inner]
		for i := 0; i < padded; i++ {
			t := (i - p) % n
			if t < 0 {
				t += n
			}
			floats.Add(d[t*inner:(t+1)*inner], s[i*inner:(i+1)*inner])
		}
	}
	return dst
}

// FoldLine folds a padded 1D array along an axis into the interior voxels.
func (g *Grid) FoldLine(line []float64, axis int) ([]float64, error) {
	if len(line) != g.PaddedLen(axis) {
		return nil, fmt.Errorf("line of %d along axis %d: %w", len(line), axis, ErrBufferSize)
	}
	return foldAxis(line, 1, g.NVoxels[axis], g.Padding, 1), nil
}

// Fold folds a padded 3D buffer (row-major, PaddedLen per axis) onto the
// periodic grid. The input is left untouched.
func (g *Grid) Fold(buf []float64) ([]float64, error) {
	return g.FoldStack(buf, 1)
}

// FoldStack folds lead consecutive padded 3D buffers, preserving the leading
// dimension unfolded.
func (g *Grid) FoldStack(buf []float64, lead int) ([]float64, error) {
	if lead < 1 || len(buf) != lead*g.PaddedVolume() {
		return nil, fmt.Errorf("buffer of %d for %d volumes: %w", len(buf), lead, ErrBufferSize)
	}
	n0, n1, n2 := g.NVoxels[0], g.NVoxels[1], g.NVoxels[2]
	p1, p2 := g.PaddedLen(1), g.PaddedLen(2)

	out := foldAxis(buf, lead, n0, g.Padding, p1*p2)
	out = foldAxis(out, lead*n0, n1, g.Padding, p2)
	out = foldAxis(out, lead*n0*n1, n2, g.Padding, 1)
	return out, nil
}
