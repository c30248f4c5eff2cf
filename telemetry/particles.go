package telemetry

import (
	"fmt"
	"io"
	"os"

	"github.com/gocarina/gocsv"
	"gonum.org/v1/gonum/spatial/r3"
)

// ParticleRecord is one row of a particle coordinate file.
type ParticleRecord struct {
	Index int     `csv:"index"`
	X     float64 `csv:"x"`
	Y     float64 `csv:"y"`
	Z     float64 `csv:"z"`
}

// WriteParticles writes coordinates as CSV in index order.
func WriteParticles(w io.Writer, coords []r3.Vec) error {
	records := make([]ParticleRecord, len(coords))
	for i, c := range coords {
		records[i] = ParticleRecord{Index: i, X: c.X, Y: c.Y, Z: c.Z}
	}
	if err := gocsv.Marshal(records, w); err != nil {
		return fmt.Errorf("writing particles: %w", err)
	}
	return nil
}

// ReadParticles reads a particle CSV. Rows may appear in any order but the
// indices must be exactly 0..n-1.
func ReadParticles(r io.Reader) ([]r3.Vec, error) {
	var records []ParticleRecord
	if err := gocsv.Unmarshal(r, &records); err != nil {
		return nil, fmt.Errorf("reading particles: %w", err)
	}

	coords := make([]r3.Vec, len(records))
	seen := make([]bool, len(records))
	for _, rec := range records {
		if rec.Index < 0 || rec.Index >= len(records) || seen[rec.Index] {
			return nil, fmt.Errorf("index %d: %w", rec.Index, ErrParticleIndex)
		}
		seen[rec.Index] = true
		coords[rec.Index] = r3.Vec{X: rec.X, Y: rec.Y, Z: rec.Z}
	}
	return coords, nil
}

// SaveParticles writes coordinates to a CSV file.
func SaveParticles(path string, coords []r3.Vec) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := WriteParticles(f, coords); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadParticles reads coordinates from a CSV file.
func LoadParticles(path string) ([]r3.Vec, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	return ReadParticles(f)
}
