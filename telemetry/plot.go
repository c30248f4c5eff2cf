package telemetry

import (
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// PlotTrace renders correlation against iteration as a PNG (or any format
// gonum/plot infers from the path extension).
func PlotTrace(trace Trace, path string) error {
	if len(trace) == 0 {
		return nil
	}

	p := plot.New()
	p.Title.Text = "Correlation trace"
	p.X.Label.Text = "Iteration"
	p.Y.Label.Text = "Correlation"

	pts := make(plotter.XYs, len(trace))
	for i, r := range trace {
		pts[i] = plotter.XY{X: float64(r.Iteration), Y: r.Correlation}
	}

	line, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("building trace line: %w", err)
	}
	line.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	line.Width = vg.Points(1)
	p.Add(line, plotter.NewGrid())

	if err := p.Save(8*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("saving trace plot: %w", err)
	}
	return nil
}
