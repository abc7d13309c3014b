package viz

import (
	"fmt"
	"math"

	"github.com/guptarohit/asciigraph"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/san-kum/linacsim/internal/dynamo"
)

// Series is one named curve. X may be nil, in which case points are
// indexed.
type Series struct {
	Name string
	X    []float64
	Y    []float64
}

func (s Series) finite() bool {
	for _, v := range s.Y {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			return true
		}
	}
	return false
}

var seriesColors = []asciigraph.AnsiColor{asciigraph.Default, asciigraph.Red, asciigraph.Green, asciigraph.Blue}

// PlotSeries renders the series in the terminal. Curves are resampled to
// width columns; NaN values leave gaps.
func PlotSeries(caption string, width, height int, series ...Series) (string, error) {
	var data [][]float64
	var names []string
	for _, s := range series {
		if !s.finite() {
			continue
		}
		data = append(data, s.Y)
		names = append(names, s.Name)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: nothing finite to plot", dynamo.ErrNotAvailable)
	}

	opts := []asciigraph.Option{
		asciigraph.Height(height),
		asciigraph.Width(width),
		asciigraph.Caption(caption),
	}
	if len(data) > 1 {
		opts = append(opts,
			asciigraph.SeriesColors(seriesColors[:min(len(data), len(seriesColors))]...),
			asciigraph.SeriesLegends(names...))
	}
	return asciigraph.PlotMany(data, opts...), nil
}

// SavePNG writes the series as a line plot. The image format follows the
// extension of path.
func SavePNG(path, title, xLabel, yLabel string, series ...Series) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xLabel
	p.Y.Label.Text = yLabel
	p.Add(plotter.NewGrid())

	var lines []any
	for _, s := range series {
		pts := make(plotter.XYs, 0, len(s.Y))
		for i, y := range s.Y {
			x := float64(i)
			if s.X != nil {
				x = s.X[i]
			}
			if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(y, 0) {
				continue
			}
			pts = append(pts, plotter.XY{X: x, Y: y})
		}
		if len(pts) == 0 {
			continue
		}
		lines = append(lines, s.Name, pts)
	}
	if len(lines) == 0 {
		return fmt.Errorf("%w: nothing finite to plot", dynamo.ErrNotAvailable)
	}
	if err := plotutil.AddLines(p, lines...); err != nil {
		return err
	}
	return p.Save(8*vg.Inch, 4*vg.Inch, path)
}
