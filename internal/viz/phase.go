package viz

import (
	"fmt"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/san-kum/linacsim/internal/dynamo"
	"github.com/san-kum/linacsim/internal/envelope"
	"github.com/san-kum/linacsim/internal/storage"
)

// Ellipse is a beam ellipse in one phase space.
type Ellipse struct {
	Twiss envelope.Twiss
	Eps   float64
}

func (e Ellipse) valid() bool {
	return !e.Twiss.IsNaN() && e.Twiss.Beta > 0 && e.Eps > 0 && !math.IsInf(e.Eps, 0)
}

// half extents of the ellipse along both axes
func (e Ellipse) extent() (float64, float64) {
	return math.Sqrt(e.Eps * e.Twiss.Beta), math.Sqrt(e.Eps * e.Twiss.Gamma)
}

// ExitEllipse reads the ellipse of space at the last point of a profile.
func ExitEllipse(p storage.Profile, space envelope.PhaseSpace) (Ellipse, error) {
	cols := make(map[string][]float64, 3)
	for _, q := range []string{"alpha", "beta", "eps"} {
		key := q + "_" + string(space)
		v, ok := p.Column(key)
		if !ok || len(v) == 0 {
			return Ellipse{}, fmt.Errorf("%w: %s", dynamo.ErrNotAvailable, key)
		}
		cols[q] = v
	}
	last := len(cols["eps"]) - 1
	alpha, beta := cols["alpha"][last], cols["beta"][last]
	e := Ellipse{
		Twiss: envelope.Twiss{Alpha: alpha, Beta: beta, Gamma: (1 + alpha*alpha) / beta},
		Eps:   cols["eps"][last],
	}
	if !e.valid() {
		return Ellipse{}, fmt.Errorf("%w: degenerate %s ellipse at exit", dynamo.ErrInvalidState, space)
	}
	return e, nil
}

// PhasePortrait draws the ellipses on a w x h canvas, on common axes
// centred on the origin.
func PhasePortrait(w, h int, ellipses ...Ellipse) (*Canvas, error) {
	var xMax, yMax float64
	for _, e := range ellipses {
		if !e.valid() {
			return nil, fmt.Errorf("%w: degenerate ellipse %+v", dynamo.ErrInvalidState, e)
		}
		x, y := e.extent()
		xMax, yMax = math.Max(xMax, x), math.Max(yMax, y)
	}
	if len(ellipses) == 0 {
		return nil, fmt.Errorf("%w: no ellipse to draw", dynamo.ErrNotAvailable)
	}

	c := NewCanvas(w, h)
	dotsX, dotsY := 2*w-1, 4*h-1
	// 5% margin on each side
	toDot := func(x, y float64) (int, int) {
		u := (x/(1.1*xMax) + 1) / 2
		v := (1 - y/(1.1*yMax)) / 2
		return int(math.Round(u * float64(dotsX))), int(math.Round(v * float64(dotsY)))
	}

	cx, cy := toDot(0, 0)
	c.DrawLine(0, cy, dotsX, cy)
	c.DrawLine(cx, 0, cx, dotsY)

	steps := 4 * (dotsX + dotsY)
	for _, e := range ellipses {
		var px, py int
		for i, p := range e.Points(steps) {
			qx, qy := toDot(p.X, p.Y)
			if i > 0 {
				c.DrawLine(px, py, qx, qy)
			}
			px, py = qx, qy
		}
	}
	return c, nil
}

// Points samples the ellipse contour on n+1 points, the last one closing
// the curve.
func (e Ellipse) Points(n int) plotter.XYs {
	sb, se := math.Sqrt(e.Twiss.Beta), math.Sqrt(e.Eps)
	pts := make(plotter.XYs, n+1)
	for i := range pts {
		theta := 2 * math.Pi * float64(i) / float64(n)
		pts[i].X = se * sb * math.Cos(theta)
		pts[i].Y = -se / sb * (e.Twiss.Alpha*math.Cos(theta) + math.Sin(theta))
	}
	return pts
}

// SavePhasePortrait writes the named ellipses as an image, png or svg
// following the extension of path.
func SavePhasePortrait(path, title string, names []string, ellipses ...Ellipse) error {
	if len(names) != len(ellipses) {
		return fmt.Errorf("%w: %d names for %d ellipses", dynamo.ErrDimensionMismatch, len(names), len(ellipses))
	}
	if len(ellipses) == 0 {
		return fmt.Errorf("%w: no ellipse to draw", dynamo.ErrNotAvailable)
	}
	p := plot.New()
	p.Title.Text = title
	p.Add(plotter.NewGrid())

	lines := make([]any, 0, 2*len(ellipses))
	for i, e := range ellipses {
		if !e.valid() {
			return fmt.Errorf("%w: degenerate ellipse %s", dynamo.ErrInvalidState, names[i])
		}
		lines = append(lines, names[i], e.Points(360))
	}
	if err := plotutil.AddLines(p, lines...); err != nil {
		return err
	}
	return p.Save(5*vg.Inch, 5*vg.Inch, path)
}
