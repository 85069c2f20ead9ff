// Package viz renders solve diagnostics: the roadmap centerline together
// with a predicted trajectory, as a PNG.
package viz

import (
	"fmt"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"mpctrack/mpc"
	"mpctrack/roadmap"
)

// Render draws the centerline and a trajectory solved in the frame of a
// vehicle at (x, y) with heading psi, transformed back into map coordinates.
func Render(road *roadmap.Roadmap, traj mpc.Trajectory, x, y, psi float64, path string) error {
	p := plot.New()
	p.Title.Text = "MPC path tracking"
	p.X.Label.Text = "x [m]"
	p.Y.Label.Text = "y [m]"

	clX, clY := road.X(), road.Y()
	cl := make(plotter.XYs, len(clX))
	for i := range cl {
		cl[i].X, cl[i].Y = clX[i], clY[i]
	}
	clLine, err := plotter.NewLine(cl)
	if err != nil {
		return fmt.Errorf("viz: centerline: %w", err)
	}

	sin, cos := math.Sincos(psi)
	pred := make(plotter.XYs, len(traj))
	for i, s := range traj {
		pred[i].X = x + s.X*cos - s.Y*sin
		pred[i].Y = y + s.X*sin + s.Y*cos
	}
	predPts, err := plotter.NewScatter(pred)
	if err != nil {
		return fmt.Errorf("viz: trajectory: %w", err)
	}

	p.Add(clLine, predPts)
	p.Legend.Add("centerline", clLine)
	p.Legend.Add("predicted", predPts)

	if err := p.Save(8*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("viz: save: %w", err)
	}
	return nil
}
