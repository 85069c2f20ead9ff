// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package refpath fits a local polynomial through the centerline samples
// ahead of the vehicle, in the vehicle frame. The coefficient vector is the
// tracking target the MPC cost evaluates against.
package refpath

import (
	"errors"
	"fmt"
	"math"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"

	"mpctrack/roadmap"
)

// ErrEndOfPath reports that the local window ahead of the vehicle is too
// short or too degenerate for a well-conditioned fit.
var ErrEndOfPath = errors.New("refpath: end of path")

// Coeffs are polynomial coefficients in ascending order: f(x) = c0 + c1·x + …
// They describe the path in vehicle-relative coordinates.
type Coeffs []float64

// Eval returns f(x).
func (c Coeffs) Eval(x float64) float64 {
	v := 0.0
	for i := len(c) - 1; i >= 0; i-- {
		v = v*x + c[i]
	}
	return v
}

// Deriv returns the k-th derivative of f at x. Deriv(0, x) == Eval(x).
func (c Coeffs) Deriv(k int, x float64) float64 {
	v := 0.0
	for i := len(c) - 1; i >= k; i-- {
		f := 1.0
		for j := 0; j < k; j++ {
			f *= float64(i - j)
		}
		v = v*x + f*c[i]
	}
	return v
}

// Fitter selects the centerline window ahead of the vehicle and fits a
// fixed-degree polynomial through it by least squares.
type Fitter struct {
	// Degree of the fitted polynomial (default 3).
	Degree int
	// Window is the number of centerline samples to fit through (default 20).
	Window int
	// MinSpread is the minimum local-x extent of the window for the fit to
	// count as well-conditioned (default 1e-3).
	MinSpread float64
}

func (f *Fitter) degree() int {
	if f.Degree <= 0 {
		return 3
	}
	return f.Degree
}

func (f *Fitter) window() int {
	if f.Window <= 0 {
		return 20
	}
	return f.Window
}

func (f *Fitter) minSpread() float64 {
	if f.MinSpread <= 0 {
		return 1e-3
	}
	return f.MinSpread
}

// Fit returns the coefficient vector for the path window at/ahead of the
// nearest centerline sample to (x, y), transformed into the frame of a
// vehicle at (x, y) with heading psi. It returns ErrEndOfPath when fewer
// than degree+1 points remain or the window has no usable spread.
func (f *Fitter) Fit(road *roadmap.Roadmap, x, y, psi float64) (Coeffs, error) {
	deg, win := f.degree(), f.window()

	start := road.Nearest(r2.Point{X: x, Y: y})
	if start < 0 {
		return nil, fmt.Errorf("%w: empty roadmap", ErrEndOfPath)
	}
	end := start + win
	if end > road.Len() {
		end = road.Len()
	}
	count := end - start
	if count < deg+1 {
		return nil, fmt.Errorf("%w: %d points left, need %d", ErrEndOfPath, count, deg+1)
	}

	sin, cos := math.Sincos(psi)
	lx := make([]float64, count)
	ly := make([]float64, count)
	minX, maxX := math.Inf(1), math.Inf(-1)
	for i := 0; i < count; i++ {
		p := road.Point(start + i)
		dx, dy := p.X-x, p.Y-y
		lx[i] = dx*cos + dy*sin
		ly[i] = -dx*sin + dy*cos
		minX = math.Min(minX, lx[i])
		maxX = math.Max(maxX, lx[i])
	}
	if maxX-minX < f.minSpread() {
		return nil, fmt.Errorf("%w: window spread %g below %g", ErrEndOfPath, maxX-minX, f.minSpread())
	}

	vand := mat.NewDense(count, deg+1, nil)
	for i := 0; i < count; i++ {
		v := 1.0
		for j := 0; j <= deg; j++ {
			vand.Set(i, j, v)
			v *= lx[i]
		}
	}

	var qr mat.QR
	qr.Factorize(vand)
	var sol mat.VecDense
	if err := qr.SolveVecTo(&sol, false, mat.NewVecDense(count, ly)); err != nil {
		return nil, fmt.Errorf("refpath: degenerate fit: %w", err)
	}

	coeffs := make(Coeffs, deg+1)
	copy(coeffs, sol.RawVector().Data)
	return coeffs, nil
}
