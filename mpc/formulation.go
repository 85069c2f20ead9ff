// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mpc formulates the path-tracking model predictive control problem
// as a sparse NLP and drives it through an external solver each control cycle.
//
// The decision vector packs one block per horizon step k:
//
//	[ x y psi v cte epsi | delta a ]   (stride 8, 0-based)
//
// State evolves under a forward-Euler kinematic bicycle model with fixed
// timestep dt; the consistency residuals between consecutive steps are
// equality constraints, and the initial state is pinned through the step-0
// variable bounds.
package mpc

import (
	"errors"
	"fmt"
	"math"

	"mpctrack/nlp"
	"mpctrack/refpath"
)

const (
	numState = 6
	numAct   = 2
	stride   = numState + numAct
)

// Relative offsets within one step block.
const (
	ixX = iota
	ixY
	ixPsi
	ixV
	ixCTE
	ixEPsi
	ixDelta
	ixA
)

// Per dynamics block: 4 (x') + 4 (y') + 4 (psi') + 3 (v') + 5 (cte') + 5 (epsi').
const jacPerStep = 25

// Lower triangle per step block: 7 diagonal + (v,psi) + (epsi,v) + (delta,v).
const hessPerStep = 10

// Actuation-rate couplings per adjacent pair: (delta',delta) and (a',a).
const hessCross = 2

var (
	// ErrBadState reports a state vector that is not 6 finite values.
	ErrBadState = errors.New("mpc: state must be 6 finite values")
	// ErrBadCoeffs reports a coefficient vector of unexpected length.
	ErrBadCoeffs = errors.New("mpc: coefficient vector has unexpected length")
)

// Formulation is one per-solve instance of the tracking NLP. Bounds and
// derivative structure are fixed at creation; only the starting point and
// the reference coefficients vary between cycles. It is not safe for
// concurrent use.
type Formulation struct {
	cfg    Config
	x0     []float64
	coeffs refpath.Coeffs
	warm   []float64

	// captured by Finalize for the solution extractor
	status    nlp.Status
	sol       []float64
	lambda    []float64
	obj       float64
	finalized bool
}

// NewFormulation builds the tracking NLP for the given measured state
// [x y psi v cte epsi] and reference coefficients (length cfg.Degree+1).
func NewFormulation(cfg Config, state []float64, coeffs refpath.Coeffs) (*Formulation, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if len(state) != numState {
		return nil, fmt.Errorf("%w: got %d values", ErrBadState, len(state))
	}
	for _, v := range state {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: non-finite entry", ErrBadState)
		}
	}
	if len(coeffs) != cfg.Degree+1 {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrBadCoeffs, len(coeffs), cfg.Degree+1)
	}
	f := &Formulation{cfg: cfg}
	f.x0 = append(f.x0, state...)
	f.coeffs = append(refpath.Coeffs(nil), coeffs...)
	return f, nil
}

// SetWarmStart seeds the next StartingPoint query with a full decision
// vector, typically the previous cycle's solution shifted by one step.
func (f *Formulation) SetWarmStart(x []float64) error {
	if len(x) != f.n() {
		return fmt.Errorf("mpc: warm start length %d, want %d", len(x), f.n())
	}
	f.warm = append(f.warm[:0], x...)
	return nil
}

func (f *Formulation) n() int { return f.cfg.Horizon * stride }
func (f *Formulation) m() int { return (f.cfg.Horizon - 1) * numState }

// Info implements nlp.Problem.
func (f *Formulation) Info() nlp.Info {
	blocks := f.cfg.Horizon - 1
	return nlp.Info{
		N:       f.n(),
		M:       f.m(),
		NnzJac:  jacPerStep * blocks,
		NnzHess: hessPerStep*f.cfg.Horizon + hessCross*blocks,
		Index:   nlp.CStyle,
	}
}

// Bounds implements nlp.Problem. Dynamics residuals are equalities (zero
// both sides); actuation limits are box bounds; the step-0 state is pinned
// to the measured state by equal bounds.
func (f *Formulation) Bounds(xl, xu, gl, gu []float64) {
	for i := range xl {
		xl[i], xu[i] = nlp.NegInf, nlp.Inf
	}
	for k := 0; k < f.cfg.Horizon; k++ {
		bx := k * stride
		xl[bx+ixDelta], xu[bx+ixDelta] = -f.cfg.MaxSteer, f.cfg.MaxSteer
		xl[bx+ixA], xu[bx+ixA] = -f.cfg.MaxAccel, f.cfg.MaxAccel
	}
	for i, v := range f.x0 {
		xl[i], xu[i] = v, v
	}
	for j := range gl {
		gl[j], gu[j] = 0, 0
	}
}

// StartingPoint implements nlp.Problem. A warm start replays the seeded
// vector; a cold start replicates the measured state across the horizon
// with zero actuation.
func (f *Formulation) StartingPoint(x []float64) {
	if f.warm != nil {
		copy(x, f.warm)
		return
	}
	for k := 0; k < f.cfg.Horizon; k++ {
		bx := k * stride
		copy(x[bx:bx+numState], f.x0)
		x[bx+ixDelta], x[bx+ixA] = 0, 0
	}
}

// Objective implements nlp.Problem: tracking error plus actuation effort
// plus actuation rate, with an extra terminal weight on the final step.
func (f *Formulation) Objective(x []float64) float64 {
	w, nStep := f.cfg.Weights, f.cfg.Horizon
	obj := 0.0
	for k := 0; k < nStep; k++ {
		bx := k * stride
		cte, epsi := x[bx+ixCTE], x[bx+ixEPsi]
		dv := x[bx+ixV] - f.cfg.RefVelocity
		obj += w.CTE*cte*cte + w.EPsi*epsi*epsi + w.Vel*dv*dv
		obj += w.Steer*x[bx+ixDelta]*x[bx+ixDelta] + w.Accel*x[bx+ixA]*x[bx+ixA]
		if k == nStep-1 {
			obj += w.Terminal * (cte*cte + epsi*epsi)
		}
		if k < nStep-1 {
			dd := x[bx+stride+ixDelta] - x[bx+ixDelta]
			da := x[bx+stride+ixA] - x[bx+ixA]
			obj += w.SteerRate*dd*dd + w.AccelRate*da*da
		}
	}
	return obj
}

// Gradient implements nlp.Problem with the exact analytic derivative of
// Objective. Variables absent from a term contribute zero.
func (f *Formulation) Gradient(x, grad []float64) {
	w, nStep := f.cfg.Weights, f.cfg.Horizon
	for i := range grad[:f.n()] {
		grad[i] = 0
	}
	for k := 0; k < nStep; k++ {
		bx := k * stride
		grad[bx+ixCTE] += 2 * w.CTE * x[bx+ixCTE]
		grad[bx+ixEPsi] += 2 * w.EPsi * x[bx+ixEPsi]
		grad[bx+ixV] += 2 * w.Vel * (x[bx+ixV] - f.cfg.RefVelocity)
		grad[bx+ixDelta] += 2 * w.Steer * x[bx+ixDelta]
		grad[bx+ixA] += 2 * w.Accel * x[bx+ixA]
		if k == nStep-1 {
			grad[bx+ixCTE] += 2 * w.Terminal * x[bx+ixCTE]
			grad[bx+ixEPsi] += 2 * w.Terminal * x[bx+ixEPsi]
		}
		if k < nStep-1 {
			dd := x[bx+stride+ixDelta] - x[bx+ixDelta]
			da := x[bx+stride+ixA] - x[bx+ixA]
			grad[bx+stride+ixDelta] += 2 * w.SteerRate * dd
			grad[bx+ixDelta] -= 2 * w.SteerRate * dd
			grad[bx+stride+ixA] += 2 * w.AccelRate * da
			grad[bx+ixA] -= 2 * w.AccelRate * da
		}
	}
}

// Constraints implements nlp.Problem. Residual block k is the step k+1
// state minus the discretized dynamics applied at step k:
//
//	x'    = x + v·cos(psi)·dt
//	y'    = y + v·sin(psi)·dt
//	psi'  = psi + v/Lf·delta·dt
//	v'    = v + a·dt
//	cte'  = (f(x) - y) + v·sin(epsi)·dt
//	epsi' = (psi - atan(f'(x))) + v/Lf·delta·dt
func (f *Formulation) Constraints(x, g []float64) {
	dt, lf := f.cfg.Dt, f.cfg.Lf
	for k := 0; k < f.cfg.Horizon-1; k++ {
		bx, bg := k*stride, k*numState
		s, s1 := x[bx:bx+stride], x[bx+stride:bx+2*stride]
		sin, cos := math.Sincos(s[ixPsi])
		sinE := math.Sin(s[ixEPsi])
		fx := f.coeffs.Eval(s[ixX])
		psiDes := math.Atan(f.coeffs.Deriv(1, s[ixX]))

		g[bg+ixX] = s1[ixX] - (s[ixX] + s[ixV]*cos*dt)
		g[bg+ixY] = s1[ixY] - (s[ixY] + s[ixV]*sin*dt)
		g[bg+ixPsi] = s1[ixPsi] - (s[ixPsi] + s[ixV]/lf*s[ixDelta]*dt)
		g[bg+ixV] = s1[ixV] - (s[ixV] + s[ixA]*dt)
		g[bg+ixCTE] = s1[ixCTE] - ((fx - s[ixY]) + s[ixV]*sinE*dt)
		g[bg+ixEPsi] = s1[ixEPsi] - ((s[ixPsi] - psiDes) + s[ixV]/lf*s[ixDelta]*dt)
	}
}

// Jacobian implements nlp.Problem. Structure and value calls walk the same
// fixed emission order, so count and order always agree.
func (f *Formulation) Jacobian(x []float64, iRow, jCol []int, values []float64) {
	structure := values == nil
	if x == nil {
		x = make([]float64, f.n())
	}
	k := 0
	emit := func(row, col int, val float64) {
		if structure {
			iRow[k], jCol[k] = row, col
		} else {
			values[k] = val
		}
		k++
	}

	dt, lf := f.cfg.Dt, f.cfg.Lf
	for step := 0; step < f.cfg.Horizon-1; step++ {
		bx, bg := step*stride, step*numState
		s := x[bx : bx+stride]
		sin, cos := math.Sincos(s[ixPsi])
		sinE, cosE := math.Sincos(s[ixEPsi])
		u := f.coeffs.Deriv(1, s[ixX])

		// x' - (x + v·cos(psi)·dt)
		emit(bg+ixX, bx+stride+ixX, 1)
		emit(bg+ixX, bx+ixX, -1)
		emit(bg+ixX, bx+ixPsi, s[ixV]*sin*dt)
		emit(bg+ixX, bx+ixV, -cos*dt)

		// y' - (y + v·sin(psi)·dt)
		emit(bg+ixY, bx+stride+ixY, 1)
		emit(bg+ixY, bx+ixY, -1)
		emit(bg+ixY, bx+ixPsi, -s[ixV]*cos*dt)
		emit(bg+ixY, bx+ixV, -sin*dt)

		// psi' - (psi + v/Lf·delta·dt)
		emit(bg+ixPsi, bx+stride+ixPsi, 1)
		emit(bg+ixPsi, bx+ixPsi, -1)
		emit(bg+ixPsi, bx+ixV, -s[ixDelta]*dt/lf)
		emit(bg+ixPsi, bx+ixDelta, -s[ixV]*dt/lf)

		// v' - (v + a·dt)
		emit(bg+ixV, bx+stride+ixV, 1)
		emit(bg+ixV, bx+ixV, -1)
		emit(bg+ixV, bx+ixA, -dt)

		// cte' - ((f(x) - y) + v·sin(epsi)·dt)
		emit(bg+ixCTE, bx+stride+ixCTE, 1)
		emit(bg+ixCTE, bx+ixX, -u)
		emit(bg+ixCTE, bx+ixY, 1)
		emit(bg+ixCTE, bx+ixV, -sinE*dt)
		emit(bg+ixCTE, bx+ixEPsi, -s[ixV]*cosE*dt)

		// epsi' - ((psi - atan(f'(x))) + v/Lf·delta·dt)
		w2 := f.coeffs.Deriv(2, s[ixX])
		emit(bg+ixEPsi, bx+stride+ixEPsi, 1)
		emit(bg+ixEPsi, bx+ixPsi, -1)
		emit(bg+ixEPsi, bx+ixX, w2/(1+u*u))
		emit(bg+ixEPsi, bx+ixV, -s[ixDelta]*dt/lf)
		emit(bg+ixEPsi, bx+ixDelta, -s[ixV]*dt/lf)
	}

	if k != jacPerStep*(f.cfg.Horizon-1) {
		panic("mpc: jacobian entry count mismatch")
	}
}

// Hessian implements nlp.Problem: the lower triangle of
// sigma·∇²f + Σ lambda_j·∇²g_j over a fixed superset pattern. Entries with
// no curvature at the current iterate carry an explicit zero.
func (f *Formulation) Hessian(x []float64, sigma float64, lambda []float64, iRow, jCol []int, values []float64) {
	structure := values == nil
	if x == nil {
		x = make([]float64, f.n())
	}
	if lambda == nil {
		lambda = make([]float64, f.m())
	}
	k := 0
	emit := func(row, col int, val float64) {
		if structure {
			iRow[k], jCol[k] = row, col
		} else {
			values[k] = val
		}
		k++
	}

	w, nStep := f.cfg.Weights, f.cfg.Horizon
	dt, lf := f.cfg.Dt, f.cfg.Lf
	for step := 0; step < nStep; step++ {
		bx := step * stride
		s := x[bx : bx+stride]
		sin, cos := math.Sincos(s[ixPsi])
		sinE, cosE := math.Sincos(s[ixEPsi])

		// multipliers of the dynamics block anchored at this step
		lam := func(i int) float64 {
			if step >= nStep-1 {
				return 0
			}
			return lambda[step*numState+i]
		}

		u := f.coeffs.Deriv(1, s[ixX])
		w2 := f.coeffs.Deriv(2, s[ixX])
		w3 := f.coeffs.Deriv(3, s[ixX])
		den := 1 + u*u
		// d/dx of the epsi residual's atan(f'(x)) slope term
		ddPsiDes := (w3*den - 2*u*w2*w2) / (den * den)

		term := 0.0
		if step == nStep-1 {
			term = 2 * w.Terminal
		}
		rateL, rateR := 0.0, 0.0
		if step < nStep-1 {
			rateR = 1
		}
		if step > 0 {
			rateL = 1
		}

		emit(bx+ixX, bx+ixX, lam(ixCTE)*(-w2)+lam(ixEPsi)*ddPsiDes)
		emit(bx+ixPsi, bx+ixPsi, lam(ixX)*s[ixV]*cos*dt+lam(ixY)*s[ixV]*sin*dt)
		emit(bx+ixV, bx+ixV, sigma*2*w.Vel)
		emit(bx+ixCTE, bx+ixCTE, sigma*(2*w.CTE+term))
		emit(bx+ixEPsi, bx+ixEPsi, sigma*(2*w.EPsi+term)+lam(ixCTE)*s[ixV]*sinE*dt)
		emit(bx+ixDelta, bx+ixDelta, sigma*(2*w.Steer+2*w.SteerRate*(rateL+rateR)))
		emit(bx+ixA, bx+ixA, sigma*(2*w.Accel+2*w.AccelRate*(rateL+rateR)))

		emit(bx+ixV, bx+ixPsi, lam(ixX)*sin*dt-lam(ixY)*cos*dt)
		emit(bx+ixEPsi, bx+ixV, lam(ixCTE)*(-cosE*dt))
		emit(bx+ixDelta, bx+ixV, (lam(ixPsi)+lam(ixEPsi))*(-dt/lf))

		if step < nStep-1 {
			emit(bx+stride+ixDelta, bx+ixDelta, sigma*(-2*w.SteerRate))
			emit(bx+stride+ixA, bx+ixA, sigma*(-2*w.AccelRate))
		}
	}

	if k != hessPerStep*nStep+hessCross*(nStep-1) {
		panic("mpc: hessian entry count mismatch")
	}
}

// Finalize implements nlp.Problem: it only captures the terminal data for
// the solution extractor.
func (f *Formulation) Finalize(status nlp.Status, x, lambda []float64, obj float64) {
	f.status = status
	f.sol = append(f.sol[:0], x...)
	f.lambda = append(f.lambda[:0], lambda...)
	f.obj = obj
	f.finalized = true
}

// Result returns the data captured by the terminal callback.
func (f *Formulation) Result() (nlp.Status, []float64, float64) {
	return f.status, f.sol, f.obj
}

var _ nlp.Problem = (*Formulation)(nil)
