// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package nlp defines the callback contract a sparse nonlinear program
// presents to a generic NLP solver, and a bridge that drives such a
// problem through the SLSQP optimizer.
//
// A Problem is queried repeatedly during one blocking solve. The derivative
// callbacks are dual-mode: with a nil values slice the call is a structure
// query and must populate the fixed (row, col) pattern; with a non-nil
// values slice it must populate the corresponding entry values at the given
// iterate. Pattern size and entry order are fixed for the lifetime of one
// Problem instance and must agree between the two modes on every call.
package nlp

import "math"

// IndexStyle is the row/column index origin a Problem reports its
// sparse patterns in. It is fixed at construction.
type IndexStyle int

const (
	// CStyle indices start at 0.
	CStyle IndexStyle = iota
	// FortranStyle indices start at 1.
	FortranStyle
)

// Status is the terminal state reported to Problem.Finalize.
type Status int

const (
	// Optimal the solver converged to a feasible optimum.
	Optimal Status = iota
	// Infeasible the constraints could not be satisfied.
	Infeasible
	// IterationLimit the iteration budget ran out before convergence.
	IterationLimit
	// Failure a numerical or evaluation error stopped the solver.
	Failure
)

func (s Status) String() string {
	switch s {
	case Optimal:
		return "optimal"
	case Infeasible:
		return "infeasible"
	case IterationLimit:
		return "iteration-limit"
	case Failure:
		return "failure"
	default:
		return "unknown"
	}
}

// Info describes the fixed shape of one Problem instance.
type Info struct {
	N       int // number of decision variables
	M       int // number of constraint rows
	NnzJac  int // non-zero count of the constraint Jacobian
	NnzHess int // non-zero count of the lower-triangular Hessian of the Lagrangian
	Index   IndexStyle
}

// Unbounded sentinels for Bounds. A variable or constraint side set to
// ±Inf carries no bound; equality is encoded as lower == upper.
var (
	Inf    = math.Inf(1)
	NegInf = math.Inf(-1)
)

// Problem is the capability set an NLP solver consumes.
//
// No callback is reentrant and no two callbacks for the same instance run
// concurrently; an instance must not be shared across concurrent solves.
type Problem interface {
	// Info reports n, m, the derivative non-zero counts and the index origin.
	// It must be consistent with every other callback for the instance lifetime.
	Info() Info

	// Bounds fills the variable bounds (xl, xu; length n) and the constraint
	// bounds (gl, gu; length m) using the ±Inf sentinels for unbounded sides.
	Bounds(xl, xu, gl, gu []float64)

	// StartingPoint fills the initial guess for the n decision variables.
	StartingPoint(x []float64)

	// Objective returns 𝒇(𝐱).
	Objective(x []float64) float64

	// Gradient fills grad (length n) with 𝒇′(𝐱).
	Gradient(x, grad []float64)

	// Constraints fills g (length m) with the constraint residuals 𝒄(𝐱).
	Constraints(x, g []float64)

	// Jacobian is dual-mode: if values is nil it fills iRow/jCol (length
	// NnzJac) with the fixed sparsity pattern and may ignore x; otherwise it
	// fills values (length NnzJac) with the partials at x, in pattern order.
	Jacobian(x []float64, iRow, jCol []int, values []float64)

	// Hessian is dual-mode like Jacobian, for the lower triangle of
	// σ𝜵²𝒇(𝐱) + ∑λⱼ𝜵²𝒄ⱼ(𝐱) with objective factor σ and multipliers λ.
	Hessian(x []float64, sigma float64, lambda []float64, iRow, jCol []int, values []float64)

	// Finalize is invoked exactly once when the solver terminates, with the
	// final status, the last iterate, the constraint multipliers and the
	// objective value. No solving logic belongs here.
	Finalize(status Status, x, lambda []float64, obj float64)
}
