// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nlp

import (
	"errors"
	"fmt"
	"math"

	"github.com/curioloop/optimizer/slsqp"
)

// Options configures the external solver for one solve.
type Options struct {
	// Accuracy is the convergence tolerance (default 1e-8).
	Accuracy float64
	// MaxIterations bounds the SQP iteration count (default 100).
	MaxIterations int
}

// Solution is the terminal outcome of one solve, mirroring what was
// delivered to Problem.Finalize.
type Solution struct {
	Status     Status
	X          []float64 // final iterate
	Objective  float64
	Iterations int
}

var errNonFiniteStart = errors.New("nlp: starting point is not finite")

// Solve drives p through the SLSQP optimizer.
//
// Equality rows (gl == gu) become solver equality constraints, finite
// inequality sides become one solver inequality row each. SLSQP builds its
// own quasi-Newton curvature model, so the Hessian callback is not consumed
// here; it remains part of the contract for solvers that want it. The
// solver does not expose constraint multipliers, so Finalize receives zeros.
//
// A malformed pattern (out-of-range indices, wrong counts) is a contract
// violation and panics: solver behavior is undefined once structure and
// values disagree.
func Solve(p Problem, opt Options) (*Solution, error) {

	info := p.Info()
	n, m := info.N, info.M
	if n <= 0 {
		return nil, fmt.Errorf("nlp: problem reports n = %d", n)
	}
	if m < 0 || info.NnzJac < 0 {
		return nil, fmt.Errorf("nlp: problem reports m = %d, nnz_jac = %d", m, info.NnzJac)
	}

	cache, err := newConCache(p, info)
	if err != nil {
		return nil, err
	}

	xl := make([]float64, n)
	xu := make([]float64, n)
	gl := make([]float64, m)
	gu := make([]float64, m)
	p.Bounds(xl, xu, gl, gu)

	bounds := make([]slsqp.Bound, n)
	for i := range bounds {
		// SLSQP treats NaN sides as unbounded.
		bounds[i] = slsqp.Bound{Lower: toNaN(xl[i]), Upper: toNaN(xu[i])}
	}

	var eq, neq []slsqp.Evaluation
	for j := 0; j < m; j++ {
		l, u := gl[j], gu[j]
		switch {
		case l == u:
			eq = append(eq, cache.row(j, l, false))
		default:
			if !math.IsInf(l, -1) {
				neq = append(neq, cache.row(j, l, false)) // 𝒄ⱼ(𝐱) - 𝒍ⱼ ≥ 0
			}
			if !math.IsInf(u, 1) {
				neq = append(neq, cache.row(j, u, true)) // 𝒖ⱼ - 𝒄ⱼ(𝐱) ≥ 0
			}
		}
	}

	accuracy := opt.Accuracy
	if accuracy <= 0 {
		accuracy = 1e-8
	}
	maxIter := opt.MaxIterations
	if maxIter <= 0 {
		maxIter = 100
	}

	spec := slsqp.Problem{
		N: n,
		// The solver passes a nil slice for a value query and the gradient
		// buffer for a derivative query.
		Object: func(x, d []float64) float64 {
			if d != nil {
				p.Gradient(x, d[:n])
				return 0
			}
			return p.Objective(x)
		},
		EqCons:  eq,
		NeqCons: neq,
		Bounds:  bounds,
		Stop: slsqp.Termination{
			Accuracy:      accuracy,
			MaxIterations: maxIter,
		},
	}

	optimizer, err := spec.New()
	if err != nil {
		return nil, fmt.Errorf("nlp: solver rejected problem: %w", err)
	}

	x0 := make([]float64, n)
	p.StartingPoint(x0)
	for _, v := range x0 {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errNonFiniteStart
		}
	}

	res := optimizer.Fit(x0, optimizer.Init())

	status := Failure
	switch {
	case res.OK:
		status = Optimal
	case res.Status == slsqp.SQPExceedMaxIter:
		status = IterationLimit
	case res.Status == slsqp.ConsIncompatible:
		status = Infeasible
	}

	lambda := make([]float64, m)
	p.Finalize(status, res.X, lambda, res.F)

	return &Solution{
		Status:     status,
		X:          res.X,
		Objective:  res.F,
		Iterations: res.NumIter,
	}, nil
}

func toNaN(v float64) float64 {
	if math.IsInf(v, 0) {
		return math.NaN()
	}
	return v
}

type jacEntry struct {
	col int
	pos int // position in the values slice
}

// conCache shares constraint and Jacobian evaluations between the per-row
// closures handed to the solver. SLSQP evaluates every row at one iterate
// before moving, so one full evaluation serves all rows at that point.
type conCache struct {
	p    Problem
	n, m int
	rows [][]jacEntry

	gx, xg []float64 // residuals and the iterate they belong to
	jv, xj []float64 // Jacobian values and their iterate
	gOK    bool
	jOK    bool
}

func newConCache(p Problem, info Info) (*conCache, error) {
	n, m, nnz := info.N, info.M, info.NnzJac

	iRow := make([]int, nnz)
	jCol := make([]int, nnz)
	for i := range iRow {
		iRow[i], jCol[i] = -1, -1
	}
	p.Jacobian(nil, iRow, jCol, nil)

	base := 0
	if info.Index == FortranStyle {
		base = 1
	}

	rows := make([][]jacEntry, m)
	for k := 0; k < nnz; k++ {
		r, c := iRow[k]-base, jCol[k]-base
		if r < 0 || r >= m || c < 0 || c >= n {
			panic(fmt.Sprintf("nlp: jacobian pattern entry %d out of range: (%d,%d)", k, iRow[k], jCol[k]))
		}
		rows[r] = append(rows[r], jacEntry{col: c, pos: k})
	}

	return &conCache{
		p: p, n: n, m: m,
		rows: rows,
		gx:   make([]float64, m),
		xg:   make([]float64, n),
		jv:   make([]float64, nnz),
		xj:   make([]float64, n),
	}, nil
}

func (c *conCache) residual(x []float64, j int) float64 {
	if !c.gOK || !sameAt(c.xg, x) {
		copy(c.xg, x[:c.n])
		c.p.Constraints(x, c.gx)
		c.gOK = true
	}
	return c.gx[j]
}

func (c *conCache) jacRow(x []float64, j int, d []float64, neg bool) {
	if !c.jOK || !sameAt(c.xj, x) {
		copy(c.xj, x[:c.n])
		c.p.Jacobian(x, nil, nil, c.jv)
		c.jOK = true
	}
	for i := range d[:c.n] {
		d[i] = 0
	}
	for _, e := range c.rows[j] {
		if neg {
			d[e.col] -= c.jv[e.pos]
		} else {
			d[e.col] += c.jv[e.pos]
		}
	}
}

// row builds the solver evaluation for constraint j shifted by bound b:
// c(x) - b for equality and lower sides, b - c(x) for upper sides.
func (c *conCache) row(j int, b float64, neg bool) slsqp.Evaluation {
	return func(x, d []float64) float64 {
		if d != nil {
			c.jacRow(x, j, d, neg)
			return 0
		}
		v := c.residual(x, j) - b
		if neg {
			return -v
		}
		return v
	}
}

func sameAt(cached, x []float64) bool {
	for i, v := range cached {
		if v != x[i] {
			return false
		}
	}
	return true
}
