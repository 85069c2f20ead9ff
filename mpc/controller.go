// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mpc

import (
	"errors"
	"fmt"
	"math"

	"mpctrack/nlp"
	"mpctrack/refpath"
)

// ErrNoSolution reports a failed solve with no prior trajectory to fall
// back on.
var ErrNoSolution = errors.New("mpc: solver failed and no previous trajectory exists")

// Result is the outcome of one control cycle. When Degraded is set the
// trajectory is the previous cycle's solution shifted forward, not a fresh
// optimum; Status then carries the solver's terminal state.
type Result struct {
	Trajectory Trajectory
	Delta      float64 // first steering actuation
	Accel      float64 // first throttle actuation
	Status     nlp.Status
	Objective  float64
	Iterations int
	Degraded   bool
}

// Controller owns one formulation instance per cycle and the warm-start
// memory between cycles. One blocking Solve runs at a time; sharing a
// Controller across concurrent solves is undefined.
type Controller struct {
	cfg Config
	log *Logger

	prev []float64 // previous accepted decision vector
}

// NewController validates the configuration and returns a solve driver.
// A nil logger disables tracing.
func NewController(cfg Config, log *Logger) (*Controller, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Controller{cfg: cfg, log: log}, nil
}

// Reset drops the warm-start memory; the next Solve is a cold start.
func (c *Controller) Reset() { c.prev = nil }

// LocalState builds the vehicle-frame state vector [0 0 0 v cte epsi] from
// the measured velocity and a freshly fitted local reference: the vehicle
// sits at its own origin, so cte = f(0) and epsi = -atan(f'(0)).
func LocalState(v float64, coeffs refpath.Coeffs) []float64 {
	return []float64{0, 0, 0, v, coeffs.Eval(0), -math.Atan(coeffs.Deriv(1, 0))}
}

// Solve runs one control cycle: formulate with the given state and
// reference coefficients, warm start from the previous solution when one
// exists, invoke the solver and extract the trajectory.
//
// Input-malformed states or coefficients fail immediately without a solve.
// A non-converged solve falls back to the previous trajectory shifted one
// step, marked Degraded — never a fabricated optimum.
func (c *Controller) Solve(state []float64, coeffs refpath.Coeffs) (*Result, error) {
	f, err := NewFormulation(c.cfg, state, coeffs)
	if err != nil {
		return nil, err
	}
	warm := false
	if c.prev != nil && len(c.prev) == f.n() {
		if err := f.SetWarmStart(shiftDecision(c.prev)); err != nil {
			return nil, err
		}
		warm = true
	}
	c.log.log(LogTrace, "mpc: solve n=%d m=%d warm=%v\n", f.n(), f.m(), warm)

	sol, err := nlp.Solve(f, nlp.Options{
		Accuracy:      c.cfg.Accuracy,
		MaxIterations: c.cfg.MaxIterations,
	})
	if err != nil {
		return nil, fmt.Errorf("mpc: %w", err)
	}
	c.log.log(LogSolve, "mpc: status=%s obj=%.6g iter=%d\n", sol.Status, sol.Objective, sol.Iterations)

	if sol.Status != nlp.Optimal {
		if c.prev == nil {
			return nil, fmt.Errorf("%w: %s", ErrNoSolution, sol.Status)
		}
		// Keep progressing along the stale plan so repeated failures
		// do not replay the same first actuation forever.
		c.prev = shiftDecision(c.prev)
		traj := DecodeTrajectory(c.prev)
		delta, accel := traj.First()
		c.log.log(LogCycle, "mpc: degraded cycle, reusing shifted trajectory (status=%s)\n", sol.Status)
		return &Result{
			Trajectory: traj,
			Delta:      delta, Accel: accel,
			Status:     sol.Status,
			Iterations: sol.Iterations,
			Degraded:   true,
		}, nil
	}

	_, xOpt, obj := f.Result()
	c.prev = append(c.prev[:0], xOpt...)
	traj := DecodeTrajectory(xOpt)
	delta, accel := traj.First()
	c.log.log(LogCycle, "mpc: delta=%.4f accel=%.4f obj=%.6g\n", delta, accel, obj)

	return &Result{
		Trajectory: traj,
		Delta:      delta, Accel: accel,
		Status:     sol.Status,
		Objective:  obj,
		Iterations: sol.Iterations,
	}, nil
}

// SolveStraight is the degenerate single-argument mode: it treats the path
// as straight ahead of the vehicle (an all-zero coefficient vector). It
// deliberately does not reuse the previous cycle's fit.
func (c *Controller) SolveStraight(state []float64) (*Result, error) {
	return c.Solve(state, make(refpath.Coeffs, c.cfg.Degree+1))
}
