// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mpc

import (
	"errors"
	"math"
	"testing"

	"github.com/curioloop/optimizer/numdiff"

	"mpctrack/nlp"
	"mpctrack/refpath"
)

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func testFormulation(t *testing.T) (*Formulation, Config, []float64) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Horizon = 5
	coeffs := refpath.Coeffs{0.5, 0.2, 0.05, 0.01}
	state := LocalState(8, coeffs)
	f, err := NewFormulation(cfg, state, coeffs)
	if err != nil {
		t.Fatal("testFormulation:", err)
	}
	return f, cfg, state
}

// testPoint is a deterministic off-start iterate: curvature terms vanish at
// the replicated cold start, so derivative checks need a generic point.
func testPoint(f *Formulation) []float64 {
	x := make([]float64, f.n())
	f.StartingPoint(x)
	for i := range x {
		x[i] += 0.1 * math.Sin(float64(i+1))
	}
	return x
}

func TestFormulationInfo(t *testing.T) {

	f, cfg, _ := testFormulation(t)
	info := f.Info()

	switch {
	case info.N != cfg.Horizon*stride:
		t.Fatal("TestFormulationInfo: Bad N:", info.N)
	case info.M != (cfg.Horizon-1)*numState:
		t.Fatal("TestFormulationInfo: Bad M:", info.M)
	case info.NnzJac != jacPerStep*(cfg.Horizon-1):
		t.Fatal("TestFormulationInfo: Bad NnzJac:", info.NnzJac)
	case info.NnzHess != hessPerStep*cfg.Horizon+hessCross*(cfg.Horizon-1):
		t.Fatal("TestFormulationInfo: Bad NnzHess:", info.NnzHess)
	case info.Index != nlp.CStyle:
		t.Fatal("TestFormulationInfo: Bad Index Style")
	}

}

func TestJacobianStructure(t *testing.T) {

	f, _, _ := testFormulation(t)
	info := f.Info()

	iRow := make([]int, info.NnzJac)
	jCol := make([]int, info.NnzJac)
	for k := range iRow {
		iRow[k], jCol[k] = -1, -1
	}
	f.Jacobian(nil, iRow, jCol, nil)

	for k := range iRow {
		if iRow[k] < 0 || iRow[k] >= info.M || jCol[k] < 0 || jCol[k] >= info.N {
			t.Fatalf("TestJacobianStructure: Entry %d Out Of Range: (%d,%d)", k, iRow[k], jCol[k])
		}
	}

	// Structure queries are stable across calls.
	iRow2 := make([]int, info.NnzJac)
	jCol2 := make([]int, info.NnzJac)
	f.Jacobian(nil, iRow2, jCol2, nil)
	for k := range iRow {
		if iRow[k] != iRow2[k] || jCol[k] != jCol2[k] {
			t.Fatalf("TestJacobianStructure: Entry %d Order Changed", k)
		}
	}

}

func TestHessianStructure(t *testing.T) {

	f, _, _ := testFormulation(t)
	info := f.Info()

	iRow := make([]int, info.NnzHess)
	jCol := make([]int, info.NnzHess)
	for k := range iRow {
		iRow[k], jCol[k] = -1, -1
	}
	f.Hessian(nil, 0, nil, iRow, jCol, nil)

	for k := range iRow {
		switch {
		case iRow[k] < 0 || iRow[k] >= info.N || jCol[k] < 0 || jCol[k] >= info.N:
			t.Fatalf("TestHessianStructure: Entry %d Out Of Range: (%d,%d)", k, iRow[k], jCol[k])
		case iRow[k] < jCol[k]:
			t.Fatalf("TestHessianStructure: Entry %d Above Diagonal: (%d,%d)", k, iRow[k], jCol[k])
		}
	}

}

func TestGradientMatchesObjective(t *testing.T) {

	f, _, _ := testFormulation(t)
	info := f.Info()
	xt := testPoint(f)

	grad := make([]float64, info.N)
	f.Gradient(xt, grad)

	spec := &numdiff.ApproxSpec{
		N: info.N, M: 1,
		Method: numdiff.Central,
		Object: func(x, y []float64) { y[0] = f.Objective(x) },
	}
	diff := make([]float64, info.N)
	if err := spec.Diff(xt, diff); err != nil {
		t.Fatal("TestGradientMatchesObjective: Diff Failed:", err)
	}

	for i := range grad {
		tol := 1e-4 * math.Max(1, math.Abs(grad[i]))
		if !almostEqual(grad[i], diff[i], tol) {
			t.Fatalf("TestGradientMatchesObjective: Entry %d: got %g want %g", i, grad[i], diff[i])
		}
	}

}

func TestJacobianMatchesConstraints(t *testing.T) {

	f, _, _ := testFormulation(t)
	info := f.Info()
	xt := testPoint(f)

	iRow := make([]int, info.NnzJac)
	jCol := make([]int, info.NnzJac)
	f.Jacobian(nil, iRow, jCol, nil)
	values := make([]float64, info.NnzJac)
	f.Jacobian(xt, nil, nil, values)

	dense := make([]float64, info.M*info.N)
	for k := range values {
		dense[iRow[k]*info.N+jCol[k]] += values[k]
	}

	spec := &numdiff.ApproxSpec{
		N: info.N, M: info.M,
		Method: numdiff.Central,
		Object: f.Constraints,
	}
	diff := make([]float64, info.N*info.M)
	if err := spec.Diff(xt, diff); err != nil {
		t.Fatal("TestJacobianMatchesConstraints: Diff Failed:", err)
	}

	for j := 0; j < info.M; j++ {
		for i := 0; i < info.N; i++ {
			got, want := dense[j*info.N+i], diff[i+j*info.N]
			tol := 1e-5 * math.Max(1, math.Abs(want))
			if !almostEqual(got, want, tol) {
				t.Fatalf("TestJacobianMatchesConstraints: (%d,%d): got %g want %g", j, i, got, want)
			}
		}
	}

}

func TestHessianMatchesLagrangian(t *testing.T) {

	f, _, _ := testFormulation(t)
	info := f.Info()
	xt := testPoint(f)

	const sigma = 1.0
	lambda := make([]float64, info.M)
	for j := range lambda {
		lambda[j] = 0.1 + 0.05*float64(j%5)
	}

	iRow := make([]int, info.NnzJac)
	jCol := make([]int, info.NnzJac)
	f.Jacobian(nil, iRow, jCol, nil)

	// Gradient of the Lagrangian sigma·f + lambda'·g.
	jv := make([]float64, info.NnzJac)
	gradL := func(x, y []float64) {
		f.Gradient(x, y)
		for i := range y[:info.N] {
			y[i] *= sigma
		}
		f.Jacobian(x, nil, nil, jv)
		for k := range jv {
			y[jCol[k]] += lambda[iRow[k]] * jv[k]
		}
	}

	spec := &numdiff.ApproxSpec{
		N: info.N, M: info.N,
		Method: numdiff.Central,
		Object: gradL,
	}
	diff := make([]float64, info.N*info.N)
	if err := spec.Diff(xt, diff); err != nil {
		t.Fatal("TestHessianMatchesLagrangian: Diff Failed:", err)
	}

	hRow := make([]int, info.NnzHess)
	hCol := make([]int, info.NnzHess)
	f.Hessian(nil, 0, nil, hRow, hCol, nil)
	hVal := make([]float64, info.NnzHess)
	f.Hessian(xt, sigma, lambda, nil, nil, hVal)

	dense := make([]float64, info.N*info.N)
	for k := range hVal {
		dense[hRow[k]*info.N+hCol[k]] += hVal[k]
		if hRow[k] != hCol[k] {
			dense[hCol[k]*info.N+hRow[k]] += hVal[k]
		}
	}

	for r := 0; r < info.N; r++ {
		for c := 0; c < info.N; c++ {
			got, want := dense[r*info.N+c], diff[c+r*info.N]
			tol := 1e-3 * math.Max(1, math.Abs(want))
			if !almostEqual(got, want, tol) {
				t.Fatalf("TestHessianMatchesLagrangian: (%d,%d): got %g want %g", r, c, got, want)
			}
		}
	}

}

func TestBoundsEncoding(t *testing.T) {

	f, cfg, state := testFormulation(t)
	info := f.Info()

	xl := make([]float64, info.N)
	xu := make([]float64, info.N)
	gl := make([]float64, info.M)
	gu := make([]float64, info.M)
	f.Bounds(xl, xu, gl, gu)

	// Step-0 state pinned by equal bounds.
	for i, v := range state {
		if xl[i] != v || xu[i] != v {
			t.Fatalf("TestBoundsEncoding: Initial State %d Not Pinned: [%g,%g]", i, xl[i], xu[i])
		}
	}

	for k := 0; k < cfg.Horizon; k++ {
		bx := k * stride
		switch {
		case xl[bx+ixDelta] != -cfg.MaxSteer || xu[bx+ixDelta] != cfg.MaxSteer:
			t.Fatalf("TestBoundsEncoding: Step %d Bad Steering Box", k)
		case xl[bx+ixA] != -cfg.MaxAccel || xu[bx+ixA] != cfg.MaxAccel:
			t.Fatalf("TestBoundsEncoding: Step %d Bad Throttle Box", k)
		}
		if k == 0 {
			continue
		}
		for i := 0; i < numState; i++ {
			if !math.IsInf(xl[bx+i], -1) || !math.IsInf(xu[bx+i], 1) {
				t.Fatalf("TestBoundsEncoding: Step %d State %d Should Be Free", k, i)
			}
		}
	}

	for j := range gl {
		if gl[j] != 0 || gu[j] != 0 {
			t.Fatalf("TestBoundsEncoding: Residual %d Not An Equality", j)
		}
	}

}

func TestStartingPoint(t *testing.T) {

	f, cfg, state := testFormulation(t)
	n := f.n()

	x := make([]float64, n)
	f.StartingPoint(x)
	for k := 0; k < cfg.Horizon; k++ {
		bx := k * stride
		for i, v := range state {
			if x[bx+i] != v {
				t.Fatalf("TestStartingPoint: Step %d State %d Not Replicated", k, i)
			}
		}
		if x[bx+ixDelta] != 0 || x[bx+ixA] != 0 {
			t.Fatalf("TestStartingPoint: Step %d Actuation Not Zero", k)
		}
	}

	warm := make([]float64, n)
	for i := range warm {
		warm[i] = float64(i)
	}
	if err := f.SetWarmStart(warm); err != nil {
		t.Fatal("TestStartingPoint: SetWarmStart Failed:", err)
	}
	f.StartingPoint(x)
	for i := range x {
		if x[i] != warm[i] {
			t.Fatal("TestStartingPoint: Warm Start Not Replayed At", i)
		}
	}

	if err := f.SetWarmStart(warm[:n-1]); err == nil {
		t.Fatal("TestStartingPoint: Short Warm Start Should Fail")
	}

}

func TestNewFormulationValidation(t *testing.T) {

	cfg := DefaultConfig()
	coeffs := make(refpath.Coeffs, cfg.Degree+1)
	good := []float64{0, 0, 0, 1, 0, 0}

	if _, err := NewFormulation(cfg, good[:5], coeffs); !errors.Is(err, ErrBadState) {
		t.Fatal("TestNewFormulationValidation: Short State Accepted:", err)
	}

	bad := append([]float64(nil), good...)
	bad[3] = math.NaN()
	if _, err := NewFormulation(cfg, bad, coeffs); !errors.Is(err, ErrBadState) {
		t.Fatal("TestNewFormulationValidation: NaN State Accepted:", err)
	}

	if _, err := NewFormulation(cfg, good, coeffs[:3]); !errors.Is(err, ErrBadCoeffs) {
		t.Fatal("TestNewFormulationValidation: Short Coeffs Accepted:", err)
	}

	cfg.Horizon = 1
	if _, err := NewFormulation(cfg, good, coeffs); err == nil {
		t.Fatal("TestNewFormulationValidation: Degenerate Horizon Accepted")
	}

}

func TestDecodeTrajectory(t *testing.T) {

	x := make([]float64, 2*stride)
	for i := range x {
		x[i] = float64(i)
	}
	traj := DecodeTrajectory(x)

	switch {
	case len(traj) != 2:
		t.Fatal("TestDecodeTrajectory: Bad Step Count")
	case traj[0].X != 0 || traj[0].Delta != float64(ixDelta) || traj[1].Accel != float64(stride+ixA):
		t.Fatal("TestDecodeTrajectory: Bad Field Mapping")
	}

	if d, a := traj.First(); d != float64(ixDelta) || a != float64(ixA) {
		t.Fatal("TestDecodeTrajectory: Bad First Actuation")
	}
	if d, a := (Trajectory{}).First(); d != 0 || a != 0 {
		t.Fatal("TestDecodeTrajectory: Empty Trajectory Should Yield Zero Actuation")
	}

	defer func() {
		if recover() == nil {
			t.Fatal("TestDecodeTrajectory: Ragged Vector Should Panic")
		}
	}()
	DecodeTrajectory(x[:stride+1])

}

func TestShiftDecision(t *testing.T) {

	x := make([]float64, 3*stride)
	for i := range x {
		x[i] = float64(i)
	}
	out := shiftDecision(x)

	for i := 0; i < 2*stride; i++ {
		if out[i] != x[i+stride] {
			t.Fatal("TestShiftDecision: Body Not Advanced At", i)
		}
	}
	for i := 2 * stride; i < 3*stride; i++ {
		if out[i] != x[i] {
			t.Fatal("TestShiftDecision: Tail Not Duplicated At", i)
		}
	}

}
