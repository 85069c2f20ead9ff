// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mpc

// Step is one decoded horizon step: the predicted state and the actuation
// applied at that step.
type Step struct {
	X, Y, Psi, V float64
	CTE, EPsi    float64
	Delta, Accel float64
}

// Trajectory is the decoded solution: one Step per horizon step, in time
// order. Decoding is a pure transform of the decision vector.
type Trajectory []Step

// DecodeTrajectory unpacks a decision vector. The length must be a multiple
// of the step stride.
func DecodeTrajectory(x []float64) Trajectory {
	if len(x)%stride != 0 {
		panic("mpc: decision vector length not a multiple of the step stride")
	}
	traj := make(Trajectory, len(x)/stride)
	for k := range traj {
		s := x[k*stride : (k+1)*stride]
		traj[k] = Step{
			X: s[ixX], Y: s[ixY], Psi: s[ixPsi], V: s[ixV],
			CTE: s[ixCTE], EPsi: s[ixEPsi],
			Delta: s[ixDelta], Accel: s[ixA],
		}
	}
	return traj
}

// First returns the first actuation block, the part applied in closed loop.
func (t Trajectory) First() (delta, accel float64) {
	if len(t) == 0 {
		return 0, 0
	}
	return t[0].Delta, t[0].Accel
}

// shiftDecision advances a decision vector one step for warm starting:
// step k takes the value of step k+1 and the tail is padded by duplicating
// the last step. Step-0 bounds re-pin the measured state regardless.
func shiftDecision(x []float64) []float64 {
	out := make([]float64, len(x))
	copy(out, x[stride:])
	copy(out[len(x)-stride:], x[len(x)-stride:])
	return out
}
