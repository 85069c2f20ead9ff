// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// Weights are the fixed tunable coefficients of the tracking cost.
type Weights struct {
	CTE       float64 `json:"cte"`        // cross-track error²
	EPsi      float64 `json:"epsi"`       // heading error²
	Vel       float64 `json:"vel"`        // (v - ref_velocity)²
	Steer     float64 `json:"steer"`      // steering magnitude²
	Accel     float64 `json:"accel"`      // throttle magnitude²
	SteerRate float64 `json:"steer_rate"` // steering rate² (jerk penalty)
	AccelRate float64 `json:"accel_rate"` // throttle rate²
	Terminal  float64 `json:"terminal"`   // extra weight on final-step cte/epsi
}

// Config parameterizes the problem formulation and the solve loop. The
// discretized model (timestep, wheelbase) and all cost weights are explicit
// here rather than assumed.
type Config struct {
	// Horizon is the number of predicted steps N (minimum 2: one dynamics block).
	Horizon int `json:"horizon"`
	// Dt is the discretization timestep in seconds.
	Dt float64 `json:"dt"`
	// Lf is the distance from the center of mass to the front axle.
	Lf float64 `json:"lf"`
	// Degree of the reference polynomial the formulation expects (coeffs
	// length is Degree+1).
	Degree int `json:"degree"`
	// RefVelocity is the velocity setpoint in m/s.
	RefVelocity float64 `json:"ref_velocity"`
	// MaxSteer bounds the steering actuation symmetrically, in radians.
	MaxSteer float64 `json:"max_steer"`
	// MaxAccel bounds the throttle actuation symmetrically.
	MaxAccel float64 `json:"max_accel"`

	Weights Weights `json:"weights"`

	// Accuracy is the solver convergence tolerance.
	Accuracy float64 `json:"accuracy"`
	// MaxIterations is the solver iteration budget per cycle.
	MaxIterations int `json:"max_iterations"`
}

// DefaultConfig returns a working parameter set for a small test vehicle.
func DefaultConfig() Config {
	return Config{
		Horizon:     10,
		Dt:          0.1,
		Lf:          2.67,
		Degree:      3,
		RefVelocity: 10,
		MaxSteer:    0.436, // 25°
		MaxAccel:    1.0,
		// Tracking-error weights in the thousands stall the SQP line
		// search on off-path cold starts; 20 tracks tightly and stays
		// solvable from a cold start a meter off the path.
		Weights: Weights{
			CTE:       20,
			EPsi:      20,
			Vel:       1,
			Steer:     5,
			Accel:     5,
			SteerRate: 200,
			AccelRate: 10,
			Terminal:  0,
		},
		Accuracy:      1e-8,
		MaxIterations: 100,
	}
}

// LoadConfig reads a JSON config from disk, layered over DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch {
	case c.Horizon < 2:
		return errors.New("mpc: horizon must be at least 2")
	case c.Dt <= 0:
		return errors.New("mpc: dt must be positive")
	case c.Lf <= 0:
		return errors.New("mpc: lf must be positive")
	case c.Degree < 1:
		return errors.New("mpc: polynomial degree must be at least 1")
	case c.MaxSteer <= 0 || c.MaxAccel <= 0:
		return errors.New("mpc: actuation limits must be positive")
	}
	return nil
}
