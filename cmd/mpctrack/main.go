// Command mpctrack runs a closed-loop tracking simulation over a roadmap
// file: fit the local reference, solve the MPC problem, apply the first
// actuation through the vehicle model, repeat.
package main

import (
	"errors"
	"flag"
	"log"
	"math"
	"os"

	"mpctrack/mpc"
	"mpctrack/refpath"
	"mpctrack/roadmap"
	"mpctrack/viz"
)

func main() {
	var (
		configPath  string
		roadmapPath string
		cycles      int
		plotPath    string
		skipBad     bool
		verbosity   int
	)
	flag.StringVar(&configPath, "config", "", "Path to JSON config (defaults used when empty).")
	flag.StringVar(&roadmapPath, "roadmap", "roadmap.csv", "Path to the waypoint CSV.")
	flag.IntVar(&cycles, "cycles", 100, "Maximum number of control cycles.")
	flag.StringVar(&plotPath, "plot", "", "Write a PNG of the final cycle to this path.")
	flag.BoolVar(&skipBad, "skip-malformed", false, "Skip malformed roadmap records instead of aborting.")
	flag.IntVar(&verbosity, "v", 0, "Log verbosity (0=cycle, 1=solver, 2=trace).")
	flag.Parse()

	cfg := mpc.DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = mpc.LoadConfig(configPath); err != nil {
			log.Fatalf("load config %q: %v", configPath, err)
		}
	}

	policy := roadmap.AbortOnMalformed
	if skipBad {
		policy = roadmap.SkipMalformed
	}
	road, err := roadmap.LoadFile(roadmapPath, policy)
	if err != nil {
		log.Fatalf("load roadmap %q: %v", roadmapPath, err)
	}
	if road.Len() < 2 {
		log.Fatalf("roadmap %q has %d waypoints, need at least 2", roadmapPath, road.Len())
	}

	logger := &mpc.Logger{Level: mpc.LogLevel(verbosity), Msg: os.Stderr}
	ctl, err := mpc.NewController(cfg, logger)
	if err != nil {
		log.Fatalf("controller: %v", err)
	}
	fitter := &refpath.Fitter{Degree: cfg.Degree}

	// Start on the first waypoint, pointing along the first segment.
	gx, gy := road.X()[0], road.Y()[0]
	gpsi := road.Phi()[0]
	v := 0.0

	var lastTraj mpc.Trajectory
	var lastX, lastY, lastPsi float64
	for cycle := 0; cycle < cycles; cycle++ {
		coeffs, err := fitter.Fit(road, gx, gy, gpsi)
		if err != nil {
			if errors.Is(err, refpath.ErrEndOfPath) {
				log.Printf("cycle %d: end of path, stopping tracking", cycle)
				break
			}
			log.Fatalf("cycle %d: fit: %v", cycle, err)
		}

		res, err := ctl.Solve(mpc.LocalState(v, coeffs), coeffs)
		if err != nil {
			log.Fatalf("cycle %d: solve: %v", cycle, err)
		}

		lastTraj, lastX, lastY, lastPsi = res.Trajectory, gx, gy, gpsi

		// Propagate the vehicle model with the first actuation.
		sin, cos := math.Sincos(gpsi)
		gx += v * cos * cfg.Dt
		gy += v * sin * cfg.Dt
		gpsi += v / cfg.Lf * res.Delta * cfg.Dt
		v += res.Accel * cfg.Dt

		log.Printf("cycle %d: pos=(%.2f,%.2f) psi=%.3f v=%.2f delta=%.4f accel=%.4f degraded=%v",
			cycle, gx, gy, gpsi, v, res.Delta, res.Accel, res.Degraded)
	}

	if plotPath != "" && lastTraj != nil {
		if err := viz.Render(road, lastTraj, lastX, lastY, lastPsi, plotPath); err != nil {
			log.Fatalf("plot: %v", err)
		}
		log.Printf("wrote %s", plotPath)
	}
}
