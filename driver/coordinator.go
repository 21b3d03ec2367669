// Package driver owns the outer time loop: step proposal, the
// reject/halve/retry protocol, commits, and observation.
package driver

import (
	"fmt"
	"math"

	"github.com/tundrasim/tundrasim/pks"
	"github.com/tundrasim/tundrasim/state"
)

// NonConvergenceError means the step controller ran out of room: the
// kernel kept rejecting even at the minimum step.
type NonConvergenceError struct {
	Time     float64
	Dt       float64
	Failures int
}

func (e *NonConvergenceError) Error() string {
	return fmt.Sprintf("no convergence at t=%g: step rejected %d times, dt=%g below limit",
		e.Time, e.Failures, e.Dt)
}

type Params struct {
	TEnd        float64
	InitialDt   float64
	MinDt       float64
	MaxDt       float64
	GrowthCap   float64 // step growth per accepted step
	MaxFailures int     // rejections tolerated within one step
	Verbosity   int
}

func DefaultParams() Params {
	return Params{
		TEnd:        86400,
		InitialDt:   600,
		MinDt:       1e-3,
		MaxDt:       86400,
		GrowthCap:   2,
		MaxFailures: 12,
	}
}

// Coordinator runs one kernel tree against the shared store.
type Coordinator struct {
	PK      pks.PK
	S       *state.State
	Params  Params
	Monitor Monitor

	Time  float64
	Steps int
	Fails int
}

func NewCoordinator(pk pks.PK, s *state.State, params Params, monitor Monitor) *Coordinator {
	if monitor == nil {
		monitor = NullMonitor{}
	}
	return &Coordinator{PK: pk, S: s, Params: params, Monitor: monitor}
}

// Setup runs the declaration pass over the kernel tree, finalizes the
// store, and initializes.
func (co *Coordinator) Setup() error {
	if err := co.PK.Setup(); err != nil {
		return err
	}
	if err := co.S.Setup(); err != nil {
		return err
	}
	return co.PK.Initialize()
}

func (co *Coordinator) logf(format string, args ...interface{}) {
	if co.Params.Verbosity >= 1 {
		fmt.Printf(format, args...)
	}
}

// Run advances to TEnd. Each step is offered at the current dt; a rejected
// step halves dt from the same committed state and tries again. Commit
// happens exactly once per accepted step, in child declaration order down
// the tree.
func (co *Coordinator) Run() error {
	dt := math.Min(co.Params.InitialDt, co.PK.Dt())
	if err := co.Monitor.Observe(co.Time, co.S); err != nil {
		return err
	}
	for co.Time < co.Params.TEnd {
		if remain := co.Params.TEnd - co.Time; dt > remain {
			dt = remain
		}
		failures := 0
		for {
			accepted, err := co.PK.AdvanceStep(co.Time, co.Time+dt, failures > 0)
			if err != nil {
				return err
			}
			if accepted {
				break
			}
			failures++
			co.Fails++
			dt *= 0.5
			co.logf("step rejected at t=%g, retrying with dt=%g\n", co.Time, dt)
			if dt < co.Params.MinDt || failures > co.Params.MaxFailures {
				return &NonConvergenceError{Time: co.Time, Dt: dt, Failures: failures}
			}
		}
		if err := co.PK.CommitStep(co.Time, co.Time+dt); err != nil {
			return err
		}
		co.Time += dt
		co.Steps++
		if err := co.Monitor.Observe(co.Time, co.S); err != nil {
			return err
		}
		dt = math.Min(math.Min(dt*co.Params.GrowthCap, co.Params.MaxDt), co.PK.Dt())
	}
	co.logf("finished at t=%g: %d steps, %d rejections\n", co.Time, co.Steps, co.Fails)
	return nil
}
