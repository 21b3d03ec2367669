// Package mpc composes process kernels into trees: weak couplers advance
// children sequentially, strong couplers pose one implicit system over all
// children's unknowns and solve it under a selectable coupling strategy
// for the preconditioner.
package mpc

import (
	"github.com/tundrasim/tundrasim/state"
)

// PreconType selects how a strong coupler approximates the inverse of the
// coupled Jacobian.
type PreconType int

const (
	// PreconNone applies the identity: Pu = r.
	PreconNone PreconType = iota
	// PreconBlockDiagonal applies each child's own preconditioner to its
	// block, ignoring coupling.
	PreconBlockDiagonal
	// PreconPicard solves the coupled cell system with off-diagonal
	// accumulation derivatives, faces eliminated and back-substituted.
	PreconPicard
	// PreconEWC is Picard followed by the nonlinear conserved-space
	// correction on cells and a consistent face update.
	PreconEWC
)

func (p PreconType) String() string {
	switch p {
	case PreconNone:
		return "none"
	case PreconBlockDiagonal:
		return "block diagonal"
	case PreconPicard:
		return "picard"
	case PreconEWC:
		return "ewc"
	default:
		return "unknown"
	}
}

// ParsePreconType maps a configuration name to a strategy. Unknown names
// fail at configuration time, not at first use.
func ParsePreconType(name string) (PreconType, error) {
	switch name {
	case "none":
		return PreconNone, nil
	case "block diagonal":
		return PreconBlockDiagonal, nil
	case "picard":
		return PreconPicard, nil
	case "ewc", "smart ewc":
		return PreconEWC, nil
	default:
		return PreconNone, &state.ConfigurationError{
			Key:    name,
			Reason: "unknown coupling strategy (want none, block diagonal, picard, ewc)",
		}
	}
}
