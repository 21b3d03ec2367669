// Package pks defines the process-kernel protocol: the unit of composition
// for coupled physics. A kernel advances one process (or, for couplers, a
// whole subtree) over a timestep against the shared field store.
package pks

// CorrectionResult reports what ModifyCorrection did to a Newton update.
type CorrectionResult int

const (
	CorrectionNotModified CorrectionResult = iota
	CorrectionModified
)

// PK is the lifecycle every kernel implements:
//
//	Constructed -> Setup -> Initialize ->
//	  { AdvanceStep -> [accepted -> CommitStep | rejected -> smaller dt] }*
//
// Setup declares fields and evaluators and never reads values; Initialize
// populates owned fields once; AdvanceStep writes only new-tag values and
// returns false to request a smaller step.
type PK interface {
	Name() string
	Setup() error
	Initialize() error
	// Dt returns the largest step compatible with this kernel's physics;
	// deterministic given current state.
	Dt() float64
	AdvanceStep(tOld, tNew float64, reinit bool) (accepted bool, err error)
	// CommitStep promotes new values to old for owned fields and refreshes
	// diagnostics; a commit without an intervening advance is a no-op.
	CommitStep(tOld, tNew float64) error
}

// ImplicitPK is the additional surface a kernel exposes when its step is
// found by an implicit nonlinear solve. Composite couplers require it of
// every child they couple strongly.
type ImplicitPK interface {
	PK
	// Solution returns the kernel's unknowns as a (tree) view into the
	// store's new-tag data.
	Solution() (*TreeVector, error)
	// Residual evaluates the time-discrete residual at uNew, pulling any
	// stale dependencies through the evaluation graph.
	Residual(tOld, tNew float64, uNew, r *TreeVector) error
	UpdatePreconditioner(t float64, u *TreeVector, h float64) error
	// Precondition applies the (approximate) inverse: Pu = PC^-1 r.
	Precondition(r, Pu *TreeVector) error
	// ModifyPredictor may adjust the initial guess (clip across phase
	// boundaries, derive consistent faces); reports whether it did.
	ModifyPredictor(h float64, u0, u *TreeVector) (bool, error)
	// ModifyCorrection may bound or patch the computed update du.
	ModifyCorrection(h float64, res, u, du *TreeVector) (CorrectionResult, error)
	// IsAdmissible is a cheap global validity check on a candidate
	// solution, independent of convergence.
	IsAdmissible(u *TreeVector) bool
	// ErrorNorm measures the residual against the kernel's tolerances.
	ErrorNorm(u, r *TreeVector) (float64, error)
	// ChangedSolution tells the evaluation graph the solver rewrote u.
	ChangedSolution() error
}
