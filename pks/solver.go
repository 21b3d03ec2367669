package pks

import (
	"fmt"
	"math"
)

// SolverParams controls the implicit nonlinear solve of one timestep.
type SolverParams struct {
	MaxIterations   int
	DivergenceLimit int     // consecutive growing-norm iterations tolerated
	NormGrowth      float64 // factor above which an iteration counts as diverging
	Verbosity       int
}

func DefaultSolverParams() SolverParams {
	return SolverParams{
		MaxIterations:   20,
		DivergenceLimit: 3,
		NormGrowth:      1.4,
	}
}

// ImplicitSolver drives the predictor/corrector structure of one implicit
// step: modify the predictor, then iterate residual -> precondition ->
// modify correction -> update until the error norm drops below one.
// A false return is a step rejection, not an error: the caller retries
// with a smaller step from the last committed state.
type ImplicitSolver struct {
	Params SolverParams
}

func NewImplicitSolver(params SolverParams) *ImplicitSolver {
	return &ImplicitSolver{Params: params}
}

func (slv *ImplicitSolver) logf(format string, args ...interface{}) {
	if slv.Params.Verbosity >= 2 {
		fmt.Printf(format, args...)
	}
}

func (slv *ImplicitSolver) Solve(pk ImplicitPK, tOld, tNew float64) (accepted bool, err error) {
	var (
		h        = tNew - tOld
		prevNorm = math.Inf(1)
		ndiverge int
	)
	u, err := pk.Solution()
	if err != nil {
		return false, err
	}
	u0 := u.CloneShape("u0")
	u0.Copy(u)

	modified, err := pk.ModifyPredictor(h, u0, u)
	if err != nil {
		return false, err
	}
	if modified {
		if err = pk.ChangedSolution(); err != nil {
			return false, err
		}
	}

	r := u.CloneShape("residual")
	du := u.CloneShape("correction")

	for itr := 0; itr < slv.Params.MaxIterations; itr++ {
		if err = pk.Residual(tOld, tNew, u, r); err != nil {
			return false, err
		}
		norm, err := pk.ErrorNorm(u, r)
		if err != nil {
			return false, err
		}
		slv.logf("  itr %2d: error norm %12.5e\n", itr, norm)
		if norm < 1 {
			if !pk.IsAdmissible(u) {
				slv.logf("  converged but inadmissible, rejecting step\n")
				return false, nil
			}
			return true, nil
		}
		if norm > prevNorm*slv.Params.NormGrowth {
			ndiverge++
			if ndiverge >= slv.Params.DivergenceLimit {
				slv.logf("  diverging after %d iterations, rejecting step\n", itr)
				return false, nil
			}
		} else {
			ndiverge = 0
		}
		prevNorm = norm

		if err = pk.UpdatePreconditioner(tNew, u, h); err != nil {
			return false, err
		}
		if err = pk.Precondition(r, du); err != nil {
			return false, err
		}
		if _, err = pk.ModifyCorrection(h, r, u, du); err != nil {
			return false, err
		}
		u.AXPY(-1, du)
		if err = pk.ChangedSolution(); err != nil {
			return false, err
		}
	}
	slv.logf("  no convergence in %d iterations, rejecting step\n", slv.Params.MaxIterations)
	return false, nil
}
