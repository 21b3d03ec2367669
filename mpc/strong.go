package mpc

import (
	"fmt"
	"math"

	"github.com/tundrasim/tundrasim/mesh"
	"github.com/tundrasim/tundrasim/operators"
	"github.com/tundrasim/tundrasim/pks"
	"github.com/tundrasim/tundrasim/state"
	"github.com/tundrasim/tundrasim/utils"
)

// CoupledChild is what a strong coupler requires of a child beyond the
// implicit protocol: access to its eliminated cell block and its operator,
// so the coupled strategies can assemble and back-substitute across
// children.
type CoupledChild interface {
	pks.ImplicitPK
	PrimaryKey() state.Key
	ConservedKey() state.Key
	AccumulationDiag() []float64
	Operator() *operators.Diffusion
	// InitializePrimary and InitializeConserved split initialization so
	// the coupler can populate every primary before any closure, which
	// may read a sibling's primary, is evaluated.
	InitializePrimary() error
	InitializeConserved() error
}

// StrongMPC poses one implicit system over its children's unknowns. The
// composite solution vector concatenates the children's solutions as
// subvectors in declaration order, which is also residual, commit, and
// precondition order.
type StrongMPC struct {
	PKName    string
	S         *state.State
	Children  []CoupledChild
	Precon    PreconType
	EWC       *EWCDelegate // consulted only when Precon == PreconEWC
	Verbosity int

	solver  *pks.ImplicitSolver
	lastH   float64
	coupled utils.Matrix
	haveC   bool
}

func NewStrongMPC(name string, s *state.State, children []CoupledChild,
	precon PreconType, ewc *EWCDelegate, solverParams pks.SolverParams) *StrongMPC {
	solverParams.Verbosity = s.Verbosity
	return &StrongMPC{
		PKName:    name,
		S:         s,
		Children:  children,
		Precon:    precon,
		EWC:       ewc,
		Verbosity: s.Verbosity,
		solver:    pks.NewImplicitSolver(solverParams),
	}
}

func (m *StrongMPC) Name() string { return m.PKName }

func (m *StrongMPC) Setup() error {
	if m.Precon == PreconEWC && m.EWC == nil {
		return &state.ConfigurationError{Kernel: m.PKName,
			Reason: "ewc strategy configured without an ewc delegate"}
	}
	for _, child := range m.Children {
		if err := child.Setup(); err != nil {
			return err
		}
	}
	return nil
}

// Initialize is two phase: every child's primary variable is populated
// first, then the conserved quantities are evaluated and committed, since
// their closures read across children (water content depends on the energy
// kernel's temperature and vice versa).
func (m *StrongMPC) Initialize() error {
	for _, child := range m.Children {
		if err := child.InitializePrimary(); err != nil {
			return err
		}
	}
	for _, child := range m.Children {
		if err := child.InitializeConserved(); err != nil {
			return err
		}
	}
	return nil
}

// Dt is the most restrictive child's proposal.
func (m *StrongMPC) Dt() (dt float64) {
	dt = math.Inf(1)
	for _, child := range m.Children {
		if cdt := child.Dt(); cdt < dt {
			dt = cdt
		}
	}
	return
}

func (m *StrongMPC) Solution() (*pks.TreeVector, error) {
	tv := pks.NewTreeVector(m.PKName)
	for _, child := range m.Children {
		sub, err := child.Solution()
		if err != nil {
			return nil, err
		}
		tv.PushBack(sub)
	}
	return tv, nil
}

func (m *StrongMPC) ChangedSolution() error {
	for _, child := range m.Children {
		if err := child.ChangedSolution(); err != nil {
			return err
		}
	}
	return nil
}

func (m *StrongMPC) Residual(tOld, tNew float64, uNew, r *pks.TreeVector) error {
	for i, child := range m.Children {
		if err := child.Residual(tOld, tNew, uNew.SubVector(i), r.SubVector(i)); err != nil {
			return err
		}
	}
	return nil
}

func (m *StrongMPC) ErrorNorm(u, r *pks.TreeVector) (norm float64, err error) {
	for i, child := range m.Children {
		n, err := child.ErrorNorm(u.SubVector(i), r.SubVector(i))
		if err != nil {
			return 0, err
		}
		if n > norm {
			norm = n
		}
	}
	return norm, nil
}

// UpdatePreconditioner refreshes every child's block, then assembles the
// coupled cell matrix when the strategy needs one.
func (m *StrongMPC) UpdatePreconditioner(t float64, u *pks.TreeVector, h float64) error {
	m.lastH = h
	for i, child := range m.Children {
		var sub *pks.TreeVector
		if u != nil {
			sub = u.SubVector(i)
		}
		if err := child.UpdatePreconditioner(t, sub, h); err != nil {
			return err
		}
	}
	if m.Precon == PreconPicard || m.Precon == PreconEWC {
		return m.assembleCoupled(h)
	}
	return nil
}

// assembleCoupled builds the dense coupled cell system: each child's
// Schur-eliminated block on the diagonal, and the cross accumulation
// derivatives d(Phi_i)/d(u_j)/h on the off-diagonal block diagonals.
func (m *StrongMPC) assembleCoupled(h float64) error {
	nc := m.Children[0].Operator().NumCells()
	for _, child := range m.Children[1:] {
		if child.Operator().NumCells() != nc {
			return &state.ConfigurationError{Kernel: m.PKName,
				Reason: "coupled children discretize different cell sets"}
		}
	}
	n := nc * len(m.Children)
	m.coupled = utils.NewMatrix(n, n)
	for i, child := range m.Children {
		block := child.Operator().CellSchur(child.AccumulationDiag())
		for r := 0; r < nc; r++ {
			for c := 0; c < nc; c++ {
				m.coupled.Set(i*nc+r, i*nc+c, block.At(r, c))
			}
		}
		for j, other := range m.Children {
			if j == i {
				continue
			}
			ev, err := m.S.Evaluator(child.ConservedKey())
			if err != nil {
				return err
			}
			if _, err = ev.HasFieldDerivativeChanged(m.S, m.PKName, other.PrimaryKey()); err != nil {
				return err
			}
			dphi := m.S.DerivativeData(child.ConservedKey(), other.PrimaryKey()).
				Component(mesh.Cell).DataP()
			for c := 0; c < nc; c++ {
				m.coupled.Set(i*nc+c, j*nc+c, dphi[c]/h)
			}
		}
	}
	m.haveC = true
	return nil
}

func (m *StrongMPC) Precondition(r, Pu *pks.TreeVector) error {
	switch m.Precon {
	case PreconNone:
		Pu.Copy(r)
		return nil
	case PreconBlockDiagonal:
		for i, child := range m.Children {
			if err := child.Precondition(r.SubVector(i), Pu.SubVector(i)); err != nil {
				return err
			}
		}
		return nil
	case PreconPicard:
		return m.preconCoupled(r, Pu, false)
	case PreconEWC:
		return m.preconCoupled(r, Pu, true)
	}
	return &state.ConfigurationError{Kernel: m.PKName, Reason: "unknown coupling strategy"}
}

// preconCoupled solves the coupled cell system and back-substitutes faces
// per child. With ewc set, the cell corrections then pass through the
// conserved-space correction and the face delta is recomputed through the
// same elimination, keeping the face rows exactly satisfied.
func (m *StrongMPC) preconCoupled(r, Pu *pks.TreeVector, ewc bool) error {
	if !m.haveC {
		return &state.ConfigurationError{Kernel: m.PKName,
			Reason: "coupled preconditioner applied before update"}
	}
	var (
		nc  = m.Children[0].Operator().NumCells()
		rhs = utils.NewVector(nc * len(m.Children))
	)
	for i, child := range m.Children {
		rcRed := child.Operator().EliminateFaces(
			r.SubVector(i).Data.Component(mesh.Cell),
			r.SubVector(i).Data.Component(mesh.Face))
		copy(rhs.DataP()[i*nc:(i+1)*nc], rcRed.DataP())
	}
	duc, err := m.coupled.LUSolve(rhs)
	if err != nil {
		return err
	}
	cells := make([]utils.Vector, len(m.Children))
	for i := range m.Children {
		cells[i] = utils.NewVector(nc, duc.DataP()[i*nc:(i+1)*nc])
	}

	if ewc {
		nApplied, err := m.EWC.PreconCorrection(m.S, cells)
		if err != nil {
			return err
		}
		if m.Verbosity >= 2 && nApplied > 0 {
			m.logf("  ewc corrected %d cells\n", nApplied)
		}
	}

	for i, child := range m.Children {
		pc := Pu.SubVector(i).Data.Component(mesh.Cell)
		copy(pc.DataP(), cells[i].DataP())
		child.Operator().ConsistentFaceCorrection(
			r.SubVector(i).Data.Component(mesh.Face),
			cells[i],
			Pu.SubVector(i).Data.Component(mesh.Face))
	}
	return nil
}

func (m *StrongMPC) logf(format string, args ...interface{}) {
	if m.Verbosity >= 1 {
		fmt.Printf("[%s] "+format, append([]interface{}{m.PKName}, args...)...)
	}
}

// ModifyPredictor lets every child adjust its block of the predictor.
func (m *StrongMPC) ModifyPredictor(h float64, u0, u *pks.TreeVector) (modified bool, err error) {
	for i, child := range m.Children {
		mod, err := child.ModifyPredictor(h, u0.SubVector(i), u.SubVector(i))
		if err != nil {
			return modified, err
		}
		modified = modified || mod
	}
	return modified, nil
}

func (m *StrongMPC) ModifyCorrection(h float64, res, u, du *pks.TreeVector) (pks.CorrectionResult, error) {
	result := pks.CorrectionNotModified
	for i, child := range m.Children {
		cr, err := child.ModifyCorrection(h, res.SubVector(i), u.SubVector(i), du.SubVector(i))
		if err != nil {
			return result, err
		}
		if cr == pks.CorrectionModified {
			result = pks.CorrectionModified
		}
	}
	return result, nil
}

func (m *StrongMPC) IsAdmissible(u *pks.TreeVector) bool {
	for i, child := range m.Children {
		if !child.IsAdmissible(u.SubVector(i)) {
			return false
		}
	}
	return true
}

// AdvanceStep solves the coupled step. Rejection reverts every child's
// primary variable to the committed solution.
func (m *StrongMPC) AdvanceStep(tOld, tNew float64, reinit bool) (bool, error) {
	m.S.SetTime(state.TagOld, tOld)
	m.S.SetTime(state.TagNew, tNew)
	accepted, err := m.solver.Solve(m, tOld, tNew)
	if err != nil {
		return false, err
	}
	if !accepted {
		for _, child := range m.Children {
			m.S.RevertField(child.PrimaryKey())
		}
		if err = m.ChangedSolution(); err != nil {
			return false, err
		}
	}
	return accepted, nil
}

// CommitStep commits children in declaration order.
func (m *StrongMPC) CommitStep(tOld, tNew float64) error {
	for _, child := range m.Children {
		if err := child.CommitStep(tOld, tNew); err != nil {
			return err
		}
	}
	return nil
}
