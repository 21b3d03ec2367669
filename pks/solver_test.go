package pks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tundrasim/tundrasim/mesh"
	"github.com/tundrasim/tundrasim/state"
	"github.com/tundrasim/tundrasim/utils"
)

// scalarPK is a one-unknown implicit kernel solving u = target with an
// identity preconditioner, for exercising the solver loop in isolation.
type scalarPK struct {
	u          *TreeVector
	target     float64
	admissible bool
	frozen     bool // if set, Precondition returns zero so nothing improves
	changes    int
}

func newScalarPK(u0, target float64) *scalarPK {
	spec := &state.FieldSpec{Key: "u"}
	_ = spec.AddComponent(mesh.Cell, 1, 1)
	fd := state.NewFieldData(spec)
	fd.PutScalar(u0)
	return &scalarPK{u: NewLeafVector("u", fd), target: target, admissible: true}
}

func (p *scalarPK) Name() string      { return "scalar" }
func (p *scalarPK) Setup() error      { return nil }
func (p *scalarPK) Initialize() error { return nil }
func (p *scalarPK) Dt() float64       { return 1 }
func (p *scalarPK) AdvanceStep(tOld, tNew float64, reinit bool) (bool, error) {
	return false, nil
}
func (p *scalarPK) CommitStep(tOld, tNew float64) error { return nil }

func (p *scalarPK) Solution() (*TreeVector, error) { return p.u, nil }
func (p *scalarPK) Residual(tOld, tNew float64, uNew, r *TreeVector) error {
	r.Data.Component(mesh.Cell).SetVec(0, uNew.Data.Component(mesh.Cell).AtVec(0)-p.target)
	return nil
}
func (p *scalarPK) UpdatePreconditioner(t float64, u *TreeVector, h float64) error { return nil }
func (p *scalarPK) Precondition(r, Pu *TreeVector) error {
	if p.frozen {
		Pu.PutScalar(0)
		return nil
	}
	Pu.Copy(r)
	return nil
}
func (p *scalarPK) ModifyPredictor(h float64, u0, u *TreeVector) (bool, error) { return false, nil }
func (p *scalarPK) ModifyCorrection(h float64, res, u, du *TreeVector) (CorrectionResult, error) {
	return CorrectionNotModified, nil
}
func (p *scalarPK) IsAdmissible(u *TreeVector) bool { return p.admissible }
func (p *scalarPK) ErrorNorm(u, r *TreeVector) (float64, error) {
	return r.NormInf() / 1e-8, nil
}
func (p *scalarPK) ChangedSolution() error {
	p.changes++
	return nil
}

func TestImplicitSolver(t *testing.T) {
	// a linear problem with an exact preconditioner converges and leaves
	// the solution at the root
	{
		pk := newScalarPK(0, 2)
		slv := NewImplicitSolver(DefaultSolverParams())
		accepted, err := slv.Solve(pk, 0, 1)
		assert.NoError(t, err)
		assert.True(t, accepted)
		assert.InDelta(t, 2.0, pk.u.Data.Component(mesh.Cell).AtVec(0), 1e-8)
		// the solver announced every rewrite of u
		assert.Greater(t, pk.changes, 0)
	}
	// a converged but inadmissible solution is a rejection, not an error
	{
		pk := newScalarPK(0, 2)
		pk.admissible = false
		slv := NewImplicitSolver(DefaultSolverParams())
		accepted, err := slv.Solve(pk, 0, 1)
		assert.NoError(t, err)
		assert.False(t, accepted)
	}
	// no progress within the iteration budget is a rejection
	{
		pk := newScalarPK(0, 2)
		pk.frozen = true
		params := DefaultSolverParams()
		params.MaxIterations = 5
		slv := NewImplicitSolver(params)
		accepted, err := slv.Solve(pk, 0, 1)
		assert.NoError(t, err)
		assert.False(t, accepted)
	}
}

// Applying the Schur preconditioner before UpdatePreconditioner has
// assembled it is a protocol violation and must fail loudly; there is no
// step size to assemble it with.
func TestPreconditionBeforeUpdate(t *testing.T) {
	var (
		msh = mesh.NewColumn(3, 0, 0.5)
		pm  = utils.NewPartitionMap(1, 3)
		s   = state.NewState()
	)
	k := NewConservationPK(s, msh, pm, ConservationParams{Name: "bare"}, DefaultSolverParams())
	err := k.Precondition(nil, nil)
	var cfg *state.ConfigurationError
	assert.ErrorAs(t, err, &cfg)
}

func TestTreeVector(t *testing.T) {
	spec := &state.FieldSpec{Key: "f"}
	_ = spec.AddComponent(mesh.Cell, 3, 1)
	leaf1 := state.NewFieldData(spec)
	leaf2 := state.NewFieldData(spec)
	leaf1.PutScalar(1)
	leaf2.PutScalar(2)

	tv := NewTreeVector("root")
	tv.PushBack(NewLeafVector("a", leaf1))
	tv.PushBack(NewLeafVector("b", leaf2))

	// CloneShape is zeroed and structurally identical
	c := tv.CloneShape("clone")
	assert.Equal(t, 2, len(c.Subs))
	assert.Equal(t, 0.0, c.NormInf())

	// AXPY recurses into subvectors
	c.Copy(tv)
	c.AXPY(2, tv)
	assert.Equal(t, 3.0, c.SubVector(0).Data.Component(mesh.Cell).AtVec(0))
	assert.Equal(t, 6.0, c.SubVector(1).Data.Component(mesh.Cell).AtVec(0))
	assert.Equal(t, 6.0, c.NormInf())
}
