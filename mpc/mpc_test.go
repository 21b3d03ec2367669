package mpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tundrasim/tundrasim/mesh"
	"github.com/tundrasim/tundrasim/relations"
	"github.com/tundrasim/tundrasim/state"
	"github.com/tundrasim/tundrasim/utils"
)

func TestParsePreconType(t *testing.T) {
	for name, want := range map[string]PreconType{
		"none":           PreconNone,
		"block diagonal": PreconBlockDiagonal,
		"picard":         PreconPicard,
		"ewc":            PreconEWC,
		"smart ewc":      PreconEWC,
	} {
		got, err := ParsePreconType(name)
		assert.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParsePreconType("galactic")
	var cfg *state.ConfigurationError
	assert.ErrorAs(t, err, &cfg)
}

func ewcFixture(t *testing.T, p0, T0 float64) (*state.State, *EWCDelegate) {
	s := state.NewState()
	for key, val := range map[state.Key]float64{
		"pressure":    p0,
		"temperature": T0,
	} {
		spec, err := s.RequireField(key, "test")
		assert.NoError(t, err)
		assert.NoError(t, spec.AddComponent(mesh.Cell, 1, 1))
		s.SetEvaluator(key, state.NewPrimaryEvaluator(key))
		assert.NoError(t, s.Setup())
		fd, err := s.WritableData(key, "test")
		assert.NoError(t, err)
		fd.PutScalar(val)
		s.SetInitialized(key)
	}
	d := NewEWCDelegate(relations.DefaultPermafrostModel(), "pressure", "temperature")
	return s, d
}

// The corrected update must land exactly on the conserved-quantity target
// the linearization asked for, instead of overshooting through the latent
// heat cliff.
func TestEWCPreconCorrection(t *testing.T) {
	var (
		model = relations.DefaultPermafrostModel()
		p0    = model.AtmPress + 5e3
		T0    = relations.FreezePoint + 0.2
	)
	var (
		s, d = ewcFixture(t, p0, T0)
		dp   = utils.NewVector(1)
		dT   = utils.NewVector(1)
	)
	// a correction that would step deep across the transition
	dp.SetVec(0, 2e3)
	dT.SetVec(0, 0.8)

	dwcdp, dwcdT, dedp, dedT := model.Jacobian(p0, T0)
	wcStar := model.WaterContent(p0, T0) - (dwcdp*dp.AtVec(0) + dwcdT*dT.AtVec(0))
	eStar := model.Energy(p0, T0) - (dedp*dp.AtVec(0) + dedT*dT.AtVec(0))

	n, err := d.PreconCorrection(s, []utils.Vector{dp, dT})
	assert.NoError(t, err)
	assert.Equal(t, 1, n)

	p1 := p0 - dp.AtVec(0)
	T1 := T0 - dT.AtVec(0)
	assert.InDelta(t, wcStar, model.WaterContent(p1, T1), 1e-6)
	assert.InDelta(t, eStar, model.Energy(p1, T1), 1e-3)
}

// Far from the transition the delegate leaves the correction alone.
func TestEWCGating(t *testing.T) {
	var (
		model = relations.DefaultPermafrostModel()
		s, d  = ewcFixture(t, model.AtmPress, 300)
		dp    = utils.NewVector(1)
		dT    = utils.NewVector(1)
	)
	dp.SetVec(0, 500)
	dT.SetVec(0, 0.1)
	n, err := d.PreconCorrection(s, []utils.Vector{dp, dT})
	assert.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 500.0, dp.AtVec(0))
	assert.Equal(t, 0.1, dT.AtVec(0))
}
