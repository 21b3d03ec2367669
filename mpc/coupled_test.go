package mpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tundrasim/tundrasim/driver"
	"github.com/tundrasim/tundrasim/mesh"
	"github.com/tundrasim/tundrasim/pks"
	"github.com/tundrasim/tundrasim/pks/energy"
	"github.com/tundrasim/tundrasim/pks/flow"
	"github.com/tundrasim/tundrasim/pks/veg"
	"github.com/tundrasim/tundrasim/relations"
	"github.com/tundrasim/tundrasim/state"
	"github.com/tundrasim/tundrasim/utils"
)

func coupledColumn(t *testing.T, precon PreconType) (*state.State, *StrongMPC) {
	var (
		K     = 8
		msh   = mesh.NewColumn(K, 0, 0.25)
		pm    = utils.NewPartitionMap(1, K)
		s     = state.NewState()
		model = relations.DefaultPermafrostModel()
	)
	solverParams := pks.DefaultSolverParams()
	solverParams.MaxIterations = 30

	flowParams := flow.DefaultParams()
	flowParams.SurfacePressure = func(tt float64) float64 { return model.AtmPress + 2e3 }
	flowParams.InitialPressure = func(z float64) float64 { return model.AtmPress + 2e3 }
	flowPK := flow.New(s, msh, pm, model, flowParams, solverParams)

	energyParams := energy.DefaultParams()
	energyParams.SurfaceTemp = func(tt float64) float64 { return 272.35 }
	energyParams.InitialTemp = func(z float64) float64 { return 273.45 }
	energyPK := energy.New(s, msh, pm, model, energyParams, solverParams)

	var ewc *EWCDelegate
	if precon == PreconEWC {
		ewc = NewEWCDelegate(model, flow.KeyPressure, energy.KeyTemperature)
	}
	sub := NewStrongMPC("subsurface", s,
		[]CoupledChild{flowPK, energyPK}, precon, ewc, solverParams)
	return s, sub
}

// Each conserved closure reads the sibling's primary (water content needs
// temperature, energy needs pressure), so initialization must populate
// every primary before either closure is evaluated.
func TestCoupledInitialize(t *testing.T) {
	s, sub := coupledColumn(t, PreconPicard)
	assert.NoError(t, sub.Setup())
	assert.NoError(t, s.Setup())
	assert.NoError(t, sub.Initialize())

	wc, err := s.Data(flow.KeyWaterContent, state.TagOld)
	assert.NoError(t, err)
	assert.Greater(t, wc.Component(mesh.Cell).Min(), 0.0)

	e, err := s.Data(energy.KeyEnergy, state.TagOld)
	assert.NoError(t, err)
	assert.NotEqual(t, 0.0, e.Component(mesh.Cell).AtVec(0))
}

// The coupled column must advance under every strategy that resolves the
// coupling; EWC additionally crosses the freezing front without the step
// controller collapsing the step.
func TestCoupledColumn(t *testing.T) {
	for _, precon := range []PreconType{PreconPicard, PreconEWC} {
		s, sub := coupledColumn(t, precon)
		co := driver.NewCoordinator(sub, s, driver.Params{
			TEnd:        1800,
			InitialDt:   300,
			MinDt:       1e-4,
			MaxDt:       600,
			GrowthCap:   2,
			MaxFailures: 25,
		}, nil)
		assert.NoError(t, co.Setup(), "strategy %v", precon)
		assert.NoError(t, co.Run(), "strategy %v", precon)
		assert.Greater(t, co.Steps, 0, "strategy %v", precon)

		Tfd, err := s.Data(energy.KeyTemperature, state.TagNew)
		assert.NoError(t, err)
		Tc := Tfd.Component(mesh.Cell)
		assert.Greater(t, Tc.Min(), 200.0)
		assert.Less(t, Tc.Max(), 330.0)

		pfd, err := s.Data(flow.KeyPressure, state.TagNew)
		assert.NoError(t, err)
		assert.Greater(t, pfd.Component(mesh.Cell).Min(), 0.0)
	}
}

// An EWC configuration without a delegate is a configuration error at
// setup, before any stepping.
func TestEWCRequiresDelegate(t *testing.T) {
	s, sub := coupledColumn(t, PreconPicard)
	sub.Precon = PreconEWC
	sub.EWC = nil
	co := driver.NewCoordinator(sub, s, driver.DefaultParams(), nil)
	err := co.Setup()
	var cfg *state.ConfigurationError
	assert.ErrorAs(t, err, &cfg)
}

// Rejection at the coupler level reverts every child's primary variable.
func TestCoupledRejectionReverts(t *testing.T) {
	s, sub := coupledColumn(t, PreconPicard)
	assert.NoError(t, sub.Setup())
	assert.NoError(t, s.Setup())
	assert.NoError(t, sub.Initialize())

	// zero-iteration budget: every step rejects after the predictor
	sub.solver = pks.NewImplicitSolver(pks.SolverParams{MaxIterations: 0})

	oldT, err := s.Data(energy.KeyTemperature, state.TagOld)
	assert.NoError(t, err)
	oldP, err := s.Data(flow.KeyPressure, state.TagOld)
	assert.NoError(t, err)
	oldTCopy, oldPCopy := oldT.Clone(), oldP.Clone()

	accepted, err := sub.AdvanceStep(0, 300, false)
	assert.NoError(t, err)
	assert.False(t, accepted)

	assert.True(t, oldT.Equals(oldTCopy))
	assert.True(t, oldP.Equals(oldPCopy))
	newT, _ := s.Data(energy.KeyTemperature, state.TagNew)
	newP, _ := s.Data(flow.KeyPressure, state.TagNew)
	assert.True(t, newT.Equals(oldTCopy))
	assert.True(t, newP.Equals(oldPCopy))
}

// A vegetation kernel weakly coupled above the subsurface feeds its
// transpiration sink into the flow kernel's source term: the root zone
// draws down below the surface pressure while cells beneath the roots see
// no sink at all.
func TestVegetationColumn(t *testing.T) {
	var (
		K     = 8
		msh   = mesh.NewColumn(K, 0, 0.25)
		pm    = utils.NewPartitionMap(1, K)
		s     = state.NewState()
		model = relations.DefaultPermafrostModel()
	)
	solverParams := pks.DefaultSolverParams()
	solverParams.MaxIterations = 30

	surfaceP := model.AtmPress + 2e3
	flowParams := flow.DefaultParams()
	flowParams.SurfacePressure = func(tt float64) float64 { return surfaceP }
	flowParams.InitialPressure = func(z float64) float64 { return surfaceP }
	flowParams.WithTranspiration = true
	flowPK := flow.New(s, msh, pm, model, flowParams, solverParams)

	// fully thawed so the sink is gated by rooting depth, not the thaw front
	energyParams := energy.DefaultParams()
	energyParams.SurfaceTemp = func(tt float64) float64 { return 275.15 }
	energyParams.InitialTemp = func(z float64) float64 { return 275.15 }
	energyPK := energy.New(s, msh, pm, model, energyParams, solverParams)

	sub := NewStrongMPC("subsurface", s,
		[]CoupledChild{flowPK, energyPK}, PreconPicard, nil, solverParams)

	vegModel := &veg.BasicVegetation{
		MaxDemand: 5e-2,
		OnsetTemp: 278.15,
		RampWidth: 5,
		Rooting:   0.5,
	}
	vegParams := veg.DefaultParams()
	vegParams.AirTemp = func(tt float64) float64 { return 285.15 } // full demand
	vegPK := veg.New(s, msh, pm, vegModel, vegParams)

	root := NewWeakMPC("surface column", vegPK, sub)
	co := driver.NewCoordinator(root, s, driver.Params{
		TEnd:        1800,
		InitialDt:   600,
		MinDt:       1e-4,
		MaxDt:       900,
		GrowthCap:   2,
		MaxFailures: 25,
	}, nil)
	assert.NoError(t, co.Setup())
	assert.NoError(t, co.Run())
	assert.Greater(t, co.Steps, 0)

	tr, err := s.Data(veg.KeyTranspiration, state.TagOld)
	assert.NoError(t, err)
	trc := tr.Component(mesh.Cell)
	assert.InDelta(t, -vegModel.MaxDemand/vegModel.Rooting, trc.AtVec(0), 1e-12)
	assert.Equal(t, 0.0, trc.AtVec(K-1))

	// the sink pulls the root zone below the surface pressure
	pfd, err := s.Data(flow.KeyPressure, state.TagOld)
	assert.NoError(t, err)
	assert.Less(t, pfd.Component(mesh.Cell).AtVec(0), surfaceP)
}
