package veg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tundrasim/tundrasim/mesh"
	"github.com/tundrasim/tundrasim/state"
	"github.com/tundrasim/tundrasim/utils"
)

func vegColumn(t *testing.T, params Params, model VegetationModel) (*state.State, *PK) {
	var (
		K   = 4
		msh = mesh.NewColumn(K, 0, 0.25)
		pm  = utils.NewPartitionMap(1, K)
		s   = state.NewState()
	)
	pk := New(s, msh, pm, model, params)
	assert.NoError(t, pk.Setup())
	assert.NoError(t, s.Setup())
	assert.NoError(t, pk.Initialize())
	return s, pk
}

// The two forcing streams refresh on independent cadences: a stream
// recomputes only when the clock crosses into a new update interval, and
// the kernel's step proposal is the tighter of the two.
func TestForcingCadence(t *testing.T) {
	var airCalls, precipCalls int
	params := DefaultParams()
	params.AirTemp = func(tt float64) float64 { airCalls++; return 281.15 }
	params.Precip = func(tt float64) float64 { precipCalls++; return 0 }
	model := &BasicVegetation{MaxDemand: 2e-4, OnsetTemp: 275.15, RampWidth: 2, Rooting: 0.6}
	_, pk := vegColumn(t, params, model)

	assert.Equal(t, 1800.0, pk.Dt())

	step := func(t0, t1 float64) {
		accepted, err := pk.AdvanceStep(t0, t1, false)
		assert.NoError(t, err)
		assert.True(t, accepted)
		assert.NoError(t, pk.CommitStep(t0, t1))
	}

	// first step evaluates both streams
	step(0, 900)
	assert.Equal(t, 1, airCalls)
	assert.Equal(t, 1, precipCalls)

	// neither interval boundary crossed: both stay cached
	step(900, 1500)
	assert.Equal(t, 1, airCalls)
	assert.Equal(t, 1, precipCalls)

	// only the precipitation interval rolls over at t=1800
	step(1500, 2000)
	assert.Equal(t, 1, airCalls)
	assert.Equal(t, 2, precipCalls)

	// the air-temperature interval rolls over at t=3600
	step(2000, 3700)
	assert.Equal(t, 2, airCalls)
	assert.Equal(t, 3, precipCalls)
}

// Demand spreads uniformly over the thawed part of the root zone: the thaw
// front gates the active depth when it sits above the rooting depth, and a
// frozen surface shuts the sink off entirely.
func TestRootZoneSink(t *testing.T) {
	model := &BasicVegetation{MaxDemand: 2e-4, OnsetTemp: 275.15, RampWidth: 2, Rooting: 0.6}
	params := DefaultParams()
	params.AirTemp = func(tt float64) float64 { return 281.15 } // full demand
	s, pk := vegColumn(t, params, model)

	// thaw front above the rooting depth gates the active zone
	s.SetScalar(KeyThawDepth, 0.3)
	accepted, err := pk.AdvanceStep(0, 1800, false)
	assert.NoError(t, err)
	assert.True(t, accepted)

	fd, err := s.Data(KeyTranspiration, state.TagNew)
	assert.NoError(t, err)
	tr := fd.Component(mesh.Cell)
	assert.InDelta(t, -model.MaxDemand/0.3, tr.AtVec(0), 1e-15)
	assert.Equal(t, 0.0, tr.AtVec(1))
	assert.Equal(t, 0.0, tr.AtVec(3))

	// commit promotes the sink to the old tag
	assert.NoError(t, pk.CommitStep(0, 1800))
	old, err := s.Data(KeyTranspiration, state.TagOld)
	assert.NoError(t, err)
	assert.True(t, old.Equals(fd))

	// a frozen surface shuts the sink off
	s.SetScalar(KeyThawDepth, 0)
	accepted, err = pk.AdvanceStep(1800, 3600, false)
	assert.NoError(t, err)
	assert.True(t, accepted)
	assert.Equal(t, 0.0, tr.AtVec(0))

	// below the onset temperature demand is zero even when fully thawed
	coldParams := DefaultParams()
	coldParams.AirTemp = func(tt float64) float64 { return 270.15 }
	s2, pk2 := vegColumn(t, coldParams, model)
	_, err = pk2.AdvanceStep(0, 1800, false)
	assert.NoError(t, err)
	fd2, err := s2.Data(KeyTranspiration, state.TagNew)
	assert.NoError(t, err)
	assert.Equal(t, 0.0, fd2.Component(mesh.Cell).Min())
	assert.Equal(t, 0.0, fd2.Component(mesh.Cell).Max())
}
