// Package veg is the explicit vegetation kernel. The vegetation model
// itself is opaque: the kernel's job is protocol plumbing, turning met
// forcing and the thaw front into a transpiration sink for the flow
// kernel on the forcing's own staggered update cadence.
package veg

import (
	"math"

	"github.com/tundrasim/tundrasim/mesh"
	"github.com/tundrasim/tundrasim/state"
	"github.com/tundrasim/tundrasim/utils"
)

const (
	KeyAirTemperature state.Key = "air_temperature"
	KeyPrecipitation  state.Key = "precipitation"
	KeyTranspiration  state.Key = "transpiration"
	KeyThawDepth      state.Key = "thaw_depth"
)

// VegetationModel is the opaque biology: given the forcing over a step it
// returns the column's total water demand. Implementations carry whatever
// internal state they like; the kernel only sees this surface.
type VegetationModel interface {
	// Transpiration returns total water demand [mol/m^2-s] over
	// [tOld, tNew] under the given air temperature [K] and
	// precipitation [mol/m^2-s].
	Transpiration(tOld, tNew, airTemp, precip float64) float64
	// RootDepth is the maximum rooting depth [m] below the surface.
	RootDepth() float64
}

// BasicVegetation is a minimal model: demand ramps with air temperature
// above a threshold and shuts off below it.
type BasicVegetation struct {
	MaxDemand float64 // [mol/m^2-s]
	OnsetTemp float64 // [K]
	RampWidth float64 // [K]
	Rooting   float64 // [m]
}

func (m *BasicVegetation) Transpiration(tOld, tNew, airTemp, precip float64) float64 {
	x := (airTemp - m.OnsetTemp) / m.RampWidth
	if x <= 0 {
		return 0
	}
	if x >= 1 {
		return m.MaxDemand
	}
	return m.MaxDemand * x
}

func (m *BasicVegetation) RootDepth() float64 { return m.Rooting }

// ForcingFunc supplies a met value at time t.
type ForcingFunc func(t float64) float64

type Params struct {
	// Update intervals for the two forcing streams; deliberately
	// independent so their refreshes stagger.
	AirTempInterval float64
	PrecipInterval  float64
	AirTemp         ForcingFunc
	Precip          ForcingFunc
	Verbosity       int
}

func DefaultParams() Params {
	return Params{
		AirTempInterval: 3600,
		PrecipInterval:  1800,
		AirTemp:         func(t float64) float64 { return 278.15 },
		Precip:          func(t float64) float64 { return 0 },
	}
}

// PK advances the vegetation model explicitly and owns the transpiration
// field consumed by the flow kernel.
type PK struct {
	PKName string
	S      *state.State
	msh    mesh.Mesh
	pm     *utils.PartitionMap
	model  VegetationModel
	params Params
	nc     int
}

func New(s *state.State, msh mesh.Mesh, pm *utils.PartitionMap,
	model VegetationModel, params Params) *PK {
	return &PK{
		PKName: "vegetation",
		S:      s,
		msh:    msh,
		pm:     pm,
		model:  model,
		params: params,
		nc:     msh.NumEntities(mesh.Cell),
	}
}

func (p *PK) Name() string { return p.PKName }

func (p *PK) Setup() error {
	spec, err := p.S.RequireField(KeyTranspiration, p.PKName)
	if err != nil {
		return err
	}
	if err = spec.AddComponent(mesh.Cell, p.nc, 1); err != nil {
		return err
	}
	p.S.SetEvaluator(KeyTranspiration, state.NewPrimaryEvaluator(KeyTranspiration))

	for _, f := range []struct {
		key      state.Key
		interval float64
		fn       ForcingFunc
	}{
		{KeyAirTemperature, p.params.AirTempInterval, p.params.AirTemp},
		{KeyPrecipitation, p.params.PrecipInterval, p.params.Precip},
	} {
		spec, err = p.S.RequireField(f.key, "")
		if err != nil {
			return err
		}
		if err = spec.AddComponent(mesh.Cell, 1, 1); err != nil {
			return err
		}
		fn := f.fn
		p.S.SetEvaluator(f.key, state.NewIndependentEvaluator(f.key, f.interval,
			func(t float64, result *state.FieldData) {
				result.PutScalar(fn(t))
			}))
	}
	return nil
}

func (p *PK) Initialize() error {
	fd, err := p.S.WritableData(KeyTranspiration, p.PKName)
	if err != nil {
		return err
	}
	fd.PutScalar(0)
	p.S.SetInitialized(KeyTranspiration)
	if err = p.S.MarkChangedSolution(KeyTranspiration); err != nil {
		return err
	}
	p.S.CommitField(KeyTranspiration)
	return nil
}

// Dt is the tighter of the two forcing cadences: stepping past a refresh
// would silently average away the forcing.
func (p *PK) Dt() float64 {
	return math.Min(p.params.AirTempInterval, p.params.PrecipInterval)
}

// AdvanceStep is explicit and never rejects: it pulls the forcing through
// the graph, asks the model for demand, and spreads it over the thawed
// part of the root zone.
func (p *PK) AdvanceStep(tOld, tNew float64, reinit bool) (bool, error) {
	p.S.SetTime(state.TagOld, tOld)
	p.S.SetTime(state.TagNew, tNew)

	for _, key := range []state.Key{KeyAirTemperature, KeyPrecipitation} {
		ev, err := p.S.Evaluator(key)
		if err != nil {
			return false, err
		}
		if _, err = ev.HasFieldChanged(p.S, p.PKName); err != nil {
			return false, err
		}
	}
	airFd, err := p.S.Data(KeyAirTemperature, state.TagNew)
	if err != nil {
		return false, err
	}
	precipFd, err := p.S.Data(KeyPrecipitation, state.TagNew)
	if err != nil {
		return false, err
	}
	demand := p.model.Transpiration(tOld, tNew,
		airFd.Component(mesh.Cell).AtVec(0), precipFd.Component(mesh.Cell).AtVec(0))

	activeDepth := p.model.RootDepth()
	if thaw, err := p.S.Scalar(KeyThawDepth); err == nil && thaw < activeDepth {
		activeDepth = thaw
	}

	fd, err := p.S.WritableData(KeyTranspiration, p.PKName)
	if err != nil {
		return false, err
	}
	tr := fd.Component(mesh.Cell).DataP()
	top := p.msh.FaceCentroid(0)
	for c := 0; c < p.nc; c++ {
		tr[c] = 0
		if activeDepth <= 0 {
			continue
		}
		depth := p.msh.CellCentroid(c) - top
		if depth < activeDepth {
			// sink density, uniform over the active zone
			tr[c] = -demand / activeDepth
		}
	}
	return true, p.S.MarkChangedSolution(KeyTranspiration)
}

func (p *PK) CommitStep(tOld, tNew float64) error {
	p.S.CommitField(KeyTranspiration)
	return nil
}
