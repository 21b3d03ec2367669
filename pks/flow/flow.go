// Package flow is the subsurface mass kernel: implicit conservation of
// molar water content with pressure as the primary variable. Mobility
// collapses smoothly as pore water freezes, which is what couples it
// tightly to the energy kernel.
package flow

import (
	"math"

	"github.com/tundrasim/tundrasim/mesh"
	"github.com/tundrasim/tundrasim/operators"
	"github.com/tundrasim/tundrasim/pks"
	"github.com/tundrasim/tundrasim/relations"
	"github.com/tundrasim/tundrasim/state"
	"github.com/tundrasim/tundrasim/utils"
)

const (
	KeyPressure              state.Key = "pressure"
	KeyWaterContent          state.Key = "water_content"
	KeyHydraulicConductivity state.Key = "hydraulic_conductivity"
	KeyTemperature           state.Key = "temperature"
	KeyCellVolume            state.Key = "cell_volume"
	KeyTranspiration         state.Key = "transpiration"
	KeyAtmosphericPressure   state.Key = "atmospheric_pressure"
)

type Params struct {
	SurfacePressure func(t float64) float64
	BasalFlux       float64 // [mol/m^2-s], positive into the domain
	InitialPressure func(z float64) float64
	AtmPressure     float64

	// WithTranspiration wires the vegetation sink as a volumetric source.
	WithTranspiration bool

	ATol, RTol      float64
	CorrectionLimit float64 // [Pa] per Newton iteration, 0 disables
	MaxDt           float64
	Verbosity       int
}

func DefaultParams() Params {
	return Params{
		SurfacePressure: func(t float64) float64 { return 101325 },
		BasalFlux:       0,
		InitialPressure: func(z float64) float64 { return 101325 },
		AtmPressure:     101325,
		ATol:            0.1,
		RTol:            1e-5,
		MaxDt:           86400,
	}
}

type PK struct {
	*pks.ConservationPK
	s      *state.State
	params Params
}

// New builds the flow kernel and registers the water-content and
// conductivity evaluators. Temperature is consumed, not owned: couple with
// an energy kernel, or register a constant temperature for isothermal runs.
func New(s *state.State, msh mesh.Mesh, pm *utils.PartitionMap,
	model *relations.SimplePermafrostModel, params Params,
	solverParams pks.SolverParams) *PK {

	RegisterEvaluators(s, model)

	sourceKey := state.Key("")
	if params.WithTranspiration {
		sourceKey = KeyTranspiration
	}
	cons := pks.NewConservationPK(s, msh, pm, pks.ConservationParams{
		Name:            "flow",
		PrimaryKey:      KeyPressure,
		ConservedKey:    KeyWaterContent,
		ConductivityKey: KeyHydraulicConductivity,
		CellVolumeKey:   KeyCellVolume,
		SourceKey:       sourceKey,
		ATol:            params.ATol,
		RTol:            params.RTol,
		// pressures outside this band drive the saturation sigmoid into
		// territory the inverse model cannot recover from
		AdmissibleMin:           -1e7,
		AdmissibleMax:           1e8,
		ConsistentFacePredictor: true,
		CorrectionLimit:         params.CorrectionLimit,
		MaxDt:                   params.MaxDt,
		InitialValue:            params.InitialPressure,
		Boundary: func(f int, t float64) operators.BC {
			if f == 0 {
				return operators.BC{Type: operators.BCDirichlet, Value: params.SurfacePressure(t)}
			}
			return operators.BC{Type: operators.BCNeumann, Value: -params.BasalFlux}
		},
		Verbosity: params.Verbosity,
	}, solverParams)

	return &PK{ConservationPK: cons, s: s, params: params}
}

// RegisterEvaluators installs the flow-side secondary evaluators.
// Idempotent.
func RegisterEvaluators(s *state.State, model *relations.SimplePermafrostModel) {
	if !s.HasEvaluator(KeyWaterContent) {
		s.SetEvaluator(KeyWaterContent, state.NewSecondaryEvaluator(
			KeyWaterContent,
			[]state.Key{KeyPressure, KeyTemperature, KeyCellVolume},
			func(deps state.Deps, result *state.FieldData) {
				var (
					p   = deps[KeyPressure].Component(mesh.Cell).DataP()
					T   = deps[KeyTemperature].Component(mesh.Cell).DataP()
					vol = deps[KeyCellVolume].Component(mesh.Cell).DataP()
					wc  = result.Component(mesh.Cell).DataP()
				)
				for c := range wc {
					wc[c] = model.WaterContent(p[c], T[c]) * vol[c]
				}
			},
			func(wrt state.Key, deps state.Deps, result *state.FieldData) {
				var (
					p   = deps[KeyPressure].Component(mesh.Cell).DataP()
					T   = deps[KeyTemperature].Component(mesh.Cell).DataP()
					vol = deps[KeyCellVolume].Component(mesh.Cell).DataP()
					dwc = result.Component(mesh.Cell).DataP()
				)
				for c := range dwc {
					dwcdp, dwcdT, _, _ := model.Jacobian(p[c], T[c])
					switch wrt {
					case KeyPressure:
						dwc[c] = dwcdp * vol[c]
					case KeyTemperature:
						dwc[c] = dwcdT * vol[c]
					case KeyCellVolume:
						dwc[c] = model.WaterContent(p[c], T[c])
					}
				}
			}))
	}
	if !s.HasEvaluator(KeyHydraulicConductivity) {
		s.SetEvaluator(KeyHydraulicConductivity, state.NewSecondaryEvaluator(
			KeyHydraulicConductivity,
			[]state.Key{KeyPressure, KeyTemperature},
			func(deps state.Deps, result *state.FieldData) {
				var (
					p  = deps[KeyPressure].Component(mesh.Cell).DataP()
					T  = deps[KeyTemperature].Component(mesh.Cell).DataP()
					kc = result.Component(mesh.Cell).DataP()
				)
				for c := range kc {
					kc[c] = model.HydraulicConductivity(p[c], T[c])
				}
			},
			func(wrt state.Key, deps state.Deps, result *state.FieldData) {
				const eps = 1e-4
				var (
					p  = deps[KeyPressure].Component(mesh.Cell).DataP()
					T  = deps[KeyTemperature].Component(mesh.Cell).DataP()
					dk = result.Component(mesh.Cell).DataP()
				)
				for c := range dk {
					switch wrt {
					case KeyPressure:
						dp := eps * (math.Abs(p[c]) + 1)
						dk[c] = (model.HydraulicConductivity(p[c]+dp, T[c]) -
							model.HydraulicConductivity(p[c]-dp, T[c])) / (2 * dp)
					case KeyTemperature:
						dk[c] = (model.HydraulicConductivity(p[c], T[c]+eps) -
							model.HydraulicConductivity(p[c], T[c]-eps)) / (2 * eps)
					}
				}
			}))
	}
}

// RegisterConstantTemperature installs an isothermal evaluator for runs
// without an energy kernel.
func RegisterConstantTemperature(s *state.State, value float64) {
	if !s.HasEvaluator(KeyTemperature) {
		s.SetEvaluator(KeyTemperature, state.NewConstantEvaluator(KeyTemperature,
			func(t float64, result *state.FieldData) {
				result.PutScalar(value)
			}))
	}
}

// Setup adds the atmospheric-pressure scalar to the generic declarations.
func (p *PK) Setup() error {
	p.s.RequireScalar(KeyAtmosphericPressure)
	return p.ConservationPK.Setup()
}

// InitializePrimary records the atmospheric-pressure scalar before the
// pressure profile is filled.
func (p *PK) InitializePrimary() error {
	p.s.SetScalar(KeyAtmosphericPressure, p.params.AtmPressure)
	return p.ConservationPK.InitializePrimary()
}

func (p *PK) Initialize() error {
	if err := p.InitializePrimary(); err != nil {
		return err
	}
	return p.InitializeConserved()
}
