// Package energy is the subsurface energy kernel: implicit conservation of
// volumetric energy with temperature as the primary variable, latent heat
// through the permafrost closure, and the freezing-aware predictor and
// correction hooks.
package energy

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
	KeyTemperature         state.Key = "temperature"
	KeyEnergy              state.Key = "energy"
	KeyThermalConductivity state.Key = "thermal_conductivity"
	KeyPressure            state.Key = "pressure"
	KeyCellVolume          state.Key = "cell_volume"
	KeyThawDepth           state.Key = "thaw_depth"
)

// Params configures the energy kernel for a column: surface temperature
// forcing, basal heat flux, and solver tolerances.
type Params struct {
	SurfaceTemp func(t float64) float64
	BasalFlux   float64 // [W/m^2], positive into the domain
	InitialTemp func(z float64) float64

	ATol, RTol      float64
	CorrectionLimit float64 // [K] per Newton iteration, 0 disables
	MaxDt           float64
	Verbosity       int
}

func DefaultParams() Params {
	return Params{
		SurfaceTemp: func(t float64) float64 { return 275.15 },
		BasalFlux:   0.06,
		InitialTemp: func(z float64) float64 { return 272.15 },
		ATol:        1,
		RTol:        1e-5,
		MaxDt:       86400,
	}
}

// PK wraps the generic conservation kernel with energy-specific
// diagnostics.
type PK struct {
	*pks.ConservationPK
	s     *state.State
	msh   mesh.Mesh
	model *relations.SimplePermafrostModel
}

// New builds the energy kernel and registers its evaluators. The pressure
// field is consumed, not owned: couple with a flow kernel, or register a
// constant pressure for thermal-only runs.
func New(s *state.State, msh mesh.Mesh, pm *utils.PartitionMap,
	model *relations.SimplePermafrostModel, params Params,
	solverParams pks.SolverParams) *PK {

	RegisterEvaluators(s, model)

	cons := pks.NewConservationPK(s, msh, pm, pks.ConservationParams{
		Name:            "energy",
		PrimaryKey:      KeyTemperature,
		ConservedKey:    KeyEnergy,
		ConductivityKey: KeyThermalConductivity,
		CellVolumeKey:   KeyCellVolume,
		ATol:            params.ATol,
		RTol:            params.RTol,
		// admissible range for temperature, outside it the closures are
		// unphysical
		AdmissibleMin:           200,
		AdmissibleMax:           330,
		FreezePredictor:         true,
		ConsistentFacePredictor: true,
		CorrectionLimit:         params.CorrectionLimit,
		MaxDt:                   params.MaxDt,
		InitialValue:            params.InitialTemp,
		Boundary: func(f int, t float64) operators.BC {
			if f == 0 {
				return operators.BC{Type: operators.BCDirichlet, Value: params.SurfaceTemp(t)}
			}
			return operators.BC{Type: operators.BCNeumann, Value: -params.BasalFlux}
		},
		Verbosity: params.Verbosity,
	}, solverParams)

	return &PK{ConservationPK: cons, s: s, msh: msh, model: model}
}

// RegisterEvaluators installs the energy-side secondary evaluators:
// volumetric energy and thermal conductivity, both closed over the
// permafrost model. Idempotent so coupled setups may call it freely.
func RegisterEvaluators(s *state.State, model *relations.SimplePermafrostModel) {
	if !s.HasEvaluator(KeyEnergy) {
		s.SetEvaluator(KeyEnergy, state.NewSecondaryEvaluator(
			KeyEnergy,
			[]state.Key{KeyTemperature, KeyPressure, KeyCellVolume},
			func(deps state.Deps, result *state.FieldData) {
				var (
					T   = deps[KeyTemperature].Component(mesh.Cell).DataP()
					p   = deps[KeyPressure].Component(mesh.Cell).DataP()
					vol = deps[KeyCellVolume].Component(mesh.Cell).DataP()
					e   = result.Component(mesh.Cell).DataP()
				)
				for c := range e {
					e[c] = model.Energy(p[c], T[c]) * vol[c]
				}
			},
			func(wrt state.Key, deps state.Deps, result *state.FieldData) {
				var (
					T   = deps[KeyTemperature].Component(mesh.Cell).DataP()
					p   = deps[KeyPressure].Component(mesh.Cell).DataP()
					vol = deps[KeyCellVolume].Component(mesh.Cell).DataP()
					de  = result.Component(mesh.Cell).DataP()
				)
				for c := range de {
					_, _, dedp, dedT := model.Jacobian(p[c], T[c])
					switch wrt {
					case KeyTemperature:
						de[c] = dedT * vol[c]
					case KeyPressure:
						de[c] = dedp * vol[c]
					case KeyCellVolume:
						de[c] = model.Energy(p[c], T[c])
					}
				}
			}))
	}
	if !s.HasEvaluator(KeyThermalConductivity) {
		s.SetEvaluator(KeyThermalConductivity, state.NewSecondaryEvaluator(
			KeyThermalConductivity,
			[]state.Key{KeyPressure, KeyTemperature},
			func(deps state.Deps, result *state.FieldData) {
				var (
					p  = deps[KeyPressure].Component(mesh.Cell).DataP()
					T  = deps[KeyTemperature].Component(mesh.Cell).DataP()
					kc = result.Component(mesh.Cell).DataP()
				)
				for c := range kc {
					kc[c] = model.ThermalConductivity(p[c], T[c])
				}
			},
			func(wrt state.Key, deps state.Deps, result *state.FieldData) {
				// conductivity derivatives are lagged in the preconditioner;
				// a centered difference keeps the graph honest if anything asks
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
						dk[c] = (model.ThermalConductivity(p[c]+dp, T[c]) -
							model.ThermalConductivity(p[c]-dp, T[c])) / (2 * dp)
					case KeyTemperature:
						dk[c] = (model.ThermalConductivity(p[c], T[c]+eps) -
							model.ThermalConductivity(p[c], T[c]-eps)) / (2 * eps)
					}
				}
			}))
	}
}

// RegisterConstantPressure installs an isobaric pressure evaluator for
// thermal-only runs without a flow kernel.
func RegisterConstantPressure(s *state.State, value float64) {
	if !s.HasEvaluator(KeyPressure) {
		s.SetEvaluator(KeyPressure, state.NewConstantEvaluator(KeyPressure,
			func(t float64, result *state.FieldData) {
				result.PutScalar(value)
			}))
	}
}

// CommitStep commits the conserved fields and refreshes the thaw-depth
// diagnostic scalar.
func (p *PK) CommitStep(tOld, tNew float64) error {
	if err := p.ConservationPK.CommitStep(tOld, tNew); err != nil {
		return err
	}
	depth, err := ThawDepth(p.s, p.msh)
	if err != nil {
		return err
	}
	p.s.SetScalar(KeyThawDepth, depth)
	return nil
}

// ThawDepth scans the column from the surface for the first frozen cell
// and interpolates the freezing isotherm between cell centroids. A fully
// thawed column reports the column depth, a frozen surface zero.
func ThawDepth(s *state.State, msh mesh.Mesh) (float64, error) {
	fd, err := s.Data(KeyTemperature, state.TagNew)
	if err != nil {
		return 0, err
	}
	var (
		T   = fd.Component(mesh.Cell).DataP()
		nc  = msh.NumEntities(mesh.Cell)
		top = msh.FaceCentroid(0)
		bot = msh.FaceCentroid(msh.NumEntities(mesh.Face) - 1)
	)
	if T[0] <= relations.FreezePoint {
		return 0, nil
	}
	for c := 1; c < nc; c++ {
		if T[c] <= relations.FreezePoint {
			z0, z1 := msh.CellCentroid(c-1), msh.CellCentroid(c)
			frac := (T[c-1] - relations.FreezePoint) / (T[c-1] - T[c])
			return z0 + frac*(z1-z0) - top, nil
		}
	}
	return bot - top, nil
}
