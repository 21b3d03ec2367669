package pks

import (
	"math"
	"strconv"

	"github.com/tundrasim/tundrasim/mesh"
	"github.com/tundrasim/tundrasim/operators"
	"github.com/tundrasim/tundrasim/state"
	"github.com/tundrasim/tundrasim/utils"
)

// BCFunc supplies the boundary condition for a boundary face at time t.
type BCFunc func(f int, t float64) operators.BC

// ConservationParams configures one implicit conservation kernel: which
// fields it solves and consumes, its tolerances and admissible range, and
// the predictor/correction behavior near phase transitions.
type ConservationParams struct {
	Name            string
	PrimaryKey      state.Key
	ConservedKey    state.Key
	ConductivityKey state.Key
	CellVolumeKey   state.Key
	SourceKey       state.Key // optional volumetric source, "" for none

	ATol, RTol float64
	FluxTol    float64 // absolute tolerance on face flux-continuity residuals

	AdmissibleMin, AdmissibleMax float64

	// FreezePredictor snaps predictors that cross the freezing point back
	// to just across it, keeping the first iterate out of the latent-heat
	// cliff.
	FreezePredictor bool
	// ConsistentFacePredictor rederives predictor faces from predictor
	// cells through the operator's face rows.
	ConsistentFacePredictor bool
	// CorrectionLimit caps |du| per unknown per iteration; 0 disables.
	CorrectionLimit float64

	MaxDt float64

	InitialValue func(z float64) float64
	Boundary     BCFunc

	Verbosity int
}

// ConservationPK is an implicit finite-volume kernel for one conservation
// law on cell+face unknowns,
//
//	(Phi(u)_new - Phi_old)/h + div q(u) - Q = 0
//
// with the conserved quantity Phi, the conductivity, and the source all
// pulled through the evaluation graph rather than computed inline. The
// energy and flow kernels are configurations of this type.
type ConservationPK struct {
	PhysicalBase
	params ConservationParams
	msh    mesh.Mesh
	op     *operators.Diffusion
	solver *ImplicitSolver

	nc, nf    int
	accum     []float64
	cellSchur utils.Matrix
	haveSchur bool
	assembled bool
	assembleT float64
}

func NewConservationPK(s *state.State, msh mesh.Mesh, pm *utils.PartitionMap,
	params ConservationParams, solverParams SolverParams) *ConservationPK {
	if params.MaxDt <= 0 {
		params.MaxDt = 86400
	}
	if params.FluxTol <= 0 {
		params.FluxTol = 1
	}
	solverParams.Verbosity = params.Verbosity
	return &ConservationPK{
		PhysicalBase: PhysicalBase{
			PKName:    params.Name,
			S:         s,
			KeyVar:    params.PrimaryKey,
			PM:        pm,
			Verbosity: params.Verbosity,
		},
		params: params,
		msh:    msh,
		op:     operators.NewDiffusion(msh),
		solver: NewImplicitSolver(solverParams),
		nc:     msh.NumEntities(mesh.Cell),
		nf:     msh.NumEntities(mesh.Face),
	}
}

// Setup declares the kernel's fields and evaluator requirements. It reads
// no values; allocation happens in the store's own setup pass.
func (k *ConservationPK) Setup() error {
	spec, err := k.S.RequireField(k.params.PrimaryKey, k.PKName)
	if err != nil {
		return err
	}
	if err = spec.AddComponent(mesh.Cell, k.nc, 1); err != nil {
		return err
	}
	if err = spec.AddComponent(mesh.Face, k.nf, 1); err != nil {
		return err
	}
	if !k.S.HasEvaluator(k.params.PrimaryKey) {
		k.S.SetEvaluator(k.params.PrimaryKey, state.NewPrimaryEvaluator(k.params.PrimaryKey))
	}

	for _, key := range []state.Key{k.params.ConservedKey, k.params.ConductivityKey} {
		spec, err = k.S.RequireField(key, "")
		if err != nil {
			return err
		}
		if err = spec.AddComponent(mesh.Cell, k.nc, 1); err != nil {
			return err
		}
		k.S.RequireFieldEvaluator(key)
	}

	spec, err = k.S.RequireField(k.params.CellVolumeKey, "")
	if err != nil {
		return err
	}
	if err = spec.AddComponent(mesh.Cell, k.nc, 1); err != nil {
		return err
	}
	if !k.S.HasEvaluator(k.params.CellVolumeKey) {
		msh := k.msh
		k.S.SetEvaluator(k.params.CellVolumeKey,
			state.NewConstantEvaluator(k.params.CellVolumeKey,
				func(t float64, result *state.FieldData) {
					vol := result.Component(mesh.Cell).DataP()
					for c := range vol {
						vol[c] = msh.CellVolume(c)
					}
				}))
	}

	if k.params.SourceKey != "" {
		spec, err = k.S.RequireField(k.params.SourceKey, "")
		if err != nil {
			return err
		}
		if err = spec.AddComponent(mesh.Cell, k.nc, 1); err != nil {
			return err
		}
		k.S.RequireFieldEvaluator(k.params.SourceKey)
	}
	return nil
}

// InitializePrimary fills the primary variable from the initial profile.
// The conserved quantity is left untouched: in coupled trees its closure
// reads sibling primaries, so every primary must exist before any closure
// is evaluated.
func (k *ConservationPK) InitializePrimary() error {
	fd, err := k.S.WritableData(k.params.PrimaryKey, k.PKName)
	if err != nil {
		return err
	}
	uc := fd.Component(mesh.Cell).DataP()
	for c := 0; c < k.nc; c++ {
		uc[c] = k.params.InitialValue(k.msh.CellCentroid(c))
	}
	uf := fd.Component(mesh.Face).DataP()
	for f := 0; f < k.nf; f++ {
		uf[f] = k.params.InitialValue(k.msh.FaceCentroid(f))
	}
	k.S.SetInitialized(k.params.PrimaryKey)
	return k.ChangedSolution()
}

// InitializeConserved evaluates the conserved quantity at the initial
// primaries and commits both, so the first step's old tag is well defined.
func (k *ConservationPK) InitializeConserved() error {
	ev, err := k.S.Evaluator(k.params.ConservedKey)
	if err != nil {
		return err
	}
	if _, err = ev.HasFieldChanged(k.S, k.PKName); err != nil {
		return err
	}
	k.CommitOwned(k.params.PrimaryKey, k.params.ConservedKey)
	return nil
}

// Initialize runs both phases; a standalone kernel has no siblings to
// wait for.
func (k *ConservationPK) Initialize() error {
	if err := k.InitializePrimary(); err != nil {
		return err
	}
	return k.InitializeConserved()
}

func (k *ConservationPK) Dt() float64 { return k.params.MaxDt }

// updateOperator refreshes the conductivity coefficient and boundary
// conditions and reassembles when either moved.
func (k *ConservationPK) updateOperator(t float64) error {
	ev, err := k.S.Evaluator(k.params.ConductivityKey)
	if err != nil {
		return err
	}
	changed, err := ev.HasFieldChanged(k.S, k.PKName+" operator")
	if err != nil {
		return err
	}
	if !changed && k.assembled && t == k.assembleT {
		return nil
	}
	kfd, err := k.S.Data(k.params.ConductivityKey, state.TagNew)
	if err != nil {
		return err
	}
	k.op.SetScalarCoefficient(kfd.Component(mesh.Cell))
	for f := 0; f < k.nf; f++ {
		if k.msh.IsBoundaryFace(f) {
			k.op.SetBC(f, k.params.Boundary(f, t))
		}
	}
	if err = k.op.Assemble(); err != nil {
		return err
	}
	k.assembled = true
	k.assembleT = t
	return nil
}

func (k *ConservationPK) Residual(tOld, tNew float64, uNew, r *TreeVector) error {
	h := tNew - tOld
	if err := k.updateOperator(tNew); err != nil {
		return err
	}
	k.op.ApplyResidual(uNew.Data, r.Data)

	ev, err := k.S.Evaluator(k.params.ConservedKey)
	if err != nil {
		return err
	}
	if _, err = ev.HasFieldChanged(k.S, k.PKName); err != nil {
		return err
	}
	phiNew, err := k.S.Data(k.params.ConservedKey, state.TagNew)
	if err != nil {
		return err
	}
	phiOld, err := k.S.Data(k.params.ConservedKey, state.TagOld)
	if err != nil {
		return err
	}
	var (
		rc = r.Data.Component(mesh.Cell).DataP()
		pn = phiNew.Component(mesh.Cell).DataP()
		po = phiOld.Component(mesh.Cell).DataP()
	)
	for c := 0; c < k.nc; c++ {
		rc[c] += (pn[c] - po[c]) / h
	}

	if k.params.SourceKey != "" {
		sev, err := k.S.Evaluator(k.params.SourceKey)
		if err != nil {
			return err
		}
		if _, err = sev.HasFieldChanged(k.S, k.PKName); err != nil {
			return err
		}
		src, err := k.S.Data(k.params.SourceKey, state.TagNew)
		if err != nil {
			return err
		}
		vol, err := k.S.Data(k.params.CellVolumeKey, state.TagNew)
		if err != nil {
			return err
		}
		sc := src.Component(mesh.Cell).DataP()
		vc := vol.Component(mesh.Cell).DataP()
		for c := 0; c < k.nc; c++ {
			rc[c] -= sc[c] * vc[c]
		}
	}
	return nil
}

// UpdatePreconditioner rebuilds the Schur-eliminated cell block, with the
// accumulation diagonal d(Phi)/d(u)/h pulled through the derivative side of
// the evaluation graph.
func (k *ConservationPK) UpdatePreconditioner(t float64, u *TreeVector, h float64) error {
	if err := k.updateOperator(t); err != nil {
		return err
	}
	ev, err := k.S.Evaluator(k.params.ConservedKey)
	if err != nil {
		return err
	}
	if _, err = ev.HasFieldDerivativeChanged(k.S, k.PKName, k.params.PrimaryKey); err != nil {
		return err
	}
	dphi := k.S.DerivativeData(k.params.ConservedKey, k.params.PrimaryKey).
		Component(mesh.Cell).DataP()
	if k.accum == nil {
		k.accum = make([]float64, k.nc)
	}
	for c := 0; c < k.nc; c++ {
		k.accum[c] = dphi[c] / h
	}
	k.cellSchur = k.op.CellSchur(k.accum)
	k.haveSchur = true
	return nil
}

// AccumulationDiag exposes the current accumulation diagonal for coupled
// preconditioners that assemble the kernel's cell block themselves.
func (k *ConservationPK) AccumulationDiag() []float64 { return k.accum }

// Operator exposes the assembled diffusion operator for face elimination
// by coupled preconditioners.
func (k *ConservationPK) Operator() *operators.Diffusion { return k.op }

func (k *ConservationPK) PrimaryKey() state.Key   { return k.params.PrimaryKey }
func (k *ConservationPK) ConservedKey() state.Key { return k.params.ConservedKey }

func (k *ConservationPK) Precondition(r, Pu *TreeVector) error {
	if !k.haveSchur {
		return &state.ConfigurationError{Kernel: k.PKName,
			Reason: "preconditioner applied before update"}
	}
	rcRed := k.op.EliminateFaces(
		r.Data.Component(mesh.Cell), r.Data.Component(mesh.Face))
	duc, err := k.cellSchur.LUSolve(rcRed)
	if err != nil {
		return err
	}
	copy(Pu.Data.Component(mesh.Cell).DataP(), duc.DataP())
	k.op.ConsistentFaceCorrection(
		r.Data.Component(mesh.Face), duc, Pu.Data.Component(mesh.Face))
	return nil
}

// ModifyPredictor optionally snaps freezing-point crossings and rederives
// consistent faces from the predictor's cells.
func (k *ConservationPK) ModifyPredictor(h float64, u0, u *TreeVector) (bool, error) {
	modified := false
	if k.params.FreezePredictor {
		for _, kind := range []mesh.EntityKind{mesh.Cell, mesh.Face} {
			prev := u0.Data.Component(kind).DataP()
			cur := u.Data.Component(kind).DataP()
			for i := range cur {
				if snapped, v := snapFreezing(prev[i], cur[i]); snapped {
					cur[i] = v
					modified = true
				}
			}
		}
	}
	if k.params.ConsistentFacePredictor {
		if err := k.updateOperator(k.S.Time(state.TagNew)); err != nil {
			return modified, err
		}
		k.op.ConsistentFaces(u.Data)
		modified = true
	}
	return modified, nil
}

const freezeSnap = 1e-5

// snapFreezing keeps a predictor that jumps across the freezing point on
// the near side of the transition, where the latent-heat slope is finite.
func snapFreezing(prev, cur float64) (bool, float64) {
	const Tf = 273.15
	if prev >= Tf && cur < Tf {
		return true, Tf - freezeSnap
	}
	if prev <= Tf-freezeSnap && cur > Tf {
		return true, Tf + freezeSnap
	}
	return false, cur
}

// ModifyCorrection clips oversized updates. The clip count is a collective
// so every partition agrees on whether the correction was modified.
func (k *ConservationPK) ModifyCorrection(h float64, res, u, du *TreeVector) (CorrectionResult, error) {
	if k.params.CorrectionLimit <= 0 {
		return CorrectionNotModified, nil
	}
	var (
		lim = k.params.CorrectionLimit
		dc  = du.Data.Component(mesh.Cell).DataP()
		df  = du.Data.Component(mesh.Face).DataP()
	)
	nClipped := k.PM.ReduceSum(func(kMin, kMax int) (n float64) {
		for c := kMin; c < kMax; c++ {
			if math.Abs(dc[c]) > lim {
				dc[c] = math.Copysign(lim, dc[c])
				n++
			}
		}
		return
	})
	for f := range df {
		if math.Abs(df[f]) > lim {
			df[f] = math.Copysign(lim, df[f])
			nClipped++
		}
	}
	if nClipped > 0 {
		k.Logf(2, "clipped %d correction entries to %g\n", int(nClipped), lim)
		return CorrectionModified, nil
	}
	return CorrectionNotModified, nil
}

// IsAdmissible checks the global solution range via collective reductions.
func (k *ConservationPK) IsAdmissible(u *TreeVector) bool {
	if k.params.AdmissibleMin >= k.params.AdmissibleMax {
		return true
	}
	uc := u.Data.Component(mesh.Cell).DataP()
	min := k.PM.ReduceMin(func(kMin, kMax int) float64 {
		m := math.Inf(1)
		for c := kMin; c < kMax; c++ {
			if uc[c] < m {
				m = uc[c]
			}
		}
		return m
	})
	max := k.PM.ReduceMax(func(kMin, kMax int) float64 {
		m := math.Inf(-1)
		for c := kMin; c < kMax; c++ {
			if uc[c] > m {
				m = uc[c]
			}
		}
		return m
	})
	uf := u.Data.Component(mesh.Face).DataP()
	for _, v := range uf {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	if min < k.params.AdmissibleMin || max > k.params.AdmissibleMax {
		k.Logf(1, "inadmissible solution: range [%g, %g] outside [%g, %g]\n",
			min, max, k.params.AdmissibleMin, k.params.AdmissibleMax)
		return false
	}
	return true
}

// ErrorNorm scales cell residuals against the conserved quantity they move
// per step and face residuals against the flux tolerance; the result is
// below one at convergence.
func (k *ConservationPK) ErrorNorm(u, r *TreeVector) (float64, error) {
	var (
		h    = k.S.Time(state.TagNew) - k.S.Time(state.TagOld)
		atol = k.params.ATol
		rtol = k.params.RTol
	)
	phiOld, err := k.S.Data(k.params.ConservedKey, state.TagOld)
	if err != nil {
		return 0, err
	}
	var (
		rc = r.Data.Component(mesh.Cell).DataP()
		po = phiOld.Component(mesh.Cell).DataP()
	)
	norm := k.PM.ReduceMax(func(kMin, kMax int) float64 {
		m := 0.0
		for c := kMin; c < kMax; c++ {
			e := math.Abs(rc[c]) * h / (atol + rtol*math.Abs(po[c]))
			if e > m {
				m = e
			}
		}
		return m
	})
	rf := r.Data.Component(mesh.Face).DataP()
	for _, v := range rf {
		if e := math.Abs(v) / k.params.FluxTol; e > norm {
			norm = e
		}
	}
	return norm, nil
}

// AdvanceStep runs the implicit solve for one step. A rejected step reverts
// the primary variable to the committed solution, so no partial iterate
// survives into the retry.
func (k *ConservationPK) AdvanceStep(tOld, tNew float64, reinit bool) (bool, error) {
	k.S.SetTime(state.TagOld, tOld)
	k.S.SetTime(state.TagNew, tNew)
	k.Logf(1, "advancing %g -> %g\n", tOld, tNew)
	accepted, err := k.solver.Solve(k, tOld, tNew)
	if err != nil {
		return false, err
	}
	if !accepted {
		k.RevertOwned(k.params.PrimaryKey)
		if err = k.ChangedSolution(); err != nil {
			return false, err
		}
	}
	return accepted, nil
}

// CommitStep promotes the accepted solution and its conserved quantity and
// records the surface-flux diagnostic.
func (k *ConservationPK) CommitStep(tOld, tNew float64) error {
	ev, err := k.S.Evaluator(k.params.ConservedKey)
	if err != nil {
		return err
	}
	if _, err = ev.HasFieldChanged(k.S, k.PKName+" commit"); err != nil {
		return err
	}
	k.CommitOwned(k.params.PrimaryKey, k.params.ConservedKey)

	if k.assembled {
		u, err := k.S.Data(k.params.PrimaryKey, state.TagNew)
		if err != nil {
			return err
		}
		for f := 0; f < k.nf; f++ {
			if k.msh.IsBoundaryFace(f) {
				k.S.SetScalar(state.Key(k.PKName+"_flux_face_"+strconv.Itoa(f)), k.op.FaceFlux(u, f))
			}
		}
	}
	return nil
}
