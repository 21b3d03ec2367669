// Package operators provides the discrete-operator service the kernels
// consume: a mixed cell+face diffusion operator with the face-elimination
// relations used for consistent-face predictors and EWC back-substitution.
// Discretization details beyond the two-point mixed form are out of scope
// here; richer operators plug in behind the same methods.
package operators

import (
	"fmt"

	"github.com/james-bowman/sparse"
	"github.com/tundrasim/tundrasim/mesh"
	"github.com/tundrasim/tundrasim/state"
	"github.com/tundrasim/tundrasim/utils"
	"gonum.org/v1/gonum/mat"
)

type BCType int

const (
	BCNone BCType = iota
	BCDirichlet
	BCNeumann
)

type BC struct {
	Type  BCType
	Value float64 // Dirichlet value, or Neumann flux density (per area)
}

// Diffusion assembles the mixed-form operator
//
//	[ Acc  Acf ] [u_c]   [b_c]
//	[ Afc  Aff ] [u_f] - [b_f]
//
// where cell-face coupling a_cf = kappa_c * A_f / d(c,f). Aff is diagonal
// in this form, which is what makes the face-elimination relations exact.
type Diffusion struct {
	msh     mesh.Mesh
	nc, nf  int
	kappa   []float64 // per-cell scalar coefficient
	bc      []BC      // per face
	acf     [][]float64
	affDiag []float64
	A       *sparse.CSR
	b       []float64
}

func NewDiffusion(msh mesh.Mesh) (op *Diffusion) {
	nc := msh.NumEntities(mesh.Cell)
	nf := msh.NumEntities(mesh.Face)
	op = &Diffusion{
		msh:   msh,
		nc:    nc,
		nf:    nf,
		kappa: make([]float64, nc),
		bc:    make([]BC, nf),
		acf:   make([][]float64, nc),
	}
	for c := 0; c < nc; c++ {
		op.acf[c] = make([]float64, len(msh.CellFaces(c)))
	}
	return
}

// SetScalarCoefficient loads the per-cell nonlinear coefficient (e.g.
// upwinded conductivity). Assemble must be called afterwards.
func (op *Diffusion) SetScalarCoefficient(kappaCell utils.Vector) {
	copy(op.kappa, kappaCell.DataP())
}

func (op *Diffusion) SetBC(f int, bc BC) {
	op.bc[f] = bc
}

func (op *Diffusion) dist(c, f int) float64 {
	d := op.msh.CellCentroid(c) - op.msh.FaceCentroid(f)
	if d < 0 {
		d = -d
	}
	return d
}

// Assemble builds the sparse system from the current coefficient and
// boundary conditions.
func (op *Diffusion) Assemble() error {
	var (
		n   = op.nc + op.nf
		dok = sparse.NewDOK(n, n)
	)
	op.b = make([]float64, n)
	op.affDiag = make([]float64, op.nf)

	for c := 0; c < op.nc; c++ {
		for i, f := range op.msh.CellFaces(c) {
			a := op.kappa[c] * op.msh.FaceArea(f) / op.dist(c, f)
			op.acf[c][i] = a
			dok.Set(c, c, dok.At(c, c)+a)
			dok.Set(c, op.nc+f, -a)
		}
	}
	for f := 0; f < op.nf; f++ {
		frow := op.nc + f
		switch op.bc[f].Type {
		case BCDirichlet:
			dok.Set(frow, frow, 1)
			op.affDiag[f] = 1
			op.b[frow] = op.bc[f].Value
		case BCNeumann:
			// flux continuity against the prescribed boundary flux
			for _, c := range op.msh.FaceCells(f) {
				a := op.coef(c, f)
				dok.Set(frow, frow, dok.At(frow, frow)+a)
				dok.Set(frow, c, -a)
				op.affDiag[f] += a
			}
			op.b[frow] = -op.bc[f].Value * op.msh.FaceArea(f)
		default:
			if op.msh.IsBoundaryFace(f) {
				return &state.ConfigurationError{Key: fmt.Sprintf("face %d", f),
					Reason: "boundary face without a boundary condition"}
			}
			for _, c := range op.msh.FaceCells(f) {
				a := op.coef(c, f)
				dok.Set(frow, frow, dok.At(frow, frow)+a)
				dok.Set(frow, c, -a)
				op.affDiag[f] += a
			}
		}
	}
	op.A = dok.ToCSR()
	return nil
}

func (op *Diffusion) coef(c, f int) float64 {
	for i, cf := range op.msh.CellFaces(c) {
		if cf == f {
			return op.acf[c][i]
		}
	}
	panic(fmt.Sprintf("face %d is not a face of cell %d", f, c))
}

// ApplyResidual computes r = A*u - b into the cell and face components of r.
func (op *Diffusion) ApplyResidual(u, r *state.FieldData) {
	var (
		n  = op.nc + op.nf
		uv = mat.NewVecDense(n, nil)
		rv = mat.NewVecDense(n, nil)
	)
	uc := u.Component(mesh.Cell).DataP()
	uf := u.Component(mesh.Face).DataP()
	for c := 0; c < op.nc; c++ {
		uv.SetVec(c, uc[c])
	}
	for f := 0; f < op.nf; f++ {
		uv.SetVec(op.nc+f, uf[f])
	}
	rv.MulVec(op.A, uv)
	rc := r.Component(mesh.Cell).DataP()
	rf := r.Component(mesh.Face).DataP()
	for c := 0; c < op.nc; c++ {
		rc[c] = rv.AtVec(c) - op.b[c]
	}
	for f := 0; f < op.nf; f++ {
		rf[f] = rv.AtVec(op.nc+f) - op.b[op.nc+f]
	}
}

// ConsistentFaces overwrites u's face values with the faces implied by its
// cell values through the face rows: u_f = Aff^-1 (b_f - Afc u_c). Useful
// for predictors from arbitrary cell values.
func (op *Diffusion) ConsistentFaces(u *state.FieldData) {
	uc := u.Component(mesh.Cell).DataP()
	uf := u.Component(mesh.Face).DataP()
	for f := 0; f < op.nf; f++ {
		if op.bc[f].Type == BCDirichlet {
			uf[f] = op.bc[f].Value
			continue
		}
		sum := op.b[op.nc+f]
		for _, c := range op.msh.FaceCells(f) {
			sum += op.coef(c, f) * uc[c]
		}
		uf[f] = sum / op.affDiag[f]
	}
}

// ConsistentFaceCorrection back-substitutes a cell correction into the face
// unknowns: duFace = Aff^-1 (resFace - Afc duCell). With resFace zero the
// corrected faces leave the face equations exactly satisfied — the relation
// EWC preconditioning relies on.
func (op *Diffusion) ConsistentFaceCorrection(resFace, duCell, duFace utils.Vector) {
	var (
		dc = duCell.DataP()
		df = duFace.DataP()
	)
	for f := 0; f < op.nf; f++ {
		res := 0.0
		if resFace.V != nil {
			res = resFace.AtVec(f)
		}
		if op.bc[f].Type == BCDirichlet {
			df[f] = res
			continue
		}
		sum := res
		for _, c := range op.msh.FaceCells(f) {
			sum += op.coef(c, f) * dc[c]
		}
		df[f] = sum / op.affDiag[f]
	}
}

// EliminateFaces folds the face residuals into the cell residuals,
// the forward half of the Schur elimination:
// rcRed = resCell - Acf Aff^-1 resFace.
func (op *Diffusion) EliminateFaces(resCell, resFace utils.Vector) (rcRed utils.Vector) {
	rcRed = resCell.Copy()
	rp := rcRed.DataP()
	for f := 0; f < op.nf; f++ {
		rf := resFace.AtVec(f) / op.affDiag[f]
		for _, c := range op.msh.FaceCells(f) {
			// Acf entry is -a_cf
			rp[c] += op.coef(c, f) * rf
		}
	}
	return
}

// FaceResidualOf evaluates the face rows on a correction pair, for
// verifying the elimination relation: Aff*duFace + Afc*duCell.
func (op *Diffusion) FaceResidualOf(duCell, duFace utils.Vector) (r utils.Vector) {
	r = utils.NewVector(op.nf)
	rp := r.DataP()
	for f := 0; f < op.nf; f++ {
		if op.bc[f].Type == BCDirichlet {
			rp[f] = duFace.AtVec(f)
			continue
		}
		rp[f] = op.affDiag[f] * duFace.AtVec(f)
		for _, c := range op.msh.FaceCells(f) {
			rp[f] -= op.coef(c, f) * duCell.AtVec(c)
		}
	}
	return
}

// CellSchur eliminates faces to give the dense cell system
// S = Acc + diag(acc) - Acf Aff^-1 Afc, the preconditioner block used by
// the coupling strategies. acc holds the accumulation diagonal.
func (op *Diffusion) CellSchur(acc []float64) (S utils.Matrix) {
	S = utils.NewMatrix(op.nc, op.nc)
	for c := 0; c < op.nc; c++ {
		diag := 0.0
		for i := range op.msh.CellFaces(c) {
			diag += op.acf[c][i]
		}
		if acc != nil {
			diag += acc[c]
		}
		S.Set(c, c, diag)
	}
	for f := 0; f < op.nf; f++ {
		if op.bc[f].Type == BCDirichlet {
			continue
		}
		cells := op.msh.FaceCells(f)
		for _, ci := range cells {
			for _, cj := range cells {
				S.AddAt(ci, cj, -op.coef(ci, f)*op.coef(cj, f)/op.affDiag[f])
			}
		}
	}
	return
}

// FaceFlux evaluates the discrete flux through face f toward the face,
// summed over adjacent cells: sum_c a_cf (u_c - u_f). On a boundary face
// this is the outflow diagnostic.
func (op *Diffusion) FaceFlux(u *state.FieldData, f int) (flux float64) {
	uc := u.Component(mesh.Cell).DataP()
	uf := u.Component(mesh.Face).DataP()
	for _, c := range op.msh.FaceCells(f) {
		flux += op.coef(c, f) * (uc[c] - uf[f])
	}
	return
}

func (op *Diffusion) NumCells() int { return op.nc }
func (op *Diffusion) NumFaces() int { return op.nf }
