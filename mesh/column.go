package mesh

// Column is a 1D vertical column of K cells with K+1 faces, face i below
// cell i, face K at the bottom... face 0 is the surface. It is the concrete
// mesh used by the column kernels and all tests; unstructured meshes come in
// through the Mesh interface from outside.
type Column struct {
	K     int // number of cells
	ZTop  float64
	Dz    float64
	xFace []float64
	xCell []float64
	area  float64
}

// NewColumn builds a uniform column of K cells of thickness dz with unit
// horizontal cross-section, top face at zTop, positive z downward.
func NewColumn(K int, zTop, dz float64) (col *Column) {
	col = &Column{
		K:     K,
		ZTop:  zTop,
		Dz:    dz,
		xFace: make([]float64, K+1),
		xCell: make([]float64, K),
		area:  1.0,
	}
	for f := 0; f <= K; f++ {
		col.xFace[f] = zTop + float64(f)*dz
	}
	for c := 0; c < K; c++ {
		col.xCell[c] = zTop + (float64(c)+0.5)*dz
	}
	return
}

func (col *Column) NumEntities(kind EntityKind) int {
	switch kind {
	case Cell:
		return col.K
	case Face:
		return col.K + 1
	case BoundaryFace:
		return 2
	default:
		return 0
	}
}

func (col *Column) FaceCells(f int) []int {
	switch {
	case f == 0:
		return []int{0}
	case f == col.K:
		return []int{col.K - 1}
	default:
		return []int{f - 1, f}
	}
}

func (col *Column) CellFaces(c int) []int {
	return []int{c, c + 1}
}

func (col *Column) CellVolume(c int) float64 { return col.Dz * col.area }
func (col *Column) FaceArea(f int) float64   { return col.area }

func (col *Column) CellCentroid(c int) float64 { return col.xCell[c] }
func (col *Column) FaceCentroid(f int) float64 { return col.xFace[f] }

func (col *Column) IsBoundaryFace(f int) bool { return f == 0 || f == col.K }

// BoundaryFaces lists the global face ids of the two boundary faces, surface
// first. Index into this list is the boundary_face entity id.
func (col *Column) BoundaryFaces() []int { return []int{0, col.K} }
