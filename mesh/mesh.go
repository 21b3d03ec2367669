package mesh

// Entity kinds a field can live on. These are the only placements the field
// store understands; anything richer belongs to the mesh implementation.
type EntityKind string

const (
	Cell         EntityKind = "cell"
	Face         EntityKind = "face"
	BoundaryFace EntityKind = "boundary_face"
)

// Mesh is the narrow geometry contract the kernels consume. The evaluator
// graph never touches it; only physical kernels and operators do.
type Mesh interface {
	NumEntities(kind EntityKind) int
	// FaceCells returns the cells adjacent to face f, one for boundary faces
	FaceCells(f int) []int
	// CellFaces returns the faces of cell c in local order
	CellFaces(c int) []int
	CellVolume(c int) float64
	FaceArea(f int) float64
	CellCentroid(c int) float64
	FaceCentroid(f int) float64
	// IsBoundaryFace reports whether f has exactly one adjacent cell
	IsBoundaryFace(f int) bool
}
