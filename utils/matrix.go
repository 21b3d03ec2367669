package utils

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Matrix wraps a gonum Dense for the small dense blocks used by the coupling
// strategies (coupled cell systems, 2x2 closure solves).
type Matrix struct {
	M *mat.Dense
}

func NewMatrix(nr, nc int, dataO ...[]float64) (r Matrix) {
	var (
		data []float64
	)
	if len(dataO) != 0 {
		data = dataO[0]
		if len(data) != nr*nc {
			panic(fmt.Errorf("mismatch in allocation: NewMatrix nr,nc = %v,%v, len(data[0]) = %v", nr, nc, len(data)))
		}
	}
	r = Matrix{mat.NewDense(nr, nc, data)}
	return
}

func (m Matrix) Dims() (r, c int)    { return m.M.Dims() }
func (m Matrix) At(i, j int) float64 { return m.M.At(i, j) }

func (m Matrix) Set(i, j int, val float64) Matrix { // Changes receiver
	m.M.Set(i, j, val)
	return m
}

func (m Matrix) AddAt(i, j int, val float64) Matrix { // Changes receiver
	m.M.Set(i, j, m.M.At(i, j)+val)
	return m
}

func (m Matrix) Copy() (r Matrix) { // Does not change receiver
	nr, nc := m.Dims()
	r = NewMatrix(nr, nc)
	r.M.Copy(m.M)
	return
}

func (m Matrix) Scale(a float64) Matrix { // Changes receiver
	m.M.Scale(a, m.M)
	return m
}

func (m Matrix) Mul(a Matrix) (r Matrix) { // Does not change receiver
	nr, _ := m.Dims()
	_, nc := a.Dims()
	r = NewMatrix(nr, nc)
	r.M.Mul(m.M, a.M)
	return
}

func (m Matrix) MulVec(v Vector) (r Vector) { // Does not change receiver
	nr, _ := m.Dims()
	r = NewVector(nr)
	r.V.MulVec(m.M, v.V)
	return
}

func (m Matrix) Inverse() (r Matrix, err error) {
	nr, nc := m.Dims()
	r = NewMatrix(nr, nc)
	err = r.M.Inverse(m.M)
	return
}

// LUSolve solves m * x = b via LU decomposition
func (m Matrix) LUSolve(b Vector) (x Vector, err error) {
	var (
		lu mat.LU
	)
	lu.Factorize(m.M)
	x = NewVector(b.Len())
	if err = lu.SolveVecTo(x.V, false, b.V); err != nil {
		err = fmt.Errorf("LU solve failed: %w", err)
	}
	return
}
