package utils

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Vector wraps a gonum VecDense with the chainable operations used by the
// field store and the kernels.
type Vector struct {
	V *mat.VecDense
}

func NewVector(n int, dataO ...[]float64) (v Vector) {
	var (
		data []float64
	)
	if len(dataO) != 0 {
		data = dataO[0]
		if len(data) != n {
			panic("mismatch in length of data vector vs requested length")
		}
	}
	v = Vector{mat.NewVecDense(n, data)}
	return
}

func NewVectorConstant(n int, val float64) (v Vector) {
	v = NewVector(n)
	return v.Set(val)
}

func (v Vector) Len() int                  { return v.V.Len() }
func (v Vector) AtVec(i int) float64       { return v.V.AtVec(i) }
func (v Vector) SetVec(i int, val float64) { v.V.SetVec(i, val) }

// DataP exposes the backing slice for hot loops, mirroring RawVector
func (v Vector) DataP() []float64 { return v.V.RawVector().Data }

func (v Vector) Copy() (r Vector) { // Does not change receiver
	r = NewVector(v.Len())
	r.V.CopyVec(v.V)
	return
}

func (v Vector) Set(val float64) Vector { // Changes receiver
	var (
		data = v.DataP()
	)
	for i := range data {
		data[i] = val
	}
	return v
}

func (v Vector) Scale(a float64) Vector { // Changes receiver
	v.V.ScaleVec(a, v.V)
	return v
}

func (v Vector) AddScalar(a float64) Vector { // Changes receiver
	var (
		data = v.DataP()
	)
	for i := range data {
		data[i] += a
	}
	return v
}

func (v Vector) Add(a Vector) Vector { // Changes receiver
	v.V.AddVec(v.V, a.V)
	return v
}

func (v Vector) Subtract(a Vector) Vector { // Changes receiver
	v.V.SubVec(v.V, a.V)
	return v
}

// AXPY computes v += alpha * a in place
func (v Vector) AXPY(alpha float64, a Vector) Vector { // Changes receiver
	v.V.AddScaledVec(v.V, alpha, a.V)
	return v
}

func (v Vector) ElMul(a Vector) Vector { // Changes receiver
	v.V.MulElemVec(v.V, a.V)
	return v
}

func (v Vector) Apply(f func(float64) float64) Vector { // Changes receiver
	var (
		data = v.DataP()
	)
	for i, val := range data {
		data[i] = f(val)
	}
	return v
}

func (v Vector) Apply2(a Vector, f func(v1, v2 float64) float64) Vector { // Changes receiver
	var (
		d1 = v.DataP()
		d2 = a.DataP()
	)
	for i, val := range d1 {
		d1[i] = f(val, d2[i])
	}
	return v
}

func (v Vector) Min() (min float64) {
	min = v.AtVec(0)
	for _, val := range v.DataP() {
		if val < min {
			min = val
		}
	}
	return
}

func (v Vector) Max() (max float64) {
	max = v.AtVec(0)
	for _, val := range v.DataP() {
		if val > max {
			max = val
		}
	}
	return
}

func (v Vector) NormInf() (max float64) {
	for _, val := range v.DataP() {
		if math.Abs(val) > max {
			max = math.Abs(val)
		}
	}
	return
}

func (v Vector) Dot(a Vector) float64 {
	return mat.Dot(v.V, a.V)
}
