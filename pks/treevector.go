package pks

import (
	"fmt"

	"github.com/tundrasim/tundrasim/state"
)

// TreeVector is the composite solution vector: either a leaf holding one
// field's data, or an ordered list of subvectors following the PK tree.
// Couplers concatenate children's unknowns by pushing their solutions as
// subvectors.
type TreeVector struct {
	Name string
	Data *state.FieldData
	Subs []*TreeVector
}

func NewTreeVector(name string) *TreeVector {
	return &TreeVector{Name: name}
}

func NewLeafVector(name string, data *state.FieldData) *TreeVector {
	return &TreeVector{Name: name, Data: data}
}

func (tv *TreeVector) PushBack(sub *TreeVector) {
	tv.Subs = append(tv.Subs, sub)
}

func (tv *TreeVector) SubVector(i int) *TreeVector {
	if i < 0 || i >= len(tv.Subs) {
		panic(fmt.Sprintf("TreeVector %q has no subvector %d", tv.Name, i))
	}
	return tv.Subs[i]
}

// CloneShape allocates an independent vector with identical structure and
// zeroed values; used for residuals and corrections.
func (tv *TreeVector) CloneShape(name string) (r *TreeVector) {
	r = &TreeVector{Name: name}
	if tv.Data != nil {
		r.Data = tv.Data.Clone()
		r.Data.PutScalar(0)
	}
	for _, sub := range tv.Subs {
		r.PushBack(sub.CloneShape(sub.Name))
	}
	return
}

// Copy assigns values from a structure-identical vector.
func (tv *TreeVector) Copy(from *TreeVector) *TreeVector {
	if tv.Data != nil {
		tv.Data.CopyFrom(from.Data)
	}
	for i, sub := range tv.Subs {
		sub.Copy(from.Subs[i])
	}
	return tv
}

func (tv *TreeVector) PutScalar(val float64) *TreeVector {
	if tv.Data != nil {
		tv.Data.PutScalar(val)
	}
	for _, sub := range tv.Subs {
		sub.PutScalar(val)
	}
	return tv
}

// AXPY computes tv += alpha*other recursively.
func (tv *TreeVector) AXPY(alpha float64, other *TreeVector) *TreeVector {
	if tv.Data != nil {
		tv.Data.AXPY(alpha, other.Data)
	}
	for i, sub := range tv.Subs {
		sub.AXPY(alpha, other.Subs[i])
	}
	return tv
}

func (tv *TreeVector) Scale(alpha float64) *TreeVector {
	if tv.Data != nil {
		tv.Data.Scale(alpha)
	}
	for _, sub := range tv.Subs {
		sub.Scale(alpha)
	}
	return tv
}

func (tv *TreeVector) NormInf() (max float64) {
	if tv.Data != nil {
		max = tv.Data.NormInf()
	}
	for _, sub := range tv.Subs {
		if n := sub.NormInf(); n > max {
			max = n
		}
	}
	return
}
