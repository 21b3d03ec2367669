package state

import (
	"fmt"

	"github.com/tundrasim/tundrasim/mesh"
	"github.com/tundrasim/tundrasim/utils"
)

// FieldData is the allocated storage for one field at one tag: a vector per
// component, shaped by the field's spec.
type FieldData struct {
	Key   Key
	comps map[mesh.EntityKind]utils.Vector
	order []mesh.EntityKind
}

func NewFieldData(spec *FieldSpec) (fd *FieldData) {
	fd = &FieldData{
		Key:   spec.Key,
		comps: make(map[mesh.EntityKind]utils.Vector),
	}
	for _, c := range spec.Components {
		fd.comps[c.Entity] = utils.NewVector(c.Count * c.NDofs)
		fd.order = append(fd.order, c.Entity)
	}
	return
}

func (fd *FieldData) HasComponent(entity mesh.EntityKind) bool {
	_, ok := fd.comps[entity]
	return ok
}

// Component returns the backing vector for an entity kind; panics on a
// placement the spec never declared, which is a programming error.
func (fd *FieldData) Component(entity mesh.EntityKind) utils.Vector {
	v, ok := fd.comps[entity]
	if !ok {
		panic(fmt.Sprintf("field %q has no %q component", fd.Key, entity))
	}
	return v
}

func (fd *FieldData) Components() []mesh.EntityKind { return fd.order }

func (fd *FieldData) PutScalar(val float64) *FieldData {
	for _, v := range fd.comps {
		v.Set(val)
	}
	return fd
}

func (fd *FieldData) CopyFrom(other *FieldData) *FieldData {
	for kind, v := range fd.comps {
		if other.HasComponent(kind) {
			copy(v.DataP(), other.Component(kind).DataP())
		}
	}
	return fd
}

// Clone allocates an independent copy with the same shape and values.
func (fd *FieldData) Clone() (r *FieldData) {
	r = &FieldData{
		Key:   fd.Key,
		comps: make(map[mesh.EntityKind]utils.Vector),
		order: append([]mesh.EntityKind{}, fd.order...),
	}
	for kind, v := range fd.comps {
		r.comps[kind] = v.Copy()
	}
	return
}

// AXPY computes fd += alpha*other componentwise over shared components.
func (fd *FieldData) AXPY(alpha float64, other *FieldData) *FieldData {
	for kind, v := range fd.comps {
		if other.HasComponent(kind) {
			v.AXPY(alpha, other.Component(kind))
		}
	}
	return fd
}

// AddElMul accumulates the elementwise product a*b into fd over the
// components all three share. This is the chain-rule combination step.
func (fd *FieldData) AddElMul(a, b *FieldData) *FieldData {
	for kind, v := range fd.comps {
		if a.HasComponent(kind) && b.HasComponent(kind) {
			av := a.Component(kind).DataP()
			bv := b.Component(kind).DataP()
			dv := v.DataP()
			for i := range dv {
				dv[i] += av[i] * bv[i]
			}
		}
	}
	return fd
}

func (fd *FieldData) Scale(alpha float64) *FieldData {
	for _, v := range fd.comps {
		v.Scale(alpha)
	}
	return fd
}

func (fd *FieldData) NormInf() (max float64) {
	for _, v := range fd.comps {
		if n := v.NormInf(); n > max {
			max = n
		}
	}
	return
}

func (fd *FieldData) Equals(other *FieldData) bool {
	for kind, v := range fd.comps {
		if !other.HasComponent(kind) {
			return false
		}
		o := other.Component(kind).DataP()
		for i, val := range v.DataP() {
			if val != o[i] {
				return false
			}
		}
	}
	return true
}
