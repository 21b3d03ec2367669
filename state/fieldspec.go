package state

import (
	"fmt"

	"github.com/tundrasim/tundrasim/mesh"
)

// Key names a field in the store.
type Key = string

// Tag selects which copy of a field's values is addressed: the committed
// solution (TagOld) or the working next-step solution (TagNew).
type Tag int

const (
	TagOld Tag = iota
	TagNew
)

func (t Tag) String() string {
	if t == TagOld {
		return "old"
	}
	return "new"
}

// Component is one placement of a field: NDofs values per entity of the
// given kind.
type Component struct {
	Entity mesh.EntityKind
	Count  int
	NDofs  int
}

// FieldSpec is the shared, mergeable shape requirement for one field. The
// first requirement creates it; later requirements may only add compatible
// detail, never contradict what is already there.
type FieldSpec struct {
	Key        Key
	Components []Component // ordered as first required
	Ghosted    bool
	Owner      string // kernel or evaluator that writes this field, "" if unclaimed
}

// AddComponent merges a placement requirement into the spec. Requiring an
// existing component with a different count or dof width is a fatal shape
// conflict.
func (fs *FieldSpec) AddComponent(entity mesh.EntityKind, count, nDofs int) error {
	for _, c := range fs.Components {
		if c.Entity == entity {
			if c.Count != count || c.NDofs != nDofs {
				return &ConfigurationError{
					Key: fs.Key,
					Reason: fmt.Sprintf("incompatible shape for component %q: have %dx%d, required %dx%d",
						entity, c.Count, c.NDofs, count, nDofs),
				}
			}
			return nil
		}
	}
	fs.Components = append(fs.Components, Component{Entity: entity, Count: count, NDofs: nDofs})
	return nil
}

// SetGhosted is sticky: once any requester needs ghost entities, all do.
func (fs *FieldSpec) SetGhosted() *FieldSpec {
	fs.Ghosted = true
	return fs
}

func (fs *FieldSpec) HasComponent(entity mesh.EntityKind) bool {
	for _, c := range fs.Components {
		if c.Entity == entity {
			return true
		}
	}
	return false
}

func (fs *FieldSpec) Component(entity mesh.EntityKind) (Component, bool) {
	for _, c := range fs.Components {
		if c.Entity == entity {
			return c, true
		}
	}
	return Component{}, false
}

// PropagateTo pushes this spec's placement requirements onto a dependency's
// spec, as graph resolution demands: a ghosted cell requirement on a result
// implies the same on everything it is computed from.
func (fs *FieldSpec) PropagateTo(dep *FieldSpec) error {
	for _, c := range fs.Components {
		if err := dep.AddComponent(c.Entity, c.Count, c.NDofs); err != nil {
			return err
		}
	}
	if fs.Ghosted {
		dep.SetGhosted()
	}
	return nil
}
