package mpc

import (
	"math"

	"github.com/tundrasim/tundrasim/pks"
)

// WeakMPC advances its children sequentially within a step: each child
// sees the committed old state plus whatever earlier siblings already
// wrote at the new tag. Any child's rejection rejects the whole step.
type WeakMPC struct {
	PKName   string
	Children []pks.PK
}

func NewWeakMPC(name string, children ...pks.PK) *WeakMPC {
	return &WeakMPC{PKName: name, Children: children}
}

func (m *WeakMPC) Name() string { return m.PKName }

func (m *WeakMPC) Setup() error {
	for _, child := range m.Children {
		if err := child.Setup(); err != nil {
			return err
		}
	}
	return nil
}

func (m *WeakMPC) Initialize() error {
	for _, child := range m.Children {
		if err := child.Initialize(); err != nil {
			return err
		}
	}
	return nil
}

func (m *WeakMPC) Dt() (dt float64) {
	dt = math.Inf(1)
	for _, child := range m.Children {
		if cdt := child.Dt(); cdt < dt {
			dt = cdt
		}
	}
	return
}

func (m *WeakMPC) AdvanceStep(tOld, tNew float64, reinit bool) (bool, error) {
	for _, child := range m.Children {
		accepted, err := child.AdvanceStep(tOld, tNew, reinit)
		if err != nil {
			return false, err
		}
		if !accepted {
			return false, nil
		}
	}
	return true, nil
}

// CommitStep commits children in declaration order, which is also their
// advance order.
func (m *WeakMPC) CommitStep(tOld, tNew float64) error {
	for _, child := range m.Children {
		if err := child.CommitStep(tOld, tNew); err != nil {
			return err
		}
	}
	return nil
}
