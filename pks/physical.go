package pks

import (
	"fmt"

	"github.com/tundrasim/tundrasim/state"
	"github.com/tundrasim/tundrasim/utils"
)

// PhysicalBase carries what every physical kernel shares: a name, the
// shared store, the primary-variable key and the partition map used at
// collective reduction points. Kernels embed it and override the hooks
// they care about.
type PhysicalBase struct {
	PKName    string
	S         *state.State
	KeyVar    state.Key
	PM        *utils.PartitionMap
	Verbosity int
}

func (b *PhysicalBase) Name() string { return b.PKName }

// Solution wraps the primary variable's new-tag data as a leaf vector.
// Writes through it are writes into the store; ChangedSolution must follow.
func (b *PhysicalBase) Solution() (*TreeVector, error) {
	fd, err := b.S.Data(b.KeyVar, state.TagNew)
	if err != nil {
		return nil, err
	}
	return NewLeafVector(b.PKName, fd), nil
}

func (b *PhysicalBase) ChangedSolution() error {
	return b.S.MarkChangedSolution(b.KeyVar)
}

// Default hooks: no predictor or correction modification, everything
// admissible. Kernels with real physics override these.
func (b *PhysicalBase) ModifyPredictor(h float64, u0, u *TreeVector) (bool, error) {
	return false, nil
}

func (b *PhysicalBase) ModifyCorrection(h float64, res, u, du *TreeVector) (CorrectionResult, error) {
	return CorrectionNotModified, nil
}

func (b *PhysicalBase) IsAdmissible(u *TreeVector) bool { return true }

func (b *PhysicalBase) Logf(level int, format string, args ...interface{}) {
	if b.Verbosity >= level {
		fmt.Printf("[%s] "+format, append([]interface{}{b.PKName}, args...)...)
	}
}

// CommitOwned promotes the new-tag values of the listed fields.
func (b *PhysicalBase) CommitOwned(keys ...state.Key) {
	for _, key := range keys {
		b.S.CommitField(key)
	}
}

// RevertOwned discards a rejected attempt, restoring new from old.
func (b *PhysicalBase) RevertOwned(keys ...state.Key) {
	for _, key := range keys {
		b.S.RevertField(key)
	}
}
