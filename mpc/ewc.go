package mpc

import (
	"math"

	"github.com/tundrasim/tundrasim/mesh"
	"github.com/tundrasim/tundrasim/relations"
	"github.com/tundrasim/tundrasim/state"
	"github.com/tundrasim/tundrasim/utils"
)

// EWCDelegate rewrites the coupled cell correction through conserved
// space. The linearized update predicts a conserved-quantity step; the
// delegate inverts the closure model at that target instead of trusting
// the linearization, which stays robust where latent heat makes the
// energy-temperature slope pathological.
type EWCDelegate struct {
	Model       relations.PermafrostModel
	PressureKey state.Key
	TempKey     state.Key
	// Positions of the pressure and temperature blocks in the coupled
	// solution, in child declaration order.
	PressureIdx int
	TempIdx     int
	// TempWindow gates the correction to cells within this distance of the
	// freezing point, where the linearization actually misbehaves; 0 means
	// everywhere.
	TempWindow float64
	Verbosity  int
}

func NewEWCDelegate(model relations.PermafrostModel, pressureKey, tempKey state.Key) *EWCDelegate {
	return &EWCDelegate{
		Model:       model,
		PressureKey: pressureKey,
		TempKey:     tempKey,
		PressureIdx: 0,
		TempIdx:     1,
		TempWindow:  5,
	}
}

// PreconCorrection replaces the cell corrections in place. cells holds the
// per-child cell correction vectors from the coupled solve; current values
// come from the store. Cells where the model inversion fails keep their
// uncorrected update.
func (d *EWCDelegate) PreconCorrection(s *state.State, cells []utils.Vector) (nApplied int, err error) {
	pFd, err := s.Data(d.PressureKey, state.TagNew)
	if err != nil {
		return 0, err
	}
	tFd, err := s.Data(d.TempKey, state.TagNew)
	if err != nil {
		return 0, err
	}
	var (
		p  = pFd.Component(mesh.Cell).DataP()
		T  = tFd.Component(mesh.Cell).DataP()
		dp = cells[d.PressureIdx].DataP()
		dT = cells[d.TempIdx].DataP()
	)
	for c := range p {
		if !d.active(T[c], T[c]-dT[c]) {
			continue
		}
		// conserved-quantity step the linearized correction believes in
		dwcdp, dwcdT, dedp, dedT := d.Model.Jacobian(p[c], T[c])
		wcStar := d.Model.WaterContent(p[c], T[c]) - (dwcdp*dp[c] + dwcdT*dT[c])
		eStar := d.Model.Energy(p[c], T[c]) - (dedp*dp[c] + dedT*dT[c])

		// invert the model at that target, warm-started from the
		// linearized update
		p2, T2, invErr := d.Model.InverseSolve(wcStar, eStar, p[c]-dp[c], T[c]-dT[c])
		if invErr != nil {
			continue
		}
		dp[c] = p[c] - p2
		dT[c] = T[c] - T2
		nApplied++
	}
	return nApplied, nil
}

// active reports whether a cell is in the freezing transition region,
// judged from both the current and the corrected temperature.
func (d *EWCDelegate) active(tCur, tCorrected float64) bool {
	if d.TempWindow <= 0 {
		return true
	}
	return math.Abs(tCur-relations.FreezePoint) <= d.TempWindow ||
		math.Abs(tCorrected-relations.FreezePoint) <= d.TempWindow
}
