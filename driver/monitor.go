package driver

import (
	"fmt"
	"sync"
	"time"

	"github.com/notargets/avs/chart2d"
	utils2 "github.com/notargets/avs/utils"
	"github.com/tundrasim/tundrasim/mesh"
	"github.com/tundrasim/tundrasim/state"
)

// Monitor observes committed states between steps.
type Monitor interface {
	Observe(t float64, s *state.State) error
}

type NullMonitor struct{}

func (NullMonitor) Observe(t float64, s *state.State) error { return nil }

// PrintMonitor logs a one-line summary of the watched fields per step.
type PrintMonitor struct {
	Keys []state.Key
}

func (m *PrintMonitor) Observe(t float64, s *state.State) error {
	fmt.Printf("t=%10.1f", t)
	for _, key := range m.Keys {
		fd, err := s.Data(key, state.TagNew)
		if err != nil {
			return err
		}
		v := fd.Component(mesh.Cell)
		fmt.Printf("  %s=[%8.4g, %8.4g]", key, v.Min(), v.Max())
	}
	fmt.Printf("\n")
	return nil
}

// ChartMonitor renders watched cell profiles against depth as the run
// advances.
type ChartMonitor struct {
	Msh        mesh.Mesh
	Keys       []state.Key
	FMin, FMax float32
	GraphDelay time.Duration

	plotOnce sync.Once
	chart    *chart2d.Chart2D
	colorMap *utils2.ColorMap
	x        []float64
}

func NewChartMonitor(msh mesh.Mesh, fmin, fmax float32, keys ...state.Key) *ChartMonitor {
	nc := msh.NumEntities(mesh.Cell)
	x := make([]float64, nc)
	for c := 0; c < nc; c++ {
		x[c] = msh.CellCentroid(c)
	}
	return &ChartMonitor{Msh: msh, Keys: keys, FMin: fmin, FMax: fmax, x: x}
}

func (m *ChartMonitor) Observe(t float64, s *state.State) error {
	m.plotOnce.Do(func() {
		xmin := float32(m.Msh.FaceCentroid(0))
		xmax := float32(m.Msh.FaceCentroid(m.Msh.NumEntities(mesh.Face) - 1))
		m.chart = chart2d.NewChart2D(1920, 1280, xmin, xmax, m.FMin, m.FMax)
		m.colorMap = utils2.NewColorMap(-1, 1, 1)
		go m.chart.Plot()
	})
	for i, key := range m.Keys {
		fd, err := s.Data(key, state.TagNew)
		if err != nil {
			return err
		}
		color := -0.7 + 1.4*float32(i)/float32(len(m.Keys))
		if err := m.chart.AddSeries(string(key), m.x, fd.Component(mesh.Cell).DataP(),
			chart2d.NoGlyph, chart2d.Solid, m.colorMap.GetRGB(color)); err != nil {
			return fmt.Errorf("unable to add graph series %q: %w", key, err)
		}
	}
	if m.GraphDelay != 0 {
		time.Sleep(m.GraphDelay)
	}
	return nil
}
