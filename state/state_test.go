package state

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tundrasim/tundrasim/mesh"
)

// registerPrimary declares a cell field with a primary evaluator and fills
// it with vals.
func registerPrimary(t *testing.T, s *State, key Key, owner string, vals []float64) {
	spec, err := s.RequireField(key, owner)
	assert.NoError(t, err)
	assert.NoError(t, spec.AddComponent(mesh.Cell, len(vals), 1))
	s.SetEvaluator(key, NewPrimaryEvaluator(key))
	assert.NoError(t, s.Setup())
	fd, err := s.WritableData(key, owner)
	assert.NoError(t, err)
	copy(fd.Component(mesh.Cell).DataP(), vals)
	s.SetInitialized(key)
	assert.NoError(t, s.MarkChangedSolution(key))
}

func TestStateBasics(t *testing.T) {
	// ownership is exclusive
	{
		s := NewState()
		_, err := s.RequireField("pressure", "flow")
		assert.NoError(t, err)
		_, err = s.RequireField("pressure", "flow")
		assert.NoError(t, err)
		_, err = s.RequireField("pressure", "other")
		assert.Error(t, err)
		var cfg *ConfigurationError
		assert.ErrorAs(t, err, &cfg)
	}
	// shape conflict surfaces at the second requirement
	{
		s := NewState()
		spec, err := s.RequireField("temperature", "")
		assert.NoError(t, err)
		assert.NoError(t, spec.AddComponent(mesh.Cell, 10, 1))
		assert.NoError(t, spec.AddComponent(mesh.Cell, 10, 1)) // identical is fine
		err = spec.AddComponent(mesh.Cell, 20, 1)
		assert.Error(t, err)
	}
	// reading before initialization fails loudly
	{
		s := NewState()
		spec, _ := s.RequireField("temperature", "energy")
		assert.NoError(t, spec.AddComponent(mesh.Cell, 4, 1))
		s.SetEvaluator("temperature", NewPrimaryEvaluator("temperature"))
		assert.NoError(t, s.Setup())
		_, err := s.Data("temperature", TagNew)
		var uninit *UninitializedFieldError
		assert.ErrorAs(t, err, &uninit)
	}
	// a required evaluator that never arrives fails setup
	{
		s := NewState()
		spec, _ := s.RequireField("energy", "")
		assert.NoError(t, spec.AddComponent(mesh.Cell, 4, 1))
		s.RequireFieldEvaluator("energy")
		err := s.Setup()
		var missing *MissingEvaluatorError
		assert.ErrorAs(t, err, &missing)
	}
	// writes are owner-only and bump the version
	{
		s := NewState()
		registerPrimary(t, s, "pressure", "flow", []float64{1, 2, 3})
		v0 := s.FieldVersion("pressure")
		_, err := s.WritableData("pressure", "intruder")
		assert.Error(t, err)
		_, err = s.WritableData("pressure", "flow")
		assert.NoError(t, err)
		assert.Greater(t, s.FieldVersion("pressure"), v0)
	}
	// commit and revert move values between tags
	{
		s := NewState()
		registerPrimary(t, s, "pressure", "flow", []float64{1, 2, 3})
		s.CommitField("pressure")
		fd, _ := s.WritableData("pressure", "flow")
		fd.PutScalar(9)
		s.RevertField("pressure")
		fd2, err := s.Data("pressure", TagNew)
		assert.NoError(t, err)
		assert.Equal(t, []float64{1, 2, 3}, fd2.Component(mesh.Cell).DataP())
	}
}

// The canonical derived-field scenario: density = water_content / volume.
func TestSecondaryEvaluatorScenario(t *testing.T) {
	var (
		s = NewState()
	)
	registerPrimary(t, s, "water_content", "flow", []float64{10})
	spec, _ := s.RequireField("cell_volume", "")
	assert.NoError(t, spec.AddComponent(mesh.Cell, 1, 1))
	s.SetEvaluator("cell_volume", NewConstantEvaluator("cell_volume",
		func(t float64, result *FieldData) { result.PutScalar(2) }))

	spec, _ = s.RequireField("density", "")
	assert.NoError(t, spec.AddComponent(mesh.Cell, 1, 1))
	dens := NewSecondaryEvaluator("density",
		[]Key{"water_content", "cell_volume"},
		func(deps Deps, result *FieldData) {
			wc := deps["water_content"].Component(mesh.Cell).DataP()
			vol := deps["cell_volume"].Component(mesh.Cell).DataP()
			d := result.Component(mesh.Cell).DataP()
			for i := range d {
				d[i] = wc[i] / vol[i]
			}
		},
		func(wrt Key, deps Deps, result *FieldData) {
			wc := deps["water_content"].Component(mesh.Cell).DataP()
			vol := deps["cell_volume"].Component(mesh.Cell).DataP()
			d := result.Component(mesh.Cell).DataP()
			for i := range d {
				switch wrt {
				case "water_content":
					d[i] = 1 / vol[i]
				case "cell_volume":
					d[i] = -wc[i] / (vol[i] * vol[i])
				}
			}
		})
	s.SetEvaluator("density", dens)
	assert.NoError(t, s.Setup())

	// first request computes 10/2 = 5
	changed, err := dens.HasFieldChanged(s, "user")
	assert.NoError(t, err)
	assert.True(t, changed)
	fd, err := s.Data("density", TagNew)
	assert.NoError(t, err)
	assert.Equal(t, 5.0, fd.Component(mesh.Cell).AtVec(0))
	v0 := s.FieldVersion("density")

	// idempotent: same requester, no change upstream
	changed, err = dens.HasFieldChanged(s, "user")
	assert.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, v0, s.FieldVersion("density"))

	// a different requester observes the same (already current) value once
	changed, err = dens.HasFieldChanged(s, "other user")
	assert.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, v0, s.FieldVersion("density"))

	// upstream write: 12/2 = 6, version advances
	wfd, err := s.WritableData("water_content", "flow")
	assert.NoError(t, err)
	wfd.PutScalar(12)
	assert.NoError(t, s.MarkChangedSolution("water_content"))
	changed, err = dens.HasFieldChanged(s, "user")
	assert.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 6.0, fd.Component(mesh.Cell).AtVec(0))
	assert.Greater(t, s.FieldVersion("density"), v0)

	// derivative wrt a direct dependency
	changed, err = dens.HasFieldDerivativeChanged(s, "user", "water_content")
	assert.NoError(t, err)
	assert.True(t, changed)
	assert.InDelta(t, 0.5, s.DerivativeData("density", "water_content").Component(mesh.Cell).AtVec(0), 1e-14)

	// derivative wrt a field outside the closure is exactly zero, no error
	changed, err = dens.HasFieldDerivativeChanged(s, "user", "energy")
	assert.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 0.0, s.DerivativeData("density", "energy").Component(mesh.Cell).AtVec(0))
}

// Chain rule through two secondary levels, checked against a finite
// difference.
func TestDerivativeChainRule(t *testing.T) {
	build := func(x0 float64) (*State, *SecondaryEvaluator) {
		s := NewState()
		registerPrimary(t, s, "a", "owner", []float64{x0})

		spec, _ := s.RequireField("b", "")
		assert.NoError(t, spec.AddComponent(mesh.Cell, 1, 1))
		s.SetEvaluator("b", NewSecondaryEvaluator("b", []Key{"a"},
			func(deps Deps, result *FieldData) {
				a := deps["a"].Component(mesh.Cell).DataP()
				b := result.Component(mesh.Cell).DataP()
				for i := range b {
					b[i] = a[i] * a[i]
				}
			},
			func(wrt Key, deps Deps, result *FieldData) {
				a := deps["a"].Component(mesh.Cell).DataP()
				db := result.Component(mesh.Cell).DataP()
				for i := range db {
					db[i] = 2 * a[i]
				}
			}))

		spec, _ = s.RequireField("c", "")
		assert.NoError(t, spec.AddComponent(mesh.Cell, 1, 1))
		ev := NewSecondaryEvaluator("c", []Key{"b"},
			func(deps Deps, result *FieldData) {
				b := deps["b"].Component(mesh.Cell).DataP()
				c := result.Component(mesh.Cell).DataP()
				for i := range c {
					c[i] = math.Sin(b[i])
				}
			},
			func(wrt Key, deps Deps, result *FieldData) {
				b := deps["b"].Component(mesh.Cell).DataP()
				dc := result.Component(mesh.Cell).DataP()
				for i := range dc {
					dc[i] = math.Cos(b[i])
				}
			})
		s.SetEvaluator("c", ev)
		assert.NoError(t, s.Setup())
		return s, ev
	}

	var (
		x0  = 1.3
		eps = 1e-6
	)
	s, ev := build(x0)
	changed, err := ev.HasFieldDerivativeChanged(s, "test", "a")
	assert.NoError(t, err)
	assert.True(t, changed)
	// dc/da = cos(a^2) * 2a
	analytic := s.DerivativeData("c", "a").Component(mesh.Cell).AtVec(0)
	assert.InDelta(t, math.Cos(x0*x0)*2*x0, analytic, 1e-12)

	valueAt := func(x float64) float64 {
		s2, ev2 := build(x)
		_, err := ev2.HasFieldChanged(s2, "test")
		assert.NoError(t, err)
		fd, err := s2.Data("c", TagNew)
		assert.NoError(t, err)
		return fd.Component(mesh.Cell).AtVec(0)
	}
	fd := (valueAt(x0+eps) - valueAt(x0-eps)) / (2 * eps)
	assert.InDelta(t, fd, analytic, 1e-6)
}

func TestGraphCompatibility(t *testing.T) {
	// a dependency cycle is a configuration error naming the cycle
	{
		s := NewState()
		for _, key := range []Key{"x", "y", "z"} {
			spec, _ := s.RequireField(key, "")
			assert.NoError(t, spec.AddComponent(mesh.Cell, 2, 1))
		}
		noop := func(deps Deps, result *FieldData) {}
		dnoop := func(wrt Key, deps Deps, result *FieldData) {}
		s.SetEvaluator("x", NewSecondaryEvaluator("x", []Key{"y"}, noop, dnoop))
		s.SetEvaluator("y", NewSecondaryEvaluator("y", []Key{"z"}, noop, dnoop))
		s.SetEvaluator("z", NewSecondaryEvaluator("z", []Key{"x"}, noop, dnoop))
		err := s.Setup()
		var cyc *CyclicDependencyError
		assert.ErrorAs(t, err, &cyc)
		assert.GreaterOrEqual(t, len(cyc.Cycle), 3)
	}
	// shape propagates from a result onto its dependencies
	{
		s := NewState()
		spec, _ := s.RequireField("derived", "")
		assert.NoError(t, spec.AddComponent(mesh.Cell, 8, 1))
		s.SetEvaluator("derived", NewSecondaryEvaluator("derived", []Key{"base"},
			func(deps Deps, result *FieldData) {}, func(wrt Key, deps Deps, result *FieldData) {}))
		s.SetEvaluator("base", NewPrimaryEvaluator("base"))
		assert.NoError(t, s.Setup())
		baseSpec, err := s.Spec("base")
		assert.NoError(t, err)
		comp, ok := baseSpec.Component(mesh.Cell)
		assert.True(t, ok)
		assert.Equal(t, 8, comp.Count)
	}
}

func TestIndependentEvaluatorIntervals(t *testing.T) {
	var (
		s     = NewState()
		calls int
	)
	spec, _ := s.RequireField("air_temperature", "")
	assert.NoError(t, spec.AddComponent(mesh.Cell, 1, 1))
	ev := NewIndependentEvaluator("air_temperature", 100,
		func(t float64, result *FieldData) {
			calls++
			result.PutScalar(260 + t)
		})
	s.SetEvaluator("air_temperature", ev)
	assert.NoError(t, s.Setup())

	s.SetTime(TagNew, 10)
	changed, err := ev.HasFieldChanged(s, "veg")
	assert.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 1, calls)

	// still inside the same interval: cached
	s.SetTime(TagNew, 60)
	changed, err = ev.HasFieldChanged(s, "veg")
	assert.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 1, calls)

	// crossing the interval boundary recomputes
	s.SetTime(TagNew, 110)
	changed, err = ev.HasFieldChanged(s, "veg")
	assert.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 2, calls)
}

func TestPrimaryEvaluatorProtocol(t *testing.T) {
	s := NewState()
	// asking before initialization is an error
	spec, _ := s.RequireField("temperature", "energy")
	assert.NoError(t, spec.AddComponent(mesh.Cell, 3, 1))
	pv := NewPrimaryEvaluator("temperature")
	s.SetEvaluator("temperature", pv)
	assert.NoError(t, s.Setup())
	_, err := pv.HasFieldChanged(s, "solver")
	var uninit *UninitializedFieldError
	assert.ErrorAs(t, err, &uninit)

	fd, err := s.WritableData("temperature", "energy")
	assert.NoError(t, err)
	fd.PutScalar(270)
	s.SetInitialized("temperature")
	assert.NoError(t, s.MarkChangedSolution("temperature"))

	// each requester observes a change exactly once per rewrite
	changed, err := pv.HasFieldChanged(s, "solver")
	assert.NoError(t, err)
	assert.True(t, changed)
	changed, _ = pv.HasFieldChanged(s, "solver")
	assert.False(t, changed)
	assert.NoError(t, s.MarkChangedSolution("temperature"))
	changed, _ = pv.HasFieldChanged(s, "solver")
	assert.True(t, changed)

	// derivative wrt itself is ones; wrt anything else zero
	changed, err = pv.HasFieldDerivativeChanged(s, "solver", "temperature")
	assert.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 1.0, s.DerivativeData("temperature", "temperature").Component(mesh.Cell).AtVec(0))
	changed, err = pv.HasFieldDerivativeChanged(s, "solver", "pressure")
	assert.NoError(t, err)
	assert.False(t, changed)
}
