package state

import "math"

// Evaluator is a named computation producing one field. Variants:
// independent (externally driven), primary (a solution variable written by
// a kernel's solver) and secondary (computed from other fields).
//
// HasFieldChanged and HasFieldDerivativeChanged are the single point of
// truth for staleness: cached values and derivatives are mutated nowhere
// else.
type Evaluator interface {
	Key() Key
	Dependencies() []Key
	// HasFieldChanged recomputes the field if any dependency advanced and
	// reports whether the value changed since this requester last asked.
	HasFieldChanged(s *State, requester string) (bool, error)
	// HasFieldDerivativeChanged is the analogous protocol for d(key)/d(wrt).
	// A wrt outside the dependency closure yields exactly zero, not an error.
	HasFieldDerivativeChanged(s *State, requester string, wrt Key) (bool, error)
	// DependsOn reports whether key is in the transitive dependency closure.
	DependsOn(s *State, key Key) bool
}

// requestSet tracks which requesters have seen the current value.
type requestSet map[string]bool

func (r requestSet) note(requester string) (newToRequester bool) {
	if !r[requester] {
		r[requester] = true
		return true
	}
	return false
}

// IndependentFunc fills result with externally supplied values at time t
// (boundary data, met forcing, prescribed functions of space and time).
type IndependentFunc func(t float64, result *FieldData)

// IndependentEvaluator produces a field no other field feeds into. It
// recomputes only when the clock crosses into a new update interval.
type IndependentEvaluator struct {
	key      Key
	interval float64 // update interval; <= 0 means any time change
	constant bool    // evaluate exactly once (e.g. cell volume)
	fn       IndependentFunc
	computed bool
	lastT    float64
	requests requestSet
}

func NewIndependentEvaluator(key Key, interval float64, fn IndependentFunc) *IndependentEvaluator {
	return &IndependentEvaluator{key: key, interval: interval, fn: fn, requests: requestSet{}}
}

// NewConstantEvaluator produces a field evaluated exactly once, such as
// cell volume on a static mesh.
func NewConstantEvaluator(key Key, fn IndependentFunc) *IndependentEvaluator {
	return &IndependentEvaluator{key: key, constant: true, fn: fn, requests: requestSet{}}
}

func (e *IndependentEvaluator) Key() Key            { return e.key }
func (e *IndependentEvaluator) Dependencies() []Key { return nil }

func (e *IndependentEvaluator) advanced(t float64) bool {
	switch {
	case !e.computed:
		return true
	case e.constant:
		return false
	case e.interval <= 0:
		return t != e.lastT
	default:
		return math.Floor(t/e.interval) != math.Floor(e.lastT/e.interval)
	}
}

func (e *IndependentEvaluator) HasFieldChanged(s *State, requester string) (bool, error) {
	t := s.Time(TagNew)
	if e.advanced(t) {
		e.fn(t, s.dataForEvaluator(e.key))
		e.lastT = t
		e.computed = true
		e.requests = requestSet{}
		e.requests[requester] = true
		return true, nil
	}
	return e.requests.note(requester), nil
}

func (e *IndependentEvaluator) HasFieldDerivativeChanged(s *State, requester string, wrt Key) (bool, error) {
	// no dependencies: every derivative is identically zero
	s.derivRecordFor(e.key, wrt).computed = true
	return false, nil
}

func (e *IndependentEvaluator) DependsOn(s *State, key Key) bool { return false }

// PrimaryEvaluator fronts a solution variable owned by a process kernel.
// The nonlinear solver announces rewrites through SetChanged (via
// State.MarkChangedSolution); requesters then observe a change exactly once.
type PrimaryEvaluator struct {
	key      Key
	requests requestSet
	derivSet bool
}

func NewPrimaryEvaluator(key Key) *PrimaryEvaluator {
	return &PrimaryEvaluator{key: key, requests: requestSet{}}
}

func (e *PrimaryEvaluator) Key() Key            { return e.key }
func (e *PrimaryEvaluator) Dependencies() []Key { return nil }

func (e *PrimaryEvaluator) SetChanged() {
	e.requests = requestSet{}
}

func (e *PrimaryEvaluator) HasFieldChanged(s *State, requester string) (bool, error) {
	if !s.IsInitialized(e.key) {
		return false, &UninitializedFieldError{Key: e.key, Tag: TagNew}
	}
	return e.requests.note(requester), nil
}

func (e *PrimaryEvaluator) HasFieldDerivativeChanged(s *State, requester string, wrt Key) (bool, error) {
	rec := s.derivRecordFor(e.key, wrt)
	if wrt == e.key && !e.derivSet {
		rec.data.PutScalar(1)
		rec.computed = true
		e.derivSet = true
		return true, nil
	}
	rec.computed = true
	return false, nil
}

func (e *PrimaryEvaluator) DependsOn(s *State, key Key) bool { return false }
