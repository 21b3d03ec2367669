package state

// Deps hands a secondary evaluator's model the current values of its
// declared dependencies.
type Deps map[Key]*FieldData

// SecondaryFunc computes the field from dependency values. It must be pure:
// identical inputs yield identical results.
type SecondaryFunc func(deps Deps, result *FieldData)

// PartialFunc computes the partial derivative of the field with respect to
// the named direct dependency. The same pure-function contract lets
// chain-rule callers assemble Jacobians without the evaluator knowing about
// the enclosing nonlinear system.
type PartialFunc func(wrt Key, deps Deps, result *FieldData)

// SecondaryEvaluator derives its field from other fields. Values and
// partial derivatives are cached and recomputed only when a dependency
// reports a change.
type SecondaryEvaluator struct {
	key      Key
	deps     []Key
	evaluate SecondaryFunc
	partial  PartialFunc
	requests requestSet
	derivReq map[Key]requestSet
}

func NewSecondaryEvaluator(key Key, deps []Key, evaluate SecondaryFunc, partial PartialFunc) *SecondaryEvaluator {
	return &SecondaryEvaluator{
		key:      key,
		deps:     deps,
		evaluate: evaluate,
		partial:  partial,
		requests: requestSet{},
		derivReq: make(map[Key]requestSet),
	}
}

func (e *SecondaryEvaluator) Key() Key            { return e.key }
func (e *SecondaryEvaluator) Dependencies() []Key { return e.deps }

func (e *SecondaryEvaluator) DependsOn(s *State, key Key) bool {
	for _, d := range e.deps {
		if d == key {
			return true
		}
		if ev, err := s.Evaluator(d); err == nil && ev.DependsOn(s, key) {
			return true
		}
	}
	return false
}

func (e *SecondaryEvaluator) gather(s *State) (Deps, error) {
	deps := make(Deps, len(e.deps))
	for _, d := range e.deps {
		fd, err := s.Data(d, TagNew)
		if err != nil {
			return nil, err
		}
		deps[d] = fd
	}
	return deps, nil
}

func (e *SecondaryEvaluator) HasFieldChanged(s *State, requester string) (bool, error) {
	changed := false
	for _, d := range e.deps {
		ev, err := s.Evaluator(d)
		if err != nil {
			return false, err
		}
		// dependencies recompute depth-first before this field is touched
		ch, err := ev.HasFieldChanged(s, e.key)
		if err != nil {
			return false, err
		}
		changed = changed || ch
	}
	if changed || !s.IsInitialized(e.key) {
		deps, err := e.gather(s)
		if err != nil {
			return false, err
		}
		e.evaluate(deps, s.dataForEvaluator(e.key))
		e.requests = requestSet{}
		e.requests[requester] = true
		return true, nil
	}
	return e.requests.note(requester), nil
}

func (e *SecondaryEvaluator) HasFieldDerivativeChanged(s *State, requester string, wrt Key) (bool, error) {
	rec := s.derivRecordFor(e.key, wrt)
	if wrt != e.key && !e.DependsOn(s, wrt) {
		// outside the dependency closure: exactly zero, never an error
		rec.computed = true
		return false, nil
	}

	// the derivative is stale if the value is, or if any contributing
	// dependency derivative is
	changed, err := e.HasFieldChanged(s, derivRequester(requester, wrt))
	if err != nil {
		return false, err
	}
	for _, d := range e.deps {
		if d == wrt {
			continue
		}
		ev, err := s.Evaluator(d)
		if err != nil {
			return false, err
		}
		if !ev.DependsOn(s, wrt) {
			continue
		}
		ch, err := ev.HasFieldDerivativeChanged(s, e.key, wrt)
		if err != nil {
			return false, err
		}
		changed = changed || ch
	}

	if changed || !rec.computed {
		if err := e.recomputeDerivative(s, wrt, rec.data); err != nil {
			return false, err
		}
		rec.computed = true
		e.derivReq[wrt] = requestSet{}
		e.derivReq[wrt][requester] = true
		return true, nil
	}
	if _, ok := e.derivReq[wrt]; !ok {
		e.derivReq[wrt] = requestSet{}
	}
	return e.derivReq[wrt].note(requester), nil
}

// recomputeDerivative applies the chain rule over direct dependencies:
// d(key)/d(wrt) = sum_d  partial(key, d) * d(d)/d(wrt), where the term for
// d == wrt is the bare partial.
func (e *SecondaryEvaluator) recomputeDerivative(s *State, wrt Key, result *FieldData) error {
	deps, err := e.gather(s)
	if err != nil {
		return err
	}
	result.PutScalar(0)
	spec, err := s.Spec(e.key)
	if err != nil {
		return err
	}
	tmp := NewFieldData(spec)
	for _, d := range e.deps {
		if d == wrt {
			e.partial(d, deps, tmp)
			result.AXPY(1, tmp)
			continue
		}
		ev, err := s.Evaluator(d)
		if err != nil {
			return err
		}
		if !ev.DependsOn(s, wrt) {
			continue
		}
		e.partial(d, deps, tmp)
		result.AddElMul(tmp, s.DerivativeData(d, wrt))
	}
	return nil
}

func derivRequester(requester string, wrt Key) string {
	return requester + " d/d " + string(wrt)
}
