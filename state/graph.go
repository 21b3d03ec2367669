package state

// EnsureCompatibility resolves the dependency graph rooted at key: the
// evaluator must exist, every dependency inherits a compatible shape, and
// the relation must be acyclic. Run once per field before first evaluation
// (normally during Setup); idempotent thereafter.
func (s *State) EnsureCompatibility(key Key) error {
	if s.ensureDone[key] {
		return nil
	}
	for i, active := range s.ensureStack {
		if active == key {
			cycle := append(append([]Key{}, s.ensureStack[i:]...), key)
			return &CyclicDependencyError{Cycle: cycle}
		}
	}
	ev, err := s.Evaluator(key)
	if err != nil {
		return err
	}
	spec, err := s.RequireField(key, "")
	if err != nil {
		return err
	}

	s.ensureStack = append(s.ensureStack, key)
	defer func() { s.ensureStack = s.ensureStack[:len(s.ensureStack)-1] }()

	for _, dep := range ev.Dependencies() {
		depSpec, err := s.RequireField(dep, "")
		if err != nil {
			return err
		}
		// ghosted/placement requirements propagate down the graph
		if err = spec.PropagateTo(depSpec); err != nil {
			return err
		}
		if err = s.EnsureCompatibility(dep); err != nil {
			return err
		}
	}
	s.ensureDone[key] = true
	return nil
}
