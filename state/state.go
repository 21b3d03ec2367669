package state

import (
	"fmt"
)

// State is the process-wide registry of named fields shared by all process
// kernels. Fields live at two time tags: the committed "old" solution and
// the working "new" solution. Writes happen only at TagNew; CommitField
// promotes new values to old.
type State struct {
	time      map[Tag]float64
	fields    map[Key]*fieldRecord
	evals     map[Key]Evaluator
	evalNeeds map[Key]bool // required but possibly not yet registered
	scalars   map[Key]*scalarRecord
	derivs    map[string]*derivRecord
	Verbosity int

	// active recursion stack for cycle detection during compatibility checks
	ensureStack []Key
	ensureDone  map[Key]bool
}

type fieldRecord struct {
	spec        *FieldSpec
	data        map[Tag]*FieldData
	initialized bool
	version     int
}

type scalarRecord struct {
	val         float64
	initialized bool
}

type derivRecord struct {
	data     *FieldData
	computed bool
}

func NewState() *State {
	return &State{
		time:       map[Tag]float64{TagOld: 0, TagNew: 0},
		fields:     make(map[Key]*fieldRecord),
		evals:      make(map[Key]Evaluator),
		evalNeeds:  make(map[Key]bool),
		scalars:    make(map[Key]*scalarRecord),
		derivs:     make(map[string]*derivRecord),
		ensureDone: make(map[Key]bool),
	}
}

func (s *State) Time(tag Tag) float64       { return s.time[tag] }
func (s *State) SetTime(tag Tag, t float64) { s.time[tag] = t }

// RequireField declares that key must exist, creating or merging its shared
// spec. A non-empty owner claims exclusive write access; a second distinct
// owner is a configuration error.
func (s *State) RequireField(key Key, owner string) (*FieldSpec, error) {
	rec, ok := s.fields[key]
	if !ok {
		rec = &fieldRecord{spec: &FieldSpec{Key: key}}
		s.fields[key] = rec
	}
	if owner != "" {
		if rec.spec.Owner != "" && rec.spec.Owner != owner {
			return nil, &ConfigurationError{Kernel: owner, Key: key,
				Reason: fmt.Sprintf("already owned by %q", rec.spec.Owner)}
		}
		rec.spec.Owner = owner
	}
	return rec.spec, nil
}

// RequireFieldEvaluator registers that some evaluator must exist for key,
// to be resolved by name before Setup completes.
func (s *State) RequireFieldEvaluator(key Key) {
	s.evalNeeds[key] = true
}

func (s *State) SetEvaluator(key Key, ev Evaluator) {
	s.evals[key] = ev
}

func (s *State) Evaluator(key Key) (Evaluator, error) {
	ev, ok := s.evals[key]
	if !ok {
		return nil, &MissingEvaluatorError{Key: key}
	}
	return ev, nil
}

func (s *State) HasEvaluator(key Key) bool {
	_, ok := s.evals[key]
	return ok
}

func (s *State) Spec(key Key) (*FieldSpec, error) {
	rec, ok := s.fields[key]
	if !ok {
		return nil, &ConfigurationError{Key: key, Reason: "field was never required"}
	}
	return rec.spec, nil
}

// Setup finalizes declarations: verifies every required evaluator exists,
// runs graph compatibility (including cycle detection), and allocates field
// storage at both tags. Idempotent, so kernels may trigger it repeatedly.
func (s *State) Setup() error {
	for key := range s.evalNeeds {
		if _, ok := s.evals[key]; !ok {
			return &MissingEvaluatorError{Key: key}
		}
	}
	for key := range s.evals {
		if err := s.EnsureCompatibility(key); err != nil {
			return err
		}
	}
	for _, rec := range s.fields {
		s.allocate(rec)
	}
	return nil
}

func (s *State) allocate(rec *fieldRecord) {
	if rec.data == nil {
		rec.data = map[Tag]*FieldData{
			TagOld: NewFieldData(rec.spec),
			TagNew: NewFieldData(rec.spec),
		}
		return
	}
	// a later Setup pass may have merged new components into the spec
	for tag, fd := range rec.data {
		if len(fd.order) != len(rec.spec.Components) {
			grown := NewFieldData(rec.spec)
			grown.CopyFrom(fd)
			rec.data[tag] = grown
		}
	}
}

// Data returns a read view of key at tag. Reading before initialization is
// an ordering bug and fails loudly.
func (s *State) Data(key Key, tag Tag) (*FieldData, error) {
	rec, ok := s.fields[key]
	if !ok || rec.data == nil {
		return nil, &ConfigurationError{Key: key, Reason: "field was never required or state not set up"}
	}
	if !rec.initialized {
		return nil, &UninitializedFieldError{Key: key, Tag: tag}
	}
	return rec.data[tag], nil
}

// WritableData returns the mutable new-tag values of an owned field and
// bumps its version. Only the declared owner may write.
func (s *State) WritableData(key Key, owner string) (*FieldData, error) {
	rec, ok := s.fields[key]
	if !ok || rec.data == nil {
		return nil, &ConfigurationError{Kernel: owner, Key: key, Reason: "field was never required or state not set up"}
	}
	if rec.spec.Owner != owner {
		return nil, &ConfigurationError{Kernel: owner, Key: key,
			Reason: fmt.Sprintf("write denied: field is owned by %q", rec.spec.Owner)}
	}
	rec.version++
	return rec.data[TagNew], nil
}

// dataForEvaluator is the internal write path used by HasFieldChanged:
// recomputation bumps the version and marks the field live.
func (s *State) dataForEvaluator(key Key) *FieldData {
	rec := s.fields[key]
	rec.version++
	rec.initialized = true
	return rec.data[TagNew]
}

func (s *State) SetInitialized(key Key) {
	if rec, ok := s.fields[key]; ok {
		rec.initialized = true
	}
}

func (s *State) IsInitialized(key Key) bool {
	rec, ok := s.fields[key]
	return ok && rec.initialized
}

func (s *State) FieldVersion(key Key) int {
	if rec, ok := s.fields[key]; ok {
		return rec.version
	}
	return 0
}

// CommitField promotes the new-tag values of key to the old tag.
func (s *State) CommitField(key Key) {
	if rec, ok := s.fields[key]; ok && rec.data != nil {
		rec.data[TagOld].CopyFrom(rec.data[TagNew])
	}
}

// RevertField restores new-tag values from the last committed old values,
// discarding a rejected attempt.
func (s *State) RevertField(key Key) {
	if rec, ok := s.fields[key]; ok && rec.data != nil {
		rec.data[TagNew].CopyFrom(rec.data[TagOld])
		rec.version++
	}
}

func (s *State) RequireScalar(key Key) {
	if _, ok := s.scalars[key]; !ok {
		s.scalars[key] = &scalarRecord{}
	}
}

func (s *State) SetScalar(key Key, val float64) {
	s.RequireScalar(key)
	s.scalars[key].val = val
	s.scalars[key].initialized = true
}

func (s *State) Scalar(key Key) (float64, error) {
	rec, ok := s.scalars[key]
	if !ok || !rec.initialized {
		return 0, &UninitializedFieldError{Key: key}
	}
	return rec.val, nil
}

// MarkChangedSolution tells the primary-variable evaluator for key that the
// nonlinear solver rewrote the solution out from under it.
func (s *State) MarkChangedSolution(key Key) error {
	ev, err := s.Evaluator(key)
	if err != nil {
		return err
	}
	pv, ok := ev.(*PrimaryEvaluator)
	if !ok {
		return &ConfigurationError{Key: key, Reason: "evaluator is not a primary-variable evaluator"}
	}
	pv.SetChanged()
	if rec, ok := s.fields[key]; ok {
		rec.version++
	}
	return nil
}

func (s *State) derivKey(key, wrt Key) string { return string(key) + "|d|" + string(wrt) }

// DerivativeData returns the cached derivative of key with respect to wrt,
// allocating a zero field of key's shape on first use.
func (s *State) DerivativeData(key, wrt Key) *FieldData {
	dk := s.derivKey(key, wrt)
	rec, ok := s.derivs[dk]
	if !ok {
		spec, _ := s.Spec(key)
		rec = &derivRecord{data: NewFieldData(spec)}
		s.derivs[dk] = rec
	}
	return rec.data
}

func (s *State) derivRecordFor(key, wrt Key) *derivRecord {
	s.DerivativeData(key, wrt)
	return s.derivs[s.derivKey(key, wrt)]
}
