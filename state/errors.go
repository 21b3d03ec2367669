package state

import (
	"fmt"
	"strings"
)

// ConfigurationError is fatal: it indicates an inconsistent simulation
// definition (conflicting shapes, double ownership, bad option values) and
// always surfaces before time stepping begins.
type ConfigurationError struct {
	Kernel string
	Key    Key
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Kernel != "" {
		return fmt.Sprintf("configuration error [%s] field %q: %s", e.Kernel, e.Key, e.Reason)
	}
	return fmt.Sprintf("configuration error: field %q: %s", e.Key, e.Reason)
}

// MissingEvaluatorError reports a field that was required to have an
// evaluator but never got one registered.
type MissingEvaluatorError struct {
	Key Key
}

func (e *MissingEvaluatorError) Error() string {
	return fmt.Sprintf("no evaluator registered for field %q", e.Key)
}

// CyclicDependencyError carries the full cycle path for diagnosis. It is
// raised during graph compatibility checks, never during evaluation.
type CyclicDependencyError struct {
	Cycle []Key
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic evaluator dependency: %s", strings.Join(e.Cycle, " -> "))
}

// UninitializedFieldError indicates a Setup/Initialize ordering bug: a field
// was read before any kernel or evaluator populated it.
type UninitializedFieldError struct {
	Key Key
	Tag Tag
}

func (e *UninitializedFieldError) Error() string {
	return fmt.Sprintf("field %q read at tag %v before initialization", e.Key, e.Tag)
}
