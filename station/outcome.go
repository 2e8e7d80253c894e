package station

import (
	"fmt"
	"reflect"
)

// Verdict is what a phase body is allowed to return. The zero value is
// Continue, so a body that has nothing special to say can return
// (station.Continue, nil) or simply (0, err) on an error path.
type Verdict int

const (
	// Continue moves on to the next phase.
	Continue Verdict = iota
	// Repeat re-runs the same phase without advancing.
	Repeat
	// Stop is a terminal phase failure; the test stops and fails.
	Stop
)

func (v Verdict) String() string {
	switch v {
	case Continue:
		return "CONTINUE"
	case Repeat:
		return "REPEAT"
	case Stop:
		return "STOP"
	}
	return fmt.Sprintf("UNKNOWN(%d)", int(v))
}

// OutcomeKind classifies the result of one phase execution attempt. The
// Timeout, Raised, Aborted, and Skipped kinds are synthesized by the
// engine; user code can only produce the verdict kinds.
type OutcomeKind int

const (
	// OutcomeSkipped means the phase's run_if predicate returned false.
	// No record is written and the state machine does not advance.
	OutcomeSkipped OutcomeKind = iota
	// OutcomeContinue corresponds to the Continue verdict.
	OutcomeContinue
	// OutcomeRepeat corresponds to the Repeat verdict.
	OutcomeRepeat
	// OutcomeFailStop corresponds to the Stop verdict.
	OutcomeFailStop
	// OutcomeTimeout means the phase's deadline elapsed before the body
	// returned.
	OutcomeTimeout
	// OutcomeRaised means the body returned an error or panicked.
	OutcomeRaised
	// OutcomeAborted means the run was stopped while the phase executed.
	OutcomeAborted
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSkipped:
		return "SKIPPED"
	case OutcomeContinue:
		return "CONTINUE"
	case OutcomeRepeat:
		return "REPEAT"
	case OutcomeFailStop:
		return "STOP"
	case OutcomeTimeout:
		return "TIMEOUT"
	case OutcomeRaised:
		return "RAISED"
	case OutcomeAborted:
		return "ABORTED"
	}
	return fmt.Sprintf("UNKNOWN(%d)", int(k))
}

// PhaseOutcome is the classified result of one phase execution attempt.
// Err is set only for OutcomeRaised.
type PhaseOutcome struct {
	Kind OutcomeKind
	Err  error
}

func (o PhaseOutcome) String() string {
	if o.Err != nil {
		return fmt.Sprintf("%s(%s)", o.Kind, o.Err)
	}
	return o.Kind.String()
}

// Terminal reports whether this outcome stops the phase loop.
func (o PhaseOutcome) Terminal() bool {
	switch o.Kind {
	case OutcomeFailStop, OutcomeTimeout, OutcomeRaised, OutcomeAborted:
		return true
	}
	return false
}

// PanicError wraps a panic recovered from a phase body.
type PanicError struct {
	Value interface{}
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("unexpected panic in phase: %v", e.Value)
}

// RepeatLimitError is synthesized when a phase keeps returning Repeat past
// the configured limit.
type RepeatLimitError struct {
	Phase string
	Limit int
}

func (e *RepeatLimitError) Error() string {
	return fmt.Sprintf("phase %q exceeded the repeat limit of %d attempts", e.Phase, e.Limit)
}

// errorCode names an error by its Go type, for outcome details. Errors
// built with errors.New or fmt.Errorf all share the underlying stdlib
// types, so custom phase errors should be their own types if they want a
// distinguishable code.
func errorCode(err error) string {
	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil {
		return "error"
	}
	return t.Name()
}
