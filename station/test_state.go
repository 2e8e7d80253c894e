package station

import (
	"fmt"
	"strings"
	"sync"

	"github.com/hwtest/station-harness/framework"
	"github.com/hwtest/station-harness/record"
)

// State is one node of the test-level state machine:
//
//	Created -> Running -> {Waiting <-> Running} -> terminal
//
// where terminal is one of Pass, Fail, Error, Timeout, Aborted.
type State int

const (
	StateCreated State = iota
	StateRunning
	StateWaiting
	StatePass
	StateFail
	StateError
	StateTimeout
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateRunning:
		return "RUNNING"
	case StateWaiting:
		return "WAITING"
	case StatePass:
		return "PASS"
	case StateFail:
		return "FAIL"
	case StateError:
		return "ERROR"
	case StateTimeout:
		return "TIMEOUT"
	case StateAborted:
		return "ABORTED"
	}
	return fmt.Sprintf("UNKNOWN(%d)", int(s))
}

// Terminal reports whether the state ends the run.
func (s State) Terminal() bool { return s >= StatePass }

func (s State) recordOutcome() record.Outcome {
	switch s {
	case StatePass:
		return record.OutcomePass
	case StateFail:
		return record.OutcomeFail
	case StateError:
		return record.OutcomeError
	case StateTimeout:
		return record.OutcomeTimeout
	case StateAborted:
		return record.OutcomeAborted
	}
	return ""
}

// TestState folds phase outcomes into the test-level state machine and owns
// the TestRecord being built. Once a terminal state is reached, further
// Apply calls are no-ops: the terminal state can never regress.
type TestState struct {
	lock   sync.Mutex
	state  State
	rec    *record.TestRecord
	logger framework.Logger
}

// NewTestState creates the state machine for one run.
func NewTestState(rec *record.TestRecord, logger framework.Logger) *TestState {
	if logger == nil {
		logger = framework.NullLogger()
	}
	return &TestState{state: StateCreated, rec: rec, logger: logger}
}

// Record returns the record being built.
func (ts *TestState) Record() *record.TestRecord { return ts.rec }

// State returns the current state.
func (ts *TestState) State() State {
	ts.lock.Lock()
	defer ts.lock.Unlock()
	return ts.state
}

// MarkRunning transitions into Running for the next phase attempt.
func (ts *TestState) MarkRunning() error {
	ts.lock.Lock()
	defer ts.lock.Unlock()
	if ts.state.Terminal() {
		return fmt.Errorf("cannot run a phase in terminal state %s", ts.state)
	}
	ts.state = StateRunning
	return nil
}

// Apply folds one phase outcome into the state machine and returns the new
// state. Applying an outcome after a terminal state has been reached leaves
// the state unchanged.
func (ts *TestState) Apply(outcome PhaseOutcome) State {
	ts.lock.Lock()
	defer ts.lock.Unlock()
	if ts.state.Terminal() {
		return ts.state
	}
	switch outcome.Kind {
	case OutcomeSkipped, OutcomeContinue, OutcomeRepeat:
		ts.state = StateWaiting
	case OutcomeFailStop:
		ts.terminalize(StateFail)
	case OutcomeTimeout:
		ts.terminalize(StateTimeout)
	case OutcomeRaised:
		if outcome.Err != nil {
			ts.rec.AddOutcomeDetail(errorCode(outcome.Err), outcome.Err.Error())
		}
		ts.terminalize(StateError)
	case OutcomeAborted:
		ts.terminalize(StateAborted)
	}
	return ts.state
}

// FinishExhausted computes the terminal state after the phase list ran to
// completion: any failed measurement anywhere in the record fails the test,
// otherwise it passes. A test with no phases or no measurements passes.
func (ts *TestState) FinishExhausted() State {
	ts.lock.Lock()
	defer ts.lock.Unlock()
	if ts.state.Terminal() {
		return ts.state
	}
	if failed := ts.rec.FailedMeasurements(); len(failed) > 0 {
		ts.rec.AddOutcomeDetail("MeasurementFailure",
			fmt.Sprintf("failed measurements: %s", strings.Join(failed, ", ")))
		ts.terminalize(StateFail)
	} else {
		ts.terminalize(StatePass)
	}
	return ts.state
}

// ForceTerminal drives the machine to the given terminal state regardless
// of where it is, recording a detail. The engine uses it for pre-phase
// failures (start trigger, plug construction) and for operator aborts.
func (ts *TestState) ForceTerminal(state State, code, description string) {
	ts.lock.Lock()
	defer ts.lock.Unlock()
	if !state.Terminal() {
		return
	}
	if code != "" {
		ts.rec.AddOutcomeDetail(code, description)
	}
	ts.state = state
	if err := ts.rec.ReplaceOutcome(state.recordOutcome()); err != nil {
		ts.logger.Printf("could not set outcome %s: %s", state, err)
	}
}

// DowngradeForTeardownFailure turns a Pass into an Error when plug teardown
// failed. Runs that already failed, timed out, or aborted keep their
// original outcome; the teardown failure is still recorded as a detail.
func (ts *TestState) DowngradeForTeardownFailure(err error) {
	ts.lock.Lock()
	defer ts.lock.Unlock()
	ts.rec.AddOutcomeDetail("TeardownError", err.Error())
	if ts.state != StatePass {
		return
	}
	ts.state = StateError
	if replaceErr := ts.rec.ReplaceOutcome(record.OutcomeError); replaceErr != nil {
		ts.logger.Printf("could not downgrade outcome after teardown failure: %s", replaceErr)
	}
}

// Finalize seals the record. It requires a terminal state, a non-blank DUT
// id, and at most one call; violations are programming errors returned to
// the caller.
func (ts *TestState) Finalize() (*record.TestRecord, error) {
	ts.lock.Lock()
	defer ts.lock.Unlock()
	if !ts.state.Terminal() {
		return nil, record.ErrMissingOutcome
	}
	if err := ts.rec.Finalize(); err != nil {
		return nil, err
	}
	return ts.rec, nil
}

// terminalize sets a terminal state and the matching record outcome.
// Callers hold the lock.
func (ts *TestState) terminalize(state State) {
	ts.state = state
	if err := ts.rec.SetOutcome(state.recordOutcome()); err != nil {
		ts.logger.Printf("could not set outcome %s: %s", state, err)
	}
}

// appendPhase adds a sealed phase record, in attempt order.
func (ts *TestState) appendPhase(phase record.PhaseRecord) {
	ts.rec.AppendPhase(phase)
}
