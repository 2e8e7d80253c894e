// Package station contains the test-phase execution engine. A test is an
// ordered, immutable sequence of phases; the TestExecutor drives one run
// end to end on its own goroutine, running each phase under a deadline
// through the PhaseExecutor, folding phase outcomes into the TestState
// state machine, and sealing the resulting record when the run ends.
//
// Phases never run concurrently with each other. Stop may be called from
// any goroutine at any time; it cancels the in-flight phase cooperatively
// and forces the run to an Aborted outcome.
package station
