package station

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/hwtest/station-harness/framework"
	"github.com/hwtest/station-harness/framework/helpers"
	"github.com/hwtest/station-harness/measure"
	"github.com/hwtest/station-harness/plugs"
	"github.com/hwtest/station-harness/record"
)

// DefaultCancelGrace is how long the executor waits for a cancelled phase
// body to return before abandoning its goroutine.
const DefaultCancelGrace = time.Second

type bodyResult struct {
	verdict Verdict
	err     error
}

// PhaseExecutor runs one phase at a time under a hard wall-clock deadline
// and classifies the result. The phase body runs in its own goroutine;
// cancellation is cooperative through the phase context, and a body that
// does not honor it within the grace period is abandoned and logged as
// leaked rather than forcibly killed.
type PhaseExecutor struct {
	state      *TestState
	plugs      *plugs.Manager
	logger     framework.Logger
	grace      time.Duration
	sharedData *SharedData

	lock          sync.Mutex
	stopped       bool
	cancelCurrent context.CancelFunc
}

// NewPhaseExecutor creates an executor that appends phase records to the
// given state's record. The logger may be nil; grace <= 0 selects
// DefaultCancelGrace.
func NewPhaseExecutor(state *TestState, plugManager *plugs.Manager, logger framework.Logger, grace time.Duration) *PhaseExecutor {
	if logger == nil {
		logger = framework.NullLogger()
	}
	if grace <= 0 {
		grace = DefaultCancelGrace
	}
	return &PhaseExecutor{
		state:      state,
		plugs:      plugManager,
		logger:     logger,
		grace:      grace,
		sharedData: newSharedData(),
	}
}

// SharedData returns the store shared by all phases of the run and
// consulted by run_if predicates.
func (e *PhaseExecutor) SharedData() *SharedData { return e.sharedData }

// Stop asynchronously cancels whatever phase is currently executing, and
// makes any phase started afterwards abort immediately. It is safe to call
// from any goroutine, at any time, including when no phase is running.
func (e *PhaseExecutor) Stop() {
	e.lock.Lock()
	e.stopped = true
	cancel := e.cancelCurrent
	e.lock.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (e *PhaseExecutor) stopRequested() bool {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.stopped
}

// Execute runs one phase attempt and returns its classified outcome. Unless
// the phase was skipped by its run_if predicate, a sealed PhaseRecord is
// appended to the owning state's record on every path, and the phase's
// scoped resources are released before Execute returns.
func (e *PhaseExecutor) Execute(ctx context.Context, phase *Phase, attempt int) PhaseOutcome {
	if phase.RunIf != nil && !phase.RunIf(e.sharedData.Snapshot()) {
		return PhaseOutcome{Kind: OutcomeSkipped}
	}

	start := time.Now()
	phaseCtx, cancel := context.WithCancel(ctx)

	e.lock.Lock()
	if e.stopped {
		e.lock.Unlock()
		cancel()
		outcome := PhaseOutcome{Kind: OutcomeAborted}
		e.state.appendPhase(e.sealRecord(phase, attempt, start, nil, nil, outcome))
		return outcome
	}
	e.cancelCurrent = cancel
	e.lock.Unlock()
	defer func() {
		e.lock.Lock()
		e.cancelCurrent = nil
		e.lock.Unlock()
		cancel()
	}()

	phaseLogger := framework.LoggerWithPrefix(e.logger, fmt.Sprintf("[%s] ", phase.Name))
	collection, err := measure.NewCollection(phase.Measurements, phaseLogger)
	if err != nil {
		outcome := PhaseOutcome{Kind: OutcomeRaised, Err: err}
		e.state.appendPhase(e.sealRecord(phase, attempt, start, nil, nil, outcome))
		return outcome
	}
	run := newPhaseRun(phaseCtx, phase, collection, e.plugs, e.sharedData, phaseLogger)

	resultCh := make(chan bodyResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				helpers.NonBlockingSend(resultCh, bodyResult{
					err: &PanicError{Value: r, Stack: string(debug.Stack())},
				})
			}
		}()
		verdict, bodyErr := phase.Body(run)
		helpers.NonBlockingSend(resultCh, bodyResult{verdict: verdict, err: bodyErr})
	}()

	timeout := phase.Timeout
	if timeout <= 0 {
		timeout = DefaultPhaseTimeout
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	var outcome PhaseOutcome
	select {
	case res := <-resultCh:
		outcome = e.classify(res)
	case <-deadline.C:
		cancel()
		e.awaitCancelled(resultCh, phase.Name)
		outcome = PhaseOutcome{Kind: OutcomeTimeout}
	case <-phaseCtx.Done():
		// Stop() or cancellation of the whole run
		e.awaitCancelled(resultCh, phase.Name)
		outcome = PhaseOutcome{Kind: OutcomeAborted}
	}

	run.drainCleanups()
	collection.Finalize()
	e.state.appendPhase(e.sealRecord(phase, attempt, start, collection, run, outcome))
	return outcome
}

// classify maps what the body returned onto a PhaseOutcome, in the priority
// order: error (or cancellation), then verdict.
func (e *PhaseExecutor) classify(res bodyResult) PhaseOutcome {
	if res.err != nil {
		if errors.Is(res.err, context.Canceled) && e.stopRequested() {
			return PhaseOutcome{Kind: OutcomeAborted}
		}
		return PhaseOutcome{Kind: OutcomeRaised, Err: res.err}
	}
	switch res.verdict {
	case Repeat:
		return PhaseOutcome{Kind: OutcomeRepeat}
	case Stop:
		return PhaseOutcome{Kind: OutcomeFailStop}
	default:
		return PhaseOutcome{Kind: OutcomeContinue}
	}
}

// awaitCancelled gives a cancelled body the grace period to land. A body
// that keeps running past it cannot be killed, so it is logged as leaked
// instead of silently ignored.
func (e *PhaseExecutor) awaitCancelled(resultCh <-chan bodyResult, name string) {
	if !helpers.TryReceive(resultCh, e.grace).IsDefined() {
		e.logger.Printf("phase %q did not return within %s of cancellation; abandoning its goroutine (leaked)",
			name, e.grace)
	}
}

func (e *PhaseExecutor) sealRecord(
	phase *Phase,
	attempt int,
	start time.Time,
	collection *measure.Collection,
	run *PhaseRun,
	outcome PhaseOutcome,
) record.PhaseRecord {
	rec := record.PhaseRecord{
		Name:      phase.Name,
		Doc:       phase.Doc,
		Attempt:   attempt,
		StartTime: start,
		EndTime:   time.Now(),
		Outcome:   outcome.Kind.String(),
	}
	if outcome.Err != nil {
		rec.Error = outcome.Err.Error()
	}
	if collection != nil {
		rec.Measurements = collection.Snapshot()
	}
	if run != nil {
		rec.Attachments = run.attachmentList()
	}
	return rec
}
