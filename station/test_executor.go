package station

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/exp/slices"

	"github.com/hwtest/station-harness/conf"
	"github.com/hwtest/station-harness/framework"
	"github.com/hwtest/station-harness/measure"
	"github.com/hwtest/station-harness/plugs"
	"github.com/hwtest/station-harness/record"
)

// DefaultRepeatLimit caps how many times one phase may return Repeat before
// the engine gives up on it.
const DefaultRepeatLimit = 10

// unknownDutID is recorded when the run ends before the start trigger
// identified a device, so the record can still be finalized and delivered.
const unknownDutID = "UNKNOWN"

// StartTrigger identifies the device under test. It is invoked exactly
// once per run, before any plug is created or phase executed; it may block
// (waiting for an operator or a fixture sensor) and should honor ctx.
type StartTrigger func(ctx context.Context) (dutID string, err error)

// FixedDutID returns a start trigger that identifies the device
// immediately, for unattended stations and tests.
func FixedDutID(dutID string) StartTrigger {
	return func(context.Context) (string, error) {
		if dutID == "" {
			return "", errors.New("fixed DUT id is blank")
		}
		return dutID, nil
	}
}

// OutputCallback receives the finalized record when the run ends. A
// callback's error is logged and does not affect other callbacks.
type OutputCallback func(*record.TestRecord) error

// TestConfig assembles everything one test run needs. The phase sequence is
// fixed before Start and never mutated by the engine.
type TestConfig struct {
	// StationID names the station executing the test.
	StationID string

	// Phases is the ordered list of work to run.
	Phases []Phase

	// TeardownPhase, if set, runs once after the record is finalized,
	// outside of normal recording. Its outcome is logged and discarded.
	TeardownPhase *Phase

	// PlugRegistry maps capability keys to factories. Defaults to an empty
	// registry.
	PlugRegistry *plugs.Registry

	// Config is handed to plug factories. Defaults to an empty Config.
	Config *conf.Config

	// StartTrigger is required; the run does not proceed without a DUT id.
	StartTrigger StartTrigger

	// RunLogger receives progress events. Defaults to NullRunLogger.
	RunLogger RunLogger

	// OutputCallbacks receive the finalized record.
	OutputCallbacks []OutputCallback

	// Metadata is copied onto the record before the run starts.
	Metadata map[string]interface{}

	// EchoLogger, if set, additionally receives every captured log line as
	// it is written (for live debug output).
	EchoLogger framework.Logger

	// CancelGrace bounds how long a cancelled phase body may take to land.
	// Zero selects DefaultCancelGrace.
	CancelGrace time.Duration

	// RepeatLimit caps Repeat attempts per phase. Zero selects
	// DefaultRepeatLimit.
	RepeatLimit int
}

// TestExecutor owns one test run end to end. Create it with
// NewTestExecutor, launch it with Start, and collect the finished record
// with Wait. Stop may be called from any goroutine to abort the run.
type TestExecutor struct {
	config    TestConfig
	capture   *framework.CapturingLogger
	state     *TestState
	plugMgr   *plugs.Manager
	phaseExec *PhaseExecutor
	runCtx    context.Context
	cancelRun context.CancelFunc
	done      chan struct{}
	started   bool
	result    *record.TestRecord
	runErr    error
}

// NewTestExecutor validates the configuration and prepares a single run.
// An executor is single-use: one call to Start, one record out.
func NewTestExecutor(config TestConfig) (*TestExecutor, error) {
	if config.StartTrigger == nil {
		return nil, errors.New("a start trigger is required")
	}
	for i := range config.Phases {
		p := &config.Phases[i]
		if p.Name == "" || p.Body == nil {
			return nil, fmt.Errorf("phase %d is missing a name or a body", i)
		}
		if _, err := measure.NewCollection(p.Measurements, nil); err != nil {
			return nil, fmt.Errorf("phase %q: %w", p.Name, err)
		}
	}
	if config.PlugRegistry == nil {
		config.PlugRegistry = plugs.NewRegistry()
	}
	if config.Config == nil {
		config.Config = conf.New()
	}
	if config.RunLogger == nil {
		config.RunLogger = NullRunLogger()
	}
	if config.RepeatLimit <= 0 {
		config.RepeatLimit = DefaultRepeatLimit
	}

	capture := framework.NewCapturingLogger(config.EchoLogger)
	rec := record.New(config.StationID)
	for key, value := range config.Metadata {
		rec.SetMetadata(key, value)
	}
	state := NewTestState(rec, capture)
	plugMgr := plugs.NewManager(config.PlugRegistry, config.Config, capture)
	runCtx, cancelRun := context.WithCancel(context.Background())

	return &TestExecutor{
		config:    config,
		capture:   capture,
		state:     state,
		plugMgr:   plugMgr,
		phaseExec: NewPhaseExecutor(state, plugMgr, capture, config.CancelGrace),
		runCtx:    runCtx,
		cancelRun: cancelRun,
		done:      make(chan struct{}),
	}, nil
}

// Start launches the run on its own control goroutine.
func (x *TestExecutor) Start() error {
	if x.started {
		return errors.New("test executor has already been started")
	}
	x.started = true
	go x.control()
	return nil
}

// Wait blocks until the control goroutine ends and returns the finalized
// record. A non-nil error indicates a programming error (for example a
// finalization guard), not a test failure; test failures are expressed in
// the record's outcome.
func (x *TestExecutor) Wait() (*record.TestRecord, error) {
	<-x.done
	return x.result, x.runErr
}

// Run is shorthand for Start followed by Wait.
func (x *TestExecutor) Run() (*record.TestRecord, error) {
	if err := x.Start(); err != nil {
		return nil, err
	}
	return x.Wait()
}

// Stop requests early termination: the in-flight phase (or the start
// trigger wait) is cancelled, the run is driven to an Aborted outcome, and
// the record is still finalized and delivered. Safe to call from any
// goroutine, any number of times, even when no phase is running.
func (x *TestExecutor) Stop() {
	x.phaseExec.Stop()
	x.cancelRun()
}

// control is the run's control goroutine: trigger, plug init, phase loop,
// teardown, finalize, output dispatch.
func (x *TestExecutor) control() {
	defer close(x.done)
	defer x.cancelRun()

	rec := x.state.Record()

	dutID, err := x.config.StartTrigger(x.runCtx)
	if err != nil || dutID == "" {
		rec.SetDutID(unknownDutID)
		if x.phaseExec.stopRequested() || x.runCtx.Err() != nil {
			x.state.ForceTerminal(StateAborted, "StartAborted", "run was stopped before the test started")
		} else if err != nil {
			x.capture.Printf("start trigger failed: %s", err)
			x.state.ForceTerminal(StateError, errorCode(err), err.Error())
		} else {
			x.state.ForceTerminal(StateError, "BlankDutID", "start trigger returned a blank DUT id")
		}
		x.finish()
		return
	}
	rec.SetDutID(dutID)
	x.capture.Printf("starting test of DUT %q on station %q", dutID, x.config.StationID)

	if err := x.initPlugs(); err != nil {
		x.capture.Printf("plug initialization failed: %s", err)
		x.state.ForceTerminal(StateError, errorCode(err), err.Error())
		x.finish()
		return
	}

	x.runPhases()

	if !x.state.State().Terminal() {
		x.state.FinishExhausted()
	}
	x.finish()
}

// initPlugs constructs every capability referenced by any phase, in first-
// reference order. A factory failure is fatal to the run; plugs created so
// far are still torn down by finish.
func (x *TestExecutor) initPlugs() error {
	var keys []string
	for i := range x.config.Phases {
		for _, key := range x.config.Phases[i].Plugs {
			if !slices.Contains(keys, key) {
				keys = append(keys, key)
			}
		}
	}
	for _, key := range keys {
		if _, err := x.plugMgr.EnsureCreated(key); err != nil {
			return err
		}
	}
	return nil
}

func (x *TestExecutor) runPhases() {
	for i := range x.config.Phases {
		phase := &x.config.Phases[i]
		attempt := 1
		for {
			if x.phaseExec.stopRequested() {
				x.state.ForceTerminal(StateAborted, "TestAborted", "stop requested")
				return
			}
			if err := x.state.MarkRunning(); err != nil {
				x.capture.Printf("phase loop stopped: %s", err)
				return
			}

			x.config.RunLogger.PhaseStarted(phase.Name, attempt)
			started := time.Now()
			outcome := x.phaseExec.Execute(x.runCtx, phase, attempt)

			if outcome.Kind == OutcomeSkipped {
				x.state.Apply(outcome)
				x.config.RunLogger.PhaseSkipped(phase.Name, "run_if returned false")
				x.capture.Printf("phase %q skipped", phase.Name)
				break
			}
			x.config.RunLogger.PhaseFinished(phase.Name, attempt, outcome, time.Since(started))

			if x.state.Apply(outcome).Terminal() {
				return
			}
			if outcome.Kind == OutcomeRepeat {
				attempt++
				if attempt > x.config.RepeatLimit {
					limitErr := &RepeatLimitError{Phase: phase.Name, Limit: x.config.RepeatLimit}
					x.capture.Printf("%s", limitErr)
					x.state.Apply(PhaseOutcome{Kind: OutcomeRaised, Err: limitErr})
					return
				}
				x.capture.Printf("phase %q requested repeat; starting attempt %d", phase.Name, attempt)
				continue
			}
			break
		}
	}
}

// finish always runs, whatever path the run took: teardown, log capture,
// finalization, output dispatch, and the optional teardown-only phase.
func (x *TestExecutor) finish() {
	if err := x.plugMgr.TeardownAll(); err != nil {
		x.state.DowngradeForTeardownFailure(err)
	}

	rec := x.state.Record()
	rec.SetLogs(x.capture.Output())

	finalized, err := x.state.Finalize()
	if err != nil {
		x.runErr = err
		return
	}
	x.result = finalized

	x.config.RunLogger.TestFinished(finalized)
	for i, callback := range x.config.OutputCallbacks {
		if cbErr := callback(finalized); cbErr != nil {
			x.capture.Printf("output callback %d failed: %s", i, cbErr)
		}
	}

	if x.config.TeardownPhase != nil {
		x.runTeardownPhase()
	}
}

// runTeardownPhase executes the configured teardown-only phase outside of
// normal recording: no PhaseRecord, no state transition, outcome logged
// only. It runs on a fresh context so it still executes after a Stop.
func (x *TestExecutor) runTeardownPhase() {
	phase := x.config.TeardownPhase
	collection, err := measure.NewCollection(phase.Measurements, x.capture)
	if err != nil {
		x.capture.Printf("teardown phase %q not run: %s", phase.Name, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), phaseTimeout(phase))
	defer cancel()
	run := newPhaseRun(ctx, phase, collection, x.plugMgr, x.phaseExec.SharedData(), x.capture)
	defer run.drainCleanups()

	verdict, err := runBodyRecovering(phase, run)
	if err != nil {
		x.capture.Printf("teardown phase %q raised: %s", phase.Name, err)
		return
	}
	x.capture.Printf("teardown phase %q finished with %s", phase.Name, verdict)
}

func runBodyRecovering(phase *Phase, run *PhaseRun) (verdict Verdict, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return phase.Body(run)
}

func phaseTimeout(phase *Phase) time.Duration {
	if phase.Timeout > 0 {
		return phase.Timeout
	}
	return DefaultPhaseTimeout
}
