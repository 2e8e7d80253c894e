package station

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	m "github.com/launchdarkly/go-test-helpers/v2/matchers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hwtest/station-harness/conf"
	"github.com/hwtest/station-harness/measure"
	"github.com/hwtest/station-harness/plugs"
	"github.com/hwtest/station-harness/record"
)

func runTest(t *testing.T, config TestConfig) *record.TestRecord {
	t.Helper()
	if config.StartTrigger == nil {
		config.StartTrigger = FixedDutID("dut-1")
	}
	if config.StationID == "" {
		config.StationID = "station-1"
	}
	executor, err := NewTestExecutor(config)
	require.NoError(t, err)
	rec, err := executor.Run()
	require.NoError(t, err)
	require.True(t, rec.Finalized())
	return rec
}

func simplePhase(t *testing.T, name string, verdict Verdict, options ...PhaseOption) Phase {
	t.Helper()
	return mustPhase(t, name, func(*PhaseRun) (Verdict, error) {
		return verdict, nil
	}, options...)
}

func TestRunAllPhasesPass(t *testing.T) {
	var order []string
	phase := func(name string) Phase {
		return mustPhase(t, name, func(run *PhaseRun) (Verdict, error) {
			order = append(order, name)
			return Continue, run.Measurements().Set("value", 5)
		}, Measures(measure.New("value", measure.WithValidators(measure.Between(0, 10)))))
	}

	rec := runTest(t, TestConfig{Phases: []Phase{phase("a"), phase("b"), phase("c")}})

	assert.Equal(t, record.OutcomePass, rec.Outcome)
	assert.Equal(t, "dut-1", rec.DutID)
	assert.Equal(t, []string{"a", "b", "c"}, order)
	require.Len(t, rec.Phases, 3)
	for i, name := range []string{"a", "b", "c"} {
		assert.Equal(t, name, rec.Phases[i].Name)
		assert.Equal(t, "CONTINUE", rec.Phases[i].Outcome)
	}
}

func TestRunFailedMeasurementFailsTest(t *testing.T) {
	phase := mustPhase(t, "check", func(run *PhaseRun) (Verdict, error) {
		return Continue, run.Measurements().Set("value", 42)
	}, Measures(measure.New("value", measure.WithValidators(measure.Between(0, 10)))))
	after := simplePhase(t, "after", Continue)

	rec := runTest(t, TestConfig{Phases: []Phase{phase, after}})

	// a failing measurement does not stop the sequence, it fails the verdict
	assert.Equal(t, record.OutcomeFail, rec.Outcome)
	require.Len(t, rec.Phases, 2)
	require.Len(t, rec.OutcomeDetails, 1)
	assert.Equal(t, "MeasurementFailure", rec.OutcomeDetails[0].Code)
	assert.Contains(t, rec.OutcomeDetails[0].Description, "value")
}

type flakyFixtureError struct{ port string }

func (e *flakyFixtureError) Error() string { return "fixture unreachable on " + e.port }

func TestRunRaisedErrorStopsTestWithCode(t *testing.T) {
	raising := mustPhase(t, "boom", func(*PhaseRun) (Verdict, error) {
		return 0, &flakyFixtureError{port: "ttyUSB0"}
	})
	never := mustPhase(t, "never", func(*PhaseRun) (Verdict, error) {
		t.Error("phase after a raised error must not run")
		return Continue, nil
	})

	rec := runTest(t, TestConfig{Phases: []Phase{raising, never}})

	assert.Equal(t, record.OutcomeError, rec.Outcome)
	require.Len(t, rec.Phases, 1)
	assert.Equal(t, "RAISED", rec.Phases[0].Outcome)
	require.Len(t, rec.OutcomeDetails, 1)
	assert.Equal(t, "flakyFixtureError", rec.OutcomeDetails[0].Code)
	assert.Contains(t, rec.OutcomeDetails[0].Description, "ttyUSB0")
}

type countingPlug struct {
	calls     int
	tornDown  int
	failClose bool
}

func (p *countingPlug) TearDown() error {
	p.tornDown++
	if p.failClose {
		return errors.New("could not release")
	}
	return nil
}

func TestRunSharedPlugInstance(t *testing.T) {
	registry := plugs.NewRegistry()
	created := 0
	var instance *countingPlug
	require.NoError(t, registry.Register("meter", func(*conf.Config) (interface{}, error) {
		created++
		instance = &countingPlug{}
		return instance, nil
	}))

	usePlug := func(name string) Phase {
		return mustPhase(t, name, func(run *PhaseRun) (Verdict, error) {
			p, err := run.Plug("meter")
			if err != nil {
				return 0, err
			}
			p.(*countingPlug).calls++
			return Continue, nil
		}, RequiresPlug("meter"))
	}

	rec := runTest(t, TestConfig{
		PlugRegistry: registry,
		Phases:       []Phase{usePlug("a"), usePlug("b")},
	})

	assert.Equal(t, record.OutcomePass, rec.Outcome)
	assert.Equal(t, 1, created, "two phases sharing a key get one instance")
	assert.Equal(t, 2, instance.calls)
	assert.Equal(t, 1, instance.tornDown)
}

func TestRunPlugFactoryFailureIsFatal(t *testing.T) {
	registry := plugs.NewRegistry()
	require.NoError(t, registry.Register("meter", func(*conf.Config) (interface{}, error) {
		return nil, errors.New("no such device")
	}))

	rec := runTest(t, TestConfig{
		PlugRegistry: registry,
		Phases: []Phase{mustPhase(t, "never", func(*PhaseRun) (Verdict, error) {
			t.Error("phases must not run when a plug factory fails")
			return Continue, nil
		}, RequiresPlug("meter"))},
	})

	assert.Equal(t, record.OutcomeError, rec.Outcome)
	assert.Empty(t, rec.Phases)
}

func TestRunTimeoutTerminatesTest(t *testing.T) {
	slow := mustPhase(t, "slow", func(run *PhaseRun) (Verdict, error) {
		return Continue, run.Sleep(10 * time.Second)
	}, WithTimeout(50*time.Millisecond))
	never := simplePhase(t, "never", Continue)

	started := time.Now()
	rec := runTest(t, TestConfig{
		Phases:      []Phase{slow, never},
		CancelGrace: 100 * time.Millisecond,
	})

	assert.Less(t, time.Since(started), 5*time.Second)
	assert.Equal(t, record.OutcomeTimeout, rec.Outcome)
	require.Len(t, rec.Phases, 1)
	assert.Equal(t, "TIMEOUT", rec.Phases[0].Outcome)
}

func TestRunRepeatProducesOneRecordPerAttempt(t *testing.T) {
	attempts := 0
	flaky := mustPhase(t, "flaky", func(run *PhaseRun) (Verdict, error) {
		attempts++
		if attempts < 3 {
			return Repeat, nil
		}
		return Continue, run.Measurements().Set("value", attempts)
	}, Measures(measure.New("value")))

	rec := runTest(t, TestConfig{Phases: []Phase{flaky}})

	assert.Equal(t, record.OutcomePass, rec.Outcome)
	require.Len(t, rec.Phases, 3)
	assert.Equal(t, "REPEAT", rec.Phases[0].Outcome)
	assert.Equal(t, 1, rec.Phases[0].Attempt)
	assert.Equal(t, "REPEAT", rec.Phases[1].Outcome)
	assert.Equal(t, 2, rec.Phases[1].Attempt)
	assert.Equal(t, "CONTINUE", rec.Phases[2].Outcome)
	assert.Equal(t, 3, rec.Phases[2].Attempt)
}

func TestRunRepeatLimit(t *testing.T) {
	hopeless := simplePhase(t, "hopeless", Repeat)

	rec := runTest(t, TestConfig{
		Phases:      []Phase{hopeless},
		RepeatLimit: 3,
	})

	assert.Equal(t, record.OutcomeError, rec.Outcome)
	assert.Len(t, rec.Phases, 3)
	require.Len(t, rec.OutcomeDetails, 1)
	assert.Equal(t, "RepeatLimitError", rec.OutcomeDetails[0].Code)
}

func TestRunStopFromAnotherGoroutine(t *testing.T) {
	blocked := mustPhase(t, "blocked", func(run *PhaseRun) (Verdict, error) {
		return Continue, run.Sleep(10 * time.Second)
	})
	never := simplePhase(t, "never", Continue)

	executor, err := NewTestExecutor(TestConfig{
		StationID:    "station-1",
		StartTrigger: FixedDutID("dut-1"),
		Phases:       []Phase{blocked, never},
		CancelGrace:  100 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, executor.Start())

	go func() {
		time.Sleep(50 * time.Millisecond)
		executor.Stop()
	}()

	rec, err := executor.Wait()
	require.NoError(t, err)
	assert.Equal(t, record.OutcomeAborted, rec.Outcome)
	assert.True(t, rec.Finalized(), "an aborted run still delivers a finalized record")
	require.Len(t, rec.Phases, 1)
	assert.Equal(t, "ABORTED", rec.Phases[0].Outcome)
}

func TestRunStopDuringStartTrigger(t *testing.T) {
	executor, err := NewTestExecutor(TestConfig{
		StationID: "station-1",
		StartTrigger: func(ctx context.Context) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
		Phases: []Phase{simplePhase(t, "never", Continue)},
	})
	require.NoError(t, err)
	require.NoError(t, executor.Start())
	executor.Stop()

	rec, err := executor.Wait()
	require.NoError(t, err)
	assert.Equal(t, record.OutcomeAborted, rec.Outcome)
	assert.Equal(t, "UNKNOWN", rec.DutID)
	assert.Empty(t, rec.Phases)
}

func TestRunTriggerFailureStillDeliversRecord(t *testing.T) {
	rec, err := func() (*record.TestRecord, error) {
		executor, err := NewTestExecutor(TestConfig{
			StationID: "station-1",
			StartTrigger: func(context.Context) (string, error) {
				return "", errors.New("barcode scanner offline")
			},
			Phases: []Phase{simplePhase(t, "never", Continue)},
		})
		require.NoError(t, err)
		return executor.Run()
	}()
	require.NoError(t, err)

	assert.Equal(t, record.OutcomeError, rec.Outcome)
	assert.Equal(t, "UNKNOWN", rec.DutID)
	assert.True(t, rec.Finalized())
	require.NotEmpty(t, rec.OutcomeDetails)
	assert.Contains(t, rec.OutcomeDetails[0].Description, "barcode scanner offline")
}

func TestRunTeardownFailureDowngradesPass(t *testing.T) {
	registry := plugs.NewRegistry()
	require.NoError(t, registry.Register("meter", func(*conf.Config) (interface{}, error) {
		return &countingPlug{failClose: true}, nil
	}))

	rec := runTest(t, TestConfig{
		PlugRegistry: registry,
		Phases:       []Phase{simplePhase(t, "ok", Continue, RequiresPlug("meter"))},
	})

	assert.Equal(t, record.OutcomeError, rec.Outcome)
	require.NotEmpty(t, rec.OutcomeDetails)
	assert.Equal(t, "TeardownError", rec.OutcomeDetails[0].Code)
}

func TestRunOutputCallbackErrorsAreIsolated(t *testing.T) {
	received := 0
	rec := runTest(t, TestConfig{
		Phases: []Phase{simplePhase(t, "ok", Continue)},
		OutputCallbacks: []OutputCallback{
			func(*record.TestRecord) error { return errors.New("disk full") },
			func(r *record.TestRecord) error {
				received++
				assert.True(t, r.Finalized())
				return nil
			},
		},
	})

	assert.Equal(t, record.OutcomePass, rec.Outcome)
	assert.Equal(t, 1, received, "a failing callback must not block the next one")
}

func TestRunTeardownPhaseAlwaysRuns(t *testing.T) {
	tornDown := false
	teardown := mustPhase(t, "teardown", func(*PhaseRun) (Verdict, error) {
		tornDown = true
		return Continue, nil
	})

	rec := runTest(t, TestConfig{
		Phases:        []Phase{simplePhase(t, "boom", Stop)},
		TeardownPhase: &teardown,
	})

	assert.Equal(t, record.OutcomeFail, rec.Outcome)
	assert.True(t, tornDown, "teardown phase runs even after a failing phase")
	// the teardown phase is not part of the record
	require.Len(t, rec.Phases, 1)
	assert.Equal(t, "boom", rec.Phases[0].Name)
}

func TestRunRecordJSONShape(t *testing.T) {
	phase := mustPhase(t, "check", func(run *PhaseRun) (Verdict, error) {
		return Continue, run.Measurements().Set("voltage", 3.3)
	}, Measures(measure.New("voltage",
		measure.WithUnits("V"),
		measure.WithValidators(measure.Between(3.0, 3.6)))))

	rec := runTest(t, TestConfig{
		Phases:   []Phase{phase},
		Metadata: map[string]interface{}{"operator": "line-3"},
	})

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	m.In(t).Assert(data, m.AllOf(
		m.JSONProperty("stationId").Should(m.Equal("station-1")),
		m.JSONProperty("dutId").Should(m.Equal("dut-1")),
		m.JSONProperty("outcome").Should(m.Equal("PASS")),
		m.JSONProperty("metadata").Should(m.JSONProperty("operator").Should(m.Equal("line-3"))),
		m.JSONProperty("phases").Should(m.Items(
			m.AllOf(
				m.JSONProperty("name").Should(m.Equal("check")),
				m.JSONProperty("outcome").Should(m.Equal("CONTINUE")),
				m.JSONProperty("measurements").Should(m.Items(
					m.AllOf(
						m.JSONProperty("name").Should(m.Equal("voltage")),
						m.JSONProperty("units").Should(m.Equal("V")),
						m.JSONProperty("outcome").Should(m.Equal("PASS")),
						m.JSONProperty("value").Should(m.JSONEqual(3.3)),
					),
				)),
			),
		)),
	))
	assert.NotEmpty(t, rec.RunID)
}

func TestRunSharedDataVisibleToRunIf(t *testing.T) {
	first := mustPhase(t, "first", func(run *PhaseRun) (Verdict, error) {
		run.Data().Set("calibrated", true)
		return Continue, nil
	})
	conditional := simplePhase(t, "conditional", Continue, RunIf(func(data map[string]interface{}) bool {
		ok, _ := data["calibrated"].(bool)
		return ok
	}))
	skipped := simplePhase(t, "skipped", Continue, RunIf(func(data map[string]interface{}) bool {
		return data["never"] != nil
	}))

	rec := runTest(t, TestConfig{Phases: []Phase{first, conditional, skipped}})

	assert.Equal(t, record.OutcomePass, rec.Outcome)
	require.Len(t, rec.Phases, 2)
	assert.Equal(t, "first", rec.Phases[0].Name)
	assert.Equal(t, "conditional", rec.Phases[1].Name)
}

func TestNewTestExecutorValidation(t *testing.T) {
	t.Run("missing trigger", func(t *testing.T) {
		_, err := NewTestExecutor(TestConfig{Phases: []Phase{simplePhase(t, "p", Continue)}})
		assert.Error(t, err)
	})

	t.Run("nameless phase", func(t *testing.T) {
		_, err := NewTestExecutor(TestConfig{
			StartTrigger: FixedDutID("dut-1"),
			Phases:       []Phase{{Body: func(*PhaseRun) (Verdict, error) { return Continue, nil }}},
		})
		assert.Error(t, err)
	})

	t.Run("duplicate measurement names", func(t *testing.T) {
		phase := Phase{
			Name:         "p",
			Body:         func(*PhaseRun) (Verdict, error) { return Continue, nil },
			Measurements: []measure.Declaration{measure.New("x"), measure.New("x")},
		}
		_, err := NewTestExecutor(TestConfig{StartTrigger: FixedDutID("dut-1"), Phases: []Phase{phase}})
		assert.Error(t, err)
	})

	t.Run("double start", func(t *testing.T) {
		executor, err := NewTestExecutor(TestConfig{StartTrigger: FixedDutID("dut-1")})
		require.NoError(t, err)
		require.NoError(t, executor.Start())
		assert.Error(t, executor.Start())
		_, err = executor.Wait()
		require.NoError(t, err)
	})
}

func TestRunCapturedLogsOnRecord(t *testing.T) {
	phase := mustPhase(t, "chatty", func(run *PhaseRun) (Verdict, error) {
		run.Logf("probing pin %d", 4)
		return Continue, nil
	})

	rec := runTest(t, TestConfig{Phases: []Phase{phase}})

	found := false
	for _, msg := range rec.Logs {
		if msg.Message == "[chatty] probing pin 4" {
			found = true
		}
	}
	assert.True(t, found, "phase log lines are captured with the phase prefix, got %v", rec.Logs)
}
