package station

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hwtest/station-harness/framework/helpers"
	"github.com/hwtest/station-harness/record"
)

// channelRunLogger forwards each progress event as a string, so tests can
// consume them with the channel helpers.
type channelRunLogger struct {
	events chan string
}

func newChannelRunLogger() *channelRunLogger {
	return &channelRunLogger{events: make(chan string, 100)}
}

func (c *channelRunLogger) PhaseStarted(name string, attempt int) {
	c.events <- fmt.Sprintf("started %s %d", name, attempt)
}

func (c *channelRunLogger) PhaseFinished(name string, attempt int, outcome PhaseOutcome, _ time.Duration) {
	c.events <- fmt.Sprintf("finished %s %d %s", name, attempt, outcome)
}

func (c *channelRunLogger) PhaseSkipped(name string, reason string) {
	c.events <- fmt.Sprintf("skipped %s (%s)", name, reason)
}

func (c *channelRunLogger) TestFinished(rec *record.TestRecord) {
	c.events <- fmt.Sprintf("test finished %s", rec.Outcome)
}

func TestMultiRunLoggerFansOut(t *testing.T) {
	first := newChannelRunLogger()
	second := newChannelRunLogger()
	multi := &MultiRunLogger{Loggers: []RunLogger{first, second, NullRunLogger()}}

	phase := mustPhase(t, "check", func(*PhaseRun) (Verdict, error) { return Continue, nil })
	skipped := simplePhase(t, "optional", Continue, RunIf(func(map[string]interface{}) bool {
		return false
	}))

	rec := runTest(t, TestConfig{
		Phases:    []Phase{phase, skipped},
		RunLogger: multi,
	})
	require.Equal(t, record.OutcomePass, rec.Outcome)

	for _, logger := range []*channelRunLogger{first, second} {
		assert.Equal(t, "started check 1", helpers.RequireValue(t, logger.events, time.Second))
		assert.Equal(t, "finished check 1 CONTINUE", helpers.RequireValue(t, logger.events, time.Second))
		assert.Equal(t, "started optional 1", helpers.RequireValue(t, logger.events, time.Second))
		assert.Equal(t, "skipped optional (run_if returned false)", helpers.RequireValue(t, logger.events, time.Second))
		assert.Equal(t, "test finished PASS", helpers.RequireValue(t, logger.events, time.Second))
		helpers.RequireNoMoreValues(t, logger.events, 50*time.Millisecond)
	}
}
