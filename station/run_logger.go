package station

import (
	"time"

	"github.com/hwtest/station-harness/record"
)

// RunLogger receives progress information about a test run as it happens.
// Implementations must tolerate being called from the run's control
// goroutine while the rest of the program does other things.
type RunLogger interface {
	PhaseStarted(name string, attempt int)
	PhaseFinished(name string, attempt int, outcome PhaseOutcome, elapsed time.Duration)
	PhaseSkipped(name string, reason string)
	TestFinished(rec *record.TestRecord)
}

type nullRunLogger struct{}

func (nullRunLogger) PhaseStarted(string, int)                                {}
func (nullRunLogger) PhaseFinished(string, int, PhaseOutcome, time.Duration)  {}
func (nullRunLogger) PhaseSkipped(string, string)                             {}
func (nullRunLogger) TestFinished(*record.TestRecord)                         {}

// NullRunLogger returns a RunLogger that does nothing.
func NullRunLogger() RunLogger { return nullRunLogger{} }

// MultiRunLogger fans progress information out to several loggers.
type MultiRunLogger struct {
	Loggers []RunLogger
}

func (m *MultiRunLogger) PhaseStarted(name string, attempt int) {
	for _, l := range m.Loggers {
		l.PhaseStarted(name, attempt)
	}
}

func (m *MultiRunLogger) PhaseFinished(name string, attempt int, outcome PhaseOutcome, elapsed time.Duration) {
	for _, l := range m.Loggers {
		l.PhaseFinished(name, attempt, outcome, elapsed)
	}
}

func (m *MultiRunLogger) PhaseSkipped(name string, reason string) {
	for _, l := range m.Loggers {
		l.PhaseSkipped(name, reason)
	}
}

func (m *MultiRunLogger) TestFinished(rec *record.TestRecord) {
	for _, l := range m.Loggers {
		l.TestFinished(rec)
	}
}
