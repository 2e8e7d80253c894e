// Package output contains collaborator implementations that consume
// finished test records: colored console reporting, a JSON writer, and a
// JUnit XML writer. The engine itself only knows the OutputCallback and
// RunLogger interfaces; nothing in this package is required to run a test.
package output

import (
	"fmt"
	"time"

	"github.com/fatih/color"

	"github.com/hwtest/station-harness/measure"
	"github.com/hwtest/station-harness/record"
	"github.com/hwtest/station-harness/station"
)

var consolePassColor = color.New(color.FgGreen)               //nolint:gochecknoglobals
var consoleFailColor = color.New(color.FgRed)                 //nolint:gochecknoglobals
var consoleWarnColor = color.New(color.FgYellow)              //nolint:gochecknoglobals
var consoleSkipColor = color.New(color.Faint, color.FgBlue)   //nolint:gochecknoglobals
var consoleDebugColor = color.New(color.Faint)                //nolint:gochecknoglobals

// ConsoleRunLogger writes test run progress to standard output.
type ConsoleRunLogger struct {
	// DebugOutput controls whether the run's captured log is printed with
	// the final summary.
	DebugOutput bool
}

func (c ConsoleRunLogger) PhaseStarted(name string, attempt int) {
	if attempt > 1 {
		fmt.Printf("[%s] (attempt %d)\n", name, attempt)
		return
	}
	fmt.Printf("[%s]\n", name)
}

func (c ConsoleRunLogger) PhaseFinished(name string, attempt int, outcome station.PhaseOutcome, elapsed time.Duration) {
	switch outcome.Kind {
	case station.OutcomeContinue, station.OutcomeRepeat:
		fmt.Printf("  %s (%.3fs)\n", outcome.Kind, elapsed.Seconds())
	case station.OutcomeRaised:
		_, _ = consoleFailColor.Printf("  RAISED: %s (%.3fs)\n", outcome.Err, elapsed.Seconds())
	default:
		_, _ = consoleFailColor.Printf("  %s (%.3fs)\n", outcome.Kind, elapsed.Seconds())
	}
}

func (c ConsoleRunLogger) PhaseSkipped(name string, reason string) {
	if reason == "" {
		_, _ = consoleSkipColor.Printf("  SKIPPED: %s\n", name)
		return
	}
	_, _ = consoleSkipColor.Printf("  SKIPPED: %s (%s)\n", name, reason)
}

func (c ConsoleRunLogger) TestFinished(rec *record.TestRecord) {
	fmt.Println()
	PrintSummary(rec)
	if c.DebugOutput && len(rec.Logs) > 0 {
		_, _ = consoleDebugColor.Println(rec.Logs.ToString("    DEBUG "))
	}
}

// PrintSummary writes the terminal outcome of a finished record, with
// failed measurements and outcome details spelled out.
func PrintSummary(rec *record.TestRecord) {
	headline := fmt.Sprintf("%s: DUT %s on %s (%.3fs)",
		rec.Outcome, rec.DutID, rec.StationID, rec.EndTime.Sub(rec.StartTime).Seconds())
	if rec.Outcome == record.OutcomePass {
		_, _ = consolePassColor.Println(headline)
	} else {
		_, _ = consoleFailColor.Println(headline)
	}

	for _, detail := range rec.OutcomeDetails {
		_, _ = consoleWarnColor.Printf("  %s: %s\n", detail.Code, detail.Description)
	}
	for _, phase := range rec.Phases {
		for _, m := range phase.Measurements {
			if m.Outcome != measure.Fail {
				continue
			}
			_, _ = consoleFailColor.Printf("  * %s/%s = %v failed: %v\n",
				phase.Name, m.Name, m.Value, m.Validators)
		}
	}
}
