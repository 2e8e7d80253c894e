// Package record defines the account of one test run: the TestRecord built
// up while the run executes and sealed exactly once when it ends, plus the
// per-attempt PhaseRecords appended to it.
package record

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hwtest/station-harness/framework"
)

// Finalization guard errors. These indicate programming errors in the
// caller and are raised synchronously, never swallowed.
var (
	ErrAlreadyFinalized  = errors.New("test record is already finalized")
	ErrBlankDutID        = errors.New("test record has no DUT id")
	ErrMissingOutcome    = errors.New("test record has no outcome")
	ErrOutcomeAlreadySet = errors.New("test record outcome is already set")
)

// Outcome is the terminal result of a whole test run.
type Outcome string

const (
	OutcomePass    Outcome = "PASS"
	OutcomeFail    Outcome = "FAIL"
	OutcomeError   Outcome = "ERROR"
	OutcomeTimeout Outcome = "TIMEOUT"
	OutcomeAborted Outcome = "ABORTED"
)

// OutcomeDetail is one code/description pair explaining a non-Pass outcome,
// for example the type name and message of the error a phase raised.
type OutcomeDetail struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// Attachment is a named blob captured by a phase (a raw instrument trace,
// an image, a log file).
type Attachment struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType,omitempty"`
	Data     []byte `json:"data"`
}

// PhaseRecord is the sealed account of one phase execution attempt. It is
// created when the phase begins and appended, never mutated, to the test
// record when the phase ends. Repeated phases produce one record per
// attempt, distinguished by the Attempt counter.
type PhaseRecord struct {
	Name         string           `json:"name"`
	Doc          string           `json:"doc,omitempty"`
	Attempt      int              `json:"attempt"`
	StartTime    time.Time        `json:"startTime"`
	EndTime      time.Time        `json:"endTime"`
	Outcome      string           `json:"outcome"`
	Error        string           `json:"error,omitempty"`
	Measurements []measureRecord  `json:"measurements,omitempty"`
	Attachments  []Attachment     `json:"attachments,omitempty"`
}

// measureRecord is declared in measurements.go as an alias to keep the
// record package's JSON model in one place.

// TestRecord is the complete account of one test run. EndTime and Outcome
// are write-once.
type TestRecord struct {
	RunID          string                   `json:"runId"`
	DutID          string                   `json:"dutId"`
	StationID      string                   `json:"stationId"`
	StartTime      time.Time                `json:"startTime"`
	EndTime        time.Time                `json:"endTime"`
	Outcome        Outcome                  `json:"outcome"`
	OutcomeDetails []OutcomeDetail          `json:"outcomeDetails,omitempty"`
	Metadata       map[string]interface{}   `json:"metadata,omitempty"`
	Phases         []PhaseRecord            `json:"phases"`
	Logs           framework.CapturedOutput `json:"logs,omitempty"`

	lock      sync.Mutex
	finalized bool
}

// New creates the record for a run that is starting now.
func New(stationID string) *TestRecord {
	return &TestRecord{
		RunID:     uuid.NewString(),
		StationID: stationID,
		StartTime: time.Now(),
		Metadata:  make(map[string]interface{}),
	}
}

// SetDutID stores the device identifier returned by the start trigger.
func (r *TestRecord) SetDutID(dutID string) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.DutID = dutID
}

// SetMetadata stores one metadata entry.
func (r *TestRecord) SetMetadata(key string, value interface{}) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.Metadata[key] = value
}

// AppendPhase appends a sealed phase record. Records appear strictly in the
// order phase attempts were made.
func (r *TestRecord) AppendPhase(phase PhaseRecord) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.Phases = append(r.Phases, phase)
}

// AddOutcomeDetail appends one code/description pair.
func (r *TestRecord) AddOutcomeDetail(code, description string) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.OutcomeDetails = append(r.OutcomeDetails, OutcomeDetail{Code: code, Description: description})
}

// SetOutcome stores the terminal outcome. Setting it twice is a programming
// error.
func (r *TestRecord) SetOutcome(outcome Outcome) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.Outcome != "" {
		return fmt.Errorf("%w (have %s, got %s)", ErrOutcomeAlreadySet, r.Outcome, outcome)
	}
	r.Outcome = outcome
	return nil
}

// ReplaceOutcome overwrites the outcome regardless of its current value.
// Only the engine uses this, for the documented teardown-failure downgrade
// and for forcing Aborted on interrupt; it still refuses to touch a
// finalized record.
func (r *TestRecord) ReplaceOutcome(outcome Outcome) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.finalized {
		return ErrAlreadyFinalized
	}
	r.Outcome = outcome
	return nil
}

// GetOutcome returns the outcome set so far ("" if none).
func (r *TestRecord) GetOutcome() Outcome {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.Outcome
}

// SetLogs attaches the run's captured log output.
func (r *TestRecord) SetLogs(logs framework.CapturedOutput) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.Logs = logs
}

// Finalize seals the record: it requires a non-blank DUT id and an outcome,
// stamps the end time, and can only succeed once.
func (r *TestRecord) Finalize() error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.finalized {
		return ErrAlreadyFinalized
	}
	if r.Outcome == "" {
		return ErrMissingOutcome
	}
	if r.DutID == "" {
		return ErrBlankDutID
	}
	r.EndTime = time.Now()
	r.finalized = true
	return nil
}

// Finalized reports whether Finalize has succeeded.
func (r *TestRecord) Finalized() bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.finalized
}
