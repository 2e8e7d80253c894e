package record

import "github.com/hwtest/station-harness/measure"

// measureRecord keeps PhaseRecord's field list readable; the actual type is
// owned by the measure package, which seals it from a live Collection.
type measureRecord = measure.Record

// FailedMeasurements returns the names of all measurements across all phase
// records whose outcome is Fail. The engine aggregates these into the
// test-level outcome when the phase list runs to completion.
func (r *TestRecord) FailedMeasurements() []string {
	r.lock.Lock()
	defer r.lock.Unlock()
	var failed []string
	for _, phase := range r.Phases {
		for _, m := range phase.Measurements {
			if m.Outcome == measure.Fail {
				failed = append(failed, m.Name)
			}
		}
	}
	return failed
}
