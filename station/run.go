package station

import (
	"context"
	"sync"
	"time"

	"github.com/hwtest/station-harness/framework"
	"github.com/hwtest/station-harness/measure"
	"github.com/hwtest/station-harness/plugs"
	"github.com/hwtest/station-harness/record"
)

// SharedData is the key/value store shared by all phases of one run and
// consulted by run_if predicates.
//
// It is safe for concurrent use. Phases never run concurrently, but a
// timed-out body that did not honor cancellation is abandoned rather than
// killed, and may still be writing while the control goroutine evaluates a
// later phase's run_if predicate or a later body reads.
type SharedData struct {
	lock   sync.Mutex
	values map[string]interface{}
}

func newSharedData() *SharedData {
	return &SharedData{values: make(map[string]interface{})}
}

// Get returns the value stored under key, or nil if none.
func (d *SharedData) Get(key string) interface{} {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.values[key]
}

// Set stores a value under key, replacing any previous value.
func (d *SharedData) Set(key string, value interface{}) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.values[key] = value
}

// Snapshot returns a copy of the current contents. The engine hands
// snapshots, never the live store, to run_if predicates.
func (d *SharedData) Snapshot() map[string]interface{} {
	d.lock.Lock()
	defer d.lock.Unlock()
	copied := make(map[string]interface{}, len(d.values))
	for k, v := range d.values {
		copied[k] = v
	}
	return copied
}

// PhaseRun is the scope handed to a phase body for the duration of one
// execution attempt. It gives the body access to its cancellation context,
// its measurement collection, borrowed plug instances, the shared phase
// data store, and a Defer stack for scoped resources.
type PhaseRun struct {
	ctx          context.Context
	phase        *Phase
	measurements *measure.Collection
	plugs        *plugs.Manager
	data         *SharedData
	logger       framework.Logger

	lock        sync.Mutex
	cleanups    []func()
	attachments []record.Attachment
}

func newPhaseRun(
	ctx context.Context,
	phase *Phase,
	measurements *measure.Collection,
	plugManager *plugs.Manager,
	data *SharedData,
	logger framework.Logger,
) *PhaseRun {
	return &PhaseRun{
		ctx:          ctx,
		phase:        phase,
		measurements: measurements,
		plugs:        plugManager,
		data:         data,
		logger:       logger,
	}
}

// Context returns the phase's cancellation context. It is cancelled when
// the phase times out or the run is stopped; bodies should check it at
// natural suspension points.
func (r *PhaseRun) Context() context.Context { return r.ctx }

// Canceled is a convenience cooperative-cancellation check.
func (r *PhaseRun) Canceled() bool { return r.ctx.Err() != nil }

// Sleep waits for the given duration or until the phase is cancelled,
// whichever comes first. It returns the context error on cancellation.
func (r *PhaseRun) Sleep(d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-r.ctx.Done():
		return r.ctx.Err()
	}
}

// Measurements returns the live value store for this execution attempt.
func (r *PhaseRun) Measurements() *measure.Collection { return r.measurements }

// Plug borrows a capability instance declared by this phase. The borrow is
// only valid for the duration of the phase's execution.
func (r *PhaseRun) Plug(key string) (interface{}, error) {
	return r.plugs.Get(key)
}

// Data returns the shared phase-data store. It is shared by all phases of
// the run and visible, as a snapshot, to run_if predicates.
func (r *PhaseRun) Data() *SharedData { return r.data }

// Logf writes a message to the run's captured log, tagged with the phase
// name.
func (r *PhaseRun) Logf(format string, args ...interface{}) {
	r.logger.Printf(format, args...)
}

// Defer schedules a cleanup function that is guaranteed to run when the
// phase ends, whatever the outcome was, in reverse registration order.
// Unlike a Go defer statement it can be used from helper functions whose
// own stack frames return before the phase ends.
func (r *PhaseRun) Defer(cleanup func()) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.cleanups = append(r.cleanups, cleanup)
}

// Attach stores a named blob on the phase's record.
func (r *PhaseRun) Attach(name, mimeType string, data []byte) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.attachments = append(r.attachments, record.Attachment{
		Name:     name,
		MimeType: mimeType,
		Data:     data,
	})
}

// drainCleanups runs the scoped-resource stack, LIFO. A panicking cleanup
// is logged and does not prevent the remaining cleanups from running. The
// executor calls this on every exit path, including timeout.
func (r *PhaseRun) drainCleanups() {
	r.lock.Lock()
	cleanups := r.cleanups
	r.cleanups = nil
	r.lock.Unlock()
	for i := len(cleanups) - 1; i >= 0; i-- {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Printf("panic in phase cleanup: %v", rec)
				}
			}()
			cleanups[i]()
		}()
	}
}

func (r *PhaseRun) attachmentList() []record.Attachment {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]record.Attachment(nil), r.attachments...)
}
