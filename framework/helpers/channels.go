package helpers

import (
	"time"

	"github.com/hwtest/station-harness/framework/opt"
)

// TestContext is the subset of testing.T used by the helpers in this
// package, so they can also be called with any compatible test scope type.
type TestContext interface {
	Errorf(format string, args ...interface{})
	FailNow()
	Helper()
}

// NonBlockingSend is a shortcut for using select to do a non-blocking send.
// It returns true on success or false if the channel was full.
func NonBlockingSend[V any](ch chan<- V, value V) bool {
	select {
	case ch <- value:
		return true
	default:
		return false
	}
}

// TryReceive is a shortcut for using select to do a receive with timeout.
// It returns a Maybe that has a value if one was available, or no value if
// it timed out.
func TryReceive[V any](ch <-chan V, timeout time.Duration) opt.Maybe[V] {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	select {
	case value := <-ch:
		return opt.Some(value)
	case <-deadline.C:
		return opt.None[V]()
	}
}

// RequireValue tries to receive a value and returns it if successful, or
// causes the test to fail and terminate immediately if it timed out.
func RequireValue[V any](t TestContext, ch <-chan V, timeout time.Duration) V {
	t.Helper()
	maybeValue := TryReceive(ch, timeout)
	if !maybeValue.IsDefined() {
		var empty V
		t.Errorf("timed out waiting for value of type %T", empty)
		t.FailNow()
	}
	return maybeValue.Value()
}

// RequireNoMoreValues tries to receive a value within the given timeout, and
// causes the test to fail and terminate immediately if one was received.
func RequireNoMoreValues[V any](t TestContext, ch <-chan V, timeout time.Duration) {
	t.Helper()
	if value := TryReceive(ch, timeout); value.IsDefined() {
		t.Errorf("received unexpected value: %v", value.Value())
		t.FailNow()
	}
}
