// Package framework contains low-level infrastructure shared by the rest of
// the harness: the Logger interface used for dependency-injected logging,
// and CapturingLogger, which accumulates a test run's log output so it can
// be attached to the finished test record.
//
// Domain-specific code lives elsewhere: the engine itself is in the station
// package, measurements in measure, capability management in plugs, and the
// record model in record.
package framework
