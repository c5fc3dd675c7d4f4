package daq

import (
	"errors"
	"fmt"
)

// FailureKind tags a per-cycle failure so the loop driver can decide
// continue-vs-abort without inspecting error strings. The values double as
// metric label values.
type FailureKind string

const (
	// KindConnection is a bind/connect failure during watcher construction.
	// Fatal to the worker.
	KindConnection FailureKind = "connection"
	// KindConnectionLost is a mid-run disconnect. Aborts the cycle.
	KindConnectionLost FailureKind = "connection_lost"
	// KindTimeout covers readiness, stable-state, and scope readback waits.
	KindTimeout FailureKind = "timeout"
	// KindWindowViolation means a channel updated outside the acquisition
	// window: the snapshot is torn and must be discarded.
	KindWindowViolation FailureKind = "window_violation"
	// KindInvalidWindow means the window itself is inverted (end before start).
	KindInvalidWindow FailureKind = "invalid_window"
	// KindParse is a malformed hardware timestamp.
	KindParse FailureKind = "parse"
	// KindPersistence is a sink failure after a valid snapshot was collected.
	KindPersistence FailureKind = "persistence"
)

// CycleError wraps any failure raised inside one collection cycle.
type CycleError struct {
	Kind   FailureKind
	Cavity string
	Err    error
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Cavity, e.Kind, e.Err)
}

func (e *CycleError) Unwrap() error { return e.Err }

func cycleErr(kind FailureKind, cavity, format string, args ...any) *CycleError {
	return &CycleError{Kind: kind, Cavity: cavity, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the failure kind from an error chain, or "unknown" when the
// error did not originate in a tagged cycle failure.
func KindOf(err error) FailureKind {
	var ce *CycleError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return "unknown"
}
