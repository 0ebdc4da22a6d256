package scale

import (
	"errors"
	"fmt"
)

var (
	// ErrDiscoveryFailed means no matching peripheral turned up within the
	// scan window. Retry policy belongs to the caller.
	ErrDiscoveryFailed = errors.New("scale: discovery failed")
	// ErrConnectionFailed means session establishment did not complete.
	ErrConnectionFailed = errors.New("scale: connection failed")
	// ErrNotConnected is returned by commands issued without a session.
	ErrNotConnected = errors.New("scale: not connected")
	// ErrUnsupported marks operations the device likely understands but
	// whose round trip has not been confirmed against real hardware.
	ErrUnsupported = errors.New("scale: not supported")
)

// TransitionReason says why a timer operation was rejected.
type TransitionReason int

const (
	// AlreadyRunning: start requested while the timer is running.
	AlreadyRunning TransitionReason = iota
	// NotRunning: stop requested while the timer is not running.
	NotRunning
	// MustResetFirst: start requested from the stopped state; the
	// accumulated time has to be cleared before a new run.
	MustResetFirst
	// MustStopFirst: reset requested while the timer is still running.
	MustStopFirst
)

func (r TransitionReason) String() string {
	switch r {
	case AlreadyRunning:
		return "already running"
	case NotRunning:
		return "not running"
	case MustResetFirst:
		return "must reset first"
	case MustStopFirst:
		return "must stop first"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// InvalidTransitionError reports a timer operation attempted from an
// incompatible state. It is surfaced synchronously so a UI can present a
// recovery path.
type InvalidTransitionError struct {
	Op     string
	Reason TransitionReason
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("scale: invalid timer transition: %s: %s", e.Op, e.Reason)
}
