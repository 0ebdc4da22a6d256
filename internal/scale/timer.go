package scale

import "time"

// TimerState is the local shot-timer state.
type TimerState int

const (
	// TimerIdle: no accumulated time, not counting.
	TimerIdle TimerState = iota
	// TimerRunning: counting since startedAt.
	TimerRunning
	// TimerStopped: paused with accumulated time; reset returns to idle.
	TimerStopped
)

func (s TimerState) String() string {
	switch s {
	case TimerIdle:
		return "idle"
	case TimerRunning:
		return "running"
	case TimerStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Timer tracks the shot timer locally. The scale offers no confirmed way to
// read its own timer back, so local computation is authoritative. Timer is
// not safe for concurrent use; the Scale facade guards it with its mutex.
type Timer struct {
	now func() time.Time

	state       TimerState
	accumulated time.Duration
	startedAt   time.Time
}

// NewTimer returns an idle timer on the wall clock.
func NewTimer() *Timer {
	return &Timer{now: time.Now}
}

// Start begins counting. Valid only from idle.
func (t *Timer) Start() error {
	switch t.state {
	case TimerRunning:
		return &InvalidTransitionError{Op: "start", Reason: AlreadyRunning}
	case TimerStopped:
		return &InvalidTransitionError{Op: "start", Reason: MustResetFirst}
	}
	t.startedAt = t.now()
	t.state = TimerRunning
	return nil
}

// Stop pauses counting and folds the current run into the accumulated
// total. Valid only from running.
func (t *Timer) Stop() error {
	if t.state != TimerRunning {
		return &InvalidTransitionError{Op: "stop", Reason: NotRunning}
	}
	t.accumulated += t.now().Sub(t.startedAt)
	t.state = TimerStopped
	return nil
}

// Reset clears the accumulated time and returns to idle. Valid from stopped;
// a reset while already idle is a no-op. A running timer must stop first.
func (t *Timer) Reset() error {
	if t.state == TimerRunning {
		return &InvalidTransitionError{Op: "reset", Reason: MustStopFirst}
	}
	t.accumulated = 0
	t.startedAt = time.Time{}
	t.state = TimerIdle
	return nil
}

// Elapsed returns the current timer value: the accumulated total plus the
// live run when counting. No I/O; safe to call at any frequency.
func (t *Timer) Elapsed() time.Duration {
	if t.state == TimerRunning {
		return t.accumulated + t.now().Sub(t.startedAt)
	}
	return t.accumulated
}

// Running reports whether the timer is counting.
func (t *Timer) Running() bool {
	return t.state == TimerRunning
}

// State returns the current state.
func (t *Timer) State() TimerState {
	return t.state
}

// timerSnapshot captures the full timer state so a transition that was
// applied locally can be undone when the wire write fails.
type timerSnapshot struct {
	state       TimerState
	accumulated time.Duration
	startedAt   time.Time
}

func (t *Timer) snapshot() timerSnapshot {
	return timerSnapshot{state: t.state, accumulated: t.accumulated, startedAt: t.startedAt}
}

func (t *Timer) restore(s timerSnapshot) {
	t.state = s.state
	t.accumulated = s.accumulated
	t.startedAt = s.startedAt
}
