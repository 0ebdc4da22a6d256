// Package brew records espresso shots by driving the scale facade through a
// pour: tare and start the timer, watch the flow rate for the pour to begin
// and end, then stop and capture the result.
package brew

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Controller is the slice of the scale driver a shot needs.
type Controller interface {
	Weight() float64
	FlowRate() float64
	ElapsedTime() time.Duration
	TareAndStartTimer(ctx context.Context) error
	StopTimer(ctx context.Context) error
}

// Shot is one recorded pour.
type Shot struct {
	GramsIn  float64 // dry dose, supplied by the operator
	GramsOut float64 // final beverage weight
	Duration time.Duration
}

// Ratio returns the brew ratio (out/in), or 0 when no dose was recorded.
func (s Shot) Ratio() float64 {
	if s.GramsIn == 0 {
		return 0
	}
	return s.GramsOut / s.GramsIn
}

// Options tunes pour detection.
type Options struct {
	PollInterval   time.Duration // sampling cadence; the scale updates at 10 Hz
	StartThreshold float64       // g/s above which the pour has begun
	StopThreshold  float64       // g/s below which the pour has ended
	MaxDuration    time.Duration // bail out on a pour that never ends
}

// DefaultOptions returns thresholds that work for typical espresso flow.
func DefaultOptions() Options {
	return Options{
		PollInterval:   100 * time.Millisecond,
		StartThreshold: 0.4,
		StopThreshold:  0.2,
		MaxDuration:    2 * time.Minute,
	}
}

// Logger records shots against one scale.
type Logger struct {
	scale Controller
	opts  Options
}

// NewLogger creates a shot logger for a connected scale.
func NewLogger(scale Controller, opts Options) *Logger {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 100 * time.Millisecond
	}
	if opts.StartThreshold <= 0 {
		opts.StartThreshold = 0.4
	}
	if opts.StopThreshold <= 0 {
		opts.StopThreshold = 0.2
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = 2 * time.Minute
	}
	return &Logger{scale: scale, opts: opts}
}

// RunShot tares the scale, starts the timer, and watches the pour until the
// flow rate falls back below the stop threshold. gramsIn is the dry dose.
// The timer is stopped before returning, also on cancellation.
func (l *Logger) RunShot(ctx context.Context, gramsIn float64) (Shot, error) {
	if err := l.scale.TareAndStartTimer(ctx); err != nil {
		return Shot{}, fmt.Errorf("brew: start shot: %w", err)
	}
	slog.Info("[brew] shot started", "grams_in", gramsIn)

	deadline := time.NewTimer(l.opts.MaxDuration)
	defer deadline.Stop()
	tick := time.NewTicker(l.opts.PollInterval)
	defer tick.Stop()

	pouring := false
	for {
		select {
		case <-ctx.Done():
			l.stopTimer()
			return Shot{}, ctx.Err()
		case <-deadline.C:
			l.stopTimer()
			return Shot{}, fmt.Errorf("brew: pour did not finish within %s", l.opts.MaxDuration)
		case <-tick.C:
		}

		rate := l.scale.FlowRate()
		if !pouring {
			if rate >= l.opts.StartThreshold {
				pouring = true
				slog.Debug("[brew] pour detected", "rate", rate)
			}
			continue
		}
		if rate <= l.opts.StopThreshold {
			break
		}
	}

	if err := l.scale.StopTimer(ctx); err != nil {
		return Shot{}, fmt.Errorf("brew: stop timer: %w", err)
	}

	shot := Shot{
		GramsIn:  gramsIn,
		GramsOut: l.scale.Weight(),
		Duration: l.scale.ElapsedTime(),
	}
	slog.Info("[brew] shot finished", "grams_out", shot.GramsOut, "duration", shot.Duration)
	return shot, nil
}

// stopTimer is the best-effort cleanup on abort paths.
func (l *Logger) stopTimer() {
	if err := l.scale.StopTimer(context.Background()); err != nil {
		slog.Warn("[brew] stop timer on abort", "error", err)
	}
}
