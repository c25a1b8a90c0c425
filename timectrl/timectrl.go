package timectrl

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrInvalidStep is returned when a non-positive step is requested.
var ErrInvalidStep = errors.New("simulation step must be positive")

// SimClock is the read-only view of simulation time handed to components.
// Only the cycle driver advances the clock.
type SimClock interface {
	// Now returns the current simulation time.
	Now() time.Time
	// Elapsed returns mission time since the start of the run.
	Elapsed() time.Duration
	// Step returns the current integration step in seconds.
	Step() float64
}

// Mode describes how the TimeController paces simulation time.
type Mode int

const (
	// RealTime holds each cycle until wall-clock time catches up.
	RealTime Mode = iota
	// Accelerated advances as quickly as the cycles can run.
	Accelerated
)

func (m Mode) String() string {
	if m == RealTime {
		return "realtime"
	}
	return "accelerated"
}

// TimeController owns mission time and the (possibly variable) step size.
// It implements SimClock.
type TimeController struct {
	mu        sync.RWMutex
	StartTime time.Time
	Mode      Mode

	tick        time.Duration
	currentTime time.Time
	steps       int

	// wallStart anchors RealTime pacing; reset on Resume.
	wallStart time.Time
	simAnchor time.Time

	paused   bool
	resumeCh chan struct{}

	listeners []func(time.Time)
}

// NewTimeController constructs a controller.
func NewTimeController(start time.Time, tick time.Duration, mode Mode) *TimeController {
	return &TimeController{
		StartTime:   start,
		Mode:        mode,
		tick:        tick,
		currentTime: start,
		simAnchor:   start,
	}
}

// Now returns the current simulation time. Implements SimClock.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// Elapsed returns mission time. Implements SimClock.
func (tc *TimeController) Elapsed() time.Duration {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime.Sub(tc.StartTime)
}

// Step returns Δt in seconds. Implements SimClock.
func (tc *TimeController) Step() float64 {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.tick.Seconds()
}

// Tick returns Δt as a duration.
func (tc *TimeController) Tick() time.Duration {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.tick
}

// Steps returns how many times Advance has been called.
func (tc *TimeController) Steps() int {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.steps
}

// SetTick changes Δt for subsequent steps.
func (tc *TimeController) SetTick(d time.Duration) error {
	if d <= 0 {
		return ErrInvalidStep
	}
	tc.mu.Lock()
	tc.tick = d
	tc.mu.Unlock()
	return nil
}

// SetTime moves simulation time to t without notifying listeners.
func (tc *TimeController) SetTime(t time.Time) {
	tc.mu.Lock()
	tc.currentTime = t
	tc.simAnchor = t
	tc.wallStart = time.Time{}
	tc.mu.Unlock()
}

// AddListener registers a callback invoked after every Advance.
func (tc *TimeController) AddListener(fn func(time.Time)) {
	tc.mu.Lock()
	tc.listeners = append(tc.listeners, fn)
	tc.mu.Unlock()
}

// Advance moves simulation time forward by Δt and notifies listeners with
// the new time.
func (tc *TimeController) Advance() time.Time {
	tc.mu.Lock()
	tc.currentTime = tc.currentTime.Add(tc.tick)
	tc.steps++
	now := tc.currentTime
	listeners := append([]func(time.Time){}, tc.listeners...)
	tc.mu.Unlock()

	for _, fn := range listeners {
		fn(now)
	}
	return now
}

// Pause makes Wait block until Resume is called.
func (tc *TimeController) Pause() {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if tc.paused {
		return
	}
	tc.paused = true
	tc.resumeCh = make(chan struct{})
}

// Resume releases a paused controller. RealTime pacing restarts from the
// current simulation time so the pause is not caught up afterwards.
func (tc *TimeController) Resume() {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if !tc.paused {
		return
	}
	tc.paused = false
	close(tc.resumeCh)
	tc.resumeCh = nil
	tc.wallStart = time.Time{}
	tc.simAnchor = tc.currentTime
}

// Paused reports whether the controller is paused.
func (tc *TimeController) Paused() bool {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.paused
}

// Wait blocks while the controller is paused and, in RealTime mode, until
// wall-clock time has caught up with simulation time. It returns ctx.Err()
// if the context ends first.
func (tc *TimeController) Wait(ctx context.Context) error {
	for {
		tc.mu.RLock()
		ch := tc.resumeCh
		tc.mu.RUnlock()
		if ch == nil {
			break
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if tc.Mode != RealTime {
		return ctx.Err()
	}

	tc.mu.Lock()
	if tc.wallStart.IsZero() {
		tc.wallStart = time.Now()
		tc.simAnchor = tc.currentTime
	}
	due := tc.wallStart.Add(tc.currentTime.Sub(tc.simAnchor))
	tc.mu.Unlock()

	delay := time.Until(due)
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
