// Package clock holds the tick plumbing shared by the simulators: the
// session-wide pause flag and the fixed-interval timer that decides when a
// simulator runs its next tick.
package clock

import (
	"log/slog"

	"github.com/talgya/gridcity/internal/event"
)

// Pauser is the read side of the pause flag. Simulators query it; they
// never own it.
type Pauser interface {
	Paused() bool
}

// Pause is the session pause flag.
type Pause struct {
	paused  bool
	changed event.Feed[bool]
}

// Paused reports whether the session is paused.
func (p *Pause) Paused() bool {
	return p.paused
}

// SetPaused sets the flag, announcing only real transitions.
func (p *Pause) SetPaused(paused bool) {
	if p.paused == paused {
		return
	}
	p.paused = paused
	slog.Info("pause changed", "paused", paused)
	p.changed.Emit(paused)
}

// Toggle flips the flag and returns the new value.
func (p *Pause) Toggle() bool {
	p.SetPaused(!p.paused)
	return p.paused
}

// Changed fires with the new value on every transition.
func (p *Pause) Changed() *event.Feed[bool] {
	return &p.changed
}

// Timer accumulates elapsed time and reports when one interval has passed.
//
// Several intervals elapsing inside a single Advance still yield one tick;
// the timer is not a queue. Time that passes while paused is discarded.
type Timer struct {
	Interval float64 // Time units between ticks

	elapsed float64
	pause   Pauser
}

// NewTimer creates a timer that ignores time while pause reports paused.
// A nil pause means the timer is never paused.
func NewTimer(interval float64, pause Pauser) *Timer {
	return &Timer{Interval: interval, pause: pause}
}

// Advance adds dt and returns true when a tick is due, resetting the
// accumulator to zero. Non-positive dt is ignored.
func (t *Timer) Advance(dt float64) bool {
	if dt <= 0 || t.Paused() {
		return false
	}
	t.elapsed += dt
	if t.elapsed < t.Interval {
		return false
	}
	t.elapsed = 0
	return true
}

// Paused reports the state of the attached pause flag.
func (t *Timer) Paused() bool {
	return t.pause != nil && t.pause.Paused()
}

// Elapsed returns the time accumulated toward the next tick.
func (t *Timer) Elapsed() float64 {
	return t.elapsed
}

// Reset drops any accumulated time.
func (t *Timer) Reset() {
	t.elapsed = 0
}
