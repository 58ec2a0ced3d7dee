// Package engine provides the city simulation: demographics, placement,
// session wiring and the real-time frame loop that drives them.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Engine drives a Simulation from the wall clock, the way a game's frame
// loop would: every Interval it feeds the elapsed real time, scaled by
// Speed, into Simulation.Advance.
type Engine struct {
	Sim      *Simulation
	Interval time.Duration // Frame interval (default 100ms)
	Speed    float64       // Multiplier: 1.0 = real-time; ≤0 freezes the clock. Guarded by Sim.Do once Run starts.

	// OnFrame runs after every frame while the session lock is still held.
	OnFrame func(dt float64)

	running  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
}

// NewEngine creates a frame loop with default settings.
func NewEngine(sim *Simulation) *Engine {
	return &Engine{
		Sim:      sim,
		Interval: 100 * time.Millisecond,
		Speed:    1.0,
		stop:     make(chan struct{}),
	}
}

// Running reports whether Run is active.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// Run advances the simulation until ctx is cancelled or Stop is called.
func (e *Engine) Run(ctx context.Context) {
	e.running.Store(true)
	defer e.running.Store(false)
	var speed float64
	e.Sim.Do(func() { speed = e.Speed })
	slog.Info("simulation engine started", "interval", e.Interval, "speed", speed)

	ticker := time.NewTicker(e.Interval)
	defer ticker.Stop()
	last := time.Now()

	for {
		select {
		case <-ctx.Done():
			slog.Info("simulation engine stopped", "reason", ctx.Err())
			return
		case <-e.stop:
			slog.Info("simulation engine stopped")
			return
		case now := <-ticker.C:
			wall := now.Sub(last).Seconds()
			last = now
			e.Sim.Do(func() { e.advance(wall * e.Speed) })
		}
	}
}

// Step advances one frame of dt simulated time units.
func (e *Engine) Step(dt float64) {
	e.Sim.Do(func() { e.advance(dt) })
}

func (e *Engine) advance(dt float64) {
	e.Sim.Advance(dt)
	if e.OnFrame != nil {
		e.OnFrame(dt)
	}
}

// Stop halts Run. Safe to call more than once.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
}
