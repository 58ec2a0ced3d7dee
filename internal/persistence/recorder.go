package persistence

import (
	"context"
	"log/slog"
	"time"

	"github.com/talgya/gridcity/internal/economy"
	"github.com/talgya/gridcity/internal/engine"
	"github.com/talgya/gridcity/internal/event"
	"github.com/talgya/gridcity/internal/grid"
)

// Recorder copies simulation reports into the ledger off the simulation
// goroutine. Feed callbacks only enqueue; Run does the writing.
type Recorder struct {
	DB            *DB
	FlushInterval time.Duration

	queue   chan any
	pending Batch
	unsub   []func()
}

// NewRecorder creates a recorder with room for size queued entries.
func NewRecorder(db *DB, size int) *Recorder {
	return &Recorder{
		DB:            db,
		FlushInterval: time.Second,
		queue:         make(chan any, size),
	}
}

// Attach subscribes to the simulation's report feeds. Call it inside
// Simulation.Do or before the engine starts.
func (r *Recorder) Attach(sim *engine.Simulation) {
	r.unsub = append(r.unsub,
		subscribe(sim.Economy.Ticked(), r.enqueue),
		subscribe(sim.Population.Ticked(), r.enqueue),
		subscribe(sim.Grid.Changes(), r.enqueue),
	)
}

// Detach drops every subscription made by Attach.
func (r *Recorder) Detach() {
	for _, fn := range r.unsub {
		fn()
	}
	r.unsub = nil
}

func subscribe[T any](f *event.Feed[T], fn func(any)) func() {
	tok := f.Subscribe(func(v T) { fn(v) })
	return func() { f.Unsubscribe(tok) }
}

func (r *Recorder) enqueue(v any) {
	select {
	case r.queue <- v:
	default:
		slog.Warn("ledger queue full, dropping entry")
	}
}

// Run writes queued entries every FlushInterval until ctx is done, then
// flushes what is left.
func (r *Recorder) Run(ctx context.Context) {
	ticker := time.NewTicker(r.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.drain()
			r.Flush()
			return
		case v := <-r.queue:
			r.add(v)
		case <-ticker.C:
			r.Flush()
		}
	}
}

// Flush writes everything collected so far.
func (r *Recorder) Flush() {
	if r.pending.Len() == 0 {
		return
	}
	if err := r.DB.Write(r.pending); err != nil {
		slog.Error("ledger write failed", "entries", r.pending.Len(), "error", err)
	}
	r.pending = Batch{}
}

func (r *Recorder) drain() {
	for {
		select {
		case v := <-r.queue:
			r.add(v)
		default:
			return
		}
	}
}

func (r *Recorder) add(v any) {
	switch e := v.(type) {
	case economy.Report:
		r.pending.Economy = append(r.pending.Economy, e)
	case engine.PopulationReport:
		r.pending.Population = append(r.pending.Population, e)
	case grid.Change:
		r.pending.Changes = append(r.pending.Changes, e)
	}
}
