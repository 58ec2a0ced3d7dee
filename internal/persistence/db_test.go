package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/talgya/gridcity/internal/catalog"
	"github.com/talgya/gridcity/internal/economy"
	"github.com/talgya/gridcity/internal/engine"
	"github.com/talgya/gridcity/internal/grid"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenStartsSession(t *testing.T) {
	db := openTestDB(t)
	if db.Session() == "" {
		t.Fatal("empty session id")
	}
	got, err := db.GetMeta("last_session")
	if err != nil {
		t.Fatalf("GetMeta: %v", err)
	}
	if got != db.Session() {
		t.Errorf("last_session = %q, want %q", got, db.Session())
	}
}

func TestSessionsAreSeparate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	first, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := first.Write(Batch{Economy: []economy.Report{{Tick: 1, Balance: 10}}}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	first.Close()

	second, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()
	if second.Session() == first.Session() {
		t.Fatal("reopened ledger reused the session id")
	}
	rows, err := second.EconomyHistory(10)
	if err != nil {
		t.Fatalf("EconomyHistory: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("new session sees %d rows from the old one", len(rows))
	}
}

func TestWriteAndHistory(t *testing.T) {
	db := openTestDB(t)

	var b Batch
	for i := 1; i <= 5; i++ {
		b.Economy = append(b.Economy, economy.Report{
			Tick: uint64(i), Income: 20, Expenses: 5, Net: 15, Balance: 9900 + 15*i,
		})
		b.Population = append(b.Population, engine.PopulationReport{
			Tick: uint64(i), Capacity: 10, Population: i, Delta: 1, Happiness: 0.5,
		})
	}
	b.Changes = []grid.Change{
		{Cell: grid.Cell{X: 1, Y: 2}, Old: catalog.None, New: catalog.Residential},
		{Cell: grid.Cell{X: 1, Y: 2}, Old: catalog.Residential, New: catalog.None},
	}
	if err := db.Write(b); err != nil {
		t.Fatalf("Write: %v", err)
	}

	econ, err := db.EconomyHistory(3)
	if err != nil {
		t.Fatalf("EconomyHistory: %v", err)
	}
	if len(econ) != 3 || econ[0].Tick != 3 || econ[2].Tick != 5 {
		t.Fatalf("economy history = %+v, want ticks 3..5", econ)
	}
	if econ[2].Balance != 9975 || econ[2].Net != 15 {
		t.Errorf("last economy row = %+v", econ[2])
	}

	pop, err := db.PopulationHistory(10)
	if err != nil {
		t.Fatalf("PopulationHistory: %v", err)
	}
	if len(pop) != 5 || pop[4].Population != 5 || pop[4].Happiness != 0.5 {
		t.Errorf("population history = %+v", pop)
	}

	changes, err := db.RecentChanges(10)
	if err != nil {
		t.Fatalf("RecentChanges: %v", err)
	}
	if len(changes) != 2 {
		t.Fatalf("changes = %d, want 2", len(changes))
	}
	if changes[0].Old != "residential" || changes[0].New != "none" {
		t.Errorf("newest change = %+v", changes[0])
	}
}

func TestWriteEmptyBatch(t *testing.T) {
	db := openTestDB(t)
	if err := db.Write(Batch{}); err != nil {
		t.Errorf("Write(empty) = %v", err)
	}
}

func TestRecorderCopiesFeeds(t *testing.T) {
	db := openTestDB(t)
	sim, err := engine.NewSimulation(engine.DefaultOptions())
	if err != nil {
		t.Fatalf("NewSimulation: %v", err)
	}

	rec := NewRecorder(db, 64)
	rec.FlushInterval = 10 * time.Millisecond
	rec.Attach(sim)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rec.Run(ctx)
		close(done)
	}()

	sim.Do(func() {
		sim.Placer.PlaceType(grid.Cell{X: 0, Y: 0}, catalog.Residential)
		sim.Advance(5) // one economy and one population tick
	})
	cancel()
	<-done
	rec.Detach()

	econ, err := db.EconomyHistory(10)
	if err != nil {
		t.Fatalf("EconomyHistory: %v", err)
	}
	if len(econ) != 1 || econ[0].Balance != 9915 {
		t.Errorf("economy history = %+v", econ)
	}
	pop, err := db.PopulationHistory(10)
	if err != nil {
		t.Fatalf("PopulationHistory: %v", err)
	}
	if len(pop) != 1 || pop[0].Population != 1 {
		t.Errorf("population history = %+v", pop)
	}
	changes, err := db.RecentChanges(10)
	if err != nil {
		t.Fatalf("RecentChanges: %v", err)
	}
	if len(changes) != 1 || changes[0].New != "residential" {
		t.Errorf("changes = %+v", changes)
	}

	sim.Do(func() { sim.Advance(5) })
	if n := len(rec.queue); n != 0 {
		t.Errorf("detached recorder still queued %d entries", n)
	}
}
