// Simulation ties the grid, the economy and the population together and
// advances them from one frame clock.
package engine

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/talgya/gridcity/internal/catalog"
	"github.com/talgya/gridcity/internal/clock"
	"github.com/talgya/gridcity/internal/economy"
	"github.com/talgya/gridcity/internal/grid"
)

// Options configures a new Simulation.
type Options struct {
	Grid        grid.Config
	Economy     economy.Config
	Population  PopulationConfig
	RefundRatio float64          // Share of cost returned on demolition
	Catalog     *catalog.Catalog // nil = stock catalog
}

// DefaultOptions returns the stock session setup.
func DefaultOptions() Options {
	return Options{
		Grid:        grid.DefaultConfig(),
		Economy:     economy.DefaultConfig(),
		Population:  DefaultPopulationConfig(),
		RefundRatio: 0.5,
	}
}

// Simulation holds one session. Its components are single-threaded; code
// running on other goroutines goes through Do. Feed subscribers are called
// while Do's lock is held and must not call Do themselves.
type Simulation struct {
	Catalog    *catalog.Catalog
	Grid       *grid.Grid
	Pause      *clock.Pause
	Economy    *economy.Economy
	Population *Demographics
	Placer     *Placer

	mu      sync.Mutex
	elapsed float64 // Unpaused time fed through Advance
	frames  uint64
}

// Status is a read-only snapshot of the derived city state.
type Status struct {
	Money           int                  `json:"money"`
	Income          int                  `json:"income"`
	Expenses        int                  `json:"expenses"`
	Population      int                  `json:"population"`
	Capacity        int                  `json:"capacity"`
	Happiness       float64              `json:"happiness"`
	Paused          bool                 `json:"paused"`
	Selected        catalog.Type         `json:"selected"`
	Elapsed         float64              `json:"elapsed"`
	Frames          uint64               `json:"frames"`
	EconomyTicks    uint64               `json:"economy_ticks"`
	PopulationTicks uint64               `json:"population_ticks"`
	Buildings       map[catalog.Type]int `json:"buildings"`
}

// NewSimulation builds a session with an empty grid and the starting balance.
func NewSimulation(opts Options) (*Simulation, error) {
	cat := opts.Catalog
	if cat == nil {
		cat = catalog.Default()
	}
	g, err := grid.New(opts.Grid)
	if err != nil {
		return nil, fmt.Errorf("grid: %w", err)
	}
	if opts.Economy.TickInterval <= 0 || opts.Population.TickInterval <= 0 {
		return nil, fmt.Errorf("tick intervals must be positive")
	}

	pause := &clock.Pause{}
	econ := economy.New(opts.Economy, g, cat, pause)
	pop := NewDemographics(opts.Population, g, cat, pause)

	s := &Simulation{
		Catalog:    cat,
		Grid:       g,
		Pause:      pause,
		Economy:    econ,
		Population: pop,
		Placer:     NewPlacer(g, econ, cat, opts.RefundRatio),
	}
	slog.Info("simulation created",
		"grid", g.String(),
		"money", econ.Balance(),
		"economy_interval", opts.Economy.TickInterval,
		"population_interval", opts.Population.TickInterval,
	)
	return s, nil
}

// Advance moves both simulators forward by dt. The economy settles before
// population grows, and both see every grid mutation made before the call.
func (s *Simulation) Advance(dt float64) {
	s.frames++
	if dt > 0 && !s.Pause.Paused() {
		s.elapsed += dt
	}
	s.Economy.Advance(dt)
	s.Population.Advance(dt)
}

// Do runs fn with exclusive access to the session.
func (s *Simulation) Do(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

// Status snapshots the derived state. Callers on other goroutines wrap it in Do.
func (s *Simulation) Status() Status {
	counts := make(map[catalog.Type]int)
	for _, t := range catalog.Types() {
		counts[t] = s.Grid.CountBuildings(t)
	}
	return Status{
		Money:           s.Economy.Balance(),
		Income:          s.Economy.LastIncome(),
		Expenses:        s.Economy.LastExpenses(),
		Population:      s.Population.Population(),
		Capacity:        s.Population.Capacity(),
		Happiness:       s.Population.Happiness(),
		Paused:          s.Pause.Paused(),
		Selected:        s.Placer.Selected(),
		Elapsed:         s.elapsed,
		Frames:          s.frames,
		EconomyTicks:    s.Economy.Ticks(),
		PopulationTicks: s.Population.Ticks(),
		Buildings:       counts,
	}
}
