// Population dynamics: happiness from the building mix, growth toward
// residential capacity, decline from overcrowding or misery.
package engine

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/talgya/gridcity/internal/catalog"
	"github.com/talgya/gridcity/internal/clock"
	"github.com/talgya/gridcity/internal/event"
)

// BaselineHappiness is the neutral happiness of an empty city.
const BaselineHappiness = 0.5

// Counter is the read-only grid view the simulators need.
type Counter interface {
	CountBuildings(t catalog.Type) int
}

// PopulationConfig holds demographic tuning.
type PopulationConfig struct {
	TickInterval       float64 // Time units between growth ticks
	GrowthRate         float64 // Fraction of headroom filled per tick at full happiness
	HappinessThreshold float64 // Growth needs happiness above this; at or below it people leave
	ShrinkRate         float64 // Fraction of population lost per declining tick
}

// DefaultPopulationConfig returns the stock tuning.
func DefaultPopulationConfig() PopulationConfig {
	return PopulationConfig{
		TickInterval:       3.0,
		GrowthRate:         0.1,
		HappinessThreshold: 0.3,
		ShrinkRate:         0.05,
	}
}

// PopulationReport summarizes one growth tick.
type PopulationReport struct {
	Tick       uint64  `json:"tick"`
	Capacity   int     `json:"capacity"`
	Population int     `json:"population"`
	Delta      int     `json:"delta"`
	Happiness  float64 `json:"happiness"`
}

// Demographics owns population and happiness. Both are derived from a full
// grid re-scan each tick.
type Demographics struct {
	cfg     PopulationConfig
	grid    Counter
	catalog *catalog.Catalog
	timer   *clock.Timer

	population int
	happiness  float64
	capacity   int
	ticks      uint64

	populationChanged event.Feed[int]
	happinessChanged  event.Feed[float64]
	ticked            event.Feed[PopulationReport]
}

// NewDemographics starts with zero population at baseline happiness.
// pause may be nil.
func NewDemographics(cfg PopulationConfig, grid Counter, cat *catalog.Catalog, pause clock.Pauser) *Demographics {
	return &Demographics{
		cfg:       cfg,
		grid:      grid,
		catalog:   cat,
		timer:     clock.NewTimer(cfg.TickInterval, pause),
		happiness: BaselineHappiness,
	}
}

// Population returns the current head count.
func (d *Demographics) Population() int { return d.population }

// Happiness returns the current happiness in [0,1].
func (d *Demographics) Happiness() float64 { return d.happiness }

// Capacity returns the residential capacity seen by the last tick.
func (d *Demographics) Capacity() int { return d.capacity }

// Ticks returns how many growth ticks have run.
func (d *Demographics) Ticks() uint64 { return d.ticks }

// Timer exposes the growth timer for inspection.
func (d *Demographics) Timer() *clock.Timer { return d.timer }

// PopulationChanged fires with the new head count whenever it changes.
func (d *Demographics) PopulationChanged() *event.Feed[int] { return &d.populationChanged }

// HappinessChanged fires with the recomputed happiness on every tick.
func (d *Demographics) HappinessChanged() *event.Feed[float64] { return &d.happinessChanged }

// Ticked fires after every completed growth tick.
func (d *Demographics) Ticked() *event.Feed[PopulationReport] { return &d.ticked }

// Advance feeds elapsed time to the growth timer and runs at most one tick.
func (d *Demographics) Advance(dt float64) bool {
	if !d.timer.Advance(dt) {
		return false
	}
	_, ok := d.Tick()
	return ok
}

// Tick recomputes happiness and moves population one step. Skipped whole
// while paused.
func (d *Demographics) Tick() (PopulationReport, bool) {
	if d.timer.Paused() {
		return PopulationReport{}, false
	}
	d.ticks++

	residential := d.grid.CountBuildings(catalog.Residential)
	d.capacity = residential * d.catalog.Get(catalog.Residential).Capacity

	d.happiness = d.computeHappiness()
	d.happinessChanged.Emit(d.happiness)

	before := d.population
	d.population = d.nextPopulation(d.population, d.capacity, d.happiness)
	delta := d.population - before
	if delta != 0 {
		d.populationChanged.Emit(d.population)
	}

	r := PopulationReport{
		Tick:       d.ticks,
		Capacity:   d.capacity,
		Population: d.population,
		Delta:      delta,
		Happiness:  d.happiness,
	}
	slog.Debug("population tick",
		"tick", r.Tick,
		"capacity", r.Capacity,
		"population", r.Population,
		"delta", r.Delta,
		"happiness", fmt.Sprintf("%.3f", r.Happiness),
	)
	d.ticked.Emit(r)
	return r, true
}

// computeHappiness averages the per-instance modifiers of every building
// around the neutral baseline.
func (d *Demographics) computeHappiness() float64 {
	sum := 0.0
	total := 0
	for _, t := range catalog.Types() {
		count := d.grid.CountBuildings(t)
		if count == 0 {
			continue
		}
		sum += float64(count) * d.catalog.Get(t).Happiness
		total += count
	}
	if total == 0 {
		return BaselineHappiness
	}
	return clamp01(BaselineHappiness + sum/float64(total))
}

// nextPopulation applies one growth step. Growth needs headroom AND
// happiness above the threshold; decline follows from overcrowding OR
// happiness at or below it. A full, content city holds steady.
func (d *Demographics) nextPopulation(pop, capacity int, happiness float64) int {
	switch {
	case pop < capacity && happiness > d.cfg.HappinessThreshold:
		growth := max(1, int(math.Ceil(float64(capacity-pop)*d.cfg.GrowthRate*happiness)))
		return min(pop+growth, capacity)
	case pop > capacity || happiness <= d.cfg.HappinessThreshold:
		shrink := max(1, int(math.Ceil(float64(pop)*d.cfg.ShrinkRate)))
		return max(0, pop-shrink)
	default:
		return pop
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
