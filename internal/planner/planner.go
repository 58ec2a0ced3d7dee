// Package planner lays out a starter town: a road lattice with zones picked
// from layered simplex noise, built outward from the centre of the grid
// through the placement controller so every building is paid for.
package planner

import (
	"log/slog"
	"math"
	"math/rand"
	"sort"

	"github.com/dustin/go-humanize"
	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/talgya/gridcity/internal/catalog"
	"github.com/talgya/gridcity/internal/engine"
	"github.com/talgya/gridcity/internal/grid"
)

// Config holds layout parameters.
type Config struct {
	Seed        int64   // Noise seed (0 = random)
	RoadSpacing int     // Distance between parallel roads, in cells
	BudgetShare float64 // Fraction of the current balance the planner may spend
}

// DefaultConfig returns a reasonable starter layout.
func DefaultConfig() Config {
	return Config{
		Seed:        1,
		RoadSpacing: 4,
		BudgetShare: 0.5,
	}
}

// Plot is one intended building.
type Plot struct {
	Cell grid.Cell
	Type catalog.Type
}

// Result summarizes a Build.
type Result struct {
	Placed  map[catalog.Type]int
	Spent   int
	Skipped int // Plots not built: occupied, unaffordable or out of budget
}

// Layout returns every plot for a width×height grid, nearest to the
// centre first. The same seed always yields the same layout.
func Layout(cfg Config, width, height int) []Plot {
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Int63()
	}
	spacing := max(cfg.RoadSpacing, 2)

	landNoise := opensimplex.NewNormalized(seed)
	greenNoise := opensimplex.NewNormalized(seed + 1)

	type ranked struct {
		Plot
		dist float64
	}
	plots := make([]ranked, 0, width*height)
	cx, cy := float64(width-1)/2, float64(height-1)/2
	ox, oy := int(cx)%spacing, int(cy)%spacing

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			var t catalog.Type
			if (x-ox)%spacing == 0 || (y-oy)%spacing == 0 {
				t = catalog.Road
			} else {
				land := octaveNoise(landNoise, float64(x), float64(y), 3, 0.12, 0.5)
				green := octaveNoise(greenNoise, float64(x), float64(y), 2, 0.2, 0.5)
				t = zone(land, green)
			}
			dist := math.Hypot(float64(x)-cx, float64(y)-cy)
			plots = append(plots, ranked{Plot{grid.Cell{X: x, Y: y}, t}, dist})
		}
	}

	sort.SliceStable(plots, func(i, j int) bool {
		if plots[i].dist != plots[j].dist {
			return plots[i].dist < plots[j].dist
		}
		// Roads before the lots they serve.
		return plots[i].Type == catalog.Road && plots[j].Type != catalog.Road
	})

	out := make([]Plot, len(plots))
	for i, p := range plots {
		out[i] = p.Plot
	}
	return out
}

// zone maps noise samples to a building type. Low land value draws
// industry, high land value draws shops, and green pockets become parks.
func zone(land, green float64) catalog.Type {
	switch {
	case green > 0.72:
		return catalog.Park
	case land < 0.35:
		return catalog.Industrial
	case land > 0.68:
		return catalog.Commercial
	default:
		return catalog.Residential
	}
}

// Build places the layout through sim's placement controller until the
// budget runs out. The caller must hold the session (Simulation.Do).
func Build(sim *engine.Simulation, cfg Config) Result {
	res := Result{Placed: make(map[catalog.Type]int)}
	budget := int(float64(sim.Economy.Balance()) * cfg.BudgetShare)

	for _, p := range Layout(cfg, sim.Grid.Width(), sim.Grid.Height()) {
		cost := sim.Catalog.Get(p.Type).Cost
		if cost > budget-res.Spent {
			res.Skipped++
			continue
		}
		if sim.Placer.PlaceType(p.Cell, p.Type) != engine.OutcomeOK {
			res.Skipped++
			continue
		}
		res.Placed[p.Type]++
		res.Spent += cost
	}

	slog.Info("starter layout built",
		"seed", cfg.Seed,
		"placed", res.Total(),
		"spent", humanize.Comma(int64(res.Spent)),
		"balance", humanize.Comma(int64(sim.Economy.Balance())),
	)
	return res
}

// Total returns the number of buildings placed.
func (r Result) Total() int {
	n := 0
	for _, c := range r.Placed {
		n += c
	}
	return n
}

// octaveNoise generates fractal noise by layering multiple frequencies.
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}
