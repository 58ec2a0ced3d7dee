// Package grid owns the authoritative building layout: a fixed-size
// lattice of building types with placement rules, spatial counts and a
// change feed for incremental renderers.
package grid

import (
	"fmt"
	"log/slog"

	"github.com/talgya/gridcity/internal/catalog"
	"github.com/talgya/gridcity/internal/event"
)

// Config holds the lattice dimensions and its placement-surface mapping.
type Config struct {
	Width    int     // Cells along x
	Height   int     // Cells along y
	CellSize float64 // Surface units per cell edge
	Origin   Point   // Surface position of cell (0,0)'s corner
}

// DefaultConfig returns the stock 40×30 board with 32-unit tiles.
func DefaultConfig() Config {
	return Config{
		Width:    40,
		Height:   30,
		CellSize: 32,
	}
}

// Change describes one successful placement or removal.
type Change struct {
	Cell Cell         `json:"cell"`
	Old  catalog.Type `json:"old"`
	New  catalog.Type `json:"new"`
}

// Grid is the W×H array of building types. Every cell holds exactly one
// type; catalog.None means the cell is free. Dimensions never change.
type Grid struct {
	width    int
	height   int
	cellSize float64
	origin   Point
	cells    []catalog.Type // row-major: y*width + x

	changes event.Feed[Change]
}

// New creates an empty grid.
func New(cfg Config) (*Grid, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("grid dimensions must be positive, got %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.CellSize <= 0 {
		return nil, fmt.Errorf("cell size must be positive, got %v", cfg.CellSize)
	}
	return &Grid{
		width:    cfg.Width,
		height:   cfg.Height,
		cellSize: cfg.CellSize,
		origin:   cfg.Origin,
		cells:    make([]catalog.Type, cfg.Width*cfg.Height),
	}, nil
}

// Width returns the number of columns.
func (g *Grid) Width() int { return g.width }

// Height returns the number of rows.
func (g *Grid) Height() int { return g.height }

// Changes is the feed fired after every successful placement or removal.
func (g *Grid) Changes() *event.Feed[Change] {
	return &g.changes
}

// IsValidPosition reports whether c lies inside the grid.
func (g *Grid) IsValidPosition(c Cell) bool {
	return c.X >= 0 && c.X < g.width && c.Y >= 0 && c.Y < g.height
}

// BuildingAt returns the building at c, or None for empty or out-of-range cells.
func (g *Grid) BuildingAt(c Cell) catalog.Type {
	if !g.IsValidPosition(c) {
		return catalog.None
	}
	return g.cells[c.Y*g.width+c.X]
}

// PlaceBuilding puts t on an empty, in-bounds cell. Occupied or invalid cells,
// and t == None, leave the grid untouched and return false. Drag-painting
// retries the same cell every frame, so this is an ordinary outcome.
func (g *Grid) PlaceBuilding(c Cell, t catalog.Type) bool {
	if !g.IsValidPosition(c) || t == catalog.None || !t.Valid() {
		return false
	}
	idx := c.Y*g.width + c.X
	if g.cells[idx] != catalog.None {
		return false
	}
	g.cells[idx] = t
	slog.Debug("building placed", "x", c.X, "y", c.Y, "type", t)
	g.changes.Emit(Change{Cell: c, Old: catalog.None, New: t})
	return true
}

// RemoveBuilding clears an occupied cell. Returns false for empty or invalid cells.
func (g *Grid) RemoveBuilding(c Cell) bool {
	if !g.IsValidPosition(c) {
		return false
	}
	idx := c.Y*g.width + c.X
	old := g.cells[idx]
	if old == catalog.None {
		return false
	}
	g.cells[idx] = catalog.None
	slog.Debug("building removed", "x", c.X, "y", c.Y, "type", old)
	g.changes.Emit(Change{Cell: c, Old: old, New: catalog.None})
	return true
}

// CountBuildings scans the whole grid for cells holding t. Simulators call it once
// per type per tick; no running tally is kept.
func (g *Grid) CountBuildings(t catalog.Type) int {
	n := 0
	for _, v := range g.cells {
		if v == t {
			n++
		}
	}
	return n
}

// Cells returns a copy of the layout indexed [y][x], for renderers that
// need a full initial sync before following the change feed.
func (g *Grid) Cells() [][]catalog.Type {
	out := make([][]catalog.Type, g.height)
	for y := range out {
		row := make([]catalog.Type, g.width)
		copy(row, g.cells[y*g.width:(y+1)*g.width])
		out[y] = row
	}
	return out
}

// String returns a summary of the grid.
func (g *Grid) String() string {
	return fmt.Sprintf("Grid(%dx%d, cell=%g)", g.width, g.height, g.cellSize)
}
