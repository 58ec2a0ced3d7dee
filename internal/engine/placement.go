// Placement turns player gestures into grid mutations and charges for them.
package engine

import (
	"log/slog"

	"github.com/talgya/gridcity/internal/catalog"
	"github.com/talgya/gridcity/internal/economy"
	"github.com/talgya/gridcity/internal/event"
	"github.com/talgya/gridcity/internal/grid"
)

// Outcome is the result of one placement or demolition attempt.
type Outcome uint8

const (
	OutcomeOK          Outcome = iota // Grid changed and money moved
	OutcomeNoSelection                // No building type selected
	OutcomeUnaffordable               // Balance below the building cost
	OutcomeInvalid                    // Cell outside the grid
	OutcomeOccupied                   // Cell already holds a building
	OutcomeEmpty                      // Nothing to demolish
)

var outcomeNames = [...]string{
	OutcomeOK:           "ok",
	OutcomeNoSelection:  "no_selection",
	OutcomeUnaffordable: "unaffordable",
	OutcomeInvalid:      "invalid_position",
	OutcomeOccupied:     "occupied",
	OutcomeEmpty:        "empty",
}

func (o Outcome) String() string {
	if int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return "unknown"
}

// MarshalText encodes the outcome by name.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// dragMode is what a held gesture is doing.
type dragMode uint8

const (
	dragNone dragMode = iota
	dragPlace
	dragDemolish
)

// Placer is the thin controller between input and the grid. It checks the
// budget before building, charges only after the grid accepted the
// building, and refunds part of the cost on demolition.
type Placer struct {
	grid        *grid.Grid
	economy     *economy.Economy
	catalog     *catalog.Catalog
	refundRatio float64

	selected catalog.Type
	mode     dragMode
	last     grid.Cell
	hasLast  bool

	selectedChanged event.Feed[catalog.Type]
}

// NewPlacer creates a controller with nothing selected.
func NewPlacer(g *grid.Grid, econ *economy.Economy, cat *catalog.Catalog, refundRatio float64) *Placer {
	return &Placer{
		grid:        g,
		economy:     econ,
		catalog:     cat,
		refundRatio: refundRatio,
	}
}

// Select chooses the building type placed by Place and drags. None clears
// the tool.
func (p *Placer) Select(t catalog.Type) {
	if !t.Valid() {
		t = catalog.None
	}
	p.selected = t
	p.selectedChanged.Emit(t)
}

// Selected returns the current tool.
func (p *Placer) Selected() catalog.Type { return p.selected }

// SelectedChanged fires when the tool changes.
func (p *Placer) SelectedChanged() *event.Feed[catalog.Type] { return &p.selectedChanged }

// Place builds the selected type at c.
func (p *Placer) Place(c grid.Cell) Outcome {
	return p.PlaceType(c, p.selected)
}

// PlaceType builds t at c: affordability first, then the grid, then the charge.
func (p *Placer) PlaceType(c grid.Cell, t catalog.Type) Outcome {
	if t == catalog.None || !t.Valid() {
		return OutcomeNoSelection
	}
	if !p.grid.IsValidPosition(c) {
		return OutcomeInvalid
	}
	spec := p.catalog.Get(t)
	if !p.economy.CanAfford(spec.Cost) {
		slog.Debug("not enough money", "type", t, "cost", spec.Cost, "balance", p.economy.Balance())
		return OutcomeUnaffordable
	}
	if !p.grid.PlaceBuilding(c, t) {
		return OutcomeOccupied
	}
	p.economy.SpendMoney(spec.Cost)
	slog.Debug("placed building", "name", spec.Name, "x", c.X, "y", c.Y, "cost", spec.Cost)
	return OutcomeOK
}

// Demolish clears c and refunds part of the building's cost.
func (p *Placer) Demolish(c grid.Cell) Outcome {
	if !p.grid.IsValidPosition(c) {
		return OutcomeInvalid
	}
	t := p.grid.BuildingAt(c)
	if t == catalog.None || !p.grid.RemoveBuilding(c) {
		return OutcomeEmpty
	}
	spec := p.catalog.Get(t)
	refund := p.Refund(t)
	p.economy.AddMoney(refund)
	slog.Debug("demolished building", "name", spec.Name, "x", c.X, "y", c.Y, "refund", refund)
	return OutcomeOK
}

// Refund returns what demolishing one t gives back.
func (p *Placer) Refund(t catalog.Type) int {
	return int(float64(p.catalog.Get(t).Cost) * p.refundRatio)
}

// Preview reports whether the selected building could go on c right now.
func (p *Placer) Preview(c grid.Cell) Outcome {
	return p.PreviewType(c, p.selected)
}

// PreviewType is Preview for an explicit type.
func (p *Placer) PreviewType(c grid.Cell, t catalog.Type) Outcome {
	switch {
	case t == catalog.None || !t.Valid():
		return OutcomeNoSelection
	case !p.grid.IsValidPosition(c):
		return OutcomeInvalid
	case p.grid.BuildingAt(c) != catalog.None:
		return OutcomeOccupied
	case !p.economy.CanAfford(p.catalog.Get(t).Cost):
		return OutcomeUnaffordable
	}
	return OutcomeOK
}

// BeginPlace starts a placing drag and acts on the first cell.
func (p *Placer) BeginPlace(c grid.Cell) Outcome {
	p.mode = dragPlace
	p.hasLast = false
	return p.DragTo(c)
}

// BeginDemolish starts a demolishing drag and acts on the first cell.
func (p *Placer) BeginDemolish(c grid.Cell) Outcome {
	p.mode = dragDemolish
	p.hasLast = false
	return p.DragTo(c)
}

// DragTo continues the active drag. Each cell is acted on once per visit;
// hovering over the same cell again is a no-op, as are invalid cells.
func (p *Placer) DragTo(c grid.Cell) Outcome {
	if p.mode == dragNone {
		return OutcomeNoSelection
	}
	if !p.grid.IsValidPosition(c) {
		return OutcomeInvalid
	}
	if p.hasLast && p.last == c {
		if p.mode == dragPlace {
			return OutcomeOccupied
		}
		return OutcomeEmpty
	}
	p.last, p.hasLast = c, true
	if p.mode == dragPlace {
		return p.Place(c)
	}
	return p.Demolish(c)
}

// EndDrag releases the gesture.
func (p *Placer) EndDrag() {
	p.mode = dragNone
	p.hasLast = false
}

// Dragging reports whether a gesture is held.
func (p *Placer) Dragging() bool {
	return p.mode != dragNone
}
