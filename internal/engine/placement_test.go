package engine

import (
	"testing"

	"github.com/talgya/gridcity/internal/catalog"
	"github.com/talgya/gridcity/internal/economy"
	"github.com/talgya/gridcity/internal/grid"
)

func newTestPlacer(t *testing.T, money int) (*Placer, *grid.Grid, *economy.Economy) {
	t.Helper()
	g, err := grid.New(grid.Config{Width: 8, Height: 6, CellSize: 32})
	if err != nil {
		t.Fatalf("grid.New: %v", err)
	}
	cat := catalog.Default()
	econ := economy.New(economy.Config{StartingMoney: money, TickInterval: 5}, g, cat, nil)
	return NewPlacer(g, econ, cat, 0.5), g, econ
}

func TestPlaceChargesCost(t *testing.T) {
	p, g, econ := newTestPlacer(t, 1000)
	p.Select(catalog.Commercial)

	if got := p.Place(grid.Cell{X: 2, Y: 3}); got != OutcomeOK {
		t.Fatalf("Place = %v, want ok", got)
	}
	if g.BuildingAt(grid.Cell{X: 2, Y: 3}) != catalog.Commercial {
		t.Error("building not on grid")
	}
	if econ.Balance() != 850 {
		t.Errorf("balance = %d, want 850", econ.Balance())
	}
}

func TestPlaceOutcomes(t *testing.T) {
	p, g, econ := newTestPlacer(t, 120)
	g.PlaceBuilding(grid.Cell{X: 1, Y: 1}, catalog.Road)

	tests := []struct {
		name string
		t    catalog.Type
		cell grid.Cell
		want Outcome
	}{
		{"nothing selected", catalog.None, grid.Cell{X: 0, Y: 0}, OutcomeNoSelection},
		{"outside grid", catalog.Road, grid.Cell{X: 8, Y: 0}, OutcomeInvalid},
		{"negative cell", catalog.Road, grid.Cell{X: -1, Y: 2}, OutcomeInvalid},
		{"too expensive", catalog.Industrial, grid.Cell{X: 0, Y: 0}, OutcomeUnaffordable},
		{"occupied", catalog.Road, grid.Cell{X: 1, Y: 1}, OutcomeOccupied},
	}
	for _, tt := range tests {
		if got := p.PlaceType(tt.cell, tt.t); got != tt.want {
			t.Errorf("%s: PlaceType = %v, want %v", tt.name, got, tt.want)
		}
	}
	if econ.Balance() != 120 {
		t.Errorf("failed placements moved money: balance = %d", econ.Balance())
	}
}

func TestUnaffordableCheckedBeforeOccupancy(t *testing.T) {
	p, g, _ := newTestPlacer(t, 50)
	g.PlaceBuilding(grid.Cell{X: 0, Y: 0}, catalog.Road)
	if got := p.PlaceType(grid.Cell{X: 0, Y: 0}, catalog.Industrial); got != OutcomeUnaffordable {
		t.Errorf("PlaceType = %v, want unaffordable", got)
	}
}

func TestExactBalanceIsAffordable(t *testing.T) {
	p, _, econ := newTestPlacer(t, 100)
	if got := p.PlaceType(grid.Cell{X: 0, Y: 0}, catalog.Residential); got != OutcomeOK {
		t.Fatalf("PlaceType = %v, want ok", got)
	}
	if econ.Balance() != 0 {
		t.Errorf("balance = %d, want 0", econ.Balance())
	}
	if got := p.PlaceType(grid.Cell{X: 1, Y: 0}, catalog.Road); got != OutcomeUnaffordable {
		t.Errorf("PlaceType with no money = %v, want unaffordable", got)
	}
}

func TestDemolishRefundsHalf(t *testing.T) {
	p, g, econ := newTestPlacer(t, 1000)
	p.PlaceType(grid.Cell{X: 4, Y: 4}, catalog.Industrial) // 800 left

	if got := p.Demolish(grid.Cell{X: 4, Y: 4}); got != OutcomeOK {
		t.Fatalf("Demolish = %v, want ok", got)
	}
	if g.BuildingAt(grid.Cell{X: 4, Y: 4}) != catalog.None {
		t.Error("cell not cleared")
	}
	if econ.Balance() != 900 {
		t.Errorf("balance = %d, want 900", econ.Balance())
	}

	if got := p.Demolish(grid.Cell{X: 4, Y: 4}); got != OutcomeEmpty {
		t.Errorf("second Demolish = %v, want empty", got)
	}
	if got := p.Demolish(grid.Cell{X: 40, Y: 4}); got != OutcomeInvalid {
		t.Errorf("out of range Demolish = %v, want invalid", got)
	}
	if econ.Balance() != 900 {
		t.Errorf("failed demolitions moved money: balance = %d", econ.Balance())
	}
}

func TestRefundRoundsDown(t *testing.T) {
	p, _, _ := newTestPlacer(t, 0)
	p.refundRatio = 0.3
	// 10 * 0.3 = 3, 150 * 0.3 = 45
	if got := p.Refund(catalog.Road); got != 3 {
		t.Errorf("Refund(road) = %d, want 3", got)
	}
	if got := p.Refund(catalog.Commercial); got != 45 {
		t.Errorf("Refund(commercial) = %d, want 45", got)
	}
}

func TestSelectClampsUnknownTypes(t *testing.T) {
	p, _, _ := newTestPlacer(t, 0)
	var seen []catalog.Type
	p.SelectedChanged().Subscribe(func(t catalog.Type) { seen = append(seen, t) })

	p.Select(catalog.Park)
	p.Select(catalog.Type(99))

	if p.Selected() != catalog.None {
		t.Errorf("Selected = %v, want none", p.Selected())
	}
	if len(seen) != 2 || seen[0] != catalog.Park || seen[1] != catalog.None {
		t.Errorf("selection events = %v", seen)
	}
}

func TestPreview(t *testing.T) {
	p, g, _ := newTestPlacer(t, 120)
	g.PlaceBuilding(grid.Cell{X: 3, Y: 3}, catalog.Road)

	if got := p.Preview(grid.Cell{X: 0, Y: 0}); got != OutcomeNoSelection {
		t.Errorf("Preview without tool = %v", got)
	}
	p.Select(catalog.Residential)
	if got := p.Preview(grid.Cell{X: 0, Y: 0}); got != OutcomeOK {
		t.Errorf("Preview free cell = %v, want ok", got)
	}
	if got := p.Preview(grid.Cell{X: 3, Y: 3}); got != OutcomeOccupied {
		t.Errorf("Preview occupied = %v, want occupied", got)
	}
	if got := p.Preview(grid.Cell{X: -1, Y: 0}); got != OutcomeInvalid {
		t.Errorf("Preview outside = %v, want invalid", got)
	}
	p.Select(catalog.Commercial)
	if got := p.Preview(grid.Cell{X: 0, Y: 0}); got != OutcomeUnaffordable {
		t.Errorf("Preview expensive = %v, want unaffordable", got)
	}
	if g.CountBuildings(catalog.Residential) != 0 {
		t.Error("Preview placed a building")
	}
}

func TestDragActsOncePerCell(t *testing.T) {
	p, g, econ := newTestPlacer(t, 1000)
	p.Select(catalog.Road)

	cells := []grid.Cell{{X: 0, Y: 0}, {X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 0}, {X: 2, Y: 0}, {X: 99, Y: 0}}
	if got := p.BeginPlace(cells[0]); got != OutcomeOK {
		t.Fatalf("BeginPlace = %v", got)
	}
	for _, c := range cells[1:] {
		p.DragTo(c)
	}
	if !p.Dragging() {
		t.Error("gesture should still be held")
	}
	p.EndDrag()

	if n := g.CountBuildings(catalog.Road); n != 3 {
		t.Errorf("roads = %d, want 3", n)
	}
	if econ.Balance() != 970 {
		t.Errorf("balance = %d, want 970", econ.Balance())
	}
	if got := p.DragTo(grid.Cell{X: 5, Y: 5}); got != OutcomeNoSelection {
		t.Errorf("DragTo after EndDrag = %v, want no_selection", got)
	}
}

func TestDemolishDrag(t *testing.T) {
	p, g, econ := newTestPlacer(t, 1000)
	for x := 0; x < 4; x++ {
		p.PlaceType(grid.Cell{X: x, Y: 2}, catalog.Park) // 4 * 50
	}

	p.BeginDemolish(grid.Cell{X: 0, Y: 2})
	p.DragTo(grid.Cell{X: 1, Y: 2})
	p.DragTo(grid.Cell{X: 1, Y: 2})
	p.DragTo(grid.Cell{X: 2, Y: 2})
	p.EndDrag()

	if n := g.CountBuildings(catalog.Park); n != 1 {
		t.Errorf("parks = %d, want 1", n)
	}
	if econ.Balance() != 800+3*25 {
		t.Errorf("balance = %d, want %d", econ.Balance(), 800+3*25)
	}
}

func TestDragRevisitAfterLeaving(t *testing.T) {
	p, g, _ := newTestPlacer(t, 1000)
	p.Select(catalog.Road)

	p.BeginPlace(grid.Cell{X: 0, Y: 0})
	p.DragTo(grid.Cell{X: 1, Y: 0})
	// Coming back re-attempts the cell; the grid refuses because it is taken.
	if got := p.DragTo(grid.Cell{X: 0, Y: 0}); got != OutcomeOccupied {
		t.Errorf("revisit = %v, want occupied", got)
	}
	p.EndDrag()
	if n := g.CountBuildings(catalog.Road); n != 2 {
		t.Errorf("roads = %d, want 2", n)
	}
}
