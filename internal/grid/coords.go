package grid

import "math"

// Cell is a discrete grid coordinate.
type Cell struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Point is a continuous position on the placement surface.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// WorldToGrid maps a surface position to the cell containing it.
// Positions left of or above the origin floor to negative indices.
// The result is corrected against GridToWorld so that cell corners
// always map back to their own cell despite float rounding.
func (g *Grid) WorldToGrid(p Point) Cell {
	return Cell{
		X: g.floorAxis(p.X, g.origin.X),
		Y: g.floorAxis(p.Y, g.origin.Y),
	}
}

func (g *Grid) floorAxis(v, origin float64) int {
	i := int(math.Floor((v - origin) / g.cellSize))
	corner := func(i int) float64 { return origin + float64(i)*g.cellSize }
	if corner(i) > v {
		i--
	} else if corner(i+1) <= v {
		i++
	}
	return i
}

// GridToWorld returns the top-left corner of a cell on the surface.
func (g *Grid) GridToWorld(c Cell) Point {
	return Point{
		X: g.origin.X + float64(c.X)*g.cellSize,
		Y: g.origin.Y + float64(c.Y)*g.cellSize,
	}
}

// CellSize returns the edge length of one cell in surface units.
func (g *Grid) CellSize() float64 {
	return g.cellSize
}
