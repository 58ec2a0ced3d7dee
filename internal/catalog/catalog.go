// Package catalog defines the building types that can occupy a grid cell
// and the static economic properties attached to each one.
package catalog

import (
	"fmt"
	"strings"
)

// Type identifies what occupies a grid cell. None marks an empty cell.
type Type uint8

const (
	None        Type = iota // Empty cell, carries no economic properties
	Residential             // Houses population
	Commercial              // Shops: high income
	Industrial              // Factories: highest income, lowers happiness
	Road                    // Cheap connective tissue
	Park                    // Raises happiness

	typeCount
)

var typeNames = [typeCount]string{
	None:        "none",
	Residential: "residential",
	Commercial:  "commercial",
	Industrial:  "industrial",
	Road:        "road",
	Park:        "park",
}

// Types returns every building type except None, in declaration order.
func Types() []Type {
	out := make([]Type, 0, typeCount-1)
	for t := None + 1; t < typeCount; t++ {
		out = append(out, t)
	}
	return out
}

// Valid reports whether t is inside the closed enumeration.
func (t Type) Valid() bool {
	return t < typeCount
}

// String returns the lower-case type name.
func (t Type) String() string {
	if !t.Valid() {
		return fmt.Sprintf("type(%d)", uint8(t))
	}
	return typeNames[t]
}

// ParseType converts a name (case-insensitive) to a Type.
func ParseType(name string) (Type, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for t, n := range typeNames {
		if n == name {
			return Type(t), nil
		}
	}
	return None, fmt.Errorf("unknown building type %q", name)
}

// MarshalText encodes the type by name.
func (t Type) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("unknown building type %d", uint8(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText decodes a type name.
func (t *Type) UnmarshalText(b []byte) error {
	parsed, err := ParseType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Spec holds the per-instance properties of one building type.
type Spec struct {
	Type        Type    `json:"type"`
	Name        string  `json:"name"`
	Cost        int     `json:"cost"`        // One-off placement cost
	Maintenance int     `json:"maintenance"` // Deducted every economy tick
	Income      int     `json:"income"`      // Credited every economy tick
	Capacity    int     `json:"capacity"`    // Residents supported (residential only)
	Happiness   float64 `json:"happiness"`   // Signed modifier applied per instance
}

// Catalog is the immutable registry of building specs.
// It is safe for concurrent readers because nothing mutates it after New.
type Catalog struct {
	specs [typeCount]Spec
}

// Defaults returns the stock building table.
func Defaults() []Spec {
	return []Spec{
		{Type: None, Name: "None"},
		{Type: Residential, Name: "Residential", Cost: 100, Maintenance: 5, Income: 20, Capacity: 10},
		{Type: Commercial, Name: "Commercial", Cost: 150, Maintenance: 8, Income: 50},
		{Type: Industrial, Name: "Industrial", Cost: 200, Maintenance: 10, Income: 80, Happiness: -0.1},
		{Type: Road, Name: "Road", Cost: 10, Maintenance: 1},
		{Type: Park, Name: "Park", Cost: 50, Maintenance: 2, Happiness: 0.2},
	}
}

// Default builds a catalog from Defaults.
func Default() *Catalog {
	c, err := New(Defaults())
	if err != nil {
		panic(err) // stock table is known-good
	}
	return c
}

// New builds a catalog. Types missing from specs fall back to the stock
// entry. None must stay zero-valued and every amount must be non-negative.
func New(specs []Spec) (*Catalog, error) {
	c := &Catalog{}
	for _, s := range Defaults() {
		c.specs[s.Type] = s
	}
	for _, s := range specs {
		if !s.Type.Valid() {
			return nil, fmt.Errorf("spec %q: unknown building type %d", s.Name, uint8(s.Type))
		}
		if err := validate(s); err != nil {
			return nil, err
		}
		c.specs[s.Type] = s
	}
	return c, nil
}

func validate(s Spec) error {
	if s.Type == None {
		if s.Cost != 0 || s.Maintenance != 0 || s.Income != 0 || s.Capacity != 0 || s.Happiness != 0 {
			return fmt.Errorf("spec %q: none must carry no economic properties", s.Name)
		}
		return nil
	}
	if s.Cost < 0 || s.Maintenance < 0 || s.Income < 0 || s.Capacity < 0 {
		return fmt.Errorf("spec %q: cost, maintenance, income and capacity must be non-negative", s.Name)
	}
	return nil
}

// Get returns the spec for t. An unknown type is a caller bug and panics.
func (c *Catalog) Get(t Type) Spec {
	if !t.Valid() {
		panic(fmt.Sprintf("catalog: unknown building type %d", uint8(t)))
	}
	return c.specs[t]
}

// All returns every spec except None, in type order.
func (c *Catalog) All() []Spec {
	out := make([]Spec, 0, typeCount-1)
	for _, t := range Types() {
		out = append(out, c.specs[t])
	}
	return out
}
