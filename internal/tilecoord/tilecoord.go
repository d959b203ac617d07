// Package tilecoord implements TileCoord (spec.md §3): an (x, y) pair
// within a map's 64×64 minimap grid.
package tilecoord

import "fmt"

// GridSize is the width and height of a map's minimap tile grid.
const GridSize = 64

// Coord is a tile coordinate. For storage (the WDT grid) both fields are
// in [0,63]; the viewer additionally uses signed coordinates relative to a
// map's origin, which Coord also supports since the fields are plain ints.
type Coord struct {
	X, Y int
}

// New constructs a Coord.
func New(x, y int) Coord { return Coord{X: x, Y: y} }

// Parse parses the "(x,y)" rendering produced by String back into a
// Coord, for wire formats (internal/publish) that key maps by coord
// string.
func Parse(s string) (Coord, error) {
	var x, y int
	if _, err := fmt.Sscanf(s, "(%d,%d)", &x, &y); err != nil {
		return Coord{}, fmt.Errorf("tilecoord: parsing %q: %w", s, err)
	}
	return Coord{X: x, Y: y}, nil
}

// InGrid reports whether the coordinate lies within the canonical 64×64
// WDT grid.
func (c Coord) InGrid() bool {
	return c.X >= 0 && c.X < GridSize && c.Y >= 0 && c.Y < GridSize
}

func (c Coord) String() string { return fmt.Sprintf("(%d,%d)", c.X, c.Y) }

// Less orders coordinates (x, y) ascending, matching the Composition hash
// determinism rule in spec.md §3.
func (c Coord) Less(other Coord) bool {
	if c.X != other.X {
		return c.X < other.X
	}
	return c.Y < other.Y
}

// ByXY sorts a slice of Coord ascending by (x, y).
type ByXY []Coord

func (s ByXY) Len() int           { return len(s) }
func (s ByXY) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }
func (s ByXY) Less(i, j int) bool { return s[i].Less(s[j]) }
