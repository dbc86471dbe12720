// Package partition maps discretized world coordinates to partition ids.
package partition

import (
	"cmp"
	"fmt"
	"math"
)

// ID identifies a partition for the lifetime of the world. Ids are never reused.
type ID uint32

// None is the zero ID; registered partitions never use it.
const None ID = 0

// Coord is an integer partition coordinate on the world grid.
type Coord struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (c Coord) String() string { return fmt.Sprintf("(%d,%d)", c.X, c.Y) }

// Add offsets c by (dx, dy).
func (c Coord) Add(dx, dy int) Coord { return Coord{X: c.X + dx, Y: c.Y + dy} }

// Compare orders coordinates by X, then Y. The order only exists so windows
// can be materialized as sorted slices for diffing.
func Compare(a, b Coord) int {
	if c := cmp.Compare(a.X, b.X); c != 0 {
		return c
	}
	return cmp.Compare(a.Y, b.Y)
}

// FromPosition discretizes a world position into the coordinate of the
// partition that contains it. size is the partition edge length in world units.
func FromPosition(x, y float64, size int) Coord {
	if size <= 0 {
		size = 1
	}
	s := float64(size)
	return Coord{X: int(math.Floor(x / s)), Y: int(math.Floor(y / s))}
}

// Index is the coordinate → partition lookup. It is populated at world
// bootstrap and read-mostly afterwards. Not safe for concurrent use.
type Index struct {
	byCoord map[Coord]ID
	byID    map[ID]Coord
	nextID  ID
}

func NewIndex() *Index {
	return &Index{
		byCoord: map[Coord]ID{},
		byID:    map[ID]Coord{},
	}
}

// Register assigns a fresh id to c, or returns the existing one.
func (ix *Index) Register(c Coord) ID {
	if id, ok := ix.byCoord[c]; ok {
		return id
	}
	ix.nextID++
	id := ix.nextID
	ix.byCoord[c] = id
	ix.byID[id] = c
	return id
}

// Unregister removes c and returns the id it had.
func (ix *Index) Unregister(c Coord) (ID, bool) {
	id, ok := ix.byCoord[c]
	if !ok {
		return None, false
	}
	delete(ix.byCoord, c)
	delete(ix.byID, id)
	return id, true
}

func (ix *Index) Lookup(c Coord) (ID, bool) {
	id, ok := ix.byCoord[c]
	return id, ok
}

// CoordOf is the reverse lookup.
func (ix *Index) CoordOf(id ID) (Coord, bool) {
	c, ok := ix.byID[id]
	return c, ok
}

func (ix *Index) Len() int { return len(ix.byCoord) }

// Each visits every registered partition in no particular order.
func (ix *Index) Each(fn func(Coord, ID)) {
	for c, id := range ix.byCoord {
		fn(c, id)
	}
}
