package world

import (
	"math"
	"slices"

	"regionsync.io/internal/sim/catalogs"
	"regionsync.io/internal/sim/interest/ids"
	"regionsync.io/internal/sim/interest/partition"
	"regionsync.io/internal/sim/interest/replicate"
)

const playerClass = "player"

type Entity struct {
	ID    ids.Entity
	Class string
	Kind  catalogs.Kind
	Name  string

	Pos   [2]float64
	Yaw   float64
	Pitch float64
	// Dir is the current heading, at most unit length. Players set it by
	// input; fauna pick a new one every wander period.
	Dir   [2]float64
	Speed float64

	// Crops only.
	Age  int64
	Tile [2]int

	// Players only. Observer is zero while no session controls the avatar.
	ResumeToken string
	Observer    ids.Observer
	DetachedAt  uint64

	// cell is the region the engine has the entity in, placed whether the
	// engine has seen it at all. stray is the unregistered region it is
	// standing in instead, strayed whether there is one.
	cell    partition.Coord
	placed  bool
	stray   partition.Coord
	strayed bool
}

// State implements replicate.StateSource.
func (w *World) State(id ids.Entity) (replicate.State, bool) {
	e := w.entities[id]
	if e == nil {
		return nil, false
	}
	return e.state(), true
}

func (e *Entity) state() replicate.State {
	s := replicate.State{
		replicate.Class(e.Class),
		replicate.Position(e.Pos[0], e.Pos[1]),
	}
	switch e.Kind {
	case catalogs.KindCrop:
		s = append(s, replicate.Tile(e.Tile[0], e.Tile[1]), replicate.Age(e.Age))
	default:
		s = append(s, replicate.Yaw(e.Yaw), replicate.Pitch(e.Pitch))
	}
	if e.Name != "" {
		s = append(s, replicate.Name(e.Name))
	}
	return s
}

func (w *World) newEntity(class catalogs.ClassDef, pos [2]float64) *Entity {
	return &Entity{
		ID:    w.newEntityID(),
		Class: class.ID,
		Kind:  class.Kind,
		Pos:   pos,
		Speed: class.Speed,
	}
}

// place adds e to the world and spawns it to everyone watching its region.
func (w *World) place(e *Entity) {
	w.entities[e.ID] = e
	if e.Kind == catalogs.KindCrop {
		w.tiles[e.Tile] = e.ID
	}
	w.relocate(e)
}

// relocate hands e's region to the engine when it changed. A region outside
// the registered grid leaves the engine's membership as it was; the engine
// reports that once per unregistered region entered.
func (w *World) relocate(e *Entity) {
	c := partition.FromPosition(e.Pos[0], e.Pos[1], w.cfg.RegionSize)
	if e.placed && c == e.cell {
		e.strayed = false
		return
	}
	if _, ok := w.engine.Lookup(c); !ok {
		if !e.strayed || e.stray != c {
			w.engine.UpdateOccupant(e.ID, c)
		}
		e.stray, e.strayed = c, true
		return
	}
	e.cell, e.placed = c, true
	e.strayed = false
	w.engine.UpdateOccupant(e.ID, c)
}

// rehome places every entity standing in c that the engine has elsewhere or
// nowhere. It runs after c is registered.
func (w *World) rehome(c partition.Coord) int {
	n := 0
	for _, id := range w.sortedEntities() {
		e := w.entities[id]
		if e.placed && e.cell == c {
			continue
		}
		if partition.FromPosition(e.Pos[0], e.Pos[1], w.cfg.RegionSize) != c {
			continue
		}
		w.relocate(e)
		n++
	}
	return n
}

func (w *World) removeEntity(id ids.Entity) {
	e := w.entities[id]
	if e == nil {
		return
	}
	if _, ok := w.engine.PartitionOf(id); ok {
		w.engine.RemoveOccupant(id)
	}
	if e.Kind == catalogs.KindCrop && w.tiles[e.Tile] == id {
		delete(w.tiles, e.Tile)
	}
	delete(w.entities, id)
}

// move advances e along its heading for one tick, clamped to the grid.
// It reports whether the position changed; hitting an edge zeroes that
// component of the heading.
func (w *World) move(e *Entity, speed float64) bool {
	if speed <= 0 || (e.Dir[0] == 0 && e.Dir[1] == 0) {
		return false
	}
	step := speed / float64(w.cfg.TickRateHz)
	lo, hi := w.cfg.bounds()
	old := e.Pos
	for i := 0; i < 2; i++ {
		v := e.Pos[i] + e.Dir[i]*step
		if v < lo {
			v = lo
			e.Dir[i] = 0
		}
		if v >= hi {
			v = math.Nextafter(hi, lo)
			e.Dir[i] = 0
		}
		e.Pos[i] = v
	}
	if e.Pos == old {
		return false
	}
	w.relocate(e)
	w.engine.UpdateAttribute(e.ID, replicate.Position(e.Pos[0], e.Pos[1]))
	return true
}

func (w *World) setYaw(e *Entity, yaw float64) {
	if yaw == e.Yaw {
		return
	}
	e.Yaw = yaw
	w.engine.UpdateAttribute(e.ID, replicate.Yaw(yaw))
}

func (w *World) setPitch(e *Entity, pitch float64) {
	if pitch == e.Pitch {
		return
	}
	e.Pitch = pitch
	w.engine.UpdateAttribute(e.ID, replicate.Pitch(pitch))
}

// clampUnit scales v down to length 1 when it is longer.
func clampUnit(v [2]float64) [2]float64 {
	if math.IsNaN(v[0]) || math.IsNaN(v[1]) || math.IsInf(v[0], 0) || math.IsInf(v[1], 0) {
		return [2]float64{}
	}
	l := math.Hypot(v[0], v[1])
	if l <= 1 {
		return v
	}
	return [2]float64{v[0] / l, v[1] / l}
}

func (w *World) countKind(k catalogs.Kind) int {
	n := 0
	for _, e := range w.entities {
		if e.Kind == k {
			n++
		}
	}
	return n
}

// sortedEntities lists entity ids ascending so per-tick passes are
// deterministic.
func (w *World) sortedEntities() []ids.Entity {
	out := make([]ids.Entity, 0, len(w.entities))
	for id := range w.entities {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
