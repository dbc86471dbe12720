package world

import (
	"regionsync.io/internal/sim/catalogs"
	"regionsync.io/internal/sim/interest/replicate"
)

var tileNeighbors = [...][2]int{{0, -1}, {1, 0}, {0, 1}, {-1, 0}}

func (w *World) tileInBounds(t [2]int) bool {
	lo, hi := w.cfg.bounds()
	for _, v := range t {
		if float64(v) < lo || float64(v)+1 > hi {
			return false
		}
	}
	return true
}

// plantCrop places a crop of class on tile t. It fails when the tile is
// taken, outside the grid, or the crop cap is reached.
func (w *World) plantCrop(class catalogs.ClassDef, t [2]int, age int64) (*Entity, bool) {
	if class.Kind != catalogs.KindCrop || !w.tileInBounds(t) {
		return nil, false
	}
	if _, taken := w.tiles[t]; taken {
		return nil, false
	}
	if w.cfg.MaxCrops > 0 && len(w.tiles) >= w.cfg.MaxCrops {
		return nil, false
	}
	e := w.newEntity(class, [2]float64{float64(t[0]) + 0.5, float64(t[1]) + 0.5})
	e.Tile = t
	e.Age = age
	w.place(e)
	return e, true
}

func (w *World) seedCrops() {
	var roots []catalogs.ClassDef
	for _, d := range w.classes.OfKind(catalogs.KindCrop) {
		if d.NextStage != "" {
			roots = append(roots, d)
		}
	}
	if len(roots) == 0 {
		return
	}
	lo, hi := w.cfg.bounds()
	span := int(hi - lo)
	for i, tries := 0, 0; i < w.cfg.InitialCrops && tries < w.cfg.InitialCrops*8; tries++ {
		t := [2]int{int(lo) + w.rng.Intn(span), int(lo) + w.rng.Intn(span)}
		if _, ok := w.plantCrop(roots[i%len(roots)], t, 0); ok {
			i++
		}
	}
}

// ageCrops advances every crop by one age. A crop reaching its class's
// next_age is replaced by the next stage on the same tile; a crop with a
// seeding interval plants a seed on a free neighbouring tile.
func (w *World) ageCrops() {
	for _, id := range w.sortedEntities() {
		e := w.entities[id]
		if e == nil || e.Kind != catalogs.KindCrop {
			continue
		}
		def, ok := w.classes.Get(e.Class)
		if !ok {
			continue
		}
		e.Age++

		if def.NextStage != "" && e.Age >= def.NextAge {
			next, _ := w.classes.Get(def.NextStage)
			tile := e.Tile
			w.removeEntity(e.ID)
			w.plantCrop(next, tile, 0)
			continue
		}
		w.engine.UpdateAttribute(e.ID, replicate.Age(e.Age))

		if def.SeedingInterval > 0 && e.Age%def.SeedingInterval == 0 {
			seed, _ := w.classes.Get(def.SeedClass)
			for _, k := range w.rng.Perm(len(tileNeighbors)) {
				n := tileNeighbors[k]
				if _, ok := w.plantCrop(seed, [2]int{e.Tile[0] + n[0], e.Tile[1] + n[1]}, 0); ok {
					break
				}
			}
		}
	}
}
