package world

import (
	"math"

	"regionsync.io/internal/sim/catalogs"
)

func (w *World) spawnFauna() {
	kinds := w.classes.OfKind(catalogs.KindFauna)
	if len(kinds) == 0 {
		return
	}
	lo, hi := w.cfg.bounds()
	for i := 0; i < w.cfg.FaunaCount; i++ {
		pos := [2]float64{lo + w.rng.Float64()*(hi-lo), lo + w.rng.Float64()*(hi-lo)}
		w.place(w.newEntity(kinds[i%len(kinds)], pos))
	}
}

// wander moves fauna. Each creature picks a new heading on its own phase of
// the wander period; one time in four it stands still.
func (w *World) wander(tick uint64) {
	period := uint64(w.cfg.FaunaWanderTicks)
	for _, id := range w.sortedEntities() {
		e := w.entities[id]
		if e.Kind != catalogs.KindFauna {
			continue
		}
		if (tick+uint64(id))%period == 0 {
			if w.rng.Intn(4) == 0 {
				e.Dir = [2]float64{}
			} else {
				a := w.rng.Float64() * 2 * math.Pi
				e.Dir = [2]float64{math.Cos(a), math.Sin(a)}
				w.setYaw(e, a)
			}
		}
		w.move(e, e.Speed)
	}
}
