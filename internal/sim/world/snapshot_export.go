package world

import (
	"regionsync.io/internal/persistence/snapshot"
	"regionsync.io/internal/sim/catalogs"
)

// ExportSnapshot captures the world at nowTick. It must run on the world
// loop goroutine.
func (w *World) ExportSnapshot(nowTick uint64) snapshot.SnapshotV1 {
	regions := w.engine.Regions()
	rs := make([][2]int, 0, len(regions))
	for _, c := range regions {
		rs = append(rs, [2]int{c.X, c.Y})
	}

	ents := make([]snapshot.EntityV1, 0, len(w.entities))
	for _, id := range w.sortedEntities() {
		e := w.entities[id]
		ev := snapshot.EntityV1{
			ID:    uint64(e.ID),
			Class: e.Class,
			Name:  e.Name,
			Pos:   e.Pos,
			Yaw:   e.Yaw,
			Pitch: e.Pitch,
			Dir:   e.Dir,
		}
		switch e.Kind {
		case catalogs.KindCrop:
			ev.Age = e.Age
			ev.Tile = e.Tile
		case catalogs.KindPlayer:
			ev.Dir = [2]float64{}
			ev.ResumeToken = e.ResumeToken
		}
		ents = append(ents, ev)
	}

	return snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version: snapshot.Version,
			WorldID: w.cfg.ID,
			Tick:    nowTick,
		},
		Seed:           w.cfg.Seed,
		TickRate:       w.cfg.TickRateHz,
		RegionSize:     w.cfg.RegionSize,
		GridHalfExtent: w.cfg.GridHalfExtent,
		NextEntity:     w.nextEntity,
		NextObserver:   w.nextObserver,
		TimeOfDay:      w.timeOfDay,
		Regions:        rs,
		Entities:       ents,
	}
}
