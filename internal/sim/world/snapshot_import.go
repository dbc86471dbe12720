package world

import (
	"fmt"

	"regionsync.io/internal/persistence/snapshot"
	"regionsync.io/internal/sim/catalogs"
	"regionsync.io/internal/sim/interest/ids"
	"regionsync.io/internal/sim/interest/partition"
)

// ImportSnapshot replaces the world's regions and entities with the
// snapshot's and sets the tick to snapshotTick+1, the next tick to simulate.
//
// It must be called before Run and before any session joins. Restored
// players come back detached and wait for a resume with their token.
func (w *World) ImportSnapshot(s snapshot.SnapshotV1) error {
	if s.Header.Version != snapshot.Version {
		return fmt.Errorf("unsupported snapshot version: %d", s.Header.Version)
	}
	if s.RegionSize != w.cfg.RegionSize {
		return fmt.Errorf("snapshot region_size mismatch: cfg=%d snap=%d", w.cfg.RegionSize, s.RegionSize)
	}
	if len(w.sessions) != 0 {
		return fmt.Errorf("snapshot import with %d active sessions", len(w.sessions))
	}
	for _, ev := range s.Entities {
		if _, ok := w.classes.Get(ev.Class); !ok {
			return fmt.Errorf("snapshot entity %d has unknown class %q", ev.ID, ev.Class)
		}
	}

	for _, id := range w.sortedEntities() {
		w.removeEntity(id)
	}

	want := make(map[partition.Coord]bool, len(s.Regions))
	for _, r := range s.Regions {
		want[partition.Coord{X: r[0], Y: r[1]}] = true
	}
	for _, c := range w.engine.Regions() {
		if !want[c] {
			w.engine.RemovePartition(c)
		}
	}
	for _, r := range s.Regions {
		w.engine.RegisterPartition(partition.Coord{X: r[0], Y: r[1]})
	}

	var maxID uint64
	for _, ev := range s.Entities {
		class, _ := w.classes.Get(ev.Class)
		if class.Kind == catalogs.KindPlayer && ev.ResumeToken == "" {
			continue
		}
		e := &Entity{
			ID:    ids.Entity(ev.ID),
			Class: class.ID,
			Kind:  class.Kind,
			Name:  ev.Name,
			Pos:   ev.Pos,
			Yaw:   ev.Yaw,
			Pitch: ev.Pitch,
			Dir:   ev.Dir,
			Speed: class.Speed,
			Age:   ev.Age,
			Tile:  ev.Tile,
		}
		if class.Kind == catalogs.KindPlayer {
			e.Dir = [2]float64{}
			e.ResumeToken = ev.ResumeToken
			e.DetachedAt = s.Header.Tick + 1
			if e.Speed <= 0 {
				e.Speed = w.cfg.PlayerSpeed
			}
		}
		w.place(e)
		maxID = max(maxID, ev.ID)
	}

	w.nextEntity = max(s.NextEntity, maxID)
	w.nextObserver = s.NextObserver
	w.timeOfDay = wrapHour(s.TimeOfDay)
	w.seq = NewSeqGuard()
	w.diag.Drain()

	w.log.WithField("tick", s.Header.Tick).WithField("entities", len(w.entities)).Info("snapshot imported")

	// Resume on the next tick.
	w.tick.Store(s.Header.Tick + 1)
	return nil
}
