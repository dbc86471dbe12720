package world

import (
	"context"
	"errors"

	"regionsync.io/internal/sim/catalogs"
	"regionsync.io/internal/sim/interest/ids"
	"regionsync.io/internal/sim/interest/partition"
)

// spawnRegion is the registered region nearest the origin, ties broken by
// coordinate order.
func (w *World) spawnRegion() (partition.Coord, bool) {
	var best partition.Coord
	found := false
	for _, c := range w.engine.Regions() {
		if !found || c.X*c.X+c.Y*c.Y < best.X*best.X+best.Y*best.Y {
			best, found = c, true
		}
	}
	return best, found
}

// bootstrapGrid registers the (2H+1)² square of regions around the origin.
func (w *World) bootstrapGrid() {
	h := w.cfg.GridHalfExtent
	for x := -h; x <= h; x++ {
		for y := -h; y <= h; y++ {
			w.engine.RegisterPartition(partition.Coord{X: x, Y: y})
		}
	}
}

type regionOp int

const (
	regionAdd regionOp = iota + 1
	regionRemove
)

type regionReq struct {
	Op    regionOp
	Coord partition.Coord
	Resp  chan regionResp
}

type regionResp struct {
	Removed []ids.Entity
	OK      bool
}

// RequestRemoveRegion tears a region down: its occupants are despawned from
// every observer and the region leaves the grid. Players standing in it are
// sent back to the spawn point; everything else in it is destroyed.
func (w *World) RequestRemoveRegion(ctx context.Context, c partition.Coord) ([]ids.Entity, bool, error) {
	return w.requestRegion(ctx, regionReq{Op: regionRemove, Coord: c})
}

// RequestAddRegion (re)registers a region. Observers whose window covers it
// load it at once.
func (w *World) RequestAddRegion(ctx context.Context, c partition.Coord) (bool, error) {
	_, ok, err := w.requestRegion(ctx, regionReq{Op: regionAdd, Coord: c})
	return ok, err
}

func (w *World) requestRegion(ctx context.Context, req regionReq) ([]ids.Entity, bool, error) {
	if w == nil || w.regionReq == nil {
		return nil, false, errors.New("region requests not available")
	}
	req.Resp = make(chan regionResp, 1)
	select {
	case w.regionReq <- req:
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
	select {
	case resp := <-req.Resp:
		return resp.Removed, resp.OK, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

func (w *World) handleRegionReq(req regionReq) {
	var resp regionResp
	switch req.Op {
	case regionAdd:
		_, exists := w.engine.Lookup(req.Coord)
		w.engine.RegisterPartition(req.Coord)
		if !exists {
			w.rehome(req.Coord)
		}
		resp.OK = !exists
	case regionRemove:
		resp.Removed, resp.OK = w.removeRegion(req.Coord)
	}
	if req.Resp != nil {
		select {
		case req.Resp <- resp:
		default:
		}
	}
}

// removeRegion refuses to remove the last region so players always have
// somewhere to go.
func (w *World) removeRegion(c partition.Coord) ([]ids.Entity, bool) {
	if _, ok := w.engine.Lookup(c); !ok {
		return nil, false
	}
	if len(w.engine.Regions()) == 1 {
		w.log.WithField("region", c.String()).Warn("refusing to remove the last region")
		return nil, false
	}
	removed := w.engine.RemovePartition(c)
	for _, id := range removed {
		e := w.entities[id]
		if e == nil {
			continue
		}
		if e.Kind == catalogs.KindPlayer {
			e.placed = false
			if pos, ok := w.spawnPoint(uint64(id)); ok {
				e.Pos = pos
				e.Dir = [2]float64{}
			}
			w.relocate(e)
			continue
		}
		e.placed = false
		w.removeEntity(id)
	}
	return removed, true
}
