package world

import (
	"context"
	"errors"
)

type adminSnapshotReq struct {
	Resp chan adminSnapshotResp
}

type adminSnapshotResp struct {
	Tick uint64
	Err  string
}

// RequestSnapshot asks the world loop to push a snapshot of the last
// completed tick into the snapshot sink. Safe to call from any goroutine.
func (w *World) RequestSnapshot(ctx context.Context) (tick uint64, err error) {
	if w == nil || w.admin == nil {
		return 0, errors.New("admin snapshot not available")
	}
	req := adminSnapshotReq{Resp: make(chan adminSnapshotResp, 1)}

	select {
	case w.admin <- req:
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	select {
	case r := <-req.Resp:
		if r.Err != "" {
			return r.Tick, errors.New(r.Err)
		}
		return r.Tick, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (w *World) handleAdminSnapshot(req adminSnapshotReq) {
	snapTick := w.LastTick()

	errStr := ""
	if w.snapshotSink == nil {
		errStr = "snapshot sink not configured"
	} else {
		select {
		case w.snapshotSink <- w.ExportSnapshot(snapTick):
		default:
			errStr = "snapshot sink backpressure"
		}
	}

	select {
	case req.Resp <- adminSnapshotResp{Tick: snapTick, Err: errStr}:
	default:
		// Caller gave up; never block the loop.
	}
}

// LastTick is the most recent completed tick, or 0 before the first one.
func (w *World) LastTick() uint64 {
	if cur := w.tick.Load(); cur > 0 {
		return cur - 1
	}
	return 0
}
