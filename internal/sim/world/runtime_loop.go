package world

import (
	"context"
	"time"

	"regionsync.io/internal/sim/interest/ids"
)

func (w *World) Run(ctx context.Context) error {
	defer close(w.done)
	interval := time.Second / time.Duration(w.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pendingJoins []JoinRequest
	var pendingLeaves []ids.Observer
	var pendingInputs []InputEnvelope

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case req := <-w.join:
			pendingJoins = append(pendingJoins, req)
		case id := <-w.leave:
			pendingLeaves = append(pendingLeaves, id)
		case env := <-w.inbox:
			pendingInputs = append(pendingInputs, env)
		case req := <-w.spectate:
			w.handleSpectate(req)
		case req := <-w.subscribe:
			w.handleSubscribe(req)
		case req := <-w.regionReq:
			w.handleRegionReq(req)
		case req := <-w.statsReq:
			w.handleStatsReq(req)
		case req := <-w.admin:
			w.handleAdminSnapshot(req)
		case <-ticker.C:
			w.step(pendingJoins, pendingLeaves, pendingInputs)
			pendingJoins = pendingJoins[:0]
			pendingLeaves = pendingLeaves[:0]
			pendingInputs = pendingInputs[:0]
		}
	}
}

func (w *World) Stop() { close(w.stop) }

// StepOnce advances the world by a single tick using the same ordering
// semantics as the server. It is intended for tests and replays.
func (w *World) StepOnce(joins []JoinRequest, leaves []ids.Observer, inputs []InputEnvelope) TickLogEntry {
	return w.step(joins, leaves, inputs)
}

// step runs one tick. Every engine mutation of the tick happens here, in
// order: joins, leaves, inputs, movement, crops, housekeeping.
func (w *World) step(joins []JoinRequest, leaves []ids.Observer, inputs []InputEnvelope) TickLogEntry {
	tick := w.tick.Load()
	w.engine.SetTick(tick)
	w.diag.SetTick(tick)
	before := w.engine.Stats().Replication

	for _, req := range joins {
		w.handleJoin(req)
	}
	for _, o := range leaves {
		w.handleLeave(o)
	}
	w.applyInputs(inputs)
	w.movePlayers()
	w.wander(tick)
	if tick > 0 && tick%uint64(w.cfg.CropAgeEveryTicks) == 0 {
		w.ageCrops()
	}
	if w.cfg.ResumeGraceTicks > 0 {
		w.reapDetached(tick)
	}
	w.advanceClock(tick)
	w.dropOverflowed()
	digest := ""
	if w.cfg.CheckEveryTicks > 0 && tick%uint64(w.cfg.CheckEveryTicks) == 0 {
		if n := w.engine.CheckInvariants(); n > 0 {
			w.log.WithField("repairs", n).Warn("interest invariants repaired")
		}
		digest = w.stateDigest(tick)
	}

	after := w.engine.Stats().Replication
	diags := w.diag.Drain()
	entry := TickLogEntry{
		Tick:          tick,
		Joins:         w.cur.joins,
		Leaves:        w.cur.leaves,
		Inputs:        w.cur.inputs,
		DroppedInputs: w.cur.droppedInputs,
		Spawns:        after.Spawns - before.Spawns,
		Despawns:      after.Despawns - before.Despawns,
		Updates:       after.Updates - before.Updates,
		Loads:         after.Loads - before.Loads,
		Unloads:       after.Unloads - before.Unloads,
		Diagnostics:   len(diags),
		Entities:      len(w.entities),
		Digest:        digest,
	}
	w.lifetime.Ticks++
	w.lifetime.Inputs += uint64(w.cur.inputs)
	w.lifetime.DroppedInputs += uint64(w.cur.droppedInputs)
	w.lifetime.DroppedUnreliable += w.cur.droppedUnreliable
	w.lifetime.Diagnostics += uint64(len(diags))
	w.cur = tickCounters{}

	if w.tickLogger != nil {
		if err := w.tickLogger.WriteTick(entry); err != nil {
			w.log.WithError(err).Warn("tick log write failed")
		}
	}
	if w.diagLogger != nil {
		for _, d := range diags {
			if err := w.diagLogger.WriteDiagnostic(d); err != nil {
				w.log.WithError(err).Warn("diagnostic log write failed")
				break
			}
		}
	}
	if w.snapshotSink != nil && w.cfg.SnapshotEveryTicks > 0 && tick > 0 && tick%uint64(w.cfg.SnapshotEveryTicks) == 0 {
		snap := w.ExportSnapshot(tick)
		select {
		case w.snapshotSink <- snap:
		default:
			w.log.WithField("tick", tick).Warn("snapshot sink full; skipping")
		}
	}

	w.tick.Add(1)
	return entry
}
