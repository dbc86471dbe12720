package world

import (
	"fmt"
	"math"

	"regionsync.io/internal/sim/catalogs"
	"regionsync.io/internal/sim/interest/diag"
	"regionsync.io/internal/sim/interest/ids"
	"regionsync.io/internal/sim/interest/replicate"
)

// SeqGuard accepts a connection's messages only while their sequence numbers
// strictly increase. Unreliable transports may reorder; anything at or below
// the last accepted number is stale.
type SeqGuard struct {
	last map[ids.Observer]uint64
}

func NewSeqGuard() *SeqGuard {
	return &SeqGuard{last: map[ids.Observer]uint64{}}
}

func (g *SeqGuard) Accept(o ids.Observer, seq uint64) bool {
	if last, ok := g.last[o]; ok && seq <= last {
		return false
	}
	g.last[o] = seq
	return true
}

func (g *SeqGuard) Last(o ids.Observer) (uint64, bool) {
	v, ok := g.last[o]
	return v, ok
}

func (g *SeqGuard) Forget(o ids.Observer) { delete(g.last, o) }

func (w *World) applyInputs(envs []InputEnvelope) {
	for _, env := range envs {
		var seq uint64
		switch {
		case env.Input != nil:
			seq = env.Input.Seq
		case env.SetName != nil:
			seq = env.SetName.Seq
		default:
			continue
		}
		s := w.sessions[env.Observer]
		if s == nil {
			continue
		}
		w.cur.inputs++
		if !w.seq.Accept(env.Observer, seq) {
			last, _ := w.seq.Last(env.Observer)
			w.cur.droppedInputs++
			w.diag.Report(diag.Diagnostic{
				Kind:     diag.KindStaleInput,
				Observer: env.Observer,
				Detail:   fmt.Sprintf("seq %d not after %d", seq, last),
			})
			continue
		}
		e := w.entities[s.avatar]
		if e == nil {
			continue
		}
		switch {
		case env.Input != nil:
			e.Dir = clampUnit(env.Input.Direction)
			if yaw := env.Input.Yaw; !math.IsNaN(yaw) && !math.IsInf(yaw, 0) {
				w.setYaw(e, yaw)
			}
			if pitch := env.Input.Pitch; !math.IsNaN(pitch) && !math.IsInf(pitch, 0) {
				w.setPitch(e, clampPitch(pitch))
			}
		case env.SetName != nil:
			name := normalizeName(env.SetName.Name)
			if name != "" && name != e.Name {
				e.Name = name
				w.engine.UpdateAttribute(e.ID, replicate.Name(name))
			}
		}
	}
}

func clampPitch(p float64) float64 {
	return math.Max(-math.Pi/2, math.Min(math.Pi/2, p))
}

func (w *World) movePlayers() {
	for _, id := range w.sortedEntities() {
		e := w.entities[id]
		if e.Kind != catalogs.KindPlayer || e.Observer == 0 {
			continue
		}
		w.move(e, e.Speed)
	}
}
