// Package replicate turns visibility changes and attribute changes into
// targeted wire messages.
package replicate

import (
	"fmt"
	"slices"

	"regionsync.io/internal/protocol"
	"regionsync.io/internal/sim/interest/diag"
	"regionsync.io/internal/sim/interest/ids"
	"regionsync.io/internal/sim/interest/partition"
)

// Outbox accepts per-observer messages. Send must not block; the transport
// decides what to do with a full queue based on the delivery class.
type Outbox interface {
	Send(o ids.Observer, d protocol.Delivery, msg any)
}

// StateSource supplies the full current state of an entity for spawns.
type StateSource interface {
	State(e ids.Entity) (State, bool)
}

// VisibleFunc is called when o gains sight of e, just before the spawn is
// sent. Messages it sends reach o ahead of the spawn.
type VisibleFunc func(o ids.Observer, e ids.Entity)

type Stats struct {
	Spawns       uint64 `json:"spawns"`
	Despawns     uint64 `json:"despawns"`
	Updates      uint64 `json:"updates"`
	Loads        uint64 `json:"loads"`
	Unloads      uint64 `json:"unloads"`
	SelfFiltered uint64 `json:"self_filtered"`
	Suppressed   uint64 `json:"suppressed"`
}

// Dispatcher implements occupancy.Fanout. It keeps, per observer, the set of
// entities that observer has been spawned and not yet despawned, and refuses
// anything that would break that ledger.
type Dispatcher struct {
	out  Outbox
	src  StateSource
	diag *diag.Recorder

	owner   map[ids.Entity]ids.Observer
	visible map[ids.Observer]map[ids.Entity]struct{}
	hooks   []VisibleFunc

	tick  uint64
	stats Stats
}

func NewDispatcher(out Outbox, src StateSource, rec *diag.Recorder) *Dispatcher {
	return &Dispatcher{
		out:     out,
		src:     src,
		diag:    rec,
		owner:   map[ids.Entity]ids.Observer{},
		visible: map[ids.Observer]map[ids.Entity]struct{}{},
	}
}

// SetTick stamps subsequent attribute updates.
func (d *Dispatcher) SetTick(tick uint64) { d.tick = tick }

// Bind records that o controls e. o never receives spawns, despawns or
// updates for e.
func (d *Dispatcher) Bind(o ids.Observer, e ids.Entity) {
	if e == ids.NoEntity {
		return
	}
	d.owner[e] = o
}

func (d *Dispatcher) Unbind(e ids.Entity) { delete(d.owner, e) }

// OnVisible registers fn to run whenever an observer gains sight of an entity.
func (d *Dispatcher) OnVisible(fn VisibleFunc) { d.hooks = append(d.hooks, fn) }

func (d *Dispatcher) isSelf(e ids.Entity, o ids.Observer) bool {
	owner, ok := d.owner[e]
	return ok && owner == o
}

func (d *Dispatcher) suppress(e ids.Entity, o ids.Observer, detail string) {
	d.stats.Suppressed++
	d.diag.Report(diag.Diagnostic{
		Kind:     diag.KindProtocolViolation,
		Entity:   e,
		Observer: o,
		Detail:   detail,
	})
}

// Spawn sends e's full state to o.
func (d *Dispatcher) Spawn(e ids.Entity, o ids.Observer) {
	if d.isSelf(e, o) {
		d.stats.SelfFiltered++
		return
	}
	seen := d.visible[o]
	if _, dup := seen[e]; dup {
		d.suppress(e, o, fmt.Sprintf("duplicate spawn of %s to %s", e, o))
		return
	}
	st, ok := d.src.State(e)
	if !ok {
		d.diag.Report(diag.Diagnostic{
			Kind:     diag.KindMissingRef,
			Entity:   e,
			Observer: o,
			Detail:   fmt.Sprintf("no state for %s, spawn to %s skipped", e, o),
		})
		return
	}
	if seen == nil {
		seen = map[ids.Entity]struct{}{}
		d.visible[o] = seen
	}
	seen[e] = struct{}{}
	d.stats.Spawns++
	for _, fn := range d.hooks {
		fn(o, e)
	}
	d.out.Send(o, protocol.Reliable, protocol.SpawnEntityMsg{
		Type:   protocol.TypeSpawn,
		Entity: e.String(),
		Attrs:  st.Wire(),
	})
}

// Despawn tells o to forget e.
func (d *Dispatcher) Despawn(e ids.Entity, o ids.Observer) {
	if d.isSelf(e, o) {
		d.stats.SelfFiltered++
		return
	}
	seen := d.visible[o]
	if _, ok := seen[e]; !ok {
		d.suppress(e, o, fmt.Sprintf("despawn of %s to %s which never saw it", e, o))
		return
	}
	delete(seen, e)
	if len(seen) == 0 {
		delete(d.visible, o)
	}
	d.stats.Despawns++
	d.out.Send(o, protocol.Reliable, protocol.DespawnEntityMsg{
		Type:   protocol.TypeDespawn,
		Entity: e.String(),
	})
}

// Update fans a out to observers, skipping e's controller and anyone e has
// not been spawned to. It returns the number of messages sent.
func (d *Dispatcher) Update(e ids.Entity, a Attr, observers []ids.Observer) int {
	msg := protocol.AttrUpdateMsg{
		Type:   protocol.TypeAttrUpdate,
		Tick:   d.tick,
		Entity: e.String(),
		Attr:   a.Kind.String(),
		Value:  a.Value(),
	}
	delivery := a.Kind.Delivery()
	sent := 0
	for _, o := range observers {
		if d.isSelf(e, o) {
			continue
		}
		if _, ok := d.visible[o][e]; !ok {
			d.suppress(e, o, fmt.Sprintf("%s update of %s to %s before spawn", a.Kind, e, o))
			continue
		}
		d.out.Send(o, delivery, msg)
		sent++
	}
	d.stats.Updates += uint64(sent)
	return sent
}

func (d *Dispatcher) LoadRegion(o ids.Observer, c partition.Coord) {
	d.stats.Loads++
	d.out.Send(o, protocol.Reliable, protocol.LoadRegionMsg{
		Type:   protocol.TypeLoadRegion,
		Region: [2]int{c.X, c.Y},
	})
}

func (d *Dispatcher) UnloadRegion(o ids.Observer, c partition.Coord) {
	d.stats.Unloads++
	d.out.Send(o, protocol.Reliable, protocol.UnloadRegionMsg{
		Type:   protocol.TypeUnloadRegion,
		Region: [2]int{c.X, c.Y},
	})
}

// Visible reports whether o currently has e spawned.
func (d *Dispatcher) Visible(o ids.Observer, e ids.Entity) bool {
	_, ok := d.visible[o][e]
	return ok
}

// VisibleTo lists the entities o has spawned, ascending.
func (d *Dispatcher) VisibleTo(o ids.Observer) []ids.Entity {
	out := make([]ids.Entity, 0, len(d.visible[o]))
	for e := range d.visible[o] {
		out = append(out, e)
	}
	slices.Sort(out)
	return out
}

// Forget drops o's ledger. Entries still present mean a spawn was never
// balanced by a despawn; they are reported and returned.
func (d *Dispatcher) Forget(o ids.Observer) []ids.Entity {
	leaked := d.VisibleTo(o)
	delete(d.visible, o)
	for e, owner := range d.owner {
		if owner == o {
			delete(d.owner, e)
		}
	}
	if len(leaked) > 0 {
		d.diag.Report(diag.Diagnostic{
			Kind:     diag.KindInconsistency,
			Observer: o,
			Detail:   fmt.Sprintf("%s left with %d entities never despawned: %v", o, len(leaked), leaked),
		})
	}
	return leaked
}

func (d *Dispatcher) Stats() Stats { return d.stats }
