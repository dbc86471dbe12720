// Package interest is the spatial interest-management engine. Engine is the
// single owner of the partition index, occupancy, observer lists and view
// windows; the world loop is its only caller.
package interest

import (
	"fmt"
	"slices"

	"regionsync.io/internal/sim/interest/diag"
	"regionsync.io/internal/sim/interest/ids"
	"regionsync.io/internal/sim/interest/observers"
	"regionsync.io/internal/sim/interest/occupancy"
	"regionsync.io/internal/sim/interest/partition"
	"regionsync.io/internal/sim/interest/replicate"
	"regionsync.io/internal/sim/interest/window"
)

type Config struct {
	// ViewSide is the default window side for observers that don't ask for one.
	ViewSide int
}

type Engine struct {
	index *partition.Index
	obs   *observers.Registry
	occ   *occupancy.Tracker
	win   *window.Manager
	rep   *replicate.Dispatcher
	diag  *diag.Recorder

	// controller maps an avatar to the observer that follows it.
	controller map[ids.Entity]ids.Observer
	avatar     map[ids.Observer]ids.Entity
}

func New(cfg Config, out replicate.Outbox, src replicate.StateSource, rec *diag.Recorder) *Engine {
	obs := observers.NewRegistry(rec)
	rep := replicate.NewDispatcher(out, src, rec)
	return &Engine{
		index:      partition.NewIndex(),
		obs:        obs,
		occ:        occupancy.NewTracker(obs, rep, rec),
		win:        window.NewManager(cfg.ViewSide),
		rep:        rep,
		diag:       rec,
		controller: map[ids.Entity]ids.Observer{},
		avatar:     map[ids.Observer]ids.Entity{},
	}
}

// SetTick stamps diagnostics and attribute updates produced from now on.
func (en *Engine) SetTick(tick uint64) {
	en.diag.SetTick(tick)
	en.rep.SetTick(tick)
}

// OnVisible registers fn for "observer gained visibility of entity".
func (en *Engine) OnVisible(fn replicate.VisibleFunc) { en.rep.OnVisible(fn) }

// RegisterPartition adds c to the index. Observers whose window already
// covers c load it immediately.
func (en *Engine) RegisterPartition(c partition.Coord) partition.ID {
	if id, ok := en.index.Lookup(c); ok {
		return id
	}
	id := en.index.Register(c)
	for _, o := range en.win.Observers() {
		st, _ := en.win.State(o)
		if covers(st.Window, c) {
			en.LoadRegion(o, c)
		}
	}
	return id
}

func covers(w []partition.Coord, c partition.Coord) bool {
	for _, wc := range w {
		if wc == c {
			return true
		}
	}
	return false
}

func (en *Engine) Lookup(c partition.Coord) (partition.ID, bool) { return en.index.Lookup(c) }

// Regions lists every registered coordinate in ascending order.
func (en *Engine) Regions() []partition.Coord {
	out := make([]partition.Coord, 0, en.index.Len())
	en.index.Each(func(c partition.Coord, _ partition.ID) { out = append(out, c) })
	slices.SortFunc(out, partition.Compare)
	return out
}

// UpdateOccupant moves e into the partition at c. An unregistered c is a
// missing reference: e keeps its previous membership. When e is an avatar,
// its observer's window follows it.
func (en *Engine) UpdateOccupant(e ids.Entity, c partition.Coord) occupancy.Change {
	id, ok := en.index.Lookup(c)
	if !ok {
		en.diag.Report(diag.Diagnostic{
			Kind:   diag.KindMissingRef,
			Entity: e,
			Detail: fmt.Sprintf("%s is at unregistered partition %s", e, c),
		})
		return occupancy.Unchanged
	}
	change := en.occ.Update(e, id)
	if o, ok := en.controller[e]; ok && (change != occupancy.Unchanged || !en.centered(o)) {
		en.RecenterObserver(o, c)
	}
	return change
}

func (en *Engine) centered(o ids.Observer) bool {
	st, ok := en.win.State(o)
	return ok && st.Centered
}

// RemoveOccupant despawns e from everyone watching its partition.
func (en *Engine) RemoveOccupant(e ids.Entity) bool {
	return en.occ.Remove(e)
}

// RemovePartition tears down the partition at c: every occupant is despawned
// from every observer, observers are told to unload it, and the coordinate
// is unregistered. It returns the removed occupants.
func (en *Engine) RemovePartition(c partition.Coord) []ids.Entity {
	id, ok := en.index.Lookup(c)
	if !ok {
		en.diag.Report(diag.Diagnostic{
			Kind:   diag.KindMissingRef,
			Detail: fmt.Sprintf("remove of unregistered partition %s", c),
		})
		return nil
	}
	removed := en.occ.RemovePartition(id)
	for _, o := range en.obs.Drop(id) {
		en.rep.UnloadRegion(o, c)
	}
	en.index.Unregister(c)
	return removed
}

// LoadRegion subscribes o to the partition at c and, on a fresh
// subscription, spawns every current occupant to o. Coordinates outside the
// grid are skipped.
func (en *Engine) LoadRegion(o ids.Observer, c partition.Coord) bool {
	id, ok := en.index.Lookup(c)
	if !ok {
		return false
	}
	if !en.obs.Add(id, o) {
		return false
	}
	en.rep.LoadRegion(o, c)
	for _, e := range en.occ.Occupants(id) {
		en.rep.Spawn(e, o)
	}
	return true
}

// UnloadRegion unsubscribes o from the partition at c and despawns its
// occupants from o.
func (en *Engine) UnloadRegion(o ids.Observer, c partition.Coord) bool {
	id, ok := en.index.Lookup(c)
	if !ok {
		return false
	}
	if !en.obs.Remove(id, o) {
		return false
	}
	for _, e := range en.occ.Occupants(id) {
		en.rep.Despawn(e, o)
	}
	en.rep.UnloadRegion(o, c)
	return true
}

// AttachObserver registers o. avatar is the entity o controls, or
// ids.NoEntity for a spectator. side <= 0 uses the default window side.
// The window is empty until the avatar is placed or RecenterObserver runs.
func (en *Engine) AttachObserver(o ids.Observer, avatar ids.Entity, side int) {
	en.win.Attach(o, side)
	if avatar == ids.NoEntity {
		return
	}
	if prev, ok := en.avatar[o]; ok && prev != avatar {
		delete(en.controller, prev)
		en.rep.Unbind(prev)
	}
	en.avatar[o] = avatar
	en.controller[avatar] = o
	en.rep.Bind(o, avatar)
	if p, ok := en.occ.PartitionOf(avatar); ok {
		if c, ok := en.index.CoordOf(p); ok {
			en.RecenterObserver(o, c)
		}
	}
}

// RecenterObserver moves o's window to center on c.
func (en *Engine) RecenterObserver(o ids.Observer, c partition.Coord) (entered, exited int) {
	return en.win.Recenter(o, c, hooks{en})
}

// DisconnectObserver unloads o's whole window and forgets o.
func (en *Engine) DisconnectObserver(o ids.Observer) int {
	n := en.win.Disconnect(o, hooks{en})
	if e, ok := en.avatar[o]; ok {
		delete(en.avatar, o)
		delete(en.controller, e)
	}
	en.rep.Forget(o)
	return n
}

// UpdateAttribute fans a out to the current observers of e's current
// partition.
func (en *Engine) UpdateAttribute(e ids.Entity, a replicate.Attr) int {
	p, ok := en.occ.PartitionOf(e)
	if !ok {
		en.diag.Report(diag.Diagnostic{
			Kind:   diag.KindMissingRef,
			Entity: e,
			Detail: fmt.Sprintf("%s update for %s which is in no partition", a.Kind, e),
		})
		return 0
	}
	return en.rep.Update(e, a, en.obs.Observers(p))
}

// CheckInvariants runs the sortedness and bijection checks, repairing what
// it can. It returns the number of repairs.
func (en *Engine) CheckInvariants() int {
	return en.obs.Check() + en.occ.Check()
}

func (en *Engine) PartitionOf(e ids.Entity) (partition.Coord, bool) {
	p, ok := en.occ.PartitionOf(e)
	if !ok {
		return partition.Coord{}, false
	}
	return en.index.CoordOf(p)
}

// Occupants lists the entities in the partition at c, ascending.
func (en *Engine) Occupants(c partition.Coord) []ids.Entity {
	id, ok := en.index.Lookup(c)
	if !ok {
		return nil
	}
	return en.occ.Occupants(id)
}

// Observers lists the observers of the partition at c, ascending.
func (en *Engine) Observers(c partition.Coord) []ids.Observer {
	id, ok := en.index.Lookup(c)
	if !ok {
		return nil
	}
	return append([]ids.Observer(nil), en.obs.Observers(id)...)
}

func (en *Engine) Window(o ids.Observer) (window.State, bool) { return en.win.State(o) }

func (en *Engine) Visible(o ids.Observer, e ids.Entity) bool { return en.rep.Visible(o, e) }

type Stats struct {
	Partitions         int             `json:"partitions"`
	OccupiedPartitions int             `json:"occupied_partitions"`
	Occupants          int             `json:"occupants"`
	Observers          int             `json:"observers"`
	Subscriptions      int             `json:"subscriptions"`
	Replication        replicate.Stats `json:"replication"`
}

func (en *Engine) Stats() Stats {
	return Stats{
		Partitions:         en.index.Len(),
		OccupiedPartitions: en.occ.Partitions(),
		Occupants:          en.occ.Len(),
		Observers:          en.win.Len(),
		Subscriptions:      en.obs.Edges(),
		Replication:        en.rep.Stats(),
	}
}

// hooks adapts window transitions to region loads.
type hooks struct{ en *Engine }

func (h hooks) Enter(o ids.Observer, c partition.Coord) { h.en.LoadRegion(o, c) }
func (h hooks) Exit(o ids.Observer, c partition.Coord)  { h.en.UnloadRegion(o, c) }
