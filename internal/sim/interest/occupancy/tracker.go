// Package occupancy tracks which partition every entity is in, in both
// directions, and turns membership changes into spawn/despawn fan-out.
package occupancy

import (
	"fmt"
	"slices"

	"regionsync.io/internal/sim/interest/diag"
	"regionsync.io/internal/sim/interest/diff"
	"regionsync.io/internal/sim/interest/ids"
	"regionsync.io/internal/sim/interest/observers"
	"regionsync.io/internal/sim/interest/partition"
)

// Fanout receives per-observer visibility changes.
type Fanout interface {
	Spawn(e ids.Entity, o ids.Observer)
	Despawn(e ids.Entity, o ids.Observer)
}

// Change describes what Update did.
type Change int

const (
	Unchanged Change = iota
	Spawned
	Moved
)

func (c Change) String() string {
	switch c {
	case Spawned:
		return "spawned"
	case Moved:
		return "moved"
	default:
		return "unchanged"
	}
}

// Tracker keeps entity→partition and partition→occupants in agreement.
// Invariant: e ∈ occupants[p] ⇔ partitionOf[e] == p.
type Tracker struct {
	occupants   map[partition.ID]map[ids.Entity]struct{}
	partitionOf map[ids.Entity]partition.ID

	observers *observers.Registry
	out       Fanout
	diag      *diag.Recorder
}

func NewTracker(obs *observers.Registry, out Fanout, rec *diag.Recorder) *Tracker {
	return &Tracker{
		occupants:   map[partition.ID]map[ids.Entity]struct{}{},
		partitionOf: map[ids.Entity]partition.ID{},
		observers:   obs,
		out:         out,
		diag:        rec,
	}
}

// Update records that e is now in p.
//
// A first sighting spawns e to every observer of p. Moving to another
// partition despawns e from observers only of the old partition and spawns
// it to observers only of the new one; observers of both see nothing.
func (t *Tracker) Update(e ids.Entity, p partition.ID) Change {
	old, had := t.partitionOf[e]
	if had && old == p {
		return Unchanged
	}

	t.partitionOf[e] = p
	t.insert(p, e)

	if !had {
		for _, o := range t.observers.Observers(p) {
			t.out.Spawn(e, o)
		}
		return Spawned
	}

	t.erase(old, e)
	diff.Sorted(t.observers.Observers(old), t.observers.Observers(p),
		func(o ids.Observer) { t.out.Despawn(e, o) },
		func(o ids.Observer) { t.out.Spawn(e, o) },
	)
	return Moved
}

// Remove clears e's membership and despawns it from every observer of its
// partition. An entity with no membership means a spawn was missed upstream;
// that is reported and otherwise ignored.
func (t *Tracker) Remove(e ids.Entity) bool {
	p, ok := t.partitionOf[e]
	if !ok {
		t.diag.Report(diag.Diagnostic{
			Kind:   diag.KindMissingRef,
			Entity: e,
			Detail: fmt.Sprintf("attempted to remove occupant %s with no recorded partition", e),
		})
		return false
	}
	delete(t.partitionOf, e)
	if _, present := t.occupants[p][e]; !present {
		t.diag.Report(diag.Diagnostic{
			Kind:      diag.KindInconsistency,
			Partition: p,
			Entity:    e,
			Detail:    fmt.Sprintf("occupant %s recorded in partition %d but missing from its set", e, p),
		})
	}
	t.erase(p, e)
	for _, o := range t.observers.Observers(p) {
		t.out.Despawn(e, o)
	}
	return true
}

// RemovePartition despawns every occupant of p from every observer of p and
// forgets them. It returns the removed occupants in ascending order.
func (t *Tracker) RemovePartition(p partition.ID) []ids.Entity {
	occ := t.Occupants(p)
	delete(t.occupants, p)
	obs := t.observers.Observers(p)
	for _, e := range occ {
		if t.partitionOf[e] != p {
			continue
		}
		delete(t.partitionOf, e)
		for _, o := range obs {
			t.out.Despawn(e, o)
		}
	}
	return occ
}

// Occupants returns p's occupants in ascending order. The slice is a copy.
func (t *Tracker) Occupants(p partition.ID) []ids.Entity {
	set := t.occupants[p]
	if len(set) == 0 {
		return nil
	}
	out := make([]ids.Entity, 0, len(set))
	for e := range set {
		out = append(out, e)
	}
	slices.Sort(out)
	return out
}

func (t *Tracker) PartitionOf(e ids.Entity) (partition.ID, bool) {
	p, ok := t.partitionOf[e]
	return p, ok
}

// Len is the number of tracked entities.
func (t *Tracker) Len() int { return len(t.partitionOf) }

// Partitions is the number of partitions with at least one occupant.
func (t *Tracker) Partitions() int { return len(t.occupants) }

// Check verifies the bijection. The entity→partition side is treated as
// authoritative and the occupant sets are repaired to match. It returns the
// number of repairs made.
func (t *Tracker) Check() int {
	repairs := 0
	for e, p := range t.partitionOf {
		if _, ok := t.occupants[p][e]; ok {
			continue
		}
		t.diag.Report(diag.Diagnostic{
			Kind:      diag.KindInconsistency,
			Partition: p,
			Entity:    e,
			Detail:    fmt.Sprintf("occupant %s missing from set of partition %d", e, p),
		})
		t.insert(p, e)
		repairs++
	}
	for p, set := range t.occupants {
		for e := range set {
			if rec, ok := t.partitionOf[e]; ok && rec == p {
				continue
			}
			t.diag.Report(diag.Diagnostic{
				Kind:      diag.KindInconsistency,
				Partition: p,
				Entity:    e,
				Detail:    fmt.Sprintf("partition %d lists occupant %s recorded elsewhere", p, e),
			})
			t.erase(p, e)
			repairs++
		}
	}
	return repairs
}

func (t *Tracker) insert(p partition.ID, e ids.Entity) {
	set := t.occupants[p]
	if set == nil {
		set = map[ids.Entity]struct{}{}
		t.occupants[p] = set
	}
	set[e] = struct{}{}
}

func (t *Tracker) erase(p partition.ID, e ids.Entity) {
	set := t.occupants[p]
	if set == nil {
		return
	}
	delete(set, e)
	if len(set) == 0 {
		delete(t.occupants, p)
	}
}
