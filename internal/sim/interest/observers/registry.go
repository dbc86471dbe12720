// Package observers keeps, per partition, the ascending duplicate-free list
// of observers that currently have that partition loaded.
package observers

import (
	"cmp"
	"fmt"
	"slices"

	"regionsync.io/internal/sim/interest/diag"
	"regionsync.io/internal/sim/interest/diff"
	"regionsync.io/internal/sim/interest/ids"
	"regionsync.io/internal/sim/interest/partition"
)

// Registry is single-writer: only the engine mutates it.
type Registry struct {
	lists map[partition.ID][]ids.Observer
	diag  *diag.Recorder
}

func NewRegistry(rec *diag.Recorder) *Registry {
	return &Registry{
		lists: map[partition.ID][]ids.Observer{},
		diag:  rec,
	}
}

// Add inserts o into p's list keeping it sorted. It reports false if o was
// already present; only a true result should trigger the occupant spawn
// fan-out.
func (r *Registry) Add(p partition.ID, o ids.Observer) bool {
	list := r.lists[p]
	i, found := slices.BinarySearch(list, o)
	if found {
		return false
	}
	r.lists[p] = slices.Insert(list, i, o)
	return true
}

// Remove deletes o from p's list. It reports false if o was not present.
func (r *Registry) Remove(p partition.ID, o ids.Observer) bool {
	list := r.lists[p]
	i, found := slices.BinarySearch(list, o)
	if !found {
		return false
	}
	list = slices.Delete(list, i, i+1)
	if len(list) == 0 {
		delete(r.lists, p)
	} else {
		r.lists[p] = list
	}
	return true
}

// Contains is an O(log n) membership test.
func (r *Registry) Contains(p partition.ID, o ids.Observer) bool {
	_, found := slices.BinarySearch(r.lists[p], o)
	return found
}

// Observers returns p's list. The slice is owned by the registry and must
// not be modified or retained across mutations.
func (r *Registry) Observers(p partition.ID) []ids.Observer {
	return r.lists[p]
}

// Drop forgets p entirely and returns the observers it had.
func (r *Registry) Drop(p partition.ID) []ids.Observer {
	list := r.lists[p]
	delete(r.lists, p)
	return list
}

// Len is the number of partitions with at least one observer.
func (r *Registry) Len() int { return len(r.lists) }

// Edges is the total number of (partition, observer) subscriptions.
func (r *Registry) Edges() int {
	n := 0
	for _, l := range r.lists {
		n += len(l)
	}
	return n
}

// Check verifies every list is strictly ascending. Violations are reported
// and repaired by re-sorting and deduplicating in place; it returns the
// number of lists that needed repair.
func (r *Registry) Check() int {
	repaired := 0
	for p, list := range r.lists {
		if diff.IsStrictlySorted(list, cmp.Compare[ids.Observer]) {
			continue
		}
		r.diag.Report(diag.Diagnostic{
			Kind:      diag.KindInconsistency,
			Partition: p,
			Detail:    fmt.Sprintf("observer list of partition %d isn't sorted: %v", p, list),
		})
		slices.Sort(list)
		r.lists[p] = slices.Compact(list)
		repaired++
	}
	return repaired
}
