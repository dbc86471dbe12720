// Package diff computes the symmetric difference of two ascending,
// duplicate-free sequences in a single forward pass.
//
// It is the primitive behind both view-window transitions (which partitions
// enter and leave an observer's window) and occupant moves (which observers
// stop and start seeing an entity).
package diff

import "cmp"

// Sorted walks old and new with two cursors. removed is called for every
// element only in old, added for every element only in new, in ascending
// order. Elements present in both are skipped. Either callback may be nil.
//
// Both inputs must be strictly ascending; the result is unspecified otherwise.
func Sorted[T cmp.Ordered](old, new []T, removed, added func(T)) {
	SortedFunc(old, new, cmp.Compare[T], removed, added)
}

// SortedFunc is Sorted with an explicit total order.
func SortedFunc[T any](old, new []T, compare func(a, b T) int, removed, added func(T)) {
	i, j := 0, 0
	for i < len(old) && j < len(new) {
		switch c := compare(old[i], new[j]); {
		case c < 0:
			if removed != nil {
				removed(old[i])
			}
			i++
		case c > 0:
			if added != nil {
				added(new[j])
			}
			j++
		default:
			i++
			j++
		}
	}
	if removed != nil {
		for ; i < len(old); i++ {
			removed(old[i])
		}
	}
	if added != nil {
		for ; j < len(new); j++ {
			added(new[j])
		}
	}
}

// IsStrictlySorted reports whether s is strictly ascending under compare,
// i.e. sorted and duplicate-free.
func IsStrictlySorted[T any](s []T, compare func(a, b T) int) bool {
	for i := 1; i < len(s); i++ {
		if compare(s[i-1], s[i]) >= 0 {
			return false
		}
	}
	return true
}
