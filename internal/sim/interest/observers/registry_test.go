package observers

import (
	"cmp"
	"math/rand"
	"slices"
	"testing"

	"regionsync.io/internal/sim/interest/diag"
	"regionsync.io/internal/sim/interest/diff"
	"regionsync.io/internal/sim/interest/ids"
)

func TestRegistry_AddIsSortedAndIdempotent(t *testing.T) {
	r := NewRegistry(nil)
	for _, o := range []ids.Observer{5, 1, 3} {
		if !r.Add(1, o) {
			t.Fatalf("first add of %d should insert", o)
		}
	}
	if r.Add(1, 3) {
		t.Fatalf("second add of 3 should be a no-op")
	}
	if got := r.Observers(1); !slices.Equal(got, []ids.Observer{1, 3, 5}) {
		t.Fatalf("observers = %v", got)
	}
	if !r.Contains(1, 5) || r.Contains(1, 4) || r.Contains(2, 1) {
		t.Fatalf("Contains mismatch")
	}
}

func TestRegistry_Remove(t *testing.T) {
	r := NewRegistry(nil)
	r.Add(1, 2)
	r.Add(1, 4)
	if r.Remove(1, 3) {
		t.Fatalf("removing absent observer should report false")
	}
	if !r.Remove(1, 2) || !r.Remove(1, 4) {
		t.Fatalf("remove failed")
	}
	if r.Len() != 0 {
		t.Fatalf("empty lists should be dropped, len=%d", r.Len())
	}
}

func TestRegistry_SortednessUnderRandomOps(t *testing.T) {
	r := NewRegistry(nil)
	rng := rand.New(rand.NewSource(11))
	model := map[ids.Observer]bool{}
	for i := 0; i < 2000; i++ {
		o := ids.Observer(rng.Intn(50) + 1)
		if rng.Intn(2) == 0 {
			if got, want := r.Add(7, o), !model[o]; got != want {
				t.Fatalf("op %d: Add(%d) = %v, want %v", i, o, got, want)
			}
			model[o] = true
		} else {
			if got, want := r.Remove(7, o), model[o]; got != want {
				t.Fatalf("op %d: Remove(%d) = %v, want %v", i, o, got, want)
			}
			delete(model, o)
		}
		list := r.Observers(7)
		if !diff.IsStrictlySorted(list, cmp.Compare[ids.Observer]) {
			t.Fatalf("op %d: list not strictly sorted: %v", i, list)
		}
		if len(list) != len(model) {
			t.Fatalf("op %d: len %d, model %d", i, len(list), len(model))
		}
	}
}

func TestRegistry_CheckRepairs(t *testing.T) {
	rec := diag.NewRecorder(nil)
	r := NewRegistry(rec)
	r.Add(1, 1)
	r.Add(2, 1)
	r.lists[2] = []ids.Observer{4, 2, 2, 9}

	if n := r.Check(); n != 1 {
		t.Fatalf("repaired %d lists, want 1", n)
	}
	if got := r.Observers(2); !slices.Equal(got, []ids.Observer{2, 4, 9}) {
		t.Fatalf("repaired list = %v", got)
	}
	if rec.Count(diag.KindInconsistency) != 1 {
		t.Fatalf("inconsistency not reported")
	}
	if r.Check() != 0 {
		t.Fatalf("second check should be clean")
	}
}

func TestRegistry_DropAndEdges(t *testing.T) {
	r := NewRegistry(nil)
	r.Add(1, 1)
	r.Add(1, 2)
	r.Add(2, 1)
	if r.Edges() != 3 {
		t.Fatalf("edges = %d", r.Edges())
	}
	if got := r.Drop(1); !slices.Equal(got, []ids.Observer{1, 2}) {
		t.Fatalf("drop returned %v", got)
	}
	if r.Edges() != 1 {
		t.Fatalf("edges after drop = %d", r.Edges())
	}
}
