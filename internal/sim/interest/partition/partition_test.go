package partition

import (
	"slices"
	"testing"
)

func TestFromPosition(t *testing.T) {
	cases := []struct {
		x, y float64
		want Coord
	}{
		{0, 0, Coord{0, 0}},
		{15.9, 15.9, Coord{0, 0}},
		{16, 0, Coord{1, 0}},
		{-0.1, -16, Coord{-1, -1}},
		{-16.01, 33, Coord{-2, 2}},
	}
	for _, tc := range cases {
		if got := FromPosition(tc.x, tc.y, 16); got != tc.want {
			t.Fatalf("FromPosition(%v,%v) = %v, want %v", tc.x, tc.y, got, tc.want)
		}
	}
}

func TestCompare_TotalOrder(t *testing.T) {
	in := []Coord{{1, 0}, {0, 1}, {0, -1}, {-1, 5}, {0, 0}}
	slices.SortFunc(in, Compare)
	want := []Coord{{-1, 5}, {0, -1}, {0, 0}, {0, 1}, {1, 0}}
	if !slices.Equal(in, want) {
		t.Fatalf("sorted = %v, want %v", in, want)
	}
}

func TestIndex_RegisterLookupUnregister(t *testing.T) {
	ix := NewIndex()
	a := ix.Register(Coord{0, 0})
	b := ix.Register(Coord{1, 0})
	if a == None || b == None || a == b {
		t.Fatalf("bad ids a=%d b=%d", a, b)
	}
	if again := ix.Register(Coord{0, 0}); again != a {
		t.Fatalf("re-register should be idempotent: %d vs %d", again, a)
	}
	if got, ok := ix.Lookup(Coord{1, 0}); !ok || got != b {
		t.Fatalf("lookup = %d,%v", got, ok)
	}
	if _, ok := ix.Lookup(Coord{5, 5}); ok {
		t.Fatalf("unexpected hit for unregistered coord")
	}
	if id, ok := ix.Unregister(Coord{0, 0}); !ok || id != a {
		t.Fatalf("unregister = %d,%v", id, ok)
	}
	if _, ok := ix.CoordOf(a); ok {
		t.Fatalf("reverse mapping not cleared")
	}
	if c := ix.Register(Coord{0, 0}); c == a {
		t.Fatalf("ids must not be reused after unregister")
	}
}
