package interest

import (
	"fmt"
	"math/rand"
	"slices"
	"sort"
	"strings"
	"testing"

	"regionsync.io/internal/protocol"
	"regionsync.io/internal/sim/interest/diag"
	"regionsync.io/internal/sim/interest/ids"
	"regionsync.io/internal/sim/interest/occupancy"
	"regionsync.io/internal/sim/interest/partition"
	"regionsync.io/internal/sim/interest/replicate"
)

type wireLog struct{ lines []string }

func (w *wireLog) Send(o ids.Observer, _ protocol.Delivery, msg any) {
	var line string
	switch m := msg.(type) {
	case protocol.SpawnEntityMsg:
		line = fmt.Sprintf("%s spawn %s", o, m.Entity)
	case protocol.DespawnEntityMsg:
		line = fmt.Sprintf("%s despawn %s", o, m.Entity)
	case protocol.LoadRegionMsg:
		line = fmt.Sprintf("%s load %d,%d", o, m.Region[0], m.Region[1])
	case protocol.UnloadRegionMsg:
		line = fmt.Sprintf("%s unload %d,%d", o, m.Region[0], m.Region[1])
	case protocol.AttrUpdateMsg:
		line = fmt.Sprintf("%s update %s %s", o, m.Entity, m.Attr)
	default:
		line = fmt.Sprintf("%s %T", o, msg)
	}
	w.lines = append(w.lines, line)
}

// take returns the lines containing every filter word, sorted, and resets.
func (w *wireLog) take(filter ...string) []string {
	var out []string
	for _, l := range w.lines {
		keep := true
		for _, f := range filter {
			if !strings.Contains(l, f) {
				keep = false
			}
		}
		if keep {
			out = append(out, l)
		}
	}
	w.lines = nil
	sort.Strings(out)
	return out
}

type anyState struct{}

func (anyState) State(e ids.Entity) (replicate.State, bool) {
	return replicate.State{replicate.Class("test")}, true
}

func newEngine(t *testing.T, side int) (*Engine, *wireLog, *diag.Recorder) {
	t.Helper()
	w := &wireLog{}
	rec := diag.NewRecorder(nil)
	en := New(Config{ViewSide: side}, w, anyState{}, rec)
	for x := -4; x <= 4; x++ {
		for y := -4; y <= 4; y++ {
			en.RegisterPartition(partition.Coord{X: x, Y: y})
		}
	}
	return en, w, rec
}

func at(x, y int) partition.Coord { return partition.Coord{X: x, Y: y} }

func TestEngine_WindowShiftLoadsAndUnloadsEdges(t *testing.T) {
	en, w, _ := newEngine(t, 3)
	en.AttachObserver(1, ids.NoEntity, 0)
	if in, out := en.RecenterObserver(1, at(0, 0)); in != 9 || out != 0 {
		t.Fatalf("initial = %d/%d", in, out)
	}
	w.take()

	in, out := en.RecenterObserver(1, at(1, 0))
	if in != 3 || out != 3 {
		t.Fatalf("shift = %d/%d", in, out)
	}
	want := []string{
		"O1 load 2,-1", "O1 load 2,0", "O1 load 2,1",
		"O1 unload -1,-1", "O1 unload -1,0", "O1 unload -1,1",
	}
	if got := w.take(); !slices.Equal(got, want) {
		t.Fatalf("wire = %v, want %v", got, want)
	}
	for x := 0; x <= 1; x++ {
		for y := -1; y <= 1; y++ {
			if !slices.Equal(en.Observers(at(x, y)), []ids.Observer{1}) {
				t.Fatalf("persisting partition %d,%d lost its observer", x, y)
			}
		}
	}
	if len(en.Observers(at(-1, 0))) != 0 {
		t.Fatalf("exited partition still observed")
	}
}

func TestEngine_MoveDiffsObservers(t *testing.T) {
	en, w, _ := newEngine(t, 1)
	a, b := at(0, 0), at(3, 3)
	for _, o := range []ids.Observer{1, 2, 3} {
		en.LoadRegion(o, a)
	}
	for _, o := range []ids.Observer{2, 3, 4} {
		en.LoadRegion(o, b)
	}
	if c := en.UpdateOccupant(10, a); c != occupancy.Spawned {
		t.Fatalf("change = %v", c)
	}
	if got := w.take("E10"); !slices.Equal(got, []string{"O1 spawn E10", "O2 spawn E10", "O3 spawn E10"}) {
		t.Fatalf("initial spawns = %v", got)
	}

	if c := en.UpdateOccupant(10, b); c != occupancy.Moved {
		t.Fatalf("change = %v", c)
	}
	if got := w.take(); !slices.Equal(got, []string{"O1 despawn E10", "O4 spawn E10"}) {
		t.Fatalf("move = %v", got)
	}
}

func TestEngine_DisconnectDespawnsEachPairOnce(t *testing.T) {
	en, w, rec := newEngine(t, 3)
	en.AttachObserver(1, ids.NoEntity, 0)
	en.AttachObserver(2, ids.NoEntity, 0)
	en.RecenterObserver(1, at(0, 0))
	en.RecenterObserver(2, at(0, 0))
	occupants := map[partition.Coord][]ids.Entity{
		at(0, 0): {10, 11},
		at(1, 0): {12},
		at(0, 1): {13, 14, 15},
	}
	for c, es := range occupants {
		for _, e := range es {
			en.UpdateOccupant(e, c)
		}
	}
	w.take()

	if n := en.DisconnectObserver(1); n != 9 {
		t.Fatalf("disconnect exited %d", n)
	}
	despawns := w.take("despawn")
	if len(despawns) != 6 {
		t.Fatalf("despawns = %v", despawns)
	}
	for _, l := range despawns {
		if !strings.HasPrefix(l, "O1 ") {
			t.Fatalf("despawn sent to wrong observer: %s", l)
		}
	}
	for c := range occupants {
		if !slices.Equal(en.Observers(c), []ids.Observer{2}) {
			t.Fatalf("observer 1 still on %s: %v", c, en.Observers(c))
		}
	}
	if rec.Count(diag.KindInconsistency) != 0 || rec.Count(diag.KindProtocolViolation) != 0 {
		t.Fatalf("disconnect left a leak: %+v", rec.Drain())
	}
}

func TestEngine_LoadRegionIsIdempotent(t *testing.T) {
	en, w, _ := newEngine(t, 1)
	en.UpdateOccupant(10, at(0, 0))
	en.UpdateOccupant(11, at(0, 0))
	if !en.LoadRegion(1, at(0, 0)) {
		t.Fatalf("first load should insert")
	}
	if en.LoadRegion(1, at(0, 0)) {
		t.Fatalf("second load should be a no-op")
	}
	if got := w.take("spawn"); len(got) != 2 {
		t.Fatalf("spawn fan-out ran %d times", len(got))
	}
	if len(en.Observers(at(0, 0))) != 1 {
		t.Fatalf("duplicate list entry")
	}
}

func TestEngine_LoadOutsideGridSkipped(t *testing.T) {
	en, w, _ := newEngine(t, 3)
	en.AttachObserver(1, ids.NoEntity, 0)
	if in, _ := en.RecenterObserver(1, at(4, 4)); in != 9 {
		t.Fatalf("window transitions = %d", in)
	}
	if got := w.take("load"); len(got) != 4 {
		t.Fatalf("only the 4 registered corners should load: %v", got)
	}
}

func TestEngine_NeverObservesSelf(t *testing.T) {
	en, w, rec := newEngine(t, 3)
	en.UpdateOccupant(5, at(0, 0))
	en.AttachObserver(1, 5, 0)
	en.AttachObserver(2, ids.NoEntity, 0)
	en.RecenterObserver(2, at(0, 0))

	st, ok := en.Window(1)
	if !ok || !st.Centered || st.Center != at(0, 0) {
		t.Fatalf("avatar observer not centered: %+v", st)
	}
	for _, c := range []partition.Coord{at(1, 0), at(2, 0), at(2, 1), at(1, 1), at(0, 0)} {
		en.UpdateOccupant(5, c)
		en.UpdateAttribute(5, replicate.Position(float64(c.X), float64(c.Y)))
	}
	for _, l := range w.take() {
		if strings.HasPrefix(l, "O1 ") && strings.HasSuffix(strings.Fields(l)[2], "E5") {
			t.Fatalf("observer saw its own avatar: %s", l)
		}
	}
	if !en.Visible(2, 5) {
		t.Fatalf("spectator lost the avatar")
	}
	if rec.Count(diag.KindProtocolViolation) != 0 {
		t.Fatalf("violations: %+v", rec.Drain())
	}
}

func TestEngine_AvatarMoveRecentersWindow(t *testing.T) {
	en, w, _ := newEngine(t, 3)
	en.AttachObserver(1, 5, 0)
	en.UpdateOccupant(5, at(0, 0))
	st, _ := en.Window(1)
	if !st.Centered || len(st.Window) != 9 {
		t.Fatalf("window = %+v", st)
	}
	w.take()

	en.UpdateOccupant(5, at(0, 1))
	st, _ = en.Window(1)
	if st.Center != at(0, 1) {
		t.Fatalf("window did not follow: %+v", st.Center)
	}
	if got := w.take("O1", "load"); len(got) != 6 {
		t.Fatalf("loads+unloads = %v", got)
	}
}

func TestEngine_UpdateOnlyToCurrentObservers(t *testing.T) {
	en, w, _ := newEngine(t, 1)
	en.LoadRegion(1, at(0, 0))
	en.LoadRegion(2, at(1, 0))
	en.UpdateOccupant(10, at(0, 0))
	w.take()

	if n := en.UpdateAttribute(10, replicate.Yaw(1)); n != 1 {
		t.Fatalf("sent = %d", n)
	}
	en.UpdateOccupant(10, at(1, 0))
	w.take()
	en.UpdateAttribute(10, replicate.Name("bob"))
	if got := w.take(); !slices.Equal(got, []string{"O2 update E10 name"}) {
		t.Fatalf("update fan-out = %v", got)
	}
}

func TestEngine_UnknownPartitionKeepsMembership(t *testing.T) {
	en, _, rec := newEngine(t, 1)
	en.UpdateOccupant(10, at(0, 0))
	if c := en.UpdateOccupant(10, at(50, 50)); c != occupancy.Unchanged {
		t.Fatalf("change = %v", c)
	}
	if c, ok := en.PartitionOf(10); !ok || c != at(0, 0) {
		t.Fatalf("membership = %v,%v", c, ok)
	}
	if rec.Count(diag.KindMissingRef) != 1 {
		t.Fatalf("missing reference not reported")
	}
	if en.UpdateAttribute(99, replicate.Yaw(0)) != 0 || rec.Count(diag.KindMissingRef) != 2 {
		t.Fatalf("update of unplaced entity should be skipped and reported")
	}
}

func TestEngine_RemovePartition(t *testing.T) {
	en, w, _ := newEngine(t, 1)
	en.LoadRegion(1, at(2, 2))
	en.LoadRegion(2, at(2, 2))
	en.UpdateOccupant(10, at(2, 2))
	en.UpdateOccupant(11, at(2, 2))
	w.take()

	removed := en.RemovePartition(at(2, 2))
	if !slices.Equal(removed, []ids.Entity{10, 11}) {
		t.Fatalf("removed = %v", removed)
	}
	want := []string{
		"O1 despawn E10", "O1 despawn E11", "O1 unload 2,2",
		"O2 despawn E10", "O2 despawn E11", "O2 unload 2,2",
	}
	if got := w.take(); !slices.Equal(got, want) {
		t.Fatalf("wire = %v", got)
	}
	if _, ok := en.Lookup(at(2, 2)); ok {
		t.Fatalf("partition still registered")
	}
	if _, ok := en.PartitionOf(10); ok {
		t.Fatalf("occupant membership not cleared")
	}
}

func TestEngine_RegisterPartitionLoadsCoveringWindows(t *testing.T) {
	en, w, _ := newEngine(t, 3)
	en.RemovePartition(at(1, 1))
	en.AttachObserver(1, ids.NoEntity, 0)
	en.RecenterObserver(1, at(0, 0))
	if got := w.take("load 1,1"); len(got) != 0 {
		t.Fatalf("removed partition loaded: %v", got)
	}
	en.RegisterPartition(at(1, 1))
	if got := w.take(); !slices.Equal(got, []string{"O1 load 1,1"}) {
		t.Fatalf("re-registration = %v", got)
	}
}

func TestEngine_MoveThenDespawnSameTick(t *testing.T) {
	en, w, rec := newEngine(t, 3)
	en.AttachObserver(1, ids.NoEntity, 0)
	en.RecenterObserver(1, at(0, 0))
	en.UpdateOccupant(10, at(0, 0))
	w.take()

	en.UpdateOccupant(10, at(1, 0))
	en.RemoveOccupant(10)
	en.UpdateOccupant(10, at(1, 1))
	if got := w.take("E10"); !slices.Equal(got, []string{"O1 despawn E10", "O1 spawn E10"}) {
		t.Fatalf("wire = %v", got)
	}
	if rec.Count(diag.KindProtocolViolation) != 0 {
		t.Fatalf("race produced a duplicate: %+v", rec.Drain())
	}
}

func TestEngine_SpawnDespawnBalanceUnderChurn(t *testing.T) {
	en, w, rec := newEngine(t, 3)
	rng := rand.New(rand.NewSource(7))
	live := map[ids.Observer]bool{}
	coord := func() partition.Coord { return at(rng.Intn(9)-4, rng.Intn(9)-4) }

	for i := 0; i < 3000; i++ {
		en.SetTick(uint64(i))
		switch r := rng.Intn(10); {
		case r < 5:
			en.UpdateOccupant(ids.Entity(rng.Intn(30)+1), coord())
		case r < 6:
			e := ids.Entity(rng.Intn(30) + 1)
			if _, ok := en.PartitionOf(e); ok {
				en.RemoveOccupant(e)
			}
		case r < 8:
			o := ids.Observer(rng.Intn(6) + 1)
			if !live[o] {
				avatar := ids.NoEntity
				if o%2 == 0 {
					avatar = ids.Entity(o)
				}
				en.AttachObserver(o, avatar, 0)
				live[o] = true
			}
			en.RecenterObserver(o, coord())
		case r < 9:
			o := ids.Observer(rng.Intn(6) + 1)
			if live[o] {
				en.DisconnectObserver(o)
				delete(live, o)
			}
		default:
			en.UpdateAttribute(ids.Entity(rng.Intn(30)+1), replicate.Yaw(rng.Float64()))
		}
		if n := en.CheckInvariants(); n != 0 {
			t.Fatalf("step %d: %d repairs", i, n)
		}
	}
	for o := range live {
		en.DisconnectObserver(o)
	}

	open := map[string]int{}
	for _, l := range w.lines {
		f := strings.Fields(l)
		switch f[1] {
		case "spawn":
			open[f[0]+" "+f[2]]++
			if open[f[0]+" "+f[2]] > 1 {
				t.Fatalf("double spawn %s", l)
			}
		case "despawn":
			open[f[0]+" "+f[2]]--
			if open[f[0]+" "+f[2]] < 0 {
				t.Fatalf("despawn without spawn %s", l)
			}
		}
	}
	for pair, n := range open {
		if n != 0 {
			t.Fatalf("unbalanced pair %s", pair)
		}
	}
	if rec.Count(diag.KindProtocolViolation) != 0 || rec.Count(diag.KindInconsistency) != 0 {
		t.Fatalf("diagnostics: %+v", rec.Drain())
	}
	if s := en.Stats(); s.Observers != 0 || s.Subscriptions != 0 {
		t.Fatalf("stats after full disconnect = %+v", s)
	}
}
