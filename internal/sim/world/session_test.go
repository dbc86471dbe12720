package world

import (
	"math"
	"slices"
	"testing"

	"regionsync.io/internal/protocol"
	"regionsync.io/internal/sim/interest/ids"
	"regionsync.io/internal/sim/interest/partition"
)

func TestJoin_WelcomeAndWindowLoads(t *testing.T) {
	w := newTestWorld(t, nil)
	a := join(t, w, "  alice  ")

	if a.welcome.EntityID != "E1" || a.welcome.ObserverID != "O1" {
		t.Fatalf("welcome ids = %s/%s", a.welcome.ObserverID, a.welcome.EntityID)
	}
	if a.welcome.ResumeToken == "" || a.welcome.ClassesDigest != w.ClassesDigest() {
		t.Fatalf("welcome = %+v", a.welcome)
	}
	if p := a.welcome.WorldParams; p.ViewSide != 3 || p.RegionSize != 8 || p.GridHalfExtent != 2 {
		t.Fatalf("world params = %+v", p)
	}
	got := a.reliable()
	if len(got) != 9 || len(only(got, "load ")) != 9 {
		t.Fatalf("joiner should load its 3x3 window and nothing else: %v", got)
	}
	if w.entities[1].Name != "alice" {
		t.Fatalf("name = %q", w.entities[1].Name)
	}
}

func TestJoin_PlayersSeeEachOtherWithClassFirst(t *testing.T) {
	w := newTestWorld(t, nil)
	a := join(t, w, "a")
	a.reliable()
	b := join(t, w, "b")

	if got := only(a.reliable(), ""); !slices.Equal(got, []string{"class player", "spawn E2"}) {
		t.Fatalf("a saw %v", got)
	}
	gotB := b.reliable()
	if len(only(gotB, "load ")) != 9 || !slices.Equal(gotB[5:7], []string{"class player", "spawn E1"}) {
		t.Fatalf("b should see a right after loading 0,0: %v", gotB)
	}
	for _, l := range gotB {
		if l == "spawn E2" {
			t.Fatalf("b was spawned its own avatar")
		}
	}

	join(t, w, "c")
	if got := only(b.reliable(), ""); !slices.Equal(got, []string{"spawn E3"}) {
		t.Fatalf("class def must go out once per class: %v", got)
	}
}

func TestInput_MovesAvatarAcrossRegions(t *testing.T) {
	w := newTestWorld(t, nil)
	a := join(t, w, "a")
	b := join(t, w, "b")
	a.reliable()
	b.reliable()

	in := InputEnvelope{Observer: a.obs, Input: &protocol.InputMsg{Type: protocol.TypeInput, Seq: 1, Direction: [2]float64{1, 0}}}
	entry := w.step(nil, nil, []InputEnvelope{in})
	if entry.Inputs != 1 || entry.DroppedInputs != 0 {
		t.Fatalf("entry = %+v", entry)
	}
	for i := 0; i < 19; i++ {
		if e := w.step(nil, nil, nil); e.Diagnostics != 0 {
			t.Fatalf("tick %d produced %d diagnostics", e.Tick, e.Diagnostics)
		}
	}

	if c, ok := w.engine.PartitionOf(1); !ok || c != (partition.Coord{X: 1, Y: 0}) {
		t.Fatalf("avatar region = %v,%v (pos %v)", c, ok, w.entities[1].Pos)
	}
	gotA := a.reliable()
	if len(only(gotA, "load 2,")) != 3 || len(only(gotA, "unload -1,")) != 3 || len(gotA) != 6 {
		t.Fatalf("a's window should shift one column: %v", gotA)
	}
	if got := b.unreliable(); len(got) != 20 || got[0] != "update E1 position" {
		t.Fatalf("b position updates = %d %v", len(got), got)
	}
	if got := a.unreliable(); len(got) != 0 {
		t.Fatalf("a must not receive its own updates: %v", got)
	}
}

func TestInput_StaleSeqDropped(t *testing.T) {
	w := newTestWorld(t, nil)
	a := join(t, w, "a")
	inputs := []InputEnvelope{
		{Observer: a.obs, Input: &protocol.InputMsg{Seq: 5, Direction: [2]float64{0, 1}}},
		{Observer: a.obs, Input: &protocol.InputMsg{Seq: 5, Direction: [2]float64{1, 0}}},
		{Observer: a.obs, Input: &protocol.InputMsg{Seq: 3, Direction: [2]float64{1, 0}}},
	}
	entry := w.step(nil, nil, inputs)
	if entry.Inputs != 3 || entry.DroppedInputs != 2 || entry.Diagnostics != 2 {
		t.Fatalf("entry = %+v", entry)
	}
	if d := w.entities[1].Dir; d != [2]float64{0, 1} {
		t.Fatalf("dir = %v", d)
	}
}

func TestInput_DirectionClampedAndNaNIgnored(t *testing.T) {
	w := newTestWorld(t, nil)
	a := join(t, w, "a")
	w.step(nil, nil, []InputEnvelope{{Observer: a.obs, Input: &protocol.InputMsg{Seq: 1, Direction: [2]float64{3, 4}}}})
	if d := w.entities[1].Dir; d != [2]float64{0.6, 0.8} {
		t.Fatalf("dir = %v", d)
	}
	if got := clampUnit([2]float64{math.NaN(), 1}); got != [2]float64{} {
		t.Fatalf("NaN heading = %v", got)
	}
}

func TestSetName_ReliableUpdateToObservers(t *testing.T) {
	w := newTestWorld(t, nil)
	a := join(t, w, "a")
	b := join(t, w, "b")
	b.reliable()
	w.step(nil, nil, []InputEnvelope{{Observer: a.obs, SetName: &protocol.SetNameMsg{Seq: 1, Name: "Alice"}}})
	if got := b.reliable(); !slices.Equal(got, []string{"update E1 name"}) {
		t.Fatalf("b saw %v", got)
	}
	if w.entities[1].Name != "Alice" {
		t.Fatalf("name = %q", w.entities[1].Name)
	}
}

func TestLeave_DespawnsAndClosesQueues(t *testing.T) {
	w := newTestWorld(t, func(c *WorldConfig) { c.ResumeGraceTicks = 0 })
	a := join(t, w, "a")
	b := join(t, w, "b")
	a.reliable()

	entry := w.step(nil, []ids.Observer{b.obs}, nil)
	if !slices.Equal(entry.Leaves, []string{"O2"}) {
		t.Fatalf("leaves = %v", entry.Leaves)
	}
	if got := a.reliable(); !slices.Equal(got, []string{"despawn E2"}) {
		t.Fatalf("a saw %v", got)
	}
	if _, closed := drain(b.out.Reliable); !closed {
		t.Fatalf("reliable queue not closed")
	}
	if _, closed := drain(b.out.Unreliable); !closed {
		t.Fatalf("unreliable queue not closed")
	}
	if _, ok := w.entities[2]; ok {
		t.Fatalf("avatar should be removed without a grace period")
	}
	// A second leave is a no-op.
	w.step(nil, []ids.Observer{b.obs}, nil)
}

func TestResume_WithinGrace(t *testing.T) {
	w := newTestWorld(t, nil)
	a := join(t, w, "a")
	tok := a.welcome.ResumeToken
	w.step(nil, []ids.Observer{a.obs}, nil)
	if e := w.entities[1]; e == nil || e.Observer != 0 {
		t.Fatalf("avatar should wait detached: %+v", e)
	}

	req := joinReq("ignored", tok, NewOutbound(256, 256))
	w.step([]JoinRequest{req}, nil, nil)
	resp := <-req.Resp
	if resp.Err != nil {
		t.Fatalf("resume: %+v", resp.Err)
	}
	if resp.Welcome.EntityID != "E1" || resp.Welcome.ResumeToken == tok {
		t.Fatalf("welcome = %+v", resp.Welcome)
	}
	if w.entities[1].Name != "a" {
		t.Fatalf("resume must keep the avatar's name")
	}

	again := joinReq("", tok, NewOutbound(16, 16))
	w.step([]JoinRequest{again}, nil, nil)
	if r := <-again.Resp; r.Err == nil || r.Err.Code != protocol.ErrBadRequest {
		t.Fatalf("old token should be rejected: %+v", r)
	}
}

func TestResume_ExpiredAvatarReaped(t *testing.T) {
	w := newTestWorld(t, func(c *WorldConfig) { c.ResumeGraceTicks = 2 })
	a := join(t, w, "a")
	w.step(nil, []ids.Observer{a.obs}, nil)
	for i := 0; i < 3; i++ {
		w.step(nil, nil, nil)
	}
	if _, ok := w.entities[1]; ok {
		t.Fatalf("detached avatar outlived its grace period")
	}
	req := joinReq("", a.welcome.ResumeToken, NewOutbound(16, 16))
	w.step([]JoinRequest{req}, nil, nil)
	if r := <-req.Resp; r.Err == nil {
		t.Fatalf("expired token accepted")
	}
}

func TestOverflow_KicksSlowSession(t *testing.T) {
	w := newTestWorld(t, nil)
	req := joinReq("slow", "", NewOutbound(1, 1))
	w.step([]JoinRequest{req}, nil, nil)
	if r := <-req.Resp; r.Err != nil {
		t.Fatalf("join: %+v", r.Err)
	}
	if len(w.sessions) != 0 || w.lifetime.Kicked != 1 {
		t.Fatalf("sessions = %d kicked = %d", len(w.sessions), w.lifetime.Kicked)
	}
	if _, closed := drain(req.Out.Reliable); !closed {
		t.Fatalf("kicked session's queue should be closed")
	}
}

func TestSpectator_SubscribeMovesWindow(t *testing.T) {
	w := newTestWorld(t, nil)
	a := join(t, w, "a")

	out := NewOutbound(256, 256)
	resp := make(chan JoinResponse, 1)
	w.handleSpectate(SpectateRequest{Center: [2]int{2, 2}, ViewSide: 1, Out: out, Resp: resp})
	r := <-resp
	if r.Welcome.EntityID != "" {
		t.Fatalf("spectators have no avatar: %+v", r.Welcome)
	}
	msgs, _ := drain(out.Reliable)
	if got := summarize(msgs); !slices.Equal(got, []string{"load 2,2"}) {
		t.Fatalf("spectator saw %v", got)
	}

	w.handleSubscribe(SubscribeRequest{Observer: r.Observer, Center: [2]int{0, 0}})
	msgs, _ = drain(out.Reliable)
	if got := summarize(msgs); !slices.Equal(got, []string{"load 0,0", "class player", "spawn E1", "unload 2,2"}) {
		t.Fatalf("spectator saw %v", got)
	}

	// Players cannot steer their window.
	w.handleSubscribe(SubscribeRequest{Observer: a.obs, Center: [2]int{2, 2}})
	if st, _ := w.engine.Window(a.obs); st.Center != (partition.Coord{}) {
		t.Fatalf("player window moved to %v", st.Center)
	}
}

func TestSeqGuard(t *testing.T) {
	g := NewSeqGuard()
	if !g.Accept(1, 0) || g.Accept(1, 0) || !g.Accept(1, 4) || g.Accept(1, 2) {
		t.Fatalf("guard must accept only strictly increasing seqs")
	}
	if !g.Accept(2, 1) {
		t.Fatalf("guards are per observer")
	}
	g.Forget(1)
	if _, ok := g.Last(1); ok || !g.Accept(1, 1) {
		t.Fatalf("forget should reset the observer")
	}
}
