package world

import (
	"testing"

	"regionsync.io/internal/persistence/snapshot"
	"regionsync.io/internal/protocol"
	"regionsync.io/internal/sim/interest/partition"
)

func TestSnapshotExportImport_RoundTripDigest(t *testing.T) {
	mut := func(c *WorldConfig) {
		c.FaunaCount = 4
		c.InitialCrops = 6
	}
	w1 := newTestWorld(t, mut)
	w1.Populate()
	a := join(t, w1, "bot")
	w1.step(nil, nil, []InputEnvelope{{Observer: a.obs, Input: &protocol.InputMsg{Seq: 1, Direction: [2]float64{1, 1}, Yaw: 0.5}}})
	for i := 0; i < 10; i++ {
		w1.step(nil, nil, nil)
	}
	w1.removeRegion(partition.Coord{X: -2, Y: -2})

	snapTick := w1.CurrentTick() - 1
	d1 := w1.stateDigest(snapTick)
	snap := w1.ExportSnapshot(snapTick)

	// Through the file format as well.
	path := snapshot.PathFor(t.TempDir(), snapTick)
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		t.Fatalf("write: %v", err)
	}
	read, err := snapshot.ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	w2 := newTestWorld(t, mut)
	if err := w2.ImportSnapshot(read); err != nil {
		t.Fatalf("import: %v", err)
	}
	if got, want := w2.CurrentTick(), snapTick+1; got != want {
		t.Fatalf("tick after import: got %d want %d", got, want)
	}
	if d2 := w2.stateDigest(snapTick); d1 != d2 {
		t.Fatalf("digest mismatch after import: %s vs %s", d1, d2)
	}
	if _, ok := w2.engine.Lookup(partition.Coord{X: -2, Y: -2}); ok {
		t.Fatalf("removed region came back")
	}
	if w2.nextEntity != w1.nextEntity {
		t.Fatalf("next entity = %d, want %d", w2.nextEntity, w1.nextEntity)
	}

	// The restored avatar waits for its owner.
	req := joinReq("", a.welcome.ResumeToken, NewOutbound(256, 256))
	w2.step([]JoinRequest{req}, nil, nil)
	r := <-req.Resp
	if r.Err != nil || r.Welcome.EntityID != a.welcome.EntityID {
		t.Fatalf("resume after import = %+v", r)
	}
	if r.Observer <= a.obs {
		t.Fatalf("observer ids must not be reused: %s", r.Observer)
	}
}

func TestImportSnapshot_Rejects(t *testing.T) {
	w := newTestWorld(t, nil)
	good := w.ExportSnapshot(0)

	bad := good
	bad.Header.Version = 9
	if err := w.ImportSnapshot(bad); err == nil {
		t.Fatalf("accepted version 9")
	}
	bad = good
	bad.RegionSize = 16
	if err := w.ImportSnapshot(bad); err == nil {
		t.Fatalf("accepted region size mismatch")
	}
	bad = good
	bad.Entities = []snapshot.EntityV1{{ID: 1, Class: "dragon"}}
	if err := w.ImportSnapshot(bad); err == nil {
		t.Fatalf("accepted unknown class")
	}

	join(t, w, "a")
	if err := w.ImportSnapshot(good); err == nil {
		t.Fatalf("accepted import with live sessions")
	}
}

func TestSnapshotSink_ReceivesPeriodicSnapshots(t *testing.T) {
	w := newTestWorld(t, func(c *WorldConfig) { c.SnapshotEveryTicks = 4 })
	sink := make(chan snapshot.SnapshotV1, 4)
	w.SetSnapshotSink(sink)
	for i := 0; i < 9; i++ {
		w.step(nil, nil, nil)
	}
	var ticks []uint64
	for len(sink) > 0 {
		ticks = append(ticks, (<-sink).Header.Tick)
	}
	if len(ticks) != 2 || ticks[0] != 4 || ticks[1] != 8 {
		t.Fatalf("snapshot ticks = %v", ticks)
	}
}

func TestAdminSnapshot(t *testing.T) {
	w := newTestWorld(t, nil)
	w.step(nil, nil, nil)
	w.step(nil, nil, nil)

	resp := make(chan adminSnapshotResp, 1)
	w.handleAdminSnapshot(adminSnapshotReq{Resp: resp})
	if r := <-resp; r.Err == "" {
		t.Fatalf("expected an error without a sink")
	}

	sink := make(chan snapshot.SnapshotV1, 1)
	w.SetSnapshotSink(sink)
	w.handleAdminSnapshot(adminSnapshotReq{Resp: resp})
	r := <-resp
	if r.Err != "" || r.Tick != 1 {
		t.Fatalf("resp = %+v", r)
	}
	if snap := <-sink; snap.Header.Tick != 1 {
		t.Fatalf("snapshot tick = %d", snap.Header.Tick)
	}

	// Sink full.
	sink <- snapshot.SnapshotV1{}
	w.handleAdminSnapshot(adminSnapshotReq{Resp: resp})
	if r := <-resp; r.Err == "" {
		t.Fatalf("expected backpressure error")
	}
}
