package snapshot

import (
	"os"
	"path/filepath"
	"testing"
)

func sample(tick uint64) SnapshotV1 {
	return SnapshotV1{
		Header:         Header{Version: Version, WorldID: "W1", Tick: tick},
		Seed:           7,
		TickRate:       20,
		RegionSize:     16,
		GridHalfExtent: 1,
		NextEntity:     12,
		Regions:        [][2]int{{0, 0}, {1, 0}},
		Entities: []EntityV1{
			{ID: 3, Class: "cow", Pos: [2]float64{1.5, -2}, Yaw: 0.5},
			{ID: 4, Class: "wheat", Tile: [2]int{3, 4}, Age: 2},
			{ID: 5, Class: "player", Name: "ann", ResumeToken: "tok"},
		},
	}
}

func TestWriteRead(t *testing.T) {
	dir := t.TempDir()
	p := PathFor(dir, 40)
	if err := WriteSnapshot(p, sample(40)); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadSnapshot(p)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Header.Tick != 40 || len(got.Entities) != 3 || got.Entities[2].ResumeToken != "tok" {
		t.Fatalf("round trip lost data: %+v", got)
	}
	if got.Entities[1].Tile != [2]int{3, 4} || len(got.Regions) != 2 {
		t.Fatalf("round trip lost data: %+v", got)
	}
	h, err := ReadHeader(p)
	if err != nil || h.WorldID != "W1" || h.Tick != 40 {
		t.Fatalf("header = %+v, %v", h, err)
	}
	if _, err := os.Stat(p + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind")
	}
}

func TestReadRejectsOtherVersions(t *testing.T) {
	p := filepath.Join(t.TempDir(), "1.snap.zst")
	s := sample(1)
	s.Header.Version = 99
	if err := WriteSnapshot(p, s); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadSnapshot(p); err == nil {
		t.Fatalf("expected version error")
	}
}

func TestLatest(t *testing.T) {
	dir := t.TempDir()
	if _, ok, err := Latest(dir); ok || err != nil {
		t.Fatalf("empty dir: ok=%v err=%v", ok, err)
	}
	if _, ok, err := Latest(filepath.Join(dir, "missing")); ok || err != nil {
		t.Fatalf("missing dir: ok=%v err=%v", ok, err)
	}
	for _, tick := range []uint64{100, 2000, 300} {
		if err := WriteSnapshot(PathFor(dir, tick), sample(tick)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	p, ok, err := Latest(dir)
	if err != nil || !ok || p != PathFor(dir, 2000) {
		t.Fatalf("Latest = %q %v %v", p, ok, err)
	}
}
