package log

import (
	"encoding/json"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"regionsync.io/internal/sim/interest/diag"
	"regionsync.io/internal/sim/world"
)

func readInts(t *testing.T, dir, prefix string) (files []string, got []int) {
	t.Helper()
	files, err := Files(dir, prefix)
	if err != nil {
		t.Fatalf("files: %v", err)
	}
	for _, p := range files {
		err := ReadJSONL(p, func(line []byte) error {
			var v struct{ I int }
			if err := json.Unmarshal(line, &v); err != nil {
				return err
			}
			got = append(got, v.I)
			return nil
		})
		if err != nil {
			t.Fatalf("read %s: %v", p, err)
		}
	}
	return files, got
}

func TestStream_RotatesHourlyInFrames(t *testing.T) {
	dir := t.TempDir()
	s := NewStream(dir, "x")
	s.frameLines = 2
	now := time.Date(2024, 5, 1, 10, 59, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if err := s.Write(map[string]int{"i": i}); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	now = now.Add(2 * time.Minute)
	if err := s.Write(map[string]int{"i": 3}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, got := readInts(t, dir, "x")
	if len(files) != 2 || filepath.Base(files[0]) != "x-2024-05-01-10.jsonl.zst" {
		t.Fatalf("files = %v", files)
	}
	if !slices.Equal(got, []int{0, 1, 2, 3}) {
		t.Fatalf("lines = %v", got)
	}
}

func TestStream_ReopenAppendsToSameHour(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	for run := 0; run < 2; run++ {
		s := NewStream(dir, "x")
		s.now = func() time.Time { return now }
		for i := 0; i < 2; i++ {
			if err := s.Write(map[string]int{"i": run*2 + i}); err != nil {
				t.Fatalf("write: %v", err)
			}
		}
		if err := s.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}
	files, got := readInts(t, dir, "x")
	if len(files) != 1 || !slices.Equal(got, []int{0, 1, 2, 3}) {
		t.Fatalf("files = %v, lines = %v", files, got)
	}
}

func TestStream_CompletedFramesReadableBeforeClose(t *testing.T) {
	dir := t.TempDir()
	s := NewStream(dir, "x")
	s.frameLines = 2
	defer s.Close()
	for i := 0; i < 2; i++ {
		if err := s.Write(map[string]int{"i": i}); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if _, got := readInts(t, dir, "x"); !slices.Equal(got, []int{0, 1}) {
		t.Fatalf("lines = %v", got)
	}
}

func TestTickLogger_ReadTicks(t *testing.T) {
	dir := t.TempDir()
	l := NewTickLogger(dir)
	for tick := uint64(0); tick < 5; tick++ {
		if err := l.WriteTick(world.TickLogEntry{Tick: tick, Spawns: tick * 2, Entities: 7}); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	var ticks []uint64
	err := ReadTicks(dir, func(e world.TickLogEntry) error {
		if e.Spawns != e.Tick*2 || e.Entities != 7 {
			t.Fatalf("entry = %+v", e)
		}
		ticks = append(ticks, e.Tick)
		return nil
	})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(ticks) != 5 || ticks[4] != 4 {
		t.Fatalf("ticks = %v", ticks)
	}
}

func TestDiagnosticsLogger(t *testing.T) {
	dir := t.TempDir()
	l := NewDiagnosticsLogger(dir)
	d := diag.Diagnostic{Tick: 3, Kind: diag.KindStaleInput, Observer: 2, Detail: "seq 1 not after 4"}
	if err := l.WriteDiagnostic(d); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = l.Close()

	files, _ := Files(filepath.Join(dir, "diagnostics"), "diagnostics")
	if len(files) != 1 {
		t.Fatalf("files = %v", files)
	}
	var got diag.Diagnostic
	err := ReadJSONL(files[0], func(line []byte) error { return json.Unmarshal(line, &got) })
	if err != nil || got != d {
		t.Fatalf("got %+v, %v", got, err)
	}
}
