package diag

import (
	"bytes"
	"strings"
	"testing"

	"regionsync.io/internal/logging"
)

func TestRecorder_BuffersAndCounts(t *testing.T) {
	var buf bytes.Buffer
	r := NewRecorder(logging.New("debug", "text", &buf))
	r.SetTick(9)
	r.Report(Diagnostic{Kind: KindInconsistency, Partition: 3, Detail: "observer list unsorted"})
	r.Report(Diagnostic{Kind: KindStaleInput, Observer: 2, Detail: "seq 4 <= 5"})

	got := r.Drain()
	if len(got) != 2 || got[0].Tick != 9 || got[1].Kind != KindStaleInput {
		t.Fatalf("unexpected drain: %+v", got)
	}
	if again := r.Drain(); again != nil {
		t.Fatalf("second drain should be empty: %+v", again)
	}
	if r.Count(KindInconsistency) != 1 || r.Count(KindMissingRef) != 0 {
		t.Fatalf("bad counts")
	}
	if !strings.Contains(buf.String(), "observer list unsorted") {
		t.Fatalf("diagnostic not logged: %q", buf.String())
	}
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *Recorder
	r.SetTick(1)
	r.Report(Diagnostic{Kind: KindMissingRef})
	if r.Drain() != nil || r.Count(KindMissingRef) != 0 {
		t.Fatalf("nil recorder should be inert")
	}
}
