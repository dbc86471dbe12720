package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	persistlog "regionsync.io/internal/persistence/log"
	"regionsync.io/internal/persistence/snapshot"
	"regionsync.io/internal/sim/interest/diag"
	"regionsync.io/internal/sim/world"
)

func main() {
	var (
		dataDir  = flag.String("data", "./data", "runtime data directory")
		worldID  = flag.String("world", "world_1", "world id")
		snapPath = flag.String("snapshot", "", "print this snapshot's header and counts first (optional)")
		fromTick = flag.Uint64("from_tick", 0, "first tick to include (inclusive)")
		toTick   = flag.Uint64("to_tick", 0, "last tick to include (inclusive, 0 = no limit)")
		diags    = flag.Bool("diagnostics", false, "also list diagnostics in the tick range")
		kind     = flag.String("kind", "", "diagnostic kind filter (with -diagnostics)")
		verbose  = flag.Bool("v", false, "print every tick entry")
	)
	flag.Parse()

	if *snapPath != "" {
		snap, err := snapshot.ReadSnapshot(*snapPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read snapshot:", err)
			os.Exit(1)
		}
		fmt.Printf("snapshot v%d world=%s tick=%d seed=%d region_size=%d regions=%d entities=%d\n",
			snap.Header.Version, snap.Header.WorldID, snap.Header.Tick, snap.Seed, snap.RegionSize,
			len(snap.Regions), len(snap.Entities))
	}

	worldDir := filepath.Join(*dataDir, "worlds", *worldID)
	r := tickRange{From: *fromTick, To: *toTick}

	var out io.Writer
	if *verbose {
		out = os.Stdout
	}
	sum, err := summarizeTicks(worldDir, r, out)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read ticks:", err)
		os.Exit(1)
	}
	sum.print(os.Stdout)

	if *diags {
		if err := listDiagnostics(worldDir, r, diag.Kind(*kind), os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, "read diagnostics:", err)
			os.Exit(1)
		}
	}
}

type tickRange struct {
	From, To uint64
}

func (r tickRange) contains(tick uint64) bool {
	return tick >= r.From && (r.To == 0 || tick <= r.To)
}

type summary struct {
	Ticks         int
	First, Last   uint64
	Gaps          int
	Joins         int
	Resumes       int
	Leaves        int
	Inputs        int
	DroppedInputs int
	Spawns        uint64
	Despawns      uint64
	Updates       uint64
	Loads         uint64
	Unloads       uint64
	Diagnostics   int
	PeakEntities  int
	Digests       int
	LastDigest    string
}

func summarizeTicks(worldDir string, r tickRange, verbose io.Writer) (summary, error) {
	var s summary
	err := persistlog.ReadTicks(worldDir, func(e world.TickLogEntry) error {
		if !r.contains(e.Tick) {
			return nil
		}
		if s.Ticks == 0 {
			s.First = e.Tick
		} else if e.Tick != s.Last+1 {
			s.Gaps++
		}
		s.Ticks++
		s.Last = e.Tick
		for _, j := range e.Joins {
			if j.Resumed {
				s.Resumes++
			} else {
				s.Joins++
			}
		}
		s.Leaves += len(e.Leaves)
		s.Inputs += e.Inputs
		s.DroppedInputs += e.DroppedInputs
		s.Spawns += e.Spawns
		s.Despawns += e.Despawns
		s.Updates += e.Updates
		s.Loads += e.Loads
		s.Unloads += e.Unloads
		s.Diagnostics += e.Diagnostics
		s.PeakEntities = max(s.PeakEntities, e.Entities)
		if e.Digest != "" {
			s.Digests++
			s.LastDigest = e.Digest
		}
		if verbose != nil {
			b, _ := json.Marshal(e)
			fmt.Fprintln(verbose, string(b))
		}
		return nil
	})
	return s, err
}

func (s summary) print(w io.Writer) {
	if s.Ticks == 0 {
		fmt.Fprintln(w, "no ticks in range")
		return
	}
	fmt.Fprintf(w, "ticks=%d range=%d..%d gaps=%d\n", s.Ticks, s.First, s.Last, s.Gaps)
	fmt.Fprintf(w, "sessions: joins=%d resumes=%d leaves=%d\n", s.Joins, s.Resumes, s.Leaves)
	fmt.Fprintf(w, "inputs: applied=%d dropped=%d\n", s.Inputs, s.DroppedInputs)
	fmt.Fprintf(w, "replication: spawns=%d despawns=%d updates=%d loads=%d unloads=%d\n",
		s.Spawns, s.Despawns, s.Updates, s.Loads, s.Unloads)
	fmt.Fprintf(w, "entities_peak=%d diagnostics=%d digests=%d last_digest=%s\n",
		s.PeakEntities, s.Diagnostics, s.Digests, s.LastDigest)
}

// listDiagnostics prints matching diagnostics followed by per-kind totals.
func listDiagnostics(worldDir string, r tickRange, kind diag.Kind, w io.Writer) error {
	files, err := persistlog.Files(filepath.Join(worldDir, "diagnostics"), "diagnostics")
	if err != nil {
		return err
	}
	counts := map[diag.Kind]int{}
	for _, p := range files {
		err := persistlog.ReadJSONL(p, func(line []byte) error {
			var d diag.Diagnostic
			if err := json.Unmarshal(line, &d); err != nil {
				return err
			}
			if !r.contains(d.Tick) || (kind != "" && d.Kind != kind) {
				return nil
			}
			counts[d.Kind]++
			fmt.Fprintf(w, "tick=%d kind=%s partition=%d entity=%d observer=%d %s\n",
				d.Tick, d.Kind, d.Partition, uint64(d.Entity), uint64(d.Observer), d.Detail)
			return nil
		})
		if err != nil {
			return err
		}
	}
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(w, "total %s=%d\n", k, counts[diag.Kind(k)])
	}
	return nil
}
