package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"regionsync.io/internal/persistence/snapshot"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		case "region":
			regionCmd(os.Args[2:])
			return
		case "inspect":
			inspectCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (optional)")
	_ = fs.Parse(args)

	base := filepath.Join(*dataDir, "worlds")
	if *worldID != "" {
		base = filepath.Join(base, *worldID)
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		fmt.Println(e.Name())
	}
}

// inspectCmd prints a snapshot's header and a per-class entity count.
func inspectCmd(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (used when -snapshot is empty)")
	snapPath := fs.String("snapshot", "", "snapshot path (optional; defaults to latest)")
	_ = fs.Parse(args)

	path := strings.TrimSpace(*snapPath)
	if path == "" {
		if strings.TrimSpace(*worldID) == "" {
			fmt.Fprintln(os.Stderr, "missing -world or -snapshot")
			os.Exit(2)
		}
		p, ok, err := snapshot.Latest(filepath.Join(*dataDir, "worlds", *worldID, "snapshots"))
		if err != nil || !ok {
			fmt.Fprintln(os.Stderr, "no snapshot found:", err)
			os.Exit(2)
		}
		path = p
	}

	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	printJSON(describeSnapshot(path, snap))
}

type snapshotInfo struct {
	Path           string         `json:"path"`
	WorldID        string         `json:"world_id"`
	Tick           uint64         `json:"tick"`
	Seed           int64          `json:"seed"`
	RegionSize     int            `json:"region_size"`
	GridHalfExtent int            `json:"grid_half_extent"`
	Regions        int            `json:"regions"`
	MissingRegions [][2]int       `json:"missing_regions,omitempty"`
	Entities       int            `json:"entities"`
	Classes        map[string]int `json:"classes"`
	Resumable      int            `json:"resumable_players"`
}

func describeSnapshot(path string, snap snapshot.SnapshotV1) snapshotInfo {
	info := snapshotInfo{
		Path:           path,
		WorldID:        snap.Header.WorldID,
		Tick:           snap.Header.Tick,
		Seed:           snap.Seed,
		RegionSize:     snap.RegionSize,
		GridHalfExtent: snap.GridHalfExtent,
		Regions:        len(snap.Regions),
		Entities:       len(snap.Entities),
		Classes:        map[string]int{},
	}
	have := map[[2]int]bool{}
	for _, r := range snap.Regions {
		have[r] = true
	}
	h := snap.GridHalfExtent
	for x := -h; x <= h; x++ {
		for y := -h; y <= h; y++ {
			if !have[[2]int{x, y}] {
				info.MissingRegions = append(info.MissingRegions, [2]int{x, y})
			}
		}
	}
	for _, e := range snap.Entities {
		info.Classes[e.Class]++
		if e.ResumeToken != "" {
			info.Resumable++
		}
	}
	return info
}
