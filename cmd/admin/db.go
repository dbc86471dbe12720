package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

const dbUsage = "usage: admin db [-data ./data] [-world WORLD|-db PATH] [-limit N] [-from_tick T] [-kind K] snapshots|ticks|diagnostics|joins|catalogs"

type dbQuery struct {
	Name     string
	Limit    int
	FromTick uint64
	Kind     string
}

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	limit := fs.Int("limit", 20, "result limit")
	fromTick := fs.Uint64("from_tick", 0, "only rows at or after this tick")
	kind := fs.String("kind", "", "diagnostic kind filter (diagnostics)")
	_ = fs.Parse(args)

	q := dbQuery{Name: "snapshots", Limit: *limit, FromTick: *fromTick, Kind: strings.TrimSpace(*kind)}
	if fs.NArg() > 0 {
		q.Name = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if strings.TrimSpace(*worldID) == "" {
			fmt.Fprintln(os.Stderr, "missing -world or -db")
			os.Exit(2)
		}
		path = filepath.Join(*dataDir, "worlds", *worldID, "index", "world.sqlite")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := runQuery(db, q, printJSON); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if strings.HasPrefix(err.Error(), "unknown query") {
			fmt.Fprintln(os.Stderr, dbUsage)
			os.Exit(2)
		}
		os.Exit(1)
	}
}

type snapshotRow struct {
	Tick     int64  `json:"tick"`
	Path     string `json:"path"`
	Seed     int64  `json:"seed"`
	Regions  int    `json:"regions"`
	Entities int    `json:"entities"`
}

type tickRow struct {
	Tick          int64  `json:"tick"`
	Digest        string `json:"digest,omitempty"`
	Joins         int    `json:"joins"`
	Leaves        int    `json:"leaves"`
	Inputs        int    `json:"inputs"`
	DroppedInputs int    `json:"dropped_inputs"`
	Spawns        int64  `json:"spawns"`
	Despawns      int64  `json:"despawns"`
	Updates       int64  `json:"updates"`
	Loads         int64  `json:"loads"`
	Unloads       int64  `json:"unloads"`
	Diagnostics   int    `json:"diagnostics"`
	Entities      int    `json:"entities"`
}

type diagnosticRow struct {
	Tick      int64  `json:"tick"`
	Seq       int    `json:"seq"`
	Kind      string `json:"kind"`
	Partition int64  `json:"partition"`
	Entity    int64  `json:"entity"`
	Observer  int64  `json:"observer"`
	Detail    string `json:"detail"`
}

type joinRow struct {
	Tick     int64  `json:"tick"`
	Observer string `json:"observer"`
	Entity   string `json:"entity"`
	Name     string `json:"name"`
	Resumed  bool   `json:"resumed"`
}

type catalogRow struct {
	Name      string `json:"name"`
	Digest    string `json:"digest"`
	UpdatedAt string `json:"updated_at"`
	JSON      string `json:"json"`
}

// runQuery streams one row at a time to emit, newest first.
func runQuery(db *sql.DB, q dbQuery, emit func(any)) error {
	if q.Limit <= 0 {
		q.Limit = 20
	}
	from := int64(q.FromTick)

	var (
		rows *sql.Rows
		err  error
		scan func(*sql.Rows) (any, error)
	)
	switch q.Name {
	case "snapshots":
		rows, err = db.Query(`SELECT tick,path,seed,regions,entities FROM snapshots WHERE tick>=? ORDER BY tick DESC LIMIT ?`, from, q.Limit)
		scan = func(rs *sql.Rows) (any, error) {
			var r snapshotRow
			err := rs.Scan(&r.Tick, &r.Path, &r.Seed, &r.Regions, &r.Entities)
			return r, err
		}
	case "ticks":
		rows, err = db.Query(`SELECT tick,digest,joins,leaves,inputs,dropped_inputs,spawns,despawns,updates,loads,unloads,diagnostics,entities FROM ticks WHERE tick>=? ORDER BY tick DESC LIMIT ?`, from, q.Limit)
		scan = func(rs *sql.Rows) (any, error) {
			var r tickRow
			err := rs.Scan(&r.Tick, &r.Digest, &r.Joins, &r.Leaves, &r.Inputs, &r.DroppedInputs,
				&r.Spawns, &r.Despawns, &r.Updates, &r.Loads, &r.Unloads, &r.Diagnostics, &r.Entities)
			return r, err
		}
	case "diagnostics":
		query := `SELECT tick,seq,kind,partition_id,entity_id,observer_id,detail FROM diagnostics WHERE tick>=? ORDER BY tick DESC, seq DESC LIMIT ?`
		qargs := []any{from, q.Limit}
		if q.Kind != "" {
			query = `SELECT tick,seq,kind,partition_id,entity_id,observer_id,detail FROM diagnostics WHERE tick>=? AND kind=? ORDER BY tick DESC, seq DESC LIMIT ?`
			qargs = []any{from, q.Kind, q.Limit}
		}
		rows, err = db.Query(query, qargs...)
		scan = func(rs *sql.Rows) (any, error) {
			var r diagnosticRow
			err := rs.Scan(&r.Tick, &r.Seq, &r.Kind, &r.Partition, &r.Entity, &r.Observer, &r.Detail)
			return r, err
		}
	case "joins":
		rows, err = db.Query(`SELECT tick,observer_id,entity_id,name,resumed FROM joins WHERE tick>=? ORDER BY tick DESC LIMIT ?`, from, q.Limit)
		scan = func(rs *sql.Rows) (any, error) {
			var r joinRow
			err := rs.Scan(&r.Tick, &r.Observer, &r.Entity, &r.Name, &r.Resumed)
			return r, err
		}
	case "catalogs":
		rows, err = db.Query(`SELECT name,digest,updated_at,json FROM catalogs ORDER BY name`)
		scan = func(rs *sql.Rows) (any, error) {
			var r catalogRow
			err := rs.Scan(&r.Name, &r.Digest, &r.UpdatedAt, &r.JSON)
			return r, err
		}
	default:
		return fmt.Errorf("unknown query: %s", q.Name)
	}
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		r, err := scan(rows)
		if err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		emit(r)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows: %w", err)
	}
	return nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
