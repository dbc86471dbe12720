package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"regionsync.io/internal/persistence/indexdb"
	"regionsync.io/internal/persistence/snapshot"
	"regionsync.io/internal/sim/catalogs"
	"regionsync.io/internal/sim/interest/diag"
	"regionsync.io/internal/sim/tuning"
	"regionsync.io/internal/sim/world"
)

type runtimeIndex interface {
	world.TickLogger
	world.DiagnosticLogger
	Close() error
	UpsertCatalogs(cats *catalogs.Catalogs, tune tuning.Tuning) error
	RecordSnapshot(path string, snap snapshot.SnapshotV1)
	Stats() indexdb.Stats
}

// openRuntimeIndex returns nil when indexing is off.
func openRuntimeIndex(worldDir string, cfg serverConfig) (runtimeIndex, error) {
	if cfg.DisableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(cfg.IndexBackend))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		idx, err := indexdb.OpenSQLite(filepath.Join(worldDir, "index", "world.sqlite"))
		if err != nil {
			return nil, err
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unsupported index backend: %s", backend)
	}
}

type teeTickLogger struct {
	a world.TickLogger
	b world.TickLogger
}

func (m teeTickLogger) WriteTick(entry world.TickLogEntry) error {
	var err error
	if m.a != nil {
		err = m.a.WriteTick(entry)
	}
	if m.b != nil {
		_ = m.b.WriteTick(entry)
	}
	return err
}

type teeDiagnosticLogger struct {
	a world.DiagnosticLogger
	b world.DiagnosticLogger
}

func (m teeDiagnosticLogger) WriteDiagnostic(d diag.Diagnostic) error {
	var err error
	if m.a != nil {
		err = m.a.WriteDiagnostic(d)
	}
	if m.b != nil {
		_ = m.b.WriteDiagnostic(d)
	}
	return err
}

// snapshotWriter persists snapshots off the world goroutine.
type snapshotWriter struct {
	dir string
	idx runtimeIndex
	log logrus.FieldLogger
}

func (s *snapshotWriter) loop(ctx context.Context, ch <-chan snapshot.SnapshotV1) {
	for {
		select {
		case <-ctx.Done():
			// Whatever was queued before shutdown still gets written.
			for {
				select {
				case snap := <-ch:
					s.write(snap)
				default:
					return
				}
			}
		case snap := <-ch:
			s.write(snap)
		}
	}
}

func (s *snapshotWriter) write(snap snapshot.SnapshotV1) {
	path := snapshot.PathFor(s.dir, snap.Header.Tick)
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		s.log.WithError(err).WithField("tick", snap.Header.Tick).Warn("snapshot write failed")
		return
	}
	if s.idx != nil {
		s.idx.RecordSnapshot(path, snap)
	}
	s.log.WithFields(logrus.Fields{
		"tick":     snap.Header.Tick,
		"entities": len(snap.Entities),
	}).Info("snapshot written")
}
