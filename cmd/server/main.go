package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"regionsync.io/internal/logging"
	persistlog "regionsync.io/internal/persistence/log"
	"regionsync.io/internal/persistence/snapshot"
	"regionsync.io/internal/sim/catalogs"
	"regionsync.io/internal/sim/tuning"
	"regionsync.io/internal/sim/world"
)

// envConfig is read before flags; flags default to it.
type envConfig struct {
	Addr                  string `env:"REGIONSYNC_ADDR" envDefault:":8080"`
	LogLevel              string `env:"REGIONSYNC_LOG_LEVEL" envDefault:"info"`
	LogFormat             string `env:"REGIONSYNC_LOG_FORMAT" envDefault:"text"`
	DisableDB             bool   `env:"REGIONSYNC_DISABLE_DB"`
	IndexBackend          string `env:"REGIONSYNC_INDEX_BACKEND" envDefault:"sqlite"`
	AdminHTTP             bool   `env:"REGIONSYNC_ENABLE_ADMIN_HTTP" envDefault:"true"`
	PprofHTTP             bool   `env:"REGIONSYNC_ENABLE_PPROF_HTTP"`
	AllowRemoteSpectators bool   `env:"REGIONSYNC_ALLOW_REMOTE_SPECTATORS"`
}

type serverConfig struct {
	envConfig

	WorldID    string
	Seed       int64
	ConfigDir  string
	DataDir    string
	TuningPath string
	Snapshot   string
	LoadLatest bool
}

func parseConfig(fs *flag.FlagSet, args []string) (serverConfig, error) {
	var cfg serverConfig
	if err := env.Parse(&cfg.envConfig); err != nil {
		return serverConfig{}, fmt.Errorf("parse env: %w", err)
	}

	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "http listen address")
	fs.StringVar(&cfg.WorldID, "world", "world_1", "world id")
	fs.Int64Var(&cfg.Seed, "seed", 0, "world seed for a fresh world (0 uses tuning.yaml)")
	fs.StringVar(&cfg.ConfigDir, "configs", "./configs", "config directory")
	fs.StringVar(&cfg.DataDir, "data", "./data", "runtime data directory")
	fs.StringVar(&cfg.TuningPath, "tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
	fs.BoolVar(&cfg.DisableDB, "disable_db", cfg.DisableDB, "disable the sqlite index (tick/diagnostics + catalogs + snapshot metadata)")
	fs.StringVar(&cfg.Snapshot, "snapshot", "", "path to snapshot to load (optional)")
	fs.BoolVar(&cfg.LoadLatest, "load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
	fs.StringVar(&cfg.LogLevel, "log_level", cfg.LogLevel, "log level")
	fs.StringVar(&cfg.LogFormat, "log_format", cfg.LogFormat, "log format: text or json")
	if err := fs.Parse(args); err != nil {
		return serverConfig{}, err
	}
	if strings.TrimSpace(cfg.TuningPath) == "" {
		cfg.TuningPath = filepath.Join(cfg.ConfigDir, "tuning.yaml")
	}
	return cfg, nil
}

func (c serverConfig) worldDir() string {
	return filepath.Join(c.DataDir, "worlds", c.WorldID)
}

func main() {
	cfg, err := parseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("server stopped")
	}
}

func run(ctx context.Context, cfg serverConfig, logger *logrus.Logger) error {
	cats, err := catalogs.Load(cfg.ConfigDir)
	if err != nil {
		return fmt.Errorf("load catalogs: %w", err)
	}

	worldDir := cfg.worldDir()
	if err := os.MkdirAll(worldDir, 0o755); err != nil {
		return fmt.Errorf("world dir: %w", err)
	}

	snapshotToLoad := strings.TrimSpace(cfg.Snapshot)
	if snapshotToLoad == "" && cfg.LoadLatest {
		p, ok, err := snapshot.Latest(filepath.Join(worldDir, "snapshots"))
		if err != nil {
			return fmt.Errorf("find latest snapshot: %w", err)
		}
		if ok {
			snapshotToLoad = p
		}
	}

	// Tuning is required for a fresh world; a resume carries the grid shape
	// in the snapshot and can fall back to defaults.
	tune, err := tuning.Load(cfg.TuningPath)
	if err != nil {
		if snapshotToLoad == "" || !os.IsNotExist(err) {
			return fmt.Errorf("load tuning: %w", err)
		}
		logger.WithField("path", cfg.TuningPath).Warn("tuning not found; using defaults")
		tune = tuning.Defaults()
	}
	if cfg.Seed != 0 {
		tune.Seed = cfg.Seed
	}

	idx, err := openRuntimeIndex(worldDir, cfg)
	if err != nil {
		return fmt.Errorf("open index backend: %w", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertCatalogs(cats, tune); err != nil {
			logger.WithError(err).Warn("index backend: upsert catalogs")
		}
	}

	w, err := newWorld(cfg.WorldID, tune, cats, snapshotToLoad, logger)
	if err != nil {
		return err
	}

	tickLog := persistlog.NewTickLogger(worldDir)
	diagLog := persistlog.NewDiagnosticsLogger(worldDir)
	defer tickLog.Close()
	defer diagLog.Close()
	w.SetTickLogger(teeTickLogger{tickLog, idx})
	w.SetDiagnosticLogger(teeDiagnosticLogger{diagLog, idx})

	snaps := &snapshotWriter{dir: filepath.Join(worldDir, "snapshots"), idx: idx, log: logger}
	snapCh := make(chan snapshot.SnapshotV1, 2)
	w.SetSnapshotSink(snapCh)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newMux(w, idx, cfg, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := w.Run(gctx); err != nil && gctx.Err() == nil {
			return fmt.Errorf("world: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		snaps.loop(gctx, snapCh)
		return nil
	})
	g.Go(func() error {
		logger.WithField("addr", cfg.Addr).Info("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	err = g.Wait()

	// The loop has exited, so the world can be read from here.
	if w.CurrentTick() > 0 {
		snaps.write(w.ExportSnapshot(w.LastTick()))
	}
	return err
}

// newWorld builds a fresh, populated world, or one restored from path.
func newWorld(id string, tune tuning.Tuning, cats *catalogs.Catalogs, path string, logger *logrus.Logger) (*world.World, error) {
	wcfg := world.ConfigFromTuning(id, tune)
	if path == "" {
		w, err := world.New(wcfg, cats, logger)
		if err != nil {
			return nil, fmt.Errorf("world: %w", err)
		}
		w.Populate()
		logger.WithFields(logrus.Fields{"world": id, "seed": wcfg.Seed}).Info("fresh world")
		return w, nil
	}

	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	if snap.Header.WorldID != "" && snap.Header.WorldID != id {
		return nil, fmt.Errorf("snapshot world id mismatch: flag=%s snap=%s", id, snap.Header.WorldID)
	}
	wcfg.Seed = snap.Seed
	wcfg.TickRateHz = snap.TickRate
	wcfg.RegionSize = snap.RegionSize
	wcfg.GridHalfExtent = snap.GridHalfExtent

	w, err := world.New(wcfg, cats, logger)
	if err != nil {
		return nil, fmt.Errorf("world: %w", err)
	}
	if err := w.ImportSnapshot(snap); err != nil {
		return nil, fmt.Errorf("import snapshot: %w", err)
	}
	logger.WithFields(logrus.Fields{
		"snapshot": filepath.Base(path),
		"tick":     w.CurrentTick(),
	}).Info("resumed from snapshot")
	return w, nil
}
