package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"regionsync.io/internal/persistence/indexdb"
	"regionsync.io/internal/sim/interest/partition"
	"regionsync.io/internal/sim/world"
	"regionsync.io/internal/transport/observer"
	"regionsync.io/internal/transport/ws"
)

func newMux(w *world.World, idx runtimeIndex, cfg serverConfig, logger logrus.FieldLogger) *http.ServeMux {
	mux := http.NewServeMux()
	players := ws.NewServer(w, logger)

	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", metricsHandler(w, players, idx))
	mux.HandleFunc("/debug/stats", statsHandler(w, players, idx))

	mux.HandleFunc("/v1/ws", players.Handler())

	spectators := observer.NewServer(w, logger)
	spectators.AllowRemote = cfg.AllowRemoteSpectators
	mux.HandleFunc("/v1/spectate/bootstrap", spectators.BootstrapHandler())
	mux.HandleFunc("/v1/spectate", spectators.WSHandler())

	if cfg.AdminHTTP {
		// Local-only.
		mux.HandleFunc("/admin/v1/state", loopbackOnly(statsHandler(w, players, idx)))
		mux.HandleFunc("/admin/v1/snapshot", loopbackOnly(snapshotHandler(w)))
		mux.HandleFunc("/admin/v1/regions", loopbackOnly(regionsHandler(w)))
	} else {
		logger.Info("admin endpoints disabled (REGIONSYNC_ENABLE_ADMIN_HTTP=false)")
	}
	if cfg.PprofHTTP {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return mux
}

type statsResponse struct {
	world.Stats
	TransportDroppedInputs uint64         `json:"transport_dropped_inputs"`
	Index                  *indexdb.Stats `json:"index,omitempty"`
}

func collectStats(ctx context.Context, w *world.World, players *ws.Server, idx runtimeIndex) (statsResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	st, err := w.RequestStats(ctx)
	if err != nil {
		return statsResponse{}, err
	}
	resp := statsResponse{Stats: st, TransportDroppedInputs: players.DroppedInputs()}
	if idx != nil {
		is := idx.Stats()
		resp.Index = &is
	}
	return resp, nil
}

func statsHandler(w *world.World, players *ws.Server, idx runtimeIndex) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		resp, err := collectStats(r.Context(), w, players, idx)
		if err != nil {
			http.Error(rw, err.Error(), http.StatusServiceUnavailable)
			return
		}
		writeJSON(rw, http.StatusOK, resp)
	}
}

// metricsHandler writes the Prometheus text exposition format.
func metricsHandler(w *world.World, players *ws.Server, idx runtimeIndex) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		st, err := collectStats(r.Context(), w, players, idx)
		if err != nil {
			http.Error(rw, err.Error(), http.StatusServiceUnavailable)
			return
		}
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		id := st.WorldID

		gauge := func(name, help string, v any) {
			fmt.Fprintf(rw, "# HELP %s %s\n", name, help)
			fmt.Fprintf(rw, "# TYPE %s gauge\n", name)
			fmt.Fprintf(rw, "%s{world=%q} %v\n", name, id, v)
		}
		counter := func(name, help string, v uint64) {
			fmt.Fprintf(rw, "# HELP %s %s\n", name, help)
			fmt.Fprintf(rw, "# TYPE %s counter\n", name)
			fmt.Fprintf(rw, "%s{world=%q} %d\n", name, id, v)
		}

		gauge("regionsync_world_tick", "Current world tick.", st.Tick)
		gauge("regionsync_world_entities", "Entities in the world.", st.Entities)
		gauge("regionsync_world_sessions", "Connected player sessions.", st.Sessions)
		gauge("regionsync_world_spectators", "Connected spectators.", st.Spectators)
		gauge("regionsync_interest_partitions", "Registered partitions.", st.Interest.Partitions)
		gauge("regionsync_interest_occupied_partitions", "Partitions with at least one occupant.", st.Interest.OccupiedPartitions)
		gauge("regionsync_interest_observers", "Observers with a window.", st.Interest.Observers)
		gauge("regionsync_interest_subscriptions", "Observer/partition subscription edges.", st.Interest.Subscriptions)

		rep := st.Interest.Replication
		counter("regionsync_replication_spawns_total", "Spawn messages sent.", rep.Spawns)
		counter("regionsync_replication_despawns_total", "Despawn messages sent.", rep.Despawns)
		counter("regionsync_replication_updates_total", "Attribute updates sent.", rep.Updates)
		counter("regionsync_replication_suppressed_total", "Visibility changes refused by the ledger.", rep.Suppressed)
		counter("regionsync_world_dropped_inputs_total", "Inputs dropped by the sequence guard.", st.Counters.DroppedInputs)
		counter("regionsync_world_dropped_unreliable_total", "Unreliable messages dropped on full queues.", st.Counters.DroppedUnreliable)
		counter("regionsync_world_kicked_total", "Sessions kicked on reliable overflow.", st.Counters.Kicked)
		counter("regionsync_world_diagnostics_total", "Diagnostics recorded.", st.Counters.Diagnostics)
		counter("regionsync_transport_dropped_inputs_total", "Inputs dropped on a full world inbox.", st.TransportDroppedInputs)

		if st.Index != nil {
			gauge("regionsync_index_queue_depth", "SQLite index queue depth.", st.Index.QueueDepth)
			counter("regionsync_index_drop_tick_total", "Tick rows dropped on a full index queue.", st.Index.DropTickTotal)
			counter("regionsync_index_drop_diagnostic_total", "Diagnostic rows dropped on a full index queue.", st.Index.DropDiagnosticTotal)
		}
	}
}

func snapshotHandler(w *world.World) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		tick, err := w.RequestSnapshot(ctx)
		if err != nil {
			writeJSON(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "tick": tick, "error": err.Error()})
			return
		}
		writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "tick": tick})
	}
}

// regionsHandler adds or removes a grid region:
// POST /admin/v1/regions?op=remove&x=1&y=-2
func regionsHandler(w *world.World) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		q := r.URL.Query()
		x, errX := strconv.Atoi(q.Get("x"))
		y, errY := strconv.Atoi(q.Get("y"))
		if errX != nil || errY != nil {
			http.Error(rw, "x and y must be integers", http.StatusBadRequest)
			return
		}
		c := partition.Coord{X: x, Y: y}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		switch q.Get("op") {
		case "add":
			added, err := w.RequestAddRegion(ctx, c)
			if err != nil {
				http.Error(rw, err.Error(), http.StatusServiceUnavailable)
				return
			}
			writeJSON(rw, http.StatusOK, map[string]any{"ok": added, "region": [2]int{x, y}})
		case "remove":
			removed, ok, err := w.RequestRemoveRegion(ctx, c)
			if err != nil {
				http.Error(rw, err.Error(), http.StatusServiceUnavailable)
				return
			}
			ents := make([]string, 0, len(removed))
			for _, e := range removed {
				ents = append(ents, e.String())
			}
			writeJSON(rw, http.StatusOK, map[string]any{"ok": ok, "region": [2]int{x, y}, "entities": ents})
		default:
			http.Error(rw, "op must be add or remove", http.StatusBadRequest)
		}
	}
}

func loopbackOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}
