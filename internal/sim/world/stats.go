package world

import (
	"context"
	"errors"

	"regionsync.io/internal/sim/catalogs"
	"regionsync.io/internal/sim/interest"
)

// tickCounters collect what happened during the current tick.
type tickCounters struct {
	joins             []RecordedJoin
	leaves            []string
	inputs            int
	droppedInputs     int
	droppedUnreliable uint64
}

// Counters are lifetime totals.
type Counters struct {
	Ticks             uint64 `json:"ticks"`
	Inputs            uint64 `json:"inputs"`
	DroppedInputs     uint64 `json:"dropped_inputs"`
	DroppedUnreliable uint64 `json:"dropped_unreliable"`
	Kicked            uint64 `json:"kicked"`
	Diagnostics       uint64 `json:"diagnostics"`
}

type Stats struct {
	WorldID    string         `json:"world_id"`
	Tick       uint64         `json:"tick"`
	TimeOfDay  float64        `json:"time_of_day"`
	Entities   int            `json:"entities"`
	Players    int            `json:"players"`
	Fauna      int            `json:"fauna"`
	Crops      int            `json:"crops"`
	Sessions   int            `json:"sessions"`
	Spectators int            `json:"spectators"`
	Interest   interest.Stats `json:"interest"`
	Counters   Counters       `json:"counters"`
}

type statsReq struct {
	Resp chan Stats
}

// RequestStats asks the world loop for a consistent view of its counts.
func (w *World) RequestStats(ctx context.Context) (Stats, error) {
	if w == nil || w.statsReq == nil {
		return Stats{}, errors.New("stats not available")
	}
	req := statsReq{Resp: make(chan Stats, 1)}
	select {
	case w.statsReq <- req:
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
	select {
	case st := <-req.Resp:
		return st, nil
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
}

func (w *World) handleStatsReq(req statsReq) {
	st := w.stats()
	select {
	case req.Resp <- st:
	default:
	}
}

func (w *World) stats() Stats {
	st := Stats{
		WorldID:   w.cfg.ID,
		Tick:      w.tick.Load(),
		TimeOfDay: w.timeOfDay,
		Entities:  len(w.entities),
		Players:   w.countKind(catalogs.KindPlayer),
		Fauna:     w.countKind(catalogs.KindFauna),
		Crops:     w.countKind(catalogs.KindCrop),
		Interest:  w.engine.Stats(),
		Counters:  w.lifetime,
	}
	for _, s := range w.sessions {
		if s.avatar == 0 {
			st.Spectators++
		} else {
			st.Sessions++
		}
	}
	return st
}
