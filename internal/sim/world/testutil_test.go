package world

import (
	"fmt"
	"strings"
	"testing"

	"regionsync.io/internal/protocol"
	"regionsync.io/internal/sim/catalogs"
	"regionsync.io/internal/sim/interest/ids"
)

func loadClasses(t *testing.T) *catalogs.Catalogs {
	t.Helper()
	cats, err := catalogs.Load("../../../configs")
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	return cats
}

// newTestWorld builds a 5x5 grid of 8-unit regions with 3x3 windows and no
// fauna or crops.
func newTestWorld(t *testing.T, mut func(*WorldConfig)) *World {
	t.Helper()
	cfg := WorldConfig{
		ID:                "test",
		TickRateHz:        10,
		Seed:              7,
		RegionSize:        8,
		GridHalfExtent:    2,
		ViewSide:          3,
		SessionQueue:      256,
		PlayerSpeed:       4,
		CropAgeEveryTicks: 1,
		FaunaWanderTicks:  40,
		ResumeGraceTicks:  5,
		CheckEveryTicks:   1,
	}
	if mut != nil {
		mut(&cfg)
	}
	w, err := New(cfg, loadClasses(t), nil)
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	return w
}

type client struct {
	out     Outbound
	welcome protocol.WelcomeMsg
	obs     ids.Observer
}

func joinReq(name, token string, out Outbound) JoinRequest {
	return JoinRequest{Name: name, ResumeToken: token, Out: out, Resp: make(chan JoinResponse, 1)}
}

// join runs one tick admitting a single player.
func join(t *testing.T, w *World, name string) *client {
	t.Helper()
	req := joinReq(name, "", NewOutbound(256, 256))
	w.step([]JoinRequest{req}, nil, nil)
	resp := <-req.Resp
	if resp.Err != nil {
		t.Fatalf("join %s: %+v", name, resp.Err)
	}
	return &client{out: req.Out, welcome: resp.Welcome, obs: resp.Observer}
}

// drain empties ch without blocking and reports whether it is closed.
func drain(ch chan any) (msgs []any, closed bool) {
	for {
		select {
		case m, ok := <-ch:
			if !ok {
				return msgs, true
			}
			msgs = append(msgs, m)
		default:
			return msgs, false
		}
	}
}

func (c *client) reliable() []string {
	msgs, _ := drain(c.out.Reliable)
	return summarize(msgs)
}

func (c *client) unreliable() []string {
	msgs, _ := drain(c.out.Unreliable)
	return summarize(msgs)
}

func summarize(msgs []any) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		switch m := m.(type) {
		case protocol.LoadRegionMsg:
			out = append(out, fmt.Sprintf("load %d,%d", m.Region[0], m.Region[1]))
		case protocol.UnloadRegionMsg:
			out = append(out, fmt.Sprintf("unload %d,%d", m.Region[0], m.Region[1]))
		case protocol.SpawnEntityMsg:
			out = append(out, "spawn "+m.Entity)
		case protocol.DespawnEntityMsg:
			out = append(out, "despawn "+m.Entity)
		case protocol.ClassDefMsg:
			out = append(out, "class "+m.Class)
		case protocol.AttrUpdateMsg:
			out = append(out, "update "+m.Entity+" "+m.Attr)
		default:
			out = append(out, fmt.Sprintf("%T", m))
		}
	}
	return out
}

func only(lines []string, prefix string) []string {
	var out []string
	for _, l := range lines {
		if strings.HasPrefix(l, prefix) {
			out = append(out, l)
		}
	}
	return out
}
