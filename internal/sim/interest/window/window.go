// Package window computes each observer's square view window and the
// partitions that enter and leave it when the observer's center moves.
package window

import (
	"regionsync.io/internal/sim/interest/diff"
	"regionsync.io/internal/sim/interest/ids"
	"regionsync.io/internal/sim/interest/partition"
)

const (
	DefaultSide = 9
	MaxSide     = 65
)

// NormalizeSide clamps side to [1, MaxSide] and rounds even values up so the
// window is always centered on the observer's partition.
func NormalizeSide(side int) int {
	if side <= 0 {
		side = DefaultSide
	}
	if side > MaxSide {
		side = MaxSide
	}
	if side%2 == 0 {
		side++
	}
	return side
}

// Square returns the side×side block of coordinates centered on center,
// ascending under partition.Compare.
func Square(center partition.Coord, side int) []partition.Coord {
	side = NormalizeSide(side)
	r := side / 2
	out := make([]partition.Coord, 0, side*side)
	for dx := -r; dx <= r; dx++ {
		for dy := -r; dy <= r; dy++ {
			out = append(out, center.Add(dx, dy))
		}
	}
	return out
}

// Hooks receives window transitions. Enter/Exit are called in ascending
// coordinate order within each side of the diff.
type Hooks interface {
	Enter(o ids.Observer, c partition.Coord)
	Exit(o ids.Observer, c partition.Coord)
}

// State is one observer's window.
type State struct {
	Side     int
	Center   partition.Coord
	Centered bool
	Window   []partition.Coord
}

// Manager owns the windows of all attached observers.
type Manager struct {
	defaultSide int
	states      map[ids.Observer]*State
}

func NewManager(defaultSide int) *Manager {
	return &Manager{
		defaultSide: NormalizeSide(defaultSide),
		states:      map[ids.Observer]*State{},
	}
}

// Attach registers o with an empty window. side <= 0 uses the manager default.
// Attaching an already attached observer only updates its side, which takes
// effect on the next Recenter.
func (m *Manager) Attach(o ids.Observer, side int) {
	if side <= 0 {
		side = m.defaultSide
	}
	side = NormalizeSide(side)
	if st := m.states[o]; st != nil {
		st.Side = side
		return
	}
	m.states[o] = &State{Side: side}
}

func (m *Manager) Attached(o ids.Observer) bool {
	return m.states[o] != nil
}

// Recenter moves o's window to center and reports the transition through h.
// It returns the number of entered and exited coordinates. Recentering on
// the current center with an unchanged side does nothing.
func (m *Manager) Recenter(o ids.Observer, center partition.Coord, h Hooks) (entered, exited int) {
	st := m.states[o]
	if st == nil {
		return 0, 0
	}
	if st.Centered && st.Center == center && len(st.Window) == st.Side*st.Side {
		return 0, 0
	}
	next := Square(center, st.Side)
	diff.SortedFunc(st.Window, next, partition.Compare,
		func(c partition.Coord) {
			exited++
			h.Exit(o, c)
		},
		func(c partition.Coord) {
			entered++
			h.Enter(o, c)
		},
	)
	st.Center = center
	st.Centered = true
	st.Window = next
	return entered, exited
}

// Disconnect unloads o's whole window, as if every partition exited at once,
// and forgets o. It returns the number of exited coordinates.
func (m *Manager) Disconnect(o ids.Observer, h Hooks) int {
	st := m.states[o]
	if st == nil {
		return 0
	}
	delete(m.states, o)
	for _, c := range st.Window {
		h.Exit(o, c)
	}
	return len(st.Window)
}

// State returns a copy of o's window state.
func (m *Manager) State(o ids.Observer) (State, bool) {
	st := m.states[o]
	if st == nil {
		return State{}, false
	}
	cp := *st
	cp.Window = append([]partition.Coord(nil), st.Window...)
	return cp, true
}

// Len is the number of attached observers.
func (m *Manager) Len() int { return len(m.states) }

// Observers lists attached observers in no particular order.
func (m *Manager) Observers() []ids.Observer {
	out := make([]ids.Observer, 0, len(m.states))
	for o := range m.states {
		out = append(out, o)
	}
	return out
}
