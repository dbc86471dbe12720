package world

import (
	"math"

	"regionsync.io/internal/protocol"
)

// wrapHour folds h into [0, 24).
func wrapHour(h float64) float64 {
	h = math.Mod(h, 24)
	if h < 0 {
		h += 24
	}
	return h
}

// advanceClock moves the world clock forward every ClockEveryTicks ticks and
// broadcasts it to every session. The clock is world-wide and ignores
// interest.
func (w *World) advanceClock(tick uint64) {
	every := w.cfg.ClockEveryTicks
	if every <= 0 || tick == 0 || tick%uint64(every) != 0 {
		return
	}
	realSeconds := float64(every) / float64(w.cfg.TickRateHz)
	w.timeOfDay = wrapHour(w.timeOfDay + realSeconds*w.cfg.DaySpeed/3600)

	msg := protocol.TimeOfDayMsg{
		Type:     protocol.TypeTimeOfDay,
		Tick:     tick,
		Hour:     w.timeOfDay,
		DaySpeed: w.cfg.DaySpeed,
	}
	for obs := range w.sessions {
		w.send(obs, protocol.Unreliable, msg)
	}
}
