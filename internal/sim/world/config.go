package world

import (
	"regionsync.io/internal/sim/tuning"
)

type WorldConfig struct {
	ID         string
	TickRateHz int
	Seed       int64

	RegionSize     int
	GridHalfExtent int
	ViewSide       int

	SessionQueue int
	PlayerSpeed  float64

	CropAgeEveryTicks int
	InitialCrops      int
	MaxCrops          int

	FaunaCount       int
	FaunaWanderTicks int

	ResumeGraceTicks   int
	SnapshotEveryTicks int
	CheckEveryTicks    int

	DaySpeed        float64
	StartHour       float64
	ClockEveryTicks int
}

func ConfigFromTuning(id string, t tuning.Tuning) WorldConfig {
	return WorldConfig{
		ID:                 id,
		TickRateHz:         t.TickRateHz,
		Seed:               t.Seed,
		RegionSize:         t.RegionSize,
		GridHalfExtent:     t.GridHalfExtent,
		ViewSide:           t.ViewSide,
		SessionQueue:       t.SessionQueue,
		PlayerSpeed:        t.PlayerSpeed,
		CropAgeEveryTicks:  t.CropAgeEveryTicks,
		InitialCrops:       t.InitialCrops,
		MaxCrops:           t.MaxCrops,
		FaunaCount:         t.FaunaCount,
		FaunaWanderTicks:   t.FaunaWanderTicks,
		ResumeGraceTicks:   t.ResumeGraceTicks,
		SnapshotEveryTicks: t.SnapshotEveryTicks,
		CheckEveryTicks:    t.CheckEveryTicks,
		DaySpeed:           t.DaySpeed,
		StartHour:          t.StartHour,
		ClockEveryTicks:    t.ClockEveryTicks,
	}
}

func (c WorldConfig) withDefaults() WorldConfig {
	d := ConfigFromTuning(c.ID, tuning.Defaults())
	if c.TickRateHz <= 0 {
		c.TickRateHz = d.TickRateHz
	}
	if c.RegionSize <= 0 {
		c.RegionSize = d.RegionSize
	}
	if c.GridHalfExtent < 0 {
		c.GridHalfExtent = 0
	}
	if c.ViewSide <= 0 {
		c.ViewSide = d.ViewSide
	}
	if c.SessionQueue <= 0 {
		c.SessionQueue = d.SessionQueue
	}
	if c.CropAgeEveryTicks <= 0 {
		c.CropAgeEveryTicks = d.CropAgeEveryTicks
	}
	if c.DaySpeed < 0 {
		c.DaySpeed = 0
	}
	if c.FaunaWanderTicks <= 0 {
		c.FaunaWanderTicks = d.FaunaWanderTicks
	}
	return c
}

// bounds is the playable area in world units: [min, max) on both axes.
func (c WorldConfig) bounds() (min, max float64) {
	h := float64(c.GridHalfExtent)
	s := float64(c.RegionSize)
	return -h * s, (h + 1) * s
}
