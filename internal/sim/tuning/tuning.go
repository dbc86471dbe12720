package tuning

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickRateHz     int `yaml:"tick_rate_hz"`
	RegionSize     int `yaml:"region_size"`
	GridHalfExtent int `yaml:"grid_half_extent"`
	ViewSide       int `yaml:"view_side"`

	// Per-session outbound queue; unreliable messages are dropped oldest-first
	// when it is full, reliable ones disconnect the session.
	SessionQueue int `yaml:"session_queue"`

	PlayerSpeed float64 `yaml:"player_speed"`

	CropAgeEveryTicks int `yaml:"crop_age_every_ticks"`
	InitialCrops      int `yaml:"initial_crops"`
	MaxCrops          int `yaml:"max_crops"`

	FaunaCount       int `yaml:"fauna_count"`
	FaunaWanderTicks int `yaml:"fauna_wander_ticks"`

	// How long a disconnected player's avatar stays in the world waiting for
	// a resume. Zero removes it immediately.
	ResumeGraceTicks int `yaml:"resume_grace_ticks"`

	// Time of day: game seconds per real second, the hour a fresh world
	// starts at, and how often the clock is broadcast. Zero
	// clock_every_ticks turns the broadcast off.
	DaySpeed        float64 `yaml:"day_speed"`
	StartHour       float64 `yaml:"start_hour"`
	ClockEveryTicks int     `yaml:"clock_every_ticks"`

	SnapshotEveryTicks int   `yaml:"snapshot_every_ticks"`
	CheckEveryTicks    int   `yaml:"check_every_ticks"`
	Seed               int64 `yaml:"seed"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:    "1.0",
		TickRateHz:         20,
		RegionSize:         16,
		GridHalfExtent:     4,
		ViewSide:           9,
		SessionQueue:       4096,
		PlayerSpeed:        4,
		CropAgeEveryTicks:  100,
		InitialCrops:       8,
		MaxCrops:           512,
		FaunaCount:         12,
		FaunaWanderTicks:   40,
		ResumeGraceTicks:   600,
		DaySpeed:           1000,
		StartHour:          12,
		ClockEveryTicks:    100,
		SnapshotEveryTicks: 6000,
		CheckEveryTicks:    200,
		Seed:               1,
	}
}

// Load reads path over Defaults, so a file only needs the keys it changes.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	var errs []error
	if t.TickRateHz <= 0 || t.TickRateHz > 1000 {
		errs = append(errs, fmt.Errorf("tick_rate_hz must be in 1..1000, got %d", t.TickRateHz))
	}
	if t.RegionSize <= 0 {
		errs = append(errs, fmt.Errorf("region_size must be positive, got %d", t.RegionSize))
	}
	if t.GridHalfExtent < 0 {
		errs = append(errs, fmt.Errorf("grid_half_extent must be >= 0, got %d", t.GridHalfExtent))
	}
	if t.ViewSide <= 0 {
		errs = append(errs, fmt.Errorf("view_side must be positive, got %d", t.ViewSide))
	}
	if t.SessionQueue <= 0 {
		errs = append(errs, fmt.Errorf("session_queue must be positive, got %d", t.SessionQueue))
	}
	if t.PlayerSpeed < 0 {
		errs = append(errs, fmt.Errorf("player_speed must be >= 0"))
	}
	if t.CropAgeEveryTicks <= 0 {
		errs = append(errs, fmt.Errorf("crop_age_every_ticks must be positive, got %d", t.CropAgeEveryTicks))
	}
	if t.InitialCrops < 0 || t.MaxCrops < 0 {
		errs = append(errs, fmt.Errorf("initial_crops and max_crops must be >= 0"))
	}
	if t.ResumeGraceTicks < 0 {
		errs = append(errs, fmt.Errorf("resume_grace_ticks must be >= 0"))
	}
	if t.FaunaCount < 0 || t.FaunaWanderTicks <= 0 {
		errs = append(errs, fmt.Errorf("fauna_count must be >= 0 and fauna_wander_ticks positive"))
	}
	if t.DaySpeed < 0 || t.StartHour < 0 || t.StartHour >= 24 || t.ClockEveryTicks < 0 {
		errs = append(errs, fmt.Errorf("day_speed and clock_every_ticks must be >= 0 and start_hour in [0, 24)"))
	}
	if t.SnapshotEveryTicks < 0 || t.CheckEveryTicks < 0 {
		errs = append(errs, fmt.Errorf("snapshot_every_ticks and check_every_ticks must be >= 0"))
	}
	return errors.Join(errs...)
}
