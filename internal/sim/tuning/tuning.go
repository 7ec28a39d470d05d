// Package tuning loads the world's balance knobs from YAML. Every field
// has a built-in default, so a partial file only overrides what it names
// and a missing file still yields a playable world.
package tuning

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"aldea.world/internal/sim/accel"
	"aldea.world/internal/sim/engine"
	"aldea.world/internal/sim/state"
	"aldea.world/internal/sim/systems"
)

type Tuning struct {
	WorldID string `yaml:"world_id"`
	Seed    int64  `yaml:"seed"`

	TickIntervalMs      int     `yaml:"tick_interval_ms"`
	MaxCommandQueue     int     `yaml:"max_command_queue"`
	CellSize            float64 `yaml:"cell_size"`
	TimeScale           float64 `yaml:"time_scale"`
	ReservationTTLTicks uint64  `yaml:"reservation_ttl_ticks"`
	SnapshotEveryTicks  uint64  `yaml:"snapshot_every_ticks"`

	World      WorldTuning     `yaml:"world"`
	Population Population      `yaml:"population"`
	Systems    SystemsTuning   `yaml:"systems"`
	Accel      AccelTuning     `yaml:"accel"`
	Messaging  MessagingTuning `yaml:"messaging"`
}

type WorldTuning struct {
	Width  float64 `yaml:"width"`
	Height float64 `yaml:"height"`
}

type Population struct {
	Agents    int `yaml:"agents"`
	Animals   int `yaml:"animals"`
	Resources int `yaml:"resources"`
}

type SystemsTuning struct {
	DayLengthS        float64 `yaml:"day_length_s"`
	HungerDecay       float64 `yaml:"hunger_decay"`
	EnergyDecay       float64 `yaml:"energy_decay"`
	CriticalThreshold float64 `yaml:"critical_threshold"`
	ArriveRadius      float64 `yaml:"arrive_radius"`
	WanderChance      float64 `yaml:"wander_chance"`
	BulkMoveThreshold int     `yaml:"bulk_move_threshold"`
	FleeRadius        float64 `yaml:"flee_radius"`
	GatherRange       float64 `yaml:"gather_range"`
	EncounterRadius   float64 `yaml:"encounter_radius"`
	FamiliarityRate   float64 `yaml:"familiarity_rate"`
	MaxAgeS           float64 `yaml:"max_age_s"`
}

type AccelTuning struct {
	Backend        string `yaml:"backend"` // "cpu" or "pool"
	Workers        int    `yaml:"workers"` // 0 = GOMAXPROCS
	BatchThreshold int    `yaml:"batch_threshold"`
}

// MessagingTuning controls the embedded NATS broker. Disabled by default;
// the server runs fine without it.
type MessagingTuning struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"` // -1 picks a free port
}

func Defaults() Tuning {
	return Tuning{
		WorldID:             "aldea-1",
		Seed:                1,
		TickIntervalMs:      200,
		MaxCommandQueue:     200,
		CellSize:            70,
		TimeScale:           1,
		ReservationTTLTicks: 25,
		SnapshotEveryTicks:  300,
		World:               WorldTuning{Width: 2000, Height: 2000},
		Population:          Population{Agents: 12, Animals: 8, Resources: 24},
		Systems: SystemsTuning{
			DayLengthS:        240,
			HungerDecay:       0.5,
			EnergyDecay:       0.35,
			CriticalThreshold: 20,
			ArriveRadius:      4,
			WanderChance:      0.02,
			FleeRadius:        60,
			GatherRange:       30,
			EncounterRadius:   25,
			FamiliarityRate:   0.2,
		},
		Accel:     AccelTuning{Backend: "pool", BatchThreshold: accel.DefaultThreshold},
		Messaging: MessagingTuning{Host: "127.0.0.1", Port: 4222},
	}
}

// Load reads path on top of the defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t.normalized(), nil
}

func (t Tuning) normalized() Tuning {
	d := Defaults()
	if t.TickIntervalMs <= 0 {
		t.TickIntervalMs = d.TickIntervalMs
	}
	if t.MaxCommandQueue <= 0 {
		t.MaxCommandQueue = d.MaxCommandQueue
	}
	if t.CellSize <= 0 {
		t.CellSize = d.CellSize
	}
	if t.World.Width <= 0 {
		t.World.Width = d.World.Width
	}
	if t.World.Height <= 0 {
		t.World.Height = d.World.Height
	}
	return t
}

// WorldInfo maps the file onto the immutable world parameters.
func (t Tuning) WorldInfo() state.Info {
	return state.Info{ID: t.WorldID, Width: t.World.Width, Height: t.World.Height, Seed: t.Seed}
}

func (t Tuning) SeedConfig() state.SeedConfig {
	return state.SeedConfig{Agents: t.Population.Agents, Animals: t.Population.Animals, Resources: t.Population.Resources}
}

func (t Tuning) RunnerConfig() engine.Config {
	return engine.Config{
		WorldID:         t.WorldID,
		TickInterval:    time.Duration(t.TickIntervalMs) * time.Millisecond,
		MaxCommandQueue: t.MaxCommandQueue,
		TimeScale:       t.TimeScale,
	}
}

func (t Tuning) StackConfig() systems.StackConfig {
	s := t.Systems
	return systems.StackConfig{
		Clock:     systems.ClockConfig{DayLength: s.DayLengthS},
		Needs:     systems.NeedsConfig{HungerDecay: s.HungerDecay, EnergyDecay: s.EnergyDecay, Critical: s.CriticalThreshold},
		Movement:  systems.MovementConfig{ArriveRadius: s.ArriveRadius, WanderChance: s.WanderChance, BulkThreshold: s.BulkMoveThreshold},
		Animals:   systems.AnimalsConfig{FleeRadius: s.FleeRadius},
		Resources: systems.ResourcesConfig{GatherRange: s.GatherRange, ReservationTTL: t.ReservationTTLTicks},
		Social:    systems.SocialConfig{EncounterRadius: s.EncounterRadius, FamiliarityRate: s.FamiliarityRate},
		Lifecycle: systems.LifecycleConfig{MaxAge: s.MaxAgeS},
	}
}

// AccelBackend builds the configured pairwise backend.
func (t Tuning) AccelBackend() accel.Backend {
	if t.Accel.Backend == "cpu" {
		return accel.CPU{}
	}
	return accel.NewPool(t.Accel.Workers, t.Accel.BatchThreshold)
}
