package systems

import (
	"aldea.world/internal/sim/engine"
	"aldea.world/internal/sim/spatial"
	"aldea.world/internal/sim/state"
)

type MovementConfig struct {
	// ArriveRadius snaps an agent to its target once it is this close.
	ArriveRadius float64
	// WanderChance is the per-tick probability that an idle agent picks a
	// new destination.
	WanderChance float64
	// BulkThreshold is the mover count above which one full reindex beats
	// per-agent cell moves.
	BulkThreshold int
}

func (c MovementConfig) withDefaults() MovementConfig {
	if c.ArriveRadius <= 0 {
		c.ArriveRadius = 4
	}
	if c.WanderChance <= 0 {
		c.WanderChance = 0.02
	}
	if c.BulkThreshold <= 0 {
		c.BulkThreshold = 32
	}
	return c
}

// Movement walks agents toward their targets and hands idle ones a wander
// destination. A quiet tick reindexes its few movers in place; a busy one
// marks the grid dirty and the first system that queries pays one rebuild.
type Movement struct {
	cfg  MovementConfig
	bus  *engine.Bus
	grid *spatial.Grid
	tick func() uint64

	movers []*state.Agent
}

func NewMovement(cfg MovementConfig, bus *engine.Bus, grid *spatial.Grid, tick func() uint64) *Movement {
	return &Movement{cfg: cfg.withDefaults(), bus: bus, grid: grid, tick: tick}
}

func (s *Movement) Name() string { return "movement" }

func (s *Movement) Update(w *state.World, dt float64) error {
	// tick() still reports the last committed tick while systems run.
	tick := s.tick() + 1
	s.movers = s.movers[:0]

	for _, a := range w.Agents.All() {
		if a.Dead {
			continue
		}
		if a.Target == nil {
			if hashNoise(w.Info.Seed, tick, a.ID, saltWander) < s.cfg.WanderChance {
				t := state.Vec2{
					X: hashNoise(w.Info.Seed, tick, a.ID, saltTargetX) * w.Info.Width,
					Y: hashNoise(w.Info.Seed, tick, a.ID, saltTargetY) * w.Info.Height,
				}
				a.Target = &t
			}
			continue
		}

		delta := a.Target.Sub(a.Pos)
		dist := delta.Len()
		step := a.Speed * dt
		if dist <= step || dist <= s.cfg.ArriveRadius {
			a.Pos = w.Clamp(*a.Target)
			a.Target = nil
			s.movers = append(s.movers, a)
			s.bus.Emit(engine.Event{Type: EventArrived, Payload: Arrived{
				AgentID: a.ID,
				X:       a.Pos.X,
				Y:       a.Pos.Y,
			}})
			continue
		}
		a.Pos = w.Clamp(state.Vec2{
			X: a.Pos.X + delta.X/dist*step,
			Y: a.Pos.Y + delta.Y/dist*step,
		})
		s.movers = append(s.movers, a)
	}

	switch {
	case len(s.movers) == 0:
	case s.grid.Dirty() || len(s.movers) > s.cfg.BulkThreshold:
		// A pending rebuild swallows the movers anyway.
		s.grid.MarkDirty()
	default:
		for _, a := range s.movers {
			s.grid.UpdatePosition(a.ID, a.Pos, spatial.CategoryAgent)
		}
	}
	return nil
}
