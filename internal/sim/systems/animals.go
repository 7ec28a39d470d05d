package systems

import (
	"math"

	"aldea.world/internal/sim/engine"
	"aldea.world/internal/sim/spatial"
	"aldea.world/internal/sim/state"
)

type AnimalsConfig struct {
	// FleeRadius is how close an agent may get before the animal bolts.
	FleeRadius float64
	// FleeSpeedMult boosts speed while fleeing.
	FleeSpeedMult float64
	// HeadingJitter bounds the per-tick random turn, in radians.
	HeadingJitter float64
}

func (c AnimalsConfig) withDefaults() AnimalsConfig {
	if c.FleeRadius <= 0 {
		c.FleeRadius = 60
	}
	if c.FleeSpeedMult <= 0 {
		c.FleeSpeedMult = 1.8
	}
	if c.HeadingJitter <= 0 {
		c.HeadingJitter = 0.6
	}
	return c
}

// Animals wander with jittered headings and flee from nearby agents. This
// is the first system each tick that queries the grid, so it pays the
// rebuild for whatever the movement pass dirtied.
type Animals struct {
	cfg  AnimalsConfig
	bus  *engine.Bus
	grid *spatial.Grid
	tick func() uint64
}

func NewAnimals(cfg AnimalsConfig, bus *engine.Bus, grid *spatial.Grid, tick func() uint64) *Animals {
	return &Animals{cfg: cfg.withDefaults(), bus: bus, grid: grid, tick: tick}
}

func (s *Animals) Name() string { return "animals" }

func (s *Animals) Update(w *state.World, dt float64) error {
	tick := s.tick() + 1
	animals := w.Animals.All()
	if len(animals) == 0 {
		return nil
	}
	s.grid.RebuildIfNeeded(w.Agents.All(), animals)

	for _, an := range animals {
		if an.Dead {
			continue
		}
		speed := an.Speed

		hits := s.grid.QueryRadius(an.Pos, s.cfg.FleeRadius, spatial.CategoryAgent)
		if len(hits) > 0 {
			nearest := hits[0]
			for _, h := range hits[1:] {
				if h.Distance < nearest.Distance {
					nearest = h
				}
			}
			if agent, ok := w.Agents.Get(nearest.ID); ok {
				an.Heading = math.Atan2(an.Pos.Y-agent.Pos.Y, an.Pos.X-agent.Pos.X)
			}
			speed *= s.cfg.FleeSpeedMult
			if !an.Fleeing {
				s.bus.Emit(engine.Event{Type: EventAnimalFled, Payload: AnimalFled{
					AnimalID:    an.ID,
					FromAgentID: nearest.ID,
				}})
			}
			an.Fleeing = true
		} else {
			an.Fleeing = false
			jitter := (hashNoise(w.Info.Seed, tick, an.ID, saltHeading) - 0.5) * 2 * s.cfg.HeadingJitter
			an.Heading += jitter
		}
		s.grid.Release(hits)

		next := state.Vec2{
			X: an.Pos.X + math.Cos(an.Heading)*speed*dt,
			Y: an.Pos.Y + math.Sin(an.Heading)*speed*dt,
		}
		clamped := w.Clamp(next)
		if clamped != next {
			// Bounce off the border instead of grinding along it.
			an.Heading += math.Pi
		}
		an.Pos = clamped
	}

	s.grid.MarkDirty()
	return nil
}
