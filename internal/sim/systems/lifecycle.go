package systems

import (
	"aldea.world/internal/sim/engine"
	"aldea.world/internal/sim/spatial"
	"aldea.world/internal/sim/state"
)

type LifecycleConfig struct {
	// MaxAge in sim seconds; zero disables death by old age.
	MaxAge float64
}

// Lifecycle ages agents and finishes deaths: the registry entry and grid
// entry disappear in the same tick the death event fires, so no later
// system or snapshot ever sees a corpse.
type Lifecycle struct {
	cfg  LifecycleConfig
	bus  *engine.Bus
	grid *spatial.Grid
}

func NewLifecycle(cfg LifecycleConfig, bus *engine.Bus, grid *spatial.Grid) *Lifecycle {
	return &Lifecycle{cfg: cfg, bus: bus, grid: grid}
}

func (s *Lifecycle) Name() string { return "lifecycle" }

func (s *Lifecycle) Update(w *state.World, dt float64) error {
	// All returns a detached slice, so unregistering while ranging is safe.
	for _, a := range w.Agents.All() {
		if a.Dead {
			continue
		}
		a.Age += dt

		cause := ""
		switch {
		case a.Health <= 0:
			cause = "health"
		case s.cfg.MaxAge > 0 && a.Age >= s.cfg.MaxAge:
			cause = "old_age"
		}
		if cause == "" {
			continue
		}

		a.Dead = true
		w.Agents.Unregister(a.ID)
		s.grid.Remove(a.ID)
		s.bus.Emit(engine.Event{Type: EventAgentDied, Payload: AgentDied{
			AgentID: a.ID,
			Cause:   cause,
		}})
	}
	return nil
}
