package systems

import (
	"aldea.world/internal/sim/accel"
	"aldea.world/internal/sim/engine"
	"aldea.world/internal/sim/spatial"
	"aldea.world/internal/sim/state"
)

// StackConfig aggregates the per-system knobs, usually filled from the
// tuning file.
type StackConfig struct {
	Clock     ClockConfig
	Needs     NeedsConfig
	Movement  MovementConfig
	Animals   AnimalsConfig
	Resources ResourcesConfig
	Social    SocialConfig
	Lifecycle LifecycleConfig
}

// Stack builds the full gameplay stack in its canonical order: clock,
// needs, movement, animals, reservations, resources, social, lifecycle.
// Update order is observable behavior; the server and the replay tool must
// register the same sequence or digests stop matching. The world handle is
// needed at construction because the resource system reacts to bus events
// outside its Update pass.
func Stack(cfg StackConfig, w *state.World, bus *engine.Bus, grid *spatial.Grid, backend accel.Backend, tick func() uint64) []engine.System {
	return []engine.System{
		NewClock(cfg.Clock, bus),
		NewNeeds(cfg.Needs, bus),
		NewMovement(cfg.Movement, bus, grid, tick),
		NewAnimals(cfg.Animals, bus, grid, tick),
		NewReservations(bus, tick),
		NewResources(cfg.Resources, bus, w),
		NewSocial(cfg.Social, bus, backend),
		NewLifecycle(cfg.Lifecycle, bus, grid),
	}
}
