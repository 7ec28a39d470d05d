package systems

import (
	"aldea.world/internal/sim/engine"
	"aldea.world/internal/sim/state"
)

type ClockConfig struct {
	// DayLength is the sim-second length of one in-world day.
	DayLength float64
}

func (c ClockConfig) withDefaults() ClockConfig {
	if c.DayLength <= 0 {
		c.DayLength = 240
	}
	return c
}

// Clock advances the in-world calendar and announces each new day plus the
// daylight-to-night transition within a day.
type Clock struct {
	cfg ClockConfig
	bus *engine.Bus
}

func NewClock(cfg ClockConfig, bus *engine.Bus) *Clock {
	return &Clock{cfg: cfg.withDefaults(), bus: bus}
}

func (s *Clock) Name() string { return "clock" }

func (s *Clock) Update(w *state.World, dt float64) error {
	wasDay := w.Clock.Daytime()
	w.Clock.TimeOfDay += dt / s.cfg.DayLength
	for w.Clock.TimeOfDay >= 1 {
		w.Clock.TimeOfDay--
		w.Clock.Day++
		s.bus.Emit(engine.Event{Type: EventDayStarted, Payload: DayStarted{Day: w.Clock.Day}})
	}
	// Transitions are judged on where the step lands. A step that crosses a
	// whole night and ends in daylight announces only the new day.
	if wasDay && !w.Clock.Daytime() {
		s.bus.Emit(engine.Event{Type: EventNightStarted, Payload: NightStarted{Day: w.Clock.Day}})
	}
	return nil
}
