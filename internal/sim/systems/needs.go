package systems

import (
	"aldea.world/internal/sim/engine"
	"aldea.world/internal/sim/state"
)

type NeedsConfig struct {
	HungerDecay float64 // points per sim second
	EnergyDecay float64
	NightRegen  float64 // energy recovered per sim second while resting at night

	// Critical fires when a need drops to or below this level; Recover is
	// the hysteresis bound that re-arms the notification.
	Critical float64
	Recover  float64

	// StarvationDecay drains health once hunger hits zero.
	StarvationDecay float64
}

func (c NeedsConfig) withDefaults() NeedsConfig {
	if c.HungerDecay <= 0 {
		c.HungerDecay = 0.5
	}
	if c.EnergyDecay <= 0 {
		c.EnergyDecay = 0.35
	}
	if c.NightRegen <= 0 {
		c.NightRegen = 0.8
	}
	if c.Critical <= 0 {
		c.Critical = 20
	}
	if c.Recover <= c.Critical {
		c.Recover = c.Critical + 15
	}
	if c.StarvationDecay <= 0 {
		c.StarvationDecay = 2
	}
	return c
}

// Needs decays hunger and energy, regenerates energy overnight and drains
// health once an agent is starving. Critical crossings are announced once
// per episode via the per-agent CriticalNeeds bookkeeping.
type Needs struct {
	cfg NeedsConfig
	bus *engine.Bus
}

func NewNeeds(cfg NeedsConfig, bus *engine.Bus) *Needs {
	return &Needs{cfg: cfg.withDefaults(), bus: bus}
}

func (s *Needs) Name() string { return "needs" }

func (s *Needs) Update(w *state.World, dt float64) error {
	for _, a := range w.Agents.All() {
		if a.Dead {
			continue
		}
		a.Hunger = max(0, a.Hunger-s.cfg.HungerDecay*dt)
		if w.Clock.Daytime() {
			a.Energy = max(0, a.Energy-s.cfg.EnergyDecay*dt)
		} else {
			a.Energy = min(100, a.Energy+s.cfg.NightRegen*dt)
		}
		if a.Hunger <= 0 {
			a.Health = max(0, a.Health-s.cfg.StarvationDecay*dt)
		}
		s.watch(a, "hunger", a.Hunger)
		s.watch(a, "energy", a.Energy)
	}
	return nil
}

func (s *Needs) watch(a *state.Agent, need string, level float64) {
	switch {
	case level <= s.cfg.Critical:
		if a.CriticalNeeds[need] {
			return
		}
		if a.CriticalNeeds == nil {
			a.CriticalNeeds = map[string]bool{}
		}
		a.CriticalNeeds[need] = true
		s.bus.Emit(engine.Event{Type: EventNeedsCritical, Payload: NeedCritical{
			AgentID: a.ID,
			Need:    need,
			Level:   level,
		}})
	case level >= s.cfg.Recover:
		delete(a.CriticalNeeds, need)
	}
}
