package systems

import (
	"fmt"

	"aldea.world/internal/sim/accel"
	"aldea.world/internal/sim/engine"
	"aldea.world/internal/sim/state"
)

type SocialConfig struct {
	// EncounterRadius is the distance inside which two agents get to know
	// each other.
	EncounterRadius float64
	// FamiliarityRate is familiarity gained per sim second of proximity.
	FamiliarityRate float64
	FamiliarityCap  float64
}

func (c SocialConfig) withDefaults() SocialConfig {
	if c.EncounterRadius <= 0 {
		c.EncounterRadius = 25
	}
	if c.FamiliarityRate <= 0 {
		c.FamiliarityRate = 0.2
	}
	if c.FamiliarityCap <= 0 {
		c.FamiliarityCap = 100
	}
	return c
}

// Social grows pairwise familiarity between agents standing near each
// other. The pairwise scan goes through an accel backend so large
// populations can run it in parallel; first meetings are announced.
type Social struct {
	cfg     SocialConfig
	bus     *engine.Bus
	backend accel.Backend

	pts []accel.Point
	ids []string
}

func NewSocial(cfg SocialConfig, bus *engine.Bus, backend accel.Backend) *Social {
	if backend == nil {
		backend = accel.CPU{}
	}
	return &Social{cfg: cfg.withDefaults(), bus: bus, backend: backend}
}

func (s *Social) Name() string { return "social" }

func (s *Social) Update(w *state.World, dt float64) error {
	s.pts = s.pts[:0]
	s.ids = s.ids[:0]
	for _, a := range w.Agents.All() {
		if a.Dead {
			continue
		}
		s.pts = append(s.pts, accel.Point{X: a.Pos.X, Y: a.Pos.Y})
		s.ids = append(s.ids, a.ID)
	}
	if len(s.pts) < 2 {
		return nil
	}

	pairs, err := s.backend.Pairs(s.pts, s.cfg.EncounterRadius)
	if err != nil {
		return fmt.Errorf("%s backend: %w", s.backend.Name(), err)
	}

	gain := s.cfg.FamiliarityRate * dt
	for _, p := range pairs {
		a, okA := w.Agents.Get(s.ids[p.A])
		b, okB := w.Agents.Get(s.ids[p.B])
		if !okA || !okB {
			continue
		}
		first := a.Familiarity[b.ID] == 0
		s.raise(a, b.ID, gain)
		s.raise(b, a.ID, gain)
		if first {
			s.bus.Emit(engine.Event{Type: EventEncounter, Payload: Encounter{
				AgentA:      a.ID,
				AgentB:      b.ID,
				Familiarity: a.Familiarity[b.ID],
			}})
		}
	}
	return nil
}

func (s *Social) raise(a *state.Agent, otherID string, gain float64) {
	if a.Familiarity == nil {
		a.Familiarity = map[string]float64{}
	}
	a.Familiarity[otherID] = min(s.cfg.FamiliarityCap, a.Familiarity[otherID]+gain)
}
