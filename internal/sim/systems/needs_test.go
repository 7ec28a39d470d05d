package systems

import (
	"testing"

	"aldea.world/internal/sim/engine"
	"aldea.world/internal/sim/state"
)

func TestNeeds_CriticalFiresOncePerEpisode(t *testing.T) {
	w := newTestWorld()
	bus := engine.NewBus()
	needs := NewNeeds(NeedsConfig{HungerDecay: 1, Critical: 20, Recover: 40}, bus)

	a := state.NewAgent("agent-1", "ada", state.Vec2{X: 1, Y: 1})
	a.Hunger = 21
	a.Energy = 90
	w.Agents.Register(a.ID, a)

	if err := needs.Update(w, 2); err != nil { // hunger 21 -> 19
		t.Fatal(err)
	}
	got := eventsOfType(bus.Flush(), EventNeedsCritical)
	if len(got) != 1 {
		t.Fatalf("critical events = %d, want 1", len(got))
	}
	if p := got[0].Payload.(NeedCritical); p.Need != "hunger" || p.AgentID != "agent-1" {
		t.Fatalf("payload = %+v", p)
	}

	// Still below threshold: no repeat.
	if err := needs.Update(w, 2); err != nil {
		t.Fatal(err)
	}
	if got := eventsOfType(bus.Flush(), EventNeedsCritical); len(got) != 0 {
		t.Fatalf("critical repeated: %v", got)
	}

	// Recover past the hysteresis bound, drop again: fires again.
	a.Hunger = 60
	if err := needs.Update(w, 1); err != nil {
		t.Fatal(err)
	}
	bus.Flush()
	a.Hunger = 20
	if err := needs.Update(w, 1); err != nil {
		t.Fatal(err)
	}
	if got := eventsOfType(bus.Flush(), EventNeedsCritical); len(got) != 1 {
		t.Fatalf("re-armed critical events = %d, want 1", len(got))
	}
}

func TestNeeds_StarvationDrainsHealth(t *testing.T) {
	w := newTestWorld()
	bus := engine.NewBus()
	needs := NewNeeds(NeedsConfig{StarvationDecay: 5}, bus)

	a := state.NewAgent("agent-1", "ada", state.Vec2{})
	a.Hunger = 0
	w.Agents.Register(a.ID, a)

	if err := needs.Update(w, 2); err != nil {
		t.Fatal(err)
	}
	if a.Health != 90 {
		t.Fatalf("health = %v, want 90", a.Health)
	}
}

func TestNeeds_EnergyRecoversAtNight(t *testing.T) {
	w := newTestWorld()
	w.Clock.TimeOfDay = 0.75 // night
	bus := engine.NewBus()
	needs := NewNeeds(NeedsConfig{NightRegen: 2}, bus)

	a := state.NewAgent("agent-1", "ada", state.Vec2{})
	a.Energy = 50
	w.Agents.Register(a.ID, a)

	if err := needs.Update(w, 3); err != nil {
		t.Fatal(err)
	}
	if a.Energy != 56 {
		t.Fatalf("energy = %v, want 56", a.Energy)
	}
}
