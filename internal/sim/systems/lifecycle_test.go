package systems

import (
	"testing"

	"aldea.world/internal/sim/engine"
	"aldea.world/internal/sim/spatial"
	"aldea.world/internal/sim/state"
)

func TestLifecycle_DeathRemovesAgentEverywhere(t *testing.T) {
	w := newTestWorld()
	grid := newTestGrid(w)
	bus := engine.NewBus()
	sys := NewLifecycle(LifecycleConfig{}, bus, grid)

	a := state.NewAgent("agent-1", "ada", state.Vec2{X: 50, Y: 50})
	a.Health = 0
	w.Agents.Register(a.ID, a)
	grid.RebuildIfNeeded(w.Agents.All(), nil)

	if err := sys.Update(w, 0.2); err != nil {
		t.Fatal(err)
	}
	if w.Agents.Has("agent-1") {
		t.Fatal("dead agent still registered")
	}
	hits := grid.QueryRadius(state.Vec2{X: 50, Y: 50}, 10, spatial.CategoryAgent)
	if len(hits) != 0 {
		t.Fatalf("dead agent still indexed: %v", hits)
	}
	grid.Release(hits)

	got := eventsOfType(bus.Flush(), EventAgentDied)
	if len(got) != 1 {
		t.Fatalf("died events = %d, want 1", len(got))
	}
	if p := got[0].Payload.(AgentDied); p.Cause != "health" {
		t.Fatalf("cause = %s, want health", p.Cause)
	}
}

func TestLifecycle_OldAge(t *testing.T) {
	w := newTestWorld()
	grid := newTestGrid(w)
	bus := engine.NewBus()
	sys := NewLifecycle(LifecycleConfig{MaxAge: 10}, bus, grid)

	a := state.NewAgent("agent-1", "ada", state.Vec2{})
	a.Age = 9.5
	w.Agents.Register(a.ID, a)

	if err := sys.Update(w, 1); err != nil {
		t.Fatal(err)
	}
	got := eventsOfType(bus.Flush(), EventAgentDied)
	if len(got) != 1 {
		t.Fatalf("died events = %d, want 1", len(got))
	}
	if p := got[0].Payload.(AgentDied); p.Cause != "old_age" {
		t.Fatalf("cause = %s, want old_age", p.Cause)
	}
}

func TestLifecycle_ZeroMaxAgeDisablesOldAge(t *testing.T) {
	w := newTestWorld()
	grid := newTestGrid(w)
	bus := engine.NewBus()
	sys := NewLifecycle(LifecycleConfig{}, bus, grid)

	a := state.NewAgent("agent-1", "ada", state.Vec2{})
	a.Age = 1e9
	w.Agents.Register(a.ID, a)

	if err := sys.Update(w, 1); err != nil {
		t.Fatal(err)
	}
	if !w.Agents.Has("agent-1") {
		t.Fatal("agent died of old age with aging disabled")
	}
}
