package systems

import (
	"math"
	"testing"

	"aldea.world/internal/sim/engine"
	"aldea.world/internal/sim/state"
)

func TestAnimals_FleeFromNearbyAgent(t *testing.T) {
	w := newTestWorld()
	grid := newTestGrid(w)
	bus := engine.NewBus()
	sys := NewAnimals(AnimalsConfig{FleeRadius: 50, FleeSpeedMult: 2}, bus, grid, tickAt(0))

	w.Agents.Register("agent-1", state.NewAgent("agent-1", "ada", state.Vec2{X: 110, Y: 100}))
	an := &state.Animal{ID: "animal-1", Species: "deer", Pos: state.Vec2{X: 100, Y: 100}, Speed: 10}
	w.Animals.Register(an.ID, an)

	if err := sys.Update(w, 1); err != nil {
		t.Fatal(err)
	}
	if !an.Fleeing {
		t.Fatal("animal not fleeing")
	}
	// The agent sits to the east, so flight points west.
	if an.Pos.X >= 100 {
		t.Fatalf("animal did not run away: %+v", an.Pos)
	}
	got := eventsOfType(bus.Flush(), EventAnimalFled)
	if len(got) != 1 {
		t.Fatalf("fled events = %d, want 1", len(got))
	}
	if p := got[0].Payload.(AnimalFled); p.AnimalID != "animal-1" || p.FromAgentID != "agent-1" {
		t.Fatalf("payload = %+v", p)
	}

	// Still afraid next tick, but announced only once.
	grid.MarkDirty()
	if err := sys.Update(w, 1); err != nil {
		t.Fatal(err)
	}
	if got := eventsOfType(bus.Flush(), EventAnimalFled); len(got) != 0 {
		t.Fatalf("fled repeated: %v", got)
	}
}

func TestAnimals_CalmWanderStaysInBounds(t *testing.T) {
	w := newTestWorld()
	grid := newTestGrid(w)
	bus := engine.NewBus()
	sys := NewAnimals(AnimalsConfig{}, bus, grid, tickAt(0))

	an := &state.Animal{ID: "animal-1", Species: "fox", Pos: state.Vec2{X: 2, Y: 2}, Heading: math.Pi, Speed: 30}
	w.Animals.Register(an.ID, an)

	for i := uint64(0); i < 50; i++ {
		sys.tick = tickAt(i)
		if err := sys.Update(w, 0.5); err != nil {
			t.Fatal(err)
		}
		if an.Pos.X < 0 || an.Pos.X > w.Info.Width || an.Pos.Y < 0 || an.Pos.Y > w.Info.Height {
			t.Fatalf("animal escaped the world at tick %d: %+v", i, an.Pos)
		}
	}
	if an.Fleeing {
		t.Fatal("animal fleeing with no agents around")
	}
}
