package systems

import (
	"testing"
	"time"

	"aldea.world/internal/sim/accel"
	"aldea.world/internal/sim/engine"
	"aldea.world/internal/sim/spatial"
	"aldea.world/internal/sim/state"
)

func newTestWorld() *state.World {
	return state.NewWorld(state.Info{ID: "w-sys", Width: 1000, Height: 1000, Seed: 11})
}

func newTestGrid(w *state.World) *spatial.Grid {
	return spatial.NewGrid(w.Info.Width, w.Info.Height, spatial.DefaultCellSize)
}

func eventsOfType(batch []engine.Event, typ string) []engine.Event {
	var out []engine.Event
	for _, e := range batch {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func tickAt(n uint64) func() uint64 {
	return func() uint64 { return n }
}

func TestStack_Order(t *testing.T) {
	w := newTestWorld()
	grid := newTestGrid(w)
	bus := engine.NewBus()
	stack := Stack(StackConfig{}, w, bus, grid, accel.CPU{}, tickAt(0))

	want := []string{"clock", "needs", "movement", "animals", "reservations", "resources", "social", "lifecycle"}
	if len(stack) != len(want) {
		t.Fatalf("stack size = %d, want %d", len(stack), len(want))
	}
	for i, name := range want {
		if stack[i].Name() != name {
			t.Fatalf("stack[%d] = %s, want %s", i, stack[i].Name(), name)
		}
	}
}

func TestStack_GatherCommandEndToEnd(t *testing.T) {
	w := newTestWorld()
	grid := newTestGrid(w)
	bus := engine.NewBus()
	r := engine.NewRunner(engine.Config{}, w, grid, bus, nil)
	r.Register(Stack(StackConfig{}, w, bus, grid, accel.CPU{}, r.Tick)...)

	a := state.NewAgent("agent-1", "ada", state.Vec2{X: 100, Y: 100})
	w.Agents.Register(a.ID, a)
	w.Resources.Register("node-1", &state.ResourceNode{ID: "node-1", Kind: "stone", Pos: state.Vec2{X: 105, Y: 100}, Amount: 40, Capacity: 40})

	r.EnqueueCommand(engine.Command{Kind: engine.CmdGatherResource, Gather: &engine.GatherCommand{
		AgentID: "agent-1", NodeID: "node-1", Amount: 6,
	}})

	// The first tick re-publishes the command and books the reservation at
	// flush; the second settles it because the agent already stands in range.
	if err := r.StepOnce(50 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if _, ok := w.Reservations["node-1"]; !ok {
		t.Fatal("reservation not booked")
	}
	if err := r.StepOnce(50 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if w.Materials["stone"] != 6 {
		t.Fatalf("stockpile stone = %v, want 6", w.Materials["stone"])
	}
	if _, ok := w.Reservations["node-1"]; ok {
		t.Fatal("settled reservation still held")
	}
}

func TestStack_DeterministicRun(t *testing.T) {
	run := func() []string {
		w := state.NewWorld(state.Info{ID: "w-int", Width: 800, Height: 600, Seed: 99})
		state.Seed(w, state.SeedConfig{Agents: 6, Animals: 4, Resources: 8})
		grid := spatial.NewGrid(w.Info.Width, w.Info.Height, spatial.DefaultCellSize)
		bus := engine.NewBus()
		r := engine.NewRunner(engine.Config{}, w, grid, bus, nil)
		r.Register(Stack(StackConfig{}, w, bus, grid, accel.NewPool(4, 8), r.Tick)...)

		r.EnqueueCommand(engine.Command{Kind: engine.CmdGatherResource, ID: "g1", Gather: &engine.GatherCommand{
			AgentID: "agent-1", NodeID: "node-1", Amount: 3,
		}})

		var digests []string
		for i := 0; i < 20; i++ {
			if err := r.StepOnce(200 * time.Millisecond); err != nil {
				t.Fatal(err)
			}
			digests = append(digests, r.LatestSnapshot().Digest)
		}
		return digests
	}

	first := run()
	second := run()
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("digest diverged at tick %d", i+1)
		}
	}
}
