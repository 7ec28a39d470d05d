package engine

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"aldea.world/internal/sim/spatial"
	"aldea.world/internal/sim/state"
)

var errTest = errors.New("probe failure")

type probeSystem struct {
	name string
	fn   func(w *state.World, dt float64) error
}

func (p *probeSystem) Name() string { return p.name }

func (p *probeSystem) Update(w *state.World, dt float64) error { return p.fn(w, dt) }

type captureLog struct {
	entries []TickLogEntry
}

func (c *captureLog) LogTick(e TickLogEntry) { c.entries = append(c.entries, e) }

func testRunner(t *testing.T, cfg Config, systems ...System) *Runner {
	t.Helper()
	w := state.NewWorld(state.Info{ID: "w-test", Width: 1000, Height: 1000, Seed: 7})
	grid := spatial.NewGrid(w.Info.Width, w.Info.Height, spatial.DefaultCellSize)
	r := NewRunner(cfg, w, grid, NewBus(), nil)
	r.Register(systems...)
	return r
}

func TestClampTimeScale(t *testing.T) {
	cases := []struct {
		in, want float64
	}{
		{0.5, 0.5},
		{MinTimeScale, MinTimeScale},
		{MaxTimeScale, MaxTimeScale},
		{0.0001, MinTimeScale},
		{-3, MinTimeScale},
		{50, MaxTimeScale},
		{math.NaN(), 1},
		{math.Inf(1), 1},
	}
	for _, c := range cases {
		if got := ClampTimeScale(c.in); got != c.want {
			t.Fatalf("ClampTimeScale(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestRunner_CommandsApplyBeforeSystems(t *testing.T) {
	var seenDT float64
	probe := &probeSystem{name: "probe", fn: func(_ *state.World, dt float64) error {
		seenDT = dt
		return nil
	}}
	r := testRunner(t, Config{}, probe)

	if !r.EnqueueCommand(Command{Kind: CmdSetTimeScale, TimeScale: &TimeScaleCommand{Scale: 2}}) {
		t.Fatal("enqueue rejected")
	}
	if err := r.StepOnce(100 * time.Millisecond); err != nil {
		t.Fatal(err)
	}

	// The scale change lands before systems run, so this same tick already
	// sees doubled time.
	if math.Abs(seenDT-0.2) > 1e-12 {
		t.Fatalf("dt = %v, want 0.2", seenDT)
	}
	if snap := r.LatestSnapshot(); snap.TimeScale != 2 {
		t.Fatalf("snapshot scale = %v, want 2", snap.TimeScale)
	}
}

func TestRunner_StepAdvancesOneTickOneNotification(t *testing.T) {
	r := testRunner(t, Config{})

	var notified []uint64
	cancel := r.OnTick(func(s *Snapshot) { notified = append(notified, s.Tick) })
	defer cancel()

	for i := 1; i <= 3; i++ {
		if err := r.StepOnce(50 * time.Millisecond); err != nil {
			t.Fatal(err)
		}
		if r.Tick() != uint64(i) {
			t.Fatalf("tick = %d, want %d", r.Tick(), i)
		}
	}
	if len(notified) != 3 {
		t.Fatalf("notifications = %d, want 3", len(notified))
	}
	for i, tick := range notified {
		if tick != uint64(i+1) {
			t.Fatalf("notification %d carried tick %d", i, tick)
		}
	}
}

func TestRunner_TimeScaleIsClamped(t *testing.T) {
	r := testRunner(t, Config{})
	r.EnqueueCommand(Command{Kind: CmdSetTimeScale, TimeScale: &TimeScaleCommand{Scale: 99}})
	if err := r.StepOnce(50 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if snap := r.LatestSnapshot(); snap.TimeScale != MaxTimeScale {
		t.Fatalf("scale = %v, want clamp to %v", snap.TimeScale, MaxTimeScale)
	}

	r.EnqueueCommand(Command{Kind: CmdSetTimeScale, TimeScale: &TimeScaleCommand{Scale: 0.001}})
	if err := r.StepOnce(50 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if snap := r.LatestSnapshot(); snap.TimeScale != MinTimeScale {
		t.Fatalf("scale = %v, want clamp to %v", snap.TimeScale, MinTimeScale)
	}
}

func TestRunner_QueueOverflowRejects(t *testing.T) {
	r := testRunner(t, Config{MaxCommandQueue: 2})
	logCap := &captureLog{}
	r.SetTickLog(logCap)

	var rejections []Rejection
	cancel := r.OnCommandRejected(func(rej Rejection) { rejections = append(rejections, rej) })
	defer cancel()

	if !r.EnqueueCommand(Command{Kind: CmdPing, ID: "p1"}) {
		t.Fatal("first enqueue rejected")
	}
	if !r.EnqueueCommand(Command{Kind: CmdPing, ID: "p2"}) {
		t.Fatal("second enqueue rejected")
	}
	if r.EnqueueCommand(Command{Kind: CmdPing, ID: "p3"}) {
		t.Fatal("enqueue beyond capacity accepted")
	}

	if len(rejections) != 1 {
		t.Fatalf("rejections = %d, want 1", len(rejections))
	}
	if rejections[0].Reason != RejectReasonQueueFull || rejections[0].Command.ID != "p3" {
		t.Fatalf("unexpected rejection %+v", rejections[0])
	}

	// Draining frees capacity again.
	if err := r.StepOnce(50 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if !r.EnqueueCommand(Command{Kind: CmdPing, ID: "p4"}) {
		t.Fatal("enqueue after drain rejected")
	}

	m := r.Metrics()
	if m.CommandsRejected != 1 {
		t.Fatalf("metrics rejected = %d, want 1", m.CommandsRejected)
	}
	if logCap.entries[0].Rejected != 1 {
		t.Fatalf("tick log rejected = %d, want 1", logCap.entries[0].Rejected)
	}

	cancel()
	r.EnqueueCommand(Command{Kind: CmdPing, ID: "p5"})
	r.EnqueueCommand(Command{Kind: CmdPing, ID: "p6"}) // full again, but listener gone
	if len(rejections) != 1 {
		t.Fatalf("cancelled listener still notified: %d", len(rejections))
	}

	// The log carries per-tick deltas, not the running total.
	if err := r.StepOnce(50 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if logCap.entries[1].Rejected != 1 {
		t.Fatalf("second tick rejected = %d, want 1", logCap.entries[1].Rejected)
	}
}

func TestRunner_UnknownCommandKindIsIgnored(t *testing.T) {
	r := testRunner(t, Config{})
	logCap := &captureLog{}
	r.SetTickLog(logCap)

	r.EnqueueCommand(Command{Kind: "TELEPORT_EVERYONE"})
	r.EnqueueCommand(Command{Kind: CmdPing})
	if err := r.StepOnce(50 * time.Millisecond); err != nil {
		t.Fatalf("unknown kind killed the loop: %v", err)
	}

	if len(logCap.entries) != 1 {
		t.Fatalf("tick log entries = %d, want 1", len(logCap.entries))
	}
	entry := logCap.entries[0]
	if len(entry.Commands) != 1 || entry.Commands[0].Kind != CmdPing {
		t.Fatalf("recorded commands = %+v, want just the ping", entry.Commands)
	}
	if entry.Commands[0].Tick != 1 {
		t.Fatalf("recorded command tick = %d, want 1", entry.Commands[0].Tick)
	}
	if entry.Digest == "" {
		t.Fatal("tick log entry missing digest")
	}
}

func TestRunner_SystemErrorHaltsBeforeCommit(t *testing.T) {
	ranFirst := false
	first := &probeSystem{name: "first", fn: func(*state.World, float64) error {
		ranFirst = true
		return nil
	}}
	failing := &probeSystem{name: "boom", fn: func(*state.World, float64) error {
		return errTest
	}}
	ranAfter := false
	after := &probeSystem{name: "after", fn: func(*state.World, float64) error {
		ranAfter = true
		return nil
	}}
	r := testRunner(t, Config{}, first, failing, after)

	err := r.StepOnce(50 * time.Millisecond)
	if err == nil {
		t.Fatal("system error swallowed")
	}
	if !ranFirst {
		t.Fatal("earlier system skipped")
	}
	if ranAfter {
		t.Fatal("later system ran after failure")
	}
	if r.Tick() != 0 {
		t.Fatalf("tick advanced past failed step: %d", r.Tick())
	}
	if r.LatestSnapshot() != nil {
		t.Fatal("failed tick committed a snapshot")
	}
}

func TestRunner_SnapshotIsImmutable(t *testing.T) {
	r := testRunner(t, Config{})
	a := state.NewAgent("agent-1", "ada", state.Vec2{X: 5, Y: 5})
	r.World().Agents.Register(a.ID, a)

	if err := r.StepOnce(50 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	snap := r.LatestSnapshot()
	if len(snap.Agents) != 1 {
		t.Fatalf("snapshot agents = %d, want 1", len(snap.Agents))
	}

	a.Pos = state.Vec2{X: 900, Y: 900}
	a.Hunger = 1

	if got := snap.Agents[0].Pos; got.X != 5 || got.Y != 5 {
		t.Fatalf("snapshot position mutated: %+v", got)
	}
	if snap.Agents[0].Hunger != 100 {
		t.Fatalf("snapshot hunger mutated: %v", snap.Agents[0].Hunger)
	}
}

func TestRunner_SpawnAndKillCommands(t *testing.T) {
	r := testRunner(t, Config{})

	var spawned []Event
	r.Bus().On("agent.spawned", func(e Event) { spawned = append(spawned, e) })

	r.EnqueueCommand(Command{Kind: CmdSpawnAgent, SpawnAgent: &SpawnAgentCommand{
		AgentID: "agent-x", Name: "xeno", X: 2000, Y: -10,
	}})
	if err := r.StepOnce(50 * time.Millisecond); err != nil {
		t.Fatal(err)
	}

	a, ok := r.World().Agents.Get("agent-x")
	if !ok {
		t.Fatal("spawned agent not registered")
	}
	// Spawn position is clamped into the world rectangle.
	if a.Pos.X != 1000 || a.Pos.Y != 0 {
		t.Fatalf("spawn not clamped: %+v", a.Pos)
	}
	if len(spawned) != 1 {
		t.Fatalf("agent.spawned events = %d, want 1", len(spawned))
	}
	hits := r.Grid().QueryRadius(a.Pos, 1, spatial.CategoryAgent)
	if len(hits) != 1 || hits[0].ID != "agent-x" {
		t.Fatalf("spawned agent not indexed: %v", hits)
	}
	r.Grid().Release(hits)

	r.EnqueueCommand(Command{Kind: CmdKillAgent, KillAgent: &KillAgentCommand{AgentID: "agent-x"}})
	if err := r.StepOnce(50 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if a.Health != 0 {
		t.Fatalf("kill left health at %v", a.Health)
	}
}

func TestRunner_GatherIsRepublishedAsEvent(t *testing.T) {
	r := testRunner(t, Config{})

	var gathers []Event
	r.Bus().On("resource.gather", func(e Event) { gathers = append(gathers, e) })

	logCap := &captureLog{}
	r.SetTickLog(logCap)

	r.EnqueueCommand(Command{Kind: CmdGatherResource, Gather: &GatherCommand{AgentID: "agent-1", NodeID: "node-1"}})
	r.EnqueueCommand(Command{Kind: CmdGatherResource})
	if err := r.StepOnce(50 * time.Millisecond); err != nil {
		t.Fatal(err)
	}

	// The payload-less gather is malformed and dropped; the other one goes
	// out as an event.
	if len(gathers) != 1 {
		t.Fatalf("gather events = %d, want 1", len(gathers))
	}
	req, ok := gathers[0].Payload.(GatherCommand)
	if !ok {
		t.Fatalf("payload type %T", gathers[0].Payload)
	}
	if req.AgentID != "agent-1" || req.NodeID != "node-1" {
		t.Fatalf("payload = %+v", req)
	}
	// An omitted amount is stamped before the event goes out, so the tick
	// log carries the effective value.
	if req.Amount != DefaultGatherAmount {
		t.Fatalf("amount = %v, want %v", req.Amount, DefaultGatherAmount)
	}
	if gathers[0].Tick != 1 {
		t.Fatalf("event tick = %d, want 1", gathers[0].Tick)
	}

	cmds := logCap.entries[0].Commands
	if len(cmds) != 1 {
		t.Fatalf("recorded commands = %d, want 1", len(cmds))
	}
	if cmds[0].Gather.Amount != DefaultGatherAmount {
		t.Fatalf("recorded amount = %v, want %v", cmds[0].Gather.Amount, DefaultGatherAmount)
	}

	// Booking is the resource system's job; the bare runner leaves world
	// state untouched.
	if len(r.World().Reservations) != 0 {
		t.Fatalf("runner booked a reservation: %v", r.World().Reservations)
	}
}

func TestRunner_ResourceDeltaMergesPartialMap(t *testing.T) {
	r := testRunner(t, Config{})
	r.World().Materials["stone"] = 4

	r.EnqueueCommand(Command{Kind: CmdApplyResourceDelta, ResourceDelta: &ResourceDeltaCommand{
		Deltas: map[string]float64{"wood": 5, "stone": -10},
	}})
	if err := r.StepOnce(50 * time.Millisecond); err != nil {
		t.Fatal(err)
	}

	m := r.World().Materials
	if m["wood"] != 5 {
		t.Fatalf("wood = %v, want 5", m["wood"])
	}
	// Each material floors at zero independently.
	if m["stone"] != 0 {
		t.Fatalf("stone = %v, want 0", m["stone"])
	}

	// A delta without materials is malformed and not recorded.
	logCap := &captureLog{}
	r.SetTickLog(logCap)
	r.EnqueueCommand(Command{Kind: CmdApplyResourceDelta, ResourceDelta: &ResourceDeltaCommand{}})
	if err := r.StepOnce(50 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if len(logCap.entries[0].Commands) != 0 {
		t.Fatalf("empty delta recorded: %+v", logCap.entries[0].Commands)
	}
}

func TestRunner_MixedBatchAppliesInOneTick(t *testing.T) {
	var seenDT float64
	probe := &probeSystem{name: "probe", fn: func(_ *state.World, dt float64) error {
		seenDT = dt
		return nil
	}}
	r := testRunner(t, Config{}, probe)
	logCap := &captureLog{}
	r.SetTickLog(logCap)

	var pinged bool
	r.Bus().On("ping", func(Event) { pinged = true })

	r.EnqueueCommand(Command{Kind: CmdPing, ID: "c1"})
	r.EnqueueCommand(Command{Kind: CmdSetTimeScale, ID: "c2", TimeScale: &TimeScaleCommand{Scale: 2}})
	r.EnqueueCommand(Command{Kind: CmdApplyResourceDelta, ID: "c3", ResourceDelta: &ResourceDeltaCommand{
		Deltas: map[string]float64{"wood": 5},
	}})
	if err := r.StepOnce(100 * time.Millisecond); err != nil {
		t.Fatal(err)
	}

	if !pinged {
		t.Fatal("ping never surfaced")
	}
	if math.Abs(seenDT-0.2) > 1e-12 {
		t.Fatalf("dt = %v, want the scale applied this same tick", seenDT)
	}
	snap := r.LatestSnapshot()
	if snap.Tick != 1 || snap.TimeScale != 2 {
		t.Fatalf("snapshot tick=%d scale=%v, want 1 and 2", snap.Tick, snap.TimeScale)
	}
	if r.World().Materials["wood"] != 5 {
		t.Fatalf("wood = %v, want 5", r.World().Materials["wood"])
	}

	entry := logCap.entries[0]
	if len(entry.Commands) != 3 {
		t.Fatalf("recorded commands = %d, want 3", len(entry.Commands))
	}
	for i, id := range []string{"c1", "c2", "c3"} {
		if entry.Commands[i].ID != id {
			t.Fatalf("commands out of order: %+v", entry.Commands)
		}
	}
	// One ping plus one scale change.
	if entry.Events != 2 {
		t.Fatalf("events = %d, want 2", entry.Events)
	}
}

func TestRunner_DigestsAreDeterministic(t *testing.T) {
	run := func() []string {
		r := testRunner(t, Config{})
		state.Seed(r.World(), state.SeedConfig{Agents: 3, Animals: 2, Resources: 4})

		r.EnqueueCommand(Command{Kind: CmdSetTimeScale, ID: "c1", TimeScale: &TimeScaleCommand{Scale: 2}})
		r.EnqueueCommand(Command{Kind: CmdSpawnAgent, ID: "c2", SpawnAgent: &SpawnAgentCommand{AgentID: "agent-new", Name: "nova", X: 10, Y: 20}})

		var digests []string
		for i := 0; i < 5; i++ {
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
		if first[i] == "" {
			t.Fatalf("tick %d produced empty digest", i+1)
		}
		if first[i] != second[i] {
			t.Fatalf("digest diverged at tick %d: %s != %s", i+1, first[i], second[i])
		}
	}
}

func TestRunner_RestoreMatchesSnapshotDigest(t *testing.T) {
	r := testRunner(t, Config{})
	state.Seed(r.World(), state.SeedConfig{Agents: 2, Animals: 1, Resources: 2})
	r.EnqueueCommand(Command{Kind: CmdApplyResourceDelta, ResourceDelta: &ResourceDeltaCommand{Deltas: map[string]float64{"wood": 12}}})
	for i := 0; i < 3; i++ {
		if err := r.StepOnce(200 * time.Millisecond); err != nil {
			t.Fatal(err)
		}
	}
	snap := r.LatestSnapshot()

	restored := testRunner(t, Config{})
	restored.Restore(snap)
	if restored.Tick() != snap.Tick {
		t.Fatalf("restored tick = %d, want %d", restored.Tick(), snap.Tick)
	}

	again := restored.Snapshot()
	if again.Digest != snap.Digest {
		t.Fatalf("restored digest %s != source %s", again.Digest, snap.Digest)
	}
}

func TestRunner_StartStopIdempotent(t *testing.T) {
	r := testRunner(t, Config{TickInterval: 5 * time.Millisecond})

	// Commands queued before the loop starts are drained by the first tick.
	r.EnqueueCommand(Command{Kind: CmdPing})

	ticks := make(chan *Snapshot, 64)
	cancel := r.OnTick(func(s *Snapshot) {
		select {
		case ticks <- s:
		default:
		}
	})
	defer cancel()

	ctx := context.Background()
	r.Start(ctx)
	r.Start(ctx) // second start is a no-op

	waitTick := func() *Snapshot {
		t.Helper()
		select {
		case s := <-ticks:
			return s
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for a tick")
			return nil
		}
	}
	waitTick()
	waitTick()
	if !r.Running() {
		t.Fatal("runner not reported running")
	}

	r.Stop()
	r.Stop() // second stop is a no-op
	if r.Running() {
		t.Fatal("runner still running after stop")
	}
	if m := r.Metrics(); m.CommandsApplied == 0 {
		t.Fatal("pre-start command never applied")
	}

	// Restart resumes the same world from the same tick.
	tickAtStop := r.Tick()
	for len(ticks) > 0 {
		<-ticks
	}
	r.Start(ctx)
	s := waitTick()
	r.Stop()
	if s.Tick <= tickAtStop {
		t.Fatalf("restart did not advance: %d <= %d", s.Tick, tickAtStop)
	}
}
