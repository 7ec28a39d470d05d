// Package engine owns the tick loop: a bounded command queue drained in
// FIFO order, systems updated in registration order, a batched event bus
// flushed once per tick, and an immutable snapshot committed at the end.
// World state is only ever mutated on the loop goroutine.
package engine

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"aldea.world/internal/sim/spatial"
	"aldea.world/internal/sim/state"
)

const (
	DefaultTickInterval    = 200 * time.Millisecond
	DefaultMaxCommandQueue = 200

	MinTimeScale = 0.1
	MaxTimeScale = 10.0

	// DefaultGatherAmount is used when a gather command omits the amount.
	DefaultGatherAmount = 10.0
)

// RejectReasonQueueFull is attached to rejections when the command ring is
// at capacity.
const RejectReasonQueueFull = "queue_full"

// ClampTimeScale forces v into [MinTimeScale, MaxTimeScale]. Non-finite
// values reset to real time.
func ClampTimeScale(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 1
	}
	if v < MinTimeScale {
		return MinTimeScale
	}
	if v > MaxTimeScale {
		return MaxTimeScale
	}
	return v
}

// System is one unit of simulation behavior. Update runs once per tick on
// the loop goroutine, in registration order, with dt already scaled to
// simulation seconds. A returned error halts the loop before the tick
// commits.
type System interface {
	Name() string
	Update(w *state.World, dt float64) error
}

// TickLog receives one record per committed tick. The loop blocks on this
// call, so implementations buffer internally.
type TickLog interface {
	LogTick(entry TickLogEntry)
}

// EventSink receives each tick's delivered event batch. Same contract as
// TickLog: return fast, buffer internally.
type EventSink interface {
	LogEvents(worldID string, tick uint64, events []Event)
}

// TickLogEntry is the durable per-tick record. Commands carry the ids and
// values the runner actually used, so feeding recorded entries through a
// fresh runner reproduces the same digest sequence. Rejected counts enqueue
// refusals observed since the previous record.
type TickLogEntry struct {
	WorldID    string    `json:"world_id"`
	Tick       uint64    `json:"tick"`
	Wall       time.Time `json:"wall"`
	Elapsed    float64   `json:"elapsed"`
	Scale      float64   `json:"scale"`
	Commands   []Command `json:"commands,omitempty"`
	Events     int       `json:"events"`
	Rejected   uint64    `json:"rejected,omitempty"`
	Digest     string    `json:"digest,omitempty"`
	StepMicros int64     `json:"step_micros"`
}

// Rejection describes a command the queue refused.
type Rejection struct {
	Command Command `json:"command"`
	Reason  string  `json:"reason"`
}

type Config struct {
	WorldID         string
	TickInterval    time.Duration
	MaxCommandQueue int
	TimeScale       float64
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.MaxCommandQueue <= 0 {
		c.MaxCommandQueue = DefaultMaxCommandQueue
	}
	if c.TimeScale == 0 {
		c.TimeScale = 1
	}
	c.TimeScale = ClampTimeScale(c.TimeScale)
	return c
}

type tickSub struct {
	id uint64
	fn func(*Snapshot)
}

type rejectSub struct {
	id uint64
	fn func(Rejection)
}

// Runner drives one world. Everything behind it (world, grid, bus, systems)
// is loop-goroutine property; the crossings are EnqueueCommand, the atomics
// (Tick, LatestSnapshot, Metrics, Err) and the subscription registry.
type Runner struct {
	cfg Config
	log *log.Logger

	world   *state.World
	grid    *spatial.Grid
	bus     *Bus
	systems []System

	queue   *commandQueue
	scratch []Command

	// timeScale is loop-owned; observers read it via Metrics or snapshots.
	timeScale float64
	// lastRejected is the rejected counter as of the previous log entry.
	lastRejected uint64

	tick    atomic.Uint64
	latest  atomic.Value // *Snapshot
	stats   atomic.Value // Metrics
	lastErr atomic.Value // error

	applied   atomic.Uint64
	rejected  atomic.Uint64
	delivered atomic.Uint64
	running   atomic.Bool

	tickLog   TickLog
	eventSink EventSink

	subMu      sync.Mutex
	nextSubID  uint64
	tickSubs   []tickSub
	rejectSubs []rejectSub

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRunner wires a runner around an already seeded world. logger may be
// nil.
func NewRunner(cfg Config, w *state.World, grid *spatial.Grid, bus *Bus, logger *log.Logger) *Runner {
	cfg = cfg.withDefaults()
	if cfg.WorldID == "" {
		cfg.WorldID = w.Info.ID
	}
	return &Runner{
		cfg:       cfg,
		log:       logger,
		world:     w,
		grid:      grid,
		bus:       bus,
		queue:     newCommandQueue(cfg.MaxCommandQueue),
		timeScale: cfg.TimeScale,
	}
}

// Register appends systems to the fixed update order. Call before Start;
// the order given here is the order every tick runs them in.
func (r *Runner) Register(systems ...System) {
	r.systems = append(r.systems, systems...)
}

// SetTickLog wires the durable tick log (may be nil).
func (r *Runner) SetTickLog(l TickLog) { r.tickLog = l }

// SetEventSink wires the event log (may be nil).
func (r *Runner) SetEventSink(s EventSink) { r.eventSink = s }

func (r *Runner) World() *state.World { return r.world }

func (r *Runner) Grid() *spatial.Grid { return r.grid }

func (r *Runner) Bus() *Bus { return r.bus }

// Tick returns the last committed tick number. Safe from any goroutine.
func (r *Runner) Tick() uint64 { return r.tick.Load() }

// Running reports whether the loop goroutine is active.
func (r *Runner) Running() bool { return r.running.Load() }

// Err returns the error that halted the most recent run, if any.
func (r *Runner) Err() error {
	err, _ := r.lastErr.Load().(error)
	return err
}

// LatestSnapshot returns the snapshot committed by the most recent tick, or
// nil before the first. Safe from any goroutine.
func (r *Runner) LatestSnapshot() *Snapshot {
	snap, _ := r.latest.Load().(*Snapshot)
	return snap
}

// Snapshot deep-copies the current world on demand. Loop goroutine only
// (or a stopped runner); concurrent readers use LatestSnapshot.
func (r *Runner) Snapshot() *Snapshot {
	snap, err := snapshotOf(r.world.Clone(), r.cfg.WorldID, r.tick.Load(), r.timeScale, 0)
	if err != nil && r.log != nil {
		r.log.Printf("snapshot digest: %v", err)
	}
	return snap
}

// OnTick registers fn for every committed snapshot. fn runs on the loop
// goroutine and must not block. The returned function cancels the
// subscription and is safe to call more than once.
func (r *Runner) OnTick(fn func(*Snapshot)) func() {
	r.subMu.Lock()
	r.nextSubID++
	id := r.nextSubID
	r.tickSubs = append(r.tickSubs, tickSub{id: id, fn: fn})
	r.subMu.Unlock()
	return func() {
		r.subMu.Lock()
		defer r.subMu.Unlock()
		next := make([]tickSub, 0, len(r.tickSubs))
		for _, s := range r.tickSubs {
			if s.id != id {
				next = append(next, s)
			}
		}
		r.tickSubs = next
	}
}

// OnCommandRejected registers fn for queue rejections. fn runs on the
// goroutine that attempted the enqueue.
func (r *Runner) OnCommandRejected(fn func(Rejection)) func() {
	r.subMu.Lock()
	r.nextSubID++
	id := r.nextSubID
	r.rejectSubs = append(r.rejectSubs, rejectSub{id: id, fn: fn})
	r.subMu.Unlock()
	return func() {
		r.subMu.Lock()
		defer r.subMu.Unlock()
		next := make([]rejectSub, 0, len(r.rejectSubs))
		for _, s := range r.rejectSubs {
			if s.id != id {
				next = append(next, s)
			}
		}
		r.rejectSubs = next
	}
}

// EnqueueCommand queues cmd for the next tick, minting an id when the
// sender left it empty. It reports false and notifies rejection listeners
// when the ring is full. Safe from any goroutine; commands queued while the
// runner is stopped are drained by the first tick after Start.
func (r *Runner) EnqueueCommand(cmd Command) bool {
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	if r.queue.Push(cmd) {
		return true
	}
	r.rejected.Add(1)
	r.notifyRejected(Rejection{Command: cmd, Reason: RejectReasonQueueFull})
	return false
}

// Start launches the loop goroutine. Starting a running runner is a no-op.
func (r *Runner) Start(ctx context.Context) {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if r.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	done := make(chan struct{})
	r.done = done
	go func() {
		err := r.Run(ctx)
		if err != nil {
			r.lastErr.Store(err)
			if r.log != nil {
				r.log.Printf("world %s halted: %v", r.cfg.WorldID, err)
			}
		}
		r.runMu.Lock()
		if r.done == done {
			r.cancel = nil
		}
		r.runMu.Unlock()
		close(done)
	}()
}

// Stop halts the loop and waits for any in-flight tick to finish. Stopping
// a stopped runner is a no-op. World, queue and subscriptions survive, so a
// later Start resumes from the same tick.
func (r *Runner) Stop() {
	r.runMu.Lock()
	cancel := r.cancel
	done := r.done
	r.cancel = nil
	r.runMu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Run drives the loop until ctx ends or a system fails, whichever first.
// Most callers go through Start/Stop; Run is the core used by tests and the
// replay tool.
func (r *Runner) Run(ctx context.Context) error {
	r.running.Store(true)
	defer r.running.Store(false)
	r.publishMetrics(0)

	ticker := time.NewTicker(r.cfg.TickInterval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			elapsed := now.Sub(last)
			last = now
			if err := r.StepOnce(elapsed); err != nil {
				return err
			}
		}
	}
}

// StepOnce advances the world by a single tick given the raw elapsed wall
// time. Phases, in order: drain and apply queued commands, run systems with
// scaled dt, flush the bus, advance the tick counter, commit the snapshot.
// A system error aborts before the counter moves, so the failed tick never
// happened as far as observers can tell.
//
// Loop goroutine only.
func (r *Runner) StepOnce(elapsed time.Duration) error {
	start := time.Now()
	next := r.tick.Load() + 1
	r.bus.SetTick(next)

	r.scratch = r.queue.DrainInto(r.scratch[:0])
	var executed []Command
	if len(r.scratch) > 0 {
		executed = make([]Command, 0, len(r.scratch))
	}
	for i := range r.scratch {
		cmd := &r.scratch[i]
		if !r.applyCommand(cmd) {
			continue
		}
		cmd.Tick = next
		executed = append(executed, *cmd)
	}
	r.applied.Add(uint64(len(executed)))

	dt := elapsed.Seconds() * r.timeScale
	for _, sys := range r.systems {
		if err := sys.Update(r.world, dt); err != nil {
			return fmt.Errorf("tick %d: system %s: %w", next, sys.Name(), err)
		}
	}

	events := r.bus.Flush()
	r.delivered.Add(uint64(len(events)))

	r.tick.Store(next)

	snap, err := snapshotOf(r.world.Clone(), r.cfg.WorldID, next, r.timeScale, len(events))
	if err != nil && r.log != nil {
		r.log.Printf("tick %d: digest: %v", next, err)
	}
	r.latest.Store(snap)

	if r.tickLog != nil {
		rejected := r.rejected.Load()
		r.tickLog.LogTick(TickLogEntry{
			WorldID:    r.cfg.WorldID,
			Tick:       next,
			Wall:       start.UTC(),
			Elapsed:    elapsed.Seconds(),
			Scale:      r.timeScale,
			Commands:   executed,
			Events:     len(events),
			Rejected:   rejected - r.lastRejected,
			Digest:     snap.Digest,
			StepMicros: time.Since(start).Microseconds(),
		})
		r.lastRejected = rejected
	}
	if r.eventSink != nil && len(events) > 0 {
		r.eventSink.LogEvents(r.cfg.WorldID, next, events)
	}

	r.notifyTick(snap)
	r.publishMetrics(time.Since(start))
	return nil
}

// Restore replaces world state with the snapshot contents and fast-forwards
// the tick counter. Call before Start; typically fed from a snapshot file
// on server boot.
func (r *Runner) Restore(snap *Snapshot) {
	r.world.Clock = snap.Clock

	clear(r.world.Materials)
	for k, v := range snap.Materials {
		r.world.Materials[k] = v
	}

	r.world.Agents.Clear()
	for _, a := range snap.Agents {
		r.world.Agents.Register(a.ID, a.Clone())
	}
	r.world.Animals.Clear()
	for _, an := range snap.Animals {
		cp := *an
		r.world.Animals.Register(an.ID, &cp)
	}
	r.world.Resources.Clear()
	for _, n := range snap.Resources {
		cp := *n
		r.world.Resources.Register(n.ID, &cp)
	}

	clear(r.world.Reservations)
	for id, rv := range snap.Reservations {
		cp := *rv
		r.world.Reservations[id] = &cp
	}

	r.timeScale = ClampTimeScale(snap.TimeScale)
	r.tick.Store(snap.Tick)
	r.grid.MarkDirty()
	r.latest.Store(snap)
}

func (r *Runner) applyCommand(cmd *Command) bool {
	switch cmd.Kind {
	case CmdSetTimeScale:
		if cmd.TimeScale == nil {
			return false
		}
		old := r.timeScale
		r.timeScale = ClampTimeScale(cmd.TimeScale.Scale)
		cmd.TimeScale.Scale = r.timeScale
		if r.timeScale != old {
			r.bus.Emit(Event{Type: "time.scale_changed", Payload: map[string]float64{
				"from": old,
				"to":   r.timeScale,
			}})
		}

	case CmdApplyResourceDelta:
		p := cmd.ResourceDelta
		if p == nil {
			return false
		}
		delete(p.Deltas, "")
		if len(p.Deltas) == 0 {
			return false
		}
		// Each material floors at zero on its own, so map iteration order
		// cannot change the outcome.
		for material, delta := range p.Deltas {
			next := r.world.Materials[material] + delta
			if next < 0 {
				next = 0
			}
			r.world.Materials[material] = next
		}

	case CmdGatherResource:
		p := cmd.Gather
		if p == nil {
			return false
		}
		if p.Amount <= 0 {
			p.Amount = DefaultGatherAmount
		}
		// The runner only relays gathers. The resource system validates the
		// request and books the reservation when this tick's events flush.
		r.bus.Emit(Event{Type: "resource.gather", Payload: *p})

	case CmdSpawnAgent:
		p := cmd.SpawnAgent
		if p == nil {
			return false
		}
		if p.AgentID == "" {
			p.AgentID = uuid.NewString()
		}
		if r.world.Agents.Has(p.AgentID) {
			return false
		}
		name := p.Name
		if name == "" {
			name = p.AgentID
		}
		a := state.NewAgent(p.AgentID, name, r.world.Clamp(state.Vec2{X: p.X, Y: p.Y}))
		r.world.Agents.Register(a.ID, a)
		r.grid.UpdatePosition(a.ID, a.Pos, spatial.CategoryAgent)
		r.bus.Emit(Event{Type: "agent.spawned", Payload: map[string]string{
			"agent_id": a.ID,
			"name":     a.Name,
		}})

	case CmdKillAgent:
		p := cmd.KillAgent
		if p == nil {
			return false
		}
		a, ok := r.world.Agents.Get(p.AgentID)
		if !ok || a.Dead {
			return false
		}
		// The lifecycle system finishes the death later this same tick.
		a.Health = 0

	case CmdPing:
		payload := map[string]string{"origin": cmd.Origin}
		if cmd.Ping != nil && cmd.Ping.Nonce != "" {
			payload["nonce"] = cmd.Ping.Nonce
		}
		r.bus.Emit(Event{Type: "ping", Payload: payload})

	default:
		if r.log != nil {
			r.log.Printf("ignoring unknown command kind %q from %s", cmd.Kind, cmd.Origin)
		}
		return false
	}
	return true
}

func (r *Runner) notifyTick(snap *Snapshot) {
	r.subMu.Lock()
	subs := r.tickSubs
	r.subMu.Unlock()
	for _, s := range subs {
		s.fn(snap)
	}
}

func (r *Runner) notifyRejected(rej Rejection) {
	r.subMu.Lock()
	subs := r.rejectSubs
	r.subMu.Unlock()
	for _, s := range subs {
		s.fn(rej)
	}
}
