package engine

import "sync"

// CommandKind discriminates the Command union. Kinds outside this set are
// accepted by the queue and dropped silently at apply time, which lets
// newer clients talk to older servers without killing the loop.
type CommandKind string

const (
	CmdSetTimeScale       CommandKind = "SET_TIME_SCALE"
	CmdApplyResourceDelta CommandKind = "APPLY_RESOURCE_DELTA"
	CmdGatherResource     CommandKind = "GATHER_RESOURCE"
	CmdSpawnAgent         CommandKind = "SPAWN_AGENT"
	CmdKillAgent          CommandKind = "KILL_AGENT"
	CmdPing               CommandKind = "PING"
)

// Command is a closed tagged union: Kind selects which payload pointer is
// set, all others stay nil. The flat shape keeps wire encoding, tick logs
// and replay on a single struct.
//
// ID is minted at enqueue when the sender left it empty. Tick is filled by
// the runner with the tick the command executed on, so recorded logs replay
// against the same tick numbers.
type Command struct {
	Kind   CommandKind `json:"kind"`
	ID     string      `json:"id,omitempty"`
	Origin string      `json:"origin,omitempty"`
	Tick   uint64      `json:"tick,omitempty"`

	TimeScale     *TimeScaleCommand     `json:"time_scale,omitempty"`
	ResourceDelta *ResourceDeltaCommand `json:"resource_delta,omitempty"`
	Gather        *GatherCommand        `json:"gather,omitempty"`
	SpawnAgent    *SpawnAgentCommand    `json:"spawn_agent,omitempty"`
	KillAgent     *KillAgentCommand     `json:"kill_agent,omitempty"`
	Ping          *PingCommand          `json:"ping,omitempty"`
}

// TimeScaleCommand sets the simulation speed multiplier. Values outside
// [MinTimeScale, MaxTimeScale] are clamped, never rejected.
type TimeScaleCommand struct {
	Scale float64 `json:"scale"`
}

// ResourceDeltaCommand merges a partial map of material deltas into the
// shared stockpile. Each material is adjusted independently and floors at
// zero; materials absent from the map are untouched.
type ResourceDeltaCommand struct {
	Deltas map[string]float64 `json:"deltas"`
}

// GatherCommand asks for Amount units of a resource node on behalf of an
// agent. The runner re-publishes it as a "resource.gather" event; the
// resource system books valid requests into reservations when the tick's
// events flush.
type GatherCommand struct {
	AgentID string  `json:"agent_id"`
	NodeID  string  `json:"node_id"`
	Amount  float64 `json:"amount"`
}

// SpawnAgentCommand creates an agent at (X, Y). AgentID is minted by the
// runner when empty and echoed back through the tick log.
type SpawnAgentCommand struct {
	AgentID string  `json:"agent_id,omitempty"`
	Name    string  `json:"name"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
}

// KillAgentCommand zeroes an agent's health; the lifecycle system finishes
// the death on the same tick.
type KillAgentCommand struct {
	AgentID string `json:"agent_id"`
}

// PingCommand round-trips through the queue and surfaces as a "ping" event,
// which makes queue latency observable from outside.
type PingCommand struct {
	Nonce string `json:"nonce,omitempty"`
}

// commandQueue is a fixed-capacity FIFO ring. Push happens on transport
// goroutines, drain on the loop goroutine, so a mutex guards the ring. A
// channel cannot serve here: Push must report rejection synchronously when
// the ring is full.
type commandQueue struct {
	mu    sync.Mutex
	buf   []Command
	head  int
	count int
}

func newCommandQueue(capacity int) *commandQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &commandQueue{buf: make([]Command, capacity)}
}

// Push appends cmd and reports whether it fit. A full ring drops the new
// command, never an already queued one.
func (q *commandQueue) Push(cmd Command) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count == len(q.buf) {
		return false
	}
	q.buf[(q.head+q.count)%len(q.buf)] = cmd
	q.count++
	return true
}

// DrainInto appends every queued command to dst in FIFO order and empties
// the ring. The runner passes a reused scratch slice.
func (q *commandQueue) DrainInto(dst []Command) []Command {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := 0; i < q.count; i++ {
		idx := (q.head + i) % len(q.buf)
		dst = append(dst, q.buf[idx])
		q.buf[idx] = Command{}
	}
	q.head = 0
	q.count = 0
	return dst
}

func (q *commandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

func (q *commandQueue) Cap() int { return len(q.buf) }
