package protocol

import (
	"aldea.world/internal/sim/engine"
	"aldea.world/internal/sim/state"
)

// HELLO (client -> server)
type HelloMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	ClientName      string   `json:"client_name,omitempty"`
	// Subscribe filters which event types ride along on TICK pushes.
	// Empty means all.
	Subscribe []string `json:"subscribe,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	SessionID       string      `json:"session_id"`
	WorldID         string      `json:"world_id"`
	Tick            uint64      `json:"tick"`
	WorldParams     WorldParams `json:"world_params"`
}

type WorldParams struct {
	TickIntervalMs int     `json:"tick_interval_ms"`
	Width          float64 `json:"width"`
	Height         float64 `json:"height"`
	CellSize       float64 `json:"cell_size"`
	Seed           int64   `json:"seed"`
	DayLengthS     float64 `json:"day_length_s"`
}

// COMMAND (client -> server)
type CommandMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	CmdID           string         `json:"cmd_id,omitempty"`
	Command         engine.Command `json:"command"`
}

// TICK (server -> client): one push per committed tick.
type TickMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	WorldID         string         `json:"world_id"`
	Tick            uint64         `json:"tick"`
	TimeScale       float64        `json:"time_scale"`
	Clock           state.Clock    `json:"clock"`
	Digest          string         `json:"digest,omitempty"`
	Agents          int            `json:"agents"`
	Animals         int            `json:"animals"`
	Resources       int            `json:"resources"`
	Events          []engine.Event `json:"events,omitempty"`
}

// TickFromSnapshot builds the per-tick push. events is the tick's delivered
// batch, already filtered to the client's subscription.
func TickFromSnapshot(snap *engine.Snapshot, events []engine.Event) TickMsg {
	return TickMsg{
		Type:            TypeTick,
		ProtocolVersion: Version,
		WorldID:         snap.WorldID,
		Tick:            snap.Tick,
		TimeScale:       snap.TimeScale,
		Clock:           snap.Clock,
		Digest:          snap.Digest,
		Agents:          len(snap.Agents),
		Animals:         len(snap.Animals),
		Resources:       len(snap.Resources),
		Events:          events,
	}
}

// REJECTED (server -> client): the command queue refused an enqueue.
type RejectedMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	CmdID           string `json:"cmd_id,omitempty"`
	Code            string `json:"code"`
	Message         string `json:"message,omitempty"`
	QueueDepth      int    `json:"queue_depth,omitempty"`
	QueueCap        int    `json:"queue_cap,omitempty"`
}

// ERROR (server -> client): protocol-level failure, usually fatal for the
// connection.
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message,omitempty"`
}
