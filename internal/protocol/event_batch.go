package protocol

import "aldea.world/internal/sim/engine"

// EVENT_BATCH_REQ (client -> server): page through the recorded event
// history. Cursors come from the server's event index and are opaque to
// clients; 0 starts from the oldest retained event.
type EventBatchReqMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
	SinceCursor     uint64 `json:"since_cursor"`
	Limit           int    `json:"limit"`
}

type EventBatchItem struct {
	Cursor uint64       `json:"cursor"`
	Event  engine.Event `json:"event"`
}

// EVENT_BATCH (server -> client)
type EventBatchMsg struct {
	Type            string           `json:"type"`
	ProtocolVersion string           `json:"protocol_version"`
	ReqID           string           `json:"req_id"`
	Events          []EventBatchItem `json:"events"`
	NextCursor      uint64           `json:"next_cursor"`
	WorldID         string           `json:"world_id,omitempty"`
}
