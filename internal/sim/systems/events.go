// Package systems holds the gameplay passes the runner executes each tick.
// Every system mutates world state directly and announces what happened on
// the event bus; nothing here talks to transports or storage.
package systems

// Event types flowing through the stack. Subscribers key on these names, so
// they are stable identifiers, not display strings. EventResourceGather is
// the one inbound type: the runner re-publishes gather commands under it and
// the resource system reacts; everything else is emitted by the stack.
const (
	EventDayStarted         = "time.day_started"
	EventNightStarted       = "time.night_started"
	EventNeedsCritical      = "needs.critical"
	EventArrived            = "movement.arrived"
	EventAnimalFled         = "animal.fled"
	EventReservationExpired = "reservation.expired"
	EventResourceGather     = "resource.gather"
	EventResourceGathered   = "resource.gathered"
	EventResourceDepleted   = "resource.depleted"
	EventEncounter          = "social.encounter"
	EventAgentDied          = "agent.died"
)

type DayStarted struct {
	Day int `json:"day"`
}

type NightStarted struct {
	Day int `json:"day"`
}

type NeedCritical struct {
	AgentID string  `json:"agent_id"`
	Need    string  `json:"need"`
	Level   float64 `json:"level"`
}

type Arrived struct {
	AgentID string  `json:"agent_id"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
}

type AnimalFled struct {
	AnimalID    string `json:"animal_id"`
	FromAgentID string `json:"from_agent_id"`
}

type ReservationExpired struct {
	NodeID  string `json:"node_id"`
	AgentID string `json:"agent_id"`
}

type ResourceGathered struct {
	NodeID  string  `json:"node_id"`
	AgentID string  `json:"agent_id"`
	Kind    string  `json:"kind"`
	Amount  float64 `json:"amount"`
}

type ResourceDepleted struct {
	NodeID string `json:"node_id"`
	Kind   string `json:"kind"`
}

type Encounter struct {
	AgentA      string  `json:"agent_a"`
	AgentB      string  `json:"agent_b"`
	Familiarity float64 `json:"familiarity"`
}

type AgentDied struct {
	AgentID string `json:"agent_id"`
	Cause   string `json:"cause"`
}
